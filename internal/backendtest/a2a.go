package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
)

// A2AAgent is an in-process agent speaking A2A JSON-RPC at /a2a with its
// card at /.well-known/agent.json.
type A2AAgent struct {
	*httptest.Server

	name   string
	skills []string
	store  *taskStore

	mu       sync.Mutex
	reply    func(text string) (string, error)
	messages []string
}

// NewA2A starts an agent that answers every message with "echo: <text>"
// until Reply installs another answer.
func NewA2A(t testing.TB, name string, skills ...string) *A2AAgent {
	t.Helper()
	a := &A2AAgent{
		name:   name,
		skills: skills,
		store:  newTaskStore(),
		reply:  func(text string) (string, error) { return "echo: " + text, nil },
	}
	handler := a2asrv.NewHandler(&agentExecutor{agent: a}, a2asrv.WithTaskStore(a.store))

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent.json", a.handleCard)
	mux.Handle("/a2a", a2asrv.NewJSONRPCHandler(handler))
	a.Server = httptest.NewServer(mux)
	t.Cleanup(a.Close)
	return a
}

// Reply sets how the agent answers; a non-nil error fails the task.
func (a *A2AAgent) Reply(fn func(text string) (string, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reply = fn
}

// Messages lists the text of every user message received.
func (a *A2AAgent) Messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

func (a *A2AAgent) Card() *sdka2a.AgentCard {
	a2aURL := strings.TrimRight(a.URL, "/") + "/a2a"
	skills := make([]sdka2a.AgentSkill, 0, len(a.skills))
	for _, s := range a.skills {
		skills = append(skills, sdka2a.AgentSkill{
			ID:          s,
			Name:        s,
			Description: s + " skill",
			Tags:        []string{"agent"},
			InputModes:  []string{"text/plain"},
			OutputModes: []string{"text/plain"},
		})
	}
	return &sdka2a.AgentCard{
		Name:               a.name,
		Description:        a.name + " test agent",
		URL:                a2aURL,
		Version:            "1.0.0",
		ProtocolVersion:    "1.0",
		PreferredTransport: sdka2a.TransportProtocolJSONRPC,
		AdditionalInterfaces: []sdka2a.AgentInterface{
			{URL: a2aURL, Transport: sdka2a.TransportProtocolJSONRPC},
		},
		Capabilities:       sdka2a.AgentCapabilities{StateTransitionHistory: true},
		Skills:             skills,
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
	}
}

func (a *A2AAgent) handleCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.Card())
}

type agentExecutor struct {
	agent *A2AAgent
}

func (e *agentExecutor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	text := messageText(reqCtx.Message)
	e.agent.mu.Lock()
	e.agent.messages = append(e.agent.messages, text)
	reply := e.agent.reply
	e.agent.mu.Unlock()

	if reqCtx.StoredTask == nil {
		event := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateSubmitted, nil)
		if err := queue.Write(ctx, event); err != nil {
			return fmt.Errorf("failed to write state submitted: %w", err)
		}
	}
	event := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateWorking, nil)
	if err := queue.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write state working: %w", err)
	}

	answer, err := reply(text)
	if err != nil {
		return writeFailure(ctx, reqCtx, queue, err.Error())
	}
	msg := sdka2a.NewMessage(sdka2a.MessageRoleAgent, &sdka2a.TextPart{Text: answer})
	final := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateCompleted, msg)
	final.Final = true
	if err := queue.Write(ctx, final); err != nil {
		return fmt.Errorf("failed to write state completed: %w", err)
	}
	return nil
}

func (e *agentExecutor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	event := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateCanceled, nil)
	event.Final = true
	if err := queue.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write state canceled: %w", err)
	}
	return nil
}

func writeFailure(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue, errMsg string) error {
	msg := sdka2a.NewMessage(sdka2a.MessageRoleAgent, &sdka2a.TextPart{Text: errMsg})
	msg.TaskID = reqCtx.TaskID
	msg.ContextID = reqCtx.ContextID
	msg.Metadata = map[string]any{
		"error":     true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	event := sdka2a.NewStatusUpdateEvent(reqCtx, sdka2a.TaskStateFailed, msg)
	event.Final = true
	if err := queue.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write failure event: %w", err)
	}
	return nil
}

func messageText(msg *sdka2a.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case *sdka2a.TextPart:
			b.WriteString(p.Text)
		case sdka2a.TextPart:
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// taskStore keeps tasks in memory for the agent's handler.
type taskStore struct {
	mu    sync.Mutex
	tasks map[sdka2a.TaskID]*sdka2a.Task
}

func newTaskStore() *taskStore {
	return &taskStore{tasks: make(map[sdka2a.TaskID]*sdka2a.Task)}
}

func (s *taskStore) Save(ctx context.Context, task *sdka2a.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *task
	s.tasks[task.ID] = &copied
	return nil
}

func (s *taskStore) Get(ctx context.Context, taskID sdka2a.TaskID) (*sdka2a.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, sdka2a.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}
