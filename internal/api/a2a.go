package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"

	"agency-dashboard/internal/types"
	"agency-dashboard/internal/utils"
)

// A2AClient serves the dashboard from a single A2A agent endpoint instead of
// the REST API. The agent card is fetched lazily on first use.
type A2AClient struct {
	cardURL string
	http    *http.Client

	mu     sync.Mutex
	card   *sdka2a.AgentCard
	client *a2aclient.Client
}

func NewA2AClient(cardURL string, hc *http.Client) *A2AClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &A2AClient{cardURL: cardURL, http: hc}
}

func (a *A2AClient) connect(ctx context.Context) (*a2aclient.Client, *sdka2a.AgentCard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, a.card, nil
	}
	card, err := fetchAgentCard(ctx, a.http, a.cardURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create client: %w", ErrRequestFailed, err)
	}
	a.card = card
	a.client = client
	return client, card, nil
}

// ListAgents reports the remote agent as the only agent; its skills are
// listed as tools.
func (a *A2AClient) ListAgents(ctx context.Context) ([]types.Agent, error) {
	_, card, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	agent := types.Agent{
		ID:         sanitizeID(card.Name),
		Name:       card.Name,
		Status:     types.AgentStatusIdle,
		LastAction: card.Description,
	}
	for _, skill := range card.Skills {
		agent.Tools = append(agent.Tools, skill.Name)
	}
	return []types.Agent{agent}, nil
}

func (a *A2AClient) SubmitCommand(ctx context.Context, command string) (types.CommandResponse, error) {
	client, _, err := a.connect(ctx)
	if err != nil {
		return types.CommandResponse{}, err
	}
	msg := &sdka2a.Message{
		ID:    utils.NewID("msg"),
		Role:  sdka2a.MessageRoleUser,
		Parts: sdka2a.ContentParts{&sdka2a.TextPart{Text: command}},
	}
	result, err := client.SendMessage(ctx, &sdka2a.MessageSendParams{Message: msg})
	if err != nil {
		return types.CommandResponse{}, fmt.Errorf("%w: send message: %w", ErrRequestFailed, err)
	}
	switch r := result.(type) {
	case *sdka2a.Message:
		return types.CommandResponse{Results: resultsFromParts(r.Parts)}, nil
	case *sdka2a.Task:
		return responseFromTask(r), nil
	default:
		return types.CommandResponse{}, fmt.Errorf("%w: unexpected result type %T", ErrRequestFailed, result)
	}
}

func (a *A2AClient) FetchResults(ctx context.Context, taskID string) ([]types.Result, error) {
	client, _, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	task, err := client.GetTask(ctx, &sdka2a.TaskQueryParams{ID: sdka2a.TaskID(taskID)})
	if err != nil {
		return nil, fmt.Errorf("%w: get task: %w", ErrRequestFailed, err)
	}
	return responseFromTask(task).Results, nil
}

func (a *A2AClient) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	return "", fmt.Errorf("upload %s: %w", name, ErrUnsupported)
}

func (a *A2AClient) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Destroy()
	a.client = nil
	return err
}

func responseFromTask(task *sdka2a.Task) types.CommandResponse {
	var resp types.CommandResponse
	if task == nil {
		return resp
	}
	if task.Status.Message != nil {
		resp.Results = append(resp.Results, resultsFromParts(task.Status.Message.Parts)...)
	}
	for _, art := range task.Artifacts {
		if art != nil {
			resp.Results = append(resp.Results, resultsFromParts(art.Parts)...)
		}
	}
	switch task.Status.State {
	case sdka2a.TaskStateFailed, sdka2a.TaskStateRejected, sdka2a.TaskStateCanceled:
		resp.Error = fmt.Sprintf("task %s %s", task.ID, task.Status.State)
	}
	return resp
}

func resultsFromParts(parts sdka2a.ContentParts) []types.Result {
	results := make([]types.Result, 0, len(parts))
	for _, p := range parts {
		switch pt := p.(type) {
		case *sdka2a.TextPart:
			results = append(results, types.Result{Type: types.ResultText, Content: pt.Text})
		case sdka2a.TextPart:
			results = append(results, types.Result{Type: types.ResultText, Content: pt.Text})
		case *sdka2a.FilePart:
			if res, ok := resultFromFile(pt.File); ok {
				results = append(results, res)
			}
		case sdka2a.FilePart:
			if res, ok := resultFromFile(pt.File); ok {
				results = append(results, res)
			}
		case *sdka2a.DataPart:
			results = append(results, dataResult(pt.Data))
		case sdka2a.DataPart:
			results = append(results, dataResult(pt.Data))
		}
	}
	return results
}

func resultFromFile(content sdka2a.FilePartContent) (types.Result, bool) {
	var meta sdka2a.FileMeta
	var uri string
	switch fc := content.(type) {
	case *sdka2a.FileURI:
		meta, uri = fc.FileMeta, fc.URI
	case sdka2a.FileURI:
		meta, uri = fc.FileMeta, fc.URI
	default:
		// Inline bytes have no URL to show.
		return types.Result{}, false
	}
	if strings.HasPrefix(meta.MimeType, "image/") {
		return types.Result{Type: types.ResultImage, Content: uri, Alt: meta.Name}, true
	}
	return types.Result{Type: types.ResultText, Content: uri}, true
}

func dataResult(data any) types.Result {
	encoded, err := json.Marshal(data)
	if err != nil {
		return types.Result{Type: types.ResultText, Content: fmt.Sprint(data)}
	}
	return types.Result{Type: types.ResultText, Content: string(encoded)}
}

func fetchAgentCard(ctx context.Context, hc *http.Client, url string) (*sdka2a.AgentCard, error) {
	if !strings.HasSuffix(url, ".json") && !strings.Contains(url, "/.well-known/") {
		url = strings.TrimRight(url, "/") + "/.well-known/agent.json"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch agent card: status %d", resp.StatusCode)
	}
	var card sdka2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	return &card, nil
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizeID(name string) string {
	id := nonIDChars.ReplaceAllString(strings.ToLower(name), "-")
	id = strings.Trim(id, "-")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}
