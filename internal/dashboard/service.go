// Package dashboard owns the dashboard's view state: the agent roster, the
// accumulated results, a loading flag and the single user-visible error.
// It drives the REST backend and the push channel and publishes snapshots
// to whichever interface is attached.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"agency-dashboard/internal/push"
	"agency-dashboard/internal/types"
	"agency-dashboard/internal/utils"
)

// User-visible error texts.
const (
	MsgFetchAgentsFailed    = "Failed to fetch agents"
	MsgExecuteCommandFailed = "Failed to execute command"
	MsgFetchResultsFailed   = "Failed to fetch results"
	MsgUploadFailed         = "Failed to upload file"
	MsgUnknownError         = "Unknown error occurred"
)

var (
	ErrClosed       = errors.New("dashboard closed")
	ErrEmptyCommand = errors.New("empty command")
	ErrNoChannel    = errors.New("push channel not connected")
)

// Backend is the request/response side of the agency backend.
type Backend interface {
	ListAgents(ctx context.Context) ([]types.Agent, error)
	SubmitCommand(ctx context.Context, command string) (types.CommandResponse, error)
	FetchResults(ctx context.Context, taskID string) ([]types.Result, error)
	UploadFile(ctx context.Context, name string, r io.Reader) (string, error)
}

// Channel is the push side. *push.Channel satisfies it.
type Channel interface {
	On(event string, fn push.Handler) func()
	Send(payload string) error
	Disconnect() error
}

// State is the snapshot handed to interfaces. Error is empty when there is
// nothing to show.
type State struct {
	Agents  []types.Agent
	Results []types.Result
	Loading bool
	Error   string
}

// Clone returns a copy sharing no slices with s.
func (s State) Clone() State {
	out := s
	if s.Agents != nil {
		out.Agents = make([]types.Agent, len(s.Agents))
		for i, a := range s.Agents {
			out.Agents[i] = a.Clone()
		}
	}
	if s.Results != nil {
		out.Results = append([]types.Result(nil), s.Results...)
	}
	return out
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for push and request diagnostics.
func WithLogger(logger *utils.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

type listener struct {
	fn func(State)
}

// Service is created, started once, and closed when the interface goes
// away. It takes ownership of the channel it is given.
type Service struct {
	backend Backend
	channel Channel
	logger  *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	pending   int
	started   bool
	closed    bool
	unsubs    []func()
	listeners []*listener

	closeOnce sync.Once
	closeErr  error
}

// New builds a service. channel may be nil when push is disabled.
func New(backend Backend, channel Channel, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		backend: backend,
		channel: channel,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = utils.NewLogger("error")
	}
	return s
}

// Start subscribes to push events and loads the agent roster. The returned
// error mirrors the fetch failure already recorded in the state.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.channel != nil {
		unsubs := []func(){
			s.channel.On(types.EventAgentStatus, s.handleAgentStatus),
			s.channel.On(types.EventTaskProgress, s.handleTaskProgress),
			s.channel.On(types.EventCommandResult, s.handleCommandResult),
			s.channel.On(types.EventErrorEvent, s.handleErrorEvent),
		}
		s.mu.Lock()
		closed := s.closed
		if !closed {
			s.unsubs = append(s.unsubs, unsubs...)
		}
		s.mu.Unlock()
		if closed {
			for _, u := range unsubs {
				u()
			}
			return ErrClosed
		}
	}
	return s.RefreshAgents(ctx)
}

// RefreshAgents replaces the roster with the backend's current list.
func (s *Service) RefreshAgents(ctx context.Context) error {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	agents, err := s.backend.ListAgents(ctx)
	s.update(func(st *State) {
		s.endLoading(st)
		if err != nil {
			st.Error = MsgFetchAgentsFailed
			return
		}
		st.Agents = agents
	})
	if err != nil {
		s.logger.Warnf("fetch agents: %v", err)
		return fmt.Errorf("fetch agents: %w", err)
	}
	return nil
}

// SubmitCommand runs command on the backend and appends its results.
func (s *Service) SubmitCommand(ctx context.Context, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return ErrEmptyCommand
	}
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	resp, err := s.backend.SubmitCommand(ctx, command)
	s.update(func(st *State) {
		s.endLoading(st)
		if err != nil {
			st.Error = MsgExecuteCommandFailed
			return
		}
		st.Results = append(st.Results, resp.Results...)
		if resp.Error != "" {
			st.Error = resp.Error
		}
	})
	if err != nil {
		s.logger.Warnf("execute command %q: %v", command, err)
		return fmt.Errorf("execute command: %w", err)
	}
	s.logger.Debugf("command %q returned %d results", command, len(resp.Results))
	return nil
}

// SendMessage forwards command over the push channel unchanged.
func (s *Service) SendMessage(command string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.channel == nil {
		return ErrNoChannel
	}
	return s.channel.Send(command)
}

// LoadTaskResults appends the stored results of a finished task.
func (s *Service) LoadTaskResults(ctx context.Context, taskID string) error {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	results, err := s.backend.FetchResults(ctx, taskID)
	s.update(func(st *State) {
		s.endLoading(st)
		if err != nil {
			st.Error = MsgFetchResultsFailed
			return
		}
		st.Results = append(st.Results, results...)
	})
	if err != nil {
		s.logger.Warnf("fetch results for %s: %v", taskID, err)
		return fmt.Errorf("fetch results: %w", err)
	}
	return nil
}

// UploadFile sends r to the backend and returns the stored file's URL.
func (s *Service) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	url, err := s.backend.UploadFile(ctx, name, r)
	s.update(func(st *State) {
		s.endLoading(st)
		if err != nil {
			st.Error = MsgUploadFailed
		}
	})
	if err != nil {
		s.logger.Warnf("upload %s: %v", name, err)
		return "", fmt.Errorf("upload file: %w", err)
	}
	return url, nil
}

// ClearResults empties the result list.
func (s *Service) ClearResults() {
	s.update(func(st *State) { st.Results = nil })
}

// ClearError drops the visible error, typically once it has been shown.
func (s *Service) ClearError() {
	s.update(func(st *State) { st.Error = "" })
}

// OnChange registers fn to receive a snapshot after every state change.
func (s *Service) OnChange(fn func(State)) func() {
	l := &listener{fn: fn}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cur := range s.listeners {
			if cur == l {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Close cancels in-flight requests, drops push subscriptions and
// disconnects the channel. Later calls return the first call's result.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		unsubs := s.unsubs
		s.unsubs = nil
		s.listeners = nil
		s.mu.Unlock()

		s.cancel()
		for _, u := range unsubs {
			u()
		}
		if s.channel != nil {
			s.closeErr = s.channel.Disconnect()
		}
	})
	return s.closeErr
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// begin marks an operation as loading and returns a context that ends
// with either ctx or the service.
func (s *Service) begin(ctx context.Context) (context.Context, func(), error) {
	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	ok := s.update(func(st *State) {
		s.pending++
		st.Loading = true
	})
	if !ok {
		stop()
		cancel()
		return nil, nil, ErrClosed
	}
	return reqCtx, func() {
		stop()
		cancel()
	}, nil
}

func (s *Service) endLoading(st *State) {
	if s.pending > 0 {
		s.pending--
	}
	st.Loading = s.pending > 0
}

// update applies fn under the lock and notifies listeners. It does nothing
// once the service is closed.
func (s *Service) update(fn func(*State)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	fn(&s.state)
	snap := s.state.Clone()
	listeners := append([]*listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(snap)
	}
	return true
}

func (s *Service) handleAgentStatus(ev push.Event) {
	msg, ok := ev.Message()
	if !ok {
		s.logger.Debugf("agent_status: undecodable payload")
		return
	}
	update, ok := msg.Agent()
	if !ok {
		s.logger.Debugf("agent_status without name/status dropped")
		return
	}
	s.update(func(st *State) {
		for i := range st.Agents {
			if st.Agents[i].Name == update.Name {
				st.Agents[i] = update.Clone()
			}
		}
	})
}

func (s *Service) handleTaskProgress(ev push.Event) {
	msg, ok := ev.Message()
	if !ok {
		return
	}
	name := msg.Field("name")
	task, hasTask := msg.Data["currentTask"]
	if name == "" || !hasTask {
		return
	}
	s.update(func(st *State) {
		for i := range st.Agents {
			if st.Agents[i].Name == name {
				st.Agents[i].CurrentTask = task
			}
		}
	})
}

func (s *Service) handleCommandResult(ev push.Event) {
	msg, ok := ev.Message()
	if !ok {
		return
	}
	result, ok := msg.Result()
	if !ok {
		s.logger.Debugf("command_result without type/content dropped")
		return
	}
	s.update(func(st *State) {
		st.Results = append(st.Results, result)
	})
}

func (s *Service) handleErrorEvent(ev push.Event) {
	msg, ok := ev.Message()
	if !ok || msg.Data == nil {
		s.logger.Debugf("error_event without data dropped")
		return
	}
	text := msg.Field("message")
	if text == "" {
		text = MsgUnknownError
	}
	s.update(func(st *State) { st.Error = text })
}
