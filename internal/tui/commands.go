package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"agency-dashboard/internal/dashboard"
	"agency-dashboard/internal/render"
	"agency-dashboard/internal/utils"
)

type commandSpec struct {
	Name  string
	Usage string
	Help  string
}

var slashCommands = []commandSpec{
	{Name: "clear", Usage: "/clear", Help: "clear results"},
	{Name: "refresh", Usage: "/refresh", Help: "reload the agent list"},
	{Name: "results", Usage: "/results <taskId>", Help: "load a task's results"},
	{Name: "upload", Usage: "/upload <path>", Help: "upload a file to the backend"},
	{Name: "export", Usage: "/export <path>", Help: "save results as HTML"},
	{Name: "logs", Usage: "/logs", Help: "toggle the log panel"},
	{Name: "help", Usage: "/help", Help: "list commands"},
	{Name: "quit", Usage: "/quit", Help: "leave the dashboard"},
}

func (m *model) applyCommand(input string) tea.Cmd {
	parts := splitArgs(strings.TrimSpace(input))
	if len(parts) == 0 {
		return nil
	}
	command := strings.ToLower(strings.TrimLeft(parts[0], "/:"))
	if command == "q" {
		command = "quit"
	}
	switch command {
	case "clear":
		m.svc.ClearResults()
		return nil
	case "refresh":
		return refreshCmd(m.ctx, m.svc)
	case "results":
		if len(parts) < 2 {
			m.notice = "Usage: /results <taskId>"
			return nil
		}
		return taskResultsCmd(m.ctx, m.svc, parts[1])
	case "upload":
		if len(parts) < 2 {
			m.notice = "Usage: /upload <path>"
			return nil
		}
		return uploadCmd(m.ctx, m.svc, parts[1])
	case "export":
		if len(parts) < 2 {
			m.notice = "Usage: /export <path>"
			return nil
		}
		return exportCmd(parts[1], m.svc.Snapshot())
	case "logs":
		m.showLogs = !m.showLogs
		m.layout()
		return nil
	case "help":
		lines := make([]string, 0, len(slashCommands))
		for _, spec := range slashCommands {
			lines = append(lines, fmt.Sprintf("%s  %s", spec.Usage, spec.Help))
		}
		m.notice = strings.Join(lines, " · ")
		return nil
	case "quit", "exit":
		m.quitting = true
		return tea.Quit
	default:
		m.notice = "Unknown command: /" + command
		return nil
	}
}

func (m *model) appendCommandHistory(cmd string) {
	if cmd == "" {
		return
	}
	if len(m.commandHistory) > 0 && m.commandHistory[len(m.commandHistory)-1] == cmd {
		m.historyIndex = len(m.commandHistory)
		return
	}
	m.commandHistory = append(m.commandHistory, cmd)
	m.historyIndex = len(m.commandHistory)
}

func (m *model) navigateHistory(delta int) {
	if len(m.commandHistory) == 0 {
		return
	}
	next := min(max(m.historyIndex+delta, 0), len(m.commandHistory))
	m.historyIndex = next
	if next == len(m.commandHistory) {
		m.input.SetValue("")
	} else {
		m.input.SetValue(m.commandHistory[next])
	}
	m.input.CursorEnd()
}

func splitArgs(input string) []string {
	var args []string
	var buf strings.Builder
	var quote rune
	escaped := false
	for _, r := range input {
		switch {
		case escaped:
			buf.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				buf.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
		case r == ' ' || r == '\t':
			if buf.Len() > 0 {
				args = append(args, buf.String())
				buf.Reset()
			}
		default:
			buf.WriteRune(r)
		}
	}
	if buf.Len() > 0 {
		args = append(args, buf.String())
	}
	return args
}

func startCmd(ctx context.Context, svc *dashboard.Service) tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: svc.Start(ctx)}
	}
}

func submitCmd(ctx context.Context, svc *dashboard.Service, command string) tea.Cmd {
	return func() tea.Msg {
		return commandDoneMsg{command: command, err: svc.SubmitCommand(ctx, command)}
	}
}

func sendMessageCmd(svc *dashboard.Service, command string) tea.Cmd {
	return func() tea.Msg {
		err := svc.SendMessage(command)
		if errors.Is(err, dashboard.ErrNoChannel) {
			err = nil
		}
		return sentMsg{err: err}
	}
}

func refreshCmd(ctx context.Context, svc *dashboard.Service) tea.Cmd {
	return func() tea.Msg {
		return refreshedMsg{err: svc.RefreshAgents(ctx)}
	}
}

func taskResultsCmd(ctx context.Context, svc *dashboard.Service, taskID string) tea.Cmd {
	return func() tea.Msg {
		return taskResultsMsg{taskID: taskID, err: svc.LoadTaskResults(ctx, taskID)}
	}
}

func uploadCmd(ctx context.Context, svc *dashboard.Service, path string) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return uploadedMsg{path: path, err: err}
		}
		defer f.Close()
		url, err := svc.UploadFile(ctx, filepath.Base(path), f)
		return uploadedMsg{path: path, url: url, err: err}
	}
}

func exportCmd(path string, st dashboard.State) tea.Cmd {
	return func() tea.Msg {
		page, err := render.ExportHTML("Agency session", st.Results, time.Now())
		if err == nil {
			err = utils.WriteFileAtomic(path, page, 0o644)
		}
		return exportedMsg{path: path, count: len(st.Results), err: err}
	}
}

// stateFeed hands service snapshots to the program. Only the newest
// undelivered snapshot is kept. close releases a pending next.
type stateFeed struct {
	mu   sync.Mutex
	ch   chan dashboard.State
	done chan struct{}
	once sync.Once
	stop func()
}

func newStateFeed() *stateFeed {
	return &stateFeed{ch: make(chan dashboard.State, 1), done: make(chan struct{})}
}

// attach subscribes the feed to svc until close.
func (f *stateFeed) attach(svc *dashboard.Service) {
	f.stop = svc.OnChange(f.publish)
}

func (f *stateFeed) publish(st dashboard.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		select {
		case <-f.done:
			return
		case f.ch <- st:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

func (f *stateFeed) close() {
	f.once.Do(func() {
		if f.stop != nil {
			f.stop()
		}
		close(f.done)
	})
}

func (f *stateFeed) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-f.done:
			return nil
		default:
		}
		select {
		case st := <-f.ch:
			return stateMsg{state: st}
		case <-f.done:
			return nil
		}
	}
}
