package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agency-dashboard/internal/dashboard"
	"agency-dashboard/internal/render"
	"agency-dashboard/internal/utils"
)

const (
	processingText = "Processing command..."
	maxLogEntries  = 200
	logPanelHeight = 6
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	footerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")).Padding(0, 1)
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	logStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	sectionStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	inputBackground = lipgloss.AdaptiveColor{Light: "252", Dark: "236"}
	inputBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Background(inputBackground)
)

// Options configures the terminal UI.
type Options struct {
	// ErrorDisplay is how long an error stays on screen before it is cleared.
	ErrorDisplay time.Duration
	AltScreen    bool
	BackendURL   string
	PushURL      string
	PushEnabled  bool
}

type model struct {
	svc    *dashboard.Service
	opts   Options
	logger *utils.Logger
	feed   *stateFeed
	ctx    context.Context

	width  int
	height int

	state    dashboard.State
	errSeq   int
	notice   string
	quitting bool

	input          textinput.Model
	results        viewport.Model
	resultCount    int
	spinner        spinner.Model
	keys           keyMap
	help           help.Model
	showHelp       bool
	showLogs       bool
	logs           []logEntry
	logViewport    viewport.Model
	commandHistory []string
	historyIndex   int
	lastUpdated    time.Time
}

type stateMsg struct{ state dashboard.State }

type startedMsg struct{ err error }

type commandDoneMsg struct {
	command string
	err     error
}

type sentMsg struct{ err error }

type refreshedMsg struct{ err error }

type taskResultsMsg struct {
	taskID string
	err    error
}

type uploadedMsg struct {
	path string
	url  string
	err  error
}

type exportedMsg struct {
	path  string
	count int
	err   error
}

type clearErrorMsg struct{ seq int }

// Run drives svc from a full-screen terminal UI until the user quits. The
// service is closed on return.
func Run(ctx context.Context, svc *dashboard.Service, opts Options, logger *utils.Logger) error {
	m := newModel(ctx, svc, opts, logger)
	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.AltScreen {
		programOpts = append(programOpts, tea.WithAltScreen())
	}
	p := tea.NewProgram(m, programOpts...)
	_, err := p.Run()
	m.feed.close()
	if cerr := svc.Close(); cerr != nil {
		logger.Warnf("close dashboard: %v", cerr)
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(ctx context.Context, svc *dashboard.Service, opts Options, logger *utils.Logger) model {
	if opts.ErrorDisplay <= 0 {
		opts.ErrorDisplay = 4 * time.Second
	}
	input := textinput.New()
	input.Placeholder = "Enter a command for the agents, or /help"
	input.Prompt = "› "
	input.Focus()
	input.CharLimit = 2000
	input.TextStyle = input.TextStyle.Background(inputBackground)
	input.PlaceholderStyle = input.PlaceholderStyle.Background(inputBackground)

	spin := spinner.New()
	spin.Spinner = spinner.Line
	spin.Style = dimStyle

	feed := newStateFeed()
	feed.attach(svc)

	return model{
		svc:         svc,
		opts:        opts,
		logger:      logger,
		feed:        feed,
		ctx:         ctx,
		state:       svc.Snapshot(),
		input:       input,
		results:     viewport.New(80, 10),
		spinner:     spin,
		keys:        defaultKeyMap,
		help:        help.New(),
		logViewport: viewport.New(80, logPanelHeight),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(startCmd(m.ctx, m.svc), m.feed.next(), m.spinner.Tick, textinput.Blink)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil
	case stateMsg:
		cmds = append(cmds, m.applyState(msg.state), m.feed.next())
		return m, tea.Batch(cmds...)
	case startedMsg:
		if msg.err != nil {
			m.addLog("error", "startup: "+msg.err.Error())
		} else {
			m.addLog("info", fmt.Sprintf("connected, %d agents", len(m.svc.Snapshot().Agents)))
		}
		return m, nil
	case commandDoneMsg:
		if msg.err != nil {
			m.addLog("error", fmt.Sprintf("command %q: %v", msg.command, msg.err))
		} else {
			m.addLog("info", fmt.Sprintf("command %q done", msg.command))
		}
		return m, nil
	case sentMsg:
		if msg.err != nil {
			m.addLog("warn", "push send: "+msg.err.Error())
		}
		return m, nil
	case refreshedMsg:
		if msg.err == nil {
			m.addLog("info", "agents refreshed")
		}
		return m, nil
	case taskResultsMsg:
		if msg.err != nil {
			m.addLog("error", fmt.Sprintf("results %s: %v", msg.taskID, msg.err))
		} else {
			m.addLog("info", "loaded results for "+msg.taskID)
		}
		return m, nil
	case uploadedMsg:
		if msg.err != nil {
			m.addLog("error", fmt.Sprintf("upload %s: %v", msg.path, msg.err))
			return m, nil
		}
		m.notice = "Uploaded " + msg.path + " → " + msg.url
		m.addLog("info", m.notice)
		return m, nil
	case exportedMsg:
		if msg.err != nil {
			m.notice = "Export failed: " + msg.err.Error()
			m.addLog("error", m.notice)
			return m, nil
		}
		m.notice = fmt.Sprintf("Exported %d results to %s", msg.count, msg.path)
		m.addLog("info", m.notice)
		return m, nil
	case clearErrorMsg:
		if msg.seq == m.errSeq && m.state.Error != "" {
			m.svc.ClearError()
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.layout()
		return m, nil
	case key.Matches(msg, m.keys.Logs):
		m.showLogs = !m.showLogs
		m.layout()
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, refreshCmd(m.ctx, m.svc)
	case key.Matches(msg, m.keys.ClearResults):
		m.svc.ClearResults()
		return m, nil
	case key.Matches(msg, m.keys.ScrollUp):
		m.results.SetYOffset(m.results.YOffset - max(m.results.Height/2, 1))
		return m, nil
	case key.Matches(msg, m.keys.ScrollDown):
		m.results.SetYOffset(m.results.YOffset + max(m.results.Height/2, 1))
		return m, nil
	case key.Matches(msg, m.keys.HistoryUp):
		m.navigateHistory(-1)
		return m, nil
	case key.Matches(msg, m.keys.HistoryDown):
		m.navigateHistory(1)
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.SetValue("")
		m.appendCommandHistory(text)
		m.notice = ""
		if strings.HasPrefix(text, "/") {
			return m, m.applyCommand(text)
		}
		m.addLog("info", "submit: "+text)
		return m, tea.Batch(submitCmd(m.ctx, m.svc, text), sendMessageCmd(m.svc, text))
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applyState adopts a service snapshot. A new error text starts its
// display timer.
func (m *model) applyState(st dashboard.State) tea.Cmd {
	prevErr := m.state.Error
	m.state = st
	m.lastUpdated = time.Now()
	if len(st.Results) != m.resultCount {
		grew := len(st.Results) > m.resultCount
		m.resultCount = len(st.Results)
		m.syncResults()
		if grew {
			m.results.GotoBottom()
		}
	}
	m.layout()
	if st.Error == "" || st.Error == prevErr {
		return nil
	}
	m.errSeq++
	m.addLog("error", st.Error)
	seq := m.errSeq
	return tea.Tick(m.opts.ErrorDisplay, func(time.Time) tea.Msg {
		return clearErrorMsg{seq: seq}
	})
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	width := m.contentWidth()
	sections := []string{
		headerStyle.Render("Agency Dashboard"),
		m.renderStatusBar(),
	}
	if m.state.Error != "" {
		sections = append(sections, errStyle.Render(m.state.Error))
	}
	if m.notice != "" {
		sections = append(sections, noticeStyle.Render(m.notice))
	}
	sections = append(sections,
		"",
		sectionStyle.Render("Agents"),
		render.AgentGrid(m.state.Agents, width),
		"",
		sectionStyle.Render("Results"),
		m.results.View(),
		inputBoxStyle.Width(max(width-2, 10)).Render(m.input.View()),
	)
	if m.showHelp {
		sections = append(sections, m.help.FullHelpView(m.keys.FullHelp()))
	} else {
		sections = append(sections, footerStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	}
	if m.showLogs {
		sections = append(sections, m.renderLogPanel())
	}
	return strings.Join(sections, "\n")
}

func (m model) renderStatusBar() string {
	parts := []string{}
	if m.state.Loading {
		parts = append(parts, m.spinner.View()+" "+processingText)
	}
	parts = append(parts, fmt.Sprintf("agents %d", len(m.state.Agents)))
	parts = append(parts, fmt.Sprintf("results %d", len(m.state.Results)))
	if m.opts.BackendURL != "" {
		parts = append(parts, m.opts.BackendURL)
	}
	if !m.opts.PushEnabled {
		parts = append(parts, "push off")
	}
	if !m.lastUpdated.IsZero() {
		parts = append(parts, "updated "+m.lastUpdated.Format("15:04:05"))
	}
	return dimStyle.Render(strings.Join(parts, "  "))
}

func (m model) contentWidth() int {
	if m.width <= 0 {
		return 80
	}
	return m.width
}

// layout sizes the results viewport to whatever the fixed sections leave.
func (m *model) layout() {
	width := m.contentWidth()
	m.input.Width = max(width-8, 10)
	m.results.Width = width
	m.logViewport.Width = width

	if m.height <= 0 {
		m.results.Height = 10
		m.syncResults()
		return
	}
	used := 2 + 1 + 1 + 1 + 1 + 3 + 1
	if m.state.Error != "" {
		used++
	}
	if m.notice != "" {
		used++
	}
	used += lipgloss.Height(render.AgentGrid(m.state.Agents, width))
	if m.showHelp {
		used += lipgloss.Height(m.help.FullHelpView(m.keys.FullHelp())) - 1
	}
	if m.showLogs {
		used += logPanelHeight + 1
	}
	m.results.Height = max(m.height-used, 3)
	m.syncResults()
}

func (m *model) syncResults() {
	m.results.SetContent(render.Results(m.state.Results, m.results.Width))
}

type logEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// addLog records message in the on-screen log panel and the file logger.
func (m *model) addLog(level, message string) {
	entry := logEntry{Time: time.Now().UTC(), Level: level, Message: message}
	m.logs = append(m.logs, entry)
	if len(m.logs) > maxLogEntries {
		m.logs = m.logs[len(m.logs)-maxLogEntries:]
	}
	switch level {
	case "error":
		m.logger.Errorf("%s", message)
	case "warn":
		m.logger.Warnf("%s", message)
	default:
		m.logger.Infof("%s", message)
	}
	lines := make([]string, 0, len(m.logs))
	for _, e := range m.logs {
		lines = append(lines, fmt.Sprintf("%s %-5s  %s", e.Time.Format("15:04:05"), strings.ToUpper(e.Level), e.Message))
	}
	m.logViewport.SetContent(strings.Join(lines, "\n"))
	m.logViewport.GotoBottom()
}

func (m model) renderLogPanel() string {
	if len(m.logs) == 0 {
		return logStyle.Render("No logs yet.")
	}
	header := dimStyle.Render("Logs")
	return logStyle.Render(strings.Join([]string{header, m.logViewport.View()}, "\n"))
}
