// Package render maps dashboard data to terminal text. Every function is
// pure: same input, same output.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/microcosm-cc/bluemonday"

	"agency-dashboard/internal/types"
)

const (
	NoResults       = "No results to display"
	DefaultImageAlt = "Result image"
	ErrorDetected   = "Error detected"
)

var statusColors = map[types.AgentStatus]lipgloss.Color{
	types.AgentStatusActive: lipgloss.Color("42"),
	types.AgentStatusIdle:   lipgloss.Color("245"),
	types.AgentStatusBusy:   lipgloss.Color("33"),
	types.AgentStatusError:  lipgloss.Color("160"),
}

var statusLabels = map[types.AgentStatus]string{
	types.AgentStatusActive: "Active",
	types.AgentStatusIdle:   "Idle",
	types.AgentStatusBusy:   "Busy",
	types.AgentStatusError:  "Error",
}

var (
	nameStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("237")).Padding(0, 1)
	cardStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	resultStyle = lipgloss.NewStyle().BorderLeft(true).BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).PaddingLeft(1)
	imageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
)

var textPolicy = bluemonday.StrictPolicy()

// StatusColor returns the badge color for s; unknown statuses render gray.
func StatusColor(s types.AgentStatus) lipgloss.Color {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return statusColors[types.AgentStatusIdle]
}

func StatusLabel(s types.AgentStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

func StatusBadge(s types.AgentStatus) string {
	return lipgloss.NewStyle().Foreground(StatusColor(s)).Bold(true).Render("● " + StatusLabel(s))
}

// AgentCard renders one agent in a bordered box width cells wide.
func AgentCard(agent types.Agent, width int) string {
	if width < 20 {
		width = 20
	}
	inner := width - cardStyle.GetHorizontalFrameSize()

	header := nameStyle.Render(ansi.Truncate(PlainText(agent.Name), inner-12, "…"))
	badge := StatusBadge(agent.Status)
	gap := inner - lipgloss.Width(header) - lipgloss.Width(badge)
	if gap < 1 {
		gap = 1
	}
	lines := []string{header + strings.Repeat(" ", gap) + badge}
	if agent.Type != "" {
		lines = append(lines, dimStyle.Render(PlainText(string(agent.Type))))
	}
	if agent.CurrentTask != "" {
		lines = append(lines, field("Task", agent.CurrentTask, inner))
	}
	lines = append(lines, field("Last", agent.LastAction, inner))
	if len(agent.Tools) > 0 {
		lines = append(lines, toolList(agent.Tools, inner))
	}
	if agent.Status == types.AgentStatusError {
		lines = append(lines, errorStyle.Render(ErrorDetected))
	}
	return cardStyle.Width(width - cardStyle.GetHorizontalBorderSize()).Render(strings.Join(lines, "\n"))
}

func field(label, value string, width int) string {
	prefix := labelStyle.Render(label + ": ")
	return prefix + ansi.Truncate(PlainText(value), width-lipgloss.Width(prefix), "…")
}

func toolList(tools []string, width int) string {
	var rows []string
	var row string
	for _, tool := range tools {
		chip := toolStyle.Render(PlainText(tool))
		if row != "" && lipgloss.Width(row)+1+lipgloss.Width(chip) > width {
			rows = append(rows, row)
			row = ""
		}
		if row != "" {
			row += " "
		}
		row += chip
	}
	if row != "" {
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n")
}

// AgentGrid lays cards out in rows of as many columns as fit width.
func AgentGrid(agents []types.Agent, width int) string {
	if len(agents) == 0 {
		return dimStyle.Render("No agents")
	}
	cols := 1
	switch {
	case width >= 120:
		cols = 3
	case width >= 80:
		cols = 2
	}
	cardWidth := width / cols
	var rows []string
	for i := 0; i < len(agents); i += cols {
		end := min(i+cols, len(agents))
		cards := make([]string, 0, cols)
		for _, agent := range agents[i:end] {
			cards = append(cards, AgentCard(agent, cardWidth))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// ResultBlock renders one result. Text is stripped of markup and wrapped;
// images show their alt text and URL.
func ResultBlock(r types.Result, width int) string {
	if width < 10 {
		width = 10
	}
	inner := width - resultStyle.GetHorizontalFrameSize()
	switch r.Type {
	case types.ResultImage:
		alt := r.Alt
		if alt == "" {
			alt = DefaultImageAlt
		}
		line := fmt.Sprintf("[image] %s → %s", PlainText(alt), PlainText(r.Content))
		return resultStyle.Render(imageStyle.Render(ansi.Wrap(line, inner, "")))
	default:
		return resultStyle.Render(ansi.Wrap(PlainText(r.Content), inner, " "))
	}
}

// Results renders results in order, or the empty placeholder.
func Results(results []types.Result, width int) string {
	if len(results) == 0 {
		return dimStyle.Render(NoResults)
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, ResultBlock(r, width))
	}
	return strings.Join(blocks, "\n\n")
}

// PlainText strips HTML markup and terminal escape sequences from s.
func PlainText(s string) string {
	return html.UnescapeString(textPolicy.Sanitize(ansi.Strip(s)))
}
