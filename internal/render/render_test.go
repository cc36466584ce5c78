package render

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-dashboard/internal/types"
)

func TestStatusTables(t *testing.T) {
	cases := []struct {
		status types.AgentStatus
		label  string
		color  lipgloss.Color
	}{
		{types.AgentStatusActive, "Active", "42"},
		{types.AgentStatusIdle, "Idle", "245"},
		{types.AgentStatusBusy, "Busy", "33"},
		{types.AgentStatusError, "Error", "160"},
		{"sleeping", "Unknown", "245"},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.label, StatusLabel(tc.status))
			assert.Equal(t, tc.color, StatusColor(tc.status))
		})
	}
}

func TestAgentCard(t *testing.T) {
	agent := types.Agent{
		Name:        "Web Automation Agent",
		Type:        types.AgentKindWebAutomation,
		Status:      types.AgentStatusBusy,
		CurrentTask: "open dashboard",
		LastAction:  "Clicked <b>login</b>",
		Tools:       []string{"browser", "selenium"},
	}
	out := ansi.Strip(AgentCard(agent, 60))
	assert.Contains(t, out, "Web Automation Agent")
	assert.Contains(t, out, "Busy")
	assert.Contains(t, out, "Task: open dashboard")
	assert.Contains(t, out, "Last: Clicked login")
	assert.Contains(t, out, "browser")
	assert.Contains(t, out, "selenium")
	assert.NotContains(t, out, ErrorDetected)
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, lipgloss.Width(line), 60)
	}
}

func TestAgentCardErrorMarker(t *testing.T) {
	out := ansi.Strip(AgentCard(types.Agent{Name: "A", Status: types.AgentStatusError, LastAction: "crashed"}, 40))
	assert.Contains(t, out, ErrorDetected)
	assert.Contains(t, out, "Error")
}

func TestBackendStringsCannotInjectEscapes(t *testing.T) {
	const clear, title = "\x1b[2J", "\x1b]0;owned\x07"
	card := AgentCard(types.Agent{
		Name:   "Vision" + clear,
		Type:   types.AgentKind("vision" + title),
		Status: types.AgentStatusIdle,
		Tools:  []string{"ocr" + clear},
	}, 60)
	img := ResultBlock(types.Result{Type: types.ResultImage, Content: "http://x/a.png" + title}, 80)

	for _, out := range []string{card, img} {
		assert.NotContains(t, out, clear)
		assert.NotContains(t, out, "\x1b]0;")
	}
	assert.Contains(t, ansi.Strip(card), "Vision")
	assert.Contains(t, ansi.Strip(card), "ocr")
	assert.Contains(t, ansi.Strip(img), "http://x/a.png")
}

func TestAgentCardIsPure(t *testing.T) {
	agent := types.Agent{Name: "A", Status: types.AgentStatusIdle, LastAction: "Ready"}
	assert.Equal(t, AgentCard(agent, 40), AgentCard(agent, 40))
}

func TestAgentGrid(t *testing.T) {
	agents := []types.Agent{
		{Name: "One", Status: types.AgentStatusIdle},
		{Name: "Two", Status: types.AgentStatusActive},
		{Name: "Three", Status: types.AgentStatusBusy},
	}
	out := ansi.Strip(AgentGrid(agents, 90))
	for _, name := range []string{"One", "Two", "Three"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, AgentGrid(nil, 90), "No agents")
}

func TestResultsEmpty(t *testing.T) {
	assert.Equal(t, NoResults, ansi.Strip(Results(nil, 80)))
}

func TestResultBlockText(t *testing.T) {
	out := ansi.Strip(ResultBlock(types.Result{Type: types.ResultText, Content: `<script>alert(1)</script>Found 3 & more`}, 80))
	assert.Contains(t, out, "Found 3 & more")
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "alert")
}

func TestResultBlockImage(t *testing.T) {
	out := ansi.Strip(ResultBlock(types.Result{Type: types.ResultImage, Content: "http://x/a.png"}, 80))
	assert.Contains(t, out, "[image] "+DefaultImageAlt)
	assert.Contains(t, out, "http://x/a.png")

	out = ansi.Strip(ResultBlock(types.Result{Type: types.ResultImage, Content: "http://x/a.png", Alt: "Analysis result"}, 80))
	assert.Contains(t, out, "Analysis result")
}

func TestResultsKeepOrder(t *testing.T) {
	out := ansi.Strip(Results([]types.Result{
		{Type: types.ResultText, Content: "first"},
		{Type: types.ResultText, Content: "second"},
	}, 80))
	assert.Less(t, strings.Index(out, "first"), strings.Index(out, "second"))
}

func TestExportHTML(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	page, err := ExportHTML("Session <1>", []types.Result{
		{Type: types.ResultText, Content: "# Findings\n\n- **bold** item\n\n<script>alert(1)</script>"},
		{Type: types.ResultImage, Content: "https://cdn.example.com/chart.png", Alt: `chart "q1"`},
		{Type: types.ResultImage, Content: "javascript:alert(1)"},
	}, at)
	require.NoError(t, err)
	doc := string(page)

	assert.Contains(t, doc, "<title>Session &lt;1&gt;</title>")
	assert.Contains(t, doc, "<h1>Findings</h1>")
	assert.Contains(t, doc, "<strong>bold</strong>")
	assert.Contains(t, doc, `src="https://cdn.example.com/chart.png"`)
	assert.Contains(t, doc, DefaultImageAlt)
	assert.NotContains(t, doc, "<script>")
	assert.NotContains(t, doc, "javascript:")
	assert.Contains(t, doc, "Fri, 02 Jan 2026 03:04:05 UTC")
}

func TestExportHTMLEmpty(t *testing.T) {
	page, err := ExportHTML("Empty", nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(page), NoResults)
}
