package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-dashboard/internal/backendtest"
	"agency-dashboard/internal/types"
)

func newA2AServer(t *testing.T) *backendtest.A2AAgent {
	t.Helper()
	return backendtest.NewA2A(t, "Research Agent", "search", "pdf")
}

func TestA2AClientListAgents(t *testing.T) {
	srv := newA2AServer(t)
	client := NewA2AClient(srv.URL, nil)
	defer client.Close()

	agents, err := client.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "Research Agent", agents[0].Name)
	assert.Equal(t, "research-agent", agents[0].ID)
	assert.Equal(t, types.AgentStatusIdle, agents[0].Status)
	assert.Equal(t, []string{"search", "pdf"}, agents[0].Tools)
}

func TestA2AClientSubmitAndFetch(t *testing.T) {
	srv := newA2AServer(t)
	client := NewA2AClient(srv.URL, nil)
	defer client.Close()

	resp, err := client.SubmitCommand(context.Background(), "find papers")
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, types.Result{Type: types.ResultText, Content: "echo: find papers"}, resp.Results[0])
	assert.Equal(t, []string{"find papers"}, srv.Messages())
}

func TestA2AClientFailedTask(t *testing.T) {
	srv := newA2AServer(t)
	srv.Reply(func(text string) (string, error) { return "", errors.New("no sources for " + text) })
	client := NewA2AClient(srv.URL, nil)
	defer client.Close()

	resp, err := client.SubmitCommand(context.Background(), "quantum gravity")
	require.NoError(t, err)
	assert.Contains(t, resp.Error, "failed")
	assert.Contains(t, resp.Results, types.Result{Type: types.ResultText, Content: "no sources for quantum gravity"})
}

func TestA2AClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewA2AClient(srv.URL, nil).ListAgents(context.Background())
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestA2AClientUploadUnsupported(t *testing.T) {
	_, err := NewA2AClient("http://localhost:1", nil).UploadFile(context.Background(), "a.png", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestResultsFromParts(t *testing.T) {
	parts := sdka2a.ContentParts{
		&sdka2a.TextPart{Text: "hello"},
		&sdka2a.FilePart{File: &sdka2a.FileURI{FileMeta: sdka2a.FileMeta{Name: "chart", MimeType: "image/png"}, URI: "http://x/chart.png"}},
		&sdka2a.FilePart{File: &sdka2a.FileURI{FileMeta: sdka2a.FileMeta{Name: "report", MimeType: "application/pdf"}, URI: "http://x/report.pdf"}},
		&sdka2a.FilePart{File: &sdka2a.FileBytes{FileMeta: sdka2a.FileMeta{Name: "raw"}, Bytes: "AAAA"}},
	}
	assert.Equal(t, []types.Result{
		{Type: types.ResultText, Content: "hello"},
		{Type: types.ResultImage, Content: "http://x/chart.png", Alt: "chart"},
		{Type: types.ResultText, Content: "http://x/report.pdf"},
	}, resultsFromParts(parts))
}

func TestResponseFromFailedTask(t *testing.T) {
	task := &sdka2a.Task{
		ID: "t-1",
		Status: sdka2a.TaskStatus{
			State:   sdka2a.TaskStateFailed,
			Message: sdka2a.NewMessage(sdka2a.MessageRoleAgent, &sdka2a.TextPart{Text: "boom"}),
		},
	}
	resp := responseFromTask(task)
	assert.Equal(t, "task t-1 failed", resp.Error)
	assert.Equal(t, []types.Result{{Type: types.ResultText, Content: "boom"}}, resp.Results)
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "web-automation-agent", sanitizeID("  Web Automation Agent!"))
	assert.Len(t, sanitizeID(strings.Repeat("a", 50)), 32)
}
