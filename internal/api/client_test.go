package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-dashboard/internal/backendtest"
	"agency-dashboard/internal/types"
)

func TestListAgents(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetAgents(
		types.Agent{Name: "TaskOrchestrator", Status: types.AgentStatusIdle, LastAction: "Ready"},
		types.Agent{Name: "Researcher", Status: types.AgentStatusBusy, LastAction: "Searching", Tools: []string{"tavily"}},
	)
	client := NewClient(srv.URL, time.Second)

	agents, err := client.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "TaskOrchestrator", agents[0].Name)
	assert.Equal(t, types.AgentStatusBusy, agents[1].Status)
	assert.Equal(t, []string{"tavily"}, agents[1].Tools)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/agents", reqs[0].Path)
	assert.True(t, strings.HasPrefix(reqs[0].RequestID, "req-"))
}

func TestListAgentsEmpty(t *testing.T) {
	srv := backendtest.New(t)
	agents, err := NewClient(srv.URL, time.Second).ListAgents(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, agents)
	assert.Empty(t, agents)
}

func TestSubmitCommand(t *testing.T) {
	srv := backendtest.New(t)
	srv.HandleCommands(func(cmd string) types.CommandResponse {
		return types.CommandResponse{Results: []types.Result{
			{Type: types.ResultText, Content: "Processed command: " + cmd},
			{Type: types.ResultImage, Content: "http://img/1.png", Alt: "chart"},
		}}
	})
	client := NewClient(srv.URL+"/", time.Second)

	resp, err := client.SubmitCommand(context.Background(), "analyze image")
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.Equal(t, []types.Result{
		{Type: types.ResultText, Content: "Processed command: analyze image"},
		{Type: types.ResultImage, Content: "http://img/1.png", Alt: "chart"},
	}, resp.Results)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.JSONEq(t, `{"command":"analyze image"}`, reqs[0].Body)
}

func TestSubmitCommandApplicationError(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetCommandResponse(types.CommandResponse{Error: "agent unavailable"})
	resp, err := NewClient(srv.URL, time.Second).SubmitCommand(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "agent unavailable", resp.Error)
	assert.Empty(t, resp.Results)
}

func TestFetchResults(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetResults("task 1", types.Result{Type: types.ResultText, Content: "done"})
	client := NewClient(srv.URL, time.Second)

	results, err := client.FetchResults(context.Background(), "task 1")
	require.NoError(t, err)
	assert.Equal(t, []types.Result{{Type: types.ResultText, Content: "done"}}, results)

	_, err = client.FetchResults(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRequestFailed)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	_, err = client.FetchResults(context.Background(), " ")
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestUploadFile(t *testing.T) {
	srv := backendtest.New(t)
	client := NewClient(srv.URL, time.Second)

	url, err := client.UploadFile(context.Background(), "shot.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/files/shot.png", url)
	assert.Equal(t, "PNGDATA", srv.Uploads()["shot.png"])
}

func TestNonSuccessStatusIsFailure(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailPath("/api/command", http.StatusInternalServerError)
	_, err := NewClient(srv.URL, time.Second).SubmitCommand(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).ListAgents(context.Background())
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).ListAgents(context.Background())
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestContextCancellation(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetDelay(2 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(srv.URL, 5*time.Second).ListAgents(ctx)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRateLimit(t *testing.T) {
	srv := backendtest.New(t)
	client := NewClient(srv.URL, time.Second, WithRateLimit(1, 2))

	_, err := client.ListAgents(context.Background())
	require.NoError(t, err)
	_, err = client.ListAgents(context.Background())
	require.NoError(t, err)
	_, err = client.ListAgents(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, srv.Requests(), 2, "limited requests never reach the backend")
}

func TestRateLimitDisabled(t *testing.T) {
	srv := backendtest.New(t)
	client := NewClient(srv.URL, time.Second, WithRateLimit(0, 0))
	for i := 0; i < 5; i++ {
		_, err := client.ListAgents(context.Background())
		require.NoError(t, err)
	}
}
