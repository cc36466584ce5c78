package dashboard

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-dashboard/internal/api"
	"agency-dashboard/internal/backendtest"
	"agency-dashboard/internal/push"
	"agency-dashboard/internal/types"
)

func TestServiceAgainstBackend(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetAgents(seededAgents()...)
	srv.HandleCommands(func(command string) types.CommandResponse {
		return types.CommandResponse{Results: []types.Result{{Type: types.ResultText, Content: "ran " + command}}}
	})

	ctx := context.Background()
	ch, err := push.Dial(ctx, srv.WSURL())
	require.NoError(t, err)
	require.True(t, srv.WaitConnected(2*time.Second))

	svc := New(api.NewClient(srv.URL, 5*time.Second), ch)
	require.NoError(t, svc.Start(ctx))
	assert.Len(t, svc.Snapshot().Agents, 2)

	require.NoError(t, svc.SubmitCommand(ctx, "open browser"))
	require.NoError(t, svc.SendMessage("open browser"))
	select {
	case got := <-srv.Received():
		assert.Equal(t, "open browser", got)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received by backend")
	}

	require.NoError(t, srv.Push(types.EventAgentStatus, map[string]any{"name": "B", "status": "active", "lastAction": "Searching"}))
	require.NoError(t, srv.Push(types.EventCommandResult, map[string]any{"type": "image", "content": "shot.png"}))
	assert.Eventually(t, func() bool {
		st := svc.Snapshot()
		return len(st.Results) == 2 && st.Agents[1].Status == types.AgentStatusActive
	}, 2*time.Second, 10*time.Millisecond)

	st := svc.Snapshot()
	assert.Equal(t, "ran open browser", st.Results[0].Content)
	assert.Equal(t, types.Result{Type: types.ResultImage, Content: "shot.png"}, st.Results[1])

	require.NoError(t, svc.Close())
	assert.Eventually(t, func() bool { return srv.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServiceBackendFailures(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailPath("/api/agents", http.StatusInternalServerError)
	srv.FailPath("/api/command", http.StatusBadGateway)

	svc := New(api.NewClient(srv.URL, 5*time.Second), nil)
	defer svc.Close()

	err := svc.Start(context.Background())
	assert.ErrorIs(t, err, api.ErrRequestFailed)
	assert.Equal(t, MsgFetchAgentsFailed, svc.Snapshot().Error)

	err = svc.SubmitCommand(context.Background(), "x")
	assert.ErrorIs(t, err, api.ErrRequestFailed)
	assert.Equal(t, MsgExecuteCommandFailed, svc.Snapshot().Error)
}
