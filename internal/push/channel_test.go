package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-dashboard/internal/backendtest"
	"agency-dashboard/internal/types"
)

const waitFor = 2 * time.Second

func dial(t *testing.T, srv *backendtest.Server) *Channel {
	t.Helper()
	ch, err := Dial(context.Background(), srv.WSURL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Disconnect() })
	require.True(t, srv.WaitConnected(waitFor))
	return ch
}

func collect[T any](t *testing.T, c <-chan T, n int) []T {
	t.Helper()
	var out []T
	for len(out) < n {
		select {
		case v := <-c:
			out = append(out, v)
		case <-time.After(waitFor):
			t.Fatalf("got %d of %d values", len(out), n)
		}
	}
	return out
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", WithHandshakeTimeout(time.Second))
	assert.Error(t, err)
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	calls := make(chan string, 4)
	ch.On(types.EventAgentStatus, func(ev Event) {
		msg, _ := ev.Message()
		calls <- "first:" + msg.Field("name")
	})
	ch.On(types.EventAgentStatus, func(ev Event) {
		calls <- "second"
	})

	require.NoError(t, srv.Push(types.EventAgentStatus, map[string]any{"name": "A", "status": "busy"}))
	assert.Equal(t, []string{"first:A", "second"}, collect(t, calls, 2))
}

func TestUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	calls := make(chan string, 4)
	unsubscribe := ch.On(types.EventCommandResult, func(Event) { calls <- "gone" })
	ch.On(types.EventCommandResult, func(Event) { calls <- "kept" })
	unsubscribe()
	unsubscribe()

	require.NoError(t, srv.Push(types.EventCommandResult, map[string]any{"type": "text", "content": "x"}))
	require.NoError(t, srv.Push(types.EventCommandResult, map[string]any{"type": "text", "content": "y"}))
	assert.Equal(t, []string{"kept", "kept"}, collect(t, calls, 2))
	assert.Empty(t, calls)
}

func TestEventsArriveInOrder(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	got := make(chan string, 16)
	ch.On(types.EventCommandResult, func(ev Event) {
		msg, _ := ev.Message()
		got <- msg.Field("content")
	})
	want := []string{"1", "2", "3", "4", "5"}
	for _, c := range want {
		require.NoError(t, srv.Push(types.EventCommandResult, map[string]any{"type": "text", "content": c}))
	}
	assert.Equal(t, want, collect(t, got, len(want)))
}

func TestFramesWithoutEventName(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	results := make(chan string, 2)
	messages := make(chan string, 2)
	ch.On(types.EventCommandResult, func(ev Event) {
		msg, _ := ev.Message()
		results <- msg.Field("content")
	})
	ch.OnMessage(func(text string) { messages <- text })

	require.NoError(t, srv.PushRaw([]byte(`{"type":"command_result","data":{"type":"text","content":"done"}}`)))
	require.NoError(t, srv.PushRaw([]byte(`{"hello":"world"}`)))
	assert.Equal(t, []string{"done"}, collect(t, results, 1))
	assert.JSONEq(t, `{"hello":"world"}`, collect(t, messages, 1)[0])
}

func TestMalformedFramesAreDropped(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	messages := make(chan string, 4)
	ch.OnMessage(func(text string) { messages <- text })

	require.NoError(t, srv.PushRaw([]byte(`{not json`)))
	env, err := types.NewEnvelope(types.EventMessage, "after")
	require.NoError(t, err)
	frame, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, srv.PushRaw(frame))

	assert.Equal(t, []string{"after"}, collect(t, messages, 1))
}

func TestSendWritesMessageEnvelope(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	require.NoError(t, ch.Send("analyze the screenshot"))
	assert.Equal(t, []string{"analyze the screenshot"}, collect(t, srv.Received(), 1))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	assert.NoError(t, ch.Disconnect())
	assert.NoError(t, ch.Disconnect())
	assert.ErrorIs(t, ch.Send("late"), ErrClosed)

	select {
	case <-ch.Done():
	case <-time.After(waitFor):
		t.Fatal("reader did not stop")
	}
	assert.Eventually(t, func() bool { return srv.Connections() == 0 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, srv.Connects())
}

func TestNoHandlersAfterDisconnect(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	var mu sync.Mutex
	calls := 0
	ch.On(types.EventAgentStatus, func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, ch.Disconnect())
	_ = srv.Push(types.EventAgentStatus, map[string]any{"name": "A", "status": "idle"})
	<-ch.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestConnectionLossReportedOnce(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	errs := make(chan error, 4)
	ch.OnError(func(err error) { errs <- err })
	srv.DropConnections()

	err := collect(t, errs, 1)[0]
	assert.Contains(t, err.Error(), "push: read")
	<-ch.Done()
	assert.Empty(t, errs)
	assert.ErrorIs(t, ch.Send("x"), ErrClosed)
}

func TestBackendErrorEvent(t *testing.T) {
	srv := backendtest.New(t)
	ch := dial(t, srv)

	errs := make(chan error, 1)
	ch.OnError(func(err error) { errs <- err })
	env, err := types.NewEnvelope(types.EventError, "quota exceeded")
	require.NoError(t, err)
	frame, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, srv.PushRaw(frame))

	got := collect(t, errs, 1)[0]
	var remote *RemoteError
	require.True(t, errors.As(got, &remote))
	assert.Equal(t, "quota exceeded", remote.Text)
}
