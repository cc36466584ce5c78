// Package push is the client side of the backend's event channel: one
// websocket connection carrying named JSON events in both directions.
package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"agency-dashboard/internal/types"
	"agency-dashboard/internal/utils"
)

var ErrClosed = errors.New("push channel closed")

// RemoteError is an error event sent by the backend.
type RemoteError struct {
	Text string
}

func (e *RemoteError) Error() string {
	return "push: backend error: " + e.Text
}

// Event is one decoded frame.
type Event struct {
	Name string
	Data json.RawMessage
}

// Message decodes the payload as a {type, data} push message.
func (e Event) Message() (types.PushMessage, bool) {
	var msg types.PushMessage
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		return types.PushMessage{}, false
	}
	return msg, true
}

// Text returns string payloads unquoted and anything else as JSON text.
func (e Event) Text() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

// Handler receives events on the channel's reader goroutine.
type Handler func(Event)

type subscription struct {
	event string
	fn    Handler
}

type errorSubscription struct {
	fn func(error)
}

// Channel is one open push connection. Create it with Dial.
type Channel struct {
	url    string
	conn   *websocket.Conn
	logger *utils.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string][]*subscription
	onError  []*errorSubscription
	closed   bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newChannel(url string, conn *websocket.Conn, logger *utils.Logger) *Channel {
	return &Channel{
		url:      url,
		conn:     conn,
		logger:   logger,
		handlers: make(map[string][]*subscription),
		done:     make(chan struct{}),
	}
}

// URL is the endpoint the channel was dialed with.
func (c *Channel) URL() string {
	return c.url
}

// On registers fn for event. Handlers for the same event run in
// registration order. The returned func removes only this registration.
func (c *Channel) On(event string, fn Handler) func() {
	sub := &subscription{event: event, fn: fn}
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], sub)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.handlers[event]
		for i, s := range list {
			if s == sub {
				c.handlers[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// OnMessage registers fn for plain message events.
func (c *Channel) OnMessage(fn func(string)) func() {
	return c.On(types.EventMessage, func(ev Event) {
		fn(ev.Text())
	})
}

// OnError registers fn for transport failures and backend error events.
func (c *Channel) OnError(fn func(error)) func() {
	sub := &errorSubscription{fn: fn}
	c.mu.Lock()
	c.onError = append(c.onError, sub)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.onError {
			if s == sub {
				c.onError = append(c.onError[:i:i], c.onError[i+1:]...)
				return
			}
		}
	}
}

// Send writes payload as one message frame.
func (c *Channel) Send(payload string) error {
	if c.isClosed() {
		return ErrClosed
	}
	env, err := types.NewEnvelope(types.EventMessage, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if c.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("push: send: %w", err)
	}
	return nil
}

// Disconnect closes the connection. It is safe to call more than once and
// from inside a handler; no handler starts after it returns.
func (c *Channel) Disconnect() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
		if errors.Is(c.closeErr, websocket.ErrCloseSent) {
			c.closeErr = nil
		}
		c.logger.Debugf("push: disconnected from %s", c.url)
	})
	return c.closeErr
}

// Done is closed once the reader goroutine has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) readLoop() {
	defer close(c.done)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.logger.Warnf("push: connection to %s lost: %v", c.url, err)
			c.reportError(fmt.Errorf("push: read: %w", err))
			_ = c.Disconnect()
			return
		}
		ev, ok := decodeFrame(frame)
		if !ok {
			c.logger.Debugf("push: dropping malformed frame (%d bytes)", len(frame))
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	subs := append([]*subscription(nil), c.handlers[ev.Name]...)
	c.mu.Unlock()

	for _, sub := range subs {
		if c.isClosed() {
			return
		}
		sub.fn(ev)
	}
	if ev.Name == types.EventError {
		c.reportError(&RemoteError{Text: ev.Text()})
	}
}

func (c *Channel) reportError(err error) {
	c.mu.Lock()
	subs := append([]*errorSubscription(nil), c.onError...)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.fn(err)
	}
}

// decodeFrame reads an {event, data} envelope. Frames without an event
// name are routed by their payload's type when it names a known event and
// delivered as plain messages otherwise.
func decodeFrame(frame []byte) (Event, bool) {
	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Event{}, false
	}
	if env.Event != "" {
		data := env.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		return Event{Name: env.Event, Data: data}, true
	}
	var typed struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(frame, &typed)
	if typed.Type != "" && types.IsKnownEvent(typed.Type) {
		return Event{Name: typed.Type, Data: frame}, true
	}
	return Event{Name: types.EventMessage, Data: frame}, true
}
