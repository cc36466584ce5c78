package push

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"agency-dashboard/internal/utils"
)

type options struct {
	logger           *utils.Logger
	handshakeTimeout time.Duration
	header           http.Header
}

// Option configures Dial.
type Option func(*options)

func WithLogger(logger *utils.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHandshakeTimeout bounds the websocket upgrade. The default is 10s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// Dial opens the push connection and starts reading. Register handlers
// right after Dial returns; frames that arrive before a handler exists for
// their event are dropped.
func Dial(ctx context.Context, url string, opts ...Option) (*Channel, error) {
	o := options{handshakeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = utils.NewLogger("error")
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, o.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("push: dial %s: %w", url, err)
	}
	o.logger.Debugf("push: connected to %s", url)
	ch := newChannel(url, conn, o.logger)
	go ch.readLoop()
	return ch, nil
}
