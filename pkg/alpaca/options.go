package alpaca

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Option customizes a Gateway, a stream or a Client.
type Option func(*options)

type options struct {
	logger           *zap.Logger
	httpClient       *http.Client
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	eventBuffer      int
}

func newOptions(opts []Option) options {
	o := options{
		logger:           zap.NewNop(),
		httpClient:       nil,
		dialer:           nil,
		handshakeTimeout: DefaultHandshakeTimeout,
		eventBuffer:      DefaultEventBuffer,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.dialer == nil {
		o.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.handshakeTimeout,
		}
	}

	return o
}

// WithLogger sets the logger used for request and stream diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client used by the Gateway.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithDialer replaces the websocket dialer used by streams.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithHandshakeTimeout bounds stream dial plus the authentication reply.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithEventBuffer sets the capacity of every channel returned by Listen.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}
