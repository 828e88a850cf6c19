package client

import (
	"log/slog"

	"github.com/frontrow-dev/bridge/dispatch"
	"github.com/frontrow-dev/bridge/domain/entities"
	"github.com/frontrow-dev/bridge/domain/ports"
)

// Observer receives every request dispatched by Update together with its
// result, after the callback has run and before the reply is sent.
type Observer func(req entities.InvocationRequest, result entities.InvocationResult)

type sessionConfig struct {
	launcher   ports.RuntimeLauncher
	dialer     ports.Dialer
	logger     *slog.Logger
	middleware []dispatch.Middleware
	observers  []Observer
}

// Option configures Initialize.
type Option func(*sessionConfig)

// WithLauncher replaces the bundled JavaScript runtime launcher.
func WithLauncher(l ports.RuntimeLauncher) Option {
	return func(c *sessionConfig) {
		c.launcher = l
	}
}

// WithDialer replaces the TCP dialer used for stream connections and handed
// to the bundled launcher.
func WithDialer(d ports.Dialer) Option {
	return func(c *sessionConfig) {
		c.dialer = d
	}
}

// WithLogger sets the session logger. Without it a logger is built from the
// configured level and format.
func WithLogger(logger *slog.Logger) Option {
	return func(c *sessionConfig) {
		c.logger = logger
	}
}

// WithMiddleware adds dispatch middleware after the built-in recovery and
// logging middleware. Middleware executes in FIFO order.
func WithMiddleware(mw ...dispatch.Middleware) Option {
	return func(c *sessionConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithObserver adds an observer of dispatched requests.
func WithObserver(o Observer) Option {
	return func(c *sessionConfig) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}
