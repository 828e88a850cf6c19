// Package dispatch routes invocation requests to registered entries and
// drives the marshalling engine for them.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/marshal"
	"github.com/frontrow-dev/bridge/registry"
)

// Dispatcher looks up entries in a Registry and invokes them through an
// Engine. Entries registered after the Dispatcher is built are visible to it.
type Dispatcher struct {
	registry *registry.Registry
	engine   *marshal.Engine
	handler  Handler
	logger   *slog.Logger
}

type dispatcherConfig struct {
	engine     *marshal.Engine
	logger     *slog.Logger
	middleware []Middleware
}

// Option configures a Dispatcher.
type Option func(*dispatcherConfig)

// WithMiddleware adds middleware. Middleware executes in FIFO order.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *dispatcherConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithEngine sets the marshalling engine (default: marshal.NewEngine()).
func WithEngine(engine *marshal.Engine) Option {
	return func(c *dispatcherConfig) {
		c.engine = engine
	}
}

// WithLogger sets the dispatcher's logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(c *dispatcherConfig) {
		c.logger = logger
	}
}

// New creates a Dispatcher over reg.
//
// Example usage:
//
//	d := dispatch.New(reg,
//	    dispatch.WithMiddleware(dispatch.RecoveryMiddleware(), dispatch.LoggingMiddleware(logger)),
//	)
//	values, err := d.Invoke(ctx, "multiply", []any{int64(3), int64(4)})
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	cfg := dispatcherConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.engine == nil {
		cfg.engine = marshal.NewEngine(marshal.WithLogger(cfg.logger))
	}

	d := &Dispatcher{
		registry: reg,
		engine:   cfg.engine,
		logger:   cfg.logger,
	}
	d.handler = chain(d.handle, cfg.middleware)
	return d
}

// Invoke calls the function registered under name.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args []any) ([]any, error) {
	return d.call(ctx, entities.InvocationRequest{Kind: entities.KindFunction, Name: name, Arguments: args})
}

// Read reads the sensor registered under name.
func (d *Dispatcher) Read(ctx context.Context, name string) (any, error) {
	values, err := d.call(ctx, entities.InvocationRequest{Kind: entities.KindSensor, Name: name})
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, &domainerrors.ContractViolationError{Name: name, Reason: fmt.Sprintf("sensor produced %d values", len(values))}
	}
	return values[0], nil
}

// Write writes v to the axis registered under name.
func (d *Dispatcher) Write(ctx context.Context, name string, v any) error {
	_, err := d.call(ctx, entities.InvocationRequest{Kind: entities.KindAxis, Name: name, Arguments: []any{v}})
	return err
}

// Dispatch handles one request from the managed runtime. Failures are
// carried in the result rather than returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req entities.InvocationRequest) entities.InvocationResult {
	result := entities.ResultFor(req)
	result.Values, result.Err = d.call(ctx, req)
	return result
}

func (d *Dispatcher) call(ctx context.Context, req entities.InvocationRequest) ([]any, error) {
	return d.handler(InvocationContextFrom(ctx, req), req)
}

// handle is the innermost Handler.
func (d *Dispatcher) handle(ctx context.Context, req entities.InvocationRequest) ([]any, error) {
	switch req.Kind {
	case entities.KindFunction:
		f, err := d.registry.Function(req.Name)
		if err != nil {
			return nil, err
		}
		return d.engine.Invoke(ctx, f.Name(), f.Spec(), req.Arguments)

	case entities.KindSensor:
		s, err := d.registry.Sensor(req.Name)
		if err != nil {
			return nil, err
		}
		if len(req.Arguments) != 0 {
			return nil, &domainerrors.ArityMismatchError{Name: req.Name, Want: 0, Got: len(req.Arguments)}
		}
		v, err := d.engine.Read(ctx, s.Name(), s.Spec())
		if err != nil {
			return nil, err
		}
		return []any{v}, nil

	case entities.KindAxis:
		a, err := d.registry.Axis(req.Name)
		if err != nil {
			return nil, err
		}
		if len(req.Arguments) != 1 {
			return nil, &domainerrors.ArityMismatchError{Name: req.Name, Want: 1, Got: len(req.Arguments)}
		}
		if err := d.engine.Write(ctx, a.Name(), a.Spec(), req.Arguments[0]); err != nil {
			return nil, err
		}
		return []any{}, nil

	default:
		if !req.Kind.IsValid() {
			return nil, fmt.Errorf("%w: unknown feature kind %q", domainerrors.ErrInvalidArgument, req.Kind)
		}
		// Streams are described to the server but have nothing to invoke.
		return nil, &domainerrors.NotFoundError{Kind: req.Kind, Name: req.Name}
	}
}
