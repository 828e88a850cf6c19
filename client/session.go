// Package client implements the client session: the lifecycle that starts a
// managed runtime, registers native features with it, connects it to a
// server and pumps invocation requests back into native callbacks.
//
// A Session is single-threaded. Every request is handled synchronously on
// the goroutine calling Update.
//
// Example usage:
//
//	s, err := client.Initialize(ctx, config.Default())
//	if err != nil {
//	    return err
//	}
//	defer s.Shutdown(ctx)
//
//	_ = s.SetName(ctx, "rover")
//	_ = s.RegisterSensor(ctx, "temperature", "double", readTemperature)
//	_ = s.RegisterStream(ctx, "camera", "mjpeg", "10.0.0.2", 8554)
//	if err := s.Connect(ctx, "127.0.0.1", 9000); err != nil {
//	    return err
//	}
//	for {
//	    if err := s.Update(ctx); err != nil {
//	        return err
//	    }
//	}
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/frontrow-dev/bridge/abi"
	"github.com/frontrow-dev/bridge/application/validation"
	"github.com/frontrow-dev/bridge/config"
	"github.com/frontrow-dev/bridge/dispatch"
	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/domain/ports"
	bridgegoja "github.com/frontrow-dev/bridge/infrastructure/goja"
	"github.com/frontrow-dev/bridge/infrastructure/transport"
	bridgewazero "github.com/frontrow-dev/bridge/infrastructure/wazero"
	"github.com/frontrow-dev/bridge/log"
	"github.com/frontrow-dev/bridge/registry"
	"github.com/frontrow-dev/bridge/wireformat"
)

// Session owns one managed runtime and the features registered with it.
type Session struct {
	runtime    ports.ManagedRuntime
	dialer     ports.Dialer
	logger     *slog.Logger
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	observers  []Observer
	name       string
	address    string
	cfg        config.Config
	state      State
	port       uint16
	id         uuid.UUID
}

// Initialize validates cfg, starts the managed runtime with the configured
// classpath and returns a Ready session. On failure nothing is left running
// and the error matches domainerrors.ErrInitFailed.
func Initialize(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	sc := sessionConfig{}
	for _, opt := range opts {
		opt(&sc)
	}
	if err := cfg.Validate(); err != nil {
		return nil, &domainerrors.InitError{Err: err}
	}

	id := uuid.New()
	logger := sc.logger
	if logger == nil {
		l, err := log.New(cfg.LogLevel, cfg.LogFormat, nil)
		if err != nil {
			return nil, &domainerrors.InitError{Err: err}
		}
		logger = l
	}
	logger = logger.With("session", id.String())

	dialer := sc.dialer
	if dialer == nil {
		dialer = transport.NewDialer(
			transport.WithDialTimeout(cfg.DialTimeout),
			transport.WithRetry(cfg.DialAttempts, cfg.DialDelay),
			transport.WithMaxFrameSize(cfg.MaxFrameSize),
			transport.WithLogger(logger),
		)
	}

	launcher := sc.launcher
	if launcher == nil {
		l, err := defaultLauncher(cfg, dialer, logger)
		if err != nil {
			return nil, &domainerrors.InitError{Err: err}
		}
		launcher = l
	}

	rt, err := launcher.Start(log.WithLogger(ctx, logger), cfg.Classpath)
	if err != nil {
		if errors.Is(err, domainerrors.ErrInitFailed) {
			return nil, err
		}
		return nil, &domainerrors.InitError{Err: err}
	}

	reg := registry.New(registry.WithStrictMode(cfg.StrictRegistration), registry.WithLogger(logger))
	mw := append([]dispatch.Middleware{
		dispatch.RecoveryMiddleware(),
		dispatch.LoggingMiddleware(logger),
	}, sc.middleware...)

	s := &Session{
		id:         id,
		cfg:        cfg,
		logger:     logger,
		runtime:    rt,
		dialer:     dialer,
		registry:   reg,
		dispatcher: dispatch.New(reg, dispatch.WithLogger(logger), dispatch.WithMiddleware(mw...)),
		observers:  sc.observers,
		state:      StateReady,
	}
	logger.InfoContext(ctx, "client: session initialized", "classpath", cfg.Classpath)
	return s, nil
}

func defaultLauncher(cfg config.Config, dialer ports.Dialer, logger *slog.Logger) (ports.RuntimeLauncher, error) {
	v, err := validation.NewDescriptionValidator()
	if err != nil {
		return nil, err
	}
	return bridgegoja.NewLauncher(
		bridgegoja.WithDialer(dialer),
		bridgegoja.WithValidator(v),
		bridgegoja.WithLogger(logger),
		bridgegoja.WithPollWait(cfg.PollWait),
	), nil
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id.String()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return StateUninitialized
	}
	return s.state
}

// Name returns the name last set with SetName.
func (s *Session) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Features describes every registered entry.
func (s *Session) Features() []entities.Feature {
	if s == nil || s.registry == nil {
		return nil
	}
	return s.registry.Features()
}

// require fails unless the session is in one of the allowed states.
func (s *Session) require(op string, allowed ...State) error {
	state := s.State()
	if state == StateClosed {
		return fmt.Errorf("%s: %w", op, domainerrors.ErrSessionClosed)
	}
	if !slices.Contains(allowed, state) {
		return &domainerrors.StateError{Operation: op, State: state.String()}
	}
	return nil
}

// SetName sets the name announced to the server.
func (s *Session) SetName(ctx context.Context, name string) error {
	if err := s.require("set_name", StateReady, StateConnected); err != nil {
		return err
	}
	if err := s.runtime.SetName(ctx, name); err != nil {
		return fault("set_name", err)
	}
	s.name = name
	return nil
}

// RegisterFunction registers a native function. The entry is stored only
// once the managed runtime has accepted it.
func (s *Session) RegisterFunction(ctx context.Context, name string, parameters, returns []entities.Parameter, callback abi.FunctionCallback) error {
	if err := s.require("register_function", StateReady, StateConnected); err != nil {
		return err
	}
	f, err := s.registry.PrepareFunction(name, parameters, returns, callback)
	if err != nil {
		return err
	}
	return s.register(ctx, f)
}

// RegisterSensor registers a native sensor producing values of outputType.
func (s *Session) RegisterSensor(ctx context.Context, name, outputType string, callback abi.SensorCallback, opts ...registry.FeatureOption) error {
	if err := s.require("register_sensor", StateReady, StateConnected); err != nil {
		return err
	}
	sensor, err := s.registry.PrepareSensor(name, outputType, callback, opts...)
	if err != nil {
		return err
	}
	return s.register(ctx, sensor)
}

// RegisterAxis registers a native axis accepting values of inputType.
func (s *Session) RegisterAxis(ctx context.Context, name, inputType string, callback abi.AxisCallback, opts ...registry.FeatureOption) error {
	if err := s.require("register_axis", StateReady, StateConnected); err != nil {
		return err
	}
	axis, err := s.registry.PrepareAxis(name, inputType, callback, opts...)
	if err != nil {
		return err
	}
	return s.register(ctx, axis)
}

// RegisterStream advertises a stream served at address:port in the given
// format. Streams must be registered before connecting.
func (s *Session) RegisterStream(ctx context.Context, name, format, address string, port uint16) error {
	if err := s.require("register_stream", StateReady); err != nil {
		return err
	}
	stream, err := s.registry.PrepareStream(name, format, address, port)
	if err != nil {
		return err
	}
	return s.register(ctx, stream)
}

func (s *Session) register(ctx context.Context, entry registry.Entry) error {
	if err := s.registry.Check(entry); err != nil {
		return err
	}
	if err := s.runtime.Register(ctx, entry.Feature()); err != nil {
		return fault("register", err)
	}
	if err := s.registry.Commit(entry); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "client: registered", "kind", entry.Kind(), "name", entry.Name())
	return nil
}

// Connect connects the managed runtime to address:port. A name must have
// been set. Connecting twice fails with domainerrors.ErrAlreadyConnected.
func (s *Session) Connect(ctx context.Context, address string, port uint16) error {
	if s.State() == StateConnected {
		return fmt.Errorf("connect: %w", domainerrors.ErrAlreadyConnected)
	}
	if err := s.require("connect", StateReady); err != nil {
		return err
	}
	if s.name == "" {
		return fmt.Errorf("connect: %w: a name must be set before connecting", domainerrors.ErrInvalidArgument)
	}
	if err := s.runtime.Connect(ctx, address, port); err != nil {
		return fault("connect", err)
	}
	s.state = StateConnected
	s.address, s.port = address, port
	s.logger.InfoContext(ctx, "client: connected", "address", address, "port", port)
	return nil
}

// OpenStream opens a connection to the server for the registered stream
// name and identifies it with a stream_descriptor message. The caller owns
// the returned connection and writes the stream's frames to it.
func (s *Session) OpenStream(ctx context.Context, name string) (ports.Conn, error) {
	if err := s.require("open_stream", StateConnected); err != nil {
		return nil, err
	}
	if _, err := s.registry.Stream(name); err != nil {
		return nil, err
	}

	frame, err := wireformat.Encode(1, wireformat.StreamDescription{Machine: s.name, Stream: name})
	if err != nil {
		return nil, err
	}
	conn, err := s.dialer.Dial(ctx, s.address, s.port)
	if err != nil {
		return nil, fmt.Errorf("open_stream %s: %w", name, err)
	}
	if err := conn.WriteFrame(frame); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open_stream %s: %w", name, err)
	}
	s.logger.InfoContext(ctx, "client: stream opened", "stream", name, "address", conn.RemoteAddr())
	return conn, nil
}

// Update polls the managed runtime once and handles every pending request
// in arrival order. Failed invocations are reported to the server and do
// not fail the update; failures to deliver replies are joined and returned
// after every request has been handled.
func (s *Session) Update(ctx context.Context) error {
	if err := s.require("update", StateConnected); err != nil {
		return err
	}
	requests, err := s.runtime.Poll(ctx)
	if err != nil {
		return fault("poll", err)
	}

	var errs []error
	for _, req := range requests {
		result := s.dispatcher.Dispatch(ctx, req)
		s.notify(ctx, req, result)
		if err := s.runtime.Respond(ctx, result); err != nil {
			errs = append(errs, fault("respond", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) notify(ctx context.Context, req entities.InvocationRequest, result entities.InvocationResult) {
	for _, o := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.ErrorContext(ctx, "client: observer panicked", "name", req.Name, "panic", r)
				}
			}()
			o(req, result)
		}()
	}
}

// Invoke calls a registered function directly, without the server.
func (s *Session) Invoke(ctx context.Context, name string, args ...any) ([]any, error) {
	if err := s.require("invoke", StateReady, StateConnected); err != nil {
		return nil, err
	}
	return s.dispatcher.Invoke(ctx, name, args)
}

// Read reads a registered sensor directly.
func (s *Session) Read(ctx context.Context, name string) (any, error) {
	if err := s.require("read", StateReady, StateConnected); err != nil {
		return nil, err
	}
	return s.dispatcher.Read(ctx, name)
}

// Write writes a registered axis directly.
func (s *Session) Write(ctx context.Context, name string, v any) error {
	if err := s.require("write", StateReady, StateConnected); err != nil {
		return err
	}
	return s.dispatcher.Write(ctx, name, v)
}

// Export exposes the entries registered so far to WebAssembly guests of r.
func (s *Session) Export(ctx context.Context, r wazero.Runtime, opts ...bridgewazero.AdapterOption) (api.Module, error) {
	if err := s.require("export", StateReady, StateConnected); err != nil {
		return nil, err
	}
	opts = append([]bridgewazero.AdapterOption{bridgewazero.WithLogger(s.logger)}, opts...)
	return bridgewazero.Export(ctx, r, s.dispatcher, s.registry, opts...)
}

// Shutdown stops the managed runtime and closes the session. Only the
// first call has an effect; it is valid in every state.
func (s *Session) Shutdown(ctx context.Context) error {
	if s == nil || s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.runtime == nil {
		return nil
	}
	if err := s.runtime.Shutdown(ctx); err != nil {
		s.logger.WarnContext(ctx, "client: shutdown failed", "error", err)
		return fault("shutdown", err)
	}
	s.logger.InfoContext(ctx, "client: session closed")
	return nil
}

// fault reports err as a managed runtime fault unless it already is one.
func fault(op string, err error) error {
	if errors.Is(err, domainerrors.ErrManagedRuntimeFault) {
		return err
	}
	return &domainerrors.RuntimeFaultError{Operation: op, Err: err}
}
