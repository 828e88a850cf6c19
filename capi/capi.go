// Package capi is a handle based facade over client.Session with the shape
// of the native library interface: every call reports success as a bool and
// never panics. Failures are logged and kept on the handle for LastError.
package capi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frontrow-dev/bridge/abi"
	"github.com/frontrow-dev/bridge/client"
	"github.com/frontrow-dev/bridge/config"
	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/registry"
)

// Handle is an initialized library instance.
type Handle struct {
	session *client.Session
	logger  *slog.Logger
	lastErr error
}

// InitializeLibrary starts a session. It returns nil on failure.
func InitializeLibrary(cfg config.Config, opts ...client.Option) (h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("capi: InitializeLibrary panicked", "panic", r)
			h = nil
		}
	}()
	s, err := client.Initialize(context.Background(), cfg, opts...)
	if err != nil {
		slog.Default().Error("capi: InitializeLibrary failed", "error", err)
		return nil
	}
	return &Handle{session: s, logger: slog.Default().With("session", s.ID())}
}

// Session returns the session behind h, or nil.
func (h *Handle) Session() *client.Session {
	if h == nil {
		return nil
	}
	return h.session
}

// LastError returns the error of the most recent failed call on h.
func LastError(h *Handle) error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", domainerrors.ErrInvalidArgument)
	}
	return h.lastErr
}

// LastErrorDetail returns the structured form of LastError, or nil if no
// call on h has failed.
func LastErrorDetail(h *Handle) *entities.ErrorDetail {
	return domainerrors.ToErrorDetail(LastError(h))
}

// guard runs fn, converting an error or panic into false.
func guard(h *Handle, op string, fn func(s *client.Session) error) (ok bool) {
	if h == nil || h.session == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			h.lastErr = &domainerrors.PanicError{Name: op, Value: r}
			h.logger.Error("capi: call panicked", "op", op, "panic", r)
			ok = false
		}
	}()
	if err := fn(h.session); err != nil {
		h.lastErr = err
		h.logger.Error("capi: call failed", "op", op, "error", err)
		return false
	}
	return true
}

// SetName sets the client name.
func SetName(h *Handle, name string) bool {
	return guard(h, "SetName", func(s *client.Session) error {
		return s.SetName(context.Background(), name)
	})
}

// RegisterFunction registers a function. parameters and returns are
// {name, type} pairs; a pair of two empty strings ends the list early.
func RegisterFunction(h *Handle, name string, parameters, returns [][2]string, callback abi.FunctionCallback) bool {
	return guard(h, "RegisterFunction", func(s *client.Session) error {
		return s.RegisterFunction(context.Background(), name, pairs(parameters), pairs(returns), callback)
	})
}

// RegisterSensor registers a sensor producing values of outputType.
func RegisterSensor(h *Handle, name, outputType string, callback abi.SensorCallback, opts ...registry.FeatureOption) bool {
	return guard(h, "RegisterSensor", func(s *client.Session) error {
		return s.RegisterSensor(context.Background(), name, outputType, callback, opts...)
	})
}

// RegisterAxis registers an axis accepting values of inputType.
func RegisterAxis(h *Handle, name, inputType string, callback abi.AxisCallback, opts ...registry.FeatureOption) bool {
	return guard(h, "RegisterAxis", func(s *client.Session) error {
		return s.RegisterAxis(context.Background(), name, inputType, callback, opts...)
	})
}

// RegisterStream advertises a stream of the given format served at
// address:port. It fails once connected.
func RegisterStream(h *Handle, name, format, address string, port uint16) bool {
	return guard(h, "RegisterStream", func(s *client.Session) error {
		return s.RegisterStream(context.Background(), name, format, address, port)
	})
}

// ConnectToServer connects to the server at address:port.
func ConnectToServer(h *Handle, address string, port uint16) bool {
	return guard(h, "ConnectToServer", func(s *client.Session) error {
		return s.Connect(context.Background(), address, port)
	})
}

// LibraryUpdate handles pending server requests.
func LibraryUpdate(h *Handle) bool {
	return guard(h, "LibraryUpdate", func(s *client.Session) error {
		return s.Update(context.Background())
	})
}

// ShutdownLibrary shuts the library down. The handle must not be used
// afterwards; calls on it fail.
func ShutdownLibrary(h *Handle) {
	guard(h, "ShutdownLibrary", func(s *client.Session) error {
		return s.Shutdown(context.Background())
	})
}

func pairs(in [][2]string) []entities.Parameter {
	out := make([]entities.Parameter, 0, len(in))
	for _, p := range in {
		if p[0] == "" && p[1] == "" {
			break
		}
		out = append(out, entities.Parameter{Name: p[0], Type: p[1]})
	}
	return out
}
