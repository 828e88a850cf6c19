package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
)

// Handler processes one invocation request and returns its managed values.
type Handler func(ctx context.Context, req entities.InvocationRequest) ([]any, error)

// Middleware wraps a Handler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
//
// Example usage:
//
//	timing := func(next dispatch.Handler) dispatch.Handler {
//	    return func(ctx context.Context, req entities.InvocationRequest) ([]any, error) {
//	        start := time.Now()
//	        defer func() { record(req.Name, time.Since(start)) }()
//	        return next(ctx, req)
//	    }
//	}
type Middleware func(next Handler) Handler

// RecoveryMiddleware converts a panic anywhere below it into a PanicError.
// The marshalling engine already recovers callback panics; this also covers
// other middleware.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req entities.InvocationRequest) (values []any, err error) {
			defer func() {
				if r := recover(); r != nil {
					values = nil
					err = &domainerrors.PanicError{Name: req.Name, Value: r, Stack: debug.Stack()}
				}
			}()
			return next(ctx, req)
		}
	}
}

// LoggingMiddleware logs every invocation at debug level and failures at
// warn level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req entities.InvocationRequest) ([]any, error) {
			start := time.Now()
			values, err := next(ctx, req)
			attrs := []any{
				"kind", req.Kind,
				"name", req.Name,
				"request_id", req.ID,
				"duration", time.Since(start),
			}
			if err != nil {
				logger.WarnContext(ctx, "dispatch: invocation failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "dispatch: invocation completed", attrs...)
			}
			return values, err
		}
	}
}

func chain(h Handler, mw []Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
