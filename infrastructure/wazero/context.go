package wazero

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// contextKey is a private type for context keys.
type contextKey struct {
	name string
}

var callerKey = &contextKey{name: "caller"}

// WithCallerName records the name of the guest module making a call.
func WithCallerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callerKey, name)
}

// CallerNameFromContext returns the guest module name recorded by an export.
// Dispatch middleware can use it to attribute invocations.
func CallerNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(callerKey).(string)
	return name, ok
}

// callerName prefers a name already on ctx and falls back to the module name.
func callerName(ctx context.Context, mod api.Module) string {
	if name, ok := CallerNameFromContext(ctx); ok {
		return name
	}
	if mod == nil {
		return ""
	}
	return mod.Name()
}
