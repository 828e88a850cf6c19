package dispatch

import (
	"context"

	"github.com/frontrow-dev/bridge/domain/entities"
)

// InvocationContext wraps a standard context.Context with the identity of
// the request being dispatched. Middleware can store request-scoped values
// on it without polluting the standard context.
type InvocationContext interface {
	context.Context

	// Kind returns the kind of feature being invoked.
	Kind() entities.Kind

	// FeatureName returns the name of the feature being invoked.
	FeatureName() string

	// RequestID returns the managed runtime's identifier for the request.
	RequestID() int64

	// SetValue stores a request-scoped value.
	SetValue(key, value any)

	// GetValue retrieves a request-scoped value set by SetValue.
	GetValue(key any) (value any, ok bool)
}

type invocationContext struct {
	context.Context
	values map[any]any
	kind   entities.Kind
	name   string
	id     int64
}

// NewInvocationContext creates an InvocationContext for req.
func NewInvocationContext(ctx context.Context, req entities.InvocationRequest) InvocationContext {
	return &invocationContext{
		Context: ctx,
		values:  make(map[any]any),
		kind:    req.Kind,
		name:    req.Name,
		id:      req.ID,
	}
}

// Kind returns the kind of feature being invoked.
func (c *invocationContext) Kind() entities.Kind {
	return c.kind
}

// FeatureName returns the name of the feature being invoked.
func (c *invocationContext) FeatureName() string {
	return c.name
}

// RequestID returns the managed runtime's identifier for the request.
func (c *invocationContext) RequestID() int64 {
	return c.id
}

// SetValue stores a request-scoped value.
func (c *invocationContext) SetValue(key, value any) {
	c.values[key] = value
}

// GetValue retrieves a request-scoped value.
func (c *invocationContext) GetValue(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// InvocationContextFrom returns ctx itself when it already is an
// InvocationContext, and a new one for req otherwise.
func InvocationContextFrom(ctx context.Context, req entities.InvocationRequest) InvocationContext {
	if ic, ok := ctx.(InvocationContext); ok {
		return ic
	}
	return NewInvocationContext(ctx, req)
}
