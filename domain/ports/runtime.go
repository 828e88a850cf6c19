package ports

import (
	"context"

	"github.com/frontrow-dev/bridge/domain/entities"
)

// RuntimeLauncher starts a managed runtime.
type RuntimeLauncher interface {
	// Start boots the runtime and loads the given classpath entries.
	// A failed start must not leave resources behind.
	Start(ctx context.Context, classpath []string) (ManagedRuntime, error)
}

// ManagedRuntime is the embedded, dynamically typed runtime that hosts the
// counterpart object model. Calls are made from a single goroutine.
// Any fault raised inside the runtime is returned as an error.
type ManagedRuntime interface {
	// SetName assigns the display name announced to the remote peer.
	SetName(ctx context.Context, name string) error

	// Register announces a feature so the runtime can route requests for it.
	Register(ctx context.Context, feature entities.Feature) error

	// Connect establishes the runtime's connection to a remote peer.
	Connect(ctx context.Context, address string, port uint16) error

	// Poll drains pending invocation requests in the order received.
	// It does not block beyond the runtime's configured poll wait.
	Poll(ctx context.Context) ([]entities.InvocationRequest, error)

	// Respond delivers the outcome of one dispatched request.
	Respond(ctx context.Context, result entities.InvocationResult) error

	// Shutdown stops the runtime. It is called exactly once.
	Shutdown(ctx context.Context) error
}
