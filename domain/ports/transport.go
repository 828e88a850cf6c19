package ports

import (
	"context"
	"time"
)

// Dialer defines the interface for opening a framed connection to a peer.
// Infrastructure adapters implement this to provide transport.
type Dialer interface {
	// Dial connects to address:port.
	Dial(ctx context.Context, address string, port uint16) (Conn, error)
}

// Conn is a message-framed, bidirectional connection.
type Conn interface {
	// WriteFrame sends one complete message.
	WriteFrame(payload []byte) error

	// ReadFrames returns every complete message that arrives within wait.
	// Partial messages are retained for the next call. A zero wait only
	// drains what is already buffered by the OS.
	ReadFrames(wait time.Duration) ([][]byte, error)

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// RemoteAddr returns the remote address.
	RemoteAddr() string
}
