// Package transport provides the newline-framed TCP connection used to talk
// to the bridge server.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/frontrow-dev/bridge/domain/ports"
)

// DefaultMaxFrameSize bounds a single frame (1MB).
const DefaultMaxFrameSize = 1 << 20

const readChunk = 4096

// drain is how long ReadFrames keeps reading once it holds a complete frame.
const drain = time.Millisecond

// ErrFrameTooLarge is returned when a peer sends a frame above the limit.
var ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")

type dialerConfig struct {
	logger       *slog.Logger
	timeout      time.Duration
	delay        time.Duration
	attempts     uint
	maxFrameSize int
}

func defaultDialerConfig() dialerConfig {
	return dialerConfig{
		logger:       slog.Default(),
		timeout:      5 * time.Second,
		delay:        200 * time.Millisecond,
		attempts:     3,
		maxFrameSize: DefaultMaxFrameSize,
	}
}

// DialerOption configures a Dialer.
type DialerOption func(*dialerConfig)

// WithDialTimeout sets the per-attempt connect timeout (default 5s).
// A zero or negative duration is ignored.
func WithDialTimeout(d time.Duration) DialerOption {
	return func(c *dialerConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets the number of connect attempts and the initial backoff
// delay (defaults 3 and 200ms). Zero attempts is ignored.
func WithRetry(attempts uint, delay time.Duration) DialerOption {
	return func(c *dialerConfig) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if delay >= 0 {
			c.delay = delay
		}
	}
}

// WithMaxFrameSize sets the largest frame a connection accepts.
func WithMaxFrameSize(n int) DialerOption {
	return func(c *dialerConfig) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

// WithLogger sets the dialer's logger.
func WithLogger(logger *slog.Logger) DialerOption {
	return func(c *dialerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Dialer opens TCP connections with retries.
type Dialer struct {
	cfg dialerConfig
}

var _ ports.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer.
//
// Example:
//
//	d := transport.NewDialer(
//	    transport.WithDialTimeout(2*time.Second),
//	    transport.WithRetry(5, 100*time.Millisecond),
//	)
//	conn, err := d.Dial(ctx, "127.0.0.1", 7000)
func NewDialer(opts ...DialerOption) *Dialer {
	cfg := defaultDialerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dialer{cfg: cfg}
}

// Dial connects to address:port, backing off between failed attempts.
func (d *Dialer) Dial(ctx context.Context, address string, port uint16) (ports.Conn, error) {
	target := net.JoinHostPort(address, strconv.Itoa(int(port)))
	nd := net.Dialer{Timeout: d.cfg.timeout}

	var nc net.Conn
	err := retry.Do(func() error {
		c, err := nd.DialContext(ctx, "tcp", target)
		if err != nil {
			return err
		}
		nc = c
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(d.cfg.attempts),
		retry.Delay(d.cfg.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.cfg.logger.WarnContext(ctx, "transport: dial failed, retrying",
				"address", target, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", target, err)
	}

	d.cfg.logger.DebugContext(ctx, "transport: connected", "address", target)
	return NewConn(nc, d.cfg.maxFrameSize), nil
}

// Conn is a newline-framed connection.
type Conn struct {
	nc        net.Conn
	pending   []byte
	closeOnce sync.Once
	closeErr  error
	maxFrame  int
	eof       bool
	// skipping discards input up to the next newline after an oversized
	// partial frame was dropped.
	skipping bool
}

var _ ports.Conn = (*Conn)(nil)

// NewConn frames nc. A maxFrame of zero or less means DefaultMaxFrameSize.
func NewConn(nc net.Conn, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Conn{nc: nc, maxFrame: maxFrame}
}

// WriteFrame sends frame followed by a newline. Frames must not contain
// newlines themselves.
func (c *Conn) WriteFrame(frame []byte) error {
	if bytes.IndexByte(frame, '\n') >= 0 {
		return fmt.Errorf("transport: frame contains a newline")
	}
	if len(frame) > c.maxFrame {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	if _, err := c.nc.Write(buf); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// ReadFrames returns the complete frames that arrive within wait. It never
// blocks longer than wait, and a partial frame is kept for the next call.
// Once the peer has closed the connection and every buffered frame has been
// returned, ReadFrames returns io.EOF.
//
// A frame above the size limit is dropped and reported as ErrFrameTooLarge,
// together with the complete frames read before it. The rest of the
// oversized frame is discarded as it arrives.
func (c *Conn) ReadFrames(wait time.Duration) ([][]byte, error) {
	if c.eof {
		if frames, err := c.split(); err != nil || len(frames) > 0 {
			return frames, err
		}
		return nil, io.EOF
	}
	if wait <= 0 {
		wait = drain
	}
	if err := c.nc.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, fmt.Errorf("transport: set deadline: %w", err)
	}

	chunk := make([]byte, readChunk)
	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			if bytes.IndexByte(data, '\n') >= 0 {
				_ = c.nc.SetReadDeadline(time.Now().Add(drain))
			}
			if c.skipping {
				data = c.skip(data)
			}
			c.pending = append(c.pending, data...)
			if c.partialLen() > c.maxFrame {
				frames, _ := c.split()
				c.pending = nil
				c.skipping = true
				return frames, ErrFrameTooLarge
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			break
		}
		if errors.Is(err, io.EOF) {
			c.eof = true
			if frames, err := c.split(); err != nil || len(frames) > 0 {
				return frames, err
			}
			return nil, io.EOF
		}
		frames, _ := c.split()
		return frames, fmt.Errorf("transport: read: %w", err)
	}
	return c.split()
}

// split removes complete frames from the pending buffer. Blank lines are
// skipped; an oversized frame is dropped and reported after the others.
func (c *Conn) split() ([][]byte, error) {
	var frames [][]byte
	var err error
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(c.pending[:i], "\r")
		if len(line) > c.maxFrame {
			err = ErrFrameTooLarge
		} else if len(line) > 0 {
			frames = append(frames, bytes.Clone(line))
		}
		c.pending = c.pending[i+1:]
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return frames, err
}

// skip drops data up to and including the next newline and ends skipping
// once one is found.
func (c *Conn) skip(data []byte) []byte {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil
	}
	c.skipping = false
	return data[i+1:]
}

func (c *Conn) partialLen() int {
	if i := bytes.LastIndexByte(c.pending, '\n'); i >= 0 {
		return len(c.pending) - i - 1
	}
	return len(c.pending)
}

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// Close closes the connection. Repeated calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}
