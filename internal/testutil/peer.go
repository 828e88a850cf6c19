package testutil

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frontrow-dev/bridge/infrastructure/transport"
	"github.com/frontrow-dev/bridge/wireformat"
)

// PeerTimeout bounds every wait performed by a Peer.
const PeerTimeout = 3 * time.Second

// Peer plays the bridge server: it accepts one client connection and
// exchanges wireformat messages with it.
type Peer struct {
	t        *testing.T
	ln       net.Listener
	accepted chan net.Conn
	conn     *transport.Conn
	queue    []received
	seq      wireformat.Sequence
	Port     uint16
}

type received struct {
	env   wireformat.Envelope
	frame []byte
}

// NewPeer listens on a loopback port. The listener and any accepted
// connection are closed when the test ends.
func NewPeer(t *testing.T) *Peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := &Peer{t: t, ln: ln, accepted: make(chan net.Conn, 1), Port: uint16(port)}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(p.accepted)
			return
		}
		p.accepted <- c
	}()
	t.Cleanup(p.Close)
	return p
}

// Address is the host the peer listens on.
func (p *Peer) Address() string {
	return "127.0.0.1"
}

func (p *Peer) connection() *transport.Conn {
	p.t.Helper()
	if p.conn != nil {
		return p.conn
	}
	select {
	case c, ok := <-p.accepted:
		require.True(p.t, ok, "peer listener closed before a client connected")
		p.conn = transport.NewConn(c, 0)
	case <-time.After(PeerTimeout):
		require.FailNow(p.t, "no client connected to peer")
	}
	return p.conn
}

// Send writes msg to the client and returns its message id.
func (p *Peer) Send(msg wireformat.Message) int64 {
	p.t.Helper()
	id := p.seq.Next()
	frame, err := wireformat.Encode(id, msg)
	require.NoError(p.t, err)
	require.NoError(p.t, p.connection().WriteFrame(frame))
	return id
}

// SendRaw writes an arbitrary frame to the client.
func (p *Peer) SendRaw(frame string) {
	p.t.Helper()
	require.NoError(p.t, p.connection().WriteFrame([]byte(frame)))
}

// Expect waits for the next message of type typ, calling pump between read
// attempts so a single-threaded client can make progress. Messages of other
// types are kept for later calls. It returns the decoded envelope and the
// raw frame.
func (p *Peer) Expect(typ wireformat.MessageType, pump func()) (wireformat.Envelope, []byte) {
	p.t.Helper()
	conn := p.connection()
	deadline := time.Now().Add(PeerTimeout)
	for {
		for i, r := range p.queue {
			if r.env.Message.MessageType() == typ {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				return r.env, r.frame
			}
		}
		if time.Now().After(deadline) {
			require.FailNowf(p.t, "peer timed out", "no %s message arrived", typ)
		}
		if pump != nil {
			pump()
		}
		frames, err := conn.ReadFrames(10 * time.Millisecond)
		for _, f := range frames {
			env, derr := wireformat.Decode(f)
			require.NoError(p.t, derr, "client sent an undecodable frame: %s", f)
			p.queue = append(p.queue, received{env: env, frame: f})
		}
		if err != nil && len(frames) == 0 {
			require.FailNowf(p.t, "peer read failed", "waiting for %s: %v", typ, err)
		}
	}
}

// Pending returns the messages received but not yet expected.
func (p *Peer) Pending() []wireformat.Message {
	out := make([]wireformat.Message, 0, len(p.queue))
	for _, r := range p.queue {
		out = append(out, r.env.Message)
	}
	return out
}

// Close closes the listener and the connection.
func (p *Peer) Close() {
	_ = p.ln.Close()
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
