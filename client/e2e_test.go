package client

import (
	"context"
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontrow-dev/bridge/abi"
	"github.com/frontrow-dev/bridge/config"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/domain/ports"
	"github.com/frontrow-dev/bridge/infrastructure/transport"
	"github.com/frontrow-dev/bridge/internal/testutil"
	"github.com/frontrow-dev/bridge/log"
	"github.com/frontrow-dev/bridge/wireformat"
)

// TestEndToEnd drives the bundled JavaScript runtime against a TCP peer
// playing the server.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.PollWait = 5 * time.Millisecond
	cfg.DialAttempts = 1
	cfg.DialDelay = 0

	s, err := Initialize(ctx, cfg, WithLogger(log.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(ctx) })

	require.NoError(t, s.SetName(ctx, "rover"))
	require.NoError(t, s.RegisterFunction(ctx, "multiply", ints, product, multiply))

	count := 0.0
	require.NoError(t, s.RegisterSensor(ctx, "count", "double", func(out unsafe.Pointer) {
		count++
		abi.SetScalar(out, count)
	}))

	var throttle []float64
	require.NoError(t, s.RegisterAxis(ctx, "throttle", "double", func(in unsafe.Pointer) {
		throttle = append(throttle, abi.Scalar[float64](in))
	}))
	require.NoError(t, s.RegisterStream(ctx, "camera", "mjpeg", "127.0.0.1", 8554))

	peer := testutil.NewPeer(t)
	require.NoError(t, s.Connect(ctx, peer.Address(), peer.Port))

	env, _ := peer.Expect(wireformat.TypeMachineDescription, nil)
	desc := env.Message.(wireformat.MachineDescription)
	assert.Equal(t, "rover", desc.Name)
	assert.Equal(t, []string{"multiply"}, desc.FunctionNames())
	assert.Contains(t, desc.Sensors, "count")
	assert.Contains(t, desc.Axes, "throttle")
	assert.Equal(t, wireformat.StreamDescriptor{Format: "mjpeg", Address: "127.0.0.1", Port: 8554}, desc.Streams["camera"])

	update := func() { require.NoError(t, s.Update(ctx)) }

	callID := peer.Send(wireformat.FunctionCall{Destination: "rover", Name: "multiply",
		Parameters: map[string]any{"x": 3, "y": 4}})
	env, _ = peer.Expect(wireformat.TypeFunctionReturn, update)
	ret := env.Message.(wireformat.FunctionReturn)
	assert.Equal(t, callID, ret.ReplyTo)
	assert.EqualValues(t, 12, ret.Returns["product"])

	for _, want := range []float64{1, 2, 3} {
		readID := peer.Send(wireformat.SensorRead{Destination: "rover", Name: "count"})
		env, _ = peer.Expect(wireformat.TypeSensorReturn, update)
		got := env.Message.(wireformat.SensorReturn)
		assert.Equal(t, readID, got.ReplyTo)
		assert.EqualValues(t, want, got.Value)
	}

	for _, v := range []float64{-0.5, 0.5} {
		changeID := peer.Send(wireformat.AxisChange{Destination: "rover", Name: "throttle", Value: v})
		env, _ = peer.Expect(wireformat.TypeAxisReturn, update)
		assert.Equal(t, changeID, env.Message.(wireformat.AxisReturn).ReplyTo)
	}
	assert.Equal(t, []float64{-0.5, 0.5}, throttle)

	unknownID := peer.Send(wireformat.SensorRead{Destination: "rover", Name: "humidity"})
	env, _ = peer.Expect(wireformat.TypeUnsupportedOperation, update)
	rejected := env.Message.(wireformat.UnsupportedOperation)
	assert.Equal(t, unknownID, rejected.ReplyTo)
	assert.Equal(t, wireformat.ReasonUnrecognizedSensor, rejected.Reason)

	require.NoError(t, s.Shutdown(ctx))
	peer.Expect(wireformat.TypeDisconnect, nil)
	assert.Equal(t, StateClosed, s.State())
}

// failFirstWrite fails the first frame written on the first connection it
// dials.
type failFirstWrite struct {
	ports.Dialer
	dials int
}

func (d *failFirstWrite) Dial(ctx context.Context, address string, port uint16) (ports.Conn, error) {
	c, err := d.Dialer.Dial(ctx, address, port)
	if err != nil {
		return nil, err
	}
	d.dials++
	if d.dials == 1 {
		return &brokenConn{Conn: c}, nil
	}
	return c, nil
}

type brokenConn struct {
	ports.Conn
}

func (c *brokenConn) WriteFrame([]byte) error {
	return errors.New("connection reset")
}

func TestEndToEnd_ConnectAfterFailedDescription(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.PollWait = 5 * time.Millisecond

	dialer := &failFirstWrite{Dialer: transport.NewDialer(transport.WithRetry(1, 0))}
	s, err := Initialize(ctx, cfg, WithLogger(log.Discard()), WithDialer(dialer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(ctx) })
	require.NoError(t, s.SetName(ctx, "rover"))

	first := testutil.NewPeer(t)
	err = s.Connect(ctx, first.Address(), first.Port)
	assert.ErrorIs(t, err, domainerrors.ErrManagedRuntimeFault)
	assert.Equal(t, StateReady, s.State())

	second := testutil.NewPeer(t)
	require.NoError(t, s.Connect(ctx, second.Address(), second.Port))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 2, dialer.dials)

	env, _ := second.Expect(wireformat.TypeMachineDescription, nil)
	assert.Equal(t, "rover", env.Message.(wireformat.MachineDescription).Name)
}
