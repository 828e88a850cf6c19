package capi

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontrow-dev/bridge/abi"
	"github.com/frontrow-dev/bridge/client"
	"github.com/frontrow-dev/bridge/config"
	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/internal/testutil"
	"github.com/frontrow-dev/bridge/log"
)

func initialize(t *testing.T) (*Handle, *testutil.FakeRuntime) {
	t.Helper()
	rt := &testutil.FakeRuntime{}
	h := InitializeLibrary(config.Default(),
		client.WithLauncher(&testutil.FakeLauncher{Runtime: rt}), client.WithLogger(log.Discard()))
	require.NotNil(t, h)
	h.logger = log.Discard()
	return h, rt
}

func TestInitializeLibrary_Failure(t *testing.T) {
	h := InitializeLibrary(config.Default(), client.WithLauncher(&testutil.FakeLauncher{}), client.WithLogger(log.Discard()))
	assert.Nil(t, h)
}

func TestNilHandle(t *testing.T) {
	assert.False(t, SetName(nil, "rover"))
	assert.False(t, RegisterFunction(nil, "f", nil, nil, func(in, out []unsafe.Pointer) {}))
	assert.False(t, RegisterSensor(nil, "s", "double", func(out unsafe.Pointer) {}))
	assert.False(t, RegisterAxis(nil, "a", "double", func(in unsafe.Pointer) {}))
	assert.False(t, RegisterStream(nil, "camera", "mjpeg", "localhost", 8554))
	assert.False(t, ConnectToServer(nil, "127.0.0.1", 1))
	assert.False(t, LibraryUpdate(nil))
	assert.NotPanics(t, func() { ShutdownLibrary(nil) })
	assert.ErrorIs(t, LastError(nil), domainerrors.ErrInvalidArgument)
	assert.Equal(t, "argument", LastErrorDetail(nil).Type)
	assert.Nil(t, (*Handle)(nil).Session())
}

func TestLifecycle(t *testing.T) {
	h, rt := initialize(t)

	require.True(t, SetName(h, "rover"))
	require.True(t, RegisterFunction(h, "multiply",
		[][2]string{{"x", "int"}, {"y", "int"}, {"", ""}, {"ignored", "int"}},
		[][2]string{{"product", "int"}},
		func(in, out []unsafe.Pointer) {
			abi.SetScalar(out[0], abi.Scalar[int32](in[0])*abi.Scalar[int32](in[1]))
		}))
	require.Len(t, rt.Features, 1)
	assert.Equal(t, []entities.Parameter{{Name: "x", Type: "int"}, {Name: "y", Type: "int"}}, rt.Features[0].Parameters)

	require.True(t, ConnectToServer(h, "127.0.0.1", 9000))
	rt.Enqueue(entities.InvocationRequest{ID: 1, Kind: entities.KindFunction, Name: "multiply",
		Arguments: []any{int64(3), int64(4)}})
	require.True(t, LibraryUpdate(h))
	require.Len(t, rt.Responses, 1)
	assert.Equal(t, []any{int64(12)}, rt.Responses[0].Values)

	ShutdownLibrary(h)
	assert.Equal(t, 1, rt.Shutdowns)
	assert.False(t, LibraryUpdate(h))
	assert.ErrorIs(t, LastError(h), domainerrors.ErrSessionClosed)
}

func TestFailuresReturnFalse(t *testing.T) {
	h, _ := initialize(t)

	assert.Nil(t, LastErrorDetail(h))

	assert.False(t, RegisterSensor(h, "field", "tensor", func(out unsafe.Pointer) {}))
	assert.ErrorIs(t, LastError(h), domainerrors.ErrUnknownType)
	detail := LastErrorDetail(h)
	require.NotNil(t, detail)
	assert.Equal(t, "type", detail.Type)
	assert.Equal(t, "tensor", detail.Code)

	assert.False(t, ConnectToServer(h, "127.0.0.1", 9000), "no name set")
	assert.False(t, LibraryUpdate(h), "not connected")
	assert.ErrorIs(t, LastError(h), domainerrors.ErrInvalidState)
	assert.Equal(t, "state", LastErrorDetail(h).Type)
}

func TestRegisterStream(t *testing.T) {
	h, rt := initialize(t)

	require.True(t, RegisterStream(h, "camera", "mjpeg", "10.0.0.2", 8554))
	require.Len(t, rt.Features, 1)
	assert.Equal(t, entities.KindStream, rt.Features[0].Kind)
	assert.Equal(t, uint16(8554), rt.Features[0].Port)

	assert.False(t, RegisterStream(h, "sonar", "raw", "10.0.0.2", 0))
	assert.ErrorIs(t, LastError(h), domainerrors.ErrInvalidArgument)

	require.True(t, SetName(h, "rover"))
	require.True(t, ConnectToServer(h, "127.0.0.1", 9000))
	assert.False(t, RegisterStream(h, "lidar", "pcap", "10.0.0.2", 9200))
	assert.ErrorIs(t, LastError(h), domainerrors.ErrInvalidState)
}

func TestPanicsAreRecovered(t *testing.T) {
	h, _ := initialize(t)
	var ok bool
	assert.NotPanics(t, func() {
		ok = guard(h, "test", func(*client.Session) error { panic("boom") })
	})
	assert.False(t, ok)
	assert.ErrorIs(t, LastError(h), domainerrors.ErrCallbackPanic)
}

func TestRegisterAxis(t *testing.T) {
	h, rt := initialize(t)
	assert.True(t, RegisterAxis(h, "throttle", "double", func(in unsafe.Pointer) {}))
	assert.True(t, RegisterSensor(h, "count", "double", func(out unsafe.Pointer) {}))
	assert.Len(t, rt.Features, 2)
	assert.Len(t, h.Session().Features(), 2)
}
