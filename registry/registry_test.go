package registry

import (
	"context"
	"errors"
	"testing"
	"unsafe"

	"github.com/frontrow-dev/bridge/abi"
	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/marshal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(pairs ...string) []entities.Parameter {
	out := make([]entities.Parameter, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, entities.Parameter{Name: pairs[i], Type: pairs[i+1]})
	}
	return out
}

func noopFunction(in, out []unsafe.Pointer) {}
func noopSensor(out unsafe.Pointer)         {}
func noopAxis(in unsafe.Pointer)            {}

func TestNew_Empty(t *testing.T) {
	r := New()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Features())
	assert.Empty(t, r.Names(entities.KindFunction))
}

func TestRegisterFunction(t *testing.T) {
	r := New()

	f, err := r.RegisterFunction("multiply", params("x", "int", "y", "int"), params("product", "int"), noopFunction)
	require.NoError(t, err)
	assert.Equal(t, "multiply", f.Name())
	assert.Equal(t, entities.KindFunction, f.Kind())
	assert.Len(t, f.Spec().Parameters, 2)
	assert.Equal(t, "int", f.Spec().Returns[0].Strategy.Descriptor().String())

	got, err := r.Function("multiply")
	require.NoError(t, err)
	assert.Same(t, f, got)
}

func TestRegisterFunction_EmptySignature(t *testing.T) {
	r := New()
	f, err := r.RegisterFunction("ping", nil, nil, noopFunction)
	require.NoError(t, err)
	assert.Empty(t, f.Parameters())
	assert.Empty(t, f.Returns())
}

func TestRegisterFunction_Rejects(t *testing.T) {
	tests := []struct {
		sentinel error
		callback abi.FunctionCallback
		name     string
		fn       string
		params   []entities.Parameter
		returns  []entities.Parameter
	}{
		{name: "empty name", fn: "", callback: noopFunction, sentinel: domainerrors.ErrInvalidArgument},
		{name: "nil callback", fn: "f", sentinel: domainerrors.ErrInvalidArgument},
		{name: "unknown parameter type", fn: "f", params: params("x", "tensor"), callback: noopFunction, sentinel: domainerrors.ErrUnknownType},
		{name: "unknown return type", fn: "f", returns: params("y", "int[][]"), callback: noopFunction, sentinel: domainerrors.ErrUnknownType},
		{name: "empty parameter name", fn: "f", params: params("", "int"), callback: noopFunction, sentinel: domainerrors.ErrInvalidArgument},
		{name: "empty parameter type", fn: "f", params: params("x", ""), callback: noopFunction, sentinel: domainerrors.ErrInvalidArgument},
		{name: "duplicate parameter", fn: "f", params: params("x", "int", "x", "double"), callback: noopFunction, sentinel: domainerrors.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			_, err := r.RegisterFunction(tt.fn, tt.params, tt.returns, tt.callback)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.Zero(t, r.Len(), "a rejected registration must not create an entry")
		})
	}
}

func TestRegisterFunction_LastWriteWins(t *testing.T) {
	r := New()
	engine := marshal.NewEngine()

	calledOld, calledNew := false, false
	_, err := r.RegisterFunction("f", nil, params("v", "int"), func(in, out []unsafe.Pointer) {
		calledOld = true
		abi.SetScalar(out[0], int32(1))
	})
	require.NoError(t, err)
	_, err = r.RegisterFunction("f", nil, params("v", "int"), func(in, out []unsafe.Pointer) {
		calledNew = true
		abi.SetScalar(out[0], int32(2))
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	f, err := r.Function("f")
	require.NoError(t, err)
	got, err := engine.Invoke(context.Background(), f.Name(), f.Spec(), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2)}, got)
	assert.False(t, calledOld)
	assert.True(t, calledNew)
}

func TestRegisterFunction_StrictMode(t *testing.T) {
	r := New(WithStrictMode(true))

	_, err := r.RegisterFunction("f", nil, nil, noopFunction)
	require.NoError(t, err)
	_, err = r.RegisterFunction("f", nil, nil, noopFunction)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrDuplicateName))

	// Names are scoped to their kind.
	_, err = r.RegisterSensor("f", "double", noopSensor)
	assert.NoError(t, err)
}

func TestRegisterSensor(t *testing.T) {
	r := New()

	s, err := r.RegisterSensor("temperature", "double", noopSensor, WithRange(-40, 125))
	require.NoError(t, err)
	assert.Equal(t, "double", s.Type())

	feature := s.Feature()
	assert.Equal(t, entities.KindSensor, feature.Kind)
	require.NotNil(t, feature.Range)
	assert.Equal(t, entities.Range{Min: -40, Max: 125}, *feature.Range)

	_, err = r.RegisterSensor("bad", "tensor", noopSensor)
	assert.True(t, errors.Is(err, domainerrors.ErrUnknownType))

	_, err = r.RegisterSensor("nil", "double", nil)
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidArgument))

	_, err = r.RegisterSensor("inverted", "double", noopSensor, WithRange(10, 0))
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidArgument))

	assert.Equal(t, []string{"temperature"}, r.Names(entities.KindSensor))
}

func TestRegisterAxis(t *testing.T) {
	r := New()

	a, err := r.RegisterAxis("throttle", "double", noopAxis, WithRange(-1, 1), WithGroup("drive"), WithDirection("forward"))
	require.NoError(t, err)

	feature := a.Feature()
	assert.Equal(t, entities.KindAxis, feature.Kind)
	assert.Equal(t, "double", feature.Type)
	assert.Equal(t, "drive", feature.Group)
	assert.Equal(t, "forward", feature.Direction)

	_, err = r.RegisterAxis("", "double", noopAxis)
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidArgument))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterStream(t *testing.T) {
	r := New(WithStrictMode(true))

	st, err := r.RegisterStream("camera", "mjpeg", "127.0.0.1", 8554)
	require.NoError(t, err)
	assert.Equal(t, entities.Feature{
		Kind: entities.KindStream, Name: "camera", Format: "mjpeg", Address: "127.0.0.1", Port: 8554,
	}, st.Feature())

	got, err := r.Stream("camera")
	require.NoError(t, err)
	assert.Equal(t, "mjpeg", got.Format())
	assert.Equal(t, uint16(8554), got.Port())
	assert.Equal(t, []string{"camera"}, r.Names(entities.KindStream))

	_, err = r.RegisterStream("camera", "h264", "127.0.0.1", 8555)
	assert.True(t, errors.Is(err, domainerrors.ErrDuplicateName))

	_, err = r.Stream("lidar")
	assert.True(t, errors.Is(err, domainerrors.ErrNotFound))
}

func TestRegisterStream_Rejects(t *testing.T) {
	tests := map[string]struct {
		name, format, address string
		port                  uint16
	}{
		"empty name":      {"", "mjpeg", "localhost", 1},
		"empty format":    {"camera", "", "localhost", 1},
		"empty address":   {"camera", "mjpeg", "", 1},
		"invalid address": {"camera", "mjpeg", "not a host!", 1},
		"zero port":       {"camera", "mjpeg", "localhost", 0},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := New()
			_, err := r.RegisterStream(tt.name, tt.format, tt.address, tt.port)
			assert.True(t, errors.Is(err, domainerrors.ErrInvalidArgument))
			assert.Zero(t, r.Len())
		})
	}
}

func TestPrepareDoesNotStore(t *testing.T) {
	r := New()

	f, err := r.PrepareFunction("f", nil, nil, noopFunction)
	require.NoError(t, err)
	assert.Zero(t, r.Len())

	require.NoError(t, r.Commit(f))
	assert.Equal(t, 1, r.Len())
}

func TestLookup(t *testing.T) {
	r := New()
	_, err := r.RegisterFunction("f", nil, nil, noopFunction)
	require.NoError(t, err)

	e, err := r.Lookup(entities.KindFunction, "f")
	require.NoError(t, err)
	assert.Equal(t, "f", e.Name())

	for _, kind := range []entities.Kind{entities.KindSensor, entities.KindAxis, entities.KindStream, entities.Kind("bogus")} {
		e, err := r.Lookup(kind, "f")
		assert.Nil(t, e)
		assert.True(t, errors.Is(err, domainerrors.ErrNotFound))

		var nf *domainerrors.NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, kind, nf.Kind)
	}
}

func TestFeatures_Ordering(t *testing.T) {
	r := New()
	_, err := r.RegisterAxis("z_axis", "double", noopAxis)
	require.NoError(t, err)
	_, err = r.RegisterSensor("b_sensor", "int", noopSensor)
	require.NoError(t, err)
	_, err = r.RegisterFunction("b_func", nil, nil, noopFunction)
	require.NoError(t, err)
	_, err = r.RegisterFunction("a_func", params("x", "string"), nil, noopFunction)
	require.NoError(t, err)
	_, err = r.RegisterStream("a_stream", "mjpeg", "localhost", 8554)
	require.NoError(t, err)

	var names []string
	for _, f := range r.Features() {
		names = append(names, string(f.Kind)+":"+f.Name)
	}
	assert.Equal(t, []string{"function:a_func", "function:b_func", "sensor:b_sensor", "axis:z_axis", "stream:a_stream"}, names)
}

func TestEntry_ParametersAreCopies(t *testing.T) {
	r := New()
	p := params("x", "int")
	f, err := r.RegisterFunction("f", p, nil, noopFunction)
	require.NoError(t, err)

	p[0].Name = "mutated"
	assert.Equal(t, "x", f.Parameters()[0].Name)

	got := f.Parameters()
	got[0].Name = "again"
	assert.Equal(t, "x", f.Parameters()[0].Name)
}
