package marshal

import (
	"context"
	"errors"
	"testing"
	"unsafe"

	"github.com/frontrow-dev/bridge/abi"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindings(t *testing.T, types ...string) []Binding {
	t.Helper()
	out := make([]Binding, len(types))
	for i, typ := range types {
		s, err := Resolve(typ)
		require.NoError(t, err)
		out[i] = Binding{Name: typ, Strategy: s}
	}
	return out
}

func strategy(t *testing.T, typ string) Strategy {
	t.Helper()
	s, err := Resolve(typ)
	require.NoError(t, err)
	return s
}

// identity returns a callback that copies its single input to its single
// output, allocating owned outputs from h.
func identity(h *abi.Heap, typ string) abi.FunctionCallback {
	return func(in, out []unsafe.Pointer) {
		switch typ {
		case "byte":
			abi.SetScalar(out[0], abi.Scalar[int8](in[0]))
		case "short":
			abi.SetScalar(out[0], abi.Scalar[int16](in[0]))
		case "int":
			abi.SetScalar(out[0], abi.Scalar[int32](in[0]))
		case "long":
			abi.SetScalar(out[0], abi.Scalar[int64](in[0]))
		case "float":
			abi.SetScalar(out[0], abi.Scalar[float32](in[0]))
		case "double":
			abi.SetScalar(out[0], abi.Scalar[float64](in[0]))
		case "bool":
			abi.SetBool(out[0], abi.Bool(in[0]))
		case "string":
			abi.PutString(h, out[0], abi.String(in[0]))
		case "int[]":
			abi.PutArray(h, out[0], abi.Elems[int32](in[0]))
		case "long[]":
			abi.PutArray(h, out[0], abi.Elems[int64](in[0]))
		case "double[]":
			abi.PutArray(h, out[0], abi.Elems[float64](in[0]))
		case "bool[]":
			abi.PutBools(h, out[0], abi.Bools(in[0]))
		case "string[]":
			abi.PutStrings(h, out[0], abi.Strings(in[0]))
		}
	}
}

func TestEngine_ScalarRoundTrip(t *testing.T) {
	tests := []struct {
		in   any
		want any
		typ  string
	}{
		{typ: "int", in: int64(-123456), want: int64(-123456)},
		{typ: "int", in: 0, want: int64(0)},
		{typ: "byte", in: int64(-128), want: int64(-128)},
		{typ: "short", in: int64(32767), want: int64(32767)},
		{typ: "long", in: int64(1) << 40, want: int64(1) << 40},
		{typ: "float", in: 0.5, want: 0.5},
		{typ: "double", in: 3.141592653589793, want: 3.141592653589793},
		{typ: "double", in: int64(2), want: 2.0},
		{typ: "bool", in: true, want: true},
		{typ: "bool", in: false, want: false},
		{typ: "string", in: "hello, world", want: "hello, world"},
		{typ: "string", in: "", want: ""},
		{typ: "string", in: "héllo ✓", want: "héllo ✓"},
	}

	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			h := abi.NewHeap()
			spec := FunctionSpec{
				Parameters: bindings(t, tt.typ),
				Returns:    bindings(t, tt.typ),
				Callback:   identity(h, tt.typ),
			}

			got, err := e.Invoke(context.Background(), "identity", spec, []any{tt.in})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0])
			assert.Equal(t, abi.HeapStats{}, h.Stats())
		})
	}
}

func TestEngine_ArrayRoundTrip(t *testing.T) {
	tests := []struct {
		in   []any
		want []any
		typ  string
	}{
		{typ: "int[]", in: []any{}, want: []any{}},
		{typ: "int[]", in: []any{int64(3), int64(1), int64(2)}, want: []any{int64(3), int64(1), int64(2)}},
		{typ: "long[]", in: []any{int64(-1), int64(1) << 50}, want: []any{int64(-1), int64(1) << 50}},
		{typ: "double[]", in: []any{}, want: []any{}},
		{typ: "double[]", in: []any{0.25, -1.5, 1e10}, want: []any{0.25, -1.5, 1e10}},
		{typ: "bool[]", in: []any{true, false, true}, want: []any{true, false, true}},
		{typ: "string[]", in: []any{}, want: []any{}},
		{typ: "string[]", in: []any{"a", "", "xyz"}, want: []any{"a", "", "xyz"}},
	}

	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			h := abi.NewHeap()
			releases := 0
			inner := identity(h, tt.typ)
			cb := func(in, out []unsafe.Pointer) {
				inner(in, out)
				o := abi.OutputArray(out[0])
				release := o.Release
				o.Release = func(n int32, p unsafe.Pointer) {
					releases++
					release(n, p)
				}
			}

			spec := FunctionSpec{
				Parameters: bindings(t, tt.typ),
				Returns:    bindings(t, tt.typ),
				Callback:   cb,
			}

			got, err := e.Invoke(context.Background(), "identity", spec, []any{tt.in})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got[0])
			assert.Equal(t, 1, releases, "release must fire exactly once per output array")
			assert.Equal(t, abi.HeapStats{}, h.Stats())
		})
	}
}

func TestEngine_InputArraysAreBorrowed(t *testing.T) {
	e := NewEngine()
	var seenLength int32

	spec := FunctionSpec{
		Parameters: bindings(t, "double[]"),
		Returns:    bindings(t, "double"),
		Callback: func(in, out []unsafe.Pointer) {
			a := abi.Array(in[0])
			seenLength = a.Length
			sum := 0.0
			for _, v := range abi.Elems[float64](in[0]) {
				sum += v
			}
			abi.SetScalar(out[0], sum/float64(len(abi.Elems[float64](in[0]))))
		},
	}

	got, err := e.Invoke(context.Background(), "average", spec, []any{[]any{1.0, 2.0, 6.0}})
	require.NoError(t, err)
	assert.Equal(t, []any{3.0}, got)
	assert.Equal(t, int32(3), seenLength)
}

func TestEngine_Multiply(t *testing.T) {
	e := NewEngine()
	spec := FunctionSpec{
		Parameters: bindings(t, "int", "int"),
		Returns:    bindings(t, "int"),
		Callback: func(in, out []unsafe.Pointer) {
			abi.SetScalar(out[0], abi.Scalar[int32](in[0])*abi.Scalar[int32](in[1]))
		},
	}

	got, err := e.Invoke(context.Background(), "multiply", spec, []any{int64(3), int64(4)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(12)}, got)

	// Managed runtimes commonly hand integers over as float64.
	got, err = e.Invoke(context.Background(), "multiply", spec, []any{3.0, 4.0})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(12)}, got)
}

func TestEngine_MultipleReturns(t *testing.T) {
	e := NewEngine()
	spec := FunctionSpec{
		Parameters: bindings(t, "bool[]"),
		Returns:    bindings(t, "int", "int"),
		Callback: func(in, out []unsafe.Pointer) {
			var trues, falses int32
			for _, b := range abi.Bools(in[0]) {
				if b {
					trues++
				} else {
					falses++
				}
			}
			abi.SetScalar(out[0], trues)
			abi.SetScalar(out[1], falses)
		},
	}

	got, err := e.Invoke(context.Background(), "count_bools", spec, []any{[]any{true, true, false}})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(1)}, got)
}

func TestEngine_ArityMismatch(t *testing.T) {
	e := NewEngine()
	called := false
	spec := FunctionSpec{
		Parameters: bindings(t, "int", "int"),
		Returns:    bindings(t, "int"),
		Callback:   func(in, out []unsafe.Pointer) { called = true },
	}

	for _, args := range [][]any{nil, {int64(1)}, {int64(1), int64(2), int64(3)}} {
		_, err := e.Invoke(context.Background(), "multiply", spec, args)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domainerrors.ErrArityMismatch))

		var am *domainerrors.ArityMismatchError
		require.True(t, errors.As(err, &am))
		assert.Equal(t, 2, am.Want)
		assert.Equal(t, len(args), am.Got)
	}
	assert.False(t, called)
}

func TestEngine_TypeMismatch(t *testing.T) {
	e := NewEngine()
	called := false
	spec := FunctionSpec{
		Parameters: bindings(t, "int", "int"),
		Returns:    bindings(t, "int"),
		Callback:   func(in, out []unsafe.Pointer) { called = true },
	}

	tests := []struct {
		name  string
		args  []any
		index int
	}{
		{name: "string", args: []any{int64(3), "four"}, index: 1},
		{name: "fraction", args: []any{3.5, int64(4)}, index: 0},
		{name: "overflow", args: []any{int64(1), int64(1) << 40}, index: 1},
		{name: "array", args: []any{[]any{int64(1)}, int64(4)}, index: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Invoke(context.Background(), "multiply", spec, tt.args)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domainerrors.ErrTypeMismatch))

			var tm *domainerrors.TypeMismatchError
			require.True(t, errors.As(err, &tm))
			assert.Equal(t, tt.index, tm.Index)
			assert.Equal(t, "int", tm.Want)
		})
	}
	assert.False(t, called)
}

func TestEngine_VariableLengthOutput(t *testing.T) {
	e := NewEngine()
	h := abi.NewHeap()
	spec := FunctionSpec{
		Parameters: bindings(t, "int"),
		Returns:    bindings(t, "int[]"),
		Callback: func(in, out []unsafe.Pointer) {
			n := abi.Scalar[int32](in[0])
			seq := make([]int32, n)
			for i := range seq {
				seq[i] = int32(i)
			}
			abi.PutArray(h, out[0], seq)
		},
	}

	got, err := e.Invoke(context.Background(), "sequence", spec, []any{int64(5)})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{int64(0), int64(1), int64(2), int64(3), int64(4)}}, got)
	assert.Equal(t, abi.HeapStats{}, h.Stats())

	got, err = e.Invoke(context.Background(), "sequence", spec, []any{int64(0)})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{}}, got)
	assert.Equal(t, abi.HeapStats{}, h.Stats())
}

func TestEngine_PanicStillReleases(t *testing.T) {
	e := NewEngine()
	h := abi.NewHeap()
	spec := FunctionSpec{
		Returns: bindings(t, "string", "int[]"),
		Callback: func(in, out []unsafe.Pointer) {
			abi.PutString(h, out[0], "partial")
			panic("sensor unplugged")
		},
	}

	_, err := e.Invoke(context.Background(), "broken", spec, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrCallbackPanic))
	assert.Equal(t, abi.HeapStats{}, h.Stats(), "already-populated outputs must still be released")
}

func TestEngine_ContractViolation(t *testing.T) {
	e := NewEngine()
	released := 0
	spec := FunctionSpec{
		Returns: bindings(t, "int[]"),
		Callback: func(in, out []unsafe.Pointer) {
			o := abi.OutputArray(out[0])
			o.Length = -2
			o.Release = func(int32, unsafe.Pointer) { released++ }
		},
	}

	_, err := e.Invoke(context.Background(), "bad", spec, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domainerrors.ErrContractViolation))
	assert.Equal(t, 1, released)
}

func TestEngine_UnsetStringOutput(t *testing.T) {
	e := NewEngine()
	spec := FunctionSpec{
		Returns:  bindings(t, "string"),
		Callback: func(in, out []unsafe.Pointer) {},
	}

	_, err := e.Invoke(context.Background(), "lazy", spec, nil)
	assert.True(t, errors.Is(err, domainerrors.ErrContractViolation))
}

func TestEngine_ReleasePanic(t *testing.T) {
	e := NewEngine()
	spec := FunctionSpec{
		Returns: bindings(t, "int[]"),
		Callback: func(in, out []unsafe.Pointer) {
			abi.OutputArray(out[0]).Release = func(int32, unsafe.Pointer) { panic("double free") }
		},
	}

	_, err := e.Invoke(context.Background(), "bad_release", spec, nil)
	assert.True(t, errors.Is(err, domainerrors.ErrContractViolation))
}

func TestEngine_NilCallback(t *testing.T) {
	e := NewEngine()
	_, err := e.Invoke(context.Background(), "none", FunctionSpec{}, nil)
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidArgument))

	_, err = e.Read(context.Background(), "none", SensorSpec{Output: strategy(t, "double")})
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidArgument))

	err = e.Write(context.Background(), "none", AxisSpec{Input: strategy(t, "double")}, 1.0)
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidArgument))
}

func TestEngine_ReadSensor(t *testing.T) {
	e := NewEngine()
	counter := 0.0
	spec := SensorSpec{
		Output: strategy(t, "double"),
		Callback: func(out unsafe.Pointer) {
			counter++
			abi.SetScalar(out, counter)
		},
	}

	for _, want := range []float64{1.0, 2.0, 3.0} {
		got, err := e.Read(context.Background(), "count", spec)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEngine_ReadStringSensor(t *testing.T) {
	e := NewEngine()
	h := abi.NewHeap()
	spec := SensorSpec{
		Output:   strategy(t, "string"),
		Callback: func(out unsafe.Pointer) { abi.PutString(h, out, "ok") },
	}

	got, err := e.Read(context.Background(), "status", spec)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, abi.HeapStats{}, h.Stats())
}

func TestEngine_WriteAxis(t *testing.T) {
	e := NewEngine()
	var seen []float64
	spec := AxisSpec{
		Input:    strategy(t, "double"),
		Callback: func(in unsafe.Pointer) { seen = append(seen, abi.Scalar[float64](in)) },
	}

	require.NoError(t, e.Write(context.Background(), "throttle", spec, -0.5))
	require.NoError(t, e.Write(context.Background(), "throttle", spec, 0.5))
	assert.Equal(t, []float64{-0.5, 0.5}, seen)

	err := e.Write(context.Background(), "throttle", spec, "fast")
	var tm *domainerrors.TypeMismatchError
	require.True(t, errors.As(err, &tm))
	assert.Equal(t, 0, tm.Index)
	assert.Len(t, seen, 2)
}

func TestEngine_WriteAxisPanic(t *testing.T) {
	e := NewEngine()
	spec := AxisSpec{
		Input:    strategy(t, "bool"),
		Callback: func(unsafe.Pointer) { panic("stuck") },
	}

	err := e.Write(context.Background(), "gripper", spec, true)
	assert.True(t, errors.Is(err, domainerrors.ErrCallbackPanic))
}
