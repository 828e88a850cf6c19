package marshal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"unsafe"

	"github.com/frontrow-dev/bridge/abi"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
)

// Binding pairs a declared parameter name with its resolved Strategy.
type Binding struct {
	Strategy Strategy
	Name     string
}

// FunctionSpec is everything the engine needs to invoke a function.
type FunctionSpec struct {
	Callback   abi.FunctionCallback
	Parameters []Binding
	Returns    []Binding
}

// SensorSpec is everything the engine needs to read a sensor.
type SensorSpec struct {
	Output   Strategy
	Callback abi.SensorCallback
}

// AxisSpec is everything the engine needs to write an axis.
type AxisSpec struct {
	Input    Strategy
	Callback abi.AxisCallback
}

// Engine drives one callback invocation at a time: it builds the slots,
// calls the callback once, reads the outputs back and fires every release
// obligation before returning. An Engine holds no per-call state and may be
// shared.
type Engine struct {
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invoke marshals args, calls the function callback exactly once and
// returns its outputs in declaration order.
//
// The callback is not called when the argument count or any argument type
// is wrong. Output array and string slots are released exactly once, after
// read-back, even when the callback panics.
func (e *Engine) Invoke(ctx context.Context, name string, spec FunctionSpec, args []any) ([]any, error) {
	if spec.Callback == nil {
		return nil, fmt.Errorf("%w: function %q has no callback", domainerrors.ErrInvalidArgument, name)
	}
	if len(args) != len(spec.Parameters) {
		return nil, &domainerrors.ArityMismatchError{Name: name, Want: len(spec.Parameters), Got: len(args)}
	}

	inputs, inPtrs, err := buildInputs(spec.Parameters, args)
	if err != nil {
		return nil, err
	}

	outputs := make([]*OutputSlot, len(spec.Returns))
	outPtrs := make([]unsafe.Pointer, len(spec.Returns))
	for i, r := range spec.Returns {
		outputs[i] = r.Strategy.Output()
		outPtrs[i] = outputs[i].Pointer()
	}

	e.logger.DebugContext(ctx, "marshal: invoking function", "name", name,
		"inputs", len(inPtrs), "outputs", len(outPtrs))

	callErr := e.call(ctx, name, func() { spec.Callback(inPtrs, outPtrs) })
	for _, in := range inputs {
		in.KeepAlive()
	}

	values, readErr := e.collect(ctx, name, outputs, callErr == nil)
	if callErr != nil {
		return nil, callErr
	}
	if readErr != nil {
		return nil, readErr
	}
	return values, nil
}

// Read calls a sensor callback once and returns the value it produced.
func (e *Engine) Read(ctx context.Context, name string, spec SensorSpec) (any, error) {
	if spec.Callback == nil {
		return nil, fmt.Errorf("%w: sensor %q has no callback", domainerrors.ErrInvalidArgument, name)
	}

	out := spec.Output.Output()
	ptr := out.Pointer()

	e.logger.DebugContext(ctx, "marshal: reading sensor", "name", name)
	callErr := e.call(ctx, name, func() { spec.Callback(ptr) })

	values, readErr := e.collect(ctx, name, []*OutputSlot{out}, callErr == nil)
	if callErr != nil {
		return nil, callErr
	}
	if readErr != nil {
		return nil, readErr
	}
	return values[0], nil
}

// Write marshals v and passes it to an axis callback once.
func (e *Engine) Write(ctx context.Context, name string, spec AxisSpec, v any) error {
	if spec.Callback == nil {
		return fmt.Errorf("%w: axis %q has no callback", domainerrors.ErrInvalidArgument, name)
	}

	in, err := spec.Input.Input(v)
	if err != nil {
		return &domainerrors.TypeMismatchError{Index: 0, Want: spec.Input.Descriptor().String(), Value: v, Err: err}
	}
	ptr := in.Pointer()

	e.logger.DebugContext(ctx, "marshal: writing axis", "name", name)
	callErr := e.call(ctx, name, func() { spec.Callback(ptr) })
	in.KeepAlive()
	return callErr
}

func buildInputs(params []Binding, args []any) ([]*InputSlot, []unsafe.Pointer, error) {
	inputs := make([]*InputSlot, len(params))
	ptrs := make([]unsafe.Pointer, len(params))
	for i, p := range params {
		slot, err := p.Strategy.Input(args[i])
		if err != nil {
			return nil, nil, &domainerrors.TypeMismatchError{
				Index: i,
				Want:  p.Strategy.Descriptor().String(),
				Value: args[i],
				Err:   err,
			}
		}
		inputs[i] = slot
		ptrs[i] = slot.Pointer()
	}
	return inputs, ptrs, nil
}

// call runs fn, converting a panic into a PanicError.
func (e *Engine) call(ctx context.Context, name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			e.logger.ErrorContext(ctx, "marshal: callback panicked", "name", name, "panic", r)
			err = &domainerrors.PanicError{Name: name, Value: r, Stack: stack}
		}
	}()
	fn()
	return nil
}

// collect reads every output back (when read is set) and then releases it.
// Every slot is released exactly once whatever happens while reading.
func (e *Engine) collect(ctx context.Context, name string, outputs []*OutputSlot, read bool) ([]any, error) {
	values := make([]any, len(outputs))
	var errs []error

	for i, out := range outputs {
		if read {
			v, err := out.Value()
			if err != nil {
				errs = append(errs, &domainerrors.ContractViolationError{Name: name, Index: i, Reason: err.Error()})
			} else {
				values[i] = v
			}
		}
		if err := e.release(ctx, name, i, out); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return values, nil
}

func (e *Engine) release(ctx context.Context, name string, index int, out *OutputSlot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "marshal: release panicked", "name", name, "output", index, "panic", r)
			err = &domainerrors.ContractViolationError{Name: name, Index: index, Reason: fmt.Sprintf("release panicked: %v", r)}
		}
	}()
	out.Release()
	return nil
}
