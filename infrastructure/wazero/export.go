package wazero

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/frontrow-dev/bridge/dispatch"
	"github.com/frontrow-dev/bridge/domain/entities"
	"github.com/frontrow-dev/bridge/registry"
)

// DefaultModuleName is the host module name guests import from.
const DefaultModuleName = "frontrow_native"

// DefaultMaxRequestSize limits strings and arrays read from guest memory (1MB).
const DefaultMaxRequestSize = 1 << 20

// AdapterConfig holds configuration for the export.
type AdapterConfig struct {
	// Logger receives invocation failures (default: slog.Default()).
	Logger *slog.Logger

	// ModuleName is the host module name (default: "frontrow_native").
	ModuleName string

	// SensorPrefix and AxisPrefix name sensor and axis exports
	// (defaults: "read_" and "write_").
	SensorPrefix string
	AxisPrefix   string

	// MaxRequestSize limits the size of incoming values from guest memory.
	MaxRequestSize uint32
}

// AdapterOption configures the export.
type AdapterOption func(*AdapterConfig)

// WithModuleName sets the host module name (default: "frontrow_native").
func WithModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.ModuleName = name
	}
}

// WithMaxRequestSize sets the maximum size of a value read from guest memory.
func WithMaxRequestSize(size uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxRequestSize = size
	}
}

// WithPrefixes sets the export name prefixes for sensors and axes.
func WithPrefixes(sensor, axis string) AdapterOption {
	return func(c *AdapterConfig) {
		c.SensorPrefix = sensor
		c.AxisPrefix = axis
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(c *AdapterConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// defaultAdapterConfig returns the default adapter configuration.
func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		Logger:         slog.Default(),
		ModuleName:     DefaultModuleName,
		SensorPrefix:   "read_",
		AxisPrefix:     "write_",
		MaxRequestSize: DefaultMaxRequestSize,
	}
}

// Export instantiates a host module exposing every entry currently in reg.
// Calls are routed through d, so its middleware applies. Entries registered
// later are not exported; call Export again on a fresh runtime to pick them
// up.
func Export(ctx context.Context, runtime wazero.Runtime, d *dispatch.Dispatcher, reg *registry.Registry, opts ...AdapterOption) (api.Module, error) {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)

	for _, name := range reg.Names(entities.KindFunction) {
		f, err := reg.Function(name)
		if err != nil {
			return nil, err
		}
		params, err := valueTypes(f.Parameters())
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		results, err := valueTypes(f.Returns())
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		e := &export{cfg: cfg, dispatcher: d, kind: entities.KindFunction, name: name,
			params: descriptors(f.Parameters()), results: descriptors(f.Returns())}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(e.call), params, results).
			Export(name)
	}

	for _, name := range reg.Names(entities.KindSensor) {
		s, err := reg.Sensor(name)
		if err != nil {
			return nil, err
		}
		results, err := valueTypes([]entities.Parameter{{Name: "value", Type: s.Type()}})
		if err != nil {
			return nil, fmt.Errorf("export sensor %s: %w", name, err)
		}
		e := &export{cfg: cfg, dispatcher: d, kind: entities.KindSensor, name: name,
			results: descriptors([]entities.Parameter{{Type: s.Type()}})}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(e.call), nil, results).
			Export(cfg.SensorPrefix + name)
	}

	for _, name := range reg.Names(entities.KindAxis) {
		a, err := reg.Axis(name)
		if err != nil {
			return nil, err
		}
		params, err := valueTypes([]entities.Parameter{{Name: "value", Type: a.Type()}})
		if err != nil {
			return nil, fmt.Errorf("export axis %s: %w", name, err)
		}
		e := &export{cfg: cfg, dispatcher: d, kind: entities.KindAxis, name: name,
			params: descriptors([]entities.Parameter{{Type: a.Type()}})}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(e.call), params, nil).
			Export(cfg.AxisPrefix + name)
	}

	return builder.Instantiate(ctx)
}

type export struct {
	dispatcher *dispatch.Dispatcher
	cfg        AdapterConfig
	kind       entities.Kind
	name       string
	params     []entities.TypeDescriptor
	results    []entities.TypeDescriptor
}

// call decodes the guest's arguments from stack, dispatches, and writes the
// results back onto stack. Failures panic, which wazero reports to the
// guest's caller as an error.
func (e *export) call(ctx context.Context, mod api.Module, stack []uint64) {
	ctx = WithCallerName(ctx, callerName(ctx, mod))

	args := make([]any, len(e.params))
	for i, d := range e.params {
		v, err := e.decode(mod, d, stack[i])
		if err != nil {
			e.fail(ctx, fmt.Errorf("argument %d: %w", i, err))
		}
		args[i] = v
	}

	req := entities.InvocationRequest{Kind: e.kind, Name: e.name, Arguments: args}
	result := e.dispatcher.Dispatch(ctx, req)
	if result.Err != nil {
		e.fail(ctx, result.Err)
	}
	if len(result.Values) != len(e.results) {
		e.fail(ctx, fmt.Errorf("expected %d results, got %d", len(e.results), len(result.Values)))
	}
	for i, d := range e.results {
		v, err := e.encode(ctx, mod, d, result.Values[i])
		if err != nil {
			e.fail(ctx, fmt.Errorf("result %d: %w", i, err))
		}
		stack[i] = v
	}
}

func (e *export) fail(ctx context.Context, err error) {
	e.cfg.Logger.ErrorContext(ctx, "wazero: export call failed",
		"kind", e.kind, "name", e.name, "error", err)
	panic(fmt.Errorf("%s %s: %w", e.kind, e.name, err))
}

func (e *export) decode(mod api.Module, d entities.TypeDescriptor, raw uint64) (any, error) {
	if byValue(d) {
		return decodeScalar(d.Scalar, raw), nil
	}

	ptr, length := unpackPtrLen(raw)
	size := length
	if d.Array && d.Scalar != entities.ScalarString {
		size = length * elemSize(d.Scalar)
	}
	if size > e.cfg.MaxRequestSize {
		return nil, fmt.Errorf("value size %d exceeds maximum %d bytes", size, e.cfg.MaxRequestSize)
	}
	if mod == nil || mod.Memory() == nil {
		return nil, fmt.Errorf("calling module has no memory")
	}
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("failed to read %d bytes at %d from guest memory", size, ptr)
	}

	switch {
	case !d.Array:
		return string(data), nil
	case d.Scalar == entities.ScalarString:
		return decodeStrings(data)
	default:
		return decodeArray(d.Scalar, data, int(length)), nil
	}
}

func (e *export) encode(ctx context.Context, mod api.Module, d entities.TypeDescriptor, v any) (uint64, error) {
	if byValue(d) {
		return encodeScalar(d.Scalar, v)
	}

	var data []byte
	var length int
	switch {
	case !d.Array:
		s, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("expected string, got %T", v)
		}
		data, length = []byte(s), len(s)
	case d.Scalar == entities.ScalarString:
		b, n, err := encodeStrings(v)
		if err != nil {
			return 0, err
		}
		data, length = b, n
	default:
		b, n, err := encodeArray(d.Scalar, v)
		if err != nil {
			return 0, err
		}
		data, length = b, n
	}

	ptr, err := writeGuest(ctx, mod, data)
	if err != nil {
		return 0, err
	}
	return packPtrLen(ptr, uint32(length)), nil //nolint:gosec // G115: bounded by guest memory
}

// writeGuest allocates memory in the guest and copies data into it.
func writeGuest(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	if mod == nil || mod.Memory() == nil {
		return 0, fmt.Errorf("calling module has no memory")
	}
	allocateFn := mod.ExportedFunction("allocate")
	if allocateFn == nil {
		return 0, fmt.Errorf("guest module missing 'allocate' export")
	}
	results, err := allocateFn.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to call guest allocate: %w", err)
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("failed to write %d bytes at %d to guest memory", len(data), ptr)
	}
	return ptr, nil
}

func descriptors(params []entities.Parameter) []entities.TypeDescriptor {
	out := make([]entities.TypeDescriptor, len(params))
	for i, p := range params {
		out[i], _ = entities.ParseTypeDescriptor(p.Type)
	}
	return out
}

// packPtrLen packs a pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen unpacks a pointer and length from a packed i64.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: Packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: Packed format stores 32-bit values
	return ptr, length
}
