// Package registry holds the named function, sensor, axis and stream
// entries of a session. Every type in a signature is resolved when the entry is built, so
// an unknown type is a registration error rather than an invocation error.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/frontrow-dev/bridge/abi"
	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/marshal"
	"github.com/go-playground/validator/v10"
)

// validate is a package-level singleton; validators cache struct metadata.
var validate = validator.New()

// registryConfig holds configuration for the Registry.
type registryConfig struct {
	logger     *slog.Logger
	strictMode bool // Fail on duplicate registrations
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		logger:     slog.Default(),
		strictMode: false, // Last registration for a name wins
	}
}

// Option configures a Registry instance.
type Option func(*registryConfig)

// WithStrictMode enables or disables rejection of duplicate names.
// Default is false: a repeated name replaces the previous entry.
func WithStrictMode(enabled bool) Option {
	return func(c *registryConfig) {
		c.strictMode = enabled
	}
}

// WithLogger sets the registry's logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(c *registryConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Registry stores entries keyed by name within their kind.
// It is owned by a single session and is not safe for concurrent mutation.
type Registry struct {
	functions map[string]*Function
	sensors   map[string]*Sensor
	axes      map[string]*Axis
	streams   map[string]*Stream
	config    registryConfig
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		functions: make(map[string]*Function),
		sensors:   make(map[string]*Sensor),
		axes:      make(map[string]*Axis),
		streams:   make(map[string]*Stream),
		config:    cfg,
	}
}

// functionSignature is the validated shape of a function registration.
type functionSignature struct {
	Name       string               `validate:"required"`
	Parameters []entities.Parameter `validate:"unique=Name,dive"`
	Returns    []entities.Parameter `validate:"unique=Name,dive"`
}

// singleSignature is the validated shape of a sensor or axis registration.
type singleSignature struct {
	Range *entities.Range
	Name  string `validate:"required"`
	Type  string `validate:"required"`
}

// streamSignature is the validated shape of a stream registration.
type streamSignature struct {
	Name    string `validate:"required"`
	Format  string `validate:"required"`
	Address string `validate:"required,hostname_rfc1123|ip"`
	Port    uint16 `validate:"required"`
}

// FeatureOption sets optional descriptive attributes of a sensor or axis.
type FeatureOption func(*featureConfig)

type featureConfig struct {
	rng       *entities.Range
	group     string
	direction string
}

// WithRange sets the value range of a sensor or axis.
func WithRange(minValue, maxValue float64) FeatureOption {
	return func(c *featureConfig) {
		c.rng = &entities.Range{Min: minValue, Max: maxValue}
	}
}

// WithGroup sets the group label of an axis.
func WithGroup(group string) FeatureOption {
	return func(c *featureConfig) {
		c.group = group
	}
}

// WithDirection sets the direction label of an axis.
func WithDirection(direction string) FeatureOption {
	return func(c *featureConfig) {
		c.direction = direction
	}
}

// PrepareFunction validates a function registration and resolves its types
// without storing it.
func (r *Registry) PrepareFunction(name string, parameters, returns []entities.Parameter, callback abi.FunctionCallback) (*Function, error) {
	if err := checkSignature(functionSignature{Name: name, Parameters: parameters, Returns: returns}); err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}
	if callback == nil {
		return nil, fmt.Errorf("function %q: %w: callback cannot be nil", name, domainerrors.ErrInvalidArgument)
	}

	params, err := bind(parameters)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}
	rets, err := bind(returns)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}

	return &Function{
		name:       name,
		parameters: append([]entities.Parameter(nil), parameters...),
		returns:    append([]entities.Parameter(nil), returns...),
		spec:       marshal.FunctionSpec{Parameters: params, Returns: rets, Callback: callback},
	}, nil
}

// PrepareSensor validates a sensor registration without storing it.
func (r *Registry) PrepareSensor(name, outputType string, callback abi.SensorCallback, opts ...FeatureOption) (*Sensor, error) {
	fc := applyFeatureOptions(opts)
	strategy, err := prepareSingle(singleSignature{Name: name, Type: outputType, Range: fc.rng}, callback == nil)
	if err != nil {
		return nil, fmt.Errorf("sensor %q: %w", name, err)
	}
	return &Sensor{
		name: name,
		typ:  outputType,
		rng:  fc.rng,
		spec: marshal.SensorSpec{Output: strategy, Callback: callback},
	}, nil
}

// PrepareAxis validates an axis registration without storing it.
func (r *Registry) PrepareAxis(name, inputType string, callback abi.AxisCallback, opts ...FeatureOption) (*Axis, error) {
	fc := applyFeatureOptions(opts)
	strategy, err := prepareSingle(singleSignature{Name: name, Type: inputType, Range: fc.rng}, callback == nil)
	if err != nil {
		return nil, fmt.Errorf("axis %q: %w", name, err)
	}
	return &Axis{
		name:      name,
		typ:       inputType,
		rng:       fc.rng,
		group:     fc.group,
		direction: fc.direction,
		spec:      marshal.AxisSpec{Input: strategy, Callback: callback},
	}, nil
}

// PrepareStream validates a stream registration without storing it.
func (r *Registry) PrepareStream(name, format, address string, port uint16) (*Stream, error) {
	if err := checkSignature(streamSignature{Name: name, Format: format, Address: address, Port: port}); err != nil {
		return nil, fmt.Errorf("stream %q: %w", name, err)
	}
	return &Stream{name: name, format: format, address: address, port: port}, nil
}

// Check reports whether entry could be committed. It only fails in strict
// mode, for a name that is already registered.
func (r *Registry) Check(entry Entry) error {
	if r.config.strictMode && r.has(entry.Kind(), entry.Name()) {
		return &domainerrors.DuplicateNameError{Kind: entry.Kind(), Name: entry.Name()}
	}
	return nil
}

// Commit stores a prepared entry. Outside strict mode an existing entry with
// the same kind and name is replaced.
func (r *Registry) Commit(entry Entry) error {
	if err := r.Check(entry); err != nil {
		return err
	}
	if r.has(entry.Kind(), entry.Name()) {
		r.config.logger.Warn("registry: replacing existing entry", "kind", entry.Kind(), "name", entry.Name())
	}

	switch e := entry.(type) {
	case *Function:
		r.functions[e.name] = e
	case *Sensor:
		r.sensors[e.name] = e
	case *Axis:
		r.axes[e.name] = e
	case *Stream:
		r.streams[e.name] = e
	default:
		return fmt.Errorf("%w: unsupported entry type %T", domainerrors.ErrInvalidArgument, entry)
	}
	return nil
}

// RegisterFunction prepares and commits a function entry.
func (r *Registry) RegisterFunction(name string, parameters, returns []entities.Parameter, callback abi.FunctionCallback) (*Function, error) {
	f, err := r.PrepareFunction(name, parameters, returns, callback)
	if err != nil {
		return nil, err
	}
	if err := r.Commit(f); err != nil {
		return nil, err
	}
	return f, nil
}

// RegisterSensor prepares and commits a sensor entry.
func (r *Registry) RegisterSensor(name, outputType string, callback abi.SensorCallback, opts ...FeatureOption) (*Sensor, error) {
	s, err := r.PrepareSensor(name, outputType, callback, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Commit(s); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterAxis prepares and commits an axis entry.
func (r *Registry) RegisterAxis(name, inputType string, callback abi.AxisCallback, opts ...FeatureOption) (*Axis, error) {
	a, err := r.PrepareAxis(name, inputType, callback, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Commit(a); err != nil {
		return nil, err
	}
	return a, nil
}

// RegisterStream prepares and commits a stream entry.
func (r *Registry) RegisterStream(name, format, address string, port uint16) (*Stream, error) {
	st, err := r.PrepareStream(name, format, address, port)
	if err != nil {
		return nil, err
	}
	if err := r.Commit(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Lookup returns the entry registered under kind and name.
func (r *Registry) Lookup(kind entities.Kind, name string) (Entry, error) {
	var (
		entry Entry
		ok    bool
	)
	switch kind {
	case entities.KindFunction:
		entry, ok = r.functions[name]
	case entities.KindSensor:
		entry, ok = r.sensors[name]
	case entities.KindAxis:
		entry, ok = r.axes[name]
	case entities.KindStream:
		entry, ok = r.streams[name]
	}
	if !ok {
		return nil, &domainerrors.NotFoundError{Kind: kind, Name: name}
	}
	return entry, nil
}

// Function returns the function registered under name.
func (r *Registry) Function(name string) (*Function, error) {
	f, ok := r.functions[name]
	if !ok {
		return nil, &domainerrors.NotFoundError{Kind: entities.KindFunction, Name: name}
	}
	return f, nil
}

// Sensor returns the sensor registered under name.
func (r *Registry) Sensor(name string) (*Sensor, error) {
	s, ok := r.sensors[name]
	if !ok {
		return nil, &domainerrors.NotFoundError{Kind: entities.KindSensor, Name: name}
	}
	return s, nil
}

// Axis returns the axis registered under name.
func (r *Registry) Axis(name string) (*Axis, error) {
	a, ok := r.axes[name]
	if !ok {
		return nil, &domainerrors.NotFoundError{Kind: entities.KindAxis, Name: name}
	}
	return a, nil
}

// Stream returns the stream registered under name.
func (r *Registry) Stream(name string) (*Stream, error) {
	st, ok := r.streams[name]
	if !ok {
		return nil, &domainerrors.NotFoundError{Kind: entities.KindStream, Name: name}
	}
	return st, nil
}

// Names returns the sorted names registered under kind.
func (r *Registry) Names(kind entities.Kind) []string {
	var names []string
	switch kind {
	case entities.KindFunction:
		names = keys(r.functions)
	case entities.KindSensor:
		names = keys(r.sensors)
	case entities.KindAxis:
		names = keys(r.axes)
	case entities.KindStream:
		names = keys(r.streams)
	}
	sort.Strings(names)
	return names
}

// Features describes every entry: functions, then sensors, axes and
// streams, each sorted by name.
func (r *Registry) Features() []entities.Feature {
	features := make([]entities.Feature, 0, r.Len())
	for _, kind := range []entities.Kind{entities.KindFunction, entities.KindSensor, entities.KindAxis, entities.KindStream} {
		for _, name := range r.Names(kind) {
			e, _ := r.Lookup(kind, name)
			features = append(features, e.Feature())
		}
	}
	return features
}

// Len returns the total number of entries.
func (r *Registry) Len() int {
	return len(r.functions) + len(r.sensors) + len(r.axes) + len(r.streams)
}

func (r *Registry) has(kind entities.Kind, name string) bool {
	_, err := r.Lookup(kind, name)
	return err == nil
}

func checkSignature(sig any) error {
	if err := validate.Struct(sig); err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrInvalidArgument, err)
	}
	return nil
}

func prepareSingle(sig singleSignature, nilCallback bool) (marshal.Strategy, error) {
	if err := checkSignature(sig); err != nil {
		return nil, err
	}
	if nilCallback {
		return nil, fmt.Errorf("%w: callback cannot be nil", domainerrors.ErrInvalidArgument)
	}
	return marshal.Resolve(sig.Type)
}

func bind(params []entities.Parameter) ([]marshal.Binding, error) {
	out := make([]marshal.Binding, len(params))
	for i, p := range params {
		s, err := marshal.Resolve(p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		out[i] = marshal.Binding{Name: p.Name, Strategy: s}
	}
	return out, nil
}

func applyFeatureOptions(opts []FeatureOption) featureConfig {
	var fc featureConfig
	for _, opt := range opts {
		opt(&fc)
	}
	return fc
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
