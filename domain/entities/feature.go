package entities

// Kind distinguishes the kinds of registered feature.
type Kind string

const (
	KindFunction Kind = "function"
	KindSensor   Kind = "sensor"
	KindAxis     Kind = "axis"
	// KindStream is advertised to the server but never invoked.
	KindStream Kind = "stream"
)

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindFunction, KindSensor, KindAxis, KindStream:
		return true
	default:
		return false
	}
}

// Parameter is a named, typed slot in a function signature.
type Parameter struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Type string `json:"type" yaml:"type" validate:"required"`
}

// Range bounds the values a sensor produces or an axis accepts.
// It is descriptive; the bridge does not clamp values.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max" validate:"gtefield=Min"`
}

// Feature describes a registered function, sensor, axis or stream to the
// managed runtime. It carries no callback.
type Feature struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`

	// Parameters and Returns are set for functions.
	Parameters []Parameter `json:"parameters,omitempty"`
	Returns    []Parameter `json:"returns,omitempty"`

	// Type is the sensor output type or the axis input type.
	Type string `json:"type,omitempty"`

	Range     *Range `json:"range,omitempty"`
	Group     string `json:"group,omitempty"`
	Direction string `json:"direction,omitempty"`

	// Format, Address and Port are set for streams.
	Format  string `json:"format,omitempty"`
	Address string `json:"address,omitempty"`
	Port    uint16 `json:"port,omitempty"`
}

// InvocationRequest is one unit of work drained from the managed runtime.
// Arguments are canonical managed values: int64, float64, bool, string or
// []any of those. A sensor read has no arguments; an axis write has one.
type InvocationRequest struct {
	ID        int64
	Kind      Kind
	Name      string
	Arguments []any
}

// InvocationResult is the outcome of dispatching an InvocationRequest.
type InvocationResult struct {
	RequestID int64
	Kind      Kind
	Name      string
	Values    []any
	Err       error
}

// ResultFor builds the result skeleton for req.
func ResultFor(req InvocationRequest) InvocationResult {
	return InvocationResult{RequestID: req.ID, Kind: req.Kind, Name: req.Name}
}
