package registry

import (
	"slices"

	"github.com/frontrow-dev/bridge/domain/entities"
	"github.com/frontrow-dev/bridge/marshal"
)

// Entry is an immutable registration of one function, sensor, axis or
// stream.
type Entry interface {
	Kind() entities.Kind
	Name() string
	// Feature describes the entry to the managed runtime.
	Feature() entities.Feature
}

// Function is a registered function entry.
type Function struct {
	name       string
	parameters []entities.Parameter
	returns    []entities.Parameter
	spec       marshal.FunctionSpec
}

func (f *Function) Kind() entities.Kind { return entities.KindFunction }
func (f *Function) Name() string        { return f.name }

// Parameters returns a copy of the declared parameters.
func (f *Function) Parameters() []entities.Parameter { return slices.Clone(f.parameters) }

// Returns returns a copy of the declared return values.
func (f *Function) Returns() []entities.Parameter { return slices.Clone(f.returns) }

// Spec returns the resolved marshalling spec.
func (f *Function) Spec() marshal.FunctionSpec { return f.spec }

func (f *Function) Feature() entities.Feature {
	return entities.Feature{
		Kind:       entities.KindFunction,
		Name:       f.name,
		Parameters: f.Parameters(),
		Returns:    f.Returns(),
	}
}

// Sensor is a registered sensor entry.
type Sensor struct {
	rng  *entities.Range
	name string
	typ  string
	spec marshal.SensorSpec
}

func (s *Sensor) Kind() entities.Kind { return entities.KindSensor }
func (s *Sensor) Name() string        { return s.name }

// Type returns the declared output type.
func (s *Sensor) Type() string { return s.typ }

// Spec returns the resolved marshalling spec.
func (s *Sensor) Spec() marshal.SensorSpec { return s.spec }

func (s *Sensor) Feature() entities.Feature {
	return entities.Feature{
		Kind:  entities.KindSensor,
		Name:  s.name,
		Type:  s.typ,
		Range: cloneRange(s.rng),
	}
}

// Axis is a registered axis entry.
type Axis struct {
	rng       *entities.Range
	name      string
	typ       string
	group     string
	direction string
	spec      marshal.AxisSpec
}

func (a *Axis) Kind() entities.Kind { return entities.KindAxis }
func (a *Axis) Name() string        { return a.name }

// Type returns the declared input type.
func (a *Axis) Type() string { return a.typ }

// Spec returns the resolved marshalling spec.
func (a *Axis) Spec() marshal.AxisSpec { return a.spec }

func (a *Axis) Feature() entities.Feature {
	return entities.Feature{
		Kind:      entities.KindAxis,
		Name:      a.name,
		Type:      a.typ,
		Range:     cloneRange(a.rng),
		Group:     a.group,
		Direction: a.direction,
	}
}

// Stream is a registered stream entry. It has no callback; the server
// learns its format and endpoint from the machine description.
type Stream struct {
	name    string
	format  string
	address string
	port    uint16
}

func (s *Stream) Kind() entities.Kind { return entities.KindStream }
func (s *Stream) Name() string        { return s.name }

// Format returns the declared data format.
func (s *Stream) Format() string { return s.format }

// Address returns the host the stream is served from.
func (s *Stream) Address() string { return s.address }

// Port returns the port the stream is served on.
func (s *Stream) Port() uint16 { return s.port }

func (s *Stream) Feature() entities.Feature {
	return entities.Feature{
		Kind:    entities.KindStream,
		Name:    s.name,
		Format:  s.format,
		Address: s.address,
		Port:    s.port,
	}
}

func cloneRange(r *entities.Range) *entities.Range {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
