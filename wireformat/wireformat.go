// Package wireformat defines the JSON messages exchanged between a client
// and the bridge server. Every message is a single JSON object carrying
// message_id and message_type next to its variant fields; on a connection
// each message is terminated by a newline.
package wireformat

import (
	"fmt"
	"sort"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/frontrow-dev/bridge/domain/entities"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType is the value of the message_type field.
type MessageType string

const (
	TypeMachineDescription   MessageType = "machine_description"
	TypeFunctionCall         MessageType = "function_call"
	TypeFunctionReturn       MessageType = "function_return"
	TypeSensorRead           MessageType = "sensor_read"
	TypeSensorReturn         MessageType = "sensor_return"
	TypeAxisChange           MessageType = "axis_change"
	TypeAxisReturn           MessageType = "axis_return"
	TypeUnsupportedOperation MessageType = "unsupported_operation"
	TypeHeartbeat            MessageType = "heartbeat"
	TypeReset                MessageType = "reset"
	TypeDisconnect           MessageType = "disconnect"
	TypeStreamDescriptor     MessageType = "stream_descriptor"
)

// Reasons carried by UnsupportedOperation replies to unknown names.
const (
	ReasonUnrecognizedFunction = "unrecognized function"
	ReasonUnrecognizedSensor   = "unrecognized sensor"
	ReasonUnrecognizedAxis     = "unrecognized axis"
)

// Message is implemented by every variant.
type Message interface {
	MessageType() MessageType
}

// FunctionDescriptor lists a function's parameter and return types by name.
type FunctionDescriptor struct {
	Parameters map[string]string `json:"parameters"`
	Returns    map[string]string `json:"returns"`
}

// SensorDescriptor describes a sensor's output.
type SensorDescriptor struct {
	Type string  `json:"type" jsonschema:"enum=byte,enum=short,enum=int,enum=long,enum=float,enum=double,enum=bool,enum=string,enum=byte[],enum=short[],enum=int[],enum=long[],enum=float[],enum=double[],enum=bool[],enum=string[]"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// AxisDescriptor describes an axis's input.
type AxisDescriptor struct {
	Type      string  `json:"type" jsonschema:"enum=byte,enum=short,enum=int,enum=long,enum=float,enum=double,enum=bool,enum=string,enum=byte[],enum=short[],enum=int[],enum=long[],enum=float[],enum=double[],enum=bool[],enum=string[]"`
	Direction string  `json:"direction"`
	Group     string  `json:"group"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// StreamDescriptor advertises a data stream and the endpoint serving it.
type StreamDescriptor struct {
	Format  string `json:"format" jsonschema:"minLength=1"`
	Address string `json:"address" jsonschema:"minLength=1"`
	Port    uint16 `json:"port" jsonschema:"minimum=1"`
}

// MachineDescription is the first message a client sends after connecting.
type MachineDescription struct {
	Functions map[string]FunctionDescriptor `json:"functions"`
	Sensors   map[string]SensorDescriptor   `json:"sensors"`
	Axes      map[string]AxisDescriptor     `json:"axes"`
	Streams   map[string]StreamDescriptor   `json:"streams"`
	Name      string                        `json:"name" jsonschema:"minLength=1"`
}

// FunctionCall asks the client to run a function.
type FunctionCall struct {
	Parameters  map[string]any `json:"parameters"`
	Destination string         `json:"destination"`
	Name        string         `json:"name"`
}

// FunctionReturn answers a FunctionCall.
type FunctionReturn struct {
	Returns map[string]any `json:"returns"`
	ReplyTo int64          `json:"reply_to"`
}

// SensorRead asks the client for a sensor value.
type SensorRead struct {
	Destination string `json:"destination"`
	Name        string `json:"name"`
}

// SensorReturn answers a SensorRead.
type SensorReturn struct {
	Value   any   `json:"value"`
	ReplyTo int64 `json:"reply_to"`
}

// AxisChange asks the client to drive an axis.
type AxisChange struct {
	Destination string  `json:"destination"`
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
}

// AxisReturn acknowledges an AxisChange.
type AxisReturn struct {
	ReplyTo int64 `json:"reply_to"`
}

// UnsupportedOperation rejects a request.
type UnsupportedOperation struct {
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
	ReplyTo   int64  `json:"reply_to"`
}

// Heartbeat is a keepalive request or reply.
type Heartbeat struct {
	IsReply bool `json:"is_reply"`
}

// Reset asks the client to return to a safe state.
type Reset struct {
	Destination string `json:"destination"`
}

// Disconnect announces that the sender is going away.
type Disconnect struct{}

// StreamDescription is the first message on a stream connection. It names
// the machine and the stream the connection carries.
type StreamDescription struct {
	Machine string `json:"machine"`
	Stream  string `json:"stream"`
}

func (MachineDescription) MessageType() MessageType   { return TypeMachineDescription }
func (FunctionCall) MessageType() MessageType         { return TypeFunctionCall }
func (FunctionReturn) MessageType() MessageType       { return TypeFunctionReturn }
func (SensorRead) MessageType() MessageType           { return TypeSensorRead }
func (SensorReturn) MessageType() MessageType         { return TypeSensorReturn }
func (AxisChange) MessageType() MessageType           { return TypeAxisChange }
func (AxisReturn) MessageType() MessageType           { return TypeAxisReturn }
func (UnsupportedOperation) MessageType() MessageType { return TypeUnsupportedOperation }
func (Heartbeat) MessageType() MessageType            { return TypeHeartbeat }
func (Reset) MessageType() MessageType                { return TypeReset }
func (Disconnect) MessageType() MessageType           { return TypeDisconnect }
func (StreamDescription) MessageType() MessageType    { return TypeStreamDescriptor }

// Envelope is a decoded message with its identifier.
type Envelope struct {
	Message Message
	ID      int64
}

// Sequence hands out message identifiers, starting at 1.
type Sequence struct {
	last atomic.Int64
}

// Next returns the next identifier.
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}

// Encode serializes msg with the given identifier. The result carries no
// trailing newline.
func Encode(id int64, msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("wireformat: nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wireformat: encode %s: %w", msg.MessageType(), err)
	}
	return Stamp(body, id, msg.MessageType())
}

// Stamp sets message_id and message_type on an already encoded object.
func Stamp(body []byte, id int64, typ MessageType) ([]byte, error) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("wireformat: %s body is not a JSON object", typ)
	}
	body, err := sjson.SetBytes(body, "message_id", id)
	if err != nil {
		return nil, fmt.Errorf("wireformat: stamp message_id: %w", err)
	}
	body, err = sjson.SetBytes(body, "message_type", string(typ))
	if err != nil {
		return nil, fmt.Errorf("wireformat: stamp message_type: %w", err)
	}
	return body, nil
}

// Peek reads the identifier and type of an encoded message without decoding
// its body. A missing message_id reads as -1.
func Peek(frame []byte) (int64, MessageType, error) {
	if !gjson.ValidBytes(frame) {
		return 0, "", fmt.Errorf("wireformat: frame is not valid JSON")
	}
	typ := gjson.GetBytes(frame, "message_type")
	if typ.Type != gjson.String {
		return 0, "", fmt.Errorf("wireformat: missing message_type")
	}
	id := int64(-1)
	if v := gjson.GetBytes(frame, "message_id"); v.Exists() {
		if v.Type != gjson.Number {
			return 0, "", fmt.Errorf("wireformat: message_id is not an integer")
		}
		id = v.Int()
	}
	return id, MessageType(typ.String()), nil
}

// Decode parses one frame into its typed message.
func Decode(frame []byte) (Envelope, error) {
	id, typ, err := Peek(frame)
	if err != nil {
		return Envelope{}, err
	}
	msg, err := newMessage(typ)
	if err != nil {
		return Envelope{}, err
	}
	if err := json.Unmarshal(frame, msg); err != nil {
		return Envelope{}, fmt.Errorf("wireformat: decode %s: %w", typ, err)
	}
	return Envelope{ID: id, Message: deref(msg)}, nil
}

// DecodeMap parses one frame into a generic object, keeping message_id and
// message_type as fields. Numbers decode as float64 except message_id and
// reply_to, which decode as int64.
func DecodeMap(frame []byte) (map[string]any, error) {
	id, _, err := Peek(frame)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(frame, &out); err != nil {
		return nil, fmt.Errorf("wireformat: decode: %w", err)
	}
	out["message_id"] = id
	if v := gjson.GetBytes(frame, "reply_to"); v.Type == gjson.Number {
		out["reply_to"] = v.Int()
	}
	return out, nil
}

func newMessage(typ MessageType) (Message, error) {
	switch typ {
	case TypeMachineDescription:
		return &MachineDescription{}, nil
	case TypeFunctionCall:
		return &FunctionCall{}, nil
	case TypeFunctionReturn:
		return &FunctionReturn{}, nil
	case TypeSensorRead:
		return &SensorRead{}, nil
	case TypeSensorReturn:
		return &SensorReturn{}, nil
	case TypeAxisChange:
		return &AxisChange{}, nil
	case TypeAxisReturn:
		return &AxisReturn{}, nil
	case TypeUnsupportedOperation:
		return &UnsupportedOperation{}, nil
	case TypeHeartbeat:
		return &Heartbeat{}, nil
	case TypeReset:
		return &Reset{}, nil
	case TypeDisconnect:
		return &Disconnect{}, nil
	case TypeStreamDescriptor:
		return &StreamDescription{}, nil
	default:
		return nil, fmt.Errorf("wireformat: unknown message_type %q", typ)
	}
}

func deref(msg Message) Message {
	switch m := msg.(type) {
	case *MachineDescription:
		return *m
	case *FunctionCall:
		return *m
	case *FunctionReturn:
		return *m
	case *SensorRead:
		return *m
	case *SensorReturn:
		return *m
	case *AxisChange:
		return *m
	case *AxisReturn:
		return *m
	case *UnsupportedOperation:
		return *m
	case *Heartbeat:
		return *m
	case *Reset:
		return *m
	case *Disconnect:
		return *m
	case *StreamDescription:
		return *m
	default:
		return msg
	}
}

// Describe builds the machine description for name and features.
func Describe(name string, features []entities.Feature) MachineDescription {
	d := MachineDescription{
		Name:      name,
		Functions: map[string]FunctionDescriptor{},
		Sensors:   map[string]SensorDescriptor{},
		Axes:      map[string]AxisDescriptor{},
		Streams:   map[string]StreamDescriptor{},
	}
	for _, f := range features {
		var lo, hi float64
		if f.Range != nil {
			lo, hi = f.Range.Min, f.Range.Max
		}
		switch f.Kind {
		case entities.KindFunction:
			d.Functions[f.Name] = FunctionDescriptor{
				Parameters: typesByName(f.Parameters),
				Returns:    typesByName(f.Returns),
			}
		case entities.KindSensor:
			d.Sensors[f.Name] = SensorDescriptor{Type: f.Type, Min: lo, Max: hi}
		case entities.KindAxis:
			d.Axes[f.Name] = AxisDescriptor{Type: f.Type, Min: lo, Max: hi, Direction: f.Direction, Group: f.Group}
		case entities.KindStream:
			d.Streams[f.Name] = StreamDescriptor{Format: f.Format, Address: f.Address, Port: f.Port}
		}
	}
	return d
}

// FunctionNames returns the described function names in sorted order.
func (d MachineDescription) FunctionNames() []string {
	names := make([]string, 0, len(d.Functions))
	for name := range d.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func typesByName(params []entities.Parameter) map[string]string {
	out := make(map[string]string, len(params))
	for _, p := range params {
		out[p.Name] = p.Type
	}
	return out
}
