package wazero

import (
	"encoding/binary"
	"fmt"
	"math"

	jsoniter "github.com/json-iterator/go"
	"github.com/tetratelabs/wazero/api"

	"github.com/frontrow-dev/bridge/domain/entities"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// valueTypes maps parameters to the WASM value types carrying them.
func valueTypes(params []entities.Parameter) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(params))
	for i, p := range params {
		d, ok := entities.ParseTypeDescriptor(p.Type)
		if !ok {
			return nil, fmt.Errorf("parameter %q: unknown type %q", p.Name, p.Type)
		}
		out[i] = valueType(d)
	}
	return out, nil
}

func valueType(d entities.TypeDescriptor) api.ValueType {
	if d.Array {
		return api.ValueTypeI64
	}
	switch d.Scalar {
	case entities.ScalarLong, entities.ScalarString:
		return api.ValueTypeI64
	case entities.ScalarFloat:
		return api.ValueTypeF32
	case entities.ScalarDouble:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

// byValue reports whether values of d travel directly on the stack rather
// than through guest memory.
func byValue(d entities.TypeDescriptor) bool {
	return !d.Array && (d.Scalar.IsNumeric() || d.Scalar == entities.ScalarBool)
}

// decodeScalar converts a raw stack value into its canonical managed value.
func decodeScalar(k entities.ScalarKind, raw uint64) any {
	switch {
	case k == entities.ScalarLong:
		return int64(raw) //nolint:gosec // G115: i64 bit pattern
	case k.IsIntegral():
		return int64(api.DecodeI32(raw))
	case k == entities.ScalarFloat:
		return float64(api.DecodeF32(raw))
	case k == entities.ScalarDouble:
		return api.DecodeF64(raw)
	case k == entities.ScalarBool:
		return api.DecodeU32(raw) != 0
	default:
		return nil
	}
}

// encodeScalar converts a canonical managed value into a raw stack value.
func encodeScalar(k entities.ScalarKind, v any) (uint64, error) {
	switch {
	case k.IsIntegral():
		n, ok := v.(int64)
		if !ok {
			return 0, fmt.Errorf("expected %s, got %T", k, v)
		}
		if k == entities.ScalarLong {
			return api.EncodeI64(n), nil
		}
		return api.EncodeI32(int32(n)), nil //nolint:gosec // G115: range checked by the engine
	case k.IsNumeric():
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("expected %s, got %T", k, v)
		}
		if k == entities.ScalarFloat {
			return api.EncodeF32(float32(f)), nil
		}
		return api.EncodeF64(f), nil
	case k == entities.ScalarBool:
		b, ok := v.(bool)
		if !ok {
			return 0, fmt.Errorf("expected %s, got %T", k, v)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("no scalar encoding for %s", k)
	}
}

// elemSize is the byte width of one array element in guest memory.
func elemSize(k entities.ScalarKind) uint32 {
	switch k {
	case entities.ScalarShort:
		return 2
	case entities.ScalarInt, entities.ScalarFloat:
		return 4
	case entities.ScalarLong, entities.ScalarDouble:
		return 8
	default:
		return 1
	}
}

// decodeArray reads n little-endian elements from data.
func decodeArray(k entities.ScalarKind, data []byte, n int) []any {
	le := binary.LittleEndian
	size := int(elemSize(k))
	out := make([]any, n)
	for i := range n {
		b := data[i*size : (i+1)*size]
		switch k {
		case entities.ScalarByte:
			out[i] = int64(int8(b[0])) //nolint:gosec // G115: byte bit pattern
		case entities.ScalarShort:
			out[i] = int64(int16(le.Uint16(b))) //nolint:gosec // G115: short bit pattern
		case entities.ScalarInt:
			out[i] = int64(int32(le.Uint32(b))) //nolint:gosec // G115: int bit pattern
		case entities.ScalarLong:
			out[i] = int64(le.Uint64(b)) //nolint:gosec // G115: long bit pattern
		case entities.ScalarFloat:
			out[i] = float64(math.Float32frombits(le.Uint32(b)))
		case entities.ScalarDouble:
			out[i] = math.Float64frombits(le.Uint64(b))
		case entities.ScalarBool:
			out[i] = b[0] != 0
		}
	}
	return out
}

// encodeArray lays out a []any of canonical values as little-endian bytes.
// It returns the bytes and the element count.
func encodeArray(k entities.ScalarKind, v any) ([]byte, int, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("expected %s[], got %T", k, v)
	}
	le := binary.LittleEndian
	size := int(elemSize(k))
	data := make([]byte, len(items)*size)
	for i, item := range items {
		b := data[i*size : (i+1)*size]
		raw, err := encodeScalar(k, item)
		if err != nil {
			return nil, 0, fmt.Errorf("element %d: %w", i, err)
		}
		switch size {
		case 1:
			b[0] = byte(raw)
		case 2:
			le.PutUint16(b, uint16(raw)) //nolint:gosec // G115: truncation to element width
		case 4:
			le.PutUint32(b, uint32(raw)) //nolint:gosec // G115: truncation to element width
		case 8:
			le.PutUint64(b, raw)
		}
	}
	return data, len(items), nil
}

// decodeStrings parses a string[] carried as a JSON array.
func decodeStrings(data []byte) ([]any, error) {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode string[]: %w", err)
	}
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out, nil
}

// encodeStrings renders a string[] as a JSON array. The returned length is
// the byte length of the JSON text.
func encodeStrings(v any) ([]byte, int, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("expected string[], got %T", v)
	}
	strs := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, 0, fmt.Errorf("element %d: expected string, got %T", i, item)
		}
		strs[i] = s
	}
	data, err := json.Marshal(strs)
	if err != nil {
		return nil, 0, err
	}
	return data, len(data), nil
}
