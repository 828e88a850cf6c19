package marshal

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// toInt coerces a managed value to a signed integer of the given width.
// Floats are accepted only when integral; values outside the width fail.
func toInt(v any, bits int) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows %d-bit integer", x, bits)
		}
		n = int64(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows %d-bit integer", x, bits)
		}
		n = int64(x)
	case float32:
		return toInt(float64(x), bits)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		if x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, fmt.Errorf("%v overflows %d-bit integer", x, bits)
		}
		n = int64(x)
	default:
		return 0, fmt.Errorf("not a number")
	}

	lo := int64(-1) << (bits - 1)
	hi := -(lo + 1)
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d overflows %d-bit integer", n, bits)
	}
	return n, nil
}

// toFloat coerces a managed value to a floating value of the given width.
// Integers of any width are accepted.
func toFloat(v any, bits int) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	default:
		return 0, fmt.Errorf("not a number")
	}

	if bits == 32 && !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return 0, fmt.Errorf("%v overflows float", f)
	}
	return f, nil
}

func toBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("not a bool")
	}
	return b, nil
}

// toString accepts strings without interior NUL bytes, which the native
// representation cannot carry.
func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("not a string")
	}
	if strings.IndexByte(s, 0) >= 0 {
		return "", fmt.Errorf("string contains a NUL byte")
	}
	return s, nil
}

// toList accepts []any and any other slice or array value.
func toList(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case nil:
		return nil, fmt.Errorf("not an array")
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("not an array")
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}
