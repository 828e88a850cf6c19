package marshal

import (
	"fmt"
	"unsafe"

	"github.com/frontrow-dev/bridge/abi"
	"github.com/frontrow-dev/bridge/domain/entities"
)

// codec converts one scalar element between its canonical managed form and
// its native layout. Array strategies reuse the element codec.
type codec struct {
	// put writes v into dst. The returned value, when non-nil, must be kept
	// alive for as long as dst is in use.
	put func(dst unsafe.Pointer, v any) (keep any, err error)
	get func(src unsafe.Pointer) (any, error)

	size uintptr
	// pointers marks elements that are themselves pointers to Go memory.
	pointers bool
}

// codecs is the scalar table. Adding a scalar to the vocabulary means adding
// a row here.
var codecs = map[entities.ScalarKind]codec{
	entities.ScalarByte:   intCodec[int8](8),
	entities.ScalarShort:  intCodec[int16](16),
	entities.ScalarInt:    intCodec[int32](32),
	entities.ScalarLong:   intCodec[int64](64),
	entities.ScalarFloat:  floatCodec[float32](32),
	entities.ScalarDouble: floatCodec[float64](64),
	entities.ScalarBool:   boolCodec(),
	entities.ScalarString: stringCodec(),
}

func intCodec[T int8 | int16 | int32 | int64](bits int) codec {
	var zero T
	return codec{
		size: unsafe.Sizeof(zero),
		put: func(dst unsafe.Pointer, v any) (any, error) {
			n, err := toInt(v, bits)
			if err != nil {
				return nil, err
			}
			*(*T)(dst) = T(n)
			return nil, nil
		},
		get: func(src unsafe.Pointer) (any, error) {
			return int64(*(*T)(src)), nil
		},
	}
}

func floatCodec[T float32 | float64](bits int) codec {
	var zero T
	return codec{
		size: unsafe.Sizeof(zero),
		put: func(dst unsafe.Pointer, v any) (any, error) {
			f, err := toFloat(v, bits)
			if err != nil {
				return nil, err
			}
			*(*T)(dst) = T(f)
			return nil, nil
		},
		get: func(src unsafe.Pointer) (any, error) {
			return float64(*(*T)(src)), nil
		},
	}
}

func boolCodec() codec {
	return codec{
		size: 1,
		put: func(dst unsafe.Pointer, v any) (any, error) {
			b, err := toBool(v)
			if err != nil {
				return nil, err
			}
			abi.SetBool(dst, b)
			return nil, nil
		},
		get: func(src unsafe.Pointer) (any, error) {
			return abi.Bool(src), nil
		},
	}
}

// stringCodec elements are pointers to NUL-terminated bytes.
func stringCodec() codec {
	return codec{
		size:     unsafe.Sizeof(unsafe.Pointer(nil)),
		pointers: true,
		put: func(dst unsafe.Pointer, v any) (any, error) {
			s, err := toString(v)
			if err != nil {
				return nil, err
			}
			buf := make([]byte, len(s)+1)
			copy(buf, s)
			*(*unsafe.Pointer)(dst) = unsafe.Pointer(&buf[0])
			return buf, nil
		},
		get: func(src unsafe.Pointer) (any, error) {
			p := *(*unsafe.Pointer)(src)
			if p == nil {
				return nil, fmt.Errorf("string pointer not set")
			}
			s, ok := abi.CString(p, abi.MaxStringLength)
			if !ok {
				return nil, fmt.Errorf("string not terminated within %d bytes", abi.MaxStringLength)
			}
			return s, nil
		},
	}
}

// buffer allocates zeroed Go memory for n elements of c. Pointer elements
// get pointer-typed storage so the collector traces them.
func (c codec) buffer(n int) (unsafe.Pointer, any) {
	if n == 0 {
		return nil, nil
	}
	if c.pointers {
		buf := make([]unsafe.Pointer, n)
		return unsafe.Pointer(&buf[0]), buf
	}
	buf := make([]uint64, (uintptr(n)*c.size+7)/8)
	return unsafe.Pointer(&buf[0]), buf
}
