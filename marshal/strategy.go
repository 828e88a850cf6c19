// Package marshal converts between managed values and the raw slots native
// callbacks read and write.
//
// Resolve maps a type name to a Strategy. A Strategy builds borrowed
// InputSlots from managed values and OutputSlots that read a produced value
// back and carry the callback's release obligation. Managed values are
// canonical Go values: int64 for every integer width, float64 for both
// floating widths, bool, string and []any of those for arrays.
package marshal

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/frontrow-dev/bridge/abi"
	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
)

// Strategy marshals values of one type descriptor.
type Strategy interface {
	// Descriptor returns the type this strategy marshals.
	Descriptor() entities.TypeDescriptor

	// Input converts a managed value into a borrowed input slot.
	Input(v any) (*InputSlot, error)

	// Output allocates an empty output slot for the callback to fill.
	Output() *OutputSlot
}

// InputSlot is a borrowed view of a managed value in native layout.
// It is valid until the invocation that created it returns and never
// carries a release obligation.
type InputSlot struct {
	ptr  unsafe.Pointer
	keep []any
}

// Pointer returns the slot address passed to the callback.
func (s *InputSlot) Pointer() unsafe.Pointer { return s.ptr }

// KeepAlive marks the slot's backing memory as live up to this call.
func (s *InputSlot) KeepAlive() { runtime.KeepAlive(s.keep) }

// OutputSlot receives one value from a callback. Array and string slots are
// owned: the callback attaches a release obligation, and Release fires it at
// most once.
type OutputSlot struct {
	ptr     unsafe.Pointer
	keep    any
	read    func() (any, error)
	release func()
	once    sync.Once
	owned   bool
}

// Pointer returns the slot address passed to the callback.
func (s *OutputSlot) Pointer() unsafe.Pointer { return s.ptr }

// Owned reports whether the slot carries a release obligation.
func (s *OutputSlot) Owned() bool { return s.owned }

// Value reads the produced value back into its managed form.
func (s *OutputSlot) Value() (any, error) {
	v, err := s.read()
	runtime.KeepAlive(s.keep)
	return v, err
}

// Release fires the release obligation, if the callback attached one.
// Calls after the first are no-ops.
func (s *OutputSlot) Release() {
	if s.release == nil {
		return
	}
	s.once.Do(s.release)
}

// Resolve maps a type name to its Strategy.
func Resolve(typeName string) (Strategy, error) {
	d, ok := entities.ParseTypeDescriptor(typeName)
	if !ok {
		return nil, &domainerrors.UnknownTypeError{Name: typeName}
	}
	return ResolveDescriptor(d)
}

// ResolveDescriptor maps a parsed descriptor to its Strategy.
func ResolveDescriptor(d entities.TypeDescriptor) (Strategy, error) {
	c, ok := codecs[d.Scalar]
	if !ok {
		return nil, &domainerrors.UnknownTypeError{Name: d.String()}
	}
	switch {
	case d.Array:
		return &arrayStrategy{desc: d, elem: c}, nil
	case d.Scalar == entities.ScalarString:
		return &stringStrategy{desc: d, elem: c}, nil
	default:
		return &scalarStrategy{desc: d, elem: c}, nil
	}
}

// scalarStrategy handles numeric and bool scalars held in a single cell.
type scalarStrategy struct {
	elem codec
	desc entities.TypeDescriptor
}

func (s *scalarStrategy) Descriptor() entities.TypeDescriptor { return s.desc }

func (s *scalarStrategy) Input(v any) (*InputSlot, error) {
	ptr, buf := s.elem.buffer(1)
	if _, err := s.elem.put(ptr, v); err != nil {
		return nil, err
	}
	return &InputSlot{ptr: ptr, keep: []any{buf}}, nil
}

func (s *scalarStrategy) Output() *OutputSlot {
	ptr, buf := s.elem.buffer(1)
	return &OutputSlot{
		ptr:  ptr,
		keep: buf,
		read: func() (any, error) { return s.elem.get(ptr) },
	}
}

// stringStrategy passes strings in as a pointer to a pointer to
// NUL-terminated bytes and receives them as an abi.StringOutput.
type stringStrategy struct {
	elem codec
	desc entities.TypeDescriptor
}

func (s *stringStrategy) Descriptor() entities.TypeDescriptor { return s.desc }

func (s *stringStrategy) Input(v any) (*InputSlot, error) {
	ptr, buf := s.elem.buffer(1)
	keep, err := s.elem.put(ptr, v)
	if err != nil {
		return nil, err
	}
	return &InputSlot{ptr: ptr, keep: []any{buf, keep}}, nil
}

func (s *stringStrategy) Output() *OutputSlot {
	out := &abi.StringOutput{}
	return &OutputSlot{
		ptr:   unsafe.Pointer(out),
		keep:  out,
		owned: true,
		read: func() (any, error) {
			return s.elem.get(unsafe.Pointer(&out.Data))
		},
		release: func() {
			if out.Release != nil {
				out.Release(out.Data)
			}
		},
	}
}

// arrayStrategy passes arrays as abi.ArrayInput and receives them as
// abi.ArrayOutput, element by element through the scalar codec.
type arrayStrategy struct {
	elem codec
	desc entities.TypeDescriptor
}

func (s *arrayStrategy) Descriptor() entities.TypeDescriptor { return s.desc }

func (s *arrayStrategy) Input(v any) (*InputSlot, error) {
	list, err := toList(v)
	if err != nil {
		return nil, err
	}
	if len(list) > maxArrayLength {
		return nil, fmt.Errorf("array of %d elements exceeds the native length limit", len(list))
	}

	data, buf := s.elem.buffer(len(list))
	keep := make([]any, 0, len(list)+2)
	keep = append(keep, buf)
	for i, item := range list {
		k, err := s.elem.put(unsafe.Add(data, uintptr(i)*s.elem.size), item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if k != nil {
			keep = append(keep, k)
		}
	}

	in := &abi.ArrayInput{Length: int32(len(list)), Data: data} //nolint:gosec // G115: bounded by maxArrayLength
	keep = append(keep, in)
	return &InputSlot{ptr: unsafe.Pointer(in), keep: keep}, nil
}

func (s *arrayStrategy) Output() *OutputSlot {
	out := &abi.ArrayOutput{}
	return &OutputSlot{
		ptr:   unsafe.Pointer(out),
		keep:  out,
		owned: true,
		read: func() (any, error) {
			if out.Length < 0 {
				return nil, fmt.Errorf("negative array length %d", out.Length)
			}
			if out.Length > 0 && out.Data == nil {
				return nil, fmt.Errorf("array data not set for length %d", out.Length)
			}
			values := make([]any, out.Length)
			for i := range values {
				v, err := s.elem.get(unsafe.Add(out.Data, uintptr(i)*s.elem.size))
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				values[i] = v
			}
			return values, nil
		},
		release: func() {
			if out.Release != nil {
				out.Release(out.Length, out.Data)
			}
		},
	}
}

// maxArrayLength is the largest length an abi.ArrayInput can carry.
const maxArrayLength = 1<<31 - 1
