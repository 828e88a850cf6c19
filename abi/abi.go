// Package abi defines the raw slot layouts shared by the bridge and native
// callbacks, plus typed accessors for reading and writing them.
//
// A callback receives two ordered slices of slot pointers. The layout behind
// each pointer is fixed by the declared type of the slot:
//
//	int, double, ...   pointer to the scalar (bool is one byte, nonzero is true)
//	string (input)     pointer to a pointer to NUL-terminated bytes
//	T[] (input)        *ArrayInput
//	T[] (output)       *ArrayOutput
//	string (output)    *StringOutput
//
// Input slots are borrowed: they are valid only until the callback returns
// and must not be retained. Output arrays and strings are allocated by the
// callback, which also sets Release; the bridge copies the value out and
// calls Release exactly once.
package abi

import (
	"unsafe"
)

// MaxStringLength bounds how far the bridge scans for a NUL terminator when
// reading a string produced by a callback.
const MaxStringLength = 1 << 20 // 1 MiB

// Number is the set of native element types with a direct Go representation.
// Bool slots and elements use uint8.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64 | ~uint8
}

// ArrayInput is the layout of an array input slot.
// Length is authoritative; Data may be nil only when Length is zero.
type ArrayInput struct {
	Data   unsafe.Pointer
	Length int32
}

// ArrayOutput is the layout of an array output slot.
// The callback fills Length and Data and sets Release to free Data.
type ArrayOutput struct {
	Data    unsafe.Pointer
	Release func(length int32, data unsafe.Pointer)
	Length  int32
}

// StringOutput is the layout of a string output slot.
// Data points to NUL-terminated bytes owned by the callback until Release.
type StringOutput struct {
	Data    unsafe.Pointer
	Release func(data unsafe.Pointer)
}

// FunctionCallback is the native entry point of a registered function.
type FunctionCallback func(inputs, outputs []unsafe.Pointer)

// SensorCallback writes the current sensor value into output.
type SensorCallback func(output unsafe.Pointer)

// AxisCallback receives a new axis value through input.
type AxisCallback func(input unsafe.Pointer)

// Scalar reads a numeric scalar slot.
func Scalar[T Number](slot unsafe.Pointer) T {
	return *(*T)(slot)
}

// SetScalar writes a numeric scalar slot.
func SetScalar[T Number](slot unsafe.Pointer, v T) {
	*(*T)(slot) = v
}

// Bool reads a bool slot.
func Bool(slot unsafe.Pointer) bool {
	return *(*uint8)(slot) != 0
}

// SetBool writes a bool slot.
func SetBool(slot unsafe.Pointer, v bool) {
	*(*uint8)(slot) = boolByte(v)
}

// String reads a string input slot.
func String(slot unsafe.Pointer) string {
	s, _ := CString(*(*unsafe.Pointer)(slot), MaxStringLength)
	return s
}

// Array returns the descriptor behind an array input slot.
func Array(slot unsafe.Pointer) *ArrayInput {
	return (*ArrayInput)(slot)
}

// Elems returns a borrowed view of the elements of an array input slot.
// A zero-length array yields an empty, non-nil slice.
func Elems[T Number](slot unsafe.Pointer) []T {
	a := Array(slot)
	if a.Length <= 0 || a.Data == nil {
		return []T{}
	}
	return unsafe.Slice((*T)(a.Data), int(a.Length))
}

// Bools copies the elements of a bool array input slot.
func Bools(slot unsafe.Pointer) []bool {
	raw := Elems[uint8](slot)
	out := make([]bool, len(raw))
	for i, b := range raw {
		out[i] = b != 0
	}
	return out
}

// Strings copies the elements of a string array input slot.
func Strings(slot unsafe.Pointer) []string {
	a := Array(slot)
	if a.Length <= 0 || a.Data == nil {
		return []string{}
	}
	ptrs := unsafe.Slice((*unsafe.Pointer)(a.Data), int(a.Length))
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		out[i], _ = CString(p, MaxStringLength)
	}
	return out
}

// OutputArray returns the descriptor behind an array output slot.
func OutputArray(slot unsafe.Pointer) *ArrayOutput {
	return (*ArrayOutput)(slot)
}

// OutputString returns the descriptor behind a string output slot.
func OutputString(slot unsafe.Pointer) *StringOutput {
	return (*StringOutput)(slot)
}

// CString copies the NUL-terminated bytes at p, scanning at most limit bytes.
// It reports false when p is nil or no terminator is found within limit.
func CString(p unsafe.Pointer, limit int) (string, bool) {
	if p == nil {
		return "", false
	}
	for n := 0; n < limit; n++ {
		if *(*byte)(unsafe.Add(p, n)) == 0 {
			return string(unsafe.Slice((*byte)(p), n)), true
		}
	}
	return "", false
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
