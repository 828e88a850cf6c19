package abi

import "unsafe"

const ptrSize = int(unsafe.Sizeof(unsafe.Pointer(nil)))

func heapOrDefault(h *Heap) *Heap {
	if h == nil {
		return DefaultHeap
	}
	return h
}

// PutArray copies values into memory from h and fills the array output slot,
// including a Release that returns the memory to h. A nil h uses DefaultHeap.
func PutArray[T Number](h *Heap, slot unsafe.Pointer, values []T) {
	h = heapOrDefault(h)
	out := OutputArray(slot)

	var zero T
	data := h.Alloc(len(values) * int(unsafe.Sizeof(zero)))
	if len(values) > 0 {
		copy(unsafe.Slice((*T)(data), len(values)), values)
	}

	out.Length = int32(len(values)) //nolint:gosec // G115: array lengths are bounded by the heap limit
	out.Data = data
	out.Release = func(_ int32, p unsafe.Pointer) { h.Free(p) }
}

// PutBools fills a bool array output slot.
func PutBools(h *Heap, slot unsafe.Pointer, values []bool) {
	raw := make([]uint8, len(values))
	for i, v := range values {
		raw[i] = boolByte(v)
	}
	PutArray(h, slot, raw)
}

// PutString copies s with a NUL terminator into memory from h and fills the
// string output slot.
func PutString(h *Heap, slot unsafe.Pointer, s string) {
	h = heapOrDefault(h)
	out := OutputString(slot)
	out.Data = putCString(h, s)
	out.Release = func(p unsafe.Pointer) { h.Free(p) }
}

// PutStrings fills a string array output slot. Data points to an array of
// pointers to NUL-terminated strings; Release frees every element and the
// array itself.
func PutStrings(h *Heap, slot unsafe.Pointer, values []string) {
	h = heapOrDefault(h)
	out := OutputArray(slot)

	data := h.Alloc(len(values) * ptrSize)
	if len(values) > 0 {
		ptrs := unsafe.Slice((*unsafe.Pointer)(data), len(values))
		for i, s := range values {
			ptrs[i] = putCString(h, s)
		}
	}

	out.Length = int32(len(values)) //nolint:gosec // G115: array lengths are bounded by the heap limit
	out.Data = data
	out.Release = func(n int32, p unsafe.Pointer) {
		if p != nil && n > 0 {
			for _, elem := range unsafe.Slice((*unsafe.Pointer)(p), int(n)) {
				h.Free(elem)
			}
		}
		h.Free(p)
	}
}

func putCString(h *Heap, s string) unsafe.Pointer {
	p := h.Alloc(len(s) + 1)
	copy(unsafe.Slice((*byte)(p), len(s)), s)
	// Alloc zeroes memory, so the terminator is already in place.
	return p
}
