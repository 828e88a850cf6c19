package abi

import (
	"fmt"
	"sync"
	"unsafe"
)

// DefaultLimit is the maximum number of bytes a Heap may hold at once.
const DefaultLimit = 100 * 1024 * 1024 // 100 MB

// Heap is a tracked allocator for memory a callback hands to the bridge.
// Every block stays pinned until freed, which lets tests assert that all
// release obligations fired. Blocks are 8-byte aligned.
type Heap struct {
	blocks    map[uintptr]block
	mu        sync.Mutex
	allocated int
	limit     int
}

type block struct {
	buf  []uint64
	size int
}

// HeapStats is a snapshot of a Heap's outstanding allocations.
type HeapStats struct {
	Blocks int
	Bytes  int
}

// HeapOption configures a Heap.
type HeapOption func(*Heap)

// WithLimit sets the maximum number of outstanding bytes.
func WithLimit(limit int) HeapOption {
	return func(h *Heap) {
		h.limit = limit
	}
}

// NewHeap creates an empty Heap.
func NewHeap(opts ...HeapOption) *Heap {
	h := &Heap{
		blocks: make(map[uintptr]block),
		limit:  DefaultLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// DefaultHeap is the process-wide heap used by the Put helpers when no heap
// is given.
var DefaultHeap = NewHeap()

// Alloc reserves size zeroed bytes and returns a pointer to them.
// A zero size returns nil. Panics if the allocation would exceed the limit.
func (h *Heap) Alloc(size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.allocated+size > h.limit {
		panic(fmt.Sprintf("abi: heap limit exceeded (requested: %d bytes, current: %d bytes, limit: %d bytes)",
			size, h.allocated, h.limit))
	}

	buf := make([]uint64, (size+7)/8)
	p := unsafe.Pointer(&buf[0])
	h.blocks[uintptr(p)] = block{buf: buf, size: size}
	h.allocated += size
	return p
}

// Free releases a block returned by Alloc. Nil and untracked pointers are
// ignored, so freeing twice is harmless.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.blocks[uintptr(p)]
	if !ok {
		return
	}
	delete(h.blocks, uintptr(p))
	h.allocated -= b.size
}

// Owns reports whether p is an outstanding block of h.
func (h *Heap) Owns(p unsafe.Pointer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.blocks[uintptr(p)]
	return ok
}

// Stats returns the outstanding allocations.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeapStats{Blocks: len(h.blocks), Bytes: h.allocated}
}

// FreeAll drops every outstanding block.
func (h *Heap) FreeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.blocks)
	h.allocated = 0
}
