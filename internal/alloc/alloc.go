// Package alloc provides alignment-aware buffer allocation for device I/O.
//
// Device queues require buffers aligned to the DMA boundary. Heap
// over-allocates and slices to the boundary, which works everywhere; Mmap
// asks the kernel for page-aligned regions directly.
package alloc

import (
	"fmt"
	"sync"
	"unsafe"
)

// Allocator hands out aligned buffers and takes them back.
type Allocator interface {
	// Allocate returns a buffer of exactly size bytes whose first byte is
	// aligned to align.
	Allocate(size, align int) ([]byte, error)

	// Free returns a buffer obtained from Allocate. Freeing a buffer the
	// allocator did not hand out, or freeing twice, is an error.
	Free(buf []byte) error
}

// Aligned reports whether the first byte of buf sits on an align boundary.
// align must be a power of two; zero-length buffers are trivially aligned.
func Aligned(buf []byte, align int) bool {
	if len(buf) == 0 {
		return true
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	return addr&uintptr(align-1) == 0
}

// Heap allocates from the Go heap by over-allocating align-1 extra bytes
// and offsetting to the boundary. Portable but the backing arrays are
// subject to normal GC movement rules, which the runtime today does not
// apply to heap slices.
type Heap struct {
	mu   sync.Mutex
	live map[uintptr][]byte
}

// NewHeap creates a heap-backed allocator.
func NewHeap() *Heap {
	return &Heap{live: make(map[uintptr][]byte)}
}

func (h *Heap) Allocate(size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("alloc: invalid size %d", size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("alloc: alignment %d is not a power of two", align)
	}

	raw := make([]byte, size+align-1)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	off := 0
	if rem := int(addr & uintptr(align-1)); rem != 0 {
		off = align - rem
	}
	buf := raw[off : off+size : off+size]

	h.mu.Lock()
	// Keeping raw alive under the aligned address also prevents the GC
	// from collecting the backing array while the buffer is in flight
	// inside a device queue.
	h.live[uintptr(unsafe.Pointer(&buf[0]))] = raw
	h.mu.Unlock()
	return buf, nil
}

func (h *Heap) Free(buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("alloc: free of empty buffer")
	}
	key := uintptr(unsafe.Pointer(&buf[0]))

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.live[key]; !ok {
		return fmt.Errorf("alloc: free of unknown or already freed buffer")
	}
	delete(h.live, key)
	return nil
}

var _ Allocator = (*Heap)(nil)
