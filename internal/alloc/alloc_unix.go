//go:build unix

package alloc

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mmap allocates buffers as anonymous private mappings. Mappings are
// page-aligned, which satisfies any power-of-two alignment up to the page
// size, and they never move under the GC.
type Mmap struct {
	mu      sync.Mutex
	regions map[uintptr][]byte
}

// NewMmap creates an mmap-backed allocator.
func NewMmap() *Mmap {
	return &Mmap{regions: make(map[uintptr][]byte)}
}

func (m *Mmap) Allocate(size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("alloc: invalid size %d", size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("alloc: alignment %d is not a power of two", align)
	}
	pageSize := unix.Getpagesize()
	if align > pageSize {
		return nil, fmt.Errorf("alloc: alignment %d exceeds page size %d", align, pageSize)
	}

	// Round the mapping up to whole pages; the caller sees exactly size.
	mapLen := (size + pageSize - 1) &^ (pageSize - 1)
	region, err := unix.Mmap(-1, 0, mapLen,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("alloc: mmap %d bytes: %w", mapLen, err)
	}

	buf := region[:size:size]
	m.mu.Lock()
	m.regions[uintptr(unsafe.Pointer(&region[0]))] = region
	m.mu.Unlock()
	return buf, nil
}

func (m *Mmap) Free(buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("alloc: free of empty buffer")
	}
	key := uintptr(unsafe.Pointer(&buf[0]))

	m.mu.Lock()
	region, ok := m.regions[key]
	if ok {
		delete(m.regions, key)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("alloc: free of unknown or already freed buffer")
	}
	return unix.Munmap(region)
}

var _ Allocator = (*Mmap)(nil)
