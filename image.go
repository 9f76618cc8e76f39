package livepatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Image is an address space made of plain byte slices. It stands in for a
// host process when patching offline or under test.
type Image struct {
	mu       sync.Mutex
	segments []*segment
	writes   int
}

type segment struct {
	base     uintptr
	data     []byte
	readOnly bool

	// Allocations are carved from heap segments front to back.
	heap bool
	next int
}

func (s *segment) contains(addr uintptr, n int) bool {
	return addr >= s.base && addr+uintptr(n) <= s.base+uintptr(len(s.data))
}

// NewImage returns an empty image.
func NewImage() *Image {
	return &Image{}
}

// Map adds a writable segment of size bytes at base and returns its backing
// slice.
func (m *Image) Map(base uintptr, size int) []byte {
	return m.add(&segment{base: base, data: make([]byte, size)})
}

// MapReadOnly adds a segment that rejects writes.
func (m *Image) MapReadOnly(base uintptr, data []byte) []byte {
	return m.add(&segment{base: base, data: data, readOnly: true})
}

// MapHeap adds a segment that Allocate carves memory from.
func (m *Image) MapHeap(base uintptr, size int) []byte {
	return m.add(&segment{base: base, data: make([]byte, size), heap: true})
}

func (m *Image) add(seg *segment) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.segments = append(m.segments, seg)
	sort.Slice(m.segments, func(i, j int) bool {
		return m.segments[i].base < m.segments[j].base
	})
	return seg.data
}

func (m *Image) find(addr uintptr, n int) *segment {
	for _, seg := range m.segments {
		if seg.contains(addr, n) {
			return seg
		}
	}
	return nil
}

func (m *Image) Read(addr uintptr, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg := m.find(addr, len(p))
	if seg == nil {
		return &FaultError{Addr: addr, Len: len(p), Err: ErrUnmapped}
	}
	copy(p, seg.data[addr-seg.base:])
	return nil
}

func (m *Image) Write(addr uintptr, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg := m.find(addr, len(p))
	if seg == nil {
		return &FaultError{Addr: addr, Len: len(p), Err: ErrUnmapped}
	}
	if seg.readOnly {
		return &FaultError{Addr: addr, Len: len(p), Err: ErrReadOnly}
	}
	copy(seg.data[addr-seg.base:], p)
	m.writes++
	return nil
}

// Allocate returns size bytes from the first heap segment with room. The
// memory is returned as-is; callers that need zeroed memory clear it.
func (m *Image) Allocate(size int, exec bool) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seg := range m.segments {
		if !seg.heap {
			continue
		}
		start := (seg.next + 0xf) &^ 0xf
		if start+size > len(seg.data) {
			continue
		}
		seg.next = start + size
		return seg.base + uintptr(start), nil
	}
	return 0, fmt.Errorf("allocate %d bytes: %w", size, errNoHeap)
}

var errNoHeap = errors.New("image heap exhausted")

// Writes returns the number of successful writes made to the image.
func (m *Image) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
