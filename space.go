package livepatch

import (
	"errors"
	"fmt"
)

// AddressSpace is the memory the engine patches. Addresses are absolute.
type AddressSpace interface {
	// Read fills p with the bytes at addr.
	Read(addr uintptr, p []byte) error

	// Write copies p to addr.
	Write(addr uintptr, p []byte) error
}

// Allocator hands out new memory inside an address space. Executable
// allocations are used for emitted code.
type Allocator interface {
	Allocate(size int, exec bool) (uintptr, error)
}

var (
	ErrUnmapped = errors.New("address not mapped")
	ErrReadOnly = errors.New("address not writable")
)

// FaultError is returned when an access faults.
type FaultError struct {
	Addr uintptr
	Len  int
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("access of %d bytes at 0x%08x: %v", e.Len, e.Addr, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }
