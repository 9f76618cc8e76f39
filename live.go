package livepatch

import (
	"fmt"
	"runtime/debug"
	"unsafe"
)

// Live is the address space of the current process.
type Live struct {
	// Unprotect makes target pages writable before each write. The core never
	// sets it; the host loader decides.
	Unprotect bool

	data arena
	code arena
}

// NewLive returns the current process's address space.
func NewLive() *Live {
	return &Live{
		data: arena{prot: protRW},
		code: arena{prot: protRWX},
	}
}

func (l *Live) Read(addr uintptr, p []byte) error {
	return withFaults(addr, len(p), func() {
		copy(p, view(addr, len(p)))
	})
}

func (l *Live) Write(addr uintptr, p []byte) error {
	if l.Unprotect {
		restore, err := unprotect(addr, len(p))
		if err != nil {
			return &FaultError{Addr: addr, Len: len(p), Err: err}
		}
		defer restore()
	}

	return withFaults(addr, len(p), func() {
		copy(view(addr, len(p)), p)
	})
}

// Allocate returns memory from the process arenas. exec selects the
// executable arena.
func (l *Live) Allocate(size int, exec bool) (uintptr, error) {
	a := &l.data
	if exec {
		a = &l.code
	}
	buf, err := a.Allocate(size)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf))), nil
}

func view(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// withFaults runs fn with memory faults turned into an error instead of
// killing the process.
func withFaults(addr uintptr, n int, fn func()) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			err = &FaultError{Addr: addr, Len: n, Err: fmt.Errorf("%v", r)}
		}
	}()

	fn()
	return nil
}
