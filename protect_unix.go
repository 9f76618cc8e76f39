//go:build unix

package livepatch

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	protRW  = unix.PROT_READ | unix.PROT_WRITE
	protRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

// unprotect makes the pages covering [addr, addr+n) writable. Unix has no way
// to query the previous protection so the pages are left RWX.
func unprotect(addr uintptr, n int) (func(), error) {
	pageSize := unix.Getpagesize()

	// Round address down to page boundary.
	pageStart := addr &^ (uintptr(pageSize) - 1)

	// Round up to cover complete pages.
	regionSize := (int(addr-pageStart) + n + pageSize - 1) / pageSize * pageSize

	region := unsafe.Slice((*byte)(unsafe.Pointer(pageStart)), regionSize)

	if err := unix.Mprotect(region, protRWX); err != nil {
		return nil, err
	}
	return func() {}, nil
}
