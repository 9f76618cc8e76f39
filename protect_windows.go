//go:build windows

package livepatch

import (
	"syscall"

	"golang.org/x/sys/windows"
)

const (
	protRW  = windows.PAGE_READWRITE
	protRWX = windows.PAGE_EXECUTE_READWRITE
)

// unprotect makes the pages covering [addr, addr+n) writable and returns a
// func that puts the old protection back.
func unprotect(addr uintptr, n int) (func(), error) {
	pageSize := syscall.Getpagesize()

	// Round address down to page boundary.
	pageStart := addr &^ (uintptr(pageSize) - 1)

	// Round up to cover complete pages.
	regionSize := (int(addr-pageStart) + n + pageSize - 1) &^ (pageSize - 1)

	var oldFlags uint32
	err := windows.VirtualProtect(pageStart, uintptr(regionSize), protRWX, &oldFlags)
	if err != nil {
		return nil, err
	}
	return func() {
		windows.VirtualProtect(pageStart, uintptr(regionSize), oldFlags, &oldFlags)
	}, nil
}
