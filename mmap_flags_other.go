//go:build !(linux && amd64)

package livepatch

// Only linux/amd64 has MAP_32BIT. A 32-bit host already gets 32-bit
// addresses, and elsewhere we have to trust the OS to map low enough.
//
// https://man7.org/linux/man-pages/man2/mmap.2.html
const map32bit = 0
