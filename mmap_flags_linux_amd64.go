//go:build linux && amd64

package livepatch

import "golang.org/x/sys/unix"

// Keep arena memory in the low 2GiB so relocated addresses fit a uint32.
const map32bit = unix.MAP_32BIT
