package livepatch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pboyd/malloc"
)

// arena hands out memory from an mmap backed malloc arena. Memory is mapped
// below 4GiB where the platform allows it so addresses fit the host's 32-bit
// pointers.
type arena struct {
	*malloc.Arena
	prot     int
	mu       sync.Mutex
	initOnce sync.Once
}

func (a *arena) init(startSize int) error {
	var err error
	a.initOnce.Do(func() {
		be := malloc.MmapBackend(malloc.MmapProt(a.prot), malloc.MmapFlags(map32bit))
		a.Arena = malloc.NewArena(uint64(startSize), malloc.Backend(be))
		if a.Arena == nil {
			err = errors.New("unable to initialize arena")
		}
	})
	if err == nil && a.Arena == nil {
		err = errors.New("arena unavailable")
	}
	return err
}

func (a *arena) Allocate(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.init(size)
	if err != nil {
		return nil, fmt.Errorf("error initializing arena: %w", err)
	}

	return malloc.MallocSlice[byte](a.Arena, size)
}

func (a *arena) Free(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Arena == nil {
		return
	}
	malloc.FreeSlice(a.Arena, buf)
}

// Scratch provides temporary buffers for large patch payloads.
type Scratch interface {
	Allocate(size int) ([]byte, error)
	Free(buf []byte)
}

var scratchArena = &arena{prot: protRW}
