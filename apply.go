package livepatch

import (
	"io"
)

// Payloads shorter than this are staged in the applier's own buffer.
const smallPayload = 256

// ApplyStats summarises one pass over a patch stream.
type ApplyStats struct {
	Applied   int
	Skipped   int
	Truncated bool
}

// Applier writes decoded records into an address space. It is not safe for
// concurrent use.
//
// Application is best effort: a record whose staging buffer can't be
// allocated or whose destination rejects the write is dropped and the pass
// moves on to the next record. Nothing is rolled back.
type Applier struct {
	Space AddressSpace

	// Scratch stages large payloads. Defaults to a process-wide arena.
	Scratch Scratch

	buf [smallPayload]byte
}

func (a *Applier) scratch() Scratch {
	if a.Scratch != nil {
		return a.Scratch
	}
	return scratchArena
}

// Apply writes every well formed record from r.
func (a *Applier) Apply(r io.Reader) ApplyStats {
	var stats ApplyStats

	d := NewDecoder(r)
	for {
		addr, length, ok := d.Next()
		if !ok {
			break
		}

		var payload, large []byte
		if length < smallPayload {
			payload = a.buf[:length]
		} else {
			var err error
			large, err = a.allocate(length)
			if err != nil {
				stats.Skipped++
				if !d.Skip() {
					break
				}
				continue
			}
			payload = large
		}

		ok = d.Payload(payload)
		if ok {
			if err := a.Space.Write(uintptr(addr), payload); err != nil {
				stats.Skipped++
			} else {
				stats.Applied++
			}
		}

		if large != nil {
			a.scratch().Free(large)
		}
		if !ok {
			break
		}
	}

	stats.Truncated = d.Truncated()
	return stats
}

func (a *Applier) allocate(length uint32) ([]byte, error) {
	size := int(length)
	if size < 0 || uint32(size) != length {
		return nil, io.ErrShortBuffer
	}
	buf, err := a.scratch().Allocate(size)
	if err != nil {
		return nil, err
	}
	if len(buf) != size {
		a.scratch().Free(buf)
		return nil, io.ErrShortBuffer
	}
	return buf, nil
}
