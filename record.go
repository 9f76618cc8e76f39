package livepatch

import (
	"encoding/binary"
	"errors"
	"io"
	"iter"
)

var le = binary.LittleEndian

const recordHeaderSize = 8

// Record is one write in a patch stream.
type Record struct {
	Addr    uint32
	Payload []byte
}

// Decoder reads records from a patch stream. It stops at the first short
// read and never reports an error for it: the producer may still be writing
// the file, so whatever is well formed gets applied and the rest waits for
// the next pass.
//
// A Decoder cannot be rewound.
type Decoder struct {
	r         io.Reader
	buf       [4]byte
	pending   uint32
	done      bool
	truncated bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next reads the next record header. The payload must then be consumed with
// Payload or Skip; if it isn't, Next skips it.
func (d *Decoder) Next() (addr, length uint32, ok bool) {
	if d.pending > 0 && !d.Skip() {
		return 0, 0, false
	}
	if d.done {
		return 0, 0, false
	}

	addr, ok = d.readUint32(true)
	if !ok {
		return 0, 0, false
	}
	length, ok = d.readUint32(false)
	if !ok {
		return 0, 0, false
	}

	d.pending = length
	return addr, length, true
}

func (d *Decoder) readUint32(first bool) (uint32, bool) {
	_, err := io.ReadFull(d.r, d.buf[:])
	if err != nil {
		d.stop(!(first && errors.Is(err, io.EOF)))
		return 0, false
	}
	return le.Uint32(d.buf[:]), true
}

// Payload reads the current record's payload into buf, which must be exactly
// the record length.
func (d *Decoder) Payload(buf []byte) bool {
	if d.done || uint32(len(buf)) != d.pending {
		d.stop(true)
		return false
	}
	d.pending = 0
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.stop(true)
		return false
	}
	return true
}

// Skip discards the current record's payload.
func (d *Decoder) Skip() bool {
	if d.done {
		return false
	}
	n := int64(d.pending)
	d.pending = 0
	if copied, _ := io.CopyN(io.Discard, d.r, n); copied != n {
		d.stop(true)
		return false
	}
	return true
}

func (d *Decoder) stop(truncated bool) {
	d.done = true
	d.truncated = d.truncated || truncated
}

// Truncated reports whether decoding ended on a short read rather than at a
// record boundary.
func (d *Decoder) Truncated() bool {
	return d.truncated
}

// Records returns the remaining records. Each payload is freshly allocated.
func (d *Decoder) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for {
			addr, length, ok := d.Next()
			if !ok {
				return
			}

			// Read through a limit instead of allocating length up front; a
			// damaged header can claim gigabytes.
			payload, _ := io.ReadAll(io.LimitReader(d.r, int64(length)))
			d.pending = 0
			if uint32(len(payload)) != length {
				d.stop(true)
				return
			}

			if !yield(Record{Addr: addr, Payload: payload}) {
				return
			}
		}
	}
}
