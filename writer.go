package livepatch

import (
	"bytes"
	"errors"
	"io"
)

var (
	ErrPatchInProgress = errors.New("patch already in progress")
	ErrNoPatch         = errors.New("patch not in progress")
)

// Writer produces a patch stream. A record is either written whole with
// WriteRecord or built up between Begin and End.
type Writer struct {
	w    io.Writer
	addr uint32
	cur  *bytes.Buffer
}

// NewWriter returns a writer that writes records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Begin starts a record that will be written to addr.
func (w *Writer) Begin(addr uint32) error {
	if w.cur != nil {
		return ErrPatchInProgress
	}
	w.addr = addr
	w.cur = &bytes.Buffer{}
	return nil
}

// Write appends p to the current record.
func (w *Writer) Write(p []byte) (int, error) {
	if w.cur == nil {
		return 0, ErrNoPatch
	}
	return w.cur.Write(p)
}

// WriteByte appends b to the current record.
func (w *Writer) WriteByte(b byte) error {
	if w.cur == nil {
		return ErrNoPatch
	}
	return w.cur.WriteByte(b)
}

// End finishes the current record and writes it out.
func (w *Writer) End() error {
	if w.cur == nil {
		return ErrNoPatch
	}
	payload := w.cur.Bytes()
	w.cur = nil
	return w.WriteRecord(Record{Addr: w.addr, Payload: payload})
}

// WriteRecord writes a complete record.
func (w *Writer) WriteRecord(r Record) error {
	if w.cur != nil {
		return ErrPatchInProgress
	}

	var hdr [recordHeaderSize]byte
	le.PutUint32(hdr[0:], r.Addr)
	le.PutUint32(hdr[4:], uint32(len(r.Payload)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.w.Write(r.Payload)
	return err
}
