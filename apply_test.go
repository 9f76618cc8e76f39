package livepatch

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testScratch is a Scratch that counts allocations and can be told to fail.
type testScratch struct {
	fail      bool
	allocated []int
	freed     int
}

func (s *testScratch) Allocate(size int) ([]byte, error) {
	if s.fail {
		return nil, errors.New("out of memory")
	}
	s.allocated = append(s.allocated, size)
	return make([]byte, size), nil
}

func (s *testScratch) Free([]byte) {
	s.freed++
}

func TestApply(t *testing.T) {
	assert := assert.New(t)

	img := NewImage()
	mem := img.Map(0x1000, 0x2000)

	scratch := &testScratch{}
	a := &Applier{Space: img, Scratch: scratch}

	small := testPayload(255, 1)
	large := testPayload(4096, 2)
	stats := a.Apply(bytes.NewReader(encodeRecords(t,
		Record{Addr: 0x1000, Payload: small},
		Record{Addr: 0x1400, Payload: testPayload(256, 3)},
		Record{Addr: 0x1800, Payload: large[:0x1000]},
		Record{Addr: 0x2800, Payload: []byte{}},
	)))

	assert.Equal(ApplyStats{Applied: 4}, stats)
	assert.Equal(small, mem[0:255])
	assert.Equal(testPayload(256, 3), mem[0x400:0x500])
	assert.Equal(large, mem[0x800:0x1800])

	// Only payloads of 256 bytes or more are staged in scratch memory, and
	// each is released.
	assert.Equal([]int{256, 4096}, scratch.allocated)
	assert.Equal(2, scratch.freed)
}

func TestApply_OverlappingRecords(t *testing.T) {
	img := NewImage()
	mem := img.Map(0x1000, 0x10)

	a := &Applier{Space: img}
	a.Apply(bytes.NewReader(encodeRecords(t,
		Record{Addr: 0x1000, Payload: []byte{1, 1, 1, 1}},
		Record{Addr: 0x1002, Payload: []byte{2, 2, 2, 2}},
	)))

	assert.Equal(t, []byte{1, 1, 2, 2, 2, 2}, mem[:6])
}

func TestApply_AllocationFailureSkipsRecord(t *testing.T) {
	assert := assert.New(t)

	img := NewImage()
	mem := img.Map(0x1000, 0x1000)

	a := &Applier{Space: img, Scratch: &testScratch{fail: true}}
	stats := a.Apply(bytes.NewReader(encodeRecords(t,
		Record{Addr: 0x1000, Payload: []byte{1}},
		Record{Addr: 0x1100, Payload: testPayload(300, 9)},
		Record{Addr: 0x1002, Payload: []byte{3}},
	)))

	assert.Equal(ApplyStats{Applied: 2, Skipped: 1}, stats)
	assert.Equal(byte(1), mem[0])
	assert.Equal(byte(3), mem[2])
	assert.Equal(make([]byte, 300), mem[0x100:0x100+300])
}

func TestApply_WriteFailureSkipsRecord(t *testing.T) {
	assert := assert.New(t)

	img := NewImage()
	mem := img.Map(0x1000, 0x100)
	rom := img.MapReadOnly(0x5000, []byte{0xaa, 0xbb})

	scratch := &testScratch{}
	a := &Applier{Space: img, Scratch: scratch}
	stats := a.Apply(bytes.NewReader(encodeRecords(t,
		Record{Addr: 0x5000, Payload: []byte{1, 2}},
		Record{Addr: 0x9000, Payload: testPayload(512, 0)},
		Record{Addr: 0x1000, Payload: []byte{7}},
	)))

	assert.Equal(ApplyStats{Applied: 1, Skipped: 2}, stats)
	assert.Equal([]byte{0xaa, 0xbb}, rom)
	assert.Equal(byte(7), mem[0])

	// The staging buffer is released even though the write failed.
	assert.Equal(1, scratch.freed)
}

func TestApply_TruncatedStream(t *testing.T) {
	assert := assert.New(t)

	img := NewImage()
	mem := img.Map(0x1000, 0x100)

	data := encodeRecords(t,
		Record{Addr: 0x1000, Payload: []byte{1, 2, 3, 4}},
		Record{Addr: 0x1010, Payload: []byte{5, 6, 7, 8}},
	)

	a := &Applier{Space: img}
	stats := a.Apply(bytes.NewReader(data[:len(data)-1]))

	assert.Equal(ApplyStats{Applied: 1, Truncated: true}, stats)
	assert.Equal([]byte{1, 2, 3, 4}, mem[:4])
	assert.Equal([]byte{0, 0, 0, 0}, mem[0x10:0x14])
	assert.Equal(1, img.Writes())
}
