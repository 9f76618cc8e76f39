package livepatch

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordLogger keeps every message it is given.
type recordLogger struct {
	lines []string
}

func (l *recordLogger) Logf(level Level, format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf("%d "+format, append([]any{level}, args...)...))
}

func TestEngine_Original(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	img := NewImage()
	mem := img.Map(0x00401000, 0x100)
	copy(mem, callAt(t, 0x00401000, 0x00401080))

	e := New(img)

	_, ok := e.Original(0x00401000)
	assert.False(ok)

	_, err := e.Hijack(0x00401000, 0x00500000)
	require.NoError(err)

	orig, ok := e.Original(0x00401000)
	assert.True(ok)
	assert.Equal(uintptr(0x00401080), orig)

	// Jumps replace code outright; there is nothing to call back into.
	require.NoError(e.Jump(0x00401010, 0x00500000, 0))
	_, ok = e.Original(0x00401010)
	assert.False(ok)
}

func TestEngine_Hooks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	img := NewImage()
	mem := img.Map(0x00401000, 0x100)
	copy(mem, callAt(t, 0x00401000, 0x00401080))

	e := New(img)
	assert.Empty(e.Hooks())

	_, err := e.Hijack(0x00401000, 0x00500000)
	require.NoError(err)
	require.NoError(e.Jump(0x00401020, 0x00500100, 2))
	require.NoError(e.Patch(0x00401040, []byte{0x90, 0x90}))

	hooks := e.Hooks()
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].Site < hooks[j].Site })
	assert.Equal([]Hook{
		{Site: 0x00401000, Original: 0x00401080, Replacement: 0x00500000},
		{Site: 0x00401020, Replacement: 0x00500100},
		{Site: 0x00401040},
	}, hooks)
}

func TestEngine_Patch(t *testing.T) {
	assert := assert.New(t)

	img := NewImage()
	mem := img.Map(0x00401000, 0x10)
	copy(mem, []byte{0x74, 0x0a})

	e := New(img)
	assert.NoError(e.Patch(0x00401000, []byte{0xeb, 0x0a}))
	assert.Equal([]byte{0xeb, 0x0a}, mem[:2])

	assert.ErrorIs(e.Patch(0x00401000, []byte{0x90, 0x90}), ErrSiteHooked)
	assert.ErrorIs(e.Jump(0x00401000, 0x00402000, 0), ErrSiteHooked)
	assert.Equal([]byte{0xeb, 0x0a}, mem[:2])
}

func TestEngine_Relocation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	img, r := testRegion(t)
	e := New(img)

	_, ok := e.Relocation(r.Name)
	assert.False(ok)

	rel, err := e.Extend(r)
	require.NoError(err)

	got, ok := e.Relocation(r.Name)
	assert.True(ok)
	assert.Equal(rel, got)
}

func TestEngine_AllocatorFromSpace(t *testing.T) {
	img := NewImage()
	e := New(img)
	assert.Equal(t, Allocator(img), e.Alloc)

	e = New(&readOnlySpace{})
	assert.Nil(t, e.Alloc)
}

// readOnlySpace is an AddressSpace without an allocator.
type readOnlySpace struct{}

func (readOnlySpace) Read(addr uintptr, p []byte) error  { return nil }
func (readOnlySpace) Write(addr uintptr, p []byte) error { return ErrReadOnly }

func TestEngine_SetScratch(t *testing.T) {
	img := NewImage()
	img.Map(0x1000, 0x1000)
	e := New(img)

	scratch := &testScratch{}
	e.SetScratch(scratch)

	assert.True(t, e.CheckAndApply(&memSource{
		version: t0,
		data:    encodeRecords(t, Record{Addr: 0x1000, Payload: testPayload(0x400, 1)}),
	}))
	assert.Equal(t, []int{0x400}, scratch.allocated)
	assert.Equal(t, 1, scratch.freed)
}
