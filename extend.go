package livepatch

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidRegion = errors.New("invalid region")

// SiteKind says what an embedded operand refers to.
type SiteKind int

const (
	// SiteBase holds the address of a field in the first record.
	SiteBase SiteKind = iota
	// SiteEnd holds the address one past the last record.
	SiteEnd
	// SiteCount holds the number of records.
	SiteCount
	// SiteSize holds the size of the array in bytes.
	SiteSize
)

func (k SiteKind) String() string {
	switch k {
	case SiteBase:
		return "base"
	case SiteEnd:
		return "end"
	case SiteCount:
		return "count"
	case SiteSize:
		return "size"
	}
	return fmt.Sprintf("SiteKind(%d)", int(k))
}

// Site is an immediate operand in host code or data that encodes the
// location or capacity of a region.
type Site struct {
	Addr uintptr
	Kind SiteKind

	// Field is the field a SiteBase operand points at. Empty means the
	// start of the record.
	Field string

	// Width is the operand size in bytes: 1, 2 or 4. Zero means 4.
	Width int
}

func (s Site) width() int {
	if s.Width == 0 {
		return 4
	}
	return s.Width
}

// Dispatch replaces the host routine that hands out free records.
type Dispatch struct {
	Site uintptr
	Pad  int

	// Target is where the routine now jumps. Zero emits a FreeSlotScanner
	// over the relocated records.
	Target uintptr

	// StatusField is the byte FreeSlotScanner tests. Defaults to "status".
	StatusField string
}

// Region is a fixed-capacity array in the host and the complete list of
// places that know its address or size. Extend is only as correct as this
// list: every instruction that touches the array has to be in it.
type Region struct {
	Name     string
	Layout   Layout
	OldBase  uintptr
	OldCount uint32
	NewCount uint32
	Sites    []Site
	Dispatch *Dispatch
}

// Relocation is where a region ended up.
type Relocation struct {
	Name  string
	Base  uintptr
	Count uint32
	Size  uint32

	// Stub is the emitted dispatch routine, if any.
	Stub uintptr
}

// End returns the address one past the last record.
func (r Relocation) End() uintptr {
	return r.Base + uintptr(r.Count)*uintptr(r.Size)
}

// value returns what s should hold for an array of count records at base.
func (r Region) value(s Site, base uintptr, count uint32) (uint32, error) {
	switch s.Kind {
	case SiteBase:
		off, err := r.Layout.Offset(s.Field)
		if err != nil {
			return 0, err
		}
		return uint32(base) + off, nil
	case SiteEnd:
		return uint32(base) + count*r.Layout.Size, nil
	case SiteCount:
		return count, nil
	case SiteSize:
		return count * r.Layout.Size, nil
	}
	return 0, fmt.Errorf("unknown site kind %d", int(s.Kind))
}

func (r Region) oldValue(s Site) (uint32, error) {
	return r.value(s, r.OldBase, r.OldCount)
}

// Validate checks the region table without touching memory.
func (r Region) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%s: %w: %s", r.Name, ErrInvalidRegion, fmt.Sprintf(format, args...))
	}

	if err := r.Layout.Validate(); err != nil {
		return fmt.Errorf("%s: %w: %w", r.Name, ErrInvalidRegion, err)
	}
	if r.NewCount == 0 {
		return invalid("new count is zero")
	}
	if r.NewCount < r.OldCount {
		return invalid("new count %d is smaller than %d", r.NewCount, r.OldCount)
	}
	if uint64(r.NewCount)*uint64(r.Layout.Size) >= 1<<31 {
		return invalid("%d records of 0x%x bytes is too large", r.NewCount, r.Layout.Size)
	}

	type span struct {
		start, end uintptr
	}
	spans := []span{}

	hasBase := false
	for _, s := range r.Sites {
		switch s.width() {
		case 1, 2, 4:
		default:
			return invalid("site 0x%08x: width %d", s.Addr, s.Width)
		}

		switch s.Kind {
		case SiteBase, SiteEnd:
			if s.width() != 4 {
				return invalid("%s site 0x%08x must be 4 bytes wide", s.Kind, s.Addr)
			}
			hasBase = hasBase || s.Kind == SiteBase
		case SiteCount, SiteSize:
			v, _ := r.value(s, 0, r.NewCount)
			if s.width() < 4 && v >= 1<<(8*s.width()) {
				return invalid("%s site 0x%08x can't hold 0x%x in %d bytes", s.Kind, s.Addr, v, s.width())
			}
		default:
			return invalid("site 0x%08x: unknown kind %d", s.Addr, int(s.Kind))
		}

		if s.Field != "" {
			if s.Kind != SiteBase {
				return invalid("%s site 0x%08x has a field", s.Kind, s.Addr)
			}
			if _, ok := r.Layout.Field(s.Field); !ok {
				return invalid("site 0x%08x: %s has no field %q", s.Addr, r.Layout.Name, s.Field)
			}
		}

		spans = append(spans, span{s.Addr, s.Addr + uintptr(s.width())})
	}
	if !hasBase {
		return invalid("no base site")
	}

	if d := r.Dispatch; d != nil {
		if d.Pad < 0 {
			return invalid("dispatch padding %d", d.Pad)
		}
		if d.Target == 0 {
			if _, ok := r.Layout.Field(r.statusField()); !ok {
				return invalid("%s has no field %q", r.Layout.Name, r.statusField())
			}
		}
		spans = append(spans, span{d.Site, d.Site + relInstructionSize + uintptr(d.Pad)})
	}

	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return invalid("sites at 0x%08x and 0x%08x overlap", spans[i-1].start, spans[i].start)
		}
	}

	return nil
}

func (r Region) statusField() string {
	if r.Dispatch != nil && r.Dispatch.StatusField != "" {
		return r.Dispatch.StatusField
	}
	return "status"
}

// Bounds reads every site of r back from memory and works out which array
// the host code now refers to. It fails if the sites disagree, which is how
// a missing or wrong entry in the table shows up.
func (r Region) Bounds(space AddressSpace) (Relocation, error) {
	var (
		base, end    []uint32
		count, sizes []uint32
	)

	for _, s := range r.Sites {
		v, err := readOperand(space, s.Addr, s.width())
		if err != nil {
			return Relocation{}, &SiteMismatchError{Region: r.Name, Site: s, Err: err}
		}
		switch s.Kind {
		case SiteBase:
			off, err := r.Layout.Offset(s.Field)
			if err != nil {
				return Relocation{}, err
			}
			base = append(base, v-off)
		case SiteEnd:
			end = append(end, v)
		case SiteCount:
			count = append(count, v)
		case SiteSize:
			sizes = append(sizes, v)
		}
	}

	if len(base) == 0 {
		return Relocation{}, fmt.Errorf("%s: %w: no base site", r.Name, ErrInvalidRegion)
	}

	rel := Relocation{Name: r.Name, Base: uintptr(base[0]), Size: r.Layout.Size}
	var errs []error
	agree := func(kind string, vals []uint32) uint32 {
		for _, v := range vals[1:] {
			if v != vals[0] {
				errs = append(errs, fmt.Errorf("%s: %s sites disagree: 0x%x != 0x%x", r.Name, kind, v, vals[0]))
			}
		}
		return vals[0]
	}

	agree("base", base)

	var counts []uint32
	if len(count) > 0 {
		counts = append(counts, agree("count", count))
	}
	if len(end) > 0 {
		counts = append(counts, (agree("end", end)-base[0])/r.Layout.Size)
	}
	if len(sizes) > 0 {
		counts = append(counts, agree("size", sizes)/r.Layout.Size)
	}
	if len(counts) > 0 {
		rel.Count = counts[0]
		for _, c := range counts[1:] {
			if c != rel.Count {
				errs = append(errs, fmt.Errorf("%s: capacity disagrees: %d != %d", r.Name, c, rel.Count))
			}
		}
	}

	return rel, errors.Join(errs...)
}

// writable writes every site, and the dispatch site, back unchanged. A site
// on a page that can't be written fails here, before any of them move.
func (r Region) writable(space AddressSpace) error {
	rewrite := func(addr uintptr, n int) error {
		buf := make([]byte, n)
		if err := space.Read(addr, buf); err != nil {
			return err
		}
		return space.Write(addr, buf)
	}

	for _, s := range r.Sites {
		if err := rewrite(s.Addr, s.width()); err != nil {
			return fmt.Errorf("%s: %s site 0x%08x: %w", r.Name, s.Kind, s.Addr, err)
		}
	}
	if d := r.Dispatch; d != nil {
		if err := rewrite(d.Site, relInstructionSize+d.Pad); err != nil {
			return fmt.Errorf("%s: dispatch site 0x%08x: %w", r.Name, d.Site, err)
		}
	}
	return nil
}

// Extend moves r into a new zeroed allocation of r.NewCount records and
// rewrites every site to point at it. Before anything is written every site
// is checked against the old base and count and for being writable; if any
// check fails nothing changes.
func Extend(space AddressSpace, alloc Allocator, r Region) (Relocation, error) {
	if err := r.Validate(); err != nil {
		return Relocation{}, err
	}
	if alloc == nil {
		return Relocation{}, fmt.Errorf("%s: no allocator", r.Name)
	}
	if err := diffSites(space, r, r.oldValue).Error(); err != nil {
		return Relocation{}, err
	}
	if err := r.writable(space); err != nil {
		return Relocation{}, err
	}

	size := int(r.NewCount) * int(r.Layout.Size)
	base, err := alloc.Allocate(size, false)
	if err != nil {
		return Relocation{}, fmt.Errorf("%s: %w", r.Name, err)
	}
	if uint64(base)+uint64(size) > 1<<32 {
		return Relocation{}, fmt.Errorf("%s: allocation at 0x%x: %w", r.Name, base, ErrOutOfRange)
	}

	// Free records are all zero, including every one past the old count.
	if err := space.Write(base, make([]byte, size)); err != nil {
		return Relocation{}, fmt.Errorf("%s: clearing new storage: %w", r.Name, err)
	}

	rel := Relocation{Name: r.Name, Base: base, Count: r.NewCount, Size: r.Layout.Size}

	for _, s := range r.Sites {
		v, err := r.value(s, base, r.NewCount)
		if err != nil {
			return rel, err
		}
		if err := writeOperand(space, s.Addr, s.width(), v); err != nil {
			return rel, fmt.Errorf("%s: %s site 0x%08x: %w", r.Name, s.Kind, s.Addr, err)
		}
	}

	if d := r.Dispatch; d != nil {
		target := d.Target
		if target == 0 {
			status, _ := r.Layout.Field(r.statusField())
			code := FreeSlotScanner(base, r.NewCount, r.Layout.Size, status.Offset)
			target, err = alloc.Allocate(len(code), true)
			if err != nil {
				return rel, fmt.Errorf("%s: dispatch stub: %w", r.Name, err)
			}
			if err := space.Write(target, code); err != nil {
				return rel, fmt.Errorf("%s: dispatch stub: %w", r.Name, err)
			}
			rel.Stub = target
		}
		if err := WriteJump(space, d.Site, target, d.Pad); err != nil {
			return rel, fmt.Errorf("%s: dispatch: %w", r.Name, err)
		}
	}

	return rel, nil
}

// Extend relocates r and records the result under r.Name. The dispatch site,
// if any, counts as a hook.
func (e *Engine) Extend(r Region) (Relocation, error) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()

	if r.Dispatch != nil {
		if err := e.claim(r.Dispatch.Site); err != nil {
			return Relocation{}, err
		}
	}

	rel, err := Extend(e.Space, e.Alloc, r)
	if err != nil {
		return rel, err
	}

	if r.Dispatch != nil {
		target := r.Dispatch.Target
		if target == 0 {
			target = rel.Stub
		}
		e.hooks[r.Dispatch.Site] = Hook{Site: r.Dispatch.Site, Replacement: target}
	}
	e.relocations[r.Name] = rel
	return rel, nil
}
