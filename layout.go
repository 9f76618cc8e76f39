package livepatch

import (
	"fmt"
	"sort"
)

// Field is a named range inside a fixed-layout record.
type Field struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Layout describes a fixed-size record in host memory. All offset
// arithmetic against host structures goes through a Layout.
type Layout struct {
	Name   string
	Size   uint32
	Fields []Field
}

// Field returns the named field.
func (l Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldAt returns the field covering offset.
func (l Layout) FieldAt(offset uint32) (Field, bool) {
	for _, f := range l.Fields {
		if offset >= f.Offset && offset < f.Offset+f.Size {
			return f, true
		}
	}
	return Field{}, false
}

// Offset returns the offset of the named field. The empty name is the start
// of the record.
func (l Layout) Offset(name string) (uint32, error) {
	if name == "" {
		return 0, nil
	}
	f, ok := l.Field(name)
	if !ok {
		return 0, fmt.Errorf("%s has no field %q", l.Name, name)
	}
	return f.Offset, nil
}

// Addr returns the address of field in element index of an array of these
// records starting at base.
func (l Layout) Addr(base uintptr, index int, field string) (uintptr, error) {
	off, err := l.Offset(field)
	if err != nil {
		return 0, err
	}
	if index < 0 {
		return 0, fmt.Errorf("%s: negative index %d", l.Name, index)
	}
	return base + uintptr(index)*uintptr(l.Size) + uintptr(off), nil
}

// Validate checks that every field lies inside the record and that no two
// fields overlap.
func (l Layout) Validate() error {
	if l.Size == 0 {
		return fmt.Errorf("%s: zero size", l.Name)
	}

	fields := append([]Field(nil), l.Fields...)
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].Offset < fields[j].Offset
	})

	var end uint32
	for i, f := range fields {
		if f.Size == 0 {
			return fmt.Errorf("%s.%s: zero size", l.Name, f.Name)
		}
		if f.Offset+f.Size > l.Size {
			return fmt.Errorf("%s.%s: ends at 0x%x past record size 0x%x", l.Name, f.Name, f.Offset+f.Size, l.Size)
		}
		if i > 0 && f.Offset < end {
			return fmt.Errorf("%s.%s: overlaps %s", l.Name, f.Name, fields[i-1].Name)
		}
		end = f.Offset + f.Size
	}
	return nil
}

// TaskSlot is one entry of the host scheduler's task table. A slot whose
// bytes are all zero is free.
var TaskSlot = Layout{
	Name: "task",
	Size: 0x70,
	Fields: []Field{
		{Name: "id", Offset: 0x00, Size: 1},
		{Name: "status", Offset: 0x01, Size: 1},
		{Name: "sub_counter", Offset: 0x02, Size: 1},
		{Name: "loop_level", Offset: 0x03, Size: 1},
		{Name: "call_stack", Offset: 0x04, Size: 0x20},
		{Name: "loop_stack", Offset: 0x24, Size: 0x40},
		{Name: "data", Offset: 0x64, Size: 4},
		{Name: "speed_x", Offset: 0x68, Size: 2},
		{Name: "speed_y", Offset: 0x6a, Size: 2},
		{Name: "speed_z", Offset: 0x6c, Size: 2},
	},
}

// WorkArea is the host's scratch buffer, addressed byte by byte.
var WorkArea = Layout{
	Name:   "work",
	Size:   1,
	Fields: []Field{{Name: "byte", Offset: 0, Size: 1}},
}
