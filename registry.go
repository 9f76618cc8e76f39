package livepatch

import (
	"bytes"
	"errors"
	"fmt"
)

var ErrHostMismatch = errors.New("host build not recognised")

// Guard identifies the host build hooks were written against: the bytes
// expected at Addr.
type Guard struct {
	Addr   uintptr
	Expect []byte
}

// Entry is one hook in a Registry. Before Install runs, the bytes at Site
// are compared with Expect; if they differ the entry is skipped.
type Entry struct {
	Name    string
	Site    uintptr
	Expect  []byte
	Install func(e *Engine) error
}

// Registry is the set of hooks installed at attach. Entries run in order.
type Registry struct {
	Guard   *Guard
	Entries []Entry
}

// EntryResult records what happened to one entry.
type EntryResult struct {
	Name    string
	Skipped bool
	Err     error
}

// Install checks the guard and then installs each entry. A guard mismatch
// installs nothing and returns ErrHostMismatch. A mismatch on a single entry
// only skips that entry; the returned results say which.
func (e *Engine) Install(r Registry) ([]EntryResult, error) {
	if g := r.Guard; g != nil {
		if err := e.expect(g.Addr, g.Expect); err != nil {
			e.log().Logf(LevelWarn, "host guard at 0x%08x: %v; no hooks installed", g.Addr, err)
			return nil, fmt.Errorf("%w: %w", ErrHostMismatch, err)
		}
	}

	results := make([]EntryResult, 0, len(r.Entries))
	for _, entry := range r.Entries {
		res := EntryResult{Name: entry.Name}
		if err := e.expect(entry.Site, entry.Expect); err != nil {
			res.Skipped = true
			res.Err = err
			e.log().Logf(LevelWarn, "hook %s skipped: %v", entry.Name, err)
		} else if err := entry.Install(e); err != nil {
			res.Err = err
			e.log().Logf(LevelWarn, "hook %s failed: %v", entry.Name, err)
		} else {
			e.log().Logf(LevelDebug, "hook %s installed at 0x%08x", entry.Name, entry.Site)
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) expect(addr uintptr, want []byte) error {
	if len(want) == 0 {
		return nil
	}
	got := make([]byte, len(want))
	if err := e.Space.Read(addr, got); err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("0x%08x: % x != % x: %w", addr, got, want, ErrUnexpectedInstruction)
	}
	return nil
}

// Patch writes code at site and records it as a hook.
func (e *Engine) Patch(site uintptr, code []byte) error {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()

	if err := e.claim(site); err != nil {
		return err
	}
	if err := WriteBytes(e.Space, site, code); err != nil {
		return err
	}
	e.hooks[site] = Hook{Site: site}
	return nil
}

// HijackEntry redirects the CALL rel32 at site to replacement. If original is
// not nil it receives the old call target.
func HijackEntry(name string, site, replacement uintptr, original *uintptr) Entry {
	return Entry{
		Name:   name,
		Site:   site,
		Expect: []byte{opcodeCALLrel},
		Install: func(e *Engine) error {
			hook, err := e.Hijack(site, replacement)
			if err != nil {
				return err
			}
			if original != nil {
				*original = hook.Original
			}
			return nil
		},
	}
}

// JumpEntry replaces the instruction at site with a jump to target. expect
// is the code being replaced.
func JumpEntry(name string, site, target uintptr, pad int, expect []byte) Entry {
	return Entry{
		Name:   name,
		Site:   site,
		Expect: expect,
		Install: func(e *Engine) error {
			return e.Jump(site, target, pad)
		},
	}
}

// BytesEntry replaces expect at site with code, e.g. a JE (74 xx) with a
// JMP (EB xx).
func BytesEntry(name string, site uintptr, expect, code []byte) Entry {
	return Entry{
		Name:   name,
		Site:   site,
		Expect: expect,
		Install: func(e *Engine) error {
			return e.Patch(site, code)
		},
	}
}

// ExtendEntry relocates r. Extend checks every site itself so the entry has
// no expected bytes of its own.
func ExtendEntry(r Region) Entry {
	var site uintptr
	if r.Dispatch != nil {
		site = r.Dispatch.Site
	}
	return Entry{
		Name: r.Name,
		Site: site,
		Install: func(e *Engine) error {
			_, err := e.Extend(r)
			return err
		},
	}
}
