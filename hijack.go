package livepatch

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

var (
	ErrUnexpectedInstruction = errors.New("unexpected instruction")
	ErrOutOfRange            = errors.New("displacement out of range")
	ErrSiteHooked            = errors.New("site already hooked")
)

// Hook describes a redirected instruction. Original is zero for hooks that
// discard the instruction they replace.
type Hook struct {
	Site        uintptr
	Original    uintptr
	Replacement uintptr
}

// Hijack redirects the CALL rel32 at site to replacement and returns the
// address it used to call. replacement takes over every call made through
// site and can call Original to get the old behavior.
//
// If site doesn't hold CALL rel32 nothing is written and the error wraps
// ErrUnexpectedInstruction. That usually means this isn't the host build the
// address was taken from.
//
// Hijack must run before site first executes. There is no way to undo it.
func Hijack(space AddressSpace, site, replacement uintptr) (Hook, error) {
	var code [relInstructionSize]byte
	if err := space.Read(site, code[:]); err != nil {
		return Hook{}, err
	}

	instruction, err := x86asm.Decode(code[:], hostMode)
	if err != nil || code[0] != opcodeCALLrel || instruction.Op != x86asm.CALL {
		return Hook{}, fmt.Errorf("0x%08x: % x: %w", site, code, ErrUnexpectedInstruction)
	}
	rel, ok := instruction.Args[0].(x86asm.Rel)
	if !ok {
		return Hook{}, fmt.Errorf("0x%08x: % x: %w", site, code, ErrUnexpectedInstruction)
	}

	original := relTarget(site, int32(rel))

	disp, err := rel32(site, replacement)
	if err != nil {
		return Hook{}, err
	}

	var buf [4]byte
	le.PutUint32(buf[:], uint32(disp))
	if err := space.Write(site+1, buf[:]); err != nil {
		return Hook{}, err
	}

	return Hook{Site: site, Original: original, Replacement: replacement}, nil
}

// Hijack redirects the call at site and records the hook. A site can only be
// hooked once.
func (e *Engine) Hijack(site, replacement uintptr) (Hook, error) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()

	if err := e.claim(site); err != nil {
		return Hook{}, err
	}

	hook, err := Hijack(e.Space, site, replacement)
	if err != nil {
		return Hook{}, err
	}
	e.hooks[site] = hook
	return hook, nil
}
