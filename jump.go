package livepatch

import "fmt"

// WriteJump overwrites the instruction at site with JMP rel32 to target,
// followed by pad NOPs. The original bytes are lost; pad must cover whatever
// is left of the instructions being replaced.
func WriteJump(space AddressSpace, site, target uintptr, pad int) error {
	return writeRel(space, opcodeJMP, site, target, pad)
}

// WriteCall writes CALL rel32 to target at site, followed by pad NOPs.
func WriteCall(space AddressSpace, site, target uintptr, pad int) error {
	return writeRel(space, opcodeCALLrel, site, target, pad)
}

func writeRel(space AddressSpace, opcode byte, site, target uintptr, pad int) error {
	if pad < 0 {
		return fmt.Errorf("negative padding %d", pad)
	}

	disp, err := rel32(site, target)
	if err != nil {
		return err
	}

	buf := make([]byte, relInstructionSize+pad)
	buf[0] = opcode
	le.PutUint32(buf[1:], uint32(disp))

	// Pad the rest with NOPs so execution falls through cleanly if anything
	// ever lands inside the replaced region.
	for i := relInstructionSize; i < len(buf); i++ {
		buf[i] = opcodeNOP
	}

	return space.Write(site, buf)
}

// WriteBytes writes raw instruction bytes at site, for example to turn a
// conditional branch into an unconditional one.
func WriteBytes(space AddressSpace, site uintptr, code []byte) error {
	return space.Write(site, code)
}

// WriteNops fills n bytes at site with NOPs.
func WriteNops(space AddressSpace, site uintptr, n int) error {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = opcodeNOP
	}
	return space.Write(site, buf)
}

// Jump installs a jump at site and records it so no other hook can claim the
// same site.
func (e *Engine) Jump(site, target uintptr, pad int) error {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()

	if err := e.claim(site); err != nil {
		return err
	}
	if err := WriteJump(e.Space, site, target, pad); err != nil {
		return err
	}
	e.hooks[site] = Hook{Site: site, Replacement: target}
	return nil
}
