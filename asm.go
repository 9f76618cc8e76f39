package livepatch

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	opcodeCALLrel = 0xe8 // CALL rel32
	opcodeJMP     = 0xe9 // JMP rel32
	opcodeNOP     = 0x90
	opcodeRET     = 0xc3

	// The host is a 32-bit process.
	hostMode = 32

	relInstructionSize = 5 // 1 byte opcode + 4 byte displacement
)

// fits32 reports whether addr is a host address.
func fits32(addr uintptr) bool {
	return uint64(addr) <= 1<<32-1
}

// rel32 returns the displacement a 5 byte relative instruction at site needs
// to reach target. Between two 32-bit addresses the displacement wraps
// around the address space the way the CPU computes it, so every target is
// reachable. Only addresses above 4GiB, which exist in 64-bit processes,
// can be out of range.
func rel32(site, target uintptr) (int32, error) {
	if fits32(site) && fits32(target) {
		return int32(uint32(target) - uint32(site) - relInstructionSize), nil
	}

	diff := int64(target) - int64(site) - relInstructionSize
	if diff < -1<<31 || diff > 1<<31-1 {
		return 0, fmt.Errorf("0x%08x -> 0x%08x: %w", site, target, ErrOutOfRange)
	}
	return int32(diff), nil
}

// relTarget resolves the destination of a 5 byte relative instruction.
func relTarget(site uintptr, disp int32) uintptr {
	if fits32(site) {
		return uintptr(uint32(site) + relInstructionSize + uint32(disp))
	}
	return uintptr(int64(site) + relInstructionSize + int64(disp))
}

// Disassemble renders code as 32-bit x86, one instruction per line, as if it
// were loaded at base.
func Disassemble(code []byte, base uintptr) (string, error) {
	var buf bytes.Buffer

	for i := 0; i < len(code); {
		instruction, err := x86asm.Decode(code[i:], hostMode)
		if err != nil {
			return buf.String(), fmt.Errorf("decode error at offset %d: %w", i, err)
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", base+uintptr(i), hex.EncodeToString(code[i:i+instruction.Len]), instruction.String())

		i += instruction.Len
	}

	return buf.String(), nil
}

// FreeSlotScanner returns 32-bit x86 code equivalent to:
//
//	MOV EAX, <base>
//	MOV ECX, <count>
//	loop:
//	CMP BYTE PTR [EAX+<statusOffset>], 0
//	JE found
//	ADD EAX, <slotSize>
//	DEC ECX
//	JNZ loop
//	XOR EAX, EAX
//	found:
//	RET
//
// It returns the address of the first slot whose status byte is zero, or
// zero when every slot is taken. count must be at least 1.
func FreeSlotScanner(base uintptr, count, slotSize, statusOffset uint32) []byte {
	buf := make([]byte, 30)
	i := 0

	// MOV EAX, imm32
	buf[i] = 0xb8
	le.PutUint32(buf[i+1:], uint32(base))
	i += 5

	// MOV ECX, imm32
	buf[i] = 0xb9
	le.PutUint32(buf[i+1:], count)
	i += 5

	loop := i

	// CMP r/m8, imm8 with [EAX+disp32]
	buf[i] = 0x80
	buf[i+1] = 2<<6 | 7<<3 | 0 // mod=disp32, /7, rm=EAX
	le.PutUint32(buf[i+2:], statusOffset)
	buf[i+6] = 0
	i += 7

	// JE found (patched below)
	je := i
	buf[i] = 0x74
	i += 2

	// ADD EAX, imm32
	buf[i] = 0x05
	le.PutUint32(buf[i+1:], slotSize)
	i += 5

	// DEC ECX
	buf[i] = 0x49
	i++

	// JNZ loop
	buf[i] = 0x75
	buf[i+1] = byte(int8(loop - (i + 2)))
	i += 2

	// XOR EAX, EAX
	buf[i] = 0x31
	buf[i+1] = 0xc0
	i += 2

	found := i
	buf[je+1] = byte(int8(found - (je + 2)))

	buf[i] = opcodeRET
	i++

	return buf[:i]
}
