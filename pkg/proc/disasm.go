package proc

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/tracewalk/dbgcore/pkg/regnum"
)

// Disassembled is one decoded instruction rendered as text.
type Disassembled struct {
	PC   uint64
	Size int
	Text string
}

// InstructionLength decodes the length of the instruction at the start of
// mem. aarch64 instructions are always four bytes; x86-64 needs a real
// decode.
func InstructionLength(arch regnum.Arch, mem []byte) (int, error) {
	if arch == regnum.ArchARM64 {
		if len(mem) < 4 {
			return 0, fmt.Errorf("proc: short instruction read")
		}
		return 4, nil
	}
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		return 0, err
	}
	return inst.Len, nil
}

// Disassemble renders the instructions in mem, starting at pc, as text.
// On x86-64 undecodable bytes terminate the listing with a raw byte marker;
// on aarch64 an undecodable word is listed as .word and decoding continues.
func Disassemble(arch regnum.Arch, mem []byte, pc uint64) []Disassembled {
	var out []Disassembled
	for len(mem) > 0 {
		var size int
		var text string
		switch arch {
		case regnum.ArchARM64:
			if len(mem) < 4 {
				return out
			}
			inst, err := arm64asm.Decode(mem)
			if err != nil {
				text = fmt.Sprintf(".word 0x%02x%02x%02x%02x", mem[3], mem[2], mem[1], mem[0])
			} else {
				text = arm64asm.GNUSyntax(inst)
			}
			size = 4
		default:
			inst, err := x86asm.Decode(mem, 64)
			if err != nil {
				out = append(out, Disassembled{PC: pc, Size: 1, Text: fmt.Sprintf(".byte 0x%02x", mem[0])})
				return out
			}
			text = x86asm.IntelSyntax(inst, pc, nil)
			size = inst.Len
		}
		out = append(out, Disassembled{PC: pc, Size: size, Text: text})
		pc += uint64(size)
		mem = mem[size:]
	}
	return out
}

// IsCall reports whether the instruction at the start of mem is a call,
// which the engine's step-over uses to decide whether to run to the return
// address instead of descending.
func IsCall(arch regnum.Arch, mem []byte) bool {
	switch arch {
	case regnum.ArchARM64:
		if len(mem) < 4 {
			return false
		}
		inst, err := arm64asm.Decode(mem)
		if err != nil {
			return false
		}
		return inst.Op == arm64asm.BL || inst.Op == arm64asm.BLR
	default:
		inst, err := x86asm.Decode(mem, 64)
		if err != nil {
			return false
		}
		return inst.Op == x86asm.CALL || inst.Op == x86asm.LCALL
	}
}
