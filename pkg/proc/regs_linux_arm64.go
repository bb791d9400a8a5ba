//go:build linux && arm64

package proc

import (
	"golang.org/x/sys/unix"

	"github.com/tracewalk/dbgcore/pkg/regnum"
)

func ptraceRegsToDwarf(regs *unix.PtraceRegs) *Registers {
	r := &Registers{
		Arch: regnum.ArchARM64,
		PC:   regs.Pc,
		SP:   regs.Sp,
		FP:   regs.Regs[29],
		GP:   make(map[int]uint64, 33),
	}
	for i := 0; i <= 30; i++ {
		r.GP[regnum.ARM64_X0+i] = regs.Regs[i]
	}
	r.GP[regnum.ARM64_SP] = regs.Sp
	r.GP[regnum.ARM64_PC] = regs.Pc
	return r
}

func dwarfToPtraceRegs(r *Registers, regs *unix.PtraceRegs) {
	for i := 0; i <= 30; i++ {
		if v, ok := r.GP[regnum.ARM64_X0+i]; ok {
			regs.Regs[i] = v
		}
	}
	regs.Regs[29] = r.FP
	regs.Sp = r.SP
	regs.Pc = r.PC
}
