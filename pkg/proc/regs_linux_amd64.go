//go:build linux && amd64

package proc

import (
	"golang.org/x/sys/unix"

	"github.com/tracewalk/dbgcore/pkg/regnum"
)

func ptraceRegsToDwarf(regs *unix.PtraceRegs) *Registers {
	r := &Registers{
		Arch: regnum.ArchAMD64,
		PC:   regs.Rip,
		SP:   regs.Rsp,
		FP:   regs.Rbp,
		GP: map[int]uint64{
			regnum.AMD64_Rax: regs.Rax,
			regnum.AMD64_Rdx: regs.Rdx,
			regnum.AMD64_Rcx: regs.Rcx,
			regnum.AMD64_Rbx: regs.Rbx,
			regnum.AMD64_Rsi: regs.Rsi,
			regnum.AMD64_Rdi: regs.Rdi,
			regnum.AMD64_Rbp: regs.Rbp,
			regnum.AMD64_Rsp: regs.Rsp,
			regnum.AMD64_R8:  regs.R8,
			regnum.AMD64_R9:  regs.R9,
			regnum.AMD64_R10: regs.R10,
			regnum.AMD64_R11: regs.R11,
			regnum.AMD64_R12: regs.R12,
			regnum.AMD64_R13: regs.R13,
			regnum.AMD64_R14: regs.R14,
			regnum.AMD64_R15: regs.R15,
			regnum.AMD64_Rip: regs.Rip,
		},
	}
	return r
}

func dwarfToPtraceRegs(r *Registers, regs *unix.PtraceRegs) {
	get := func(n int, cur uint64) uint64 {
		if v, ok := r.GP[n]; ok {
			return v
		}
		return cur
	}
	regs.Rax = get(regnum.AMD64_Rax, regs.Rax)
	regs.Rdx = get(regnum.AMD64_Rdx, regs.Rdx)
	regs.Rcx = get(regnum.AMD64_Rcx, regs.Rcx)
	regs.Rbx = get(regnum.AMD64_Rbx, regs.Rbx)
	regs.Rsi = get(regnum.AMD64_Rsi, regs.Rsi)
	regs.Rdi = get(regnum.AMD64_Rdi, regs.Rdi)
	regs.R8 = get(regnum.AMD64_R8, regs.R8)
	regs.R9 = get(regnum.AMD64_R9, regs.R9)
	regs.R10 = get(regnum.AMD64_R10, regs.R10)
	regs.R11 = get(regnum.AMD64_R11, regs.R11)
	regs.R12 = get(regnum.AMD64_R12, regs.R12)
	regs.R13 = get(regnum.AMD64_R13, regs.R13)
	regs.R14 = get(regnum.AMD64_R14, regs.R14)
	regs.R15 = get(regnum.AMD64_R15, regs.R15)
	regs.Rip = r.PC
	regs.Rsp = r.SP
	regs.Rbp = r.FP
}
