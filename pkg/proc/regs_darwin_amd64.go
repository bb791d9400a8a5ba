//go:build darwin && amd64

package proc

import "github.com/tracewalk/dbgcore/pkg/regnum"

// x86_thread_state64_t field order.
const (
	stRax = iota
	stRbx
	stRcx
	stRdx
	stRdi
	stRsi
	stRbp
	stRsp
	stR8
	stR9
	stR10
	stR11
	stR12
	stR13
	stR14
	stR15
	stRip
	stRflags
	stCs
	stFs
	stGs
)

var amd64StateToDwarf = map[int]int{
	stRax: regnum.AMD64_Rax, stRbx: regnum.AMD64_Rbx, stRcx: regnum.AMD64_Rcx,
	stRdx: regnum.AMD64_Rdx, stRdi: regnum.AMD64_Rdi, stRsi: regnum.AMD64_Rsi,
	stRbp: regnum.AMD64_Rbp, stRsp: regnum.AMD64_Rsp, stR8: regnum.AMD64_R8,
	stR9: regnum.AMD64_R9, stR10: regnum.AMD64_R10, stR11: regnum.AMD64_R11,
	stR12: regnum.AMD64_R12, stR13: regnum.AMD64_R13, stR14: regnum.AMD64_R14,
	stR15: regnum.AMD64_R15, stRip: regnum.AMD64_Rip,
}

func machStateToDwarf(vals []uint64) *Registers {
	r := &Registers{Arch: regnum.ArchAMD64, GP: make(map[int]uint64, len(amd64StateToDwarf))}
	for st, dw := range amd64StateToDwarf {
		if st < len(vals) {
			r.GP[dw] = vals[st]
		}
	}
	r.PC = r.GP[regnum.AMD64_Rip]
	r.SP = r.GP[regnum.AMD64_Rsp]
	r.FP = r.GP[regnum.AMD64_Rbp]
	return r
}

func dwarfToMachState(r *Registers, vals []uint64) {
	for st, dw := range amd64StateToDwarf {
		if st >= len(vals) {
			continue
		}
		if v, ok := r.GP[dw]; ok {
			vals[st] = v
		}
	}
	if stRip < len(vals) {
		vals[stRip] = r.PC
	}
	if stRsp < len(vals) {
		vals[stRsp] = r.SP
	}
	if stRbp < len(vals) {
		vals[stRbp] = r.FP
	}
}
