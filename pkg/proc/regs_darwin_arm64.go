//go:build darwin && arm64

package proc

import "github.com/tracewalk/dbgcore/pkg/regnum"

// arm_thread_state64_t lays out x0..x28, then fp (x29), lr (x30), sp, pc,
// cpsr as consecutive 64-bit words.
const (
	stFP   = 29
	stLR   = 30
	stSP   = 31
	stPC   = 32
	stCPSR = 33
)

func machStateToDwarf(vals []uint64) *Registers {
	r := &Registers{Arch: regnum.ArchARM64, GP: make(map[int]uint64, 33)}
	for i := 0; i <= 30 && i < len(vals); i++ {
		r.GP[regnum.ARM64_X0+i] = vals[i]
	}
	if stSP < len(vals) {
		r.SP = vals[stSP]
		r.GP[regnum.ARM64_SP] = vals[stSP]
	}
	if stPC < len(vals) {
		r.PC = vals[stPC]
		r.GP[regnum.ARM64_PC] = vals[stPC]
	}
	r.FP = r.GP[regnum.ARM64_X0+29]
	return r
}

func dwarfToMachState(r *Registers, vals []uint64) {
	for i := 0; i <= 30 && i < len(vals); i++ {
		if v, ok := r.GP[regnum.ARM64_X0+i]; ok {
			vals[i] = v
		}
	}
	if stFP < len(vals) {
		vals[stFP] = r.FP
	}
	if stSP < len(vals) {
		vals[stSP] = r.SP
	}
	if stPC < len(vals) {
		vals[stPC] = r.PC
	}
}
