package proc

import (
	"runtime"

	"github.com/tracewalk/dbgcore/pkg/regnum"
)

// Trap instructions per architecture: INT3 on x86-64, BRK #0 on aarch64.
var (
	amd64BreakInstruction = []byte{0xcc}
	arm64BreakInstruction = []byte{0x00, 0x00, 0x20, 0xd4}
)

// BreakpointInstruction returns the trap opcode bytes for arch.
func BreakpointInstruction(arch regnum.Arch) []byte {
	if arch == regnum.ArchARM64 {
		return arm64BreakInstruction
	}
	return amd64BreakInstruction
}

// BreakInstrMovesPC reports whether executing the trap leaves the PC past
// the trap instruction. On x86-64 INT3 advances RIP past the 0xCC, so the
// engine must rewind; on aarch64 the BRK faults at its own address.
func BreakInstrMovesPC(arch regnum.Arch) bool {
	return arch == regnum.ArchAMD64
}

// NativeArch returns the architecture of the machine the debugger itself
// runs on, which is also the debuggee's (no remote or cross targets).
func NativeArch() regnum.Arch {
	switch runtime.GOARCH {
	case "amd64":
		return regnum.ArchAMD64
	case "arm64":
		return regnum.ArchARM64
	}
	return regnum.ArchUnknown
}
