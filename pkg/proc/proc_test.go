package proc

import (
	"testing"

	"github.com/tracewalk/dbgcore/pkg/regnum"
)

func TestDecodeWaitStatusExited(t *testing.T) {
	st := DecodeWaitStatus(0x2a00) // exit(42)
	if st.Kind != StatusExited || st.ExitCode != 42 {
		t.Fatalf("got %+v", st)
	}
}

func TestDecodeWaitStatusStopped(t *testing.T) {
	st := DecodeWaitStatus(0x057f) // stopped by SIGTRAP
	if st.Kind != StatusStopped || st.Signal != 5 {
		t.Fatalf("got %+v", st)
	}
}

func TestDecodeWaitStatusSignaled(t *testing.T) {
	st := DecodeWaitStatus(0x0009) // killed by SIGKILL
	if st.Kind != StatusSignaled || st.Signal != 9 {
		t.Fatalf("got %+v", st)
	}
}

func TestRegistersGetSet(t *testing.T) {
	r := &Registers{Arch: regnum.ArchAMD64}
	r.Set(regnum.AMD64_Rip, 0x1000)
	r.Set(regnum.AMD64_Rsp, 0x7fff)
	r.Set(regnum.AMD64_Rbp, 0x8000)
	r.Set(regnum.AMD64_Rax, 7)

	if r.PC != 0x1000 || r.SP != 0x7fff || r.FP != 0x8000 {
		t.Fatalf("shortcut registers not kept coherent: %+v", r)
	}
	if v, ok := r.Get(regnum.AMD64_Rax); !ok || v != 7 {
		t.Fatalf("rax: got %d, %v", v, ok)
	}
	if v, ok := r.Get(regnum.AMD64_Rip); !ok || v != 0x1000 {
		t.Fatalf("rip via Get: got %d, %v", v, ok)
	}
}

func TestBreakpointInstruction(t *testing.T) {
	if got := BreakpointInstruction(regnum.ArchAMD64); len(got) != 1 || got[0] != 0xcc {
		t.Fatalf("amd64 trap: %x", got)
	}
	if got := BreakpointInstruction(regnum.ArchARM64); len(got) != 4 {
		t.Fatalf("arm64 trap length: %x", got)
	}
	if !BreakInstrMovesPC(regnum.ArchAMD64) || BreakInstrMovesPC(regnum.ArchARM64) {
		t.Fatal("trap PC-advance behavior wrong")
	}
}

func TestInstructionLength(t *testing.T) {
	// mov eax, 1 on x86-64 is 5 bytes: b8 01 00 00 00.
	n, err := InstructionLength(regnum.ArchAMD64, []byte{0xb8, 0x01, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("got %d", n)
	}
	n, err = InstructionLength(regnum.ArchARM64, []byte{0x00, 0x00, 0x20, 0xd4})
	if err != nil || n != 4 {
		t.Fatalf("arm64: %d, %v", n, err)
	}
}

func TestIsCall(t *testing.T) {
	// call rel32 (e8 00 00 00 00).
	if !IsCall(regnum.ArchAMD64, []byte{0xe8, 0x00, 0x00, 0x00, 0x00}) {
		t.Fatal("call not detected")
	}
	// nop.
	if IsCall(regnum.ArchAMD64, []byte{0x90}) {
		t.Fatal("nop misdetected as call")
	}
}
