package core

import (
	"github.com/tracewalk/dbgcore/internal/leb128"
	"github.com/tracewalk/dbgcore/pkg/proc"
	"github.com/tracewalk/dbgcore/pkg/regnum"
)

const (
	mhCore           = 0x4
	lcSegment64      = 0x19
	lcThread         = 0x4
	lcUnixThread     = 0x5
	cpuTypeX8664     = 0x01000007
	cpuTypeArm64     = 0x0100000c
	x86ThreadState64 = 4
	armThreadState64 = 6
)

func parseMachOCore(data []byte) (*Dump, error) {
	if len(data) < 32 {
		return nil, ErrNotCore
	}
	r := leb128.NewReader(data)
	r.SeekTo(4)
	cputype, _ := r.ReadU32()
	r.SeekTo(12)
	filetype, err := r.ReadU32()
	if err != nil || filetype != mhCore {
		return nil, ErrNotCore
	}
	ncmds, _ := r.ReadU32()

	d := &Dump{data: data}
	switch cputype {
	case cpuTypeX8664:
		d.Arch = regnum.ArchAMD64
	case cpuTypeArm64:
		d.Arch = regnum.ArchARM64
	}

	pos := 32
	for i := 0; i < int(ncmds); i++ {
		if pos+8 > len(data) {
			break
		}
		r.SeekTo(pos)
		cmd, _ := r.ReadU32()
		cmdsize, err := r.ReadU32()
		if err != nil || cmdsize < 8 || pos+int(cmdsize) > len(data) {
			break
		}

		switch cmd {
		case lcSegment64:
			// segname[16] follows cmd/cmdsize; then vmaddr, vmsize,
			// fileoff, filesize.
			r.SeekTo(pos + 8 + 16)
			vmaddr, _ := r.ReadU64()
			vmsize, _ := r.ReadU64()
			fileoff, _ := r.ReadU64()
			filesize, err := r.ReadU64()
			if err != nil || fileoff+filesize > uint64(len(data)) {
				break
			}
			d.segments = append(d.segments, segment{
				vaddr: vmaddr, memSize: vmsize, fileOff: fileoff, fileSize: filesize,
			})
		case lcThread, lcUnixThread:
			if d.regs == nil {
				d.regs = parseThreadCommand(data[pos+8:pos+int(cmdsize)], d.Arch)
			}
		}
		pos += int(cmdsize)
	}
	log.Debugf("Mach-O core: %d segments, registers %v", len(d.segments), d.regs != nil)
	return d, nil
}

// parseThreadCommand decodes the (flavor, count, state...) records of an
// LC_THREAD command, keeping the first recognized general-purpose flavor.
func parseThreadCommand(body []byte, arch regnum.Arch) *proc.Registers {
	r := leb128.NewReader(body)
	for r.Len() >= 8 {
		flavor, err1 := r.ReadU32()
		count, err2 := r.ReadU32()
		if err1 != nil || err2 != nil {
			return nil
		}
		state, err := r.ReadBytes(int(count) * 4)
		if err != nil {
			return nil
		}
		switch {
		case flavor == x86ThreadState64 && arch == regnum.ArchAMD64:
			return decodeX86ThreadState(state)
		case flavor == armThreadState64 && arch == regnum.ArchARM64:
			return decodeArmThreadState(state)
		}
	}
	return nil
}

// x86_thread_state64_t field order.
var x86StateOrder = []int{
	regnum.AMD64_Rax, regnum.AMD64_Rbx, regnum.AMD64_Rcx, regnum.AMD64_Rdx,
	regnum.AMD64_Rdi, regnum.AMD64_Rsi, regnum.AMD64_Rbp, regnum.AMD64_Rsp,
	regnum.AMD64_R8, regnum.AMD64_R9, regnum.AMD64_R10, regnum.AMD64_R11,
	regnum.AMD64_R12, regnum.AMD64_R13, regnum.AMD64_R14, regnum.AMD64_R15,
	regnum.AMD64_Rip,
}

func decodeX86ThreadState(state []byte) *proc.Registers {
	r := leb128.NewReader(state)
	regs := &proc.Registers{Arch: regnum.ArchAMD64, GP: make(map[int]uint64)}
	for _, dw := range x86StateOrder {
		v, err := r.ReadU64()
		if err != nil {
			return nil
		}
		regs.GP[dw] = v
	}
	regs.PC = regs.GP[regnum.AMD64_Rip]
	regs.SP = regs.GP[regnum.AMD64_Rsp]
	regs.FP = regs.GP[regnum.AMD64_Rbp]
	return regs
}

func decodeArmThreadState(state []byte) *proc.Registers {
	// arm_thread_state64_t: x0..x28, fp, lr, sp, pc, cpsr.
	r := leb128.NewReader(state)
	regs := &proc.Registers{Arch: regnum.ArchARM64, GP: make(map[int]uint64)}
	for i := 0; i <= 30; i++ {
		v, err := r.ReadU64()
		if err != nil {
			return nil
		}
		regs.GP[regnum.ARM64_X0+i] = v
	}
	sp, err1 := r.ReadU64()
	pc, err2 := r.ReadU64()
	if err1 != nil || err2 != nil {
		return nil
	}
	regs.SP, regs.PC = sp, pc
	regs.FP = regs.GP[regnum.ARM64_X0+29]
	regs.GP[regnum.ARM64_SP] = sp
	regs.GP[regnum.ARM64_PC] = pc
	return regs
}
