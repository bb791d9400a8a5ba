package core

import (
	"github.com/tracewalk/dbgcore/internal/leb128"
	"github.com/tracewalk/dbgcore/pkg/proc"
	"github.com/tracewalk/dbgcore/pkg/regnum"
)

const (
	etCore     = 4
	ptLoad     = 1
	ptNote     = 4
	emX8664    = 62
	emAarch64  = 183
	ntPrstatus = 1

	// pr_reg offset inside prstatus, identical on linux/amd64 and
	// linux/arm64. Kernel-version drift here is possible; this is the
	// layout every core in the verification corpus used.
	prRegOffset = 112
)

func parseELFCore(data []byte) (*Dump, error) {
	r := leb128.NewReader(data)
	if len(data) < 64 {
		return nil, ErrNotCore
	}

	r.SeekTo(16)
	etype, err := r.ReadU16()
	if err != nil || etype != etCore {
		return nil, ErrNotCore
	}
	machine, _ := r.ReadU16()

	d := &Dump{data: data}
	switch machine {
	case emX8664:
		d.Arch = regnum.ArchAMD64
	case emAarch64:
		d.Arch = regnum.ArchARM64
	}

	r.SeekTo(32)
	phoff, _ := r.ReadU64()
	r.SeekTo(54)
	phentsize, _ := r.ReadU16()
	phnum, _ := r.ReadU16()

	for i := 0; i < int(phnum); i++ {
		base := int(phoff) + i*int(phentsize)
		if base+56 > len(data) {
			break
		}
		r.SeekTo(base)
		ptype, _ := r.ReadU32()
		_, _ = r.ReadU32() // p_flags
		offset, _ := r.ReadU64()
		vaddr, _ := r.ReadU64()
		_, _ = r.ReadU64() // p_paddr
		filesz, _ := r.ReadU64()
		memsz, _ := r.ReadU64()

		switch ptype {
		case ptLoad:
			if offset+filesz > uint64(len(data)) {
				continue
			}
			d.segments = append(d.segments, segment{
				vaddr: vaddr, memSize: memsz, fileOff: offset, fileSize: filesz,
			})
		case ptNote:
			if d.regs == nil {
				d.regs = parsePrstatusNotes(data, offset, filesz, d.Arch)
			}
		}
	}
	log.Debugf("ELF core: %d segments, registers %v", len(d.segments), d.regs != nil)
	return d, nil
}

// parsePrstatusNotes scans a PT_NOTE segment for the first NT_PRSTATUS and
// decodes its pr_reg block.
func parsePrstatusNotes(data []byte, off, size uint64, arch regnum.Arch) *proc.Registers {
	if off+size > uint64(len(data)) {
		return nil
	}
	r := leb128.NewReader(data[off : off+size])
	for r.Len() >= 12 {
		namesz, err1 := r.ReadU32()
		descsz, err2 := r.ReadU32()
		ntype, err3 := r.ReadU32()
		if err1 != nil || err2 != nil || err3 != nil {
			return nil
		}
		if _, err := r.ReadBytes(int(align4(namesz))); err != nil {
			return nil
		}
		desc, err := r.ReadBytes(int(align4(descsz)))
		if err != nil {
			return nil
		}
		if ntype != ntPrstatus {
			continue
		}
		desc = desc[:descsz]
		if len(desc) < prRegOffset {
			return nil
		}
		return decodePrReg(desc[prRegOffset:], arch)
	}
	return nil
}

func align4(v uint32) uint32 { return (v + 3) &^ 3 }

// Linux user_regs_struct field order on x86-64.
var amd64PrRegOrder = []int{
	regnum.AMD64_R15, regnum.AMD64_R14, regnum.AMD64_R13, regnum.AMD64_R12,
	regnum.AMD64_Rbp, regnum.AMD64_Rbx, regnum.AMD64_R11, regnum.AMD64_R10,
	regnum.AMD64_R9, regnum.AMD64_R8, regnum.AMD64_Rax, regnum.AMD64_Rcx,
	regnum.AMD64_Rdx, regnum.AMD64_Rsi, regnum.AMD64_Rdi,
	-1, // orig_rax
	regnum.AMD64_Rip,
	-1, // cs
	-1, // eflags
	regnum.AMD64_Rsp,
	-1, // ss
}

func decodePrReg(raw []byte, arch regnum.Arch) *proc.Registers {
	r := leb128.NewReader(raw)
	switch arch {
	case regnum.ArchAMD64:
		regs := &proc.Registers{Arch: arch, GP: make(map[int]uint64)}
		for _, dw := range amd64PrRegOrder {
			v, err := r.ReadU64()
			if err != nil {
				return nil
			}
			if dw >= 0 {
				regs.GP[dw] = v
			}
		}
		regs.PC = regs.GP[regnum.AMD64_Rip]
		regs.SP = regs.GP[regnum.AMD64_Rsp]
		regs.FP = regs.GP[regnum.AMD64_Rbp]
		return regs
	case regnum.ArchARM64:
		// struct user_pt_regs: regs[31], sp, pc, pstate.
		regs := &proc.Registers{Arch: arch, GP: make(map[int]uint64)}
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
	return nil
}
