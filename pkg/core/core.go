// Package core loads core dumps (ELF on Linux, Mach-O on macOS) and
// presents the same memory/register interface a live process does, so the
// rest of the engine can inspect a crash post-mortem without a debuggee.
package core

import (
	"errors"
	"fmt"
	"os"

	"github.com/tracewalk/dbgcore/internal/dbglog"
	"github.com/tracewalk/dbgcore/pkg/proc"
	"github.com/tracewalk/dbgcore/pkg/regnum"
)

var log = dbglog.For(dbglog.Core)

var (
	ErrNotCore = errors.New("core: not a core dump")
)

// AddressNotMappedError means no segment of the dump covers the address.
type AddressNotMappedError struct {
	Addr uint64
}

func (e *AddressNotMappedError) Error() string {
	return fmt.Sprintf("core: address %#x not mapped by any segment", e.Addr)
}

// segment is one range of dumped memory. Bytes past FileSize (up to MemSize)
// existed in the process but were zero or elided; reads there return zeroes.
type segment struct {
	vaddr    uint64
	memSize  uint64
	fileOff  uint64
	fileSize uint64
}

// Dump is a loaded core file.
type Dump struct {
	Path string
	Arch regnum.Arch

	data     []byte
	segments []segment
	regs     *proc.Registers
}

// Load reads and classifies a core file by magic.
func Load(path string) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := LoadFromMemory(data)
	if err != nil {
		return nil, err
	}
	d.Path = path
	return d, nil
}

// LoadFromMemory classifies an in-memory core image by magic.
func LoadFromMemory(data []byte) (*Dump, error) {
	if len(data) < 4 {
		return nil, ErrNotCore
	}
	switch {
	case data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F':
		return parseELFCore(data)
	case uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24 == 0xfeedfacf:
		return parseMachOCore(data)
	}
	return nil, ErrNotCore
}

// ReadMemory reads from the dumped segments, satisfying proc.Reader so the
// unwinder and location evaluator work unchanged on a dead process.
func (d *Dump) ReadMemory(addr uint64, size int) ([]byte, error) {
	out := make([]byte, size)
	pos := 0
	for pos < size {
		seg := d.segmentFor(addr + uint64(pos))
		if seg == nil {
			return nil, &AddressNotMappedError{Addr: addr + uint64(pos)}
		}
		off := addr + uint64(pos) - seg.vaddr
		n := int(seg.memSize - off)
		if n > size-pos {
			n = size - pos
		}
		for i := 0; i < n; i++ {
			if off+uint64(i) < seg.fileSize {
				out[pos+i] = d.data[seg.fileOff+off+uint64(i)]
			}
			// else: elided page, stays zero
		}
		pos += n
	}
	return out, nil
}

func (d *Dump) segmentFor(addr uint64) *segment {
	for i := range d.segments {
		s := &d.segments[i]
		if addr >= s.vaddr && addr < s.vaddr+s.memSize {
			return s
		}
	}
	return nil
}

// Registers returns the dumped thread state of the primary thread, or nil
// if the dump carried none.
func (d *Dump) Registers() *proc.Registers {
	return d.regs
}
