// Package stack produces backtraces for the stopped debuggee. The primary
// strategy is a frame-pointer walk, which assumes the target was compiled
// with frame pointers preserved. The .eh_frame FDE table, when present, is
// consulted only to log PCs that no DWARF subprogram covers; such frames
// keep an empty function name.
package stack

import (
	"encoding/binary"

	"github.com/tracewalk/dbgcore/internal/dbglog"
	"github.com/tracewalk/dbgcore/pkg/dwarf/frame"
	"github.com/tracewalk/dbgcore/pkg/dwarf/line"
	"github.com/tracewalk/dbgcore/pkg/dwarf/unit"
	"github.com/tracewalk/dbgcore/pkg/proc"
)

var log = dbglog.For(dbglog.Stack)

// DefaultMaxDepth bounds the frame-pointer walk against corrupt chains.
const DefaultMaxDepth = 64

// Frame is one entry of a backtrace; index 0 is the innermost frame.
type Frame struct {
	Address    uint64
	Function   string
	File       string
	Line       uint32
	Language   string
	IsBoundary bool
	FrameIndex int
}

// Unwinder walks the stopped debuggee's stack.
type Unwinder struct {
	Funcs    []*unit.FunctionInfo
	Lines    *line.Program
	FDEs     *frame.Table // optional
	Mem      proc.Reader
	MaxDepth int
}

// PCToFunc returns the function containing pc, consulting extra ranges for
// non-contiguous bodies.
func (u *Unwinder) PCToFunc(pc uint64) *unit.FunctionInfo {
	for _, f := range u.Funcs {
		if f.Contains(pc) {
			return f
		}
	}
	return nil
}

// Unwind walks the frame-pointer chain starting at (pc, fp) and returns
// frames innermost-first. The walk stops at main/_start, at a nil or
// non-ascending saved frame pointer, or at MaxDepth.
func (u *Unwinder) Unwind(pc, fp uint64) []Frame {
	maxDepth := u.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	var frames []Frame
	for depth := 0; depth < maxDepth; depth++ {
		fr := u.frameAt(pc, depth)
		frames = append(frames, fr)
		if fr.Function == "main" || fr.Function == "_start" {
			break
		}

		savedFP, retAddr, ok := u.readFrameRecord(fp)
		if !ok {
			break
		}
		if savedFP == 0 || retAddr == 0 || savedFP <= fp {
			break
		}
		pc, fp = retAddr, savedFP
	}
	return frames
}

// frameAt attributes a PC with function, file, and line.
func (u *Unwinder) frameAt(pc uint64, index int) Frame {
	fr := Frame{Address: pc, FrameIndex: index}
	if fn := u.PCToFunc(pc); fn != nil {
		fr.Function = fn.Name
	} else if u.FDEs != nil {
		// No subprogram DIE covers this PC; an FDE at least tells us a
		// function spans it.
		if _, ok := u.FDEs.RowForPC(pc); ok {
			log.Debugf("pc %#x attributed by FDE only", pc)
		}
	}
	if u.Lines != nil {
		if loc := u.Lines.Resolve(pc); loc != nil {
			fr.File = loc.File
			fr.Line = loc.Line
		}
	}
	return fr
}

// readFrameRecord reads the two words a frame-pointer-preserving prologue
// pushes: the saved caller FP at [fp] and the return address at [fp+8].
func (u *Unwinder) readFrameRecord(fp uint64) (savedFP, retAddr uint64, ok bool) {
	if u.Mem == nil {
		return 0, 0, false
	}
	buf, err := u.Mem.ReadMemory(fp, 16)
	if err != nil || len(buf) < 16 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint64(buf[8:16]), true
}
