// Package breakpoint owns the breakpoint list: resolving file:line requests
// to code addresses through the line table, patching trap opcodes into the
// debuggee, and the bookkeeping (hit counts, conditions, original bytes)
// the engine's hit-handling path depends on.
package breakpoint

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tracewalk/dbgcore/internal/dbglog"
	"github.com/tracewalk/dbgcore/pkg/dwarf/line"
	"github.com/tracewalk/dbgcore/pkg/proc"
	"github.com/tracewalk/dbgcore/pkg/regnum"
)

var log = dbglog.For(dbglog.Breakpoint)

var ErrNotFound = errors.New("breakpoint: no breakpoint with that id")

// NoAddressForLineError means the line table has no statement row at or
// after the requested line in the requested file.
type NoAddressForLineError struct {
	File string
	Line uint32
}

func (e *NoAddressForLineError) Error() string {
	return fmt.Sprintf("breakpoint: no address for %s:%d", e.File, e.Line)
}

// Breakpoint is one installed (or installable) trap site.
type Breakpoint struct {
	ID           uint32
	Addr         uint64
	File         string
	Line         uint32
	OriginalData []byte // the bytes the trap overwrote; nil until written
	Enabled      bool
	HitCount     uint32
	Condition    string
}

// ConditionEvaluator decides whether a conditional breakpoint's condition
// holds at the current stop. Supplied by a higher layer; the manager only
// invokes it.
type ConditionEvaluator func(condition string) (bool, error)

// Manager owns the breakpoint list. It never talks to the debuggee except
// through the ReadWriter handed to Write/Remove, so the list survives the
// process it was armed in (restart re-arms it in the new image).
type Manager struct {
	arch   regnum.Arch
	nextID uint32
	byID   map[uint32]*Breakpoint
	byAddr map[uint64]*Breakpoint
}

// NewManager returns an empty manager for targets of the given architecture.
func NewManager(arch regnum.Arch) *Manager {
	return &Manager{
		arch:   arch,
		nextID: 1,
		byID:   make(map[uint32]*Breakpoint),
		byAddr: make(map[uint64]*Breakpoint),
	}
}

// ResolveAndSet resolves file:line through the line table and records a new
// breakpoint at the resolved address. The resolution policy prefers an
// is_stmt row on the exact line and otherwise snaps to the is_stmt row with
// the smallest line past it. The trap is not written; call Write.
func (m *Manager) ResolveAndSet(file string, ln uint32, prog *line.Program, condition string) (*Breakpoint, error) {
	addr, ok := prog.LineToPC(file, ln)
	if !ok {
		return nil, &NoAddressForLineError{File: file, Line: ln}
	}
	bp := m.SetAtAddress(addr, file, ln)
	bp.Condition = condition
	return bp, nil
}

// SetAtAddress records a breakpoint at a known address. If one already
// exists there the existing entry is returned instead of a duplicate.
func (m *Manager) SetAtAddress(addr uint64, file string, ln uint32) *Breakpoint {
	if bp, ok := m.byAddr[addr]; ok {
		return bp
	}
	bp := &Breakpoint{
		ID:      m.nextID,
		Addr:    addr,
		File:    file,
		Line:    ln,
		Enabled: true,
	}
	m.nextID++
	m.byID[bp.ID] = bp
	m.byAddr[bp.Addr] = bp
	log.Debugf("breakpoint %d recorded at %#x (%s:%d)", bp.ID, bp.Addr, file, ln)
	return bp
}

// Write installs the trap opcode for bp, saving the original bytes first.
// A failed write rolls the entry back out of the list so a caller that just
// created it observes clean failure.
func (m *Manager) Write(id uint32, mem proc.ReadWriter) error {
	bp, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	trap := proc.BreakpointInstruction(m.arch)
	orig, err := mem.ReadMemory(bp.Addr, len(trap))
	if err != nil {
		m.Remove(id)
		return err
	}
	if err := mem.WriteMemory(bp.Addr, trap); err != nil {
		m.Remove(id)
		return err
	}
	bp.OriginalData = orig
	return nil
}

// RemoveBreakpoint restores the original bytes in the debuggee and drops
// the entry.
func (m *Manager) RemoveBreakpoint(id uint32, mem proc.ReadWriter) error {
	bp, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if bp.OriginalData != nil {
		if err := mem.WriteMemory(bp.Addr, bp.OriginalData); err != nil {
			return err
		}
	}
	m.Remove(id)
	return nil
}

// Remove drops the entry without touching the debuggee. Used when the
// process is already gone.
func (m *Manager) Remove(id uint32) {
	bp, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	delete(m.byAddr, bp.Addr)
}

// ClearAll restores every written breakpoint; used at engine teardown while
// the process is still alive.
func (m *Manager) ClearAll(mem proc.ReadWriter) {
	for _, bp := range m.List() {
		if bp.OriginalData != nil {
			if err := mem.WriteMemory(bp.Addr, bp.OriginalData); err != nil {
				log.Warnf("could not restore original bytes at %#x: %v", bp.Addr, err)
			}
		}
		m.Remove(bp.ID)
	}
}

// FindByAddress returns the breakpoint at addr, if any.
func (m *Manager) FindByAddress(addr uint64) (*Breakpoint, bool) {
	bp, ok := m.byAddr[addr]
	return bp, ok
}

// FindByID returns the breakpoint with the given id, if any.
func (m *Manager) FindByID(id uint32) (*Breakpoint, bool) {
	bp, ok := m.byID[id]
	return bp, ok
}

// List returns every breakpoint in id order.
func (m *Manager) List() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(m.byID))
	for _, bp := range m.byID {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShiftAddresses adds delta (which may wrap) to every breakpoint's address.
// Run by the engine's restart path when the new process image landed at a
// different ASLR slide; OriginalData is dropped since the bytes belong to
// the old image and are re-read before re-arming.
func (m *Manager) ShiftAddresses(delta uint64) {
	if delta == 0 {
		return
	}
	byAddr := make(map[uint64]*Breakpoint, len(m.byAddr))
	for _, bp := range m.byID {
		bp.Addr += delta
		bp.OriginalData = nil
		byAddr[bp.Addr] = bp
	}
	m.byAddr = byAddr
}

// RecordHit bumps the hit counter.
func (m *Manager) RecordHit(id uint32) {
	if bp, ok := m.byID[id]; ok {
		bp.HitCount++
	}
}

// ShouldStop consults the breakpoint's condition. An unconditional
// breakpoint, or one with no evaluator wired, always stops. An evaluator
// error stops too: failing open surfaces the broken condition to the user
// instead of silently running past the trap.
func (m *Manager) ShouldStop(bp *Breakpoint, eval ConditionEvaluator) bool {
	if bp.Condition == "" || eval == nil {
		return true
	}
	ok, err := eval(bp.Condition)
	if err != nil {
		log.Warnf("breakpoint %d condition %q: %v", bp.ID, bp.Condition, err)
		return true
	}
	return ok
}
