// Package engine orchestrates the debugger core behind the driver contract:
// launch/attach, breakpoint management, execution steering, stop-state
// construction, stack unwinding, and local-variable inspection. One Engine
// owns one debuggee and all debug information parsed from its binary.
package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/tracewalk/dbgcore/internal/dbglog"
	"github.com/tracewalk/dbgcore/pkg/breakpoint"
	"github.com/tracewalk/dbgcore/pkg/condeval"
	"github.com/tracewalk/dbgcore/pkg/dwarf/frame"
	"github.com/tracewalk/dbgcore/pkg/dwarf/line"
	"github.com/tracewalk/dbgcore/pkg/dwarf/op"
	"github.com/tracewalk/dbgcore/pkg/dwarf/unit"
	"github.com/tracewalk/dbgcore/pkg/format"
	"github.com/tracewalk/dbgcore/pkg/loader"
	"github.com/tracewalk/dbgcore/pkg/merge"
	"github.com/tracewalk/dbgcore/pkg/proc"
	"github.com/tracewalk/dbgcore/pkg/regnum"
	"github.com/tracewalk/dbgcore/pkg/stack"
)

var log = dbglog.For(dbglog.Engine)

var (
	ErrNoProcess        = errors.New("engine: no process under control")
	ErrNotSupported     = errors.New("engine: operation not supported")
	ErrNoDebugInfo      = errors.New("engine: binary has no DWARF line information")
	ErrBinaryLoadFailed = errors.New("engine: could not load binary")
)

// Action selects what Run does.
type Action int

const (
	Continue Action = iota
	StepInto
	StepOver
	StepOut
	Restart
)

// StopReason classifies why Run returned.
type StopReason int

const (
	ReasonBreakpoint StopReason = iota
	ReasonStep
	ReasonException
	ReasonExit
	ReasonEntry
	ReasonPause
)

func (r StopReason) String() string {
	switch r {
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonStep:
		return "step"
	case ReasonException:
		return "exception"
	case ReasonExit:
		return "exit"
	case ReasonEntry:
		return "entry"
	case ReasonPause:
		return "pause"
	}
	return "unknown"
}

// Variable is one inspected local presented to the caller.
type Variable struct {
	Name  string
	Value string
	Type  string
}

// StopState is what every Run call produces.
type StopState struct {
	Reason     StopReason
	Location   *line.SourceLocation
	StackTrace []stack.Frame
	Locals     []Variable
	Signal     int
	ExitCode   int
	Breakpoint *BreakpointInfo
}

// BreakpointInfo is the caller-visible view of a breakpoint.
type BreakpointInfo struct {
	ID       uint32
	Verified bool
	File     string
	Line     uint32
}

// InspectRequest asks for locals of a frame, or a single named variable.
type InspectRequest struct {
	Expression string
	FrameID    int
}

// InspectResult carries the inspected values.
type InspectResult struct {
	Result   string
	Type     string
	Children []Variable
}

// LaunchConfig is the pre-parsed launch request handed down from the
// session layer.
type LaunchConfig struct {
	Program     string
	Args        []string
	Env         []string
	Cwd         string
	StopOnEntry bool
	UsePTY      bool
}

// Driver is the runtime-polymorphic contract the session manager consumes.
// The Engine is its native implementation; a DAP proxy would be another.
type Driver interface {
	Launch(cfg LaunchConfig) error
	Attach(pid int) error
	Run(action Action) (*StopState, error)
	SetBreakpoint(file string, ln uint32, condition string) (BreakpointInfo, error)
	RemoveBreakpoint(id uint32) error
	ListBreakpoints() []BreakpointInfo
	Inspect(req InspectRequest) (InspectResult, error)
	ReadMemory(addr uint64, size int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
	StackTrace(start, levels int) []stack.Frame
	Stop() error
}

// funcEntry pairs a subprogram with the compilation unit that declared it,
// so variable types resolve against the right unit.
type funcEntry struct {
	fn *unit.FunctionInfo
	cu *unit.CompUnit
}

// Engine drives a native debuggee. All methods are serialized by one mutex;
// Run blocks it until the debuggee next stops.
type Engine struct {
	mu sync.Mutex

	arch  regnum.Arch
	spawn func(program string, opts proc.SpawnOptions) (proc.Controller, error)

	ctrl  proc.Controller
	cfg   LaunchConfig
	bin   *loader.Binary
	lines *line.Program
	funcs []funcEntry
	fdes  *frame.Table

	bps  *breakpoint.Manager
	cond *condeval.Evaluator

	slide        uint64
	slideApplied bool
	// stoppedAt is the breakpoint the debuggee is currently parked on;
	// the next resume must run the step-past protocol first.
	stoppedAt *breakpoint.Breakpoint

	// Boundary/Resolver, when set, splice foreign-runtime frames into
	// stack traces (hybrid targets).
	Boundary merge.BoundaryMatcher
	Resolver merge.Resolver
}

var _ Driver = (*Engine)(nil)

// New returns an engine for the machine's native architecture.
func New() *Engine {
	return &Engine{
		arch: proc.NativeArch(),
		spawn: func(program string, opts proc.SpawnOptions) (proc.Controller, error) {
			return proc.Spawn(program, opts)
		},
		bps:  breakpoint.NewManager(proc.NativeArch()),
		cond: condeval.New(),
	}
}

// Launch spawns the debuggee stopped at entry and loads its debug info.
func (e *Engine) Launch(cfg LaunchConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctrl, err := e.spawn(cfg.Program, proc.SpawnOptions{
		Args: cfg.Args, Env: cfg.Env, Cwd: cfg.Cwd, UsePTY: cfg.UsePTY,
	})
	if err != nil {
		return err
	}
	e.ctrl = ctrl
	e.cfg = cfg

	if err := e.loadDebugInfo(cfg.Program); err != nil {
		ctrl.Kill()
		e.ctrl = nil
		return err
	}
	e.applySlide()
	return nil
}

// Attach places a running process under control. Debug info is loaded from
// the program path if one is supplied via LaunchConfig beforehand; without
// it only raw memory/register access works.
func (e *Engine) Attach(pid int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctrl, err := proc.Attach(pid)
	if err != nil {
		return err
	}
	e.ctrl = ctrl
	if e.cfg.Program != "" {
		if err := e.loadDebugInfo(e.cfg.Program); err != nil {
			log.Warnf("attach: %v; continuing without debug info", err)
		} else {
			e.applySlide()
		}
	}
	return nil
}

// loadDebugInfo parses the binary's DWARF sections into the engine's
// session-frozen tables.
func (e *Engine) loadDebugInfo(program string) error {
	bin, err := loader.LoadWithDSYMFallback(program)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBinaryLoadFailed, err)
	}
	e.bin = bin
	e.lines = nil
	e.funcs = nil
	e.fdes = nil
	e.slideApplied = false
	e.slide = 0

	debugStr, _ := bin.GetSectionData("str")
	debugLineStr, _ := bin.GetSectionData("line_str")

	if lineSec, ok := bin.GetSectionData("line"); ok {
		prog, err := line.Parse(lineSec, line.Sections{DebugStr: debugStr, DebugLineStr: debugLineStr})
		if err != nil {
			log.Warnf("line table parse stopped early: %v", err)
		}
		e.lines = prog
	}

	info, okInfo := bin.GetSectionData("info")
	abbr, okAbbr := bin.GetSectionData("abbrev")
	if okInfo && okAbbr {
		strOffs, _ := bin.GetSectionData("str_offsets")
		addrSec, _ := bin.GetSectionData("addr")
		ranges, _ := bin.GetSectionData("ranges")
		units, err := unit.ParseAll(info, abbr, unit.Sections{
			DebugStr:        debugStr,
			DebugLineStr:    debugLineStr,
			DebugStrOffsets: strOffs,
			DebugAddr:       addrSec,
			DebugRanges:     ranges,
		})
		if err != nil {
			log.Warnf("debug_info parse stopped early: %v", err)
		}
		for _, cu := range units {
			for _, fn := range cu.Functions {
				e.funcs = append(e.funcs, funcEntry{fn: fn, cu: cu})
			}
		}
	}

	if eh, ok := bin.GetSectionData("eh_frame"); ok {
		table, err := frame.Parse(eh, 0)
		if err != nil {
			log.Warnf("eh_frame parse stopped early: %v", err)
		}
		e.fdes = table
	}
	return nil
}

// applySlide reconciles link-time addresses with the runtime text base,
// shifting the line table and function ranges exactly once per image.
func (e *Engine) applySlide() {
	if e.slideApplied || e.ctrl == nil || e.bin == nil {
		return
	}
	actual, err := e.ctrl.TextBase()
	if err != nil {
		log.Warnf("text base query failed, assuming no slide: %v", err)
		return
	}
	e.slideApplied = true
	slide := actual - e.bin.TextAddr
	if slide == 0 {
		return
	}
	e.slide = slide
	log.Debugf("ASLR slide %#x (header %#x, runtime %#x)", slide, e.bin.TextAddr, actual)
	if e.lines != nil {
		e.lines.ShiftAddresses(slide)
	}
	for _, fe := range e.funcs {
		fe.fn.LowPC += slide
		if fe.fn.HighPC != 0 {
			fe.fn.HighPC += slide
		}
		for i := range fe.fn.Ranges {
			fe.fn.Ranges[i].Low += slide
			fe.fn.Ranges[i].High += slide
		}
	}
	if e.fdes != nil {
		for _, f := range e.fdes.FDEs {
			f.Low += slide
			f.High += slide
		}
	}
}

// SetBreakpoint resolves file:line through the line table and installs the
// trap. Without line info the request is recorded as unverified and no trap
// is written.
func (e *Engine) SetBreakpoint(file string, ln uint32, condition string) (BreakpointInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lines == nil || len(e.lines.Entries) == 0 {
		return BreakpointInfo{Verified: false, File: file, Line: ln}, nil
	}
	bp, err := e.bps.ResolveAndSet(file, ln, e.lines, condition)
	if err != nil {
		return BreakpointInfo{}, err
	}
	if e.ctrl != nil {
		if err := e.bps.Write(bp.ID, e.ctrl); err != nil {
			return BreakpointInfo{}, err
		}
	}
	return BreakpointInfo{ID: bp.ID, Verified: true, File: bp.File, Line: bp.Line}, nil
}

// RemoveBreakpoint restores the original bytes and forgets the breakpoint.
func (e *Engine) RemoveBreakpoint(id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stoppedAt != nil && e.stoppedAt.ID == id {
		e.stoppedAt = nil
	}
	if e.ctrl != nil {
		return e.bps.RemoveBreakpoint(id, e.ctrl)
	}
	if _, ok := e.bps.FindByID(id); !ok {
		return breakpoint.ErrNotFound
	}
	e.bps.Remove(id)
	return nil
}

// ListBreakpoints returns every breakpoint in id order.
func (e *Engine) ListBreakpoints() []BreakpointInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []BreakpointInfo
	for _, bp := range e.bps.List() {
		out = append(out, BreakpointInfo{ID: bp.ID, Verified: bp.OriginalData != nil, File: bp.File, Line: bp.Line})
	}
	return out
}

// Run steers execution and blocks until the next stop.
func (e *Engine) Run(action Action) (*StopState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if action == Restart {
		return e.restart()
	}
	if e.ctrl == nil {
		return nil, ErrNoProcess
	}

	switch action {
	case Continue:
		return e.resumeLoop()
	case StepInto:
		return e.singleStepOnce()
	case StepOver:
		return e.stepOver()
	case StepOut:
		return e.stepOut()
	}
	return nil, ErrNotSupported
}

// resumeLoop continues the debuggee, transparently stepping past the parked
// breakpoint and past any conditional breakpoint whose condition is false.
func (e *Engine) resumeLoop() (*StopState, error) {
	for {
		if err := e.stepPastIfNeeded(); err != nil {
			return nil, err
		}
		if err := e.ctrl.ContinueExecution(); err != nil {
			return nil, err
		}
		st, err := e.ctrl.WaitForStop()
		if err != nil {
			return nil, err
		}
		state, rerun, err := e.dispatchStop(st)
		if err != nil {
			return nil, err
		}
		if rerun {
			continue
		}
		return state, nil
	}
}

// singleStepOnce implements step_into at instruction granularity: a parked
// breakpoint's step-past already advances one instruction and counts as the
// step.
func (e *Engine) singleStepOnce() (*StopState, error) {
	if e.stoppedAt != nil {
		if err := e.stepPastIfNeeded(); err != nil {
			return nil, err
		}
		return e.stopStateAtPC(ReasonStep)
	}
	if err := e.ctrl.SingleStep(); err != nil {
		return nil, err
	}
	st, err := e.ctrl.WaitForStop()
	if err != nil {
		return nil, err
	}
	if st.Kind == proc.StatusExited {
		return &StopState{Reason: ReasonExit, ExitCode: st.ExitCode}, nil
	}
	return e.stopStateAtPC(ReasonStep)
}

// stepOver behaves like step_into except that a call instruction is run to
// completion: a temporary trap at the return address replaces descending
// into the callee.
func (e *Engine) stepOver() (*StopState, error) {
	regs, err := e.ctrl.ReadRegisters()
	if err != nil {
		return nil, err
	}
	mem, err := e.readForDecode(regs.PC)
	if err != nil || !proc.IsCall(e.arch, mem) {
		return e.singleStepOnce()
	}
	size, err := proc.InstructionLength(e.arch, mem)
	if err != nil {
		return e.singleStepOnce()
	}
	return e.runToAddress(regs.PC + uint64(size))
}

// stepOut runs to the current frame's return address, read from the frame
// record at [fp+8].
func (e *Engine) stepOut() (*StopState, error) {
	regs, err := e.ctrl.ReadRegisters()
	if err != nil {
		return nil, err
	}
	buf, err := e.ctrl.ReadMemory(regs.FP+8, 8)
	if err != nil {
		return nil, err
	}
	retAddr := binary.LittleEndian.Uint64(buf)
	if retAddr == 0 {
		return nil, fmt.Errorf("engine: no return address on frame")
	}
	return e.runToAddress(retAddr)
}

// readForDecode fetches enough bytes at pc to decode one instruction,
// patching out any trap our own breakpoints placed there.
func (e *Engine) readForDecode(pc uint64) ([]byte, error) {
	mem, err := e.ctrl.ReadMemory(pc, 16)
	if err != nil {
		return nil, err
	}
	if bp, ok := e.bps.FindByAddress(pc); ok && bp.OriginalData != nil {
		copy(mem, bp.OriginalData)
	}
	return mem, nil
}

// runToAddress installs a temporary internal trap, continues to it, and
// removes it again. User breakpoints hit on the way win.
func (e *Engine) runToAddress(target uint64) (*StopState, error) {
	if _, exists := e.bps.FindByAddress(target); exists {
		return e.resumeLoop()
	}
	trap := proc.BreakpointInstruction(e.arch)
	orig, err := e.ctrl.ReadMemory(target, len(trap))
	if err != nil {
		return nil, err
	}
	if err := e.ctrl.WriteMemory(target, trap); err != nil {
		return nil, err
	}
	defer func() {
		if werr := e.ctrl.WriteMemory(target, orig); werr != nil {
			log.Warnf("could not remove internal trap at %#x: %v", target, werr)
		}
	}()

	for {
		if err := e.stepPastIfNeeded(); err != nil {
			return nil, err
		}
		if err := e.ctrl.ContinueExecution(); err != nil {
			return nil, err
		}
		st, err := e.ctrl.WaitForStop()
		if err != nil {
			return nil, err
		}
		if st.Kind == proc.StatusExited {
			return &StopState{Reason: ReasonExit, ExitCode: st.ExitCode}, nil
		}
		if st.Kind != proc.StatusStopped {
			return &StopState{Reason: ReasonException, Signal: st.Signal}, nil
		}
		pc, err := e.stoppedPC()
		if err != nil {
			return nil, err
		}
		// The internal trap is not in the breakpoint table, so stoppedPC
		// did not rewind past it on x86-64; do it here.
		if proc.BreakInstrMovesPC(e.arch) && pc == target+1 {
			regs, err := e.ctrl.ReadRegisters()
			if err != nil {
				return nil, err
			}
			regs.Set(regnum.AMD64_Rip, target)
			if err := e.ctrl.WriteRegisters(regs); err != nil {
				return nil, err
			}
			pc = target
		}
		if pc == target {
			return e.stopStateAtPC(ReasonStep)
		}
		// Some other trap: dispatch it as a normal stop.
		state, rerun, err := e.dispatchStop(st)
		if err != nil {
			return nil, err
		}
		if !rerun {
			return state, nil
		}
	}
}

// stoppedPC returns the address of the trap that stopped the debuggee,
// rewinding the PC past the INT3 on x86-64 where the CPU reports the
// address after the trap byte.
func (e *Engine) stoppedPC() (uint64, error) {
	regs, err := e.ctrl.ReadRegisters()
	if err != nil {
		return 0, err
	}
	pc := regs.PC
	if proc.BreakInstrMovesPC(e.arch) {
		if _, ok := e.bps.FindByAddress(pc - 1); ok {
			pc--
			regs.PC = pc
			regs.Set(regnum.AMD64_Rip, pc)
			if err := e.ctrl.WriteRegisters(regs); err != nil {
				return 0, err
			}
		}
	}
	return pc, nil
}

// dispatchStop classifies a wait status. rerun=true means the stop was
// swallowed (false condition) and the caller should resume again.
func (e *Engine) dispatchStop(st proc.WaitStatus) (state *StopState, rerun bool, err error) {
	switch st.Kind {
	case proc.StatusExited:
		e.stoppedAt = nil
		return &StopState{Reason: ReasonExit, ExitCode: st.ExitCode}, false, nil
	case proc.StatusSignaled:
		e.stoppedAt = nil
		return &StopState{Reason: ReasonExit, Signal: st.Signal}, false, nil
	case proc.StatusStopped:
	default:
		return &StopState{Reason: ReasonException, Signal: st.Signal}, false, nil
	}

	const sigtrap = 5
	if st.Signal != sigtrap {
		state, err := e.stopStateAtPC(ReasonException)
		if state != nil {
			state.Signal = st.Signal
		}
		return state, false, err
	}

	pc, err := e.stoppedPC()
	if err != nil {
		return nil, false, err
	}
	bp, ok := e.bps.FindByAddress(pc)
	if !ok {
		// A step-stop or a foreign trap.
		state, err := e.stopStateAtPC(ReasonStep)
		return state, false, err
	}

	e.bps.RecordHit(bp.ID)
	e.stoppedAt = bp
	if !e.bps.ShouldStop(bp, e.conditionEvaluator()) {
		log.Debugf("breakpoint %d condition false, resuming", bp.ID)
		return nil, true, nil
	}

	state, err = e.stopStateAtPC(ReasonBreakpoint)
	if state != nil {
		state.Breakpoint = &BreakpointInfo{ID: bp.ID, Verified: true, File: bp.File, Line: bp.Line}
	}
	return state, false, err
}

// conditionEvaluator binds the Starlark evaluator to the current frame's
// locals. The evaluation layer is pluggable; this is the default.
func (e *Engine) conditionEvaluator() breakpoint.ConditionEvaluator {
	if e.cond == nil {
		return nil
	}
	locals := e.localsAsValues()
	return e.cond.Bind(locals)
}

// stepPastIfNeeded runs the step-past-breakpoint protocol for the parked
// breakpoint: restore the original byte, single-step, wait, re-arm. The
// engine mutex keeps the sequence atomic with respect to other requests.
func (e *Engine) stepPastIfNeeded() error {
	bp := e.stoppedAt
	if bp == nil {
		return nil
	}
	e.stoppedAt = nil
	if bp.OriginalData == nil {
		return nil
	}
	if err := e.ctrl.WriteMemory(bp.Addr, bp.OriginalData); err != nil {
		return err
	}
	if err := e.ctrl.SingleStep(); err != nil {
		return err
	}
	st, err := e.ctrl.WaitForStop()
	if err != nil {
		return err
	}
	if st.Kind == proc.StatusExited {
		return nil
	}
	trap := proc.BreakpointInstruction(e.arch)
	return e.ctrl.WriteMemory(bp.Addr, trap)
}

// stopStateAtPC builds the full stop state (location, stack, locals) for
// the current program counter.
func (e *Engine) stopStateAtPC(reason StopReason) (*StopState, error) {
	regs, err := e.ctrl.ReadRegisters()
	if err != nil {
		return nil, err
	}
	state := &StopState{Reason: reason}
	if e.lines != nil {
		state.Location = e.lines.Resolve(regs.PC)
	}
	state.StackTrace = e.unwind(regs)
	state.Locals = e.inspectLocals(regs)
	return state, nil
}

func (e *Engine) unwind(regs *proc.Registers) []stack.Frame {
	u := &stack.Unwinder{
		Funcs: e.funcList(),
		Lines: e.lines,
		FDEs:  e.fdes,
		Mem:   e.ctrl,
	}
	frames := u.Unwind(regs.PC, regs.FP)
	return merge.Splice(frames, e.Boundary, e.Resolver)
}

func (e *Engine) funcList() []*unit.FunctionInfo {
	out := make([]*unit.FunctionInfo, len(e.funcs))
	for i, fe := range e.funcs {
		out[i] = fe.fn
	}
	return out
}

func (e *Engine) funcAt(pc uint64) *funcEntry {
	for i := range e.funcs {
		if e.funcs[i].fn.Contains(pc) {
			return &e.funcs[i]
		}
	}
	return nil
}

// frameBaseFor evaluates a function's DW_AT_frame_base at the current
// registers, falling back to the frame-pointer register.
func (e *Engine) frameBaseFor(fe *funcEntry, regs *proc.Registers) int64 {
	regReader := func(n uint64) (uint64, bool) { return regs.Get(int(n)) }
	if len(fe.fn.FrameBase) > 0 {
		res, err := op.Evaluate(fe.fn.FrameBase, regReader, nil, e.memReader())
		if err == nil {
			switch res.Kind {
			case op.KindAddress, op.KindValue:
				return int64(res.Value)
			case op.KindRegister:
				if v, ok := regs.Get(int(res.Value)); ok {
					return int64(v)
				}
			}
		}
	}
	return int64(regs.FP)
}

func (e *Engine) memReader() op.MemoryReader {
	if e.ctrl == nil {
		return nil
	}
	return func(addr uint64, size int) ([]byte, error) {
		return e.ctrl.ReadMemory(addr, size)
	}
}

// inspectLocals evaluates the location of every parameter and local of the
// function containing the current PC and renders typed values.
func (e *Engine) inspectLocals(regs *proc.Registers) []Variable {
	fe := e.funcAt(regs.PC)
	if fe == nil {
		return nil
	}
	frameBase := e.frameBaseFor(fe, regs)
	regReader := func(n uint64) (uint64, bool) { return regs.Get(int(n)) }

	var out []Variable
	vars := append(append([]unit.VariableInfo{}, fe.fn.Parameters...), fe.fn.Variables...)
	for _, v := range vars {
		bt, _ := fe.cu.ResolveBaseType(v.TypeOffset)
		out = append(out, e.renderVariable(v, bt, regReader, frameBase, regs))
	}
	return out
}

func (e *Engine) renderVariable(v unit.VariableInfo, bt *unit.BaseType, regReader op.RegisterReader, frameBase int64, regs *proc.Registers) Variable {
	typeName := ""
	var size uint64 = 8
	var encoding uint64 = format.EncUnsigned
	if bt != nil {
		typeName = bt.Name
		size = bt.ByteSize
		encoding = bt.Encoding
	}
	raw := e.variableBytes(v, regReader, frameBase, size)
	return Variable{Name: v.Name, Value: format.Value(raw, encoding, size), Type: typeName}
}

// variableBytes evaluates a variable's location expression and fetches its
// raw bytes from memory, a register, or the expression's own value.
func (e *Engine) variableBytes(v unit.VariableInfo, regReader op.RegisterReader, frameBase int64, size uint64) []byte {
	if len(v.Location) == 0 {
		return nil
	}
	res, err := op.Evaluate(v.Location, regReader, &frameBase, e.memReader())
	if err != nil {
		return nil
	}
	switch res.Kind {
	case op.KindAddress:
		raw, err := e.ctrl.ReadMemory(res.Value, int(size))
		if err != nil {
			return nil
		}
		return raw
	case op.KindRegister:
		if val, ok := regReader(res.Value); ok {
			return truncLE(val, size)
		}
	case op.KindValue:
		return truncLE(res.Value, size)
	}
	return nil
}

func truncLE(v uint64, size uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if size > 8 {
		size = 8
	}
	return buf[:size]
}

// localsAsValues converts the current locals into Go values for the
// condition evaluator.
func (e *Engine) localsAsValues() map[string]interface{} {
	out := map[string]interface{}{}
	if e.ctrl == nil {
		return out
	}
	regs, err := e.ctrl.ReadRegisters()
	if err != nil {
		return out
	}
	fe := e.funcAt(regs.PC)
	if fe == nil {
		return out
	}
	frameBase := e.frameBaseFor(fe, regs)
	regReader := func(n uint64) (uint64, bool) { return regs.Get(int(n)) }

	vars := append(append([]unit.VariableInfo{}, fe.fn.Parameters...), fe.fn.Variables...)
	for _, v := range vars {
		bt, ok := fe.cu.ResolveBaseType(v.TypeOffset)
		if !ok {
			continue
		}
		raw := e.variableBytes(v, regReader, frameBase, bt.ByteSize)
		if raw == nil {
			continue
		}
		out[v.Name] = typedValue(raw, bt)
	}
	return out
}

func typedValue(raw []byte, bt *unit.BaseType) interface{} {
	var u uint64
	for i := len(raw) - 1; i >= 0; i-- {
		u = u<<8 | uint64(raw[i])
	}
	switch bt.Encoding {
	case format.EncSigned, format.EncSignedChar:
		shift := 64 - uint(len(raw))*8
		return int64(u<<shift) >> shift
	case format.EncBoolean:
		return raw[0] != 0
	default:
		return u
	}
}

// Inspect reports locals of the stopped frame, or a single variable when
// Expression names one. Anything more complex is NotSupported; expression
// evaluation beyond named-variable reads is a higher layer's concern.
func (e *Engine) Inspect(req InspectRequest) (InspectResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return InspectResult{}, ErrNoProcess
	}
	regs, err := e.ctrl.ReadRegisters()
	if err != nil {
		return InspectResult{}, err
	}
	locals := e.inspectLocals(regs)
	if req.Expression == "" {
		return InspectResult{Children: locals}, nil
	}
	for _, v := range locals {
		if v.Name == req.Expression {
			return InspectResult{Result: v.Value, Type: v.Type}, nil
		}
	}
	return InspectResult{}, ErrNotSupported
}

// ReadMemory reads debuggee memory.
func (e *Engine) ReadMemory(addr uint64, size int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil {
		return nil, ErrNoProcess
	}
	return e.ctrl.ReadMemory(addr, size)
}

// WriteMemory writes debuggee memory.
func (e *Engine) WriteMemory(addr uint64, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctrl == nil {
		return ErrNoProcess
	}
	return e.ctrl.WriteMemory(addr, data)
}

// StackTrace unwinds the stopped debuggee and returns up to levels frames
// starting at start. levels <= 0 means all.
func (e *Engine) StackTrace(start, levels int) []stack.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return nil
	}
	regs, err := e.ctrl.ReadRegisters()
	if err != nil {
		return nil
	}
	frames := e.unwind(regs)
	if start >= len(frames) {
		return nil
	}
	frames = frames[start:]
	if levels > 0 && levels < len(frames) {
		frames = frames[:levels]
	}
	return frames
}

// restart kills the debuggee, respawns it, reloads debug info, re-applies
// the slide, and re-arms every breakpoint in id order.
func (e *Engine) restart() (*StopState, error) {
	if e.cfg.Program == "" {
		return nil, ErrNoProcess
	}
	oldSlide := e.slide
	if e.ctrl != nil {
		e.ctrl.Kill()
		e.ctrl = nil
	}
	e.stoppedAt = nil

	ctrl, err := e.spawn(e.cfg.Program, proc.SpawnOptions{
		Args: e.cfg.Args, Env: e.cfg.Env, Cwd: e.cfg.Cwd, UsePTY: e.cfg.UsePTY,
	})
	if err != nil {
		return nil, err
	}
	e.ctrl = ctrl
	if err := e.loadDebugInfo(e.cfg.Program); err != nil {
		return nil, err
	}
	e.applySlide()
	e.bps.ShiftAddresses(e.slide - oldSlide)

	for _, bp := range e.bps.List() {
		if !bp.Enabled {
			continue
		}
		if err := e.bps.Write(bp.ID, e.ctrl); err != nil {
			log.Warnf("could not re-arm breakpoint %d: %v", bp.ID, err)
		}
	}
	return &StopState{Reason: ReasonEntry}, nil
}

// Stop kills the debuggee and reaps it. Not an error if it already exited.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return nil
	}
	err := e.ctrl.Kill()
	e.ctrl = nil
	e.stoppedAt = nil
	return err
}

// Detach restores every trap and releases the debuggee.
func (e *Engine) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return ErrNoProcess
	}
	e.bps.ClearAll(e.ctrl)
	err := e.ctrl.Detach()
	e.ctrl = nil
	e.stoppedAt = nil
	return err
}
