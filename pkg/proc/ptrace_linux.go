//go:build linux

package proc

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Process is a ptrace-traced debuggee.
type Process struct {
	pid      int
	cmd      *exec.Cmd
	ptmx     *os.File
	attached bool // true if we PTRACE_ATTACHed rather than spawned
	exited   bool
}

// Spawn forks and execs program under PTRACE_TRACEME and waits for the
// exec-stop, returning with the child in a trace-stop at its entry point.
func Spawn(program string, opts SpawnOptions) (*Process, error) {
	cmd := exec.Command(program, opts.Args...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	p := &Process{cmd: cmd}
	if opts.UsePTY {
		ptmx, tts, err := pty.Open()
		if err != nil {
			return nil, &SpawnFailedError{Program: program, Err: err}
		}
		cmd.Stdin = tts
		cmd.Stdout = tts
		cmd.Stderr = tts
		cmd.SysProcAttr.Setctty = true
		cmd.SysProcAttr.Setsid = true
		cmd.SysProcAttr.Ctty = 0 // stdin, which is the tty slave
		p.ptmx = ptmx
		defer tts.Close()
	} else {
		devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return nil, &SpawnFailedError{Program: program, Err: err}
		}
		cmd.Stdin = devnull
		cmd.Stdout = devnull
		cmd.Stderr = devnull
		defer devnull.Close()
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnFailedError{Program: program, Err: err}
	}
	p.pid = cmd.Process.Pid

	// Reap the exec-stop (SIGTRAP) before returning.
	status, err := p.WaitForStop()
	if err != nil {
		return nil, &SpawnFailedError{Program: program, Err: err}
	}
	if status.Kind != StatusStopped {
		return nil, &SpawnFailedError{Program: program, Err: fmt.Errorf("child did not stop at exec (status %v)", status.Kind)}
	}
	log.Debugf("spawned %s as pid %d", program, p.pid)
	return p, nil
}

// Attach places an already-running process under ptrace control.
func Attach(pid int) (*Process, error) {
	if err := unix.PtraceAttach(pid); err != nil {
		return nil, &AttachFailedError{Pid: pid, Err: err}
	}
	p := &Process{pid: pid, attached: true}
	status, err := p.WaitForStop()
	if err != nil {
		return nil, &AttachFailedError{Pid: pid, Err: err}
	}
	if status.Kind != StatusStopped {
		return nil, &AttachFailedError{Pid: pid, Err: fmt.Errorf("attach stop not observed")}
	}
	return p, nil
}

func (p *Process) Pid() int { return p.pid }

// ContinueExecution resumes the debuggee until its next stop.
func (p *Process) ContinueExecution() error {
	if p.exited {
		return ErrNoProcess
	}
	if err := unix.PtraceCont(p.pid, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrContinueFailed, err)
	}
	return nil
}

// SingleStep executes exactly one instruction.
func (p *Process) SingleStep() error {
	if p.exited {
		return ErrNoProcess
	}
	if err := unix.PtraceSingleStep(p.pid); err != nil {
		return fmt.Errorf("%w: %v", ErrStepFailed, err)
	}
	return nil
}

// WaitForStop blocks until the debuggee stops, exits, or is killed.
func (p *Process) WaitForStop() (WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(p.pid, &ws, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return WaitStatus{}, err
		}
		break
	}
	st := DecodeWaitStatus(int(ws))
	if st.Kind == StatusExited || st.Kind == StatusSignaled {
		p.exited = true
	}
	return st, nil
}

// ReadRegisters fetches the primary thread's general-purpose registers and
// maps them to DWARF numbering.
func (p *Process) ReadRegisters() (*Registers, error) {
	if p.exited {
		return nil, ErrNoProcess
	}
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return nil, err
	}
	return ptraceRegsToDwarf(&regs), nil
}

// WriteRegisters pushes a modified register file back into the thread.
func (p *Process) WriteRegisters(r *Registers) error {
	if p.exited {
		return ErrNoProcess
	}
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
		return err
	}
	dwarfToPtraceRegs(r, &regs)
	return unix.PtraceSetRegs(p.pid, &regs)
}

const wordSize = 8

// ReadMemory reads size bytes at addr with PTRACE_PEEKTEXT, word at a time.
func (p *Process) ReadMemory(addr uint64, size int) ([]byte, error) {
	if p.exited {
		return nil, ErrNoProcess
	}
	out := make([]byte, 0, size)
	// Align down so every peek is word-aligned; discard the lead bytes.
	start := addr &^ (wordSize - 1)
	skip := int(addr - start)
	for len(out)-skip < size {
		word := make([]byte, wordSize)
		n, err := unix.PtracePeekText(p.pid, uintptr(start), word)
		if err != nil || n != wordSize {
			return nil, fmt.Errorf("%w: at 0x%x: %v", ErrReadFailed, start, err)
		}
		out = append(out, word...)
		start += wordSize
	}
	return out[skip : skip+size], nil
}

// WriteMemory writes data at addr, masking partial words at both edges so
// bytes around the target range are preserved.
func (p *Process) WriteMemory(addr uint64, data []byte) error {
	if p.exited {
		return ErrNoProcess
	}
	if len(data) == 0 {
		return nil
	}
	start := addr &^ (wordSize - 1)
	end := (addr + uint64(len(data)) + wordSize - 1) &^ (wordSize - 1)
	span := make([]byte, end-start)
	for off := uint64(0); off < uint64(len(span)); off += wordSize {
		n, err := unix.PtracePeekText(p.pid, uintptr(start+off), span[off:off+wordSize])
		if err != nil || n != wordSize {
			return fmt.Errorf("%w: at 0x%x: %v", ErrWriteFailed, start+off, err)
		}
	}
	copy(span[addr-start:], data)
	for off := uint64(0); off < uint64(len(span)); off += wordSize {
		n, err := unix.PtracePokeText(p.pid, uintptr(start+off), span[off:off+wordSize])
		if err != nil || n != wordSize {
			return fmt.Errorf("%w: at 0x%x: %v", ErrWriteFailed, start+off, err)
		}
	}
	return nil
}

// TextBase parses /proc/<pid>/maps for the first executable mapping of the
// debuggee's own image, which is where the kernel placed the text segment
// after any ASLR slide.
func (p *Process) TextBase() (uint64, error) {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", p.pid))
	if err != nil {
		return 0, err
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		perms, path := fields[1], fields[5]
		if path != exe || !strings.Contains(perms, "x") {
			continue
		}
		rng := strings.SplitN(fields[0], "-", 2)
		base, err := strconv.ParseUint(rng[0], 16, 64)
		if err != nil {
			continue
		}
		return base, nil
	}
	return 0, fmt.Errorf("proc: no executable mapping for %s in pid %d", exe, p.pid)
}

// Kill terminates the debuggee. If it is sitting in a trace-stop the signal
// cannot be delivered, so it is continued first, then reaped.
func (p *Process) Kill() error {
	if p.exited {
		return nil
	}
	if err := unix.Kill(p.pid, unix.SIGKILL); err != nil {
		return err
	}
	// Deliver the pending SIGKILL out of the trace-stop.
	_ = unix.PtraceCont(p.pid, int(unix.SIGKILL))
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(p.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		break
	}
	p.exited = true
	if p.ptmx != nil {
		p.ptmx.Close()
	}
	return nil
}

// Detach releases the debuggee and lets it run free.
func (p *Process) Detach() error {
	if p.exited {
		return ErrNoProcess
	}
	return unix.PtraceDetach(p.pid)
}
