//go:build darwin

package proc

/*
#include <sys/types.h>
#include <sys/ptrace.h>
#include <sys/wait.h>
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <string.h>

static kern_return_t
acquire_task(int pid, task_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static int
pt_continue(int pid) {
	return ptrace(PT_CONTINUE, pid, (caddr_t)1, 0);
}

static int
pt_step(int pid) {
	return ptrace(PT_STEP, pid, (caddr_t)1, 0);
}

static int
pt_detach(int pid) {
	return ptrace(PT_DETACH, pid, 0, 0);
}

static int
pt_attach(int pid) {
	return ptrace(PT_ATTACH, pid, 0, 0);
}

static kern_return_t
read_mem(task_t task, mach_vm_address_t addr, void *buf, mach_vm_size_t sz) {
	mach_vm_size_t outsz = 0;
	kern_return_t kret = mach_vm_read_overwrite(task, addr, sz, (mach_vm_address_t)buf, &outsz);
	if (kret == KERN_SUCCESS && outsz != sz) {
		return KERN_INVALID_ADDRESS;
	}
	return kret;
}

// write_mem flips the enclosing pages to READ|WRITE|COPY for the duration
// of the write and restores READ|EXECUTE afterward, so a writable+executable
// mapping never exists.
static kern_return_t
write_mem(task_t task, mach_vm_address_t addr, void *buf, mach_vm_size_t sz) {
	kern_return_t kret;
	vm_prot_t orig = VM_PROT_READ | VM_PROT_EXECUTE;

	kret = mach_vm_protect(task, addr, sz, FALSE, VM_PROT_READ | VM_PROT_WRITE | VM_PROT_COPY);
	if (kret != KERN_SUCCESS) {
		return kret;
	}
	kret = mach_vm_write(task, addr, (vm_offset_t)buf, sz);
	if (kret != KERN_SUCCESS) {
		return kret;
	}
	return mach_vm_protect(task, addr, sz, FALSE, orig);
}

// text_base scans the task's regions for the first executable one whose
// first word is the Mach-O 64 magic.
static kern_return_t
text_base(task_t task, mach_vm_address_t *out) {
	mach_vm_address_t addr = 1;
	mach_vm_size_t sz = 0;
	vm_region_basic_info_data_64_t info;
	mach_msg_type_number_t count;
	mach_port_t objname;

	for (;;) {
		count = VM_REGION_BASIC_INFO_COUNT_64;
		kern_return_t kret = mach_vm_region(task, &addr, &sz, VM_REGION_BASIC_INFO_64,
			(vm_region_info_t)&info, &count, &objname);
		if (kret != KERN_SUCCESS) {
			return kret;
		}
		if (info.protection & VM_PROT_EXECUTE) {
			uint32_t magic = 0;
			if (read_mem(task, addr, &magic, sizeof magic) == KERN_SUCCESS && magic == 0xfeedfacf) {
				*out = addr;
				return KERN_SUCCESS;
			}
		}
		addr += sz;
	}
}

#if defined(__arm64__)
#define GPR_FLAVOR ARM_THREAD_STATE64
#define GPR_COUNT  ARM_THREAD_STATE64_COUNT
typedef arm_thread_state64_t gpr_state_t;
#else
#define GPR_FLAVOR x86_THREAD_STATE64
#define GPR_COUNT  x86_THREAD_STATE64_COUNT
typedef x86_thread_state64_t gpr_state_t;
#endif

// get_gprs reads the primary thread's general-purpose state as a flat
// uint64 array in the thread-state structure's own field order.
static kern_return_t
get_gprs(task_t task, uint64_t *out, int *n) {
	thread_act_array_t threads;
	mach_msg_type_number_t tcount;
	kern_return_t kret = task_threads(task, &threads, &tcount);
	if (kret != KERN_SUCCESS || tcount == 0) {
		return kret != KERN_SUCCESS ? kret : KERN_FAILURE;
	}
	gpr_state_t state;
	mach_msg_type_number_t scount = GPR_COUNT;
	kret = thread_get_state(threads[0], GPR_FLAVOR, (thread_state_t)&state, &scount);
	vm_deallocate(mach_task_self(), (vm_address_t)threads, tcount * sizeof(thread_act_t));
	if (kret != KERN_SUCCESS) {
		return kret;
	}
	memcpy(out, &state, sizeof state);
	*n = (int)(sizeof state / sizeof(uint64_t));
	return KERN_SUCCESS;
}

static kern_return_t
set_gprs(task_t task, uint64_t *in) {
	thread_act_array_t threads;
	mach_msg_type_number_t tcount;
	kern_return_t kret = task_threads(task, &threads, &tcount);
	if (kret != KERN_SUCCESS || tcount == 0) {
		return kret != KERN_SUCCESS ? kret : KERN_FAILURE;
	}
	gpr_state_t state;
	memcpy(&state, in, sizeof state);
	kret = thread_set_state(threads[0], GPR_FLAVOR, (thread_state_t)&state, GPR_COUNT);
	vm_deallocate(mach_task_self(), (vm_address_t)threads, tcount * sizeof(thread_act_t));
	return kret;
}
*/
import "C"

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Process is a Mach-task-port debuggee, trace-controlled through the BSD
// ptrace shim (PT_CONTINUE/PT_STEP) and inspected through mach_vm_* and
// thread_get_state.
type Process struct {
	pid      int
	task     C.task_t
	cmd      *exec.Cmd
	ptmx     *os.File
	attached bool
	exited   bool
}

// Spawn forks and execs program under PT_TRACE_ME. The debuggee's stdio is
// redirected away from the caller's stream (to /dev/null, or to a pty when
// requested) so its output does not pollute ours.
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

	status, err := p.WaitForStop()
	if err != nil {
		return nil, &SpawnFailedError{Program: program, Err: err}
	}
	if status.Kind != StatusStopped {
		return nil, &SpawnFailedError{Program: program, Err: fmt.Errorf("child did not stop at exec")}
	}
	if err := p.acquireTask(); err != nil {
		p.Kill()
		return nil, &SpawnFailedError{Program: program, Err: err}
	}
	log.Debugf("spawned %s as pid %d", program, p.pid)
	return p, nil
}

// Attach places an already-running process under trace control.
func Attach(pid int) (*Process, error) {
	if ret := C.pt_attach(C.int(pid)); ret != 0 {
		return nil, &AttachFailedError{Pid: pid, Err: fmt.Errorf("PT_ATTACH returned %d", ret)}
	}
	p := &Process{pid: pid, attached: true}
	if _, err := p.WaitForStop(); err != nil {
		return nil, &AttachFailedError{Pid: pid, Err: err}
	}
	if err := p.acquireTask(); err != nil {
		return nil, &AttachFailedError{Pid: pid, Err: err}
	}
	return p, nil
}

func (p *Process) acquireTask() error {
	if kret := C.acquire_task(C.int(p.pid), &p.task); kret != C.KERN_SUCCESS {
		return fmt.Errorf("proc: task_for_pid failed (kern_return %d); is the debugger entitled?", int(kret))
	}
	return nil
}

func (p *Process) Pid() int { return p.pid }

func (p *Process) ContinueExecution() error {
	if p.exited {
		return ErrNoProcess
	}
	if ret := C.pt_continue(C.int(p.pid)); ret != 0 {
		return fmt.Errorf("%w: PT_CONTINUE returned %d", ErrContinueFailed, int(ret))
	}
	return nil
}

func (p *Process) SingleStep() error {
	if p.exited {
		return ErrNoProcess
	}
	if ret := C.pt_step(C.int(p.pid)); ret != 0 {
		return fmt.Errorf("%w: PT_STEP returned %d", ErrStepFailed, int(ret))
	}
	return nil
}

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

func (p *Process) ReadRegisters() (*Registers, error) {
	if p.exited {
		return nil, ErrNoProcess
	}
	var raw [64]C.uint64_t
	var n C.int
	if kret := C.get_gprs(p.task, &raw[0], &n); kret != C.KERN_SUCCESS {
		return nil, fmt.Errorf("proc: thread_get_state failed (kern_return %d)", int(kret))
	}
	vals := make([]uint64, int(n))
	for i := range vals {
		vals[i] = uint64(raw[i])
	}
	return machStateToDwarf(vals), nil
}

func (p *Process) WriteRegisters(r *Registers) error {
	if p.exited {
		return ErrNoProcess
	}
	var raw [64]C.uint64_t
	var n C.int
	if kret := C.get_gprs(p.task, &raw[0], &n); kret != C.KERN_SUCCESS {
		return fmt.Errorf("proc: thread_get_state failed (kern_return %d)", int(kret))
	}
	vals := make([]uint64, int(n))
	for i := range vals {
		vals[i] = uint64(raw[i])
	}
	dwarfToMachState(r, vals)
	for i := range vals {
		raw[i] = C.uint64_t(vals[i])
	}
	if kret := C.set_gprs(p.task, &raw[0]); kret != C.KERN_SUCCESS {
		return fmt.Errorf("proc: thread_set_state failed (kern_return %d)", int(kret))
	}
	return nil
}

func (p *Process) ReadMemory(addr uint64, size int) ([]byte, error) {
	if p.exited {
		return nil, ErrNoProcess
	}
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	kret := C.read_mem(p.task, C.mach_vm_address_t(addr), unsafe.Pointer(&buf[0]), C.mach_vm_size_t(size))
	if kret != C.KERN_SUCCESS {
		return nil, fmt.Errorf("%w: at 0x%x (kern_return %d)", ErrReadFailed, addr, int(kret))
	}
	return buf, nil
}

func (p *Process) WriteMemory(addr uint64, data []byte) error {
	if p.exited {
		return ErrNoProcess
	}
	if len(data) == 0 {
		return nil
	}
	kret := C.write_mem(p.task, C.mach_vm_address_t(addr), unsafe.Pointer(&data[0]), C.mach_vm_size_t(len(data)))
	if kret != C.KERN_SUCCESS {
		return fmt.Errorf("%w: at 0x%x (kern_return %d)", ErrWriteFailed, addr, int(kret))
	}
	return nil
}

func (p *Process) TextBase() (uint64, error) {
	if p.exited {
		return 0, ErrNoProcess
	}
	var out C.mach_vm_address_t
	if kret := C.text_base(p.task, &out); kret != C.KERN_SUCCESS {
		return 0, fmt.Errorf("proc: no executable Mach-O region found (kern_return %d)", int(kret))
	}
	return uint64(out), nil
}

func (p *Process) Kill() error {
	if p.exited {
		return nil
	}
	if err := unix.Kill(p.pid, unix.SIGKILL); err != nil {
		return err
	}
	_ = C.pt_continue(C.int(p.pid))
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

func (p *Process) Detach() error {
	if p.exited {
		return ErrNoProcess
	}
	if ret := C.pt_detach(C.int(p.pid)); ret != 0 {
		return fmt.Errorf("proc: PT_DETACH returned %d", int(ret))
	}
	return nil
}
