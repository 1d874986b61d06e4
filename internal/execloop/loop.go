package execloop

import (
	"errors"
	"fmt"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/decode"
	"github.com/maceip/friscy-sub000/internal/jit"
	"github.com/maceip/friscy-sub000/internal/syslayer"
)

// RISC-V integer ABI register numbers this loop reads/writes directly:
// a0-a7 are the syscall argument/number/return registers, sp is the
// stack pointer execve reinitializes.
const (
	regA0 = 10
	regA7 = 17
	regSP = 2
)

// Loop is the quantum-based scheduler that drives every thread
// registered on sched, choosing on each fetch between a compiled
// region (jit.Manager) and this package's per-instruction interpreter,
// and routing ecall results through syslayer.Context.Dispatch.
//
// Grounded on the teacher's internal/hv/riscv/rv64/machine.go Run/Step
// loop, generalized from one hart running to completion into a
// cooperative round-robin over every Thread the Scheduler knows about.
type Loop struct {
	Arena *arena.Arena
	JIT   *jit.Manager
	Sched *syslayer.Scheduler
}

func New(a *arena.Arena, j *jit.Manager, sched *syslayer.Scheduler) *Loop {
	return &Loop{Arena: a, JIT: j, Sched: sched}
}

// Run drives every scheduled thread to completion (or a fatal error),
// returning the exit code of the process that called exit_group (or
// the last thread's exit code if none did).
func (l *Loop) Run() (int32, error) {
	cur := l.Sched.Next(0)
	if cur == nil {
		return 0, nil
	}
	l.loadRegs(cur)

	var lastExit int32
	for cur != nil {
		syscallPending, err := l.runQuantum(cur)
		if err == nil && syscallPending {
			err = l.dispatchSyscall(cur)
		}
		if err != nil {
			done, exited, code, ferr := l.handleSuspend(cur, err)
			if ferr != nil {
				return 0, ferr
			}
			if done {
				return code, nil
			}
			if exited {
				lastExit = code
			}
		}

		l.saveRegs(cur)
		next := l.Sched.Next(cur.Ctx.Pid)
		if next == nil {
			break
		}
		cur = next
		l.loadRegs(cur)
	}
	return lastExit, nil
}

// handleSuspend interprets the suspend-reason error types syslayer's
// Dispatch returns, mutating cur/the scheduler accordingly. done
// reports whether the whole process should stop (exit_group); code is
// the exit code to report in that case (or to remember as the thread's
// own exit code otherwise). A non-nil ferr means err was neither a
// known suspend reason nor recoverable, and the whole run must abort.
func (l *Loop) handleSuspend(cur *syslayer.Thread, err error) (done, exited bool, code int32, ferr error) {
	var exit *syslayer.ExitRequest
	var execve *syslayer.ExecveRequest
	var futex *syslayer.FutexWaitRequest
	var stdinWait *syslayer.StdinWaitRequest
	switch {
	case errors.As(err, &exit):
		l.Sched.MarkExited(cur.Ctx.Pid, exit.Code)
		return exit.Group, true, exit.Code, nil
	case errors.As(err, &execve):
		l.handleExecve(cur, execve)
		return false, false, 0, nil
	case errors.As(err, &futex):
		cur.Running = false
		return false, false, 0, nil
	case errors.As(err, &stdinWait):
		// The ecall that found stdin empty is always the 4-byte ECALL
		// encoding (no compressed form exists), so rewinding by 4
		// re-executes it once the thread is woken.
		cur.PC -= 4
		l.Sched.ParkStdin(cur.Ctx.Pid)
		return false, false, 0, nil
	default:
		return false, false, 0, err
	}
}

// runQuantum executes up to syslayer.Quantum steps of cur, stopping
// early on a pending syscall or a suspend-reason error.
func (l *Loop) runQuantum(cur *syslayer.Thread) (syscallPending bool, err error) {
	for i := 0; i < syslayer.Quantum; i++ {
		res, ok, derr := l.JIT.Dispatch(cur.PC)
		if derr != nil {
			return false, derr
		}
		if ok {
			if res.Halt {
				return false, fmt.Errorf("execloop: illegal instruction trap at %#x", cur.PC)
			}
			if res.Syscall {
				cur.PC = res.NextPC
				return true, nil
			}
			cur.PC = res.NextPC
			continue
		}

		inst, derr := decode.DecodeOne(l.Arena, cur.PC)
		if derr != nil {
			return false, derr
		}
		step, serr := Step(l.Arena, inst)
		if serr != nil {
			return false, serr
		}
		if step.Illegal {
			return false, fmt.Errorf("execloop: illegal instruction trap at %#x", cur.PC)
		}
		if step.Syscall {
			cur.PC = step.NextPC
			return true, nil
		}
		cur.PC = step.NextPC
	}
	return false, nil
}

// dispatchSyscall reads the pending ecall's number and arguments out of
// the ABI registers, runs it, and writes the return value back to a0.
// A non-nil return is either a host error or a suspend request from
// Dispatch (exit, execve, futex wait, stdin wait), returned unchanged
// with a0 left unwritten; the caller tells them apart via errors.As.
func (l *Loop) dispatchSyscall(cur *syslayer.Thread) error {
	a0, err := regRead(l.Arena, regA0)
	if err != nil {
		return err
	}
	a1, _ := regRead(l.Arena, decode.Reg(regA0+1))
	a2, _ := regRead(l.Arena, decode.Reg(regA0+2))
	a3, _ := regRead(l.Arena, decode.Reg(regA0+3))
	a4, _ := regRead(l.Arena, decode.Reg(regA0+4))
	a5, _ := regRead(l.Arena, decode.Reg(regA0+5))
	a7, err := regRead(l.Arena, decode.Reg(regA7))
	if err != nil {
		return err
	}

	ret, serr := cur.Ctx.Dispatch(syslayer.Syscall(a7), a0, a1, a2, a3, a4, a5)
	if serr != nil {
		return serr
	}
	return regWrite(l.Arena, decode.Reg(regA0), uint64(ret))
}

// handleExecve reinitializes cur's register file and PC for the freshly
// loaded program image, and clears the JIT cache since execve replaces
// every mapping in the shared arena.
func (l *Loop) handleExecve(cur *syslayer.Thread, req *syslayer.ExecveRequest) {
	l.JIT.Reset()
	cur.Regs = [32]uint64{}
	cur.PC = req.Entry
	cur.Regs[regSP] = req.SP
	l.loadRegs(cur)
}

func (l *Loop) saveRegs(t *syslayer.Thread) {
	for r := 1; r < 32; r++ {
		v, _ := regRead(l.Arena, decode.Reg(r))
		t.Regs[r] = v
	}
}

func (l *Loop) loadRegs(t *syslayer.Thread) {
	for r := 1; r < 32; r++ {
		_ = regWrite(l.Arena, decode.Reg(r), t.Regs[r])
	}
}
