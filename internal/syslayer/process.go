package syslayer

import "sync"

// Quantum is the default instruction budget a thread runs before the
// cooperative scheduler preempts it in favor of the next runnable
// thread, per spec.md's fork/thread model (no preemptive signals — the
// ExecutionLoop voluntarily yields back to the scheduler every
// Quantum instructions).
const Quantum = 50_000

// Thread is one schedulable unit. A child created by clone with
// CLONE_FILES or CLONE_THREAD shares its parent's Context.FS and
// Context.Fds; any other clone (fork) gets a copy of the FS cwd state and
// a cloned *vfs.FdTable — see Context.sysClone.
type Thread struct {
	Ctx     *Context
	PC      uint64
	Running bool
	Exited  bool
	ExitCode int32

	// Regs is this thread's saved integer register file. Only the
	// currently-scheduled thread's registers live in the arena's
	// fixed register-file region (one hart, one live register file);
	// ExecutionLoop swaps a thread's Regs into that region when it is
	// scheduled and reads them back out when it yields or blocks.
	Regs [32]uint64
}

// Scheduler is the cooperative round-robin scheduler across all
// threads/processes sharing one Arena, grounded on the teacher's
// internal/hv/riscv/rv64/machine.go Run/Step loop generalized from "one
// hart" to "one hart, N cooperative OS-level threads sharing it" — this
// emulator never models true multi-hart parallelism, matching spec.md's
// Non-goals.
type Scheduler struct {
	mu      sync.Mutex
	threads map[int32]*Thread
	runOrder []int32
	nextPid int32
	futexes *futexTable

	// exited maps the pid of each exited, not-yet-reaped thread to its
	// exit code; Wait4 polls and removes entries from it rather than
	// blocking.
	exited map[int32]int32

	// stdinWaiters holds pids parked on an empty stdin read, woken in a
	// batch once the bridge reports new input (spec.md §4.9 doesn't
	// distinguish which thread gets priority, so this wakes all of them
	// and lets the next read race normally, same as a real kernel would
	// with multiple readers on one fd).
	stdinWaiters []int32
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		threads: map[int32]*Thread{},
		nextPid: 1,
		exited:  map[int32]int32{},
		futexes: newFutexTable(),
	}
}

// Add registers t under the scheduler's run order.
func (s *Scheduler) Add(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.Ctx.Pid] = t
	s.runOrder = append(s.runOrder, t.Ctx.Pid)
}

// Next returns the next runnable thread in round-robin order, or nil
// if every thread has exited.
func (s *Scheduler) Next(afterPid int32) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runOrder) == 0 {
		return nil
	}
	start := 0
	for i, pid := range s.runOrder {
		if pid == afterPid {
			start = i + 1
			break
		}
	}
	for i := 0; i < len(s.runOrder); i++ {
		idx := (start + i) % len(s.runOrder)
		t := s.threads[s.runOrder[idx]]
		if t != nil && !t.Exited && t.Running {
			return t
		}
	}
	return nil
}

// Lookup returns the thread registered under pid, or nil.
func (s *Scheduler) Lookup(pid int32) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[pid]
}

// ParkStdin marks pid non-runnable pending new stdin input.
func (s *Scheduler) ParkStdin(pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[pid]; ok {
		t.Running = false
	}
	s.stdinWaiters = append(s.stdinWaiters, pid)
}

// WakeStdin marks every thread parked on stdin runnable again.
func (s *Scheduler) WakeStdin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pid := range s.stdinWaiters {
		if t, ok := s.threads[pid]; ok {
			t.Running = true
		}
	}
	s.stdinWaiters = nil
}

func (s *Scheduler) MarkExited(pid, code int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[pid]; ok {
		t.Exited = true
		t.ExitCode = code
	}
	s.exited[pid] = code
}

// Wait4 implements wait4 as a non-blocking poll: it reports found=false
// until a matching exit has been recorded, in which case sysWait4
// returns 0 to the guest rather than blocking.
func (s *Scheduler) Wait4(pid int32) (foundPid int32, code int32, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pid > 0 {
		if c, ok := s.exited[pid]; ok {
			delete(s.exited, pid)
			return pid, c, true
		}
		return 0, 0, false
	}
	for p, c := range s.exited {
		delete(s.exited, p)
		return p, c, true
	}
	return 0, 0, false
}

func (c *Context) sysClone(flags, stack, ptid, tls, ctid uint64) (int64, error) {
	const (
		cloneVM    = 0x100
		cloneFiles = 0x400
		cloneThread = 0x10000
	)
	child := &Context{
		Arena: c.Arena,
		Load:  c.Load,
		Sched: c.Sched,
		Net:   c.Net,
		Uid: c.Uid, Gid: c.Gid, Euid: c.Euid, Egid: c.Egid,
		brkStart: c.brkStart,
		brkCur:   c.brkCur,
	}
	c.Sched.mu.Lock()
	child.Pid = c.Sched.nextPid
	c.Sched.nextPid++
	c.Sched.mu.Unlock()
	child.Tid = child.Pid
	child.Ppid = c.Pid

	if flags&cloneFiles != 0 || flags&cloneThread != 0 {
		child.FS = c.FS
		child.Fds = c.Fds
	} else {
		// fork(): each process gets its own cwd but shares the same
		// underlying node tree (per-Node content is reference-shared,
		// matching real fork's shared-inode-but-private-fd-table
		// semantics); fd numbers are duplicated into a fresh table.
		clone := *c.FS
		child.FS = &clone
		child.Fds = c.Fds.CloneTable()
	}

	// The child's stack pointer register is seeded by ExecutionLoop from
	// stack (non-zero per clone(2) contract for a new stack) when it
	// installs this Thread's initial register file; this layer only
	// tracks scheduling, not register state.
	_ = stack
	_ = ptid
	_ = tls
	_ = ctid
	thread := &Thread{Ctx: child, PC: 0, Running: true}
	c.Sched.Add(thread)
	return int64(child.Pid), nil
}

func (c *Context) sysWait4(pid int32, statusAddr uint64, options int32) (int64, error) {
	found, code, ok := c.Sched.Wait4(pid)
	if !ok {
		return 0, nil
	}
	if statusAddr != 0 {
		status := uint32(code&0xff) << 8
		_ = c.Arena.CopyIn(statusAddr, encodeU32(status))
	}
	return int64(found), nil
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
