package syslayer

import "github.com/maceip/friscy-sub000/internal/arena"

const (
	futexWait = 0
	futexWake = 1
	futexPrivateFlag = 0x80
	futexCmdMask     = 0x7f
)

// futexTable tracks which threads are parked on which guest addresses.
// Owned by the Scheduler so wake can cross from one Context to another.
type futexTable struct {
	waiters map[uint64][]int32
}

func newFutexTable() *futexTable { return &futexTable{waiters: map[uint64][]int32{}} }

// FutexWaitRequest signals ExecutionLoop to mark the calling thread
// non-runnable until a matching FUTEX_WAKE (or a later re-check finds
// the word has already changed) removes it from the wait set — the
// suspend-reason encoding spec.md's design favors over blocking calls
// or exceptions.
type FutexWaitRequest struct{ Addr uint64 }

func (e *FutexWaitRequest) Error() string { return "futex wait" }

// StdinWaitRequest signals ExecutionLoop that a read against an empty
// stdin found nothing buffered: the calling thread must be parked
// (not runnable) until the bridge reports new input, and the guest PC
// rewound so the ecall re-executes on resume, per spec.md §4.9.
type StdinWaitRequest struct{}

func (e *StdinWaitRequest) Error() string { return "stdin wait" }

func (c *Context) sysFutex(addr uint64, futexOp int32, val uint32, timeoutOrVal2 uint64) (int64, error) {
	cmd := futexOp & futexCmdMask
	switch cmd {
	case futexWait:
		current, err := arena.ReadT[uint32](c.Arena, addr)
		if err != nil {
			return -int64(EFAULT), nil
		}
		if current != val {
			return -int64(EAGAIN), nil
		}
		c.Sched.futexes.waiters[addr] = append(c.Sched.futexes.waiters[addr], c.Tid)
		return 0, &FutexWaitRequest{Addr: addr}
	case futexWake:
		woken := c.Sched.wakeFutex(addr, int(val))
		return int64(woken), nil
	default:
		return -int64(ENOSYS), nil
	}
}

func (s *Scheduler) wakeFutex(addr uint64, max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.futexes.waiters[addr]
	if len(waiters) == 0 {
		return 0
	}
	n := max
	if n > len(waiters) {
		n = len(waiters)
	}
	woken := waiters[:n]
	s.futexes.waiters[addr] = waiters[n:]
	for _, pid := range woken {
		if t, ok := s.threads[pid]; ok {
			t.Running = true
		}
	}
	return len(woken)
}
