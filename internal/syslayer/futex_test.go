package syslayer

import (
	"errors"
	"testing"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/vfs"
)

func newTestContext(t *testing.T, sched *Scheduler) *Context {
	t.Helper()
	a, err := arena.New(nil)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return NewContext(a, vfs.New(), nil, sched)
}

func TestFutexWaitThenWake(t *testing.T) {
	sched := NewScheduler()
	c := newTestContext(t, sched)

	const addr = arena.PageSize
	if err := c.Arena.SetPageAttrs(addr, arena.PageSize, arena.Read|arena.Write); err != nil {
		t.Fatalf("SetPageAttrs: %v", err)
	}
	if err := arena.WriteT[uint32](c.Arena, addr, 42); err != nil {
		t.Fatalf("seed futex word: %v", err)
	}

	_, err := c.sysFutex(addr, futexWait, 42, 0)
	var waitReq *FutexWaitRequest
	if !errors.As(err, &waitReq) {
		t.Fatalf("sysFutex(FUTEX_WAIT) err = %v, want *FutexWaitRequest", err)
	}

	woken := sched.wakeFutex(addr, 1)
	if woken != 1 {
		t.Fatalf("wakeFutex() = %d, want 1", woken)
	}
}

func TestFutexWaitWrongValueReturnsEAGAIN(t *testing.T) {
	sched := NewScheduler()
	c := newTestContext(t, sched)

	const addr = arena.PageSize
	if err := c.Arena.SetPageAttrs(addr, arena.PageSize, arena.Read|arena.Write); err != nil {
		t.Fatalf("SetPageAttrs: %v", err)
	}
	if err := arena.WriteT[uint32](c.Arena, addr, 1); err != nil {
		t.Fatalf("seed futex word: %v", err)
	}

	ret, err := c.sysFutex(addr, futexWait, 99, 0)
	if err != nil {
		t.Fatalf("sysFutex() err = %v, want nil", err)
	}
	if ret != -int64(EAGAIN) {
		t.Fatalf("sysFutex() = %d, want -EAGAIN", ret)
	}
}
