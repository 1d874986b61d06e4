package syslayer

import "testing"

func addThread(s *Scheduler, pid int32) *Thread {
	t := &Thread{Ctx: &Context{Pid: pid, Sched: s}, Running: true}
	s.Add(t)
	return t
}

func TestSchedulerNextRoundRobin(t *testing.T) {
	s := NewScheduler()
	a := addThread(s, 1)
	b := addThread(s, 2)

	if got := s.Next(0); got != a {
		t.Fatalf("Next(0) = pid %d, want pid 1", got.Ctx.Pid)
	}
	if got := s.Next(a.Ctx.Pid); got != b {
		t.Fatalf("Next(1) = pid %d, want pid 2", got.Ctx.Pid)
	}
	if got := s.Next(b.Ctx.Pid); got != a {
		t.Fatalf("Next(2) should wrap back to pid 1")
	}
}

func TestSchedulerSkipsExitedAndParked(t *testing.T) {
	s := NewScheduler()
	a := addThread(s, 1)
	b := addThread(s, 2)
	_ = a

	s.MarkExited(1, 0)
	if got := s.Next(0); got != b {
		t.Fatalf("Next(0) should skip exited pid 1 and land on pid 2")
	}

	s.ParkStdin(2)
	if got := s.Next(0); got != nil {
		t.Fatalf("Next(0) = %v, want nil (only thread is exited or parked)", got)
	}

	s.WakeStdin()
	if got := s.Next(0); got != b {
		t.Fatalf("Next(0) after WakeStdin should find pid 2 runnable again")
	}
}

func TestSchedulerWait4(t *testing.T) {
	s := NewScheduler()
	if _, _, found := s.Wait4(5); found {
		t.Fatalf("Wait4 on no exited children reported found")
	}
	s.MarkExited(5, 3)
	pid, code, found := s.Wait4(5)
	if !found || pid != 5 || code != 3 {
		t.Fatalf("Wait4(5) = %d, %d, %v, want 5, 3, true", pid, code, found)
	}
	if _, _, found := s.Wait4(5); found {
		t.Fatalf("Wait4(5) reported found twice for the same exit")
	}
}

func TestSchedulerLookup(t *testing.T) {
	s := NewScheduler()
	a := addThread(s, 9)
	if got := s.Lookup(9); got != a {
		t.Fatalf("Lookup(9) = %v, want the added thread", got)
	}
	if got := s.Lookup(99); got != nil {
		t.Fatalf("Lookup(99) = %v, want nil for unknown pid", got)
	}
}
