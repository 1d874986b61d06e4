package bridge

import "sync"

// StdinFile is the fd-0 handle installed in the guest's fd table. The
// foreground feeds it bytes as they arrive (from the host terminal or
// a piped input); the worker drains it from SyscallLayer's read
// handler. Per spec.md §4.9's blocking stdin contract, an empty read
// is never turned into a blocking host call — the caller observes
// wouldBlock and is responsible for rewinding the guest PC and
// re-trying the ecall once data shows up.
type StdinFile struct {
	mu   sync.Mutex
	buf  []byte
}

func NewStdinFile() *StdinFile { return &StdinFile{} }

// Feed appends foreground-supplied bytes for the worker to drain.
func (f *StdinFile) Feed(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, data...)
}

// Read drains up to len(p) buffered bytes. wouldBlock is true when the
// buffer is currently empty (the worker must suspend and retry, per
// spec.md §4.9).
func (f *StdinFile) Read(p []byte) (n int, wouldBlock bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.buf) == 0 {
		return 0, true
	}
	n = copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, false
}

// Pending reports whether the worker currently has stdin bytes waiting
// to be read, for the foreground to decide whether to wake a parked
// thread without waiting for its next poll tick.
func (f *StdinFile) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf) > 0
}
