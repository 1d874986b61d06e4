// Package bridge implements WorkerBridge: the three channels between
// the emulator's worker goroutine and the foreground (a blocking-stdin
// control channel, a stdout ring buffer, and a network RPC channel),
// per spec.md §4.9. The worker and the foreground are goroutines inside
// one process here rather than two processes sharing a real mmap
// segment, so the "shared memory" is an ordinary Go struct; only the
// head/tail/status words need to be atomic, mirroring the lock-free
// SPSC discipline the real shared-memory design would use.
//
// Grounded on the teacher's internal/ipc request/response channel
// shape (a status word plus a payload buffer), generalized from the
// teacher's single request/response pair into the three independent
// channels spec.md §4.9 describes.
package bridge

import (
	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// StdoutRingSize is the ring buffer's capacity in bytes, per spec.md
// §4.9 (64 KiB).
const StdoutRingSize = 64 * 1024

// StdoutRing is a lock-free SPSC ring buffer: the worker goroutine is
// the sole writer, the foreground goroutine is the sole reader.
// Writable bytes = ringSize-1-(head-tail) mod ringSize, per spec.md
// §4.9; one slot is always kept empty to disambiguate full from empty.
type StdoutRing struct {
	buf        [StdoutRingSize]byte
	head, tail atomicbitops.Uint32
}

func NewStdoutRing() *StdoutRing { return &StdoutRing{} }

// Write appends p to the ring, dropping the tail-most (newest) bytes
// that don't fit rather than overwriting unread data, per spec.md
// §4.9's overflow rule. Returns the number of bytes actually stored.
func (r *StdoutRing) Write(p []byte) int {
	head := r.head.Load()
	tail := r.tail.Load()
	free := StdoutRingSize - 1 - int((head-tail)%StdoutRingSize)
	if free < 0 {
		free += StdoutRingSize
	}
	n := len(p)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		r.buf[(head+uint32(i))%StdoutRingSize] = p[i]
	}
	r.head.Store(head + uint32(n))
	return n
}

// Read drains up to len(p) bytes into p, returning the count read.
func (r *StdoutRing) Read(p []byte) int {
	head := r.head.Load()
	tail := r.tail.Load()
	avail := int((head - tail) % StdoutRingSize)
	n := len(p)
	if n > avail {
		n = avail
	}
	for i := 0; i < n; i++ {
		p[i] = r.buf[(tail+uint32(i))%StdoutRingSize]
	}
	r.tail.Store(tail + uint32(n))
	return n
}

// Len reports how many unread bytes are currently buffered.
func (r *StdoutRing) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int((head - tail) % StdoutRingSize)
}
