package vfs

import (
	"fmt"
	"sync"
)

// FdEntry is the opaque value stored per descriptor. Concrete types are
// *OpenFile, *PipeEndFile, and *EpollInstance from this package, plus
// whatever socket type internal/syslayer installs (this package has no
// network code of its own, so it doesn't need to know the concrete
// socket type — the fd table is a dumb slot map).
type FdEntry interface{}

// epollFdBase is the first fd handed out to epoll_create1, kept in a
// range disjoint from ordinary fds per spec.md §3's EpollInstance note.
const epollFdBase = 1 << 20

// FdTable maps integer descriptors to FdEntry values. Fds 0/1/2 are
// reserved by convention (stdin/stdout/stderr) and are never handed out
// by Install; callers that need them pre-populate slots 0-2 directly.
type FdTable struct {
	mu      sync.Mutex
	entries map[int]FdEntry
	next    int
	nextEp  int
}

func NewFdTable() *FdTable {
	return &FdTable{
		entries: map[int]FdEntry{},
		next:    3,
		nextEp:  epollFdBase,
	}
}

// Set installs entry at an explicit fd number (used for stdin/stdout/
// stderr at process start, and by dup2's exact-target-fd contract).
func (t *FdTable) Set(fd int, entry FdEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[fd] = entry
	if fd >= t.next {
		t.next = fd + 1
	}
}

// Install assigns the next free ordinary fd to entry.
func (t *FdTable) Install(entry FdEntry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.entries[fd] = entry
	return fd
}

// InstallEpoll assigns the next free fd from the disjoint epoll range.
func (t *FdTable) InstallEpoll(entry *EpollInstance) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.nextEp
	t.nextEp++
	t.entries[fd] = entry
	return fd
}

// Get returns the entry at fd.
func (t *FdTable) Get(fd int) (FdEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	return e, ok
}

// Close removes fd from the table. Reports whether it was present.
func (t *FdTable) Close(fd int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[fd]; !ok {
		return false
	}
	delete(t.entries, fd)
	return true
}

// Dup installs a new fd aliasing the same entry as oldfd (both fds
// share the underlying handle, so seeks/flags on one are visible via
// the other, matching spec.md §3's OpenFile invariant).
func (t *FdTable) Dup(oldfd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[oldfd]
	if !ok {
		return 0, fmt.Errorf("bad file descriptor")
	}
	fd := t.next
	t.next++
	t.entries[fd] = e
	return fd, nil
}

// Dup2 makes newfd an alias of oldfd, closing whatever newfd previously
// held (matching dup2/dup3's exact-target-fd contract). Dup-to-self is
// a documented no-op.
func (t *FdTable) Dup2(oldfd, newfd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[oldfd]
	if !ok {
		return fmt.Errorf("bad file descriptor")
	}
	if oldfd == newfd {
		return nil
	}
	t.entries[newfd] = e
	if newfd >= t.next {
		t.next = newfd + 1
	}
	return nil
}

// Snapshot returns the set of fd numbers currently open.
func (t *FdTable) Snapshot() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fds := make([]int, 0, len(t.entries))
	for fd := range t.entries {
		fds = append(fds, fd)
	}
	return fds
}

// CloneTable returns a new FdTable with the same fd-to-entry mapping as
// t, used by fork (as opposed to a CLONE_FILES thread, which shares t
// directly). The two tables' entries alias the same underlying
// *OpenFile/*PipeEndFile/*EpollInstance values, matching fork's
// shared-open-file-description semantics: a seek in the child is
// visible to the parent, same as Dup within one table.
func (t *FdTable) CloneTable() *FdTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := &FdTable{
		entries: make(map[int]FdEntry, len(t.entries)),
		next:    t.next,
		nextEp:  t.nextEp,
	}
	for fd, e := range t.entries {
		clone.entries[fd] = e
	}
	return clone
}

// CloseExcept closes every fd not present in keep, used by execve to
// drop every descriptor except stdin/stdout/stderr.
func (t *FdTable) CloseExcept(keep map[int]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd := range t.entries {
		if !keep[fd] {
			delete(t.entries, fd)
		}
	}
}
