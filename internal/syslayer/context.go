package syslayer

import (
	"fmt"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/bridge"
	"github.com/maceip/friscy-sub000/internal/vfs"
)

// Loader abstracts DynLoader's reload-in-place operation so this
// package can drive execve without importing internal/dynload
// (dynload already depends on arena and vfs; syslayer depending on it
// too would be fine, but keeping the dependency as a narrow interface
// lets tests substitute a fake loader without building a real ELF).
type Loader interface {
	Exec(path string, argv, envp []string) (entry, sp uint64, err error)
}

// Context is one process/thread's syscall-handling state: the shared
// guest memory and filesystem, its private fd table, and the bookkeeping
// a handful of syscalls need (brk frontier, robust-list/tid address,
// signal disposition — recorded but never delivered, since signal
// delivery is explicitly out of scope).
//
// Grounded on the teacher's internal/vfs/backend.go, which threads a
// *Node plus a uid/gid pair through its setuid/setgid logic the same
// way this threads a *vfs.FS plus per-process fd table through syscall
// handling.
type Context struct {
	Arena *arena.Arena
	FS    *vfs.FS
	Fds   *vfs.FdTable
	Load  Loader

	// Net is the network RPC channel socket syscalls forward to; the
	// real endpoint (an out-of-scope TCP tunnel proxy) lives on the
	// other side of it. Nil in contexts that never exercise sockets
	// (most test setups), in which case socket syscalls return ENOSYS.
	Net *bridge.NetworkRPC

	Pid int32
	Tid int32
	Ppid int32

	Uid, Gid   uint32
	Euid, Egid uint32

	brkStart uint64
	brkCur   uint64

	clearTidAddr uint64

	// Sched is the cooperative scheduler this context's process belongs
	// to, used by clone/wait4/futex.
	Sched *Scheduler
}

// NewContext builds the initial (pid 1) syscall context for a fresh
// program image, with the break frontier starting at the arena's
// current bump top.
func NewContext(a *arena.Arena, fs *vfs.FS, loader Loader, sched *Scheduler) *Context {
	return &Context{
		Arena:    a,
		FS:       fs,
		Fds:      vfs.NewFdTable(),
		Load:     loader,
		Pid:      1,
		Tid:      1,
		brkStart: a.BumpTop(),
		brkCur:   a.BumpTop(),
		Sched:    sched,
	}
}

// readCString reads a NUL-terminated string from guest memory, used by
// every syscall that takes a `const char *` argument.
func readCString(a *arena.Arena, addr uint64) (string, error) {
	if addr == 0 {
		return "", Errno(EFAULT)
	}
	const maxLen = 4096
	buf := make([]byte, 0, 64)
	for i := uint64(0); i < maxLen; i += 64 {
		chunk, err := a.Bytes(addr+i, 64)
		if err != nil {
			return "", err
		}
		for _, b := range chunk {
			if b == 0 {
				return string(buf), nil
			}
			buf = append(buf, b)
		}
	}
	return "", fmt.Errorf("syslayer: string at %#x exceeds %d bytes", addr, maxLen)
}

// readCStringVector reads a NULL-terminated array of guest char*
// pointers (argv/envp shape) into host strings.
func readCStringVector(a *arena.Arena, addr uint64) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}
	var out []string
	for i := uint64(0); ; i += 8 {
		ptr, err := arena.ReadT[uint64](a, addr+i)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return out, nil
		}
		s, err := readCString(a, ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}
