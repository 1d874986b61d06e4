package vfs

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Direction distinguishes the two ends of a pipe.
type Direction int

const (
	PipeRead Direction = iota
	PipeWrite
)

// DT_* directory-entry type tags, matching Linux's <dirent.h>.
const (
	dtUnknown = 0
	dtFifo    = 1
	dtChr     = 2
	dtDir     = 4
	dtBlk     = 6
	dtReg     = 8
	dtLnk     = 10
	dtSock    = 12
)

func direntType(k Kind) byte {
	switch k {
	case Fifo:
		return dtFifo
	case CharDev:
		return dtChr
	case Directory:
		return dtDir
	case BlockDev:
		return dtBlk
	case Regular:
		return dtReg
	case Symlink:
		return dtLnk
	case Socket:
		return dtSock
	default:
		return dtUnknown
	}
}

// OpenFile is a handle owning a strong reference to a VFS node, a byte
// offset, and open flags.
type OpenFile struct {
	mu sync.Mutex

	Path  string
	Node  *Node
	Flags int
	offset int64

	// dirCursor is the getdents64 iteration position: an index into a
	// directory-listing snapshot taken on first read so that the
	// enumeration is stable even if the directory mutates mid-listing.
	dirSnapshot []string
	dirCursor   int
}

func (f *OpenFile) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

func (f *OpenFile) Seek(off int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case 0: // SEEK_SET
		f.offset = off
	case 1: // SEEK_CUR
		f.offset += off
	case 2: // SEEK_END
		f.offset = f.Node.Size() + off
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if f.offset < 0 {
		f.offset = 0
		return 0, fmt.Errorf("negative seek result")
	}
	return f.offset, nil
}

// Read reads from the current offset, advancing it.
func (f *OpenFile) Read(p []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.Node.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n
}

// Write writes at the current offset, advancing it (or always at EOF
// if O_APPEND, left to the caller to enforce since flags are
// interpreted by the syscall layer).
func (f *OpenFile) Write(p []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.Node.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n
}

// GetDents64 encodes as many directory entries as fit in buf using the
// exact Linux dirent64 layout (ino, off, reclen, type, name, NUL),
// advancing the iterator stored on this handle. Returns the number of
// bytes written.
func (f *OpenFile) GetDents64(fs *FS, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Node.Kind() != Directory {
		return 0, ErrNotDirectory
	}

	if f.dirSnapshot == nil {
		names := append([]string{".", ".."}, f.Node.SortedNames()...)
		f.dirSnapshot = names
	}

	written := 0
	for f.dirCursor < len(f.dirSnapshot) {
		name := f.dirSnapshot[f.dirCursor]

		var kind Kind
		switch name {
		case ".", "..":
			kind = Directory
		default:
			child := f.Node.Lookup(name)
			if child == nil {
				f.dirCursor++
				continue
			}
			kind = child.Kind()
		}

		nameBytes := append([]byte(name), 0)
		recLen := alignRecord(19 + len(nameBytes))
		if written+recLen > len(buf) {
			break
		}

		entryPath := joinDirentPath(f.Path, name)
		rec := buf[written : written+recLen]
		binary.LittleEndian.PutUint64(rec[0:8], fnvHash64(entryPath))
		binary.LittleEndian.PutUint64(rec[8:16], uint64(f.dirCursor+1))
		binary.LittleEndian.PutUint16(rec[16:18], uint16(recLen))
		rec[18] = direntType(kind)
		copy(rec[19:], nameBytes)

		written += recLen
		f.dirCursor++
	}
	return written, nil
}

func joinDirentPath(dir, name string) string {
	switch name {
	case ".":
		return dir
	case "..":
		return dir + "/.."
	default:
		if dir == "/" {
			return "/" + name
		}
		return dir + "/" + name
	}
}

// alignRecord rounds n up to the next 8-byte boundary, matching the
// kernel's dirent64 record alignment.
func alignRecord(n int) int { return (n + 7) &^ 7 }

// RewindDir resets the getdents64 iterator, used by lseek(fd, 0,
// SEEK_SET) on a directory fd.
func (f *OpenFile) RewindDir() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirSnapshot = nil
	f.dirCursor = 0
}

// Pipe is a pair of fds sharing one Node's content queue.
type Pipe struct {
	Node *Node
}

// NewPipe creates a fifo-backed pipe node; the caller installs the two
// ends (PipeRead/PipeWrite) into the fd table.
func NewPipe() *Node { return NewFifo(0o600) }

// PipeEndFile adapts a pipe end to look like an OpenFile for callers
// that only need Read/Write, keyed by direction.
type PipeEndFile struct {
	Node      *Node
	Direction Direction
}

func (p *PipeEndFile) Read(buf []byte) int {
	if p.Direction != PipeRead {
		return 0
	}
	return p.Node.DrainPipe(buf)
}

func (p *PipeEndFile) Write(buf []byte) int {
	if p.Direction != PipeWrite {
		return 0
	}
	return p.Node.AppendPipe(buf)
}

// EpollInstance maps fds to their registered interest, keyed by an
// epoll fd drawn from a disjoint numeric range by the fd table.
type EpollInstance struct {
	mu        sync.Mutex
	Interests map[int]EpollInterest
}

// EpollInterest is one {events, opaque-data} record.
type EpollInterest struct {
	Events uint32
	Data   uint64
}

func NewEpollInstance() *EpollInstance {
	return &EpollInstance{Interests: map[int]EpollInterest{}}
}

func (e *EpollInstance) Ctl(op int, fd int, interest EpollInterest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	const (
		epollCtlAdd = 1
		epollCtlDel = 2
		epollCtlMod = 3
	)
	switch op {
	case epollCtlAdd, epollCtlMod:
		e.Interests[fd] = interest
	case epollCtlDel:
		delete(e.Interests, fd)
	}
}
