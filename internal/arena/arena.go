// Package arena implements the emulator's flat guest address space: a
// single 2 GiB byte buffer with a per-page attribute table, a bump
// allocator for anonymous mmap, and typed/bulk access helpers.
//
// The design is a deliberate simplification of the teacher's paged MMU
// (internal/hv/riscv/rv64/mmu.go in the reference tree): this emulator
// never boots a guest kernel, so there is no guest page table to walk.
// Every guest address is a flat offset into one backing buffer, and the
// "page table" tracked here exists purely to enforce read/write/exec
// permission and to tell the JIT manager when compiled code must be
// invalidated.
package arena

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// Size is the total guest address space. Address zero is reserved
	// and never handed out by the bump allocator.
	Size = 2 << 30

	// PageSize is the granularity of the attribute table.
	PageSize = 4096

	pageCount = Size / PageSize
)

// Attr is a page permission triple.
type Attr uint8

const (
	Read Attr = 1 << iota
	Write
	Exec
)

func (a Attr) String() string {
	r, w, x := byte('-'), byte('-'), byte('-')
	if a&Read != 0 {
		r = 'r'
	}
	if a&Write != 0 {
		w = 'w'
	}
	if a&Exec != 0 {
		x = 'x'
	}
	return string([]byte{r, w, x})
}

// ProtectionFault is raised by Read/Write/CopyIn/CopyOut when the page
// attributes forbid the requested access.
type ProtectionFault struct {
	Addr    uint64
	Want    Attr
	Have    Attr
	Message string
}

func (f *ProtectionFault) Error() string {
	return fmt.Sprintf("protection fault at 0x%x: want %s, have %s: %s", f.Addr, f.Want, f.Have, f.Message)
}

// InvalidateFunc is called whenever SetPageAttrs removes exec or grants
// write over a byte range that previously held exec pages. The JIT
// manager wires this to its own invalidate(addr, len).
type InvalidateFunc func(addr, length uint64)

// Arena is the guest's entire address space.
type Arena struct {
	mu sync.RWMutex

	mem   []byte
	attrs []Attr

	// bumpTop is the monotonically non-decreasing frontier for
	// anonymous mmap. It never lowers except on execve reload.
	bumpTop uint64

	onInvalidate InvalidateFunc
}

// New allocates the backing buffer for a fresh arena. onInvalidate may
// be nil (useful in unit tests that don't exercise the JIT).
func New(onInvalidate InvalidateFunc) (*Arena, error) {
	mem, err := unix.Mmap(-1, 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap guest arena: %w", err)
	}
	return &Arena{
		mem:          mem,
		attrs:        make([]Attr, pageCount),
		bumpTop:      PageSize, // leave page 0 reserved/unmapped
		onInvalidate: onInvalidate,
	}, nil
}

// Close releases the host-side backing buffer.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

func pageOf(addr uint64) uint64 { return addr / PageSize }

func alignDown(addr uint64) uint64 { return addr &^ (PageSize - 1) }
func alignUp(addr uint64) uint64   { return (addr + PageSize - 1) &^ (PageSize - 1) }

// checkRange verifies addr..addr+length lies inside the arena.
func checkRange(addr, length uint64) error {
	if length == 0 {
		return nil
	}
	if addr == 0 || addr+length > Size || addr+length < addr {
		return fmt.Errorf("address range [0x%x, 0x%x) out of arena", addr, addr+length)
	}
	return nil
}

func (a *Arena) checkAttr(addr, length uint64, want Attr) error {
	if err := checkRange(addr, length); err != nil {
		return err
	}
	start := pageOf(alignDown(addr))
	end := pageOf(alignUp(addr + length))
	for p := start; p < end; p++ {
		have := a.attrs[p]
		if have&want != want {
			return &ProtectionFault{Addr: addr, Want: want, Have: have, Message: "page attribute mismatch"}
		}
	}
	return nil
}

// Numeric is the set of integer widths typed guest access supports.
type Numeric interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64
}

// ReadT performs a typed little-endian load from guest memory.
func ReadT[T Numeric](a *Arena, addr uint64) (T, error) {
	var zero T
	size := uint64(sizeOf[T]())
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkAttr(addr, size, Read); err != nil {
		return zero, err
	}
	return decodeLE[T](a.mem[addr : addr+size]), nil
}

// WriteT performs a typed little-endian store into guest memory.
func WriteT[T Numeric](a *Arena, addr uint64, value T) error {
	size := uint64(sizeOf[T]())
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkAttr(addr, size, Write); err != nil {
		return err
	}
	encodeLE(a.mem[addr:addr+size], value)
	return nil
}

// CopyIn copies host bytes into guest memory, failing on attribute
// violation or out-of-arena access.
func (a *Arena) CopyIn(dstGuest uint64, src []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkAttr(dstGuest, uint64(len(src)), Write); err != nil {
		return err
	}
	copy(a.mem[dstGuest:dstGuest+uint64(len(src))], src)
	return nil
}

// CopyOut copies guest memory into a host buffer.
func (a *Arena) CopyOut(dst []byte, srcGuest uint64) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkAttr(srcGuest, uint64(len(dst)), Read); err != nil {
		return err
	}
	copy(dst, a.mem[srcGuest:srcGuest+uint64(len(dst))])
	return nil
}

// Bytes returns a direct (unsynchronized) view of a guest range, for
// callers — the decoder and translator — that already hold a read lock
// of their own discipline (single emulator thread) and need to scan
// code bytes without a copy. Callers must not retain the slice past the
// next mutation of the arena.
func (a *Arena) Bytes(addr, length uint64) ([]byte, error) {
	if err := checkRange(addr, length); err != nil {
		return nil, err
	}
	return a.mem[addr : addr+length], nil
}

// SetPageAttrs applies attrs over the half-open byte range, rounding
// out to whole pages. It invokes the JIT-invalidate callback whenever
// the operation removes Exec or grants Write on pages that previously
// held Exec, per the ArenaMemory contract.
func (a *Arena) SetPageAttrs(addr, length uint64, attrs Attr) error {
	if err := checkRange(addr, length); err != nil {
		return err
	}
	a.mu.Lock()
	start := pageOf(alignDown(addr))
	end := pageOf(alignUp(addr + length))

	invalidateStart, invalidateLen := uint64(0), uint64(0)
	needInvalidate := false

	for p := start; p < end; p++ {
		prev := a.attrs[p]
		losesExec := prev&Exec != 0 && attrs&Exec == 0
		gainsWriteOverExec := prev&Exec != 0 && attrs&Write != 0
		if losesExec || gainsWriteOverExec {
			if !needInvalidate {
				invalidateStart = p * PageSize
				needInvalidate = true
			}
			invalidateLen = p*PageSize + PageSize - invalidateStart
		}
		a.attrs[p] = attrs
	}
	cb := a.onInvalidate
	a.mu.Unlock()

	if needInvalidate && cb != nil {
		cb(invalidateStart, invalidateLen)
	}
	return nil
}

// PageAttrs returns the attribute of the page containing addr.
func (a *Arena) PageAttrs(addr uint64) Attr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.attrs[pageOf(addr)]
}

// ErrOutOfMemory is returned by MMapAllocate when the bump pointer
// would exceed the arena, or when a high address hint is supplied.
var ErrOutOfMemory = fmt.Errorf("out of memory")

// MMapAllocate reserves length bytes (rounded up to a page) at the
// monotonic bump pointer. A non-zero hint inside the arena is honored
// verbatim (caller-managed fixed mapping); a hint above the arena's
// ceiling fails with ErrOutOfMemory so the guest falls back to its own
// retry path, matching real Linux mmap(MAP_FIXED_NOREPLACE) semantics
// loosely.
func (a *Arena) MMapAllocate(length, hint uint64) (uint64, error) {
	length = alignUp(length)
	if length == 0 {
		return 0, fmt.Errorf("zero-length mmap")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if hint != 0 {
		if hint >= Size {
			return 0, ErrOutOfMemory
		}
		if hint+length > Size {
			return 0, ErrOutOfMemory
		}
		return hint, nil
	}

	addr := a.bumpTop
	if addr+length > Size {
		return 0, ErrOutOfMemory
	}
	a.bumpTop = addr + length
	return addr, nil
}

// ResetBump lowers the bump pointer back to its initial frontier. Used
// only on execve reload, where the whole address space is considered
// fresh.
func (a *Arena) ResetBump(frontier uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bumpTop = frontier
}

// BumpTop reports the current anonymous-mmap frontier.
func (a *Arena) BumpTop() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bumpTop
}

func sizeOf[T Numeric]() int {
	var v T
	switch any(v).(type) {
	case int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32:
		return 4
	default:
		return 8
	}
}

func decodeLE[T Numeric](b []byte) T {
	var raw uint64
	for i := len(b) - 1; i >= 0; i-- {
		raw = raw<<8 | uint64(b[i])
	}
	return T(raw)
}

func encodeLE[T Numeric](b []byte, v T) {
	raw := uint64(v)
	for i := range b {
		b[i] = byte(raw)
		raw >>= 8
	}
}
