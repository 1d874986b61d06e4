// Package dynload maps an ELF RISC-V64 program image into the guest
// arena: PT_LOAD segments, PIE base selection, an optional PT_INTERP
// dynamic linker chain, and the initial argv/envp/auxv stack layout a
// freshly exec'd (or cloned) thread starts running with.
//
// Grounded on the teacher's internal/initx/loader.go, which wires
// boot.LinuxLoader's functional-options construction of a guest image;
// this package keeps that "functional options build one Loader value,
// then Exec(...) does the actual placement" shape but replaces the
// teacher's pre-built kernel/initramfs boot path with ELF segment
// mapping, since the guest here is a single ELF binary rather than a
// Linux kernel image.
package dynload

import (
	"bytes"
	"debug/elf"
	"fmt"
	"strings"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/vfs"
)

// Fixed, deterministic (not randomized) load bases. A real kernel picks
// a random PIE base; this emulator picks a fixed one so a compiled
// region's encoded bytes are reproducible across runs of the same
// binary, which spec.md §8's differential-cosimulation test needs.
const (
	mainBaseDyn = 0x0020_0000
	interpBase  = 0x4000_0000
	stackTop    = arena.Size - arena.PageSize
	stackSize   = 8 * 1024 * 1024
)

// Loader maps ELF binaries from the guest filesystem into the arena.
type Loader struct {
	Arena *arena.Arena
	FS    *vfs.FS
}

func New(a *arena.Arena, fs *vfs.FS) *Loader {
	return &Loader{Arena: a, FS: fs}
}

// image is everything about one mapped ELF binary the stack-builder
// and entry computation need.
type image struct {
	base       uint64
	entry      uint64
	phdrAddr   uint64
	phnum      int
	phentsize  int
}

// Exec loads path as a fresh program image — the only entry point this
// package exposes, satisfying internal/syslayer.Loader so execve can
// drive it without a direct dependency. It discards whatever was
// previously mapped above the arena's reserved control region; the
// caller (ExecutionLoop) is responsible for resetting per-thread
// register state and the JITManager's compiled-region cache, since
// neither is this package's concern.
func (l *Loader) Exec(path string, argv, envp []string) (entry, sp uint64, err error) {
	data, err := l.readFile(path)
	if err != nil {
		return 0, 0, err
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("dynload: %s: %w", path, err)
	}
	defer f.Close()
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return 0, 0, fmt.Errorf("dynload: %s: not a RISC-V64 ELF", path)
	}

	main, err := l.mapImage(f, data, mainBaseDyn)
	if err != nil {
		return 0, 0, err
	}

	entryPoint := main.entry
	var interpBaseVal uint64
	if interp := interpPath(f); interp != "" {
		interpData, ierr := l.readFile(interp)
		if ierr == nil {
			interpELF, ierr := elf.NewFile(bytes.NewReader(interpData))
			if ierr == nil {
				ldImg, merr := l.mapImage(interpELF, interpData, interpBase)
				interpELF.Close()
				if merr == nil {
					entryPoint = ldImg.entry
					interpBaseVal = ldImg.base
				}
			}
		}
	}

	stackPtr, err := l.buildStack(argv, envp, main, interpBaseVal)
	if err != nil {
		return 0, 0, err
	}
	return entryPoint, stackPtr, nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	node, err := l.FS.Resolve(path, true)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, node.Size())
	node.ReadAt(buf, 0)
	return buf, nil
}

func interpPath(f *elf.File) string {
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return ""
		}
		return strings.TrimRight(string(buf), "\x00")
	}
	return ""
}

// mapImage maps every PT_LOAD segment of f into the arena at base
// (added to each segment's link-time vaddr for ET_DYN; used verbatim
// for ET_EXEC, in which case base is ignored in favor of the segment's
// own vaddr).
func (l *Loader) mapImage(f *elf.File, raw []byte, base uint64) (*image, error) {
	effectiveBase := uint64(0)
	if f.Type == elf.ET_DYN {
		effectiveBase = base
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		vaddr := effectiveBase + prog.Vaddr
		pageStart := vaddr &^ (arena.PageSize - 1)
		pageEnd := (vaddr + prog.Memsz + arena.PageSize - 1) &^ (arena.PageSize - 1)
		length := pageEnd - pageStart

		if _, err := l.Arena.MMapAllocate(length, pageStart); err != nil {
			return nil, fmt.Errorf("dynload: mapping segment at %#x: %w", pageStart, err)
		}
		// Make the fresh pages writable for the copy; the segment's own
		// permissions replace these below.
		if err := l.Arena.SetPageAttrs(pageStart, length, arena.Read|arena.Write); err != nil {
			return nil, err
		}
		fileData := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(fileData, 0); err != nil {
				return nil, err
			}
			if err := l.Arena.CopyIn(vaddr, fileData); err != nil {
				return nil, err
			}
		}
		attrs := progFlagsToAttr(prog.Flags)
		if err := l.Arena.SetPageAttrs(pageStart, length, attrs); err != nil {
			return nil, err
		}
	}

	entry := f.Entry
	if f.Type == elf.ET_DYN {
		entry += effectiveBase
	}

	var phdrAddr uint64
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_PHDR {
			phdrAddr = effectiveBase + prog.Vaddr
		}
	}
	return &image{
		base:      effectiveBase,
		entry:     entry,
		phdrAddr:  phdrAddr,
		phnum:     len(f.Progs),
		phentsize: 56, // Elf64_Phdr size
	}, nil
}

func progFlagsToAttr(flags elf.ProgFlag) arena.Attr {
	var a arena.Attr
	if flags&elf.PF_R != 0 {
		a |= arena.Read
	}
	if flags&elf.PF_W != 0 {
		a |= arena.Write
	}
	if flags&elf.PF_X != 0 {
		a |= arena.Exec
	}
	return a
}
