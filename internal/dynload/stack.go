package dynload

import (
	"encoding/binary"

	"github.com/maceip/friscy-sub000/internal/arena"
)

// Auxiliary vector types this loader populates, per the System V
// RISC-V64 psABI's initial-stack contract.
const (
	atNull     = 0
	atPhdr     = 3
	atPhent    = 4
	atPhnum    = 5
	atPagesz   = 6
	atBase     = 7
	atEntry    = 9
	atUID      = 11
	atEUID     = 12
	atGID      = 13
	atEGID     = 14
	atSecure   = 23
	atRandom   = 25
)

// buildStack maps the guest stack region and writes argv/envp/auxv plus
// their backing strings, returning the initial stack pointer
// ExecutionLoop should install in the new thread's sp register. The
// layout (working down from stackTop): strings, then 16 bytes of
// AT_RANDOM data, then padding to 16-byte alignment, then
// [argc][argv...][NULL][envp...][NULL][auxv pairs...][AT_NULL,AT_NULL].
func (l *Loader) buildStack(argv, envp []string, main *image, interpBase uint64) (uint64, error) {
	const base uint64 = stackTop - stackSize
	if _, err := l.Arena.MMapAllocate(uint64(stackSize), base); err != nil {
		return 0, err
	}
	if err := l.Arena.SetPageAttrs(base, uint64(stackSize), arena.Read|arena.Write); err != nil {
		return 0, err
	}

	sp := uint64(stackTop)

	writeString := func(s string) uint64 {
		b := append([]byte(s), 0)
		sp -= uint64(len(b))
		sp &^= 0xF
		_ = l.Arena.CopyIn(sp, b)
		return sp
	}

	argvPtrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		argvPtrs[i] = writeString(argv[i])
	}
	envpPtrs := make([]uint64, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		envpPtrs[i] = writeString(envp[i])
	}

	sp -= 16
	randomAddr := sp
	_ = l.Arena.CopyIn(randomAddr, []byte("0123456789abcdef"))

	type auxEntry struct{ typ, val uint64 }
	aux := []auxEntry{
		{atPhdr, main.phdrAddr},
		{atPhent, uint64(main.phentsize)},
		{atPhnum, uint64(main.phnum)},
		{atPagesz, arena.PageSize},
		{atBase, interpBase},
		{atEntry, main.entry},
		{atUID, 0},
		{atEUID, 0},
		{atGID, 0},
		{atEGID, 0},
		{atSecure, 0},
		{atRandom, randomAddr},
		{atNull, 0},
	}

	// Total words below sp: argc(1) + argv(n+1) + envp(m+1) + auxv(2*len(aux)).
	words := 1 + len(argvPtrs) + 1 + len(envpPtrs) + 1 + 2*len(aux)
	sp -= uint64(words) * 8
	sp &^= 0xF

	cursor := sp
	putWord := func(v uint64) {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v)
		_ = l.Arena.CopyIn(cursor, buf)
		cursor += 8
	}

	putWord(uint64(len(argvPtrs)))
	for _, p := range argvPtrs {
		putWord(p)
	}
	putWord(0)
	for _, p := range envpPtrs {
		putWord(p)
	}
	putWord(0)
	for _, e := range aux {
		putWord(e.typ)
		putWord(e.val)
	}

	return sp, nil
}
