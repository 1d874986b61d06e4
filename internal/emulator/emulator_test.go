package emulator

import (
	"encoding/binary"
	"testing"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/vfs"
)

const elfRiscv64 = 243

// buildMinimalExec hand-encodes a single-segment RISC-V64 ET_EXEC ELF,
// the same approach internal/dynload's own tests use (there is no
// assembler or ELF writer available in this tree).
func buildMinimalExec(loadAddr uint64, code []byte) []byte {
	const ehdrSize, phdrSize = 64, 56
	codeOff := uint64(ehdrSize + phdrSize)
	buf := make([]byte, codeOff+uint64(len(code)))

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4], buf[5], buf[6] = 2, 1, 1

	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)
	le.PutUint16(buf[18:], elfRiscv64)
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], loadAddr+codeOff)
	le.PutUint64(buf[32:], ehdrSize)
	le.PutUint16(buf[52:], ehdrSize)
	le.PutUint16(buf[54:], phdrSize)
	le.PutUint16(buf[56:], 1)

	p := buf[ehdrSize:]
	le.PutUint32(p[0:], 1)
	le.PutUint32(p[4:], 5)
	le.PutUint64(p[8:], 0)
	le.PutUint64(p[16:], loadAddr)
	le.PutUint64(p[24:], loadAddr)
	le.PutUint64(p[32:], codeOff+uint64(len(code)))
	le.PutUint64(p[40:], codeOff+uint64(len(code)))
	le.PutUint64(p[48:], arena.PageSize)

	copy(buf[codeOff:], code)
	return buf
}

func putU32(buf []byte, off int, w uint32) {
	buf[off] = byte(w)
	buf[off+1] = byte(w >> 8)
	buf[off+2] = byte(w >> 16)
	buf[off+3] = byte(w >> 24)
}

// encodeAddi encodes "addi rd, rs1, imm" (opcode OP-IMM, funct3=000).
func encodeAddi(rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm&0xfff)<<20 | rs1<<15 | rd<<7 | 0x13
}

func encodeEcall() uint32 { return 0x00000073 }

func TestEmulatorStartRunReturnsExitCode(t *testing.T) {
	em, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const loadAddr = 0x0020_0000
	code := make([]byte, 12)
	putU32(code, 0, encodeAddi(10, 0, 42)) // a0 = 42
	putU32(code, 4, encodeAddi(17, 0, 93)) // a7 = SysExit
	putU32(code, 8, encodeEcall())
	img := buildMinimalExec(loadAddr, code)

	node := vfs.NewRegular(0o755)
	node.WriteAt(img, 0)
	if err := em.FS.Link("/hello", node); err != nil {
		t.Fatalf("Link: %v", err)
	}

	if err := em.Start("/hello", nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	exitCode, err := em.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exitCode != 42 {
		t.Fatalf("Run() = %d, want 42", exitCode)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.CompilesPerSecond != 200 || c.MaxConcurrentCompiles != 4 {
		t.Fatalf("withDefaults() = %+v, want 200/4 defaults", c)
	}

	c2 := Config{CompilesPerSecond: 50, MaxConcurrentCompiles: 1}.withDefaults()
	if c2.CompilesPerSecond != 50 || c2.MaxConcurrentCompiles != 1 {
		t.Fatalf("withDefaults() overrode explicit values: %+v", c2)
	}
}

func TestFileConfigApplyToOnlyOverridesNonZero(t *testing.T) {
	base := Config{CompilesPerSecond: 200, MaxConcurrentCompiles: 4, HotPageThreshold: 32, HotRegionThreshold: 64}
	fc := FileConfig{HotPageThreshold: 99}
	got := fc.ApplyTo(base)
	if got.HotPageThreshold != 99 {
		t.Fatalf("HotPageThreshold = %d, want 99", got.HotPageThreshold)
	}
	if got.HotRegionThreshold != 64 || got.CompilesPerSecond != 200 || got.MaxConcurrentCompiles != 4 {
		t.Fatalf("ApplyTo changed unset fields: %+v", got)
	}
}
