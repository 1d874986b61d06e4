package wasmenc

import (
	"testing"

	"github.com/maceip/friscy-sub000/internal/decode"
	"github.com/maceip/friscy-sub000/internal/wasmir"
)

type memReader struct{ buf []byte }

func (m *memReader) Bytes(addr, length uint64) ([]byte, error) {
	return m.buf[addr : addr+length], nil
}

func putU32(buf []byte, off uint64, w uint32) {
	buf[off] = byte(w)
	buf[off+1] = byte(w >> 8)
	buf[off+2] = byte(w >> 16)
	buf[off+3] = byte(w >> 24)
}

func encodeAddi(rd, rs1 decode.Reg, imm int32) uint32 {
	const opOpImm = 0x13
	return uint32(imm&0xfff)<<20 | uint32(rs1)<<15 | uint32(rd)<<7 | opOpImm
}

func encodeEcall() uint32 { return 0x00000073 }

func buildTestModule(t *testing.T) *wasmir.Module {
	t.Helper()
	buf := make([]byte, decode.RegionSize)
	putU32(buf, 0, encodeAddi(5, 0, 1))
	putU32(buf, 4, encodeEcall())
	r := &memReader{buf: buf}

	blocks, err := decode.BuildRegion(r, []uint64{0})
	if err != nil {
		t.Fatalf("BuildRegion: %v", err)
	}
	module, err := wasmir.BuildModule(0, blocks, wasmir.TierOptimized)
	if err != nil {
		t.Fatalf("BuildModule: %v", err)
	}
	return module
}

func TestEncodeProducesValidWasmHeader(t *testing.T) {
	module := buildTestModule(t)

	data, err := Encode(module)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	if len(data) < len(want) {
		t.Fatalf("Encode() produced %d bytes, too short for a header", len(data))
	}
	for i, b := range want {
		if data[i] != b {
			t.Fatalf("Encode() header = % x, want magic+version % x", data[:len(want)], want)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	module := buildTestModule(t)

	a, err := Encode(module)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(module)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("Encode() not stable across calls: %d vs %d bytes", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Encode() output differs at byte %d", i)
		}
	}
}
