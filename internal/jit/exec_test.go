package jit

import (
	"encoding/binary"
	"testing"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/decode"
	"github.com/maceip/friscy-sub000/internal/wasmir"
)

// TestDispatchResolvesIndirectJumpTarget exercises the jalr/"function
// return" path: spec.md §3's address-zero-reserved invariant lets a
// region-miss with NextPC 0 mean "read the real target out of the
// reserved slot" rather than a real guest address, since the return
// code's low 30 bits can't hold a full 2 GiB arena address anyway.
func TestDispatchResolvesIndirectJumpTarget(t *testing.T) {
	a, err := arena.New(nil)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	defer a.Close()

	// x1 (ra) holds an odd return address; jalr must clear bit 0.
	const ra = decode.Reg(1)
	const retAddr = uint64(0x2001)
	// The register file sits in guest page 0, which never carries page
	// attributes, so it is seeded through the attribute-bypassing Bytes
	// view the interpreter itself uses.
	raSlot, err := a.Bytes(StatePtr+uint64(ra)*8, 8)
	if err != nil {
		t.Fatalf("seed ra: %v", err)
	}
	binary.LittleEndian.PutUint64(raSlot, retAddr)

	block := &decode.BasicBlock{
		Start: 0x1000,
		Instructions: []decode.Instruction{
			{Addr: 0x1000, Size: 4, Op: decode.OpJalr, Rd: 0, Rs1: ra, Imm: 0},
		},
		Terminator: decode.TermJump,
	}
	fn, err := wasmir.LowerBlock(block, 0)
	if err != nil {
		t.Fatalf("LowerBlock: %v", err)
	}
	module := &wasmir.Module{
		RegionBase: decode.RegionOf(block.Start),
		Blocks:     []*wasmir.Func{fn},
		BlockIndex: map[uint64]int{block.Start: 0},
	}

	noop := func(uint64, uint64) uint64 { return 0 }
	interp := NewInterpreter(a, noop)
	res, err := interp.Dispatch(module, block.Start)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.RegionMiss {
		t.Fatalf("expected a region miss for an indirect jump, got %+v", res)
	}
	if res.NextPC != 0x2000 {
		t.Fatalf("NextPC = %#x, want 0x2000 (0x2001 with bit 0 cleared)", res.NextPC)
	}
}
