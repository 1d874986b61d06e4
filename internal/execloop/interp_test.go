package execloop

import (
	"testing"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/decode"
)

func newTestArena(t *testing.T) *arena.Arena {
	t.Helper()
	a, err := arena.New(nil)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func setReg(t *testing.T, a *arena.Arena, r decode.Reg, v uint64) {
	t.Helper()
	if err := regWrite(a, r, v); err != nil {
		t.Fatalf("regWrite(%d): %v", r, err)
	}
}

func getReg(t *testing.T, a *arena.Arena, r decode.Reg) uint64 {
	t.Helper()
	v, err := regRead(a, r)
	if err != nil {
		t.Fatalf("regRead(%d): %v", r, err)
	}
	return v
}

func TestStepAddi(t *testing.T) {
	a := newTestArena(t)
	setReg(t, a, 1, 5)

	inst := decode.Instruction{Addr: 0x1000, Size: 4, Op: decode.OpAddi, Rd: 2, Rs1: 1, Imm: -2}
	res, err := Step(a, inst)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.NextPC != 0x1004 {
		t.Fatalf("NextPC = 0x%x, want 0x1004", res.NextPC)
	}
	if got := getReg(t, a, 2); got != 3 {
		t.Fatalf("x2 = %d, want 3", got)
	}
}

func TestStepAddiRdZeroIsNoop(t *testing.T) {
	a := newTestArena(t)
	setReg(t, a, 1, 5)
	inst := decode.Instruction{Addr: 0x1000, Size: 4, Op: decode.OpAddi, Rd: 0, Rs1: 1, Imm: 9}
	if _, err := Step(a, inst); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := getReg(t, a, 0); got != 0 {
		t.Fatalf("x0 = %d, want 0 (writes to x0 are discarded)", got)
	}
}

func TestStepAdd(t *testing.T) {
	a := newTestArena(t)
	setReg(t, a, 1, 10)
	setReg(t, a, 2, 20)
	inst := decode.Instruction{Addr: 0x2000, Size: 4, Op: decode.OpAdd, Rd: 3, Rs1: 1, Rs2: 2}
	if _, err := Step(a, inst); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := getReg(t, a, 3); got != 30 {
		t.Fatalf("x3 = %d, want 30", got)
	}
}

func TestStepBranchTaken(t *testing.T) {
	a := newTestArena(t)
	setReg(t, a, 1, 7)
	setReg(t, a, 2, 7)
	inst := decode.Instruction{Addr: 0x3000, Size: 4, Op: decode.OpBeq, Rs1: 1, Rs2: 2, Imm: 0x100}
	res, err := Step(a, inst)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.NextPC != 0x3100 {
		t.Fatalf("NextPC = 0x%x, want 0x3100 (branch taken)", res.NextPC)
	}
}

func TestStepBranchNotTaken(t *testing.T) {
	a := newTestArena(t)
	setReg(t, a, 1, 7)
	setReg(t, a, 2, 8)
	inst := decode.Instruction{Addr: 0x3000, Size: 4, Op: decode.OpBeq, Rs1: 1, Rs2: 2, Imm: 0x100}
	res, err := Step(a, inst)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.NextPC != 0x3004 {
		t.Fatalf("NextPC = 0x%x, want fallthrough 0x3004", res.NextPC)
	}
}

func TestStepJalSetsLinkAndTarget(t *testing.T) {
	a := newTestArena(t)
	inst := decode.Instruction{Addr: 0x4000, Size: 4, Op: decode.OpJal, Rd: 1, Imm: 0x20}
	res, err := Step(a, inst)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.NextPC != 0x4020 {
		t.Fatalf("NextPC = 0x%x, want 0x4020", res.NextPC)
	}
	if got := getReg(t, a, 1); got != 0x4004 {
		t.Fatalf("link register = 0x%x, want fallthrough 0x4004", got)
	}
}

func TestStepJalrMasksLowBit(t *testing.T) {
	a := newTestArena(t)
	setReg(t, a, 1, 0x4101)
	inst := decode.Instruction{Addr: 0x5000, Size: 4, Op: decode.OpJalr, Rd: 0, Rs1: 1, Imm: 0}
	res, err := Step(a, inst)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.NextPC != 0x4100 {
		t.Fatalf("NextPC = 0x%x, want 0x4100 (low bit cleared)", res.NextPC)
	}
}

func TestStepStoreLoadRoundTrip(t *testing.T) {
	a := newTestArena(t)
	const addr = arena.PageSize * 8
	setReg(t, a, 1, addr)
	setReg(t, a, 2, 0xdeadbeef)

	store := decode.Instruction{Addr: 0x6000, Size: 4, Op: decode.OpSw, Rs1: 1, Rs2: 2}
	if _, err := Step(a, store); err != nil {
		t.Fatalf("Step(store): %v", err)
	}

	load := decode.Instruction{Addr: 0x6004, Size: 4, Op: decode.OpLw, Rd: 3, Rs1: 1}
	if _, err := Step(a, load); err != nil {
		t.Fatalf("Step(load): %v", err)
	}
	if got := getReg(t, a, 3); got != 0xffffffffdeadbeef {
		t.Fatalf("x3 = 0x%x, want 0xffffffffdeadbeef (lw sign-extends)", got)
	}
}

func TestStepLoadByteSignExtends(t *testing.T) {
	a := newTestArena(t)
	const addr = arena.PageSize * 8
	setReg(t, a, 1, addr)
	setReg(t, a, 2, 0xff)

	store := decode.Instruction{Addr: 0x7000, Size: 4, Op: decode.OpSb, Rs1: 1, Rs2: 2}
	if _, err := Step(a, store); err != nil {
		t.Fatalf("Step(store): %v", err)
	}

	load := decode.Instruction{Addr: 0x7004, Size: 4, Op: decode.OpLb, Rd: 3, Rs1: 1}
	if _, err := Step(a, load); err != nil {
		t.Fatalf("Step(load): %v", err)
	}
	if got := int64(getReg(t, a, 3)); got != -1 {
		t.Fatalf("x3 = %d, want -1 (sign-extended 0xff)", got)
	}
}

func TestStepAddiwSignExtendsWord(t *testing.T) {
	a := newTestArena(t)
	setReg(t, a, 1, 0x7fffffff)
	inst := decode.Instruction{Addr: 0x8000, Size: 4, Op: decode.OpAddiw, Rd: 2, Rs1: 1, Imm: 1}
	if _, err := Step(a, inst); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := int64(getReg(t, a, 2)); got != -0x80000000 {
		t.Fatalf("x2 = %d, want -2147483648 (wraps and sign-extends)", got)
	}
}

func TestStepDivuByZero(t *testing.T) {
	a := newTestArena(t)
	setReg(t, a, 1, 42)
	setReg(t, a, 2, 0)
	inst := decode.Instruction{Addr: 0x9000, Size: 4, Op: decode.OpDivu, Rd: 3, Rs1: 1, Rs2: 2}
	if _, err := Step(a, inst); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := getReg(t, a, 3); got != ^uint64(0) {
		t.Fatalf("x3 = 0x%x, want all-ones per RISC-V divide-by-zero semantics", got)
	}
}

func TestStepECallSignalsSyscall(t *testing.T) {
	a := newTestArena(t)
	inst := decode.Instruction{Addr: 0xa000, Size: 4, Op: decode.OpECall}
	res, err := Step(a, inst)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.Syscall || res.NextPC != 0xa004 {
		t.Fatalf("Step(ecall) = %+v, want Syscall=true NextPC=0xa004", res)
	}
}

func TestStepUnknownOpReportsIllegal(t *testing.T) {
	a := newTestArena(t)
	inst := decode.Instruction{Addr: 0xb000, Size: 4, Op: decode.Op(-1)}
	res, err := Step(a, inst)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.Illegal {
		t.Fatalf("Step(unknown op) = %+v, want Illegal=true", res)
	}
}
