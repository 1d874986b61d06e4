// Package wasmir is the Translator's intermediate representation: a
// tagged WasmInst value covering constants, loads/stores with a static
// offset, arithmetic, comparisons, control flow, local access, and
// calls, plus the lowering from a decoded RV64 basic block into that
// IR and the peephole/register-caching passes spec.md §4.4 specifies.
//
// The compiler shape — a Method-like sequence of typed Fragments lowered
// by a single-pass compiler that allocates locals and resolves forward
// branch targets — is grounded in the teacher's internal/ir/ir.go
// (Fragment/Method/compiler), generalized from "emit x86-64 machine
// code fragments" to "emit Wasm instruction-IR fragments", since no
// Wasm-targeting IR exists anywhere in the example pack.
package wasmir

import (
	"github.com/maceip/friscy-sub000/internal/decode"
)

// Op tags a WasmInst.
type Op int

const (
	OpUnreachable Op = iota
	OpConstI32
	OpConstI64
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpLoad  // loads a value at (baseLocal + Offset) from linear memory
	OpStore // stores TOS-1 at (baseLocal + Offset), value is TOS
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShrS
	OpShrU
	OpDivS
	OpDivU
	OpRemS
	OpRemU
	OpEq
	OpNe
	OpLtS
	OpLtU
	OpGeS
	OpGeU
	OpBlock
	OpLoop
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpDrop
	OpEnd
	OpCall
	OpCallIndirect
)

// ValType is a Wasm value type; this translator only ever needs i32 and
// i64.
type ValType int

const (
	I32 ValType = iota
	I64
)

// Width is the memory access width for Load/Store.
type Width int

const (
	W8 Width = iota
	W16
	W32
	W64
)

// Signed marks whether a sub-64-bit load sign- or zero-extends.
type Signedness int

const (
	Unsigned Signedness = iota
	Signed
)

// Inst is one WasmInst IR value.
type Inst struct {
	Op Op

	// ConstI32/ConstI64
	ConstI64 int64

	// LocalGet/LocalSet/LocalTee: index into the function's local slots.
	Local int

	// Load/Store
	Offset uint32
	Width  Width
	Sign   Signedness

	// Block/Loop/Br/BrIf: a structural label id, resolved to a branch
	// depth at encode time.
	Label int
	// BrTable: targets by label id, last entry is the default.
	Targets []int

	// Call
	FuncIndex int
}

func ConstI64(v int64) Inst        { return Inst{Op: OpConstI64, ConstI64: v} }
func ConstI32(v int32) Inst        { return Inst{Op: OpConstI32, ConstI64: int64(v)} }
func LocalGet(idx int) Inst        { return Inst{Op: OpLocalGet, Local: idx} }
func LocalSet(idx int) Inst        { return Inst{Op: OpLocalSet, Local: idx} }
func LocalTee(idx int) Inst        { return Inst{Op: OpLocalTee, Local: idx} }
func Load(off uint32, w Width, s Signedness) Inst {
	return Inst{Op: OpLoad, Offset: off, Width: w, Sign: s}
}
func Store(off uint32, w Width) Inst { return Inst{Op: OpStore, Offset: off, Width: w} }
func BinOp(op Op) Inst               { return Inst{Op: op} }
func Block(label int) Inst           { return Inst{Op: OpBlock, Label: label} }
func Loop(label int) Inst            { return Inst{Op: OpLoop, Label: label} }
func Br(label int) Inst              { return Inst{Op: OpBr, Label: label} }
func BrIf(label int) Inst            { return Inst{Op: OpBrIf, Label: label} }
func End() Inst                      { return Inst{Op: OpEnd} }
func Drop() Inst                     { return Inst{Op: OpDrop} }
func Return() Inst                   { return Inst{Op: OpReturn} }
func Call(idx int) Inst              { return Inst{Op: OpCall, FuncIndex: idx} }

// Func is one Wasm function body: a name (the guest block's start
// address, formatted by the caller), the number of i64 locals it
// declares beyond its parameters, and its instruction sequence.
type Func struct {
	Name      string
	NumLocals int
	Body      []Inst
}

// Register-file memory layout: 32 integer registers, 8 bytes each,
// at a fixed offset inside the shared linear memory's state struct.
// x0 is never loaded or stored since it's hard-wired zero.
const registerFileOffset = 0

func registerOffset(r decode.Reg) uint32 { return registerFileOffset + uint32(r)*8 }

// IndirectTargetOffset is a reserved 8-byte slot immediately past the
// register file. The region-miss low bits (CodeLowMask, 30 bits) can't
// hold a full guest address into the 2 GiB arena, which is fine for a
// jal/branch to a statically known out-of-region target since the host
// re-derives it from the instruction anyway, but an indirect jump's
// target is only known at run time from a register — so instead of
// encoding it lossily, the translated block stores the computed target
// here and returns a region-miss with NextPC 0, which the host reads
// back as "look in this slot" rather than as a real guest address
// (address 0 is reserved and never valid per spec.md §3, so the two
// meanings never collide).
const IndirectTargetOffset = 32 * 8

// Return-code encoding from spec.md §4.4.
const (
	CodeHalt        = 0xFFFF_FFFF
	CodeSyscallBit  = 0x8000_0000
	CodeRegionMiss  = 0x4000_0000
	CodeLowMask     = 0x3FFF_FFFF
)
