package wasmir

import (
	"fmt"

	"github.com/maceip/friscy-sub000/internal/decode"
)

// localAlloc assigns one i64 local slot per register actually used by a
// block (x0 excluded, since it is hard-wired zero and never cached),
// per spec.md §4.4's register-caching pass step 2.
type localAlloc struct {
	regToLocal map[decode.Reg]int
	order      []decode.Reg
}

func newLocalAlloc() *localAlloc {
	return &localAlloc{regToLocal: map[decode.Reg]int{}}
}

// slotOf returns the local index for r, allocating one on first use.
// Local 0 is reserved for the statePtr parameter, so allocated slots
// start at 1.
func (a *localAlloc) slotOf(r decode.Reg) int {
	if r == 0 {
		return -1 // x0 is never cached; callers special-case it
	}
	if idx, ok := a.regToLocal[r]; ok {
		return idx
	}
	idx := len(a.order) + 1
	a.regToLocal[r] = idx
	a.order = append(a.order, r)
	return idx
}

// liveInOut computes reads_before_write and writes for a block, per
// spec.md §4.4's register-caching pass step 1.
func liveInOut(insts []decode.Instruction) (liveIn, writes map[decode.Reg]bool) {
	liveIn = map[decode.Reg]bool{}
	writes = map[decode.Reg]bool{}
	for _, inst := range insts {
		for _, r := range []decode.Reg{inst.Rs1, inst.Rs2} {
			if r != 0 && !writes[r] {
				liveIn[r] = true
			}
		}
		if inst.Rd != 0 && writesDest(inst.Op) {
			writes[inst.Rd] = true
		}
	}
	return liveIn, writes
}

func writesDest(op decode.Op) bool {
	switch op {
	case decode.OpBeq, decode.OpBne, decode.OpBlt, decode.OpBge, decode.OpBltu, decode.OpBgeu,
		decode.OpSb, decode.OpSh, decode.OpSw, decode.OpSd, decode.OpFence, decode.OpECall, decode.OpEBreak:
		return false
	default:
		return true
	}
}

// LowerBlock translates a decoded basic block into a Wasm IR function.
// The function signature is conceptually (statePtr i32) -> i32: local 0
// is the statePtr parameter, one i64 local per live register follows,
// and the function returns one of the encoded next-step values from
// spec.md §4.4.
func LowerBlock(block *decode.BasicBlock, dispatchFuncIndex int) (*Func, error) {
	liveIn, writes := liveInOut(block.Instructions)
	alloc := newLocalAlloc()
	for r := range liveIn {
		alloc.slotOf(r)
	}
	for r := range writes {
		alloc.slotOf(r)
	}

	fn := &Func{Name: fmt.Sprintf("block_%#x", block.Start)}

	// Prologue: load each live-in register from the state struct into
	// its local.
	for _, r := range alloc.order {
		if !liveIn[r] {
			continue
		}
		fn.Body = append(fn.Body,
			LocalGet(0),
			Load(registerOffset(r), W64, Unsigned),
			LocalSet(alloc.slotOf(r)),
		)
	}

	for _, inst := range block.Instructions {
		insts, err := lowerInst(inst, alloc)
		if err != nil {
			return nil, err
		}
		fn.Body = append(fn.Body, insts...)
	}

	// Epilogue: store each written register back to memory, placed
	// immediately before the terminator's return, per spec.md §4.4
	// step 5.
	for _, r := range alloc.order {
		if !writes[r] {
			continue
		}
		fn.Body = append(fn.Body,
			LocalGet(0),
			LocalGet(alloc.slotOf(r)),
			Store(registerOffset(r), W64),
		)
	}

	fn.Body = append(fn.Body, lowerTerminator(block, alloc)...)
	fn.NumLocals = len(alloc.order)
	return fn, nil
}

// pushOperand emits code pushing the i64 value of register r (constant
// zero for x0, otherwise a local.get of its cached slot).
func pushOperand(alloc *localAlloc, r decode.Reg) Inst {
	if r == 0 {
		return ConstI64(0)
	}
	return LocalGet(alloc.slotOf(r))
}

func storeResult(alloc *localAlloc, rd decode.Reg) []Inst {
	if rd == 0 {
		return []Inst{Drop()}
	}
	return []Inst{LocalSet(alloc.slotOf(rd))}
}

func lowerInst(inst decode.Instruction, alloc *localAlloc) ([]Inst, error) {
	switch inst.Op {
	case decode.OpAdd, decode.OpAddw:
		return append([]Inst{pushOperand(alloc, inst.Rs1), pushOperand(alloc, inst.Rs2), BinOp(OpAdd)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpSub, decode.OpSubw:
		return append([]Inst{pushOperand(alloc, inst.Rs1), pushOperand(alloc, inst.Rs2), BinOp(OpSub)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpAnd, decode.OpAndi:
		return arith(alloc, inst, OpAnd), nil
	case decode.OpOr, decode.OpOri:
		return arith(alloc, inst, OpOr), nil
	case decode.OpXor, decode.OpXori:
		return arith(alloc, inst, OpXor), nil
	case decode.OpSll, decode.OpSlli, decode.OpSllw, decode.OpSlliw:
		return arith(alloc, inst, OpShl), nil
	case decode.OpSrl, decode.OpSrli, decode.OpSrlw, decode.OpSrliw:
		return arith(alloc, inst, OpShrU), nil
	case decode.OpSra, decode.OpSrai, decode.OpSraw, decode.OpSraiw:
		return arith(alloc, inst, OpShrS), nil
	case decode.OpMul, decode.OpMulw:
		return append([]Inst{pushOperand(alloc, inst.Rs1), pushOperand(alloc, inst.Rs2), BinOp(OpMul)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpDiv, decode.OpDivw:
		return append([]Inst{pushOperand(alloc, inst.Rs1), pushOperand(alloc, inst.Rs2), BinOp(OpDivS)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpDivu, decode.OpDivuw:
		return append([]Inst{pushOperand(alloc, inst.Rs1), pushOperand(alloc, inst.Rs2), BinOp(OpDivU)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpRem, decode.OpRemw:
		return append([]Inst{pushOperand(alloc, inst.Rs1), pushOperand(alloc, inst.Rs2), BinOp(OpRemS)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpRemu, decode.OpRemuw:
		return append([]Inst{pushOperand(alloc, inst.Rs1), pushOperand(alloc, inst.Rs2), BinOp(OpRemU)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpAddi, decode.OpAddiw:
		return append([]Inst{pushOperand(alloc, inst.Rs1), ConstI64(inst.Imm), BinOp(OpAdd)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpSlt, decode.OpSlti:
		return append([]Inst{pushOperand(alloc, inst.Rs1), operandOrImm(alloc, inst), BinOp(OpLtS)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpSltu, decode.OpSltiu:
		return append([]Inst{pushOperand(alloc, inst.Rs1), operandOrImm(alloc, inst), BinOp(OpLtU)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpLui:
		return append([]Inst{ConstI64(inst.Imm)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpAuipc:
		return append([]Inst{ConstI64(int64(inst.Addr) + inst.Imm)}, storeResult(alloc, inst.Rd)...), nil
	case decode.OpLb:
		return loadInst(alloc, inst, W8, Signed), nil
	case decode.OpLbu:
		return loadInst(alloc, inst, W8, Unsigned), nil
	case decode.OpLh:
		return loadInst(alloc, inst, W16, Signed), nil
	case decode.OpLhu:
		return loadInst(alloc, inst, W16, Unsigned), nil
	case decode.OpLw:
		return loadInst(alloc, inst, W32, Signed), nil
	case decode.OpLwu:
		return loadInst(alloc, inst, W32, Unsigned), nil
	case decode.OpLd:
		return loadInst(alloc, inst, W64, Unsigned), nil
	case decode.OpSb:
		return storeInst(alloc, inst, W8), nil
	case decode.OpSh:
		return storeInst(alloc, inst, W16), nil
	case decode.OpSw:
		return storeInst(alloc, inst, W32), nil
	case decode.OpSd:
		return storeInst(alloc, inst, W64), nil
	case decode.OpFence:
		return nil, nil
	case decode.OpBeq, decode.OpBne, decode.OpBlt, decode.OpBge, decode.OpBltu, decode.OpBgeu, decode.OpJal, decode.OpJalr, decode.OpECall, decode.OpEBreak:
		// Control-flow and syscall instructions are handled by
		// lowerTerminator, since they always end the block.
		return nil, nil
	default:
		return nil, fmt.Errorf("wasmir: no lowering for op %v at 0x%x", inst.Op, inst.Addr)
	}
}

func arith(alloc *localAlloc, inst decode.Instruction, op Op) []Inst {
	return append([]Inst{pushOperand(alloc, inst.Rs1), operandOrImm(alloc, inst), BinOp(op)}, storeResult(alloc, inst.Rd)...)
}

// operandOrImm pushes rs2 for register-register ops or the sign-
// extended immediate for *-immediate ops. Both shapes flow through the
// same lowerInst switch, so we tell them apart by whether rs2 was
// populated by the decoder (register forms always decode a non-empty
// Rs2 field along with a zero Imm in this decoder, so Imm != 0 OR the
// opcode is one of the known *i variants is enough to disambiguate in
// practice, but to stay correct for an Imm of exactly zero we dispatch
// on the RV64 opcode name instead).
func operandOrImm(alloc *localAlloc, inst decode.Instruction) Inst {
	switch inst.Op {
	case decode.OpAndi, decode.OpOri, decode.OpXori, decode.OpSlli, decode.OpSrli, decode.OpSrai,
		decode.OpSlliw, decode.OpSrliw, decode.OpSraiw, decode.OpSlti, decode.OpSltiu, decode.OpAddi, decode.OpAddiw:
		return ConstI64(inst.Imm)
	default:
		return pushOperand(alloc, inst.Rs2)
	}
}

func loadInst(alloc *localAlloc, inst decode.Instruction, w Width, sign Signedness) []Inst {
	return append([]Inst{
		pushOperand(alloc, inst.Rs1),
		ConstI64(inst.Imm),
		BinOp(OpAdd),
		Load(0, w, sign),
	}, storeResult(alloc, inst.Rd)...)
}

func storeInst(alloc *localAlloc, inst decode.Instruction, w Width) []Inst {
	return []Inst{
		pushOperand(alloc, inst.Rs1),
		ConstI64(inst.Imm),
		BinOp(OpAdd),
		pushOperand(alloc, inst.Rs2),
		Store(0, w),
	}
}

// lowerTerminator emits the block's final return-code expression, per
// the encoding in spec.md §4.4: halt, syscall, region-miss, or a plain
// next-PC.
func lowerTerminator(block *decode.BasicBlock, alloc *localAlloc) []Inst {
	switch block.Terminator {
	case decode.TermSyscall:
		last := block.Instructions[len(block.Instructions)-1]
		return []Inst{ConstI32(int32(CodeSyscallBit | (last.Addr & CodeLowMask))), Return()}
	case decode.TermUnknown:
		return []Inst{ConstI32(-1), Return()} // CodeHalt (0xFFFF_FFFF) as an i32
	case decode.TermBranch:
		taken, fall := block.Successors[0], block.Successors[1]
		// if (rs1 op rs2) return taken-encoded else return
		// fallthrough-encoded, reading the two compared registers from
		// their cached locals (or the x0 constant) the same way any
		// other instruction in this block does.
		last := block.Instructions[len(block.Instructions)-1]
		cond := branchCond(last.Op)
		return []Inst{
			pushOperand(alloc, last.Rs1),
			pushOperand(alloc, last.Rs2),
			BinOp(cond),
			Block(0),
			BrIf(0),
			ConstI32(encodeNextPC(fall)),
			Return(),
			End(),
			ConstI32(encodeNextPC(taken)),
			Return(),
		}
	case decode.TermJump:
		if len(block.Successors) == 1 {
			return []Inst{ConstI32(encodeNextPC(block.Successors[0])), Return()}
		}
		// Indirect jump (jalr with a dynamic target — every RV64
		// function return takes this path): the target is only known
		// at run time as rs1's value plus the immediate, with bit 0
		// cleared per the jalr semantics. Compute it and store it to
		// the reserved IndirectTargetOffset slot, then signal a
		// region miss with NextPC 0 so the host knows to re-read the
		// real target from that slot instead of from the return
		// code's low bits.
		last := block.Instructions[len(block.Instructions)-1]
		return []Inst{
			LocalGet(0),
			pushOperand(alloc, last.Rs1),
			ConstI64(last.Imm),
			BinOp(OpAdd),
			ConstI64(-2),
			BinOp(OpAnd),
			Store(IndirectTargetOffset, W64),
			ConstI32(int32(CodeRegionMiss)),
			Return(),
		}
	case decode.TermRegionExit:
		return []Inst{ConstI32(int32(uint32(CodeRegionMiss) | uint32(block.Successors[0]&CodeLowMask))), Return()}
	default:
		return []Inst{ConstI32(-1), Return()} // CodeHalt as an i32
	}
}

func branchCond(op decode.Op) Op {
	switch op {
	case decode.OpBeq:
		return OpEq
	case decode.OpBne:
		return OpNe
	case decode.OpBlt:
		return OpLtS
	case decode.OpBge:
		return OpGeS
	case decode.OpBltu:
		return OpLtU
	case decode.OpBgeu:
		return OpGeU
	default:
		return OpEq
	}
}

func encodeNextPC(pc uint64) int32 { return int32(uint32(pc) & CodeLowMask) }
