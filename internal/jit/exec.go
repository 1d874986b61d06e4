// Package jit implements the runtime JIT manager: it tracks hot guest
// pages and regions, schedules region compilation under a token-bucket
// budget, predicts future regions from Markov/trace statistics, and
// executes compiled regions by interpreting their translated Wasm IR
// directly against the shared arena.
//
// No third-party Wasm engine is used to run a compiled region's bytes
// (none is grounded anywhere in the example pack — see DESIGN.md); this
// package is the hand-written "Wasm VM" that plays the role the
// teacher's internal/asm/amd64 assembler+trampoline plays for native
// code: an internal IR (internal/wasmir), an internal encoder
// (internal/wasmenc) for the persisted/exported module bytes, and this
// package's Interpreter for actually running the translated form.
package jit

import (
	"fmt"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/decode"
	"github.com/maceip/friscy-sub000/internal/wasmir"
)

// StatePtr is the fixed arena address of the 32-register, 8-byte-per-
// register state struct the translated code's prologues/epilogues
// address relative to. It sits below the anonymous-mmap bump frontier
// (internal/arena.PageSize) in guest page 0, which is never handed out
// to the guest by mmap and is never a valid ELF load address, so it can
// never collide with guest-visible memory.
const StatePtr = 64

// RegisterBytes is the size in bytes of the register file region.
const RegisterBytes = 32 * 8

// indirectTargetAddr is the arena address of the reserved slot a
// translated block's indirect-jump (jalr) terminator stores its
// dynamic target into; see wasmir.IndirectTargetOffset.
const indirectTargetAddr = StatePtr + wasmir.IndirectTargetOffset

// SyscallFunc is the host function a compiled region's `env.syscall`
// import resolves to: given the state pointer and the faulting PC, it
// runs the syscall and returns the next PC (or a special continuation
// value — ExecutionLoop interprets the result, not this package). The
// Interpreter in this package stores it but never calls it: a syscall
// terminator returns its syscall-tagged code, and ExecutionLoop
// dispatches the syscall itself.
type SyscallFunc func(statePtr, pc uint64) uint64

// Result is the decoded return value of dispatching a compiled region,
// mirroring the block function return-code encoding in spec.md §4.4.
type Result struct {
	Halt        bool
	Syscall     bool
	RegionMiss  bool
	NextPC      uint64
}

func decodeResult(code uint32) Result {
	switch {
	case code == wasmir.CodeHalt:
		return Result{Halt: true}
	case code&wasmir.CodeSyscallBit != 0:
		return Result{Syscall: true, NextPC: uint64(code & wasmir.CodeLowMask)}
	case code&wasmir.CodeRegionMiss != 0:
		return Result{RegionMiss: true, NextPC: uint64(code & wasmir.CodeLowMask)}
	default:
		return Result{NextPC: uint64(code & wasmir.CodeLowMask)}
	}
}

// Interpreter executes a wasmir.Module's blocks directly, standing in
// for a real Wasm engine loading the module's encoded bytes.
type Interpreter struct {
	arena   *arena.Arena
	syscall SyscallFunc
}

func NewInterpreter(a *arena.Arena, syscall SyscallFunc) *Interpreter {
	return &Interpreter{arena: a, syscall: syscall}
}

// Dispatch runs the block starting at pc within module, chaining
// through internal block-to-block transitions (taken/fallthrough
// branches and unconditional jumps that stay inside the region) until
// it returns one of {next-PC, syscall marker, halt, region-miss}, per
// spec.md §4.4's dispatch function contract.
func (in *Interpreter) Dispatch(module *wasmir.Module, pc uint64) (Result, error) {
	for {
		idx, ok := module.BlockIndex[pc]
		if !ok {
			return Result{RegionMiss: true, NextPC: pc}, nil
		}
		fn := module.Blocks[idx]
		code, err := in.runFunc(fn)
		if err != nil {
			return Result{}, err
		}
		res := decodeResult(code)
		if res.RegionMiss && res.NextPC == 0 {
			// The return code's low bits can't hold a full guest
			// address, so an indirect jump (jalr) signals its real
			// target this way instead: read it back out of the
			// reserved slot the terminator just stored it into.
			target, terr := readIndirectTarget(in.arena)
			if terr != nil {
				return Result{}, terr
			}
			res.NextPC = target
		}
		if res.Halt || res.Syscall || res.RegionMiss {
			return res, nil
		}
		if decode.RegionOf(res.NextPC) == module.RegionBase {
			pc = res.NextPC
			continue
		}
		return Result{RegionMiss: true, NextPC: res.NextPC}, nil
	}
}

// runFunc executes one block function's instruction stream as a small
// stack machine. Locals hold i64 values; local 0 is always StatePtr.
func (in *Interpreter) runFunc(fn *wasmir.Func) (uint32, error) {
	locals := make([]int64, fn.NumLocals+1)
	locals[0] = int64(StatePtr)
	var stack []int64

	push := func(v int64) { stack = append(stack, v) }
	pop := func() int64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for i := 0; i < len(fn.Body); i++ {
		inst := fn.Body[i]
		switch inst.Op {
		case wasmir.OpConstI32, wasmir.OpConstI64:
			push(inst.ConstI64)
		case wasmir.OpLocalGet:
			push(locals[inst.Local])
		case wasmir.OpLocalSet:
			locals[inst.Local] = pop()
		case wasmir.OpLocalTee:
			locals[inst.Local] = stack[len(stack)-1]
		case wasmir.OpDrop:
			pop()
		case wasmir.OpLoad:
			addr := uint64(pop()) + uint64(inst.Offset)
			v, err := readWidth(in.arena, addr, inst.Width, inst.Sign)
			if err != nil {
				return 0, err
			}
			push(v)
		case wasmir.OpStore:
			value := pop()
			addr := uint64(pop()) + uint64(inst.Offset)
			if err := writeWidth(in.arena, addr, inst.Width, value); err != nil {
				return 0, err
			}
		case wasmir.OpAdd:
			b, a := pop(), pop()
			push(a + b)
		case wasmir.OpSub:
			b, a := pop(), pop()
			push(a - b)
		case wasmir.OpMul:
			b, a := pop(), pop()
			push(a * b)
		case wasmir.OpAnd:
			b, a := pop(), pop()
			push(a & b)
		case wasmir.OpOr:
			b, a := pop(), pop()
			push(a | b)
		case wasmir.OpXor:
			b, a := pop(), pop()
			push(a ^ b)
		case wasmir.OpShl:
			b, a := pop(), pop()
			push(a << uint(b&63))
		case wasmir.OpShrS:
			b, a := pop(), pop()
			push(a >> uint(b&63))
		case wasmir.OpShrU:
			b, a := pop(), pop()
			push(int64(uint64(a) >> uint(b&63)))
		case wasmir.OpDivS:
			b, a := pop(), pop()
			if b == 0 {
				push(-1)
			} else {
				push(a / b)
			}
		case wasmir.OpDivU:
			b, a := pop(), pop()
			if b == 0 {
				push(-1)
			} else {
				push(int64(uint64(a) / uint64(b)))
			}
		case wasmir.OpRemS:
			b, a := pop(), pop()
			if b == 0 {
				push(a)
			} else {
				push(a % b)
			}
		case wasmir.OpRemU:
			b, a := pop(), pop()
			if b == 0 {
				push(a)
			} else {
				push(int64(uint64(a) % uint64(b)))
			}
		case wasmir.OpEq:
			b, a := pop(), pop()
			push(boolI64(a == b))
		case wasmir.OpNe:
			b, a := pop(), pop()
			push(boolI64(a != b))
		case wasmir.OpLtS:
			b, a := pop(), pop()
			push(boolI64(a < b))
		case wasmir.OpLtU:
			b, a := pop(), pop()
			push(boolI64(uint64(a) < uint64(b)))
		case wasmir.OpGeS:
			b, a := pop(), pop()
			push(boolI64(a >= b))
		case wasmir.OpGeU:
			b, a := pop(), pop()
			push(boolI64(uint64(a) >= uint64(b)))
		case wasmir.OpBlock:
			// This interpreter only ever sees the single-level
			// block/br_if/end shape lowerTerminator emits (an if/else
			// encoded as block+br_if+fallthrough+end+taken-path), so no
			// general label-stack is needed: br_if with a false
			// condition falls through to the next instruction, and End
			// is a no-op marker.
		case wasmir.OpEnd:
		case wasmir.OpBrIf:
			cond := pop()
			if cond != 0 {
				i = skipToMatchingEnd(fn.Body, i)
			}
		case wasmir.OpBr:
			i = skipToMatchingEnd(fn.Body, i)
		case wasmir.OpReturn:
			return uint32(pop()), nil
		case wasmir.OpUnreachable:
			return wasmir.CodeHalt, nil
		default:
			return 0, fmt.Errorf("jit: interpreter: unsupported op %v", inst.Op)
		}
	}
	return wasmir.CodeHalt, nil
}

// skipToMatchingEnd implements the branch taken at i (a BrIf or Br
// targeting the block opened earlier in the same function) by jumping
// to just after the matching End, per the single-nesting-level shape
// lowerTerminator produces.
func skipToMatchingEnd(body []wasmir.Inst, i int) int {
	depth := 0
	for j := i + 1; j < len(body); j++ {
		switch body[j].Op {
		case wasmir.OpBlock, wasmir.OpLoop:
			depth++
		case wasmir.OpEnd:
			if depth == 0 {
				return j
			}
			depth--
		}
	}
	return len(body) - 1
}

func boolI64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func readWidth(a *arena.Arena, addr uint64, w wasmir.Width, sign wasmir.Signedness) (int64, error) {
	buf, err := a.Bytes(addr, widthBytes(w))
	if err != nil {
		return 0, err
	}
	var u uint64
	for i := len(buf) - 1; i >= 0; i-- {
		u = u<<8 | uint64(buf[i])
	}
	if sign == wasmir.Unsigned || w == wasmir.W64 {
		return int64(u), nil
	}
	bits := widthBytes(w) * 8
	shift := 64 - bits
	return int64(u<<shift) >> shift, nil
}

// writeWidth stores through Bytes rather than CopyIn: compiled region
// code addresses the register file (reserved, unattributed guest page
// 0) and ordinary guest memory uniformly, and — like real JIT-compiled
// native code — trusts the translation rather than re-checking R/W/X
// page attributes on every access. Arena.checkAttr's protection-fault
// path is for the slow-path syscall layer and decoder, which do hold
// guest-visible mappings to real R/W/X semantics.
func writeWidth(a *arena.Arena, addr uint64, w wasmir.Width, value int64) error {
	n := widthBytes(w)
	buf, err := a.Bytes(addr, n)
	if err != nil {
		return err
	}
	u := uint64(value)
	for i := uint64(0); i < n; i++ {
		buf[i] = byte(u)
		u >>= 8
	}
	return nil
}

// readIndirectTarget reads back the 8-byte dynamic-jump target a
// translated block's jalr terminator stored at indirectTargetAddr.
func readIndirectTarget(a *arena.Arena) (uint64, error) {
	buf, err := a.Bytes(indirectTargetAddr, 8)
	if err != nil {
		return 0, err
	}
	var u uint64
	for i := 7; i >= 0; i-- {
		u = u<<8 | uint64(buf[i])
	}
	return u, nil
}

func widthBytes(w wasmir.Width) uint64 {
	switch w {
	case wasmir.W8:
		return 1
	case wasmir.W16:
		return 2
	case wasmir.W32:
		return 4
	default:
		return 8
	}
}
