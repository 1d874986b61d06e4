package wasmenc

import (
	"fmt"

	"github.com/maceip/friscy-sub000/internal/wasmir"
)

const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secExport   = 7
	secCode     = 10
)

const (
	valI32 byte = 0x7F
	valI64 byte = 0x7E
)

const funcTypeForm byte = 0x60

const (
	exportKindFunc byte = 0x00
)

// Encode serializes module into a standalone binary Wasm module. The
// result imports its linear memory as "env"."memory" and a syscall host
// function as "env"."syscall" (i32 pc, i32 state_ptr) -> i32, and
// exports a single dispatch function "run" (i32 pc, i32 state_ptr) ->
// i32, matching the ABI spec.md §4.4 describes for a compiled region.
//
// Real engines never load these bytes in this implementation (no Wasm
// runtime dependency exists anywhere in the example pack — see
// DESIGN.md); internal/jit's Interpreter executes module's IR directly.
// Encode exists so a region's compiled form has the byte-stable,
// inspectable artifact the differential-cosimulation testing in
// spec.md §8 and any future real-engine backend would need.
func Encode(module *wasmir.Module) ([]byte, error) {
	e := &encoder{module: module}
	return e.encode()
}

type encoder struct {
	module *wasmir.Module
}

func (e *encoder) encode() ([]byte, error) {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00} // magic, version 1

	// Type section: type 0 = (i32) -> i32 for block funcs, type 1 =
	// (i32, i32) -> i32 for the syscall import and the dispatch export.
	var types []byte
	types = putULEB128(types, 2)
	types = append(types, funcTypeForm)
	types = putULEB128(types, 1)
	types = append(types, valI32)
	types = putULEB128(types, 1)
	types = append(types, valI32)
	types = append(types, funcTypeForm)
	types = putULEB128(types, 2)
	types = append(types, valI32, valI32)
	types = putULEB128(types, 1)
	types = append(types, valI32)
	out = section(out, secType, types)

	// Import section: env.memory, env.syscall.
	var imports []byte
	imports = putULEB128(imports, 2)
	imports = appendName(imports, "env")
	imports = appendName(imports, "memory")
	imports = append(imports, 0x02) // memtype
	imports = append(imports, 0x00) // limits: min only
	imports = putULEB128(imports, 1)
	imports = appendName(imports, "env")
	imports = appendName(imports, "syscall")
	imports = append(imports, 0x00) // functype
	imports = putULEB128(imports, 1)
	out = section(out, secImport, imports)

	numBlocks := len(e.module.Blocks)

	// Function section: one entry per block func (type 0), plus the
	// dispatch func (type 1). Import index 0 occupies function index 0
	// in the combined function index space, so block func i is function
	// index i+1 and dispatch is function index numBlocks+1.
	var funcs []byte
	funcs = putULEB128(funcs, uint64(numBlocks+1))
	for i := 0; i < numBlocks; i++ {
		funcs = putULEB128(funcs, 0)
	}
	funcs = putULEB128(funcs, 1)
	out = section(out, secFunction, funcs)

	// Export section: dispatch function as "run".
	var exports []byte
	exports = putULEB128(exports, 1)
	exports = appendName(exports, "run")
	exports = append(exports, exportKindFunc)
	exports = putULEB128(exports, uint64(numBlocks+1))
	out = section(out, secExport, exports)

	// Code section.
	var code []byte
	code = putULEB128(code, uint64(numBlocks+1))
	for _, fn := range e.module.Blocks {
		body, err := e.encodeFunc(fn)
		if err != nil {
			return nil, err
		}
		code = append(code, withLength(body)...)
	}
	dispatch, err := e.encodeDispatch()
	if err != nil {
		return nil, err
	}
	code = append(code, withLength(dispatch)...)
	out = section(out, secCode, code)

	return out, nil
}

func appendName(buf []byte, name string) []byte {
	buf = putULEB128(buf, uint64(len(name)))
	return append(buf, name...)
}

// encodeFunc encodes one block function's local declarations and body.
func (e *encoder) encodeFunc(fn *wasmir.Func) ([]byte, error) {
	var out []byte
	if fn.NumLocals == 0 {
		out = putULEB128(out, 0)
	} else {
		out = putULEB128(out, 1)
		out = putULEB128(out, uint64(fn.NumLocals))
		out = append(out, valI64)
	}
	body, err := e.encodeBody(fn.Body)
	if err != nil {
		return nil, err
	}
	out = append(out, body...)
	out = append(out, 0x0B) // end
	return out, nil
}

// encodeDispatch emits function index numBlocks+1: a linear chain of
// `local.get 0; i32.const addr; i32.eq; if (result i32) call blockFn
// else ...` comparisons ending in a region-miss return, matching the
// block-index lookup internal/jit.Interpreter.Dispatch performs when
// interpreting the IR directly.
func (e *encoder) encodeDispatch() ([]byte, error) {
	var out []byte
	out = putULEB128(out, 0) // no locals beyond the two params

	addrs := make([]uint64, len(e.module.Blocks))
	for addr, idx := range e.module.BlockIndex {
		addrs[idx] = addr
	}

	// The param is i32 (pc) while block addresses are 64-bit guest
	// addresses; real guest code never exceeds 32-bit addressable space
	// in this emulator's 2 GiB arena, so pc fits in i32 and no widening
	// is required here.
	for i, addr := range addrs {
		out = append(out, 0x20, 0x00) // local.get 0 (pc)
		out = append(out, 0x41)       // i32.const
		out = putSLEB128(out, int64(int32(addr)))
		out = append(out, 0x46)       // i32.eq
		out = append(out, 0x04, 0x7F) // if (result i32)
		out = append(out, 0x20, 0x01) // local.get 1 (state_ptr)
		out = append(out, 0x10)       // call
		out = putULEB128(out, uint64(i+1))
		out = append(out, 0x05) // else
	}
	// region-miss fallback: high bit | pc
	out = append(out, 0x20, 0x00) // local.get 0
	out = append(out, 0x41)
	out = putSLEB128(out, int64(int32(wasmir.CodeRegionMiss)))
	out = append(out, 0x72) // i32.or
	for range addrs {
		out = append(out, 0x0B) // end (close each if)
	}
	out = append(out, 0x0B) // end (function body)
	return out, nil
}

// encodeBody encodes a flat Inst slice. Block/Loop/BrIf/Br/End map
// directly onto their Wasm equivalents in the single-nesting-level
// shape lowerTerminator produces: a block opened, one br_if guarding
// the fallthrough path, and end closing it.
func (e *encoder) encodeBody(body []wasmir.Inst) ([]byte, error) {
	var out []byte
	for _, inst := range body {
		switch inst.Op {
		case wasmir.OpUnreachable:
			out = append(out, 0x00)
		case wasmir.OpConstI32:
			out = append(out, 0x41)
			out = putSLEB128(out, inst.ConstI64)
		case wasmir.OpConstI64:
			out = append(out, 0x42)
			out = putSLEB128(out, inst.ConstI64)
		case wasmir.OpLocalGet:
			out = append(out, 0x20)
			out = putULEB128(out, uint64(inst.Local))
		case wasmir.OpLocalSet:
			out = append(out, 0x21)
			out = putULEB128(out, uint64(inst.Local))
		case wasmir.OpLocalTee:
			out = append(out, 0x22)
			out = putULEB128(out, uint64(inst.Local))
		case wasmir.OpLoad:
			out = append(out, loadOpcode(inst.Width, inst.Sign))
			out = putULEB128(out, 0) // align
			out = putULEB128(out, uint64(inst.Offset))
		case wasmir.OpStore:
			out = append(out, storeOpcode(inst.Width))
			out = putULEB128(out, 0)
			out = putULEB128(out, uint64(inst.Offset))
		case wasmir.OpAdd:
			out = append(out, 0x7C)
		case wasmir.OpSub:
			out = append(out, 0x7D)
		case wasmir.OpMul:
			out = append(out, 0x7E)
		case wasmir.OpDivS:
			out = append(out, 0x7F)
		case wasmir.OpDivU:
			out = append(out, 0x80)
		case wasmir.OpRemS:
			out = append(out, 0x81)
		case wasmir.OpRemU:
			out = append(out, 0x82)
		case wasmir.OpAnd:
			out = append(out, 0x83)
		case wasmir.OpOr:
			out = append(out, 0x84)
		case wasmir.OpXor:
			out = append(out, 0x85)
		case wasmir.OpShl:
			out = append(out, 0x86)
		case wasmir.OpShrS:
			out = append(out, 0x87)
		case wasmir.OpShrU:
			out = append(out, 0x88)
		case wasmir.OpEq:
			out = append(out, 0x51)
		case wasmir.OpNe:
			out = append(out, 0x52)
		case wasmir.OpLtS:
			out = append(out, 0x53)
		case wasmir.OpLtU:
			out = append(out, 0x54)
		case wasmir.OpGeS:
			out = append(out, 0x59)
		case wasmir.OpGeU:
			out = append(out, 0x5A)
		case wasmir.OpBlock:
			out = append(out, 0x02, 0x40) // block (no result)
		case wasmir.OpLoop:
			out = append(out, 0x03, 0x40)
		case wasmir.OpBr:
			out = append(out, 0x0C, 0x00)
		case wasmir.OpBrIf:
			out = append(out, 0x0D, 0x00)
		case wasmir.OpEnd:
			out = append(out, 0x0B)
		case wasmir.OpDrop:
			out = append(out, 0x1A)
		case wasmir.OpReturn:
			out = append(out, 0x0F)
		case wasmir.OpCall:
			out = append(out, 0x10)
			out = putULEB128(out, uint64(inst.FuncIndex))
		default:
			return nil, fmt.Errorf("wasmenc: unsupported IR op %v", inst.Op)
		}
	}
	return out, nil
}

func loadOpcode(w wasmir.Width, sign wasmir.Signedness) byte {
	switch w {
	case wasmir.W8:
		if sign == wasmir.Signed {
			return 0x30
		}
		return 0x31
	case wasmir.W16:
		if sign == wasmir.Signed {
			return 0x32
		}
		return 0x33
	case wasmir.W32:
		if sign == wasmir.Signed {
			return 0x34
		}
		return 0x35
	default:
		return 0x29 // i64.load
	}
}

func storeOpcode(w wasmir.Width) byte {
	switch w {
	case wasmir.W8:
		return 0x3C
	case wasmir.W16:
		return 0x3D
	case wasmir.W32:
		return 0x3E
	default:
		return 0x37 // i64.store
	}
}
