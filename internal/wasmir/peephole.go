package wasmir

// Peephole passes over a function body, per spec.md §4.4. Each pass is
// idempotent; Optimize runs all four in the documented order and is
// safe to call more than once. Passes that need a scratch local
// allocate it just past the last declared local (index fn.NumLocals+1,
// since local 0 is the state pointer) and raise fn.NumLocals so the
// encoder's local count stays correct.

// Optimize applies all four peephole passes to fn in place and returns
// fn for chaining.
func Optimize(fn *Func) *Func {
	fn.Body = foldStoreReload(fn)
	fn.Body = foldStatePointerReads(fn)
	fn.Body = foldConstants(fn.Body)
	fn.Body = eliminateDeadStores(fn.Body)
	return fn
}

// foldStoreReload implements pass 1: a store to a register-file offset
// immediately followed (with nothing else touching that offset in
// between) by a load from the same offset is replaced by a tee on the
// stored value plus a local.get, avoiding the redundant memory
// round-trip. The pass only matches the exact triple the register-
// caching epilogue/prologue boundary produces — [LocalGet(base),
// value, Store(off, w)] directly followed by [LocalGet(base), Load(off,
// w, sign)] — since that is the only shape this translator ever emits
// adjacent store/reload pairs in.
func foldStoreReload(fn *Func) []Inst {
	body := fn.Body
	out := make([]Inst, 0, len(body))
	scratch := fn.NumLocals + 1 // next free local index (locals 1..NumLocals are taken), allocated lazily on first fold
	usedScratch := false

	for i := 0; i < len(body); i++ {
		// Match [LocalGet(base), value, Store(off,w)] immediately
		// followed by [LocalGet(base'), Load(off,w,sign)] with base ==
		// base'. This is the single-instruction-address shape the
		// register-caching prologue/epilogue always produces (the
		// state pointer is never recomputed, only fetched via
		// LocalGet(0)); general guest-memory stores compute a
		// multi-instruction address and never match here.
		if i+4 < len(body) &&
			body[i].Op == OpLocalGet &&
			body[i+2].Op == OpStore &&
			body[i+3].Op == OpLocalGet && body[i+3].Local == body[i].Local &&
			body[i+4].Op == OpLoad &&
			body[i+4].Offset == body[i+2].Offset && body[i+4].Width == body[i+2].Width {
			out = append(out,
				body[i],           // base
				body[i+1],         // value
				LocalTee(scratch), // tee while leaving the value on the stack for the store
				body[i+2],         // store, consuming (base, value) as before
				LocalGet(scratch), // reload replaced by the teed value
			)
			usedScratch = true
			i += 4
			continue
		}
		out = append(out, body[i])
	}
	if usedScratch {
		fn.NumLocals = scratch
	}
	return out
}

// foldStatePointerReads implements pass 2: a LocalGet(0) (the state
// pointer) immediately followed by another LocalGet(0) with nothing in
// between collapses to a single get (the value is already on the
// stack); this only ever arises from mechanical code generation that
// re-fetches the base pointer for two unrelated accesses placed back
// to back.
func foldStatePointerReads(fn *Func) []Inst {
	body := fn.Body
	out := make([]Inst, 0, len(body))
	for i := 0; i < len(body); i++ {
		if i+1 < len(body) && body[i].Op == OpLocalGet && body[i].Local == 0 &&
			body[i+1].Op == OpLocalGet && body[i+1].Local == 0 {
			out = append(out, body[i])
			i++ // drop the second, redundant get
			continue
		}
		out = append(out, body[i])
	}
	return out
}

// foldConstants implements pass 3: const, const, binop folds to a
// single const for integer add/sub/and/or/xor/shl/shr(s|u). Never folds
// floating point — this IR has no floating-point ops at all (the
// decoder falls through to OpUnknown for F-extension instructions), so
// the restriction holds vacuously.
func foldConstants(body []Inst) []Inst {
	out := make([]Inst, 0, len(body))
	for i := 0; i < len(body); i++ {
		if i+2 < len(body) &&
			body[i].Op == OpConstI64 && body[i+1].Op == OpConstI64 &&
			isFoldableBinOp(body[i+2].Op) {
			folded, ok := foldBinOp(body[i+2].Op, body[i].ConstI64, body[i+1].ConstI64)
			if ok {
				out = append(out, ConstI64(folded))
				i += 2
				continue
			}
		}
		out = append(out, body[i])
	}
	return out
}

func isFoldableBinOp(op Op) bool {
	switch op {
	case OpAdd, OpSub, OpAnd, OpOr, OpXor, OpShl, OpShrS, OpShrU:
		return true
	default:
		return false
	}
}

func foldBinOp(op Op, a, b int64) (int64, bool) {
	switch op {
	case OpAdd:
		return a + b, true
	case OpSub:
		return a - b, true
	case OpAnd:
		return a & b, true
	case OpOr:
		return a | b, true
	case OpXor:
		return a ^ b, true
	case OpShl:
		return a << uint(b&63), true
	case OpShrS:
		return a >> uint(b&63), true
	case OpShrU:
		return int64(uint64(a) >> uint(b&63)), true
	default:
		return 0, false
	}
}

// eliminateDeadStores implements pass 4: within a block, if the same
// register-file offset is stored twice with no intervening load from
// that offset, the earlier store is dead. Only applies to stores whose
// offset falls inside the 32x8-byte register file and whose address
// was pushed by the mechanical "LocalGet(0), value, Store" triple the
// register-caching pass emits, so removal never disturbs an unrelated
// stack shape (general guest-memory stores always recompute their
// address on the stack immediately before the Store and are left
// alone here since their live range can't be proven local-only).
func eliminateDeadStores(body []Inst) []Inst {
	const registerFileBytes = 32 * 8

	isRegStoreTriple := func(i int) bool {
		return i >= 2 && body[i].Op == OpStore && body[i].Width == W64 &&
			body[i].Offset < registerFileBytes &&
			body[i-2].Op == OpLocalGet && body[i-2].Local == 0
	}

	redundant := make([]bool, len(body))
	liveOffset := map[uint32]bool{}
	for i := len(body) - 1; i >= 0; i-- {
		inst := body[i]
		if inst.Op == OpLoad {
			delete(liveOffset, inst.Offset)
			continue
		}
		if !isRegStoreTriple(i) {
			continue
		}
		if liveOffset[inst.Offset] {
			redundant[i] = true
			redundant[i-1] = true
			redundant[i-2] = true
		}
		liveOffset[inst.Offset] = true
	}

	out := make([]Inst, 0, len(body))
	for i, inst := range body {
		if redundant[i] {
			continue
		}
		out = append(out, inst)
	}
	return out
}
