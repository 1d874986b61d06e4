package wasmir

import "github.com/maceip/friscy-sub000/internal/decode"

// Tier is a CompiledRegion's compilation quality level, per spec.md's
// glossary entry: baseline trades code quality for compile latency,
// optimized spends more compile time running the peephole passes once
// over each block, and compat names the single-stage legacy shape
// SPEC_FULL.md's Open Question 2 resolution says new regions never
// emit (kept only so the type names the full spec vocabulary).
type Tier int

const (
	TierBaseline Tier = iota
	TierOptimized
	TierCompat
)

func (t Tier) String() string {
	switch t {
	case TierOptimized:
		return "optimized"
	case TierCompat:
		return "compat"
	default:
		return "baseline"
	}
}

// Module is a translated region: one Wasm function per basic block plus
// the block-address index the region's single `run` export uses to
// route an incoming PC to the right block, per spec.md §4.4.
type Module struct {
	RegionBase uint64
	Tier       Tier
	Blocks     []*Func
	// BlockIndex maps a guest block-start address to its index in
	// Blocks, used both by the dispatch function's address-comparison
	// chain and by the interpreter that executes this module's IR
	// directly (see internal/jit, which interprets the IR rather than
	// depending on an external Wasm engine — no such
	// engine is grounded anywhere in the example pack).
	BlockIndex map[uint64]int
}

// BuildModule lowers every block in blocks (as produced by
// decode.BuildRegion) into the Wasm IR, producing one region Module
// with a dispatch table keyed by guest address. tier TierOptimized runs
// the peephole passes (register-file store/reload folding, constant
// folding, dead-store elimination); tier TierBaseline skips them,
// trading code quality for the faster compile spec.md's Promotion
// bullet expects from the first, on-demand compile of a hot region.
func BuildModule(regionBase uint64, blocks map[uint64]*decode.BasicBlock, tier Tier) (*Module, error) {
	m := &Module{RegionBase: regionBase, Tier: tier, BlockIndex: map[uint64]int{}}
	// Deterministic order (ascending address) keeps the encoded module
	// byte-stable across runs for the same region, which the
	// differential cosimulation test in spec.md §8 depends on.
	addrs := sortedAddrs(blocks)
	for _, addr := range addrs {
		block := blocks[addr]
		fn, err := LowerBlock(block, 0)
		if err != nil {
			return nil, err
		}
		if tier == TierOptimized {
			Optimize(fn)
		}
		m.BlockIndex[addr] = len(m.Blocks)
		m.Blocks = append(m.Blocks, fn)
	}
	return m, nil
}

func sortedAddrs(blocks map[uint64]*decode.BasicBlock) []uint64 {
	addrs := make([]uint64, 0, len(blocks))
	for a := range blocks {
		addrs = append(addrs, a)
	}
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && addrs[j-1] > addrs[j]; j-- {
			addrs[j-1], addrs[j] = addrs[j], addrs[j-1]
		}
	}
	return addrs
}
