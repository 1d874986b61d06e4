package jit

import (
	"testing"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/decode"
	"github.com/maceip/friscy-sub000/internal/wasmir"
)

func newTestManager(t *testing.T) (*Manager, *arena.Arena) {
	t.Helper()
	a, err := arena.New(nil)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	noop := func(uint64, uint64) uint64 { return 0 }
	return NewManager(a, noop, 1000, 4), a
}

func TestManagerThresholdsDefaultAndOverride(t *testing.T) {
	m, _ := newTestManager(t)

	if got := m.basePageThreshold(); got != hotPageThreshold {
		t.Fatalf("basePageThreshold() = %d, want package default %d", got, hotPageThreshold)
	}
	if got := m.baseRegionThreshold(); got != hotRegionThreshold {
		t.Fatalf("baseRegionThreshold() = %d, want package default %d", got, hotRegionThreshold)
	}

	m.SetThresholds(8, 16)
	if got := m.basePageThreshold(); got != 8 {
		t.Fatalf("basePageThreshold() after SetThresholds = %d, want 8", got)
	}
	if got := m.baseRegionThreshold(); got != 16 {
		t.Fatalf("baseRegionThreshold() after SetThresholds = %d, want 16", got)
	}

	// Zero leaves the package default in place rather than disabling compilation.
	m.SetThresholds(0, 0)
	if got := m.basePageThreshold(); got != hotPageThreshold {
		t.Fatalf("basePageThreshold() after zero override = %d, want package default", got)
	}
}

func TestRecordFetchTracksHeatAndTransitions(t *testing.T) {
	m, _ := newTestManager(t)

	const base = arena.PageSize * 4
	region := decode.RegionOf(base)

	m.RecordFetch(base)
	m.RecordFetch(base + 8)

	m.mu.Lock()
	hits := m.regions[region].hits
	pageHot := m.pageHot[base&^(arena.PageSize-1)]
	m.mu.Unlock()

	if hits != 2 {
		t.Fatalf("region hits = %d, want 2", hits)
	}
	if pageHot != 2 {
		t.Fatalf("pageHot = %d, want 2", pageHot)
	}

	other := region + decode.RegionSize
	m.RecordFetch(other)

	m.mu.Lock()
	count := m.transitions[region][other]
	m.mu.Unlock()
	if count != 1 {
		t.Fatalf("transitions[region][other] = %d, want 1", count)
	}
}

func TestInvalidateClearsCompiledAndHeat(t *testing.T) {
	m, _ := newTestManager(t)

	const addr = arena.PageSize * 4
	region := decode.RegionOf(addr)

	m.mu.Lock()
	m.regions[region] = &regionState{hits: 5, compiled: &wasmir.Module{}}
	m.mu.Unlock()

	m.Invalidate(addr, 1)

	m.mu.Lock()
	st := m.regions[region]
	m.mu.Unlock()
	if st.compiled != nil || st.hits != 0 {
		t.Fatalf("Invalidate left compiled=%v hits=%d, want nil, 0", st.compiled, st.hits)
	}
}

func TestResetClearsAllState(t *testing.T) {
	m, _ := newTestManager(t)

	m.RecordFetch(arena.PageSize)
	m.RecordFetch(arena.PageSize * 2)

	m.Reset()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.regions) != 0 || len(m.pageHot) != 0 || len(m.transitions) != 0 || m.lastRegion != 0 {
		t.Fatalf("Reset left state: regions=%d pageHot=%d transitions=%d lastRegion=%d",
			len(m.regions), len(m.pageHot), len(m.transitions), m.lastRegion)
	}
}

func TestLookupMissingRegionReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t)
	if _, ok := m.Lookup(arena.PageSize); ok {
		t.Fatalf("Lookup() on an untouched region reported compiled")
	}
}

func TestExportMissingRegionReturnsFalse(t *testing.T) {
	m, _ := newTestManager(t)
	data, ok, err := m.Export(arena.PageSize)
	if err != nil || ok || data != nil {
		t.Fatalf("Export() on an untouched region = %v, %v, %v, want nil, false, nil", data, ok, err)
	}
}

func TestRecordFetchPromotesBaselineToOptimized(t *testing.T) {
	m, _ := newTestManager(t)
	const region = arena.PageSize * 4

	m.mu.Lock()
	m.regions[region] = &regionState{compiled: &wasmir.Module{}, tier: wasmir.TierBaseline, hits: optimizeThreshold * 2}
	m.mu.Unlock()

	m.RecordFetch(region)

	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	m.mu.Lock()
	st := m.regions[region]
	m.mu.Unlock()
	if st.tier != wasmir.TierOptimized {
		t.Fatalf("tier = %v, want TierOptimized after crossing optimizeThreshold", st.tier)
	}
}

func TestMaybePrefetchLockedSubmitsHighConfidenceSuccessor(t *testing.T) {
	m, _ := newTestManager(t)
	const src = arena.PageSize * 4
	const dst = src + 16384 // one RegionSize away

	m.mu.Lock()
	m.transitions[src] = map[uint64]uint32{dst: 100}
	m.lastRegion = src
	m.maybePrefetchLocked(src)
	dstState := m.regions[dst]
	m.mu.Unlock()

	if dstState == nil || !dstState.predicted {
		t.Fatalf("expected the high-confidence successor to be marked predicted, got %+v", dstState)
	}
	if err := m.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestInvalidatePrunesTransitionsAndCountsPredictorMiss(t *testing.T) {
	m, _ := newTestManager(t)
	const a = arena.PageSize * 4
	const b = a + 16384

	m.mu.Lock()
	m.transitions[a] = map[uint64]uint32{b: 5}
	m.transitions[b] = map[uint64]uint32{a: 5}
	m.transitions2[pairKey{a, b}] = map[uint64]uint32{a: 2}
	m.regions[b] = &regionState{predicted: true}
	m.mu.Unlock()

	m.Invalidate(b, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transitions[b]; ok {
		t.Fatalf("transitions[b] row survived invalidation")
	}
	if _, ok := m.transitions[a][b]; ok {
		t.Fatalf("transitions[a][b] column survived invalidation")
	}
	if _, ok := m.transitions2[pairKey{a, b}]; ok {
		t.Fatalf("transitions2[{a,b}] row survived invalidation")
	}
	if hits, misses := m.predictorHits.Load(), m.predictorMisses.Load(); misses != 1 || hits != 0 {
		t.Fatalf("PredictorStats after dropping an unhit prediction = (%d, %d), want (0, 1)", hits, misses)
	}
}

func TestExportEncodesCompiledModule(t *testing.T) {
	m, _ := newTestManager(t)
	const region = arena.PageSize * 4

	m.mu.Lock()
	m.regions[region] = &regionState{compiled: &wasmir.Module{}}
	m.mu.Unlock()

	data, ok, err := m.Export(region)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !ok {
		t.Fatalf("Export() ok = false, want true for a compiled region")
	}
	if len(data) < 8 || data[0] != 0x00 || data[1] != 0x61 {
		t.Fatalf("Export() = % x, want a wasm-magic-prefixed module", data)
	}
}
