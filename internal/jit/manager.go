package jit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/maceip/friscy-sub000/internal/arena"
	"github.com/maceip/friscy-sub000/internal/decode"
	"github.com/maceip/friscy-sub000/internal/wasmenc"
	"github.com/maceip/friscy-sub000/internal/wasmir"
)

// maxCooldown and baseCooldown implement the exponential backoff a
// region's repeated compile failures accrue: min(120s, 2s*2^(n-1)),
// capped after 7 doublings.
const (
	baseCooldown    = 2 * time.Second
	maxCooldown     = 120 * time.Second
	maxCooldownStep = 7
)

// hotPageThreshold and hotRegionThreshold are the base execution counts
// a page/region must cross before it becomes compile-eligible; the
// effective threshold is adjusted by adaptiveThreshold below.
const (
	hotPageThreshold   = 32
	hotRegionThreshold = 64
)

// optimizeThreshold is the base hit count a baseline-tier region's own
// counter must cross before it is recompiled at TierOptimized, per
// spec.md §4.5's Promotion bullet (default 200).
const optimizeThreshold = 200

// predictorTopK bounds how many Markov-predicted successor regions
// maybePrefetchLocked submits per compile completion, per spec.md
// §4.5's Predictor bullet (default 2).
const predictorTopK = 2

// pairKey identifies a second-order Markov row: the two regions
// entered immediately before the one whose successors are tallied.
type pairKey struct{ prev, last uint64 }

// regionState tracks one region's compilation lifecycle.
type regionState struct {
	hits        uint64
	compiled    *wasmir.Module
	tier        wasmir.Tier
	compiling   bool
	failures    int
	cooldownEnd time.Time
	// predicted marks a region enqueued by maybePrefetchLocked ahead of
	// any guest PC inside it being executed; RecordFetch clears it and
	// counts a predictor hit on the first fetch that lands inside, and
	// Invalidate counts a predictor miss if it is dropped unhit.
	predicted bool
}

// Manager is the JIT scheduler: it tallies per-page and per-region
// execution heat, predicts the next region from observed transitions,
// and drives a bounded-concurrency compile pool under a token-bucket
// budget. Grounded on the teacher's internal/asm/amd64.Compile
// (synchronous compile-on-demand) generalized into an async, budgeted,
// failure-tolerant scheduler, since no JIT-management library exists
// anywhere in the example pack.
type Manager struct {
	mu      sync.Mutex
	regions map[uint64]*regionState
	pageHot map[uint64]uint64

	// transitions[a][b] counts how often region b was entered directly
	// after region a, the first-order Markov table driving speculative
	// precompilation of likely-next regions.
	transitions map[uint64]map[uint64]uint32
	// transitions2[{a,b}][c] is the second-order variant: how often c
	// was entered directly after the pair a, b, per spec.md §4.5's
	// trace-prediction bullet.
	transitions2           map[pairKey]map[uint64]uint32
	prevRegion, lastRegion uint64

	predictorHits   atomicbitops.Uint64
	predictorMisses atomicbitops.Uint64

	dirty atomicbitops.Uint64 // count of regions invalidated (Reset leaves it), feeds adaptiveThreshold's miss-rate term

	limiter *rate.Limiter
	sem     *semaphore.Weighted
	group   *errgroup.Group
	groupCtx context.Context

	a          *arena.Arena
	interp     *Interpreter
	reader     decode.ByteReader
	queueDepth atomicbitops.Int32

	// hotPageThreshold and hotRegionThreshold override the package
	// defaults of the same name when non-zero, for callers (the CLI's
	// -hot-threshold/-optimize-threshold flags) that want to tune how
	// eagerly regions become compile-eligible.
	hotPageThreshold   uint64
	hotRegionThreshold uint64
}

// SetThresholds overrides the base page/region hit counts that feed
// shouldCompileLocked's adaptive formula. Zero leaves the package
// default (hotPageThreshold/hotRegionThreshold) in place.
func (m *Manager) SetThresholds(pageThreshold, regionThreshold uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotPageThreshold = pageThreshold
	m.hotRegionThreshold = regionThreshold
}

func (m *Manager) basePageThreshold() uint64 {
	if m.hotPageThreshold != 0 {
		return m.hotPageThreshold
	}
	return hotPageThreshold
}

func (m *Manager) baseRegionThreshold() uint64 {
	if m.hotRegionThreshold != 0 {
		return m.hotRegionThreshold
	}
	return hotRegionThreshold
}

// NewManager builds a Manager over the given arena, compiling regions
// found via reader (ordinarily the same *arena.Arena) and executing
// them with an Interpreter wired to syscall.
func NewManager(a *arena.Arena, syscall SyscallFunc, compilesPerSecond float64, maxConcurrentCompiles int64) *Manager {
	g, ctx := errgroup.WithContext(context.Background())
	return &Manager{
		regions:      map[uint64]*regionState{},
		pageHot:      map[uint64]uint64{},
		transitions:  map[uint64]map[uint64]uint32{},
		transitions2: map[pairKey]map[uint64]uint32{},
		limiter:      rate.NewLimiter(rate.Limit(compilesPerSecond), int(maxConcurrentCompiles)+1),
		sem:         semaphore.NewWeighted(maxConcurrentCompiles),
		group:       g,
		groupCtx:    ctx,
		a:           a,
		interp:      NewInterpreter(a, syscall),
		reader:      a,
	}
}

// RecordFetch tallies one instruction fetch at addr, bumping its page
// and region heat, and records the region-to-region transition used
// for speculative compilation of likely-next regions, submitting the
// region at addr for compilation once it is hot enough. It returns
// nothing: heat only gates async compilation, never execution, and the
// caller gets the result from Lookup/Dispatch either way.
func (m *Manager) RecordFetch(addr uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := addr &^ (arena.PageSize - 1)
	m.pageHot[page]++

	region := decode.RegionOf(addr)
	st := m.regions[region]
	if st == nil {
		st = &regionState{}
		m.regions[region] = st
	}
	st.hits++
	if st.predicted {
		m.predictorHits.Add(1)
		st.predicted = false
	}

	if m.lastRegion != 0 && m.lastRegion != region {
		row := m.transitions[m.lastRegion]
		if row == nil {
			row = map[uint64]uint32{}
			m.transitions[m.lastRegion] = row
		}
		row[region]++

		if m.prevRegion != 0 {
			key := pairKey{m.prevRegion, m.lastRegion}
			row2 := m.transitions2[key]
			if row2 == nil {
				row2 = map[uint64]uint32{}
				m.transitions2[key] = row2
			}
			row2[region]++
		}
		m.prevRegion = m.lastRegion
	}
	m.lastRegion = region

	switch {
	case st.compiled == nil:
		if m.shouldCompileLocked(region, st, page) {
			m.submitCompileLocked(region, wasmir.TierBaseline)
		}
	case st.tier == wasmir.TierBaseline:
		if m.shouldPromoteLocked(st) {
			m.submitCompileLocked(region, wasmir.TierOptimized)
		}
	}
}

// PredictorStats reports the running predictor-hit/predictor-miss
// counters from spec.md §4.5's Predictor bullet, for the CLI's
// diagnostic output.
func (m *Manager) PredictorStats() (hits, misses uint64) {
	return m.predictorHits.Load(), m.predictorMisses.Load()
}

// adaptiveThreshold implements the confidence formula
// clamp(base + queue_pressure*0.25 - min(0.5, miss_rate)*0.2, 0.15, 0.95)
// applied here as a multiplier on the base hit thresholds: a deeper
// compile queue raises the bar (avoid flooding the pool further), a
// higher recent invalidation rate lowers it (prior compiles are being
// thrown away, so compile sooner to recoup less work per attempt).
func (m *Manager) adaptiveThreshold() float64 {
	const base = 0.5
	queuePressure := float64(m.queueDepth.Load()) / 8.0
	if queuePressure > 1 {
		queuePressure = 1
	}
	missRate := float64(m.dirty.Load()%100) / 100.0
	if missRate > 0.5 {
		missRate = 0.5
	}
	v := base + queuePressure*0.25 - missRate*0.2
	if v < 0.15 {
		v = 0.15
	}
	if v > 0.95 {
		v = 0.95
	}
	return v
}

func (m *Manager) shouldCompileLocked(region uint64, st *regionState, page uint64) bool {
	if st.compiled != nil || st.compiling {
		return false
	}
	if !st.cooldownEnd.IsZero() && time.Now().Before(st.cooldownEnd) {
		return false
	}
	threshold := m.adaptiveThreshold()
	pageThreshold := uint64(float64(m.basePageThreshold()) * threshold * 2)
	regionThreshold := uint64(float64(m.baseRegionThreshold()) * threshold * 2)
	return m.pageHot[page] >= pageThreshold || st.hits >= regionThreshold
}

// shouldPromoteLocked reports whether a compiled baseline region's own
// hit count has crossed the adaptively scaled optimizeThreshold,
// triggering an optimized recompile per spec.md §4.5's Promotion
// bullet. Must be called with m.mu held.
func (m *Manager) shouldPromoteLocked(st *regionState) bool {
	if st.compiling {
		return false
	}
	if !st.cooldownEnd.IsZero() && time.Now().Before(st.cooldownEnd) {
		return false
	}
	threshold := uint64(float64(optimizeThreshold) * m.adaptiveThreshold() * 2)
	return st.hits >= threshold
}

// submitCompileLocked enqueues an async compile of region at tier,
// respecting the token-bucket budget and bounded concurrency. Must be
// called with m.mu held; it marks st.compiling before releasing the
// lock so a concurrent RecordFetch doesn't double-submit.
func (m *Manager) submitCompileLocked(region uint64, tier wasmir.Tier) {
	st := m.regions[region]
	st.compiling = true
	m.queueDepth.Add(1)

	m.group.Go(func() error {
		defer func() {
			m.queueDepth.Add(-1)
		}()
		if err := m.limiter.Wait(m.groupCtx); err != nil {
			return nil
		}
		if err := m.sem.Acquire(m.groupCtx, 1); err != nil {
			return nil
		}
		defer m.sem.Release(1)

		module, err := m.compileRegion(region, tier)

		m.mu.Lock()
		defer m.mu.Unlock()
		st.compiling = false
		if err != nil {
			st.failures++
			step := st.failures
			if step > maxCooldownStep {
				step = maxCooldownStep
			}
			backoff := baseCooldown * time.Duration(1<<uint(step-1))
			if backoff > maxCooldown {
				backoff = maxCooldown
			}
			st.cooldownEnd = time.Now().Add(backoff)
			return nil
		}
		st.compiled = module
		st.tier = tier
		st.failures = 0
		m.maybePrefetchLocked(region)
		return nil
	})
}

// maybePrefetchLocked speculatively submits up to predictorTopK
// observed successors of region for baseline compilation, per spec.md
// §4.5's Predictor bullet: candidates are ranked by confidence
// (count / row-sum), boosted 10% when the same target also shows up in
// the second-order table keyed on the pair of regions entered just
// before region, and only submitted once confidence clears the
// adaptive threshold. Must be called with m.mu held.
func (m *Manager) maybePrefetchLocked(region uint64) {
	row := m.transitions[region]
	if len(row) == 0 {
		return
	}
	var rowSum uint32
	for _, count := range row {
		rowSum += count
	}
	if rowSum == 0 {
		return
	}

	var second map[uint64]uint32
	if m.lastRegion == region {
		second = m.transitions2[pairKey{m.prevRegion, region}]
	}

	confidence := make(map[uint64]float64, len(row))
	for target, count := range row {
		c := float64(count) / float64(rowSum)
		if second[target] > 0 {
			c *= 1.10
		}
		confidence[target] = c
	}

	threshold := m.adaptiveThreshold()
	taken := 0
	for taken < predictorTopK {
		var best uint64
		var bestConfidence float64 = -1
		for target, c := range confidence {
			if c > bestConfidence {
				best, bestConfidence = target, c
			}
		}
		if bestConfidence < 0 || bestConfidence < threshold {
			// The remaining candidates can only score lower than the
			// current max, so none of them clear the bar either.
			return
		}
		delete(confidence, best)
		st := m.regions[best]
		if st == nil {
			st = &regionState{}
			m.regions[best] = st
		}
		if st.compiled != nil || st.compiling {
			continue
		}
		st.predicted = true
		m.submitCompileLocked(best, wasmir.TierBaseline)
		taken++
	}
}

// compileRegion decodes the CFG rooted at region and lowers it to a
// wasmir.Module at the given tier. The root set is just the region
// base; BuildRegion discovers the rest by following branch/jump
// successors within the region and stubbing any address that falls
// outside it.
func (m *Manager) compileRegion(region uint64, tier wasmir.Tier) (*wasmir.Module, error) {
	blocks, err := decode.BuildRegion(m.reader, []uint64{region})
	if err != nil {
		return nil, err
	}
	return wasmir.BuildModule(region, blocks, tier)
}

// Lookup returns the compiled module covering addr's region, if any.
func (m *Manager) Lookup(addr uint64) (*wasmir.Module, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.regions[decode.RegionOf(addr)]
	if st == nil || st.compiled == nil {
		return nil, false
	}
	return st.compiled, true
}

// Export serializes the compiled module covering addr into a standalone
// binary Wasm module via wasmenc.Encode, for the CLI's -dump-region
// debug flag and for spec.md §8's differential-cosimulation tests that
// want a byte-stable artifact of one region's translation. Returns
// false if no module is compiled for that region yet.
func (m *Manager) Export(addr uint64) ([]byte, bool, error) {
	module, ok := m.Lookup(addr)
	if !ok {
		return nil, false, nil
	}
	data, err := wasmenc.Encode(module)
	if err != nil {
		return nil, true, err
	}
	return data, true, nil
}

// Dispatch runs the compiled region covering pc, recording the fetch
// for heat tracking first. ExecutionLoop calls this on every attempted
// entry; a false return means there is no compiled region yet and the
// caller should fall back to the slow per-instruction interpreter.
func (m *Manager) Dispatch(pc uint64) (Result, bool, error) {
	m.RecordFetch(pc)
	module, ok := m.Lookup(pc)
	if !ok {
		return Result{}, false, nil
	}
	res, err := m.interp.Dispatch(module, pc)
	return res, true, err
}

// Invalidate drops any compiled module overlapping [addr, addr+len)
// and resets that region's heat, in response to a write-over-exec
// page-attribute transition the Arena reports via its invalidate
// callback. It also prunes every Markov row/column referring to an
// invalidated region, per spec.md §4.5's Invalidation bullet, so a
// later prediction never speculatively recompiles a region whose
// guest code just changed underneath it.
func (m *Manager) Invalidate(addr, length uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := decode.RegionOf(addr)
	last := decode.RegionOf(addr + length - 1)
	for r := first; r <= last; r += decode.RegionSize {
		if st, ok := m.regions[r]; ok {
			st.compiled = nil
			st.tier = wasmir.TierBaseline
			st.hits = 0
			if st.predicted {
				m.predictorMisses.Add(1)
				st.predicted = false
			}
			m.dirty.Add(1)
		}
		m.pruneTransitionsLocked(r)
	}
}

// pruneTransitionsLocked removes every first- and second-order Markov
// entry that mentions region r, as either the source or the predicted
// target. Must be called with m.mu held.
func (m *Manager) pruneTransitionsLocked(r uint64) {
	delete(m.transitions, r)
	for _, row := range m.transitions {
		delete(row, r)
	}
	for key, row := range m.transitions2 {
		if key.prev == r || key.last == r {
			delete(m.transitions2, key)
			continue
		}
		delete(row, r)
	}
	if m.lastRegion == r {
		m.lastRegion = 0
	}
	if m.prevRegion == r {
		m.prevRegion = 0
	}
}

// Reset clears all compiled regions and heat counters, for execve
// reloading a new program image into the same arena.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = map[uint64]*regionState{}
	m.pageHot = map[uint64]uint64{}
	m.transitions = map[uint64]map[uint64]uint32{}
	m.transitions2 = map[pairKey]map[uint64]uint32{}
	m.lastRegion = 0
	m.prevRegion = 0
}

// Wait blocks until all outstanding compile tasks finish, used by
// tests and by a clean shutdown path.
func (m *Manager) Wait() error {
	return m.group.Wait()
}
