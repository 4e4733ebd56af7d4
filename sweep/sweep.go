// Package sweep implements the sweeper and compactor (C12): a resumable
// sweep over every kind's tenured regions, background finalization for
// thread-safe finalizers, and region-granularity compaction with a
// priority-ordered edge rewrite pass.
package sweep

import (
	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/region"
	"github.com/grailbio/gc/zone"
)

// ZoneHeap is the per-zone collaborator the sweeper needs: access to a
// kind's tenured region set. Defined here (not imported from a higher
// package) so sweep has no dependency on the driver.
type ZoneHeap interface {
	TenuredSet(kind cell.Kind) *region.Set
}

// State is the sweeper's resume position, a (phase, zone, kind, region)
// tuple that the driver persists across a budget-exhausted slice (§4.12:
// "the (sweep_phase_index, sweep_zone, sweep_action_index) triple").
// RegionIdx is this implementation's finer-grained resumption point within
// one (phase, zone, kind) action, since regions rather than individual
// cells are the natural work-chunk here.
type State struct {
	Phase     int
	ZoneIdx   int
	KindIdx   int
	RegionIdx int
}

// Stats accumulates sweeper results across a sweep pass.
type Stats struct {
	Freed            int
	Finalized        int
	BackgroundQueued int
}

// Sweeper drains dead cells out of every kind's tenured regions, computing
// its action list once at construction (§4.12: "a list of phases of
// actions... computed at init"). Phase 0 sweeps kinds whose finalizer must
// run on the mutator thread; phase 1 sweeps background-finalizable kinds,
// handing dead cells to a BackgroundFinalizer instead of finalizing inline.
type Sweeper struct {
	phases     [][]cell.Kind
	state      State
	bg         *BackgroundFinalizer
	onFinalize func(*cell.Cell)
	onFree     func(zone.ID, *cell.Cell)
	atoms      *zone.AtomTable
	Stats      Stats
}

// NewSweeper builds the two sweep phases from the static kind table. bg is
// the destination for background-finalizable kinds' dead cells; onFinalize,
// if non-nil, is called synchronously for every foreground-finalized dead
// cell (§6 on_finalize). bg may be nil, in which case background-
// finalizable kinds are finalized inline through onFinalize too (acceptable
// degradation, used by tests and single-threaded embeddings).
func NewSweeper(bg *BackgroundFinalizer, onFinalize func(*cell.Cell)) *Sweeper {
	var fg, bgKinds []cell.Kind
	for k := cell.Kind(0); int(k) < cell.NumKinds; k++ {
		if cell.IsBackgroundFinalizable(k) {
			bgKinds = append(bgKinds, k)
		} else {
			fg = append(fg, k)
		}
	}
	return &Sweeper{phases: [][]cell.Kind{fg, bgKinds}, bg: bg, onFinalize: onFinalize}
}

// SetOnFree installs a callback invoked for every cell freed by a subsequent
// Step, with the zone id the cell's region belongs to. Used by driver.Heap
// to forget a freed cell's zone-local uid (§9 Open Question: the uid table
// must be updated before the cell's slot is reused, never after) before
// Step's own r.Free call hands the slot back to the allocator.
func (s *Sweeper) SetOnFree(fn func(zone.ID, *cell.Cell)) { s.onFree = fn }

// SetAtomTable installs the shared atoms zone. When set, an Atom/InlineAtom
// cell named by any zone's atom bitmap survives a sweep pass even if it was
// never colored black this cycle (I7, P5); nil falls back to plain coloring
// for atom kinds too.
func (s *Sweeper) SetAtomTable(t *zone.AtomTable) { s.atoms = t }

// Reset rewinds the sweeper to the start of a fresh pass and clears Stats.
func (s *Sweeper) Reset() {
	s.state = State{}
	s.Stats = Stats{}
}

// Done reports whether the current pass has swept every phase/zone/kind.
func (s *Sweeper) Done() bool { return s.state.Phase >= len(s.phases) }

// Step sweeps up to budget regions (one region is this sweeper's work unit)
// across zones, in the order given by zones (the scheduler's sweep-group
// order, flattened; P4 requires the caller not to include a zone whose
// sweep-group successors have not already been swept). heapOf resolves a
// zone id to its region-set accessor. It returns the unspent budget and
// whether the whole pass is now Done.
func (s *Sweeper) Step(zones []zone.ID, heapOf func(zone.ID) ZoneHeap, budget int) (remaining int, done bool) {
	for budget > 0 {
		if s.state.Phase >= len(s.phases) {
			return budget, true
		}
		kinds := s.phases[s.state.Phase]
		if len(kinds) == 0 || s.state.KindIdx >= len(kinds) {
			s.state.Phase++
			s.state.KindIdx, s.state.ZoneIdx, s.state.RegionIdx = 0, 0, 0
			continue
		}
		if s.state.ZoneIdx >= len(zones) {
			s.state.KindIdx++
			s.state.ZoneIdx, s.state.RegionIdx = 0, 0
			continue
		}
		heap := heapOf(zones[s.state.ZoneIdx])
		set := heap.TenuredSet(kinds[s.state.KindIdx])
		regions := set.Regions()
		if s.state.RegionIdx >= len(regions) {
			s.state.ZoneIdx++
			s.state.RegionIdx = 0
			continue
		}
		s.sweepRegion(zones[s.state.ZoneIdx], regions[s.state.RegionIdx], s.state.Phase == 1)
		s.state.RegionIdx++
		budget--
	}
	return budget, s.state.Phase >= len(s.phases)
}

// sweepRegion frees every dead (non-black) cell in r and unmarks every
// surviving (black) cell back to white for the next cycle (I1's per-slice
// reset). Dead background-finalizable cells are handed to bg instead of
// finalized inline.
func (s *Sweeper) sweepRegion(zoneID zone.ID, r *region.Region, background bool) {
	for it := r.First(); !it.Done(); {
		c := it.Cell()
		idx := it.Index()
		it.Next()
		alive := cell.GetColor(c) == cell.Black
		if !alive && s.atoms != nil && cell.IsAtomKind(c.Kind()) {
			if id, ok := s.atoms.IDOf(c); ok {
				alive = s.atoms.Live(id)
			}
		}
		if alive {
			cell.SetColor(c, cell.White)
			continue
		}
		if background && s.bg != nil {
			s.bg.Enqueue(c)
			s.Stats.BackgroundQueued++
		} else {
			if s.onFinalize != nil {
				s.onFinalize(c)
			}
			s.Stats.Finalized++
		}
		if s.onFree != nil {
			s.onFree(zoneID, c)
		}
		r.Free(idx)
		s.Stats.Freed++
	}
}
