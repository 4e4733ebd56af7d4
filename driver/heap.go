package driver

import (
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"

	"github.com/grailbio/gc/alloc"
	"github.com/grailbio/gc/barrier"
	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/mark"
	"github.com/grailbio/gc/nursery"
	"github.com/grailbio/gc/roots"
	"github.com/grailbio/gc/storebuf"
	"github.com/grailbio/gc/sweep"
	"github.com/grailbio/gc/zone"
)

// compactionThreshold is the fragmentation ratio (§4.12's "typically the
// heaviest-fragmented regions") above which Compact bothers touching a
// kind's region set during the Compact state.
const compactionThreshold = 0.5

// storeBufferCapacity bounds the per-group store buffer before it forces an
// immediate minor GC (§4.7 overflow).
const storeBufferCapacity = 4096

// Heap is the root orchestrator (§6): one zone group's worth of allocator,
// nursery, roots, barriers, marker, sweeper and zone scheduler, wired
// together behind the small collaborator interfaces defined by alloc,
// barrier, storebuf, nursery and mark, so none of those packages needs to
// import this one.
type Heap struct {
	mu sync.Mutex

	state State
	zeal  Zeal

	nurseryGen *nursery.Nursery
	roots      *roots.Set
	storeBuf   *storebuf.Buffer
	barriers   *barrier.Barriers

	scheduler *zone.Scheduler
	groups    map[uint32]*zone.Group
	zones     map[zone.ID]*zone.Zone
	zoneGroup map[zone.ID]uint32
	allocs    map[zone.ID]*alloc.Allocator

	marker  *mark.Marker
	sweeper *sweep.Sweeper
	bg      *sweep.BackgroundFinalizer
	atoms   *zone.AtomTable

	weakMaps   []*mark.WeakMap
	sweepOrder []zone.ID

	finalizeFn func(*cell.Cell)
	onSlice    func(State)

	nextZoneID  zone.ID
	nextGroupID uint32
}

// NewHeap constructs an empty heap. nurseryCapacity and generational are
// forwarded to nursery.New (§4.8); generational=false disables the young
// generation entirely, forcing every allocation through the tenured path.
func NewHeap(nurseryCapacity int, generational bool) *Heap {
	h := &Heap{
		nurseryGen: nursery.New(nurseryCapacity, generational),
		roots:      roots.NewSet(),
		scheduler:  zone.NewScheduler(),
		groups:     make(map[uint32]*zone.Group),
		zones:      make(map[zone.ID]*zone.Zone),
		zoneGroup:  make(map[zone.ID]uint32),
		allocs:     make(map[zone.ID]*alloc.Allocator),
	}
	h.storeBuf = storebuf.New(storeBufferCapacity, h)
	h.barriers = barrier.New(h, h, h.storeBuf)
	h.marker = mark.New(h, 0)
	h.atoms = zone.NewAtomTable()
	h.marker.SetAtomRecorder(h.atoms)
	h.bg = sweep.NewBackgroundFinalizer(func(c *cell.Cell) {
		h.mu.Lock()
		fn := h.finalizeFn
		h.mu.Unlock()
		if fn != nil {
			fn(c)
		}
	})
	h.sweeper = sweep.NewSweeper(h.bg, func(c *cell.Cell) {
		if h.finalizeFn != nil {
			h.finalizeFn(c)
		}
	})
	h.sweeper.SetOnFree(func(id zone.ID, c *cell.Cell) {
		if z := h.zones[id]; z != nil {
			z.ForgetUID(c)
		}
	})
	h.sweeper.SetAtomTable(h.atoms)
	return h
}

// --- zone and group management (§3, §6) -----------------------------------

// NewGroup creates a new zone group and returns its id.
func (h *Heap) NewGroup() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextGroupID
	h.nextGroupID++
	h.groups[id] = zone.NewGroup(id)
	return id
}

// NewZone creates a zone within groupID, along with its own allocator, and
// returns its id.
func (h *Heap) NewZone(groupID uint32) zone.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[groupID]
	if !ok {
		log.Panicf("driver: NewZone for unknown group %d", groupID)
	}
	id := h.nextZoneID
	h.nextZoneID++
	z := zone.New(id)
	g.AddZone(z)
	h.zones[id] = z
	h.zoneGroup[id] = groupID
	h.scheduler.EnsureZone(id)
	h.allocs[id] = alloc.New(h.nurseryGen, h, h, id)
	return id
}

// NewCompartment creates a compartment within zoneID (§3 Compartment).
func (h *Heap) NewCompartment(zoneID zone.ID) *zone.Compartment {
	h.mu.Lock()
	defer h.mu.Unlock()
	z, ok := h.zones[zoneID]
	if !ok {
		log.Panicf("driver: NewCompartment for unknown zone %d", zoneID)
	}
	return z.NewCompartment()
}

// Evict immediately decommits zoneID's empty tenured regions across every
// kind, bypassing the normal collection cycle (§6 evict, for a caller under
// acute memory pressure that cannot wait for the next slice).
func (h *Heap) Evict(zoneID zone.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.allocs[zoneID]
	if !ok {
		return 0
	}
	freed := 0
	for k := cell.Kind(0); int(k) < cell.NumKinds; k++ {
		freed += a.TenuredSet(k).RemoveEmpty()
	}
	return freed
}

// --- mark.ZoneLocator -------------------------------------------------------
//
// These three methods are only ever called from inside the marker, which in
// turn is only ever driven (TraceRoots, Drain, DrainIncomingGray) while the
// caller already holds h.mu; they must not re-lock.

func (h *Heap) ZoneOf(c *cell.Cell) zone.ID { return c.ZoneID }

func (h *Heap) GroupOf(id zone.ID) uint32 { return h.zoneGroup[id] }

func (h *Heap) Zone(id zone.ID) *zone.Zone { return h.zones[id] }

// --- nursery.TenuredAllocator -----------------------------------------------
//
// Called only from nursery.MinorGC, itself only ever invoked under h.mu
// (runMinorGCLocked); must not re-lock.

func (h *Heap) AllocTenured(kind cell.Kind, nSlots int, zoneID uint32) *cell.Cell {
	a, ok := h.allocs[zoneID]
	if !ok {
		log.Panicf("driver: AllocTenured for unknown zone %d", zoneID)
	}
	return a.AllocTenured(kind, nSlots, zoneID)
}

// --- allocation, barriers (public mutator-facing API, §6) ------------------

// Allocate allocates a cell of kind for zoneID (§6 allocate). Under
// ZealAlloc or ZealGC it runs the corresponding extra collection work after
// a successful allocation.
func (h *Heap) Allocate(zoneID zone.ID, kind cell.Kind, extraSlots int, heapHint bool) (*cell.Cell, error) {
	h.mu.Lock()
	a, ok := h.allocs[zoneID]
	h.mu.Unlock()
	if !ok {
		log.Panicf("driver: Allocate for unknown zone %d", zoneID)
	}
	c, err := a.Allocate(kind, extraSlots, heapHint)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	z := h.zeal
	h.mu.Unlock()
	switch z {
	case ZealAlloc:
		h.Slice(1)
	case ZealGC:
		h.Finish()
	}
	return c, nil
}

// PreWrite, PostWrite, Write forward to the barrier bundle (§4.6, §6).
func (h *Heap) PreWrite(oldValue *cell.Cell, zoneID uint32) {
	h.barriers.PreWrite(oldValue, zoneID)
}
func (h *Heap) PostWrite(owner *cell.Cell, slot *cell.Slot, newValue *cell.Cell) {
	h.barriers.PostWrite(owner, slot, newValue)
}
func (h *Heap) Write(owner *cell.Cell, slot *cell.Slot, newValue *cell.Cell, zoneID uint32) {
	h.barriers.Write(owner, slot, newValue, zoneID)
}

// ReadWeak applies the weak read barrier (§4.6, §6 read_weak).
func (h *Heap) ReadWeak(c *cell.Cell, zoneID uint32) *cell.Cell {
	return barrier.ReadWeak(h, h, c, zoneID)
}

// MarkBlack implements barrier.Marker. It is called both from PreWrite (via
// h.barriers) and from ReadWeak, neither of which holds h.mu, so it takes
// the lock itself; it must never be called while h.mu is already held (it
// is not re-entrant).
func (h *Heap) MarkBlack(c *cell.Cell) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marker.MarkBlack(c)
}

// IsZoneMarking, IsCollecting implement barrier.MarkState.
func (h *Heap) IsZoneMarking(zoneID uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == Mark || h.state == MarkRoots
}
func (h *Heap) IsCollecting() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state != NotActive
}

// IsZoneSweeping implements barrier.WeakZoneState.
func (h *Heap) IsZoneSweeping(zoneID uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == Sweep
}

// --- alloc.GCInvoker, alloc.StateChecker -----------------------------------

// MaybeGC implements alloc.GCInvoker: called from a.Allocate on a failing
// allocation attempt, with no lock held by the caller. A nursery-allocable
// kind's failure means only the nursery is full, so a minor GC alone is
// enough to retry; any other failure means the kind's tenured region set
// itself is exhausted, which needs a full major cycle to reclaim space.
func (h *Heap) MaybeGC(kind cell.Kind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.nurseryGen.Enabled() {
		h.runMinorGCLocked()
		if cell.IsNurseryAllocable(kind) {
			return true
		}
	}
	if h.state == NotActive {
		if err := h.startLocked(); err != nil {
			return false
		}
	}
	h.sliceLocked(1 << 30)
	return true
}

// CheckAllocatorState implements alloc.StateChecker. In this single-
// threaded cooperative model a mutator never calls Allocate concurrently
// with a Slice that has advanced into Compact or Decommit for the same
// zone, so there is never a state to refuse here; the hook exists to match
// §4.3's contract shape for an embedder that does run allocation and
// collection on separate threads.
func (h *Heap) CheckAllocatorState(kind cell.Kind) error {
	return nil
}

// --- storebuf.Overflower ----------------------------------------------------

func (h *Heap) OnStoreBufferOverflow() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runMinorGCLocked()
}

func (h *Heap) runMinorGCLocked() {
	// A single shared nursery currently backs every zone's fast-path
	// allocation (§4.8); AllocTenured dispatches promotions to the correct
	// zone's allocator by the promoted cell's own ZoneID.
	stats := h.nurseryGen.MinorGC(h.roots, h.storeBuf, h)
	log.Debug.Printf("driver: minor GC promoted %d reclaimed %d in %s", stats.Promoted, stats.Reclaimed, stats.Duration)
}

// --- root registration (§6) -------------------------------------------------

func (h *Heap) AddPersistent(kind cell.Kind, handle *roots.Handle) { h.roots.AddPersistent(kind, handle) }
func (h *Heap) RemovePersistent(kind cell.Kind, handle *roots.Handle) {
	h.roots.RemovePersistent(kind, handle)
}
func (h *Heap) PushStackRoot(handle *roots.Handle) { h.roots.PushStack(handle) }
func (h *Heap) PopStackRoot(handle *roots.Handle)  { h.roots.PopStack(handle) }
func (h *Heap) AddBlackTracer(fn roots.BlackTracer, data interface{}) {
	h.roots.AddBlackTracer(fn, data)
}
func (h *Heap) SetGrayTracer(fn roots.GrayTracer) { h.roots.SetGrayTracer(fn) }

// RegisterWeakMap enrolls wm in the weak-marking fixpoint run at the
// Mark->Sweep transition (enterSweepLocked) (§4.9 weak-marking mode, §6).
func (h *Heap) RegisterWeakMap(wm *mark.WeakMap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.weakMaps = append(h.weakMaps, wm)
}

// OnFinalize installs the embedder's finalize callback (§6 on_finalize). It
// is invoked synchronously for foreground-finalizable kinds' dead cells
// during the Sweep state, and asynchronously off the background finalizer
// goroutine for background-finalizable kinds.
func (h *Heap) OnFinalize(fn func(*cell.Cell)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finalizeFn = fn
}

// OnGCSlice installs a callback invoked after every Slice with the state the
// heap is now in (§6 on_gc_slice), e.g. for embedder telemetry.
func (h *Heap) OnGCSlice(fn func(State)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSlice = fn
}

// --- zeal (§4.11, §6) -------------------------------------------------------

// SetZeal installs z as the current zeal mode.
func (h *Heap) SetZeal(z Zeal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.zeal = z
}

// ParseAndSetZeal implements parse_and_set_zeal (§6).
func (h *Heap) ParseAndSetZeal(name string) error {
	z, err := ParseZeal(name)
	if err != nil {
		return err
	}
	h.SetZeal(z)
	return nil
}

// --- collection state machine (§4.10, §4.11, §6) ---------------------------

// State reports the collector's current phase.
func (h *Heap) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Start begins a new collection cycle: traces roots synchronously (root
// tracing is not itself budgeted, §4.10) and advances to Mark. It fails if
// a collection is already in progress.
func (h *Heap) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startLocked()
}

func (h *Heap) startLocked() error {
	if h.state != NotActive {
		return errors.New("driver: a collection is already in progress")
	}
	for id := range h.zones {
		h.atoms.ResetZone(id)
	}
	h.state = MarkRoots
	h.roots.TraceRoots(h.marker)
	h.state = Mark
	return nil
}

// Slice runs up to budget units of incremental work and reports whether the
// collection has reached NotActive (§6 gc_slice / incremental_gc_work).
func (h *Heap) Slice(budget int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sliceLocked(budget)
}

// Finish starts a collection if none is active, then drives it to
// completion with an effectively unbounded budget (§6 gc_full/finish).
func (h *Heap) Finish() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == NotActive {
		if err := h.startLocked(); err != nil {
			return err
		}
	}
	for h.state != NotActive {
		h.sliceLocked(1 << 30)
	}
	return nil
}

// Abort discards an in-progress collection's mark/sweep state (§9). Any
// cell already marked black is left black: conservatively over-retained
// until the next full cycle resets it, which is safe (black is a superset
// of reachable) but forfeits this cycle's reclamation.
func (h *Heap) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.marker.Reset()
	h.sweeper.Reset()
	h.scheduler.Reset()
	// Reset drops zone registrations too; re-enroll every live zone so the
	// next cycle still forms sweep groups for them.
	for id := range h.zones {
		h.scheduler.EnsureZone(id)
	}
	h.state = NotActive
}

func (h *Heap) sliceLocked(budget int) bool {
	for budget > 0 && h.state != NotActive {
		switch h.state {
		case MarkRoots:
			// startLocked always advances straight past MarkRoots; reaching
			// this case from Slice would mean Start was never called.
			h.state = Mark
		case Mark:
			remaining, drained := h.marker.Drain(budget)
			budget = remaining
			if drained {
				promoted := 0
				for _, z := range h.zones {
					promoted += h.marker.DrainIncomingGray(z)
				}
				if promoted == 0 {
					h.enterSweepLocked()
				}
			}
		case Sweep:
			remaining, done := h.sweeper.Step(h.sweepOrder, h.zoneHeapOf, budget)
			budget = remaining
			if done {
				h.state = Finalize
			}
		case Finalize:
			h.state = Compact
			budget--
		case Compact:
			h.runCompactLocked()
			h.state = Decommit
			budget--
		case Decommit:
			h.runDecommitLocked()
			h.state = NotActive
			budget--
		}
		if h.onSlice != nil {
			h.onSlice(h.state)
		}
	}
	return h.state == NotActive
}

// enterSweepLocked drains weak-map marking to its fixpoint and sweeps every
// registered weak map of entries whose key never got marked (§4.9
// weak-marking mode), then flattens the scheduler's dependency-ordered sweep
// groups into a single zone order and resets the sweeper for a fresh pass
// (§4.10's Mark->Sweep transition; P4's ordering is established here once,
// up front, rather than re-derived per slice).
//
// Both weak-map steps must run here, before Sweep, not in the later Finalize
// state: sweepRegion resets every surviving (black) cell back to White once
// it has decided that cell lives (§4.10's per-slice color reset), so a
// weak-map key that is only checked for cell.Black after Sweep has already
// run would always read White and look dead, whether or not it actually
// survived.
func (h *Heap) enterSweepLocked() {
	for {
		if n := h.marker.ProcessWeakMaps(h.weakMaps); n == 0 {
			break
		}
	}
	for _, wm := range h.weakMaps {
		mark.SweepWeakMap(wm)
	}
	groups := h.scheduler.SweepGroups()
	var order []zone.ID
	for _, g := range groups {
		order = append(order, g...)
	}
	h.sweepOrder = order
	h.sweeper.Reset()
	h.state = Sweep
}

func (h *Heap) zoneHeapOf(id zone.ID) sweep.ZoneHeap { return h.allocs[id] }

// runCompactLocked compacts any kind whose fragmentation ratio exceeds
// compactionThreshold across every zone, then rewrites every stale edge left
// by forwarding (§4.12).
func (h *Heap) runCompactLocked() {
	heaps := make([]sweep.ZoneHeap, 0, len(h.allocs))
	for _, a := range h.allocs {
		heaps = append(heaps, a)
		for k := cell.Kind(0); int(k) < cell.NumKinds; k++ {
			set := a.TenuredSet(k)
			if !cell.IsCompactable(k) {
				continue
			}
			if set.FragmentationRatio() > compactionThreshold {
				sweep.Compact(set, 0)
			}
		}
	}
	sweep.RewriteEdges(heaps)
}

// runDecommitLocked releases every now-empty region across every zone and
// kind (§4.10's final Decommit state).
func (h *Heap) runDecommitLocked() {
	for _, a := range h.allocs {
		for k := cell.Kind(0); int(k) < cell.NumKinds; k++ {
			a.TenuredSet(k).RemoveEmpty()
		}
	}
}

// --- cross-zone edge bookkeeping (§6, C10) ----------------------------------

// RecordZoneEdge tells the sweep-group scheduler that from currently holds a
// live reference into to, grounding P4's sweep ordering. Embedding code that
// writes a cross-zone pointer is expected to call this alongside the write
// barrier (mirroring the teacher's own practice of keeping cross-shard
// bookkeeping beside the write path, not inferred after the fact).
func (h *Heap) RecordZoneEdge(from, to zone.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scheduler.AddEdge(from, to)
}
