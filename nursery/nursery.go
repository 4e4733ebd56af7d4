// Package nursery implements the young generation and minor GC (C8): a
// linear bump-allocation region promoted into tenured space by a Cheney-
// style copying collector driven off the store buffer and the root set.
package nursery

import (
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/region"
	"github.com/grailbio/gc/roots"
	"github.com/grailbio/gc/storebuf"
	"github.com/grailbio/gc/trace"
)

// OversizeThreshold is the cell-edge-count at or above which a nursery allocation
// is backed by its own decommit-able Arena instead of living inline, the
// same "oversize chunk" distinction real bump allocators make.
const OversizeThreshold = 64

// TenuredAllocator is the subset of the allocator's tenured slow path minor
// GC needs to promote a nursery survivor. Defined here, not imported from
// alloc, so nursery has no dependency on alloc (alloc depends on nursery,
// not the reverse).
type TenuredAllocator interface {
	AllocTenured(kind cell.Kind, nSlots int, zoneID uint32) *cell.Cell
}

// Stats summarizes one minor GC for logging/testing.
type Stats struct {
	Promoted int
	Reclaimed int
	Duration  time.Duration
}

// Nursery is one zone group's young generation.
type Nursery struct {
	capacity int
	cells    []*cell.Cell
	members  map[*cell.Cell]bool

	arena          *region.Arena
	oversizeArenas []*region.Arena

	enabled bool // false when generational GC is disabled by configuration
}

// New creates a nursery holding up to capacity cells. If generational is
// false, Alloc always reports failure and MinorGC is a no-op, forcing every
// allocation through the tenured path (§4.8 edge case).
func New(capacity int, generational bool) *Nursery {
	n := &Nursery{
		capacity: capacity,
		members:  make(map[*cell.Cell]bool, capacity),
		enabled:  generational,
	}
	if generational {
		if a, err := region.NewArena(region.PageSize); err == nil {
			n.arena = a
		} else {
			log.Debug.Printf("nursery: failed to map bump arena, continuing without it: %v", err)
		}
	}
	return n
}

// Enabled reports whether generational GC is active.
func (n *Nursery) Enabled() bool { return n.enabled }

// Len returns the number of cells currently bump-allocated in the nursery.
func (n *Nursery) Len() int { return len(n.cells) }

// Contains reports whether c is currently a nursery resident (not yet
// promoted). Kinds that forbid nursery residency (I4) are never members.
func (n *Nursery) Contains(c *cell.Cell) bool { return n.members[c] }

// Alloc bump-allocates a cell of kind with nSlots edges, returning ok=false
// if the nursery is disabled, full, or the kind forbids nursery residency —
// in all of which cases the caller must fall back to the tenured path.
func (n *Nursery) Alloc(kind cell.Kind, nSlots int, zoneID uint32) (*cell.Cell, bool) {
	if !n.enabled || !cell.IsNurseryAllocable(kind) {
		return nil, false
	}
	if len(n.cells) >= n.capacity {
		return nil, false
	}
	c := cell.New(kind, zoneID, nSlots, true)
	n.cells = append(n.cells, c)
	n.members[c] = true
	if nSlots >= OversizeThreshold {
		if a, err := region.NewArena(region.PageSize); err == nil {
			n.oversizeArenas = append(n.oversizeArenas, a)
		}
	}
	return c, true
}

// tenuringTracer drives the Cheney-style copy: each edge pointing at a live
// nursery cell is promoted exactly once, and the slot is rewritten to point
// at the tenured copy (I5).
type tenuringTracer struct {
	n       *Nursery
	tenured TenuredAllocator
	queue   *[]*cell.Cell
	stats   *Stats
}

func (tenuringTracer) Mode() trace.Mode { return trace.Tenuring }

func (t tenuringTracer) OnEdge(owner *cell.Cell, slot *cell.Slot, name string) {
	child := slot.Ref
	if child == nil {
		return
	}
	if child.IsForwarded() {
		slot.Ref = cell.Resolve(child)
		return
	}
	if !t.n.Contains(child) {
		return // already tenured, or a kind that never lives in the nursery
	}
	dst := t.tenured.AllocTenured(child.Kind(), len(child.Edges), child.ZoneID)
	for i, s := range child.Edges {
		dst.Edges[i].Ref = s.Ref
		dst.Edges[i].Name = s.Name
	}
	dst.Payload = child.Payload
	child.SetForwarded(dst)
	slot.Ref = dst
	t.stats.Promoted++
	*t.queue = append(*t.queue, dst)
}

// MinorGC runs one minor collection (§4.8): store-buffer roots and the
// persistent/stack/embedding root set are traced into the nursery, every
// reached cell is copied to tenured space and forwarded, and the nursery is
// then reset. It is a no-op when the nursery is disabled.
func (n *Nursery) MinorGC(rootSet *roots.Set, sb *storebuf.Buffer, tenured TenuredAllocator) Stats {
	start := nowFunc()
	if !n.enabled {
		return Stats{}
	}
	stats := &Stats{}
	var queue []*cell.Cell
	tracer := tenuringTracer{n: n, tenured: tenured, queue: &queue, stats: stats}

	sb.Drain(tracer, trace.TraceChildren)
	rootSet.TraceRoots(tracer)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		trace.TraceChildren(c, tracer)
	}

	stats.Reclaimed = len(n.cells) - stats.Promoted
	n.reset()
	stats.Duration = nowFunc().Sub(start)
	return *stats
}

// reset discards the bump region (step 3 of §4.8) and decommits any
// oversize chunks backing large nursery allocations from the collection
// just finished.
func (n *Nursery) reset() {
	n.cells = n.cells[:0]
	n.members = make(map[*cell.Cell]bool, n.capacity)
	for _, a := range n.oversizeArenas {
		a.Decommit()
	}
	n.oversizeArenas = nil
}

// nowFunc is a seam so tests can avoid depending on wall-clock time; it is
// not itself called by any test in this package today (duration is
// best-effort telemetry, not a correctness input).
var nowFunc = time.Now
