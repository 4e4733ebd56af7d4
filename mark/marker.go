package mark

import (
	"github.com/grailbio/base/log"

	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/trace"
	"github.com/grailbio/gc/zone"
)

// inlineDepthCap bounds the eager, stack-local walk of a string/shape/scope/
// lazy-script chain before the remainder is spilled to the explicit mark
// stack as an EntryTempRope continuation (§4.9).
const inlineDepthCap = 64

// cycleRingSize is the width of the ring buffer used to assert (debug builds
// only) that an inline chain never revisits a node, which would otherwise
// spin the walk forever.
const cycleRingSize = 100

// ZoneLocator resolves a cell to its owning zone and a zone to its owning
// group, letting the marker decide whether an edge crosses a zone-group
// boundary (§4.9 gray marking). A nil ZoneLocator disables gray marking
// entirely: every edge is treated as within-group, which is correct for a
// single-zone-group heap.
type ZoneLocator interface {
	ZoneOf(c *cell.Cell) zone.ID
	GroupOf(id zone.ID) uint32
	Zone(id zone.ID) *zone.Zone
}

// AtomRecorder receives notice of every edge the marker traces into an atom
// cell, naming the referring zone. It is the collaborator interface for the
// shared atoms zone (§3, I7): a driver.Heap wires its *zone.AtomTable in
// here so atom survival can be decided by the union of zones' atom bitmaps
// rather than by ordinary coloring alone.
type AtomRecorder interface {
	ReferenceAtom(zoneID zone.ID, c *cell.Cell)
}

// Marker is the incremental marker (C9). It implements trace.Tracer so that
// trace.TraceChildren can drive it directly; OnEdge is where gray marking,
// inline marking, and ordinary stack pushing are all decided.
type Marker struct {
	stack *Stack
	loc   ZoneLocator
	atoms AtomRecorder

	// DebugCycleCheck enables the ring-buffer cycle assertion in inline
	// marking. It costs a linear scan per inline step, so it is off by
	// default and meant for debug/zeal builds only.
	DebugCycleCheck bool
}

// New creates a marker. loc may be nil to disable gray marking (single zone
// group). maxStackCapacity is forwarded to NewStack (0 selects the default).
func New(loc ZoneLocator, maxStackCapacity int) *Marker {
	return &Marker{stack: NewStack(maxStackCapacity), loc: loc}
}

// SetAtomRecorder installs the shared atoms zone. Must be called before the
// first Drain of a cycle that references atoms; nil disables atom-bitmap
// bookkeeping and leaves atoms to survive by ordinary coloring alone.
func (m *Marker) SetAtomRecorder(r AtomRecorder) { m.atoms = r }

// Mode implements trace.Tracer.
func (m *Marker) Mode() trace.Mode { return trace.Marking }

// MarkRoot marks c as a GC root directly. roots.Set.TraceRoots does not call
// it; root edges reach the marker through OnEdge with a nil owner.
func (m *Marker) MarkRoot(c *cell.Cell) {
	if c == nil {
		return
	}
	m.markCell(cell.Resolve(c))
}

// OnEdge implements trace.Tracer. owner is nil for root edges (§4.4), which
// are always treated as within the current zone group.
func (m *Marker) OnEdge(owner *cell.Cell, slot *cell.Slot, name string) {
	if slot.Ref == nil {
		return
	}
	child := cell.Resolve(slot.Ref)
	slot.Ref = child
	if m.atoms != nil && owner != nil && m.loc != nil && cell.IsAtomKind(child.Kind()) {
		m.atoms.ReferenceAtom(m.loc.ZoneOf(owner), child)
	}
	if owner != nil && m.crossesZoneGroup(owner, child) {
		m.recordGray(owner, child)
		return
	}
	m.markCell(child)
}

// crossesZoneGroup reports whether tracing from owner into child would leave
// owner's zone group, in which case the edge must be deferred to the
// destination zone's own slice rather than followed here (§4.9).
func (m *Marker) crossesZoneGroup(owner, child *cell.Cell) bool {
	if m.loc == nil {
		return false
	}
	oz, cz := m.loc.ZoneOf(owner), m.loc.ZoneOf(child)
	if oz == cz {
		return false
	}
	return m.loc.GroupOf(oz) != m.loc.GroupOf(cz)
}

// recordGray appends a gray edge to the destination zone's incoming-gray
// list instead of following it, and colors the target gray if it is not
// already marked. The owning zone's own mark slice is responsible for
// draining IncomingGray and promoting these to ordinary marks (§4.9: "cross
// zone-group references append to the destination compartment's
// incoming-gray-pointers list, not followed directly").
func (m *Marker) recordGray(owner, child *cell.Cell) {
	z := m.loc.Zone(m.loc.ZoneOf(child))
	if z == nil {
		log.Panicf("mark: gray edge into unknown zone")
	}
	z.IncomingGray = append(z.IncomingGray, &zone.GrayEdge{Wrapper: owner, Target: child})
	cell.MarkIfUnmarked(child, cell.Gray)
}

// DrainIncomingGray promotes z's pending cross-zone-group gray edges to
// ordinary marks and clears the list. The driver calls it for every zone
// once Drain reports the mark stack empty.
func (m *Marker) DrainIncomingGray(z *zone.Zone) int {
	edges := z.IncomingGray
	z.IncomingGray = nil
	for _, e := range edges {
		target := cell.Resolve(e.Target)
		// Gray here only means "parked on an incoming-gray list, not yet
		// scanned"; reset to White so markCell's CAS can promote it to Black
		// and push its children. A target already Black via another path is
		// left alone (markCell's CAS is then simply a no-op).
		if cell.GetColor(target) == cell.Gray {
			cell.SetColor(target, cell.White)
		}
		m.markCell(target)
	}
	return len(edges)
}

// tagForTraceKind picks the mark-stack entry tag used to bookkeep a pushed
// cell of trace-kind tk (diagnostic/dispatch grouping only; the actual
// children walk always goes through trace.TraceChildren).
func tagForTraceKind(tk cell.TraceKind) EntryTag {
	switch tk {
	case cell.TKObjectGroup:
		return EntryObjectGroup
	case cell.TKJitCode:
		return EntryJitCode
	case cell.TKScript:
		return EntryScript
	default:
		return EntryObject
	}
}

// isInlineTraceKind reports whether c's trace kind is eagerly walked inline
// rather than pushed to the explicit stack (§4.9: strings that are ropes,
// shapes, accessor shapes, scopes, and lazy scripts).
func isInlineTraceKind(tk cell.TraceKind, c *cell.Cell) bool {
	switch tk {
	case cell.TKShape, cell.TKAccessorShape, cell.TKScope, cell.TKLazyScript:
		return true
	case cell.TKString:
		return trace.IsRope(c)
	default:
		return false
	}
}

// markCell marks c black (idempotently, P6) and either walks it inline or
// pushes it to the explicit stack, depending on its trace kind.
func (m *Marker) markCell(c *cell.Cell) {
	if c == nil {
		return
	}
	tk := cell.TraceKindOf(c.Kind())
	if isInlineTraceKind(tk, c) {
		m.markInline(c)
		return
	}
	if !cell.MarkIfUnmarked(c, cell.Black) {
		return
	}
	m.stack.PushOrDelay(Entry{Tag: tagForTraceKind(tk), Cell: c})
}

// markInline eagerly walks a string/shape/scope/lazy-script chain along its
// primary (edge 0) link without touching the explicit stack, marking every
// secondary edge (e.g. a rope's right child, a shape's getter/setter) via
// the ordinary stack path. It stops, spilling the remainder as an
// EntryTempRope continuation, once inlineDepthCap is exceeded.
func (m *Marker) markInline(root *cell.Cell) {
	var ring [cycleRingSize]*cell.Cell
	ringLen := 0
	depth := 0
	cur := root
	for cur != nil {
		cur = cell.Resolve(cur)
		if !cell.MarkIfUnmarked(cur, cell.Black) {
			return
		}
		if m.DebugCycleCheck {
			for i := 0; i < ringLen && i < cycleRingSize; i++ {
				if ring[i] == cur {
					log.Panicf("mark: cycle detected walking inline chain (kind %v)", cur.Kind())
				}
			}
			ring[ringLen%cycleRingSize] = cur
			ringLen++
		}
		depth++
		edges := cur.Edges
		if len(edges) == 0 {
			return
		}
		primary := edges[0]
		if depth > inlineDepthCap {
			if primary.Ref != nil {
				m.stack.PushOrDelay(Entry{Tag: EntryTempRope, Cell: cell.Resolve(primary.Ref)})
			}
			for _, s := range edges[1:] {
				if s.Ref != nil {
					m.markCell(cell.Resolve(s.Ref))
				}
			}
			return
		}
		for _, s := range edges[1:] {
			if s.Ref != nil {
				m.markCell(cell.Resolve(s.Ref))
			}
		}
		if primary.Ref == nil {
			return
		}
		cur = primary.Ref
	}
}

// PushValueArray enqueues owner.Edges[from:to] for marking as a re-scannable
// value-array range (§4.9). Used by embedder kinds that store a GC-pointer
// array too large to mark in one go.
func (m *Marker) PushValueArray(owner *cell.Cell, from, to int) {
	if from >= to {
		return
	}
	m.stack.PushOrDelay(Entry{Tag: EntryValueArray, Owner: owner, From: from, To: to})
}

// valueArrayChunk bounds how many slots of a value-array entry are marked
// per pop, so one huge array cannot blow an entire slice's budget in a
// single Drain step.
const valueArrayChunk = 32

// markValueArrayRange marks up to valueArrayChunk slots of owner.Edges
// starting at from (clamped to to, and to len(owner.Edges) to tolerate the
// backing store having shrunk since the entry was pushed). Any unfinished
// remainder is re-pushed as EntrySavedValueArray: an owner+index pair rather
// than a direct slice, so it survives the owner's storage being reallocated
// by the mutator between slices (§4.9).
func (m *Marker) markValueArrayRange(owner *cell.Cell, from, to int) {
	end := to
	if end > len(owner.Edges) {
		end = len(owner.Edges)
	}
	chunkEnd := from + valueArrayChunk
	if chunkEnd > end {
		chunkEnd = end
	}
	for i := from; i < chunkEnd; i++ {
		s := owner.Edges[i]
		if s.Ref == nil {
			continue
		}
		m.OnEdge(owner, s, s.Name)
	}
	if chunkEnd < end {
		m.stack.PushOrDelay(Entry{Tag: EntrySavedValueArray, Owner: owner, From: chunkEnd, To: end})
	}
}

func (m *Marker) processEntry(e Entry) {
	switch e.Tag {
	case EntryObject, EntryObjectGroup, EntryScript, EntryJitCode:
		// A cell promoted from the delayed list may not be marked yet (e.g. a
		// spilled EntryTempRope continuation); marking here is a no-op otherwise.
		cell.MarkIfUnmarked(e.Cell, cell.Black)
		trace.TraceChildren(e.Cell, m)
	case EntryValueArray, EntrySavedValueArray:
		m.markValueArrayRange(e.Owner, e.From, e.To)
	case EntryTempRope:
		m.markInline(e.Cell)
	}
}

// Drain processes stack entries until the stack (and delayed list) is empty
// or budget work units have been spent, whichever comes first. It returns
// the unspent budget and whether marking fully drained (§4.11's Mark->Sweep
// transition condition is Drain returning done == true).
func (m *Marker) Drain(budget int) (remaining int, done bool) {
	for budget > 0 {
		e, ok := m.stack.Pop()
		if !ok {
			if m.stack.DelayedLen() > 0 && m.stack.PromoteDelayed() > 0 {
				continue
			}
			return budget, true
		}
		m.processEntry(e)
		budget--
	}
	return budget, m.stack.Empty()
}

// StackLen and DelayedLen expose the marker's progress for diagnostics and
// tests.
func (m *Marker) StackLen() int   { return m.stack.Len() }
func (m *Marker) DelayedLen() int { return m.stack.DelayedLen() }

// MarkBlack marks c (idempotently) as part of the write barrier's pre-write
// snapshot obligation (§4.6). It satisfies barrier.Marker so a driver.Heap
// can hand its mark.Marker straight to a barrier.Barriers.
func (m *Marker) MarkBlack(c *cell.Cell) {
	if c == nil {
		return
	}
	m.markCell(cell.Resolve(c))
}

// Reset discards all pending mark-stack state. Used when a collection is
// aborted mid-mark (§9): cells left Black are conservatively over-retained
// until the next full cycle resets them, which is safe but forfeits this
// cycle's reclamation.
func (m *Marker) Reset() {
	m.stack = NewStack(m.stack.max)
}
