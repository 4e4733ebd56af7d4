// Package barrier implements the write and read barrier protocol (C6): the
// pre-barrier that realizes snapshot-at-the-beginning, the post-barrier that
// feeds the store buffer, and the read-barrier hooks for weak-reference
// resurrection and gray-to-black unmarking.
package barrier

import (
	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/trace"
)

// MarkState answers the two questions the pre-barrier needs about the
// current collection state. The driver implements it; barrier depends only
// on this interface to avoid importing the driver package.
type MarkState interface {
	// IsZoneMarking reports whether zoneID's zone is in the Mark state.
	IsZoneMarking(zoneID uint32) bool
	// IsCollecting reports whether a collection is in progress at all
	// (pre-barriers are skipped entirely outside any collection).
	IsCollecting() bool
}

// Marker marks a cell black; the pre-barrier uses it to realize
// snapshot-at-the-beginning (§4.6).
type Marker interface {
	MarkBlack(c *cell.Cell)
}

// StoreBuffer is the subset of storebuf.Buffer the post-barrier needs.
type StoreBuffer interface {
	InsertSlot(owner *cell.Cell, slot *cell.Slot)
}

// Barriers bundles the state needed to apply pre/post/read barriers for one
// zone group.
type Barriers struct {
	State  MarkState
	Mark   Marker
	Store  StoreBuffer
}

// New constructs a Barriers bundle.
func New(state MarkState, mark Marker, store StoreBuffer) *Barriers {
	return &Barriers{State: state, Mark: mark, Store: store}
}

// PreWrite must be invoked before overwriting a slot that holds a GC
// pointer, with the slot's current value and the id of the zone that owns
// the slot (§4.6 pre-barrier). It is idempotent: marking an already-black
// cell is a no-op by construction of MarkBlack (cell.MarkIfUnmarked).
func (b *Barriers) PreWrite(oldValue *cell.Cell, zoneID uint32) {
	if oldValue == nil {
		return
	}
	if !b.State.IsCollecting() || !b.State.IsZoneMarking(zoneID) {
		return
	}
	b.Mark.MarkBlack(oldValue)
}

// PostWrite must be invoked after writing newValue into slot, which belongs
// to owner (§4.6 post-barrier). If owner is tenured and newValue is a
// nursery cell, the slot address is enqueued into the store buffer.
func (b *Barriers) PostWrite(owner *cell.Cell, slot *cell.Slot, newValue *cell.Cell) {
	if newValue == nil {
		return
	}
	if owner.NurseryBorn() {
		return // a nursery-resident slot needs no remembering; roots cover it
	}
	if !newValue.NurseryBorn() {
		return
	}
	b.Store.InsertSlot(owner, slot)
}

// Write is the combined pre+store+post sequence a generated write barrier
// performs: pre-barrier on the old value, the store itself, then
// post-barrier on the new value. Embedding code should call this (or the
// split PreWrite/PostWrite pair, when the store can't be expressed as a
// single assignment) at every slot write; omitted only for roots (§6).
func (b *Barriers) Write(owner *cell.Cell, slot *cell.Slot, newValue *cell.Cell, zoneID uint32) {
	b.PreWrite(slot.Ref, zoneID)
	slot.Ref = newValue
	b.PostWrite(owner, slot, newValue)
}

// WeakZoneState answers whether a zone is mid-sweep, needed by the weak
// read barrier.
type WeakZoneState interface {
	IsZoneSweeping(zoneID uint32) bool
}

// ReadWeak implements the weak-reference read barrier (§4.6): reading a
// weak-referenced cell while its zone is sweeping may require resurrecting
// it by marking it black, since sweep would otherwise finalize a cell a
// live read is about to observe.
func ReadWeak(state WeakZoneState, mark Marker, c *cell.Cell, zoneID uint32) *cell.Cell {
	c = cell.Resolve(c)
	if c == nil {
		return nil
	}
	if state.IsZoneSweeping(zoneID) && !cell.IsMarked(c, cell.Black) {
		mark.MarkBlack(c)
	}
	return c
}

// GrayUnmarkChildren is the "gray unmark" recursion (§4.6): reading a gray
// cell from mutator code recursively marks it and every outgoing descendant
// black. The walk does not stop at compartment or zone-group boundaries.
// traceChildren is supplied by the caller (normally trace.TraceChildren).
func GrayUnmarkChildren(c *cell.Cell, traceChildren func(*cell.Cell, trace.Tracer)) {
	if !cell.IsMarked(c, cell.Gray) {
		return
	}
	cell.SetColor(c, cell.Black)
	stack := []*cell.Cell{c}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		traceChildren(cur, markBlackTracer{stack: &stack})
	}
}

// markBlackTracer is the tiny internal tracer GrayUnmarkChildren drives: it
// blackens every gray-or-white descendant and queues it for further
// recursion, stopping at cells already black (recursion terminates because
// MarkIfUnmarked-style coloring is monotonic, mirroring §9's cyclic-graph
// termination argument).
type markBlackTracer struct {
	stack *[]*cell.Cell
}

func (markBlackTracer) Mode() trace.Mode { return trace.Marking }

func (m markBlackTracer) OnEdge(owner *cell.Cell, slot *cell.Slot, name string) {
	child := cell.Resolve(slot.Ref)
	if child == nil || cell.IsMarked(child, cell.Black) {
		return
	}
	cell.SetColor(child, cell.Black)
	*m.stack = append(*m.stack, child)
}
