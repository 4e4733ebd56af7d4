// Package storebuf implements the store buffer (C7): the deduplicated
// remembered set of tenured-to-nursery edges the post-barrier populates and
// minor GC drains.
package storebuf

import (
	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/trace"
)

// EntryKind distinguishes the four shapes of remembered entry (§4.7).
type EntryKind int

const (
	// SlotEntry remembers a single tenured-slot address holding a nursery
	// pointer.
	SlotEntry EntryKind = iota
	// WholeCellEntry remembers an entire tenured cell, used once many of its
	// slots point into the nursery (cheaper than one SlotEntry per slot).
	WholeCellEntry
	// GenericEntry remembers a Bufferable implementer whose Trace method
	// will be called at drain time.
	GenericEntry
	// ValueEdgeEntry remembers a tagged-pointer slot (a slot whose static
	// kind is not known to be a GC pointer, e.g. a polymorphic value cell).
	ValueEdgeEntry
)

// Bufferable is a generic-entry callback: an object that knows how to trace
// its own nursery-pointing edges when asked (§4.7 "implemented by an object
// exposing a trace(tracer) callback").
type Bufferable interface {
	Trace(t trace.Tracer)
}

// entry is the buffer's internal representation; identity for dedup
// purposes is (kind, owner, slot) for Slot/ValueEdge entries, (kind, owner)
// for WholeCell, and (kind, generic) for Generic.
type entry struct {
	kind    EntryKind
	owner   *cell.Cell
	slot    *cell.Slot
	generic Bufferable
}

// Overflower is notified when the buffer exceeds its capacity; the driver
// implements it to trigger an immediate minor GC (§4.7 "Overflow triggers
// an immediate minor GC").
type Overflower interface {
	OnStoreBufferOverflow()
}

// Buffer is a single zone group's store buffer. Per §5 it is single-producer
// single-consumer per zone group. Buffer has no lock of its own: callers
// serialize Insert and Drain.
type Buffer struct {
	entries  []entry
	seen     map[interface{}]bool // identity dedup, cleared at drain
	capacity int
	overflow Overflower
}

// New creates a store buffer that notifies overflow once it holds more than
// capacity entries. capacity<=0 disables the overflow check.
func New(capacity int, overflow Overflower) *Buffer {
	return &Buffer{
		seen:     make(map[interface{}]bool),
		capacity: capacity,
		overflow: overflow,
	}
}

type identityKey struct {
	kind  EntryKind
	owner *cell.Cell
	slot  *cell.Slot
	gen   Bufferable
}

// InsertSlot remembers a single tenured slot holding a nursery pointer
// (post-barrier's normal case, §4.6).
func (b *Buffer) InsertSlot(owner *cell.Cell, slot *cell.Slot) {
	b.insert(entry{kind: SlotEntry, owner: owner, slot: slot})
}

// InsertWholeCell remembers an entire tenured cell.
func (b *Buffer) InsertWholeCell(owner *cell.Cell) {
	b.insert(entry{kind: WholeCellEntry, owner: owner})
}

// InsertGeneric remembers a Bufferable's self-tracing callback.
func (b *Buffer) InsertGeneric(g Bufferable) {
	b.insert(entry{kind: GenericEntry, generic: g})
}

// InsertValueEdge remembers a tagged-pointer slot.
func (b *Buffer) InsertValueEdge(owner *cell.Cell, slot *cell.Slot) {
	b.insert(entry{kind: ValueEdgeEntry, owner: owner, slot: slot})
}

// insert is idempotent over logical identity: a duplicate entry is
// collapsed rather than appended (§4.7 contract).
func (b *Buffer) insert(e entry) {
	key := identityKey{kind: e.kind, owner: e.owner, slot: e.slot, gen: e.generic}
	if b.seen[key] {
		return
	}
	b.seen[key] = true
	b.entries = append(b.entries, e)
	if b.capacity > 0 && len(b.entries) > b.capacity && b.overflow != nil {
		b.overflow.OnStoreBufferOverflow()
	}
}

// Len returns the number of distinct entries currently buffered.
func (b *Buffer) Len() int { return len(b.entries) }

// Drain visits every entry with t and then clears the buffer (§4.7
// contract). For Slot/ValueEdge entries it visits the single remembered
// slot; for WholeCell entries it retraces every edge of the owner; for
// Generic entries it calls the Bufferable's own Trace method.
func (b *Buffer) Drain(t trace.Tracer, traceChildren func(*cell.Cell, trace.Tracer)) {
	for _, e := range b.entries {
		switch e.kind {
		case SlotEntry, ValueEdgeEntry:
			if e.slot.Ref != nil {
				t.OnEdge(e.owner, e.slot, e.slot.Name)
			}
		case WholeCellEntry:
			traceChildren(e.owner, t)
		case GenericEntry:
			e.generic.Trace(t)
		}
	}
	b.entries = nil
	b.seen = make(map[interface{}]bool)
}
