// Package region implements the heap-region layer (C2): fixed-capacity,
// kind-uniform slabs that back the allocator's tenured slow path and the
// compactor's relocation sources.
package region

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/gc/cell"
)

// DefaultCapacity is the number of cell slots a region holds. Real regions
// are sized to a page multiple (§4.2); here capacity is fixed so that a
// region is a uniform unit of relocation for the compactor regardless of
// the kind's byte size.
const DefaultCapacity = 256

// Region holds cells of exactly one Kind (§4.2: "no cross-region invariants
// beyond kind uniformity"). Slots are either occupied (non-nil) or free;
// freeList tracks the free indices in LIFO order for O(1) allocation.
type Region struct {
	kind     cell.Kind
	cells    []*cell.Cell
	freeList []int
	marks    markBitmap

	live int
}

// New creates an empty region for kind with DefaultCapacity slots.
func New(kind cell.Kind) *Region {
	return NewSized(kind, DefaultCapacity)
}

// NewSized creates an empty region for kind with the given slot capacity.
func NewSized(kind cell.Kind, capacity int) *Region {
	r := &Region{
		kind:  kind,
		cells: make([]*cell.Cell, capacity),
		marks: newMarkBitmap(capacity),
	}
	r.freeList = make([]int, capacity)
	for i := range r.freeList {
		r.freeList[i] = capacity - 1 - i
	}
	return r
}

// Kind returns the kind every cell in the region shares.
func (r *Region) Kind() cell.Kind { return r.kind }

// Capacity returns the number of slots the region holds.
func (r *Region) Capacity() int { return len(r.cells) }

// Live returns the number of occupied slots.
func (r *Region) Live() int { return r.live }

// Full reports whether the region has no free slots left.
func (r *Region) Full() bool { return len(r.freeList) == 0 }

// Empty reports whether the region holds no live cells, making it eligible
// for decommit.
func (r *Region) Empty() bool { return r.marks.popcount() == 0 }

// Alloc reserves a free slot and installs c there, returning its slot index.
// It panics if the region is full; callers must check Full first (the
// allocator's slow path creates a new region on exhaustion).
func (r *Region) Alloc(c *cell.Cell) int {
	if r.Full() {
		log.Panicf("region: Alloc called on full %v region", r.kind)
	}
	idx := r.freeList[len(r.freeList)-1]
	r.freeList = r.freeList[:len(r.freeList)-1]
	r.cells[idx] = c
	r.marks.set(idx)
	r.live++
	return idx
}

// Free releases the slot at idx, making it available for reuse. Used by
// foreground and background sweep (C12) once a cell is known dead.
func (r *Region) Free(idx int) {
	if r.cells[idx] == nil {
		log.Panicf("region: double free of slot %d in %v region", idx, r.kind)
	}
	r.cells[idx] = nil
	r.marks.clear(idx)
	r.freeList = append(r.freeList, idx)
	r.live--
	if r.live == 0 {
		// The region just lost its last live cell: bulk-clear the mark bitmap
		// in one pass rather than leave it to the per-slot clears above, so a
		// region sitting empty between this sweep and its eventual Decommit
		// carries a freshly zeroed bitmap rather than one zeroed one bit at a
		// time.
		r.marks.clearAll()
	}
}

// At returns the cell occupying slot idx, or nil if free.
func (r *Region) At(idx int) *cell.Cell { return r.cells[idx] }

// Iter is a forward iterator over the region's live cells (`first`/`next`/
// `done` of §4.2).
type Iter struct {
	r   *Region
	idx int
}

// First returns an iterator positioned at the region's first live cell.
func (r *Region) First() *Iter {
	it := &Iter{r: r, idx: -1}
	it.advance()
	return it
}

// advance steps to the next occupied slot, reading occupancy from the mark
// bitmap (kept in lockstep with r.cells by Alloc/Free) rather than probing
// the cells slice directly, so the region's bulk sweep/compact scan is the
// bitmap's real consumer rather than a second, redundant occupancy check.
func (it *Iter) advance() {
	it.idx++
	for it.idx < len(it.r.cells) && !it.r.marks.test(it.idx) {
		it.idx++
	}
}

// Done reports whether the iterator has exhausted the region.
func (it *Iter) Done() bool { return it.idx >= len(it.r.cells) }

// Cell returns the current cell. Undefined if Done.
func (it *Iter) Cell() *cell.Cell { return it.r.cells[it.idx] }

// Index returns the current cell's slot index, usable with Region.Free.
func (it *Iter) Index() int { return it.idx }

// Next advances the iterator to the region's next live cell.
func (it *Iter) Next() { it.advance() }

// Decommit releases the region's mark-bitmap backing pages. It does not
// touch live cells; callers must have already verified Empty().
func (r *Region) Decommit() {
	r.marks.decommit()
}
