// Package driver implements the incremental collection state machine (C11):
// the phase sequence a collection walks through one budgeted Slice at a
// time, and the Heap type that wires cell/region/alloc/roots/trace/barrier/
// storebuf/nursery/mark/zone/sweep into the public collector API (§6).
package driver

// State is a point in the incremental collection cycle (§4.10/§4.11).
type State int

const (
	// NotActive means no collection is in progress; allocation runs
	// unencumbered and the write barrier is a no-op (§4.6 "skipped entirely
	// outside any collection").
	NotActive State = iota
	// MarkRoots traces the root set, seeding the mark stack. This is always
	// completed synchronously within Start (§4.10: root tracing is not
	// itself budgeted, only the graph walk that follows it is).
	MarkRoots
	// Mark incrementally drains the mark stack, one Slice budget at a time.
	Mark
	// Sweep reclaims dead cells and finalizes foreground-only kinds inline,
	// handing background-finalizable kinds' dead cells to the background
	// finalizer.
	Sweep
	// Finalize is a boundary phase between Sweep and Compact. Weak-map
	// marking and pruning happen earlier, at the Mark->Sweep transition
	// (driver.Heap.enterSweepLocked), before sweepRegion's per-slice color
	// reset makes a surviving cell indistinguishable from a dead one.
	Finalize
	// Compact relocates live cells out of fragmented regions.
	Compact
	// Decommit releases now-empty regions' backing pages.
	Decommit
)

func (s State) String() string {
	switch s {
	case NotActive:
		return "not-active"
	case MarkRoots:
		return "mark-roots"
	case Mark:
		return "mark"
	case Sweep:
		return "sweep"
	case Finalize:
		return "finalize"
	case Compact:
		return "compact"
	case Decommit:
		return "decommit"
	default:
		return "invalid-state"
	}
}
