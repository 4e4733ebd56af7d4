// Package trace defines the polymorphic edge-visitor interface (C5) used by
// marking, tenuring, callback, and weak-marking traversals, and the
// per-trace-kind trace_children dispatch table.
//
// The design notes (§9) call out that the original implementation carried
// two full marking tracers (native and "OMR"). This reimplementation
// provides exactly one marking tracer plus a distinct callback tracer, so
// Mode enumerates four variants rather than five.
package trace

import "github.com/grailbio/gc/cell"

// Mode identifies which of the tracer variants is driving a traversal.
type Mode int

const (
	// Marking is the incremental marker's traversal (C9).
	Marking Mode = iota
	// WeakMarking is active while draining weak-map keys (C9 weak-marking
	// mode).
	WeakMarking
	// Tenuring is minor GC's copy-and-forward traversal (C8).
	Tenuring
	// Callback is an embedding-supplied black/gray root tracer (C4).
	Callback
)

func (m Mode) String() string {
	switch m {
	case Marking:
		return "marking"
	case WeakMarking:
		return "weak-marking"
	case Tenuring:
		return "tenuring"
	case Callback:
		return "callback"
	default:
		return "invalid-mode"
	}
}

// Tracer is the polymorphic edge visitor (C5). OnEdge is invoked once per
// outgoing GC edge encountered by trace_children; concrete action (mark,
// copy-forward, invoke host callback, ...) is chosen by the Tracer
// implementation, not by the cell being traced.
type Tracer interface {
	Mode() Mode
	// OnEdge visits the edge held in slot, which belongs to owner and is
	// named name for diagnostics. OnEdge may mutate slot.Ref (tenuring
	// rewrites it to the forwarded copy).
	OnEdge(owner *cell.Cell, slot *cell.Slot, name string)
}

// Func adapts a plain function to the Tracer interface for ad hoc or test
// tracers, pairing it with a fixed Mode.
type Func struct {
	M  Mode
	Fn func(owner *cell.Cell, slot *cell.Slot, name string)
}

func (f Func) Mode() Mode { return f.M }
func (f Func) OnEdge(owner *cell.Cell, slot *cell.Slot, name string) {
	f.Fn(owner, slot, name)
}
