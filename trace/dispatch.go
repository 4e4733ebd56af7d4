package trace

import "github.com/grailbio/gc/cell"

// childrenFn is trace_children for one TraceKind: it must emit every owned
// edge exactly once, uniformly across tracer variants (§4.5 contract). The
// dispatch table below maps each of the 14 trace kinds to a function chosen
// from the kind tag; kinds with identical bodies share traceAllEdges or
// traceLeaf.
type childrenFn func(c *cell.Cell, t Tracer)

var dispatch [cell.NumTraceKinds]childrenFn

func init() {
	dispatch[cell.TKObject] = traceAllEdges
	dispatch[cell.TKObjectGroup] = traceAllEdges
	dispatch[cell.TKScript] = traceScript
	dispatch[cell.TKLazyScript] = traceAllEdges
	dispatch[cell.TKShape] = traceShape
	dispatch[cell.TKAccessorShape] = traceAccessorShape
	dispatch[cell.TKBaseShape] = traceAllEdges
	dispatch[cell.TKString] = traceString
	dispatch[cell.TKExternalString] = traceLeaf
	dispatch[cell.TKAtom] = traceLeaf
	dispatch[cell.TKSymbol] = traceLeaf
	dispatch[cell.TKJitCode] = traceAllEdges
	dispatch[cell.TKScope] = traceScope
	dispatch[cell.TKRegExpShared] = traceAllEdges
}

// TraceChildren dispatches to the registered trace_children implementation
// for c's kind and invokes it. c must already be Resolved by the caller.
func TraceChildren(c *cell.Cell, t Tracer) {
	fn := dispatch[cell.TraceKindOf(c.Kind())]
	if fn == nil {
		return
	}
	fn(c, t)
}

// traceAllEdges is the common case: visit every populated slot once, in
// slot order. Most kinds in this collector carry only generic GC-pointer
// slots, so most dispatch entries resolve here.
func traceAllEdges(c *cell.Cell, t Tracer) {
	for _, s := range c.Edges {
		if s.Ref == nil {
			continue
		}
		t.OnEdge(c, s, s.Name)
	}
}

// traceLeaf is used by kinds with no outgoing GC edges (atoms, symbols,
// external strings whose buffer lives off-heap). If such a cell does carry
// edges, they are traced exactly as traceAllEdges would.
func traceLeaf(c *cell.Cell, t Tracer) {
	if len(c.Edges) != 0 {
		traceAllEdges(c, t)
	}
}

// traceScript visits a script's edges. Tracing records no cross-zone edges
// for the sweep-group scheduler (C10); those come only from
// driver.Heap.RecordZoneEdge.
func traceScript(c *cell.Cell, t Tracer) { traceAllEdges(c, t) }

// traceShape visits a shape's edges. Shapes are also eagerly inline-marked
// by the marker (C9) rather than pushed to the mark stack; that is a
// marking-mode concern layered above trace_children, not a different set of
// edges.
func traceShape(c *cell.Cell, t Tracer) { traceAllEdges(c, t) }

// traceAccessorShape visits an accessor shape's edges, which include the
// getter/setter object edges in addition to a plain shape's parent/base
// edges; both are represented uniformly as Edges here.
func traceAccessorShape(c *cell.Cell, t Tracer) { traceAllEdges(c, t) }

// traceString visits a string cell's edges. A rope (IsRope() true, recorded
// in Payload by the embedder) has exactly two edges, its left and right
// components; traceAllEdges already visits exactly those, so no special
// casing is needed here beyond the eager inline-marking path the marker
// takes for ropes (C9).
func traceString(c *cell.Cell, t Tracer) { traceAllEdges(c, t) }

// traceScope visits a scope's edges (enclosing scope, environment shape).
func traceScope(c *cell.Cell, t Tracer) { traceAllEdges(c, t) }

// IsRope reports whether a TKString cell represents a rope, i.e. a lazily
// concatenated string whose value is computed by walking left/right edges.
// The marker's inline-marking path uses this to decide whether to apply the
// rope depth cap.
func IsRope(c *cell.Cell) bool {
	rope, _ := c.Payload.(bool)
	return rope
}
