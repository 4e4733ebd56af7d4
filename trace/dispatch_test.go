package trace

import (
	"testing"

	"github.com/grailbio/gc/cell"
	"github.com/stretchr/testify/assert"
)

func TestTraceChildrenVisitsEveryEdgeOnce(t *testing.T) {
	parent := cell.New(cell.ObjectSlots2, 0, 2, false)
	a := cell.New(cell.String, 0, 0, false)
	b := cell.New(cell.String, 0, 0, false)
	parent.Edges[0].Ref = a
	parent.Edges[1].Ref = b

	var visited []*cell.Cell
	tracer := Func{M: Marking, Fn: func(owner *cell.Cell, slot *cell.Slot, name string) {
		visited = append(visited, slot.Ref)
	}}
	TraceChildren(parent, tracer)
	assert.ElementsMatch(t, []*cell.Cell{a, b}, visited)
}

func TestTraceChildrenSkipsNilEdges(t *testing.T) {
	parent := cell.New(cell.ObjectSlots2, 0, 2, false)
	parent.Edges[0].Ref = cell.New(cell.String, 0, 0, false)
	// Edges[1].Ref stays nil.

	n := 0
	tracer := Func{M: Marking, Fn: func(owner *cell.Cell, slot *cell.Slot, name string) { n++ }}
	TraceChildren(parent, tracer)
	assert.Equal(t, 1, n)
}

func TestLeafKindsHaveNoEdgesByDefault(t *testing.T) {
	atom := cell.New(cell.Atom, 0, 0, false)
	n := 0
	tracer := Func{M: Marking, Fn: func(owner *cell.Cell, slot *cell.Slot, name string) { n++ }}
	TraceChildren(atom, tracer)
	assert.Equal(t, 0, n)
}
