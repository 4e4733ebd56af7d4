package storebuf

import (
	"testing"

	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/trace"
	"github.com/stretchr/testify/assert"
)

type countingOverflow struct{ n int }

func (c *countingOverflow) OnStoreBufferOverflow() { c.n++ }

func TestInsertIsIdempotent(t *testing.T) {
	b := New(0, nil)
	owner := cell.New(cell.ObjectSlots0, 0, 1, true)
	slot := owner.Edges[0]
	b.InsertSlot(owner, slot)
	b.InsertSlot(owner, slot)
	b.InsertSlot(owner, slot)
	assert.Equal(t, 1, b.Len())
}

func TestOverflowNotifiesOnce(t *testing.T) {
	of := &countingOverflow{}
	b := New(1, of)
	owner := cell.New(cell.ObjectSlots2, 0, 2, true)
	b.InsertSlot(owner, owner.Edges[0])
	assert.Equal(t, 0, of.n)
	b.InsertSlot(owner, owner.Edges[1])
	assert.Equal(t, 1, of.n)
}

func TestDrainVisitsAndClears(t *testing.T) {
	b := New(0, nil)
	owner := cell.New(cell.ObjectSlots0, 0, 1, true)
	nurseryChild := cell.New(cell.String, 0, 0, true)
	owner.Edges[0].Ref = nurseryChild
	b.InsertSlot(owner, owner.Edges[0])

	var visited []*cell.Cell
	tracer := trace.Func{M: trace.Tenuring, Fn: func(owner *cell.Cell, slot *cell.Slot, name string) {
		visited = append(visited, slot.Ref)
	}}
	b.Drain(tracer, nil)
	assert.Equal(t, []*cell.Cell{nurseryChild}, visited)
	assert.Equal(t, 0, b.Len())
}
