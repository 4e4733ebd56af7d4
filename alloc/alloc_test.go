package alloc

import (
	"testing"

	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/nursery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAllState struct{}

func (allowAllState) CheckAllocatorState(cell.Kind) error { return nil }

type countingGC struct{ calls int }

func (g *countingGC) MaybeGC(cell.Kind) bool { g.calls++; return true }

func TestAllocateNurseryFastPath(t *testing.T) {
	n := nursery.New(10, true)
	a := New(n, allowAllState{}, &countingGC{}, 0)

	c, err := a.Allocate(cell.String, 0, false)
	require.NoError(t, err)
	assert.True(t, c.NurseryBorn())
}

func TestAllocateTenuredPathForNonNurseryKind(t *testing.T) {
	n := nursery.New(10, true)
	a := New(n, allowAllState{}, &countingGC{}, 0)

	c, err := a.Allocate(cell.Shape, 0, false)
	require.NoError(t, err)
	assert.False(t, c.NurseryBorn())
}

func TestAllocateHeapHintForcesTenured(t *testing.T) {
	n := nursery.New(10, true)
	a := New(n, allowAllState{}, &countingGC{}, 0)

	c, err := a.Allocate(cell.String, 0, true)
	require.NoError(t, err)
	assert.False(t, c.NurseryBorn())
}

type refusingState struct{}

func (refusingState) CheckAllocatorState(cell.Kind) error { return ErrOOM }

func TestCheckAllocatorStateCanRefuse(t *testing.T) {
	n := nursery.New(10, true)
	a := New(n, refusingState{}, &countingGC{}, 0)

	_, err := a.Allocate(cell.String, 0, false)
	assert.Error(t, err)
}

func TestExhaustedNurseryFallsBackAndRetriesOnOOM(t *testing.T) {
	n := nursery.New(1, true)
	gc := &countingGC{}
	a := New(n, allowAllState{}, gc, 0)

	_, err := a.Allocate(cell.String, 0, false)
	require.NoError(t, err)
	// Nursery is full now, but the tenured slow path still succeeds, so no
	// GC should have been invoked.
	_, err = a.Allocate(cell.String, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 0, gc.calls)
}
