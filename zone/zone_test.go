package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grailbio/gc/cell"
)

func TestZoneAssignUIDIsStableAndForgettable(t *testing.T) {
	z := New(1)
	c := cell.New(cell.ObjectSlots0, 1, 0, false)
	id1 := z.AssignUID(c)
	id2 := z.AssignUID(c)
	assert.Equal(t, id1, id2)

	other := cell.New(cell.ObjectSlots0, 1, 0, false)
	idOther := z.AssignUID(other)
	assert.NotEqual(t, id1, idOther)

	z.ForgetUID(c)
	id3 := z.AssignUID(c)
	assert.NotEqual(t, id1, id3, "a fresh id must be assigned after ForgetUID")
}

func TestCompartmentAddWrapper(t *testing.T) {
	z := New(1)
	comp := z.NewCompartment()
	wrapper := cell.New(cell.ObjectSlots0, 1, 0, false)
	target := cell.New(cell.ObjectSlots0, 2, 0, false)
	comp.AddWrapper(wrapper, target)
	assert.Equal(t, target, comp.Wrappers[wrapper])
	assert.Len(t, z.Compartments, 1)
}

func TestSweepIndexPersistsAcrossSlices(t *testing.T) {
	z := New(1)
	assert.Equal(t, 0, z.SweepIndex())
	z.SetSweepIndex(7)
	assert.Equal(t, 7, z.SweepIndex())
}
