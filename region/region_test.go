package region

import (
	"testing"

	"github.com/grailbio/gc/cell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionAllocFreeIteration(t *testing.T) {
	r := NewSized(cell.String, 4)
	var cells []*cell.Cell
	for i := 0; i < 4; i++ {
		c := cell.New(cell.String, 0, 0, false)
		r.Alloc(c)
		cells = append(cells, c)
	}
	require.True(t, r.Full())

	seen := map[*cell.Cell]bool{}
	for it := r.First(); !it.Done(); it.Next() {
		seen[it.Cell()] = true
	}
	assert.Len(t, seen, 4)

	r.Free(0)
	assert.False(t, r.Full())
	assert.Equal(t, 3, r.Live())

	fresh := cell.New(cell.String, 0, 0, false)
	idx := r.Alloc(fresh)
	assert.Same(t, fresh, r.At(idx))
}

func TestRegionSetGrowsOnDemand(t *testing.T) {
	s := NewSet(cell.ObjectSlots0)
	for i := 0; i < DefaultCapacity+1; i++ {
		s.AllocSlow(cell.New(cell.ObjectSlots0, 0, 0, false))
	}
	assert.Len(t, s.Regions(), 2, "overflow must spill into a second region")
}

func TestRegionSetRemoveEmpty(t *testing.T) {
	s := NewSet(cell.Atom)
	r, idx := s.AllocSlow(cell.New(cell.Atom, 0, 0, false))
	r.Free(idx)
	removed := s.RemoveEmpty()
	assert.Equal(t, 1, removed)
	assert.Empty(t, s.Regions())
}
