package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/region"
)

// fillSparse creates n regions of kind in set, each holding exactly one live
// cell (all other slots free), producing a worst-case fragmentation pattern
// for Compact to improve on.
func fillSparse(set *region.Set, kind cell.Kind, n int) []*cell.Cell {
	var cells []*cell.Cell
	for i := 0; i < n; i++ {
		r := region.New(kind)
		c := cell.New(kind, 0, 1, false)
		r.Alloc(c)
		set.AdoptRegions([]*region.Region{r})
		cells = append(cells, c)
	}
	return cells
}

func TestCompactMergesFragmentedRegions(t *testing.T) {
	set := region.NewSet(cell.ObjectSlots4)
	cells := fillSparse(set, cell.ObjectSlots4, 4)
	before := len(set.Regions())

	result := Compact(set, 4)
	assert.Equal(t, 4, result.Relocated)
	assert.True(t, result.RegionsFreed > 0)
	assert.Less(t, len(set.Regions()), before)

	for _, old := range cells {
		assert.True(t, old.IsForwarded())
		newC := cell.Resolve(old)
		assert.NotEqual(t, old, newC)
		assert.Equal(t, old.Kind(), newC.Kind())
	}
}

func TestCompactSkipsWhenNotEnoughSources(t *testing.T) {
	set := region.NewSet(cell.ObjectSlots4)
	fillSparse(set, cell.ObjectSlots4, 1)
	result := Compact(set, 4)
	assert.Equal(t, 0, result.Relocated)
	assert.Equal(t, 0, result.RegionsFreed)
}

func TestRewriteEdgesFixesStaleReferencesAfterCompact(t *testing.T) {
	set := region.NewSet(cell.ObjectSlots4)
	cells := fillSparse(set, cell.ObjectSlots4, 3)

	// An external referrer, itself not touched by Compact (it lives in a
	// different kind's set), holds an edge into one of the compacted cells.
	referrer := cell.New(cell.ObjectSlots0, 0, 1, false)
	referrer.Edges[0].Ref = cells[0]
	referrerSet := region.NewSet(cell.ObjectSlots0)
	referrerSet.AllocSlow(referrer)

	result := Compact(set, 4)
	require.Equal(t, 3, result.Relocated)
	assert.True(t, referrer.Edges[0].Ref.IsForwarded(), "edge should still point at the forwarded husk before rewrite")

	h := newFakeHeap()
	h.sets[cell.ObjectSlots4] = set
	h.sets[cell.ObjectSlots0] = referrerSet
	n := RewriteEdges([]ZoneHeap{h})

	assert.Greater(t, n, 0)
	assert.False(t, referrer.Edges[0].Ref.IsForwarded(), "rewrite should repoint the edge at the live cell directly")
	assert.Equal(t, cell.Resolve(cells[0]), referrer.Edges[0].Ref)
}
