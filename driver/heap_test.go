package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/mark"
	"github.com/grailbio/gc/roots"
)

func newHeapWithZone(t *testing.T) (*Heap, uint32) {
	h := NewHeap(64, true)
	g := h.NewGroup()
	z := h.NewZone(g)
	return h, z
}

func link(c *cell.Cell, i int, target *cell.Cell) {
	c.Edges[i].Ref = target
}

func TestAllocateRootedSurvivesFullCollection(t *testing.T) {
	h, z := newHeapWithZone(t)
	root, err := h.Allocate(z, cell.ObjectSlots4, 1, true) // heapHint: force tenured so it's visible to the cycle, not reclaimed by a minor GC
	require.NoError(t, err)
	child, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)
	link(root, 0, child)

	handle := &roots.Handle{Ref: root}
	h.AddPersistent(cell.ObjectSlots4, handle)

	var finalized []*cell.Cell
	h.OnFinalize(func(c *cell.Cell) { finalized = append(finalized, c) })

	require.NoError(t, h.Finish())
	assert.Equal(t, NotActive, h.State())
	assert.NotContains(t, finalized, cell.Resolve(handle.Ref))
	assert.NotContains(t, finalized, cell.Resolve(child))
}

func TestUnrootedCellIsFinalizedAfterFullCollection(t *testing.T) {
	h, z := newHeapWithZone(t)
	_, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)

	var finalizedCount int
	h.OnFinalize(func(c *cell.Cell) { finalizedCount++ })

	require.NoError(t, h.Finish())
	assert.Equal(t, 1, finalizedCount)
}

func TestIncrementalCycleWithSliceBudgetsReachesNotActive(t *testing.T) {
	h, z := newHeapWithZone(t)
	var cells []*cell.Cell
	for i := 0; i < 40; i++ {
		c, err := h.Allocate(z, cell.ObjectSlots2, 1, true)
		require.NoError(t, err)
		cells = append(cells, c)
	}
	for i := 1; i < len(cells); i++ {
		link(cells[i], 0, cells[i-1])
	}
	handle := &roots.Handle{Ref: cells[len(cells)-1]}
	h.AddPersistent(cell.ObjectSlots2, handle)

	require.NoError(t, h.Start())
	slices := 0
	for h.State() != NotActive {
		h.Slice(3)
		slices++
		require.Less(t, slices, 10000, "incremental cycle did not converge")
	}
	assert.Greater(t, slices, 1, "a 40-deep chain with budget 3 should take more than one slice")
	assert.Equal(t, NotActive, h.State())
}

func TestFullCollectionReleasesDeadRegionAndPreservesSurvivor(t *testing.T) {
	h, z := newHeapWithZone(t)

	// DefaultCapacity is 256 slots per region, so 300 cells span two regions;
	// only the very first is rooted, so the second region ends up entirely
	// dead and must be reclaimed by the Sweep/Decommit pass.
	var survivor *cell.Cell
	for i := 0; i < 300; i++ {
		c, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
		require.NoError(t, err)
		if i == 0 {
			survivor = c
		}
	}
	handle := &roots.Handle{Ref: survivor}
	h.AddPersistent(cell.ObjectSlots0, handle)

	before := len(h.allocs[z].TenuredSet(cell.ObjectSlots0).Regions())
	require.NoError(t, h.Finish())
	after := len(h.allocs[z].TenuredSet(cell.ObjectSlots0).Regions())
	assert.Less(t, after, before)
	assert.Equal(t, survivor.Kind(), cell.Resolve(handle.Ref).Kind())
}

func TestAbortMidMarkLeavesHeapUsable(t *testing.T) {
	h, z := newHeapWithZone(t)
	c, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)
	handle := &roots.Handle{Ref: c}
	h.AddPersistent(cell.ObjectSlots0, handle)

	require.NoError(t, h.Start())
	h.Slice(0) // MarkRoots only; nothing consumed yet
	h.Abort()
	assert.Equal(t, NotActive, h.State())

	// A fresh cycle afterward must still run to completion.
	require.NoError(t, h.Finish())
	assert.Equal(t, NotActive, h.State())
}

func TestWeakMapSweepDropsOnlyDeadKeys(t *testing.T) {
	h, z := newHeapWithZone(t)
	keyLive, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)
	valLive, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)
	keyDead, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)
	valDead, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)

	wm := mark.NewWeakMap()
	wm.Set(keyLive, valLive)
	wm.Set(keyDead, valDead)
	h.RegisterWeakMap(wm)

	handle := &roots.Handle{Ref: keyLive}
	h.AddPersistent(cell.ObjectSlots0, handle)

	var finalized []*cell.Cell
	h.OnFinalize(func(c *cell.Cell) { finalized = append(finalized, c) })

	require.NoError(t, h.Finish())

	_, stillHasLive := wm.Entries[cell.Resolve(keyLive)]
	assert.True(t, stillHasLive)
	assert.Len(t, wm.Entries, 1)
	// valLive is reachable only through keyLive's weak-map entry; it must
	// survive the collection, not be finalized alongside valDead.
	assert.NotContains(t, finalized, cell.Resolve(valLive))
}

func TestNurseryAllocationBeyondCapacityTriggersMinorGC(t *testing.T) {
	h := NewHeap(8, true)
	g := h.NewGroup()
	z := h.NewZone(g)

	var cells []*cell.Cell
	for i := 0; i < 40; i++ {
		c, err := h.Allocate(z, cell.ObjectSlots0, 0, false)
		require.NoError(t, err)
		cells = append(cells, c)
	}
	assert.Len(t, cells, 40)
	for _, c := range cells {
		assert.NotNil(t, cell.Resolve(c))
	}
}

func TestZealGCRunsCollectionOnEveryAllocation(t *testing.T) {
	h, z := newHeapWithZone(t)
	h.SetZeal(ZealGC)
	for i := 0; i < 5; i++ {
		_, err := h.Allocate(z, cell.ObjectSlots0, 0, true)
		require.NoError(t, err)
		assert.Equal(t, NotActive, h.State(), "ZealGC must finish the cycle it starts before Allocate returns")
	}
}

func TestParseAndSetZealRejectsUnknownMode(t *testing.T) {
	h, _ := newHeapWithZone(t)
	assert.NoError(t, h.ParseAndSetZeal("alloc"))
	assert.Error(t, h.ParseAndSetZeal("bogus"))
}

func TestCrossZoneEdgeOrdersSweepGroups(t *testing.T) {
	h := NewHeap(64, true)
	g := h.NewGroup()
	zA := h.NewZone(g)
	zB := h.NewZone(g)
	h.RecordZoneEdge(zA, zB)

	a, err := h.Allocate(zA, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)
	b, err := h.Allocate(zB, cell.ObjectSlots0, 0, true)
	require.NoError(t, err)
	h.AddPersistent(cell.ObjectSlots0, &roots.Handle{Ref: a})
	h.AddPersistent(cell.ObjectSlots0, &roots.Handle{Ref: b})

	require.NoError(t, h.Finish())
	assert.Equal(t, NotActive, h.State())
}
