package mark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/zone"
)

func newObj(nSlots int) *cell.Cell {
	return cell.New(cell.ObjectSlots4, 0, nSlots, false)
}

func link(c *cell.Cell, i int, target *cell.Cell) {
	c.Edges[i].Ref = target
}

func TestStackPushOverflowDelays(t *testing.T) {
	s := NewStack(1)
	a := newObj(0)
	b := newObj(0)
	require.True(t, s.Push(Entry{Tag: EntryObject, Cell: a}))
	s.PushOrDelay(Entry{Tag: EntryObject, Cell: b})
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.DelayedLen())

	_, _ = s.Pop()
	n := s.PromoteDelayed()
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.DelayedLen())
	assert.Equal(t, 1, s.Len())
}

func TestStackPushOrDelayValueArrayDelaysOwnerNotCell(t *testing.T) {
	s := NewStack(1)
	a := newObj(0)
	owner := newObj(4)
	require.True(t, s.Push(Entry{Tag: EntryObject, Cell: a}))
	s.PushOrDelay(Entry{Tag: EntryValueArray, Owner: owner, From: 0, To: 4})
	require.Equal(t, 1, s.DelayedLen())

	_, _ = s.Pop()
	n := s.PromoteDelayed()
	assert.Equal(t, 1, n)
	e, ok := s.Pop()
	require.True(t, ok)
	assert.Same(t, owner, e.Cell, "overflowed value-array entry must delay its Owner cell, not a nil Cell")
}

func TestMarkerIdempotentDoubleMark(t *testing.T) {
	m := New(nil, 0)
	c := newObj(0)
	m.MarkRoot(c)
	m.MarkRoot(c) // P6: marking twice must not re-push or double-count
	remaining, done := m.Drain(1000)
	assert.True(t, done)
	assert.Equal(t, 999, remaining) // c was only pushed/processed once
	assert.True(t, cell.IsMarked(c, cell.Black))
}

func TestMarkerTracesObjectGraph(t *testing.T) {
	m := New(nil, 0)
	root := newObj(2)
	childA := newObj(1)
	childB := newObj(0)
	link(root, 0, childA)
	link(root, 1, childB)
	link(childA, 0, childB)

	m.MarkRoot(root)
	_, done := m.Drain(1000)
	require.True(t, done)

	assert.True(t, cell.IsMarked(root, cell.Black))
	assert.True(t, cell.IsMarked(childA, cell.Black))
	assert.True(t, cell.IsMarked(childB, cell.Black))
}

func TestMarkInlineRopeChain(t *testing.T) {
	m := New(nil, 0)
	// Build a left-leaning rope chain of ropes, each with a plain leaf right
	// child, long enough to exceed inlineDepthCap and force a spill.
	var head *cell.Cell
	for i := 0; i < inlineDepthCap+10; i++ {
		rope := cell.New(cell.String, 0, 2, false)
		rope.Payload = true // IsRope
		leaf := cell.New(cell.String, 0, 0, false)
		rope.Edges[1].Ref = leaf
		if head != nil {
			rope.Edges[0].Ref = head
		}
		head = rope
	}

	m.MarkRoot(head)
	// The spilled continuation lands as an EntryTempRope on the stack (or the
	// delayed list, if capacity-bound); draining with ample budget finishes
	// the whole chain either way.
	_, done := m.Drain(10000)
	assert.True(t, done)

	cur := head
	count := 0
	for cur != nil {
		assert.True(t, cell.IsMarked(cur, cell.Black), "rope node %d should be marked", count)
		assert.True(t, cell.IsMarked(cur.Edges[1].Ref, cell.Black), "rope node %d's leaf should be marked", count)
		cur = cur.Edges[0].Ref
		count++
	}
	assert.Equal(t, inlineDepthCap+10, count)
}

func TestMarkInlineShapeParentChain(t *testing.T) {
	m := New(nil, 0)
	base := cell.New(cell.Shape, 0, 1, false)
	mid := cell.New(cell.Shape, 0, 1, false)
	mid.Edges[0].Ref = base
	leaf := cell.New(cell.Shape, 0, 1, false)
	leaf.Edges[0].Ref = mid

	m.MarkRoot(leaf)
	_, done := m.Drain(1000)
	require.True(t, done)
	assert.True(t, cell.IsMarked(leaf, cell.Black))
	assert.True(t, cell.IsMarked(mid, cell.Black))
	assert.True(t, cell.IsMarked(base, cell.Black))
}

// fakeLocator places every even zone id in group 0 and every odd zone id in
// group 1, so an edge between an even and an odd zone always crosses groups.
type fakeLocator struct {
	zoneOf map[*cell.Cell]zone.ID
	zones  map[zone.ID]*zone.Zone
}

func (f *fakeLocator) ZoneOf(c *cell.Cell) zone.ID { return f.zoneOf[c] }
func (f *fakeLocator) GroupOf(id zone.ID) uint32    { return uint32(id % 2) }
func (f *fakeLocator) Zone(id zone.ID) *zone.Zone   { return f.zones[id] }

func TestGrayMarkingDefersCrossGroupEdge(t *testing.T) {
	z0 := zone.New(0)
	z1 := zone.New(1)
	loc := &fakeLocator{
		zoneOf: map[*cell.Cell]zone.ID{},
		zones:  map[zone.ID]*zone.Zone{0: z0, 1: z1},
	}
	m := New(loc, 0)

	owner := newObj(1)
	target := newObj(0)
	loc.zoneOf[owner] = 0
	loc.zoneOf[target] = 1
	link(owner, 0, target)

	m.MarkRoot(owner)
	_, done := m.Drain(1000)
	require.True(t, done)

	assert.True(t, cell.IsMarked(owner, cell.Black))
	// target was never followed directly: it is gray, recorded on z1's
	// incoming list, not yet black.
	assert.True(t, cell.IsMarked(target, cell.Gray))
	require.Len(t, z1.IncomingGray, 1)
	assert.Equal(t, owner, z1.IncomingGray[0].Wrapper)
	assert.Equal(t, target, z1.IncomingGray[0].Target)

	promoted := m.DrainIncomingGray(z1)
	assert.Equal(t, 1, promoted)
	_, done = m.Drain(1000)
	require.True(t, done)
	assert.True(t, cell.IsMarked(target, cell.Black))
	assert.Empty(t, z1.IncomingGray)
}

func TestValueArraySpillsAcrossChunks(t *testing.T) {
	m := New(nil, 0)
	owner := newObj(valueArrayChunk*2 + 5)
	leaves := make([]*cell.Cell, len(owner.Edges))
	for i := range owner.Edges {
		leaves[i] = newObj(0)
		owner.Edges[i].Ref = leaves[i]
	}
	cell.MarkIfUnmarked(owner, cell.Black)

	m.PushValueArray(owner, 0, len(owner.Edges))
	_, done := m.Drain(10000)
	assert.True(t, done)
	for i, leaf := range leaves {
		assert.True(t, cell.IsMarked(leaf, cell.Black), "leaf %d should be marked", i)
	}
}

func TestProcessWeakMapsPropagatesThroughFixpoint(t *testing.T) {
	m := New(nil, 0)
	keyA := newObj(0)
	valA := newObj(0) // valA doubles as keyB
	valB := newObj(0)

	wm := NewWeakMap()
	wm.Set(keyA, valA)
	wm.Set(valA, valB) // valB only reachable transitively once valA is marked

	m.MarkRoot(keyA)
	_, done := m.Drain(1000)
	require.True(t, done)

	marked := m.ProcessWeakMaps([]*WeakMap{wm})
	assert.Equal(t, 2, marked)
	assert.True(t, cell.IsMarked(valA, cell.Black))
	assert.True(t, cell.IsMarked(valB, cell.Black))

	removed := SweepWeakMap(wm)
	assert.Equal(t, 0, removed)
	assert.Len(t, wm.Entries, 2)
}

func TestSweepWeakMapRemovesDeadKeys(t *testing.T) {
	wm := NewWeakMap()
	deadKey := newObj(0)
	liveKey := newObj(0)
	cell.MarkIfUnmarked(liveKey, cell.Black)
	wm.Set(deadKey, newObj(0))
	wm.Set(liveKey, newObj(0))

	removed := SweepWeakMap(wm)
	assert.Equal(t, 1, removed)
	assert.Len(t, wm.Entries, 1)
	_, ok := wm.Entries[liveKey]
	assert.True(t, ok)
}
