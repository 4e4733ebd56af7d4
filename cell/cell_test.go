package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindTableCoversAllKinds(t *testing.T) {
	for k := Kind(0); int(k) < NumKinds; k++ {
		info := KindInfo(k)
		assert.Greater(t, info.Size, uintptr(0), "kind %v has zero size", k)
		assert.Less(t, int(info.Trace), NumTraceKinds, "kind %v has bad trace kind", k)
	}
}

func TestMarkIfUnmarkedIsMonotonic(t *testing.T) {
	c := New(String, 0, 0, true)
	require.True(t, MarkIfUnmarked(c, Black))
	assert.False(t, MarkIfUnmarked(c, Black), "repeated marking must be a no-op (P6)")
	assert.True(t, IsMarked(c, Black))
}

func TestResolveFollowsForwarding(t *testing.T) {
	old := New(ObjectSlots0, 0, 0, false)
	fresh := New(ObjectSlots0, 0, 0, false)
	assert.Same(t, old, Resolve(old))

	old.SetForwarded(fresh)
	assert.True(t, old.IsForwarded())
	assert.Same(t, fresh, Resolve(old))
	assert.Same(t, fresh, old.ForwardedTarget())
}

func TestAssignUIDIsStable(t *testing.T) {
	c := New(Symbol, 0, 0, false)
	var next uint64
	gen := func() uint64 { next++; return next }

	id1 := AssignUID(c, gen)
	id2 := AssignUID(c, gen)
	assert.Equal(t, id1, id2)
	assert.True(t, HasUID(c))
}
