package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupReentrantEnterExit(t *testing.T) {
	g := NewGroup(1)
	g.Enter(42)
	assert.True(t, g.Owned())
	g.Enter(42) // reentrant from the same token
	g.Exit(42)
	assert.True(t, g.Owned(), "one Exit after two Enters must not release the group")
	g.Exit(42)
	assert.False(t, g.Owned())
}

func TestGroupExitByNonOwnerPanics(t *testing.T) {
	g := NewGroup(1)
	g.Enter(1)
	defer func() {
		r := recover()
		require.NotNil(t, r, "Exit by a non-owning token must panic")
	}()
	g.Exit(2)
}

func TestGroupAddZoneLinksChain(t *testing.T) {
	g := NewGroup(1)
	z0 := New(0)
	z1 := New(1)
	g.AddZone(z0)
	g.AddZone(z1)
	require.Len(t, g.Zones, 2)
	assert.Equal(t, z1, g.Zones[0].next)
}
