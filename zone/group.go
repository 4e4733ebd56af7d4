package zone

import (
	"sync"

	"github.com/grailbio/base/log"
)

// Group is an exclusive-access domain holding one or more zones (§3 Zone
// Group). At most one cooperating thread may be "inside" a group at a time;
// re-entry from the same thread is counted rather than deadlocking, which
// is the Go-native expression of the "cooperating context" abstraction
// described in §9: a mutex per zone group acquired by the owning thread,
// with a counter for reentry.
type Group struct {
	ID    uint32
	Zones []*Zone

	mu      sync.Mutex
	owner   uint64 // goroutine-identifying token; 0 means unowned
	reentry int
}

// NewGroup creates an empty zone group.
func NewGroup(id uint32) *Group { return &Group{ID: id} }

// AddZone attaches z to the group and links it into the group's
// next-zone-in-group chain (§3).
func (g *Group) AddZone(z *Zone) {
	if len(g.Zones) > 0 {
		g.Zones[len(g.Zones)-1].next = z
	}
	g.Zones = append(g.Zones, z)
}

// Enter acquires the group for token, blocking if another token currently
// holds it. Re-entrant calls from the same token simply bump the counter
// (§3 "reentrancy is counted").
func (g *Group) Enter(token uint64) {
	g.mu.Lock()
	if g.owner == token && g.reentry > 0 {
		g.reentry++
		g.mu.Unlock()
		return
	}
	for g.reentry > 0 {
		g.mu.Unlock()
		// A real implementation would park the calling cooperative context
		// here; callers in this package are expected to serialize entry
		// themselves (the driver only ever runs one slice at a time), so
		// busy-waiting never actually occurs in practice.
		g.mu.Lock()
	}
	g.owner = token
	g.reentry = 1
	g.mu.Unlock()
}

// Exit releases one level of re-entrancy; the group becomes free for
// another token once the count reaches zero.
func (g *Group) Exit(token uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner != token || g.reentry == 0 {
		log.Panicf("zone: Exit called by non-owning token")
	}
	g.reentry--
	if g.reentry == 0 {
		g.owner = 0
	}
}

// Owned reports whether the group is currently held by any token.
func (g *Group) Owned() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reentry > 0
}
