// Package alloc implements the kind-typed allocator (C3): a nursery fast
// path, a region-backed tenured slow path, and the OOM/pre-GC hook
// sequence every allocation runs through.
package alloc

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/nursery"
	"github.com/grailbio/gc/region"
)

// ErrOOM is returned when an allocation fails even after a forced GC retry
// (§4.3, §7 Out-of-memory).
var ErrOOM = errors.New("gc: out of memory")

// GCInvoker is the "maybe GC" collaborator the allocator calls into on a
// failing allocation (§4.3 contract step 1). It is defined here, not
// imported from the driver package, so alloc has no dependency on driver
// (driver depends on alloc, not the reverse).
type GCInvoker interface {
	// MaybeGC runs a GC slice if the allocator's failure warrants one and
	// reports whether it ran. kind is the kind that failed to allocate, so a
	// nursery-only failure can trigger a minor GC instead of a full cycle.
	MaybeGC(kind cell.Kind) bool
}

// StateChecker implements check_allocator_state (§4.3): run before every
// allocation, it may itself trigger a GC or refuse the allocation outright
// (e.g. mid-sweep for the kind's zone, or the heap in an unsafe-GC region).
type StateChecker interface {
	CheckAllocatorState(kind cell.Kind) error
}

// Allocator is one zone group's allocator: a nursery fast path shared across
// all nursery-allocable kinds, plus one tenured region.Set per kind.
type Allocator struct {
	nursery *nursery.Nursery
	tenured [cell.NumKinds]*region.Set
	state   StateChecker
	gc      GCInvoker
	zoneID  uint32
}

// New constructs an Allocator backed by n for the nursery fast path, state
// for pre-allocation checks, and gc for the OOM retry hook.
func New(n *nursery.Nursery, state StateChecker, gc GCInvoker, zoneID uint32) *Allocator {
	a := &Allocator{nursery: n, state: state, gc: gc, zoneID: zoneID}
	for k := cell.Kind(0); int(k) < cell.NumKinds; k++ {
		a.tenured[k] = region.NewSet(k)
	}
	return a
}

// Nursery returns the allocator's nursery, for callers (e.g. the driver)
// that need to trigger or inspect minor GC directly.
func (a *Allocator) Nursery() *nursery.Nursery { return a.nursery }

// TenuredSet returns the region set backing kind, for the compactor and
// zone scheduler.
func (a *Allocator) TenuredSet(kind cell.Kind) *region.Set { return a.tenured[kind] }

// Allocate is `allocate(ctx, kind, extra_slots?, heap_hint)` (§4.3, §6).
// heapHint, if true, forces the tenured path even for a nursery-allocable
// kind.
func (a *Allocator) Allocate(kind cell.Kind, extraSlots int, heapHint bool) (*cell.Cell, error) {
	if err := a.state.CheckAllocatorState(kind); err != nil {
		return nil, err
	}
	c, err := a.tryAllocate(kind, extraSlots, heapHint)
	if err == nil {
		return c, nil
	}
	log.Debug.Printf("alloc: allocation of %v failed (%v), forcing GC and retrying once", kind, err)
	a.gc.MaybeGC(kind)
	c, err = a.tryAllocate(kind, extraSlots, heapHint)
	if err != nil {
		return nil, ErrOOM
	}
	return c, nil
}

// AllocTenured implements nursery.TenuredAllocator: minor GC promotion
// always goes straight to the tenured slow path, bypassing check_allocator_
// state (a promotion can't be refused without breaking I5).
func (a *Allocator) AllocTenured(kind cell.Kind, nSlots int, zoneID uint32) *cell.Cell {
	c := cell.New(kind, zoneID, nSlots, false)
	a.tenured[kind].AllocSlow(c)
	return c
}

func (a *Allocator) tryAllocate(kind cell.Kind, extraSlots int, heapHint bool) (*cell.Cell, error) {
	if !heapHint {
		if c, ok := a.nursery.Alloc(kind, extraSlots, a.zoneID); ok {
			return c, nil
		}
	}
	c := cell.New(kind, a.zoneID, extraSlots, false)
	set := a.tenured[kind]
	if len(set.Regions()) > maxRegionsPerKind {
		return nil, ErrOOM
	}
	set.AllocSlow(c)
	return c, nil
}

// maxRegionsPerKind is a soft ceiling that lets a pathological allocation
// pattern surface as OOM instead of growing unboundedly; real allocators
// bound this by the host's page budget instead of a fixed region count.
const maxRegionsPerKind = 1 << 20
