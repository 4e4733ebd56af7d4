// Package zone implements zones, compartments, and zone groups (§3, C10),
// and the sweep-group scheduler that orders per-zone sweeping so no zone is
// finalized while a live reference to it still exists in an unswept zone
// (P4).
package zone

import "github.com/grailbio/gc/cell"

// ID identifies a zone within a heap. Zones are numbered densely starting
// at 0 by the caller that creates them (driver.Heap.NewZone).
type ID = uint32

// Zone is a partition of the tenured heap: the unit at which GC decisions
// are made (§3 Zone).
type Zone struct {
	ID           ID
	Collecting   bool
	Color        cell.Color
	Compartments []*Compartment

	// IncomingGray holds wrappers referring into this zone that were
	// appended during marking because following them would have crossed a
	// zone-group boundary into a cell that would be marked gray (§4.9 gray
	// marking). It is drained and cleared after the slice.
	IncomingGray []*GrayEdge

	sweepIndex int
	uids       map[*cell.Cell]uint64
	nextUIDVal uint64

	next *Zone // next-zone-in-group link (§3)
}

// GrayEdge records a wrapper cell that refers to an object in another zone
// which, at mark time, would have had to be colored gray.
type GrayEdge struct {
	Wrapper *cell.Cell
	Target  *cell.Cell
}

// New creates an empty zone with the given id.
func New(id ID) *Zone {
	return &Zone{ID: id, uids: make(map[*cell.Cell]uint64)}
}

// NewCompartment creates and attaches a compartment to the zone.
func (z *Zone) NewCompartment() *Compartment {
	c := &Compartment{Zone: z, Wrappers: make(map[*cell.Cell]*cell.Cell)}
	z.Compartments = append(z.Compartments, c)
	return c
}

// SweepIndex / SetSweepIndex let the sweep driver (C12) persist its resume
// position across a budget-exhausted slice.
func (z *Zone) SweepIndex() int       { return z.sweepIndex }
func (z *Zone) SetSweepIndex(i int)   { z.sweepIndex = i }

// AssignUID returns a zone-local unique id for c, assigning one on first
// use (I7-adjacent bookkeeping: the zone, not the cell, owns the id table so
// it can be maintained ahead of sweep per the §9 Open Question ordering
// requirement).
func (z *Zone) AssignUID(c *cell.Cell) uint64 {
	if id, ok := z.uids[c]; ok {
		return id
	}
	z.nextUIDVal++
	z.uids[c] = z.nextUIDVal
	return z.nextUIDVal
}

// ForgetUID removes c's entry from the uid table. Per the §9 Open Question,
// this must be called by the sweeper for a dead cell before the cell's
// slot is reused, never after.
func (z *Zone) ForgetUID(c *cell.Cell) { delete(z.uids, c) }

// Compartment is a security/isolation scope within a zone (§3 Compartment).
type Compartment struct {
	Zone         *Zone
	Wrappers     map[*cell.Cell]*cell.Cell // cross-compartment wrapper: wrapper cell -> wrapped target
	IncomingGray []*GrayEdge
}

// AddWrapper records a cross-compartment wrapper cell standing in for
// target, which may live in a different zone.
func (c *Compartment) AddWrapper(wrapper, target *cell.Cell) {
	c.Wrappers[wrapper] = target
}
