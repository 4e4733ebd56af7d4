package cell

import (
	"sync/atomic"

	"github.com/grailbio/base/log"
)

// Color is the tri-color mark state of a cell (§3 Invariants, C1).
type Color int32

const (
	White  Color = iota // unmarked
	Black               // reached, children scanned
	Gray                // reached, children pending
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	case Gray:
		return "gray"
	default:
		return "invalid-color"
	}
}

// Slot is one addressable GC-pointer-holding field of a Cell. Its address
// (the *Slot value itself) is what write barriers and the store buffer key
// on; Name exists only for diagnostics.
type Slot struct {
	Ref  *Cell
	Name string
}

// Header is the fixed-size portion every Cell begins with (§3 Cell). It
// carries the kind tag, mark color, forwarded flag, and uid-assigned flag
// that trace kind, size class, and finalization discipline are derived
// from.
type Header struct {
	kind      Kind
	color     int32 // atomic, see Color
	forwarded int32 // atomic 0/1
	uidSet    int32 // atomic 0/1
}

// Cell is a GC-managed heap object. Edges holds every slot that may carry an
// outgoing GC pointer; ExtraSlots is the count of slots allocated beyond the
// kind's fixed layout (the `extra_slots` parameter of `allocate`). Payload is
// opaque embedder data the collector never inspects.
//
// Cell deliberately has no "address": identity is the *Cell pointer itself,
// and Resolve is the only sanctioned way to read through it once compaction
// may have forwarded it.
type Cell struct {
	Header
	ZoneID  uint32
	Edges   []*Slot
	Payload interface{}

	nurseryBorn bool
	id          uint64 // lazily assigned unique id (I-invariant bookkeeping)

	forwardTo *Cell // non-nil once Header.forwarded is set
}

// New constructs a Cell of the given kind with nSlots pre-allocated Edges.
// It does not place the cell in any region; that is the allocator's job.
func New(kind Kind, zoneID uint32, nSlots int, nurseryBorn bool) *Cell {
	c := &Cell{
		Edges:       make([]*Slot, nSlots),
		ZoneID:      zoneID,
		nurseryBorn: nurseryBorn,
	}
	c.Header.kind = kind
	for i := range c.Edges {
		c.Edges[i] = &Slot{Name: "slot"}
	}
	return c
}

// Kind returns the cell's kind tag. The receiver must already be resolved
// (see Resolve) if the caller cannot prove the cell has not moved.
func (c *Cell) Kind() Kind { return c.Header.kind }

// NurseryBorn reports whether the cell was originally allocated in the
// nursery (used by minor-GC bookkeeping; stable across tenuring).
func (c *Cell) NurseryBorn() bool { return c.nurseryBorn }

// IsForwarded reports whether the cell has been relocated by compaction.
func (c *Cell) IsForwarded() bool { return atomic.LoadInt32(&c.forwarded) != 0 }

// SetForwarded installs a forwarding overlay pointing at target. It is the
// Go-native stand-in for overwriting the cell's first machine word with a
// forwarding record (§3 Forwarding overlay): the receiver becomes a dead
// husk and every field read on it must go through Resolve from here on.
func (c *Cell) SetForwarded(target *Cell) {
	if target == c {
		log.Panicf("cell: cannot forward a cell to itself")
	}
	c.forwardTo = target
	atomic.StoreInt32(&c.forwarded, 1)
}

// ForwardedTarget returns the cell c was relocated to, or nil if c has not
// been forwarded.
func (c *Cell) ForwardedTarget() *Cell {
	if !c.IsForwarded() {
		return nil
	}
	return c.forwardTo
}

// Resolve follows the forwarding chain (if any) and returns the live cell a
// reference should be treated as pointing to. Every dereference downstream
// of a possible compaction must call Resolve first (C1 contract).
func Resolve(c *Cell) *Cell {
	for c != nil && c.IsForwarded() {
		c = c.forwardTo
	}
	return c
}

// IsMarked reports whether the cell's color is exactly want.
func IsMarked(c *Cell, want Color) bool {
	return Color(atomic.LoadInt32(&c.Header.color)) == want
}

// MarkIfUnmarked atomically transitions c from White to color and reports
// whether it performed the transition. It is safe to race against a
// concurrent minor-GC promotion write to the same header (C1 contract):
// both use the same atomic word.
func MarkIfUnmarked(c *Cell, color Color) bool {
	if color == White {
		log.Panicf("cell: MarkIfUnmarked called with White target color")
	}
	return atomic.CompareAndSwapInt32(&c.Header.color, int32(White), int32(color))
}

// SetColor unconditionally sets c's color. Used by gray-unmark recursion and
// by sweep's bulk mark-bit reset between slices.
func SetColor(c *Cell, color Color) {
	atomic.StoreInt32(&c.Header.color, int32(color))
}

// GetColor returns c's current color.
func GetColor(c *Cell) Color { return Color(atomic.LoadInt32(&c.Header.color)) }

// AssignUID assigns a process-unique id to c the first time it is requested,
// and reports the id. Subsequent calls return the same id. This models the
// "uid assigned" header bit and table described in §3/§9 (the UID table must
// be updated before sweep, per the Open Questions).
func AssignUID(c *Cell, next func() uint64) uint64 {
	if atomic.CompareAndSwapInt32(&c.Header.uidSet, 0, 1) {
		c.id = next()
	}
	return c.id
}

// HasUID reports whether AssignUID has ever been called for c.
func HasUID(c *Cell) bool { return atomic.LoadInt32(&c.Header.uidSet) != 0 }
