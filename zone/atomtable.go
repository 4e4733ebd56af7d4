package zone

import (
	"sync"

	"github.com/grailbio/base/bitset"

	"github.com/grailbio/gc/cell"
)

// AtomTable is the atoms zone (§3: "the atoms zone is shared by all zone
// groups; all accesses to it require an exclusive-access lock" — a mutex
// here rather than the original's dedicated lock primitive). Atom survival
// does not follow ordinary mark-and-sweep coloring: an atom is kept alive
// iff at least one live zone's atom bitmap names it (I7, P5). Each zone
// accumulates its own bitmap of atom ids it has referenced since the table
// was last reset for the cycle; AtomTable answers "is this atom named by
// any zone" by checking every zone's bitmap.
type AtomTable struct {
	mu    sync.Mutex
	ids   map[*cell.Cell]int
	cells []*cell.Cell
	bits  map[ID][]uintptr
}

// NewAtomTable creates an empty atoms zone.
func NewAtomTable() *AtomTable {
	return &AtomTable{ids: make(map[*cell.Cell]int), bits: make(map[ID][]uintptr)}
}

func (t *AtomTable) internLocked(c *cell.Cell) int {
	if id, ok := t.ids[c]; ok {
		return id
	}
	id := len(t.cells)
	t.ids[c] = id
	t.cells = append(t.cells, c)
	return id
}

// IDOf returns c's atom id, if c has ever been interned.
func (t *AtomTable) IDOf(c *cell.Cell) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ids[c]
	return id, ok
}

// ReferenceAtom records that zoneID's live graph holds an edge into atom
// cell c during the current cycle, interning c first if this is its first
// reference. Called by the marker's OnEdge whenever a traced edge resolves
// to an Atom/InlineAtom cell (§4.4/§4.9).
func (t *AtomTable) ReferenceAtom(zoneID ID, c *cell.Cell) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.internLocked(c)
	words := t.bits[zoneID]
	need := id/bitset.BitsPerWord + 1
	if need > len(words) {
		grown := make([]uintptr, need)
		copy(grown, words)
		words = grown
		t.bits[zoneID] = words
	}
	w := id / bitset.BitsPerWord
	bit := uintptr(1) << uint(id%bitset.BitsPerWord)
	words[w] |= bit
}

// ResetZone clears zoneID's bitmap. Called once per zone at the start of a
// collection cycle (before root tracing), so only edges traced during the
// new cycle count; a zone that stopped referencing an atom since the last
// cycle does not keep it alive forever.
func (t *AtomTable) ResetZone(zoneID ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.bits, zoneID)
}

func (t *AtomTable) liveLocked(id int) bool {
	w := id / bitset.BitsPerWord
	bit := uintptr(1) << uint(id%bitset.BitsPerWord)
	for _, words := range t.bits {
		if w < len(words) && words[w]&bit != 0 {
			return true
		}
	}
	return false
}

// Live reports whether any zone's bitmap currently names the atom with the
// given id (P5).
func (t *AtomTable) Live(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveLocked(id)
}
