package mark

import "github.com/grailbio/gc/cell"

// WeakMap is a weak-key table: an entry's value is only kept alive once its
// key is independently reached by marking (§4.9 weak-marking mode).
type WeakMap struct {
	Entries map[*cell.Cell]*cell.Cell
}

// NewWeakMap creates an empty weak map.
func NewWeakMap() *WeakMap {
	return &WeakMap{Entries: make(map[*cell.Cell]*cell.Cell)}
}

// Set records key -> value. Neither is marked by Set itself.
func (w *WeakMap) Set(key, value *cell.Cell) {
	w.Entries[key] = value
}

// ProcessWeakMaps propagates marks through every map in maps until a
// fixpoint is reached: visiting a key updates the implicit WeakKey->
// WeakEntry relationship, and an entry whose key is already marked black has
// its value eagerly marked too, which may in turn mark other maps' keys
// (§4.9). It returns the number of values newly marked this call.
//
// The driver calls it in a loop at the Mark->Sweep transition, draining the
// mark stack between calls, until it returns 0, at which point weak-marking
// has reached its fixpoint and sweeping weak maps (SweepWeakMap) is safe.
func (m *Marker) ProcessWeakMaps(maps []*WeakMap) int {
	total := 0
	changed := true
	for changed {
		changed = false
		for _, wm := range maps {
			for key, val := range wm.Entries {
				if val == nil {
					continue
				}
				rk := cell.Resolve(key)
				if !cell.IsMarked(rk, cell.Black) {
					continue
				}
				rv := cell.Resolve(val)
				if cell.IsMarked(rv, cell.Black) {
					continue
				}
				m.markCell(rv)
				total++
				changed = true
			}
		}
		if changed {
			m.Drain(1 << 30)
		}
	}
	return total
}

// SweepWeakMap removes every entry whose key did not end up marked black,
// and resolves forwarding on the surviving keys/values (post-compaction
// bookkeeping). It returns the number of entries removed.
func SweepWeakMap(wm *WeakMap) int {
	removed := 0
	live := make(map[*cell.Cell]*cell.Cell, len(wm.Entries))
	for key, val := range wm.Entries {
		rk := cell.Resolve(key)
		if !cell.IsMarked(rk, cell.Black) {
			removed++
			continue
		}
		live[rk] = cell.Resolve(val)
	}
	wm.Entries = live
	return removed
}
