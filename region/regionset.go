package region

import "github.com/grailbio/gc/cell"

// Set owns every region for a single Kind, in allocation order. It is the
// unit the allocator's tenured slow path grows and the compactor's source
// selection scans (§4.12: "typically the heaviest-fragmented regions of
// compactable kinds").
type Set struct {
	kind    cell.Kind
	regions []*Region
}

// NewSet creates an empty region set for kind.
func NewSet(kind cell.Kind) *Set { return &Set{kind: kind} }

// Kind returns the kind every region in the set shares.
func (s *Set) Kind() cell.Kind { return s.kind }

// Regions returns the set's regions in allocation order.
func (s *Set) Regions() []*Region { return s.regions }

// AllocSlow finds (or creates) a non-full region and allocates c into it,
// returning the region and slot index.
func (s *Set) AllocSlow(c *cell.Cell) (*Region, int) {
	for _, r := range s.regions {
		if !r.Full() {
			return r, r.Alloc(c)
		}
	}
	r := New(s.kind)
	s.regions = append(s.regions, r)
	return r, r.Alloc(c)
}

// FragmentationRatio returns the free fraction 1 - live/capacity across the
// whole set (0 for an empty set), used by the
// compactor to decide whether this kind is worth compacting.
func (s *Set) FragmentationRatio() float64 {
	var live, cap int
	for _, r := range s.regions {
		live += r.Live()
		cap += r.Capacity()
	}
	if cap == 0 {
		return 0
	}
	return 1 - float64(live)/float64(cap)
}

// MostFragmented returns up to n regions from the set ordered by ascending
// occupancy (emptiest first), the natural relocation-source order for
// compaction.
func (s *Set) MostFragmented(n int) []*Region {
	candidates := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		if !r.Empty() {
			candidates = append(candidates, r)
		}
	}
	// Simple insertion sort: region counts per kind are small (hundreds, not
	// millions), and this runs once per compaction pass.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Live() < candidates[j-1].Live(); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}

// AdoptRegions appends regions created outside the set (typically a
// compaction destination built as its own throwaway Set so relocation never
// races with allocation into an in-progress source region) into it.
func (s *Set) AdoptRegions(rs []*Region) {
	s.regions = append(s.regions, rs...)
}

// RemoveEmpty drops and decommits every empty region in the set, returning
// how many were removed.
func (s *Set) RemoveEmpty() int {
	kept := s.regions[:0]
	removed := 0
	for _, r := range s.regions {
		if r.Empty() {
			r.Decommit()
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.regions = kept
	return removed
}
