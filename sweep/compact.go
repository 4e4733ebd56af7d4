package sweep

import (
	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/region"
)

// defaultCompactionSources bounds how many of a kind's most-fragmented
// regions are selected as relocation sources in one Compact call (§4.12).
const defaultCompactionSources = 4

// CompactResult summarizes one kind's compaction pass.
type CompactResult struct {
	Kind         cell.Kind
	Relocated    int
	RegionsFreed int
}

// Compact relocates every live cell out of set's most-fragmented regions
// into freshly allocated regions, leaves a forwarding overlay on each
// original cell (cell.SetForwarded), and then drops the now-empty source
// regions from set (§4.12 "select fragmented regions... relocate cells...").
//
// Relocation destinations are allocated into a throwaway Set rather than
// directly into set, so that AllocSlow can never hand out a slot in a
// source region that compaction has not finished draining yet; the
// destination regions are folded into set only once relocation completes.
func Compact(set *region.Set, maxSources int) CompactResult {
	if maxSources <= 0 {
		maxSources = defaultCompactionSources
	}
	sources := set.MostFragmented(maxSources)
	if len(sources) < 2 {
		// Nothing worth compacting: a single fragmented region has no sibling
		// to merge into, so relocating it would just swap one region for
		// another at the same occupancy.
		return CompactResult{Kind: set.Kind()}
	}

	dst := region.NewSet(set.Kind())
	relocated := 0
	for _, src := range sources {
		for it := src.First(); !it.Done(); {
			// Compact must run after a full sweep pass over this set: every
			// cell still occupying a region slot at that point is, by
			// construction, live (sweep already freed the dead ones), so
			// presence in the region is the only liveness signal needed here.
			old := it.Cell()
			idx := it.Index()
			it.Next()
			newC := cell.New(old.Kind(), old.ZoneID, len(old.Edges), false)
			for i, s := range old.Edges {
				newC.Edges[i].Ref = s.Ref
				newC.Edges[i].Name = s.Name
			}
			newC.Payload = old.Payload
			dst.AllocSlow(newC)
			old.SetForwarded(newC)
			src.Free(idx)
			relocated++
		}
	}
	set.AdoptRegions(dst.Regions())
	freed := set.RemoveEmpty()
	return CompactResult{Kind: set.Kind(), Relocated: relocated, RegionsFreed: freed}
}
