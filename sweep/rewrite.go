package sweep

import (
	"sync"

	"github.com/grailbio/base/traverse"

	"github.com/grailbio/gc/cell"
	"github.com/grailbio/gc/region"
)

// rewritePhaseKinds orders the post-compaction edge-rewrite pass so that
// shapes are fixed up first (most objects share a handful of shapes, so
// resolving those first collapses the most forwarding chains before the
// bulk pass even starts), then object-group / typed-object descriptors,
// then every other kind (§4.12 "three-phase edge rewrite").
func rewritePhaseKinds() [][]cell.Kind {
	shapes := []cell.Kind{cell.Shape, cell.AccessorShape, cell.BaseShape}
	descriptors := []cell.Kind{cell.ObjectGroup}
	skip := map[cell.Kind]bool{}
	for _, k := range shapes {
		skip[k] = true
	}
	for _, k := range descriptors {
		skip[k] = true
	}
	var rest []cell.Kind
	for k := cell.Kind(0); int(k) < cell.NumKinds; k++ {
		if !skip[k] {
			rest = append(rest, k)
		}
	}
	return [][]cell.Kind{shapes, descriptors, rest}
}

// RewriteEdges walks every live cell across heaps, in the kind-priority
// order above, and repoints any edge still referring to a since-forwarded
// cell directly at its resolved target. This lets forwarded husks become
// ordinary unreferenced Go garbage instead of staying reachable forever
// through stale edges (§4.12, C1's Resolve contract). It returns the total
// number of edges rewritten.
func RewriteEdges(heaps []ZoneHeap) int {
	rewritten := 0
	for _, kinds := range rewritePhaseKinds() {
		for _, kind := range kinds {
			rewritten += rewriteKind(heaps, kind)
		}
	}
	return rewritten
}

func rewriteKind(heaps []ZoneHeap, kind cell.Kind) int {
	total := 0
	var mu sync.Mutex
	for _, heap := range heaps {
		regions := heap.TenuredSet(kind).Regions()
		if len(regions) == 0 {
			continue
		}
		// Regions are disjoint, so scanning them concurrently is safe;
		// traverse.Each picks however much parallelism the host offers.
		_ = traverse.Each(len(regions), func(i int) error {
			n := rewriteRegion(regions[i])
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	return total
}

func rewriteRegion(r *region.Region) int {
	n := 0
	for it := r.First(); !it.Done(); it.Next() {
		c := it.Cell()
		for _, s := range c.Edges {
			if s.Ref != nil && s.Ref.IsForwarded() {
				s.Ref = cell.Resolve(s.Ref)
				n++
			}
		}
	}
	return n
}
