package zone

// Scheduler accumulates the cross-zone reference graph reported through
// AddEdge (driver.Heap.RecordZoneEdge) and partitions it into sweep groups via Tarjan's SCC algorithm
// (C10). All zones in one strongly connected component are swept in the
// same slice, so that no live edge can reach a zone that has already been
// finalized — the hazard described in spec §1.
//
// Edges are recorded in the "referrer points at referent" direction
// (out[u] contains v iff u holds a live reference into v). Group order is
// then chosen as a topological sort of the condensation DAG that processes
// a component only once every component it points at has already been
// processed (P4: "no zone is swept while it has an outgoing unmarked-
// referent edge to a zone not yet swept").
type Scheduler struct {
	out map[ID]map[ID]bool
}

// NewScheduler creates an empty cross-zone edge accumulator.
func NewScheduler() *Scheduler {
	return &Scheduler{out: make(map[ID]map[ID]bool)}
}

// AddEdge records that zone `from` holds a live reference into zone `to`.
// Self-edges (from == to) are recorded but never affect group ordering.
func (s *Scheduler) AddEdge(from, to ID) {
	m, ok := s.out[from]
	if !ok {
		m = make(map[ID]bool)
		s.out[from] = m
	}
	m[to] = true
	if _, ok := s.out[to]; !ok {
		s.out[to] = make(map[ID]bool)
	}
}

// EnsureZone registers a zone with no recorded edges yet, so it still gets
// its own singleton sweep group.
func (s *Scheduler) EnsureZone(id ID) {
	if _, ok := s.out[id]; !ok {
		s.out[id] = make(map[ID]bool)
	}
}

// Reset discards all recorded edges, ready for the next collection cycle.
func (s *Scheduler) Reset() {
	s.out = make(map[ID]map[ID]bool)
}

// tarjanState carries Tarjan's algorithm's working state across the
// recursive (stack-simulated) DFS.
type tarjanState struct {
	out      map[ID]map[ID]bool
	index    map[ID]int
	lowlink  map[ID]int
	onStack  map[ID]bool
	stack    []ID
	counter  int
	sccs     [][]ID
}

// SweepGroups computes the sweep groups for every zone seen via AddEdge or
// EnsureZone, ordered so group i's zones may be safely swept once every
// group before it has been fully swept (P4).
func (s *Scheduler) SweepGroups() [][]ID {
	st := &tarjanState{
		out:     s.out,
		index:   make(map[ID]int),
		lowlink: make(map[ID]int),
		onStack: make(map[ID]bool),
	}
	// Iterate zone ids in sorted order so the decomposition is deterministic
	// across runs (useful for the zeal/reproducibility story in §4.11).
	ids := make([]ID, 0, len(s.out))
	for id := range s.out {
		ids = append(ids, id)
	}
	sortIDs(ids)
	for _, id := range ids {
		if _, seen := st.index[id]; !seen {
			st.strongConnect(id)
		}
	}
	return orderByDependency(st.sccs, s.out)
}

func (st *tarjanState) strongConnect(v ID) {
	st.index[v] = st.counter
	st.lowlink[v] = st.counter
	st.counter++
	st.stack = append(st.stack, v)
	st.onStack[v] = true

	neighbors := make([]ID, 0, len(st.out[v]))
	for w := range st.out[v] {
		neighbors = append(neighbors, w)
	}
	sortIDs(neighbors)
	for _, w := range neighbors {
		if w == v {
			continue
		}
		if _, seen := st.index[w]; !seen {
			st.strongConnect(w)
			if st.lowlink[w] < st.lowlink[v] {
				st.lowlink[v] = st.lowlink[w]
			}
		} else if st.onStack[w] {
			if st.index[w] < st.lowlink[v] {
				st.lowlink[v] = st.index[w]
			}
		}
	}

	if st.lowlink[v] == st.index[v] {
		var scc []ID
		for {
			n := len(st.stack) - 1
			w := st.stack[n]
			st.stack = st.stack[:n]
			st.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		st.sccs = append(st.sccs, scc)
	}
}

// orderByDependency topologically sorts the SCCs (the condensation DAG) so
// that a component is emitted only after every component it has an edge
// into has already been emitted.
func orderByDependency(sccs [][]ID, out map[ID]map[ID]bool) [][]ID {
	compOf := make(map[ID]int)
	for i, scc := range sccs {
		for _, id := range scc {
			compOf[id] = i
		}
	}
	// outDeg[i] = number of distinct components i has an edge into, other
	// than itself.
	outDeg := make([]int, len(sccs))
	condOut := make([]map[int]bool, len(sccs)) // i -> set of components i points at
	condIn := make([]map[int]bool, len(sccs))  // i -> set of components that point at i
	for i := range sccs {
		condOut[i] = make(map[int]bool)
		condIn[i] = make(map[int]bool)
	}
	for u, targets := range out {
		ci := compOf[u]
		for v := range targets {
			cj := compOf[v]
			if ci == cj {
				continue
			}
			if !condOut[ci][cj] {
				condOut[ci][cj] = true
				condIn[cj][ci] = true
			}
		}
	}
	for i := range sccs {
		outDeg[i] = len(condOut[i])
	}

	var order []int
	ready := make([]int, 0)
	for i, d := range outDeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	done := make([]bool, len(sccs))
	for len(ready) > 0 {
		sortInts(ready)
		i := ready[0]
		ready = ready[1:]
		if done[i] {
			continue
		}
		done[i] = true
		order = append(order, i)
		for parent := range condIn[i] {
			if done[parent] {
				continue
			}
			delete(condOut[parent], i)
			if len(condOut[parent]) == 0 {
				ready = append(ready, parent)
			}
		}
	}
	// Any remaining components indicate a condensation-DAG cycle, which
	// cannot happen (SCCs are acyclic by construction); fall back to
	// appending them in discovery order defensively.
	for i := range sccs {
		if !done[i] {
			order = append(order, i)
		}
	}

	result := make([][]ID, len(order))
	for pos, i := range order {
		result[pos] = sccs[i]
	}
	return result
}

func sortIDs(ids []ID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}
