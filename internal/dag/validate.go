package dag

import "container/heap"

// validateAcyclic runs Kahn's algorithm over the composition edges; leftover
// nodes mean at least one cycle, and one witness path is reported.
func (g *TaskGraph) validateAcyclic() error {
	if order := g.topoOrderIndices(); len(order) == len(g.nodes) {
		return nil
	}
	return cycleError(g.findCycle())
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns node indices in topological order; ties are broken
// by canonical index through a min-heap ready queue.
func (g *TaskGraph) topoOrderIndices() []int {
	indeg := append([]int(nil), g.indeg...)

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle walks the graph depth-first in canonical order and returns the
// first back-edge cycle it meets as a closed name path (a -> b -> a).
func (g *TaskGraph) findCycle() []string {
	const (
		unvisited = iota
		onStack
		done
	)

	mark := make([]int, len(g.nodes))
	var stack []int
	var cycle []int

	var visit func(u int) bool
	visit = func(u int) bool {
		mark[u] = onStack
		stack = append(stack, u)
		for _, v := range g.outgoing[u] {
			switch mark[v] {
			case unvisited:
				if visit(v) {
					return true
				}
			case onStack:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == v {
						cycle = append(append(cycle, stack[i:]...), v)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		mark[u] = done
		return false
	}

	for i := range g.nodes {
		if mark[i] == unvisited && visit(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		out = append(out, g.nodes[idx].Name)
	}
	return out
}
