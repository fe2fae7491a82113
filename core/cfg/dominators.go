package cfg

import mapset "github.com/deckarep/golang-set"

// preds returns, for each node, the set of nodes with a direct edge into
// it, the standard precursor to an iterative dominator solve.
func preds(g *Graph) [][]int {
	out := make([][]int, len(g.starts))
	for n, succs := range g.succ {
		for _, s := range succs {
			out[s] = append(out[s], n)
		}
	}
	return out
}

// dominators computes, for every node, the set of its dominators
// (including itself): nodes through which every path from the entry node
// (0, the program's first discovered basic block) must pass. Standard
// iterative data-flow solve (the Cooper/Harvey/Kennedy formulation).
func dominators(g *Graph) []mapset.Set {
	n := len(g.starts)
	dom := make([]mapset.Set, n)
	if n == 0 {
		return dom
	}
	all := mapset.NewSet()
	for i := 0; i < n; i++ {
		all.Add(i)
	}
	dom[0] = mapset.NewSet(0)
	for i := 1; i < n; i++ {
		dom[i] = all.Clone()
	}
	p := preds(g)
	changed := true
	for changed {
		changed = false
		for i := 1; i < n; i++ {
			var next mapset.Set
			for _, pr := range p[i] {
				if next == nil {
					next = dom[pr].Clone()
				} else {
					next = next.Intersect(dom[pr])
				}
			}
			if next == nil {
				next = mapset.NewSet()
			}
			next.Add(i)
			if !next.Equal(dom[i]) {
				dom[i] = next
				changed = true
			}
		}
	}
	return dom
}

// reaches computes the transitive closure of the edge relation: for each
// node, the set of nodes reachable via one or more edges (not necessarily
// including itself).
func reaches(g *Graph) []mapset.Set {
	n := len(g.starts)
	out := make([]mapset.Set, n)
	for i := 0; i < n; i++ {
		out[i] = mapset.NewSet()
		visited := make([]bool, n)
		var stack []int
		stack = append(stack, g.succ[i]...)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			out[i].Add(cur)
			stack = append(stack, g.succ[cur]...)
		}
	}
	return out
}
