package stagegraph

import "sort"

// DetectCycle checks whether the dependency relation of the graph contains a
// cycle using a three-color DFS. It returns the offending cycle as an ordered
// list of stage names — starting at the node where the loop was re-entered,
// without repeating it at the end — or nil if the graph is acyclic.
//
// Dependencies naming stages absent from the graph are ignored for traversal:
// they have no outgoing edges recorded and cannot close a loop. DFS roots are
// visited in sorted name order, so the result is deterministic for a given
// graph value. O(V+E), no side effects.
func DetectCycle(g Graph) []string {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(g))
	for name := range g {
		state[name] = unvisited
	}

	var stack []string
	var cycle []string

	var dfs func(name string) bool
	dfs = func(name string) bool {
		state[name] = visiting
		stack = append(stack, name)

		for _, dep := range g[name].DependsOn {
			switch state[dep] {
			case visiting:
				// Loop closed: the cycle is the stack suffix from the
				// re-entered node onward.
				for i, n := range stack {
					if n == dep {
						cycle = append([]string{}, stack[i:]...)
						break
					}
				}
				return true
			case unvisited:
				if _, ok := g[dep]; !ok {
					continue // orphan reference, inert
				}
				if dfs(dep) {
					return true
				}
			}
		}

		state[name] = visited
		stack = stack[:len(stack)-1]
		return false
	}

	roots := make([]string, 0, len(g))
	for name := range g {
		roots = append(roots, name)
	}
	sort.Strings(roots)

	for _, name := range roots {
		if state[name] == unvisited && dfs(name) {
			return cycle
		}
	}
	return nil
}

// WouldCreateCycle reports whether inserting a stage with the given name and
// dependencies would make the graph cyclic, along with the evidence path.
// The check runs on a copy — the real graph is never mutated — so it is safe
// to call any number of times as a pre-check before AddStage. A stage of the
// same name already in the graph is overwritten in the copy only.
func WouldCreateCycle(g Graph, name string, deps []string) (bool, []string) {
	trial := g.clone()
	trial[name] = Stage{Name: name, DependsOn: DepList(deps)}

	if cycle := DetectCycle(trial); cycle != nil {
		return true, cycle
	}
	return false, nil
}
