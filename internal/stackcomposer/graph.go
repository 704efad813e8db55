package stackcomposer

// tarjanSCC finds strongly connected components of a directed graph given
// as an adjacency list keyed by node name, using Tarjan's algorithm (§4.3
// step 3: "Detect cycles via Tarjan SCC"). A component with more than one
// node, or a single node with a self-loop, is a cycle.
func tarjanSCC(adj map[string][]string) [][]string {
	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var sccs [][]string

	var nodes []string
	for n := range adj {
		nodes = append(nodes, n)
	}

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var component []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, component)
		}
	}

	for _, n := range nodes {
		if _, seen := indices[n]; !seen {
			strongconnect(n)
		}
	}
	return sccs
}

// hasSelfLoop reports whether node appears in its own adjacency list.
func hasSelfLoop(adj map[string][]string, node string) bool {
	for _, w := range adj[node] {
		if w == node {
			return true
		}
	}
	return false
}
