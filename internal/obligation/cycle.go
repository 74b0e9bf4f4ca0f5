package obligation

import "sort"

// findCycle runs Kahn's algorithm over the given directed graph and returns
// the node set left with unresolved in-degree (the cycle members, plus any
// nodes downstream of the cycle), or nil when the graph is acyclic. The
// result is sorted for stable error messages.
func findCycle(nodes []string, edges map[string][]string) []string {
	indeg := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indeg[n] = 0
	}
	for _, targets := range edges {
		for _, to := range targets {
			indeg[to]++
		}
	}

	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if indeg[n] == 0 {
			queue = append(queue, n)
		}
	}

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range edges[n] {
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if visited == len(nodes) {
		return nil
	}

	var cycle []string
	for n, d := range indeg {
		if d > 0 {
			cycle = append(cycle, n)
		}
	}
	sort.Strings(cycle)
	return cycle
}
