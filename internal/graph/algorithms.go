package graph

import "sort"

// dependencyEdges returns the subset of g.out[from] whose type participates
// in the acyclic dependency subgraph.
func (g *Graph) dependencyNeighbors(id string) []string {
	var out []string
	for _, e := range g.out[id] {
		if e.Type.isDependency() {
			out = append(out, e.To)
		}
	}
	sort.Strings(out)
	return out
}

// Dependencies returns the project ids `id` depends on. When transitive is
// false, only direct dependency edges are followed; when true, a BFS walks
// the full reachable set. The result is cached per (id, depth) where depth
// is 1 for direct and -1 (unbounded) for transitive.
func (g *Graph) Dependencies(id string, transitive bool) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depth := 1
	if transitive {
		depth = -1
	}
	if cached, ok := g.caches.reachability.get(id, depth); ok {
		return cached
	}

	var result []string
	if !transitive {
		result = g.dependencyNeighbors(id)
	} else {
		seen := map[string]struct{}{}
		queue := g.dependencyNeighbors(id)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if _, ok := seen[cur]; ok {
				continue
			}
			seen[cur] = struct{}{}
			queue = append(queue, g.dependencyNeighbors(cur)...)
		}
		for id := range seen {
			result = append(result, id)
		}
		sort.Strings(result)
	}

	g.caches.reachability.put(id, depth, result)
	return result
}

// Dependents returns the project ids that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for _, e := range g.in[id] {
		if e.Type.isDependency() {
			out = append(out, e.From)
		}
	}
	sort.Strings(out)
	return out
}

// Neighbors returns the set of project ids connected to id by any
// relationship edge, in either direction — used for the "related" search
// scope.
func (g *Graph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, e := range g.out[id] {
		seen[e.To] = struct{}{}
	}
	for _, e := range g.in[id] {
		seen[e.From] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ShortestPath finds the shortest path from -> to over dependency edges
// using BFS. Returns nil if no path exists.
func (g *Graph) ShortestPath(from, to string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if from == to {
		return []string{from}
	}
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.dependencyNeighbors(cur) {
			if _, visited := prev[next]; visited {
				continue
			}
			prev[next] = cur
			if next == to {
				return reconstructPath(prev, from, to)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func reconstructPath(prev map[string]string, from, to string) []string {
	var path []string
	for cur := to; ; cur = prev[cur] {
		path = append([]string{cur}, path...)
		if cur == from {
			break
		}
	}
	return path
}

// AllSimplePaths enumerates every simple (non-repeating) path from -> to
// over dependency edges, depth-first, bounded by cutoff hops.
func (g *Graph) AllSimplePaths(from, to string, cutoff int) [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var results [][]string
	visited := map[string]bool{from: true}
	path := []string{from}

	var walk func(cur string)
	walk = func(cur string) {
		if len(path) > cutoff+1 {
			return
		}
		if cur == to && len(path) > 1 {
			results = append(results, append([]string(nil), path...))
			return
		}
		for _, next := range g.dependencyNeighbors(cur) {
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			walk(next)
			path = path[:len(path)-1]
			visited[next] = false
		}
	}
	walk(from)
	return results
}

// TopologicalOrder returns a Kahn topological order over dependency edges.
// Returns an error wrapping CycleError if the dependency subgraph is not a
// DAG.
func (g *Graph) TopologicalOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = 0
	}
	for id := range g.nodes {
		for _, dep := range g.dependencyNeighbors(id) {
			indegree[dep]++
		}
	}

	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		sort.Strings(queue)
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, dep := range g.dependencyNeighbors(cur) {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		if cyc := g.findCycle(); cyc != nil {
			return nil, &CycleError{Path: cyc}
		}
		return nil, &CycleError{Path: nil}
	}
	return order, nil
}

// DetectCycle runs a DFS with a recursion set over the dependency subgraph
// and returns the first cycle path found, or nil if the subgraph is acyclic.
func (g *Graph) DetectCycle() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycle()
}

// findCycle must be called with at least a read lock held.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		color[id] = white
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var stack []string
	var cyclePath []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range g.dependencyNeighbors(id) {
			switch color[next] {
			case gray:
				// Found a back edge; extract the cycle from the stack.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cyclePath = append([]string(nil), stack[start:]...)
				cyclePath = append(cyclePath, next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cyclePath
			}
		}
	}
	return nil
}
