package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Graph is a directed, typed, weighted graph keyed by project id. It is
// safe for concurrent use: mutations take the write lock, reads take the
// read lock, matching the single-writer/many-reader discipline the
// workspace spec requires of the relationship graph.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]struct{}
	out   map[string][]Edge // adjacency by source id
	in    map[string][]Edge // adjacency by target id (for Dependents/BFS-in)

	caches *caches
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:  make(map[string]struct{}),
		out:    make(map[string][]Edge),
		in:     make(map[string][]Edge),
		caches: newCaches(),
	}
}

// AddNode registers a project id. A no-op if the node already exists.
func (g *Graph) AddNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[id] = struct{}{}
	g.caches.invalidateAll()
}

// RemoveNode deletes a project id and every edge touching it.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, id)
	delete(g.out, id)
	delete(g.in, id)
	for src, edges := range g.out {
		g.out[src] = filterEdges(edges, func(e Edge) bool { return e.To != id })
	}
	for dst, edges := range g.in {
		g.in[dst] = filterEdges(edges, func(e Edge) bool { return e.From != id })
	}
	g.caches.invalidateAll()
}

// HasNode reports whether id is a known node.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Nodes returns all node ids in lexicographic order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddEdge inserts a new edge. Endpoints must already be registered nodes.
func (g *Graph) AddEdge(e Edge) error {
	if err := e.validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[e.From]; !ok {
		return fmt.Errorf("unknown source node %q", e.From)
	}
	if _, ok := g.nodes[e.To]; !ok {
		return fmt.Errorf("unknown target node %q", e.To)
	}
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
	g.caches.invalidateAll()
	return nil
}

// RemoveEdge deletes an edge by its endpoints and type (there is at most
// one edge of a given type between two nodes).
func (g *Graph) RemoveEdge(from, to string, t RelationType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.out[from] = filterEdges(g.out[from], func(e Edge) bool { return !(e.To == to && e.Type == t) })
	g.in[to] = filterEdges(g.in[to], func(e Edge) bool { return !(e.From == from && e.Type == t) })
	g.caches.invalidateAll()
}

// UpdateEdge replaces an existing edge's weight/description/metadata,
// matched by (from, to, type).
func (g *Graph) UpdateEdge(e Edge) error {
	if err := e.validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	found := false
	for i, existing := range g.out[e.From] {
		if existing.To == e.To && existing.Type == e.Type {
			g.out[e.From][i] = e
			found = true
			break
		}
	}
	if !found {
		g.mu.Unlock()
		err := g.AddEdge(e)
		g.mu.Lock()
		return err
	}
	for i, existing := range g.in[e.To] {
		if existing.From == e.From && existing.Type == e.Type {
			g.in[e.To][i] = e
			break
		}
	}
	g.caches.invalidateAll()
	return nil
}

// Edges returns edges filtered by optional source id, target id, and
// relation type. An empty string or nil means "no filter on this field".
func (g *Graph) Edges(from, to string, t *RelationType) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var candidates []Edge
	switch {
	case from != "":
		candidates = g.out[from]
	case to != "":
		candidates = g.in[to]
	default:
		for _, edges := range g.out {
			candidates = append(candidates, edges...)
		}
	}

	var out []Edge
	for _, e := range candidates {
		if from != "" && e.From != from {
			continue
		}
		if to != "" && e.To != to {
			continue
		}
		if t != nil && e.Type != *t {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

func filterEdges(edges []Edge, keep func(Edge) bool) []Edge {
	if edges == nil {
		return nil
	}
	out := edges[:0:0]
	for _, e := range edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
