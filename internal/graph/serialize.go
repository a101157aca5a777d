package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// snapshot is the JSON wire format for a Graph: a flat node list plus the
// full edge list, sufficient to reconstruct the adjacency maps on Load.
type snapshot struct {
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// MarshalJSON serializes the graph as a flat node/edge list.
func (g *Graph) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := snapshot{
		Nodes: make([]string, 0, len(g.nodes)),
	}
	for id := range g.nodes {
		snap.Nodes = append(snap.Nodes, id)
	}
	sort.Strings(snap.Nodes)

	for _, id := range snap.Nodes {
		snap.Edges = append(snap.Edges, g.out[id]...)
	}
	return json.Marshal(snap)
}

// UnmarshalJSON replaces the graph's contents with a previously serialized
// snapshot. Existing caches are discarded.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode graph snapshot: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]struct{}, len(snap.Nodes))
	g.out = make(map[string][]Edge)
	g.in = make(map[string][]Edge)
	for _, id := range snap.Nodes {
		g.nodes[id] = struct{}{}
	}
	for _, e := range snap.Edges {
		g.out[e.From] = append(g.out[e.From], e)
		g.in[e.To] = append(g.in[e.To], e)
	}
	if g.caches == nil {
		g.caches = newCaches()
	} else {
		g.caches.invalidateAll()
	}
	return nil
}

// relationStyle maps a relation type to a DOT edge color/style so the
// rendered graph reads at a glance.
var relationStyle = map[RelationType]string{
	RelationImports:            `color="#4c78a8"`,
	RelationAPIClient:          `color="#f58518" style=dashed`,
	RelationSharedDatabase:     `color="#54a24b" style=dotted`,
	RelationEventDriven:        `color="#e45756" style=dashed`,
	RelationSemanticSimilarity: `color="#b279a2" style=dotted`,
	RelationDependency:         `color="#333333"`,
}

// DOT renders the graph in Graphviz's DOT language for visualization.
func (g *Graph) DOT() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var b strings.Builder
	b.WriteString("digraph workspace {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, fontname=\"monospace\"];\n")

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "  %q;\n", id)
	}

	for _, from := range ids {
		edges := append([]Edge(nil), g.out[from]...)
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			return edges[i].Type < edges[j].Type
		})
		for _, e := range edges {
			style := relationStyle[e.Type]
			label := string(e.Type)
			if e.Description != "" {
				label = fmt.Sprintf("%s: %s", e.Type, e.Description)
			}
			fmt.Fprintf(&b, "  %q -> %q [label=%q, %s];\n", e.From, e.To, label, style)
		}
	}

	b.WriteString("}\n")
	return b.String()
}
