package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, id := range []string{"api", "web", "auth", "shared-lib"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge(Edge{From: "web", To: "api", Type: RelationAPIClient, Weight: 0.9}))
	require.NoError(t, g.AddEdge(Edge{From: "api", To: "shared-lib", Type: RelationDependency, Weight: 1.0}))
	require.NoError(t, g.AddEdge(Edge{From: "auth", To: "shared-lib", Type: RelationDependency, Weight: 1.0}))
	require.NoError(t, g.AddEdge(Edge{From: "web", To: "auth", Type: RelationDependency, Weight: 0.8}))
	return g
}

func TestAddEdge_RejectsUnknownEndpoints(t *testing.T) {
	g := New()
	g.AddNode("a")
	err := g.AddEdge(Edge{From: "a", To: "b", Type: RelationImports, Weight: 1})
	assert.Error(t, err)
}

func TestAddEdge_RejectsSelfLoop(t *testing.T) {
	g := New()
	g.AddNode("a")
	err := g.AddEdge(Edge{From: "a", To: "a", Type: RelationImports, Weight: 1})
	assert.Error(t, err)
}

func TestAddEdge_RejectsWeightOutOfRange(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	err := g.AddEdge(Edge{From: "a", To: "b", Type: RelationImports, Weight: 1.5})
	assert.Error(t, err)
}

func TestDependencies_DirectVsTransitive(t *testing.T) {
	g := buildGraph(t)

	direct := g.Dependencies("web", false)
	assert.Equal(t, []string{"auth"}, direct)

	transitive := g.Dependencies("web", true)
	assert.ElementsMatch(t, []string{"auth", "shared-lib"}, transitive)
}

func TestDependents(t *testing.T) {
	g := buildGraph(t)
	assert.Equal(t, []string{"api", "auth"}, g.Dependents("shared-lib"))
}

func TestShortestPath(t *testing.T) {
	g := buildGraph(t)
	path := g.ShortestPath("web", "shared-lib")
	assert.Equal(t, []string{"web", "auth", "shared-lib"}, path)
}

func TestShortestPath_NoPath(t *testing.T) {
	g := buildGraph(t)
	assert.Nil(t, g.ShortestPath("shared-lib", "web"))
}

func TestAllSimplePaths(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge(Edge{From: "a", To: "b", Type: RelationDependency, Weight: 1}))
	require.NoError(t, g.AddEdge(Edge{From: "a", To: "c", Type: RelationDependency, Weight: 1}))
	require.NoError(t, g.AddEdge(Edge{From: "b", To: "d", Type: RelationDependency, Weight: 1}))
	require.NoError(t, g.AddEdge(Edge{From: "c", To: "d", Type: RelationDependency, Weight: 1}))

	paths := g.AllSimplePaths("a", "d", 5)
	assert.Len(t, paths, 2)
}

func TestTopologicalOrder_AcyclicGraph(t *testing.T) {
	g := buildGraph(t)
	order, err := g.TopologicalOrder()
	require.NoError(t, err)

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["api"], pos["shared-lib"])
	assert.Less(t, pos["auth"], pos["shared-lib"])
}

func TestTopologicalOrder_CycleDetected(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	require.NoError(t, g.AddEdge(Edge{From: "a", To: "b", Type: RelationDependency, Weight: 1}))
	require.NoError(t, g.AddEdge(Edge{From: "b", To: "c", Type: RelationDependency, Weight: 1}))
	require.NoError(t, g.AddEdge(Edge{From: "c", To: "a", Type: RelationDependency, Weight: 1}))

	order, err := g.TopologicalOrder()
	assert.Nil(t, order)
	require.Error(t, err)
	var cycErr *CycleError
	assert.ErrorAs(t, err, &cycErr)
}

func TestDetectCycle_AcyclicReturnsNil(t *testing.T) {
	g := buildGraph(t)
	assert.Nil(t, g.DetectCycle())
}

func TestRemoveNode_PrunesEdges(t *testing.T) {
	g := buildGraph(t)
	g.RemoveNode("shared-lib")
	assert.False(t, g.HasNode("shared-lib"))
	assert.Empty(t, g.Dependencies("api", false))
	assert.Empty(t, g.Edges("", "shared-lib", nil))
}

func TestEdges_FilterByTypeAndEndpoints(t *testing.T) {
	g := buildGraph(t)
	depType := RelationDependency
	edges := g.Edges("web", "", &depType)
	require.Len(t, edges, 1)
	assert.Equal(t, "auth", edges[0].To)
}

func TestMarshalUnmarshalJSON_RoundTrips(t *testing.T) {
	g := buildGraph(t)
	data, err := json.Marshal(g)
	require.NoError(t, err)

	loaded := New()
	require.NoError(t, json.Unmarshal(data, loaded))

	assert.ElementsMatch(t, g.Nodes(), loaded.Nodes())
	assert.ElementsMatch(t, g.Edges("", "", nil), loaded.Edges("", "", nil))
}

func TestDOT_ContainsNodesAndEdges(t *testing.T) {
	g := buildGraph(t)
	dot := g.DOT()
	assert.Contains(t, dot, "digraph workspace")
	assert.Contains(t, dot, `"web" -> "api"`)
	assert.Contains(t, dot, `"api" -> "shared-lib"`)
}

func TestSimilarityCache_InvalidatedOnMutation(t *testing.T) {
	g := buildGraph(t)
	g.SimilarityCachePut("api", "web", 0.42)

	sim, ok := g.SimilarityCacheGet("web", "api")
	require.True(t, ok)
	assert.InDelta(t, 0.42, sim, 1e-9)

	g.AddNode("new-project")
	_, ok = g.SimilarityCacheGet("web", "api")
	assert.False(t, ok)
}
