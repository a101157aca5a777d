package ranker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxmesh/ctxgraph/internal/graph"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestRank_CurrentFileBoostBeatsEqualBaseScore(t *testing.T) {
	now := time.Now()
	r := New(Config{Clock: fixedClock(now)})
	ctx := NewUserContext("u1")
	ctx.CurrentProject = "proj-a"

	results := []Result{
		{ChunkID: "a", ProjectID: "proj-a", FilePath: "a.go", BaseScore: 0.5},
		{ChunkID: "b", ProjectID: "proj-b", FilePath: "b.go", BaseScore: 0.5},
	}

	ranked := r.Rank(results, ctx, graph.New(), nil, 10)
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].Result.ChunkID)
	assert.Greater(t, ranked[0].FinalScore, ranked[1].FinalScore)
	assert.Equal(t, 2.0, ranked[0].BoostBreakdown["current_file"])
}

func TestRank_TieBreaksByBaseScoreThenChunkID(t *testing.T) {
	r := New(Config{})
	results := []Result{
		{ChunkID: "zzz", BaseScore: 0.3},
		{ChunkID: "aaa", BaseScore: 0.3},
		{ChunkID: "bbb", BaseScore: 0.9},
	}

	ranked := r.Rank(results, nil, nil, nil, 10)
	require.Len(t, ranked, 3)
	assert.Equal(t, "bbb", ranked[0].Result.ChunkID)
	assert.Equal(t, "aaa", ranked[1].Result.ChunkID)
	assert.Equal(t, "zzz", ranked[2].Result.ChunkID)
}

func TestRank_TruncatesToK(t *testing.T) {
	r := New(Config{})
	results := []Result{
		{ChunkID: "a", BaseScore: 0.9},
		{ChunkID: "b", BaseScore: 0.8},
		{ChunkID: "c", BaseScore: 0.7},
	}
	ranked := r.Rank(results, nil, nil, nil, 2)
	assert.Len(t, ranked, 2)
}

func TestRank_RecentFileWithinWindow(t *testing.T) {
	now := time.Now()
	r := New(Config{Clock: fixedClock(now)})
	ctx := NewUserContext("u1")
	ctx.RecordFileAccess("hot.go", now.Add(-10*time.Minute))

	results := []Result{{ChunkID: "a", FilePath: "hot.go", BaseScore: 0.4}}
	ranked := r.Rank(results, ctx, nil, nil, 10)
	assert.Equal(t, 1.5, ranked[0].BoostBreakdown["recent_files"])
}

func TestRank_RecentFileOutsideWindowNotBoosted(t *testing.T) {
	now := time.Now()
	r := New(Config{Clock: fixedClock(now)})
	ctx := NewUserContext("u1")
	ctx.RecordFileAccess("cold.go", now.Add(-2*time.Hour))

	results := []Result{{ChunkID: "a", FilePath: "cold.go", BaseScore: 0.4}}
	ranked := r.Rank(results, ctx, nil, nil, 10)
	_, ok := ranked[0].BoostBreakdown["recent_files"]
	assert.False(t, ok)
}

func TestRank_RelationshipBoostUsesEdgeWeight(t *testing.T) {
	g := graph.New()
	g.AddNode("a")
	g.AddNode("b")
	require.NoError(t, g.AddEdge(graph.Edge{From: "a", To: "b", Type: graph.RelationImports, Weight: 0.8}))

	r := New(Config{RelationshipBoost: 1.5})
	ctx := NewUserContext("u1")
	ctx.CurrentProject = "a"

	results := []Result{{ChunkID: "x", ProjectID: "b", BaseScore: 0.5}}
	ranked := r.Rank(results, ctx, g, nil, 10)
	assert.InDelta(t, 1.5*0.8, ranked[0].BoostBreakdown["relationship"], 0.0001)
}

func TestRank_ExactMatchKeyword(t *testing.T) {
	r := New(Config{})
	results := []Result{{ChunkID: "a", FilePath: "internal/auth/login.go", BaseScore: 0.5}}
	ranked := r.Rank(results, nil, nil, []string{"login"}, 10)
	assert.Equal(t, 0.8, ranked[0].BoostBreakdown["exact_match"])
}

func TestRank_FinalScoreNeverBelowBaseScore(t *testing.T) {
	r := New(Config{})
	results := []Result{{ChunkID: "a", BaseScore: 0.42}}
	ranked := r.Rank(results, nil, nil, nil, 10)
	assert.GreaterOrEqual(t, ranked[0].FinalScore, ranked[0].Result.BaseScore)
}

func TestUserContext_FrequentFilesTopN(t *testing.T) {
	ctx := NewUserContext("u1")
	now := time.Now()
	for i := 0; i < 15; i++ {
		ctx.RecordFileAccess("popular.go", now)
	}
	ctx.RecordFileAccess("rare.go", now)

	assert.True(t, ctx.FileAccessCounts.InTopN("popular.go", frequentFilesTopN))
}
