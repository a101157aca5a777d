// Package ranker applies multi-factor relevance boosts to search results
// given a caller's session context and the workspace relationship graph.
package ranker

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ctxmesh/ctxgraph/internal/graph"
)

// recentFileWindow bounds how long a recently-opened file keeps its boost.
const recentFileWindow = 60 * time.Minute

// recencyWindow is the linear-decay horizon for the recency factor.
const recencyWindow = 30 * 24 * time.Hour

// frequentFilesTopN is how many of a user's most-accessed files qualify for
// the frequent_files boost.
const frequentFilesTopN = 10

// Result is one candidate the ranker scores; it mirrors the fields of
// search.SearchResult the ranker actually needs, kept decoupled from the
// search package so ranker has no import-time dependency on it.
type Result struct {
	ChunkID    string
	ProjectID  string
	FilePath   string
	Symbol     string
	BaseScore  float64
	ModifiedAt time.Time
}

// Ranked is a Result augmented with its boosted score and an explainable
// breakdown of which factors contributed.
type Ranked struct {
	Result        Result
	FinalScore    float64
	BoostBreakdown map[string]float64
}

// Clock returns the current time; production callers use time.Now, tests
// inject a fixed function for determinism.
type Clock func() time.Time

// Config tunes the ranker's behavior.
type Config struct {
	Clock             Clock
	TeamPatterns      map[string]int // file path -> team-wide access frequency
	RelationshipBoost float64        // multiplier applied to edge weight, default 1.5
}

// Ranker scores search results against a UserContext and a relationship
// graph snapshot.
type Ranker struct {
	clock             Clock
	teamPatterns      map[string]int
	relationshipBoost float64
}

// New constructs a Ranker. A nil Clock defaults to time.Now.
func New(cfg Config) *Ranker {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	boost := cfg.RelationshipBoost
	if boost <= 0 {
		boost = 1.5
	}
	return &Ranker{clock: clock, teamPatterns: cfg.TeamPatterns, relationshipBoost: boost}
}

// Rank scores every result against ctx and g, sorts by final_score
// descending (ties broken by base_score, then chunk id), and truncates to
// k. A failing boost factor contributes 0 and is logged, never aborting
// the whole ranking pass.
func (r *Ranker) Rank(results []Result, ctx *UserContext, g *graph.Graph, queryKeywords []string, k int) []Ranked {
	ranked := make([]Ranked, len(results))
	for i, res := range results {
		ranked[i] = r.score(res, ctx, g, queryKeywords)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		if ranked[i].Result.BaseScore != ranked[j].Result.BaseScore {
			return ranked[i].Result.BaseScore > ranked[j].Result.BaseScore
		}
		return ranked[i].Result.ChunkID < ranked[j].Result.ChunkID
	})

	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

func (r *Ranker) score(res Result, ctx *UserContext, g *graph.Graph, queryKeywords []string) Ranked {
	breakdown := make(map[string]float64)

	r.applyFactor(breakdown, "current_file", func() float64 {
		if ctx == nil {
			return 0
		}
		if res.FilePath == ctx.CurrentFile || res.ProjectID == ctx.CurrentProject {
			return 2.0
		}
		return 0
	})

	r.applyFactor(breakdown, "recent_files", func() float64 {
		if ctx == nil {
			return 0
		}
		if ts, ok := ctx.RecentFiles.Get(res.FilePath); ok {
			if r.clock().Sub(ts) <= recentFileWindow {
				return 1.5
			}
		}
		return 0
	})

	r.applyFactor(breakdown, "frequent_files", func() float64 {
		if ctx == nil {
			return 0
		}
		if ctx.FileAccessCounts.InTopN(res.FilePath, frequentFilesTopN) {
			return 1.3
		}
		return 0
	})

	r.applyFactor(breakdown, "team_patterns", func() float64 {
		if r.teamPatterns == nil {
			return 0
		}
		if _, ok := r.teamPatterns[res.FilePath]; ok {
			return 1.2
		}
		return 0
	})

	r.applyFactor(breakdown, "relationship", func() float64 {
		if ctx == nil || ctx.CurrentProject == "" || g == nil || res.ProjectID == ctx.CurrentProject {
			return 0
		}
		edges := g.Edges(ctx.CurrentProject, res.ProjectID, nil)
		if len(edges) == 0 {
			return 0
		}
		return r.relationshipBoost * edges[0].Weight
	})

	r.applyFactor(breakdown, "recency", func() float64 {
		if res.ModifiedAt.IsZero() {
			return 0
		}
		age := r.clock().Sub(res.ModifiedAt)
		if age < 0 || age > recencyWindow {
			return 0
		}
		return 0.5 * (1 - float64(age)/float64(recencyWindow))
	})

	r.applyFactor(breakdown, "exact_match", func() float64 {
		for _, kw := range queryKeywords {
			if kw == "" {
				continue
			}
			lower := strings.ToLower(kw)
			if strings.Contains(strings.ToLower(res.FilePath), lower) ||
				strings.Contains(strings.ToLower(res.Symbol), lower) {
				return 0.8
			}
		}
		return 0
	})

	var sum float64
	for _, v := range breakdown {
		sum += v
	}

	return Ranked{
		Result:         res,
		FinalScore:     res.BaseScore * (1 + sum),
		BoostBreakdown: breakdown,
	}
}

// applyFactor runs fn, recovering from a panic so one broken boost factor
// degrades to a zero contribution instead of aborting the whole result.
func (r *Ranker) applyFactor(breakdown map[string]float64, name string, fn func() float64) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("ranking boost factor failed, contributing zero",
				slog.String("factor", name),
				slog.Any("panic", rec))
			breakdown[name] = 0
		}
	}()
	if v := fn(); v != 0 {
		breakdown[name] = v
	}
}
