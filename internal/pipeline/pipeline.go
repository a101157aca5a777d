// Package pipeline composes the end-to-end query path: parse intent and
// entities, expand vocabulary, embed, fan out across the workspace, rank,
// and cache the result.
package pipeline

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ctxmesh/ctxgraph/internal/cache"
	"github.com/ctxmesh/ctxgraph/internal/embed"
	"github.com/ctxmesh/ctxgraph/internal/ranker"
	"github.com/ctxmesh/ctxgraph/internal/search"
	"github.com/ctxmesh/ctxgraph/internal/templates"
	"github.com/ctxmesh/ctxgraph/internal/workspace"
)

// fileLikePattern matches tokens that look like a filename: a dotted
// extension or a glob.
var fileLikePattern = regexp.MustCompile(`(?:[\w/-]+\.\w+|[\w/-]*\*[\w/.*-]*)`)

// symbolLikePattern matches CamelCase/snake_case identifiers, optionally
// with a trailing call parenthesis.
var symbolLikePattern = regexp.MustCompile(`^(?:[A-Z][a-zA-Z0-9]*|[a-z0-9]+(?:_[a-z0-9]+)+)\(?\)?$`)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "of": {}, "in": {}, "on": {},
	"for": {}, "to": {}, "and": {}, "or": {}, "how": {}, "does": {}, "do": {}, "what": {},
	"where": {}, "with": {}, "that": {}, "this": {}, "it": {},
}

// Entities is the result of entity extraction over a raw query.
type Entities struct {
	FileLike   []string
	SymbolLike []string
	Concepts   []string
}

// ParsedQuery is the output of the Parse stage.
type ParsedQuery struct {
	RawQuery   string
	Intent     search.QueryType
	Weights    search.Weights
	Entities   Entities
	Confidence float64
}

// Parse classifies query intent via classifier and extracts file-like,
// symbol-like, and concept entities via lexical rules. Confidence is the
// fraction of tokens that were successfully classified as an entity.
func Parse(ctx context.Context, classifier search.Classifier, query string) ParsedQuery {
	queryType, weights, err := classifier.Classify(ctx, query)
	if err != nil {
		queryType, weights = search.QueryTypeMixed, search.DefaultWeights()
	}

	tokens := strings.Fields(query)
	var entities Entities
	matched := 0
	for _, tok := range tokens {
		clean := strings.Trim(tok, ".,;:!?")
		switch {
		case fileLikePattern.MatchString(clean) && strings.Contains(clean, "."):
			entities.FileLike = append(entities.FileLike, clean)
			matched++
		case symbolLikePattern.MatchString(clean):
			entities.SymbolLike = append(entities.SymbolLike, clean)
			matched++
		default:
			lower := strings.ToLower(clean)
			if _, stop := stopwords[lower]; !stop && clean != "" {
				entities.Concepts = append(entities.Concepts, clean)
			}
		}
	}

	confidence := 0.0
	if len(tokens) > 0 {
		confidence = float64(matched) / float64(len(tokens))
	}

	return ParsedQuery{
		RawQuery:   query,
		Intent:     queryType,
		Weights:    weights,
		Entities:   entities,
		Confidence: confidence,
	}
}

// RequestInflationFactor multiplies the caller's k before fanning out to the
// workspace, leaving headroom for the ranker to re-sort before truncating.
const RequestInflationFactor = 3

// Request describes one end-to-end query.
type Request struct {
	Query     string
	ProjectID string
	UserID    string
	Scope     workspace.Scope
	K         int
	// Filter, Language, SymbolType and Scopes pass through to each project's
	// engine unchanged, alongside the weights Parse computes; they narrow
	// which chunks an engine considers, not how it scores them.
	Filter     string
	Language   string
	SymbolType string
	Scopes     []string
}

// Response is the pipeline's final output.
type Response struct {
	Parsed  ParsedQuery
	Results []ranker.Ranked
	// Chunks maps a Ranked result's ChunkID back to the full search.SearchResult
	// it was built from. The ranker only carries the fields it scores on
	// (internal/ranker.Result is deliberately decoupled from the engine's
	// richer shape); callers that need content/symbol/language for display
	// look it up here instead of the engine re-fetching it.
	Chunks    map[string]*search.SearchResult
	FromCache bool
}

// Pipeline wires together every stage named in the query pipeline.
type Pipeline struct {
	Classifier search.Classifier
	Expander   *search.QueryExpander
	// Embedder is consulted indirectly: each project's search.Engine owns
	// its own Embedder and embeds the query during SearchWorkspace's
	// per-project fan-out. Kept here for callers that need the active
	// model name/dimensions (e.g. a status tool) without reaching into a
	// specific project's engine.
	Embedder     embed.Embedder
	Manager      *workspace.Manager
	Ranker       *ranker.Ranker
	Cache        *cache.Cache
	Templates    *templates.Registry
	UserContexts map[string]*ranker.UserContext
	Clock        func() time.Time
}

// Run executes Parse -> Expand -> Embed -> Retrieve -> Rank -> Cache.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}

	uctx := p.userContextFor(req.UserID)
	tmpl, matched := p.Templates.Match(req.Query)

	fp := Fingerprint(req.Query, string(req.Scope), req.UserID, req.K, uctx)
	templateName := ""
	if matched {
		templateName = tmpl.Name
	}

	if p.Cache != nil {
		if entry, ok := p.Cache.Get(ctx, fp, templateName); ok {
			_ = entry
			return &Response{FromCache: true}, nil
		}
	}

	parsed := Parse(ctx, p.Classifier, req.Query)

	expandedQuery := req.Query
	if p.Expander != nil {
		expandedQuery = p.Expander.Expand(req.Query)
	}
	if matched {
		expandedQuery, _ = tmpl.QueryBuilder(expandedQuery)
	}

	inflatedK := req.K * RequestInflationFactor
	if inflatedK <= 0 {
		inflatedK = 10 * RequestInflationFactor
	}

	// Weights are decided here, once, by Parse's classification. Passing
	// them through SearchOptions stops each project's engine from running
	// its own classifier against the same query a second time.
	scoped, err := p.Manager.SearchWorkspace(ctx, workspace.SearchWorkspaceRequest{
		Query:     expandedQuery,
		ProjectID: req.ProjectID,
		UserID:    req.UserID,
		Scope:     req.Scope,
		K:         inflatedK,
		Options: search.SearchOptions{
			Limit:      inflatedK,
			Weights:    &parsed.Weights,
			Filter:     req.Filter,
			Language:   req.Language,
			SymbolType: req.SymbolType,
			Scopes:     req.Scopes,
		},
	})
	if err != nil {
		return nil, err
	}

	rankerResults := make([]ranker.Result, 0, len(scoped))
	chunks := make(map[string]*search.SearchResult, len(scoped))
	for _, sr := range scoped {
		rr := toRankerResult(sr)
		rankerResults = append(rankerResults, rr)
		if rr.ChunkID != "" {
			chunks[rr.ChunkID] = sr.Result
		}
	}

	queryKeywords := append(append([]string{}, parsed.Entities.FileLike...), parsed.Entities.SymbolLike...)
	ranked := p.Ranker.Rank(rankerResults, uctx, p.Manager.Graph(), queryKeywords, req.K)

	if p.Cache != nil {
		var filePaths []string
		for _, r := range ranked {
			filePaths = append(filePaths, r.Result.FilePath)
		}
		p.Cache.Put(ctx, fp, templateName, []byte{}, filePaths)
	}

	if uctx != nil {
		uctx.RecordQuery(req.Query, clock())
	}

	return &Response{Parsed: parsed, Results: ranked, Chunks: chunks}, nil
}

// toRankerResult flattens a scoped search result's chunk metadata into the
// ranker's decoupled Result shape.
func toRankerResult(sr workspace.ScopedResult) ranker.Result {
	var filePath, symbol string
	var modified time.Time
	var chunkID string
	if sr.Result != nil && sr.Result.Chunk != nil {
		c := sr.Result.Chunk
		chunkID = c.ID
		filePath = c.FilePath
		modified = c.UpdatedAt
		if len(c.Symbols) > 0 {
			symbol = c.Symbols[0].Name
		}
	}
	score := 0.0
	if sr.Result != nil {
		score = sr.Result.Score
	}
	return ranker.Result{
		ChunkID:    chunkID,
		ProjectID:  sr.ProjectID,
		FilePath:   filePath,
		Symbol:     symbol,
		BaseScore:  score,
		ModifiedAt: modified,
	}
}

func (p *Pipeline) userContextFor(userID string) *ranker.UserContext {
	if userID == "" {
		return nil
	}
	if p.UserContexts == nil {
		p.UserContexts = make(map[string]*ranker.UserContext)
	}
	uctx, ok := p.UserContexts[userID]
	if !ok {
		uctx = ranker.NewUserContext(userID)
		p.UserContexts[userID] = uctx
	}
	return uctx
}
