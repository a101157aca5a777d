package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	amerrors "github.com/ctxmesh/ctxgraph/internal/errors"
	"github.com/ctxmesh/ctxgraph/internal/graph"
	"github.com/ctxmesh/ctxgraph/internal/search"
)

// ManagerConfig tunes the Manager's concurrency behavior.
type ManagerConfig struct {
	// MaxParallelIndexing bounds how many projects index_all runs at once
	// in parallel mode. Zero defaults to 4.
	MaxParallelIndexing int64
}

// InitResult records one project's outcome from Initialize, collected
// rather than propagated: a single broken project must not stop the rest
// of the workspace from coming up.
type InitResult struct {
	ProjectID string
	Err       error
}

// IndexAllResult records one project's outcome from IndexAll.
type IndexAllResult struct {
	ProjectID string
	Summary   *IndexSummary
	Err       error
}

// SearchWorkspaceRequest describes a cross-project query.
type SearchWorkspaceRequest struct {
	Query     string
	ProjectID string // the project the query originated from, for scope resolution
	UserID    string
	Scope     Scope
	K         int
	Options   search.SearchOptions
}

// ScopedResult pairs a search result with the project it came from, since
// merged cross-project results lose that association otherwise.
type ScopedResult struct {
	ProjectID string
	Result    *search.SearchResult
}

// Manager coordinates indexing and cross-project search over a loaded
// workspace document's set of ProjectIndexers.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	doc      *Document
	indexers map[string]*ProjectIndexer
}

// NewManager constructs a Manager over an already-loaded workspace document
// and its constructed per-project indexers (one per enabled project; wiring
// up each ProjectIndexer's concrete search.Engine/index.Runner is a
// deployment-time concern handled by the caller, e.g. cmd/ctxgraph).
func NewManager(doc *Document, indexers map[string]*ProjectIndexer, cfg ManagerConfig) *Manager {
	if cfg.MaxParallelIndexing <= 0 {
		cfg.MaxParallelIndexing = 4
	}
	return &Manager{cfg: cfg, doc: doc, indexers: indexers}
}

// Initialize brings up every enabled project's indexer. Per-project
// failures are collected in the returned slice rather than aborting the
// whole workspace.
func (m *Manager) Initialize(ctx context.Context) []InitResult {
	m.mu.RLock()
	targets := make([]*ProjectIndexer, 0, len(m.indexers))
	for _, pi := range m.indexers {
		targets = append(targets, pi)
	}
	m.mu.RUnlock()

	results := make([]InitResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, pi := range targets {
		i, pi := i, pi
		g.Go(func() error {
			err := pi.Initialize(gctx)
			results[i] = InitResult{ProjectID: pi.ID(), Err: err}
			return nil // never abort the group on a single project's failure
		})
	}
	_ = g.Wait()
	return results
}

// IndexAll indexes every enabled project. In parallel mode projects run
// concurrently, capped by cfg.MaxParallelIndexing and ordered so
// higher-priority projects acquire a slot first; in sequential mode
// projects run one at a time in dependency order (a project's dependencies
// index before it does).
func (m *Manager) IndexAll(ctx context.Context, parallel bool) []IndexAllResult {
	order := m.indexOrder(parallel)

	if !parallel {
		results := make([]IndexAllResult, 0, len(order))
		for _, id := range order {
			pi := m.indexerFor(id)
			if pi == nil {
				continue
			}
			summary, err := pi.Index(ctx, nil)
			results = append(results, IndexAllResult{ProjectID: id, Summary: summary, Err: err})
		}
		return results
	}

	sem := semaphore.NewWeighted(m.cfg.MaxParallelIndexing)
	results := make([]IndexAllResult, len(order))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range order {
		i, id := i, id
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = IndexAllResult{ProjectID: id, Err: err}
				return nil
			}
			defer sem.Release(1)

			pi := m.indexerFor(id)
			if pi == nil {
				return nil
			}
			summary, err := pi.Index(gctx, nil)
			results[i] = IndexAllResult{ProjectID: id, Summary: summary, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// indexOrder returns project ids to index in. Parallel mode orders by
// IndexingConfig.Priority (critical first), stable within a tier so
// equal-priority projects keep their workspace declaration order.
// Sequential mode follows the dependency graph's topological order so a
// project's dependencies are always indexed first.
func (m *Manager) indexOrder(parallel bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	enabled := m.doc.Workspace.EnabledProjects()

	if !parallel {
		if order, err := m.doc.Graph.TopologicalOrder(); err == nil {
			enabledSet := make(map[string]struct{}, len(enabled))
			for _, p := range enabled {
				enabledSet[p.ID] = struct{}{}
			}
			out := make([]string, 0, len(order))
			for _, id := range order {
				if _, ok := enabledSet[id]; ok {
					out = append(out, id)
				}
			}
			return out
		}
		// Falls through to priority order if the graph has a cycle; Load
		// already rejects cyclic workspaces, so this only protects against
		// a workspace mutated in-process after load.
	}

	ids := make([]string, len(enabled))
	for i, p := range enabled {
		ids[i] = p.ID
	}
	sort.SliceStable(ids, func(i, j int) bool {
		pi := m.doc.Workspace.GetProject(ids[i])
		pj := m.doc.Workspace.GetProject(ids[j])
		return priorityRank[pi.Indexing.Priority] < priorityRank[pj.Indexing.Priority]
	})
	return ids
}

func (m *Manager) indexerFor(id string) *ProjectIndexer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexers[id]
}

// IndexProject indexes a single project by id.
func (m *Manager) IndexProject(ctx context.Context, projectID string) (*IndexSummary, error) {
	pi := m.indexerFor(projectID)
	if pi == nil {
		return nil, amerrors.New(amerrors.ErrCodeUnknownProjectRef,
			fmt.Sprintf("unknown project %q", projectID), nil)
	}
	return pi.Index(ctx, nil)
}

// ProjectStatus reports a single project's indexing state.
func (m *Manager) ProjectStatus(ctx context.Context, projectID string) IndexingState {
	pi := m.indexerFor(projectID)
	if pi == nil {
		return IndexingState{Status: StateUninitialized}
	}
	return pi.Status(ctx)
}

// resolveScope returns the project ids a scoped search should fan out to.
func (m *Manager) resolveScope(projectID string, scope Scope) []string {
	switch scope {
	case ScopeProject, "":
		return []string{projectID}
	case ScopeDependencies:
		deps := m.doc.Dependencies(projectID, true)
		return append([]string{projectID}, deps...)
	case ScopeRelated:
		neighbors := m.doc.Graph.Neighbors(projectID)
		return append([]string{projectID}, neighbors...)
	case ScopeWorkspace:
		var ids []string
		for _, p := range m.doc.Workspace.EnabledProjects() {
			ids = append(ids, p.ID)
		}
		return ids
	default:
		return []string{projectID}
	}
}

// SearchWorkspace resolves req.Scope to a set of target projects, fans the
// query out to each target's ProjectIndexer concurrently, merges the
// results by score, and truncates to req.K. Cross-project relevance
// weighting (user context boosts, relationship-graph boosts) is applied by
// the caller's ranking stage; this merge is a plain score-sort so a caller
// that has no ranker configured still gets a usable result set.
func (m *Manager) SearchWorkspace(ctx context.Context, req SearchWorkspaceRequest) ([]ScopedResult, error) {
	if req.K <= 0 {
		req.K = 10
	}

	m.mu.RLock()
	targets := m.resolveScope(req.ProjectID, req.Scope)
	indexers := make([]*ProjectIndexer, 0, len(targets))
	for _, id := range targets {
		if pi, ok := m.indexers[id]; ok {
			indexers = append(indexers, pi)
		}
	}
	m.mu.RUnlock()

	if len(indexers) == 0 {
		return nil, amerrors.New(amerrors.ErrCodeUnknownProjectRef,
			fmt.Sprintf("no indexer available for project %q", req.ProjectID), nil)
	}

	opts := req.Options
	if opts.Limit <= 0 || opts.Limit < req.K {
		opts.Limit = req.K
	}

	var mu sync.Mutex
	var merged []ScopedResult
	g, gctx := errgroup.WithContext(ctx)
	for _, pi := range indexers {
		pi := pi
		g.Go(func() error {
			results, err := pi.Search(gctx, req.Query, opts)
			if err != nil {
				slog.Warn("project search failed during workspace fan-out",
					slog.String("project_id", pi.ID()),
					slog.String("error", err.Error()))
				return nil // one project's failure does not fail the whole search
			}
			mu.Lock()
			for _, r := range results {
				merged = append(merged, ScopedResult{ProjectID: pi.ID(), Result: r})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Result.Score > merged[j].Result.Score
	})
	if len(merged) > req.K {
		merged = merged[:req.K]
	}
	return merged, nil
}

// AddProject registers a new project in the workspace document and its
// indexer under a write lock, then initializes it.
func (m *Manager) AddProject(ctx context.Context, p Project, pi *ProjectIndexer) error {
	m.mu.Lock()
	if m.doc.Workspace.GetProject(p.ID) != nil {
		m.mu.Unlock()
		return amerrors.New(amerrors.ErrCodeDuplicateProjectID,
			fmt.Sprintf("project %q already exists in workspace", p.ID), nil)
	}
	m.doc.Workspace.Projects = append(m.doc.Workspace.Projects, p)
	m.doc.Graph.AddNode(p.ID)
	m.indexers[p.ID] = pi
	m.mu.Unlock()

	return pi.Initialize(ctx)
}

// RemoveProject stops the project's monitoring, removes it from the graph
// and workspace document, and drops its indexer.
func (m *Manager) RemoveProject(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pi, ok := m.indexers[projectID]
	if !ok {
		return amerrors.New(amerrors.ErrCodeUnknownProjectRef,
			fmt.Sprintf("unknown project %q", projectID), nil)
	}
	pi.StopMonitoring()
	delete(m.indexers, projectID)
	m.doc.Graph.RemoveNode(projectID)

	kept := m.doc.Workspace.Projects[:0]
	for _, p := range m.doc.Workspace.Projects {
		if p.ID != projectID {
			kept = append(kept, p)
		}
	}
	m.doc.Workspace.Projects = kept
	return nil
}

// ReloadProject re-initializes a single project's indexer, picking up
// config changes (e.g. a changed IndexingConfig) without restarting the
// whole workspace.
func (m *Manager) ReloadProject(ctx context.Context, projectID string) error {
	pi := m.indexerFor(projectID)
	if pi == nil {
		return amerrors.New(amerrors.ErrCodeUnknownProjectRef,
			fmt.Sprintf("unknown project %q", projectID), nil)
	}
	pi.StopMonitoring()
	return pi.Initialize(ctx)
}

// graphSnapshot exposes the underlying relationship graph for callers (the
// ranker's relationship-boost factor) that need direct graph access rather
// than the scope-resolution helpers above.
func (m *Manager) graphSnapshot() *graph.Graph {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Graph
}

// Graph returns the workspace's relationship graph, for callers (the query
// pipeline's ranking stage) that need direct graph access.
func (m *Manager) Graph() *graph.Graph {
	return m.graphSnapshot()
}
