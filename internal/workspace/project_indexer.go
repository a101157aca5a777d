package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/ctxmesh/ctxgraph/internal/chunk"
	"github.com/ctxmesh/ctxgraph/internal/config"
	"github.com/ctxmesh/ctxgraph/internal/embed"
	amerrors "github.com/ctxmesh/ctxgraph/internal/errors"
	"github.com/ctxmesh/ctxgraph/internal/index"
	"github.com/ctxmesh/ctxgraph/internal/search"
	"github.com/ctxmesh/ctxgraph/internal/store"
	"github.com/ctxmesh/ctxgraph/internal/watcher"
	"github.com/ctxmesh/ctxgraph/internal/wsstore"
)

// ProjectIndexerDeps are the collaborators a ProjectIndexer needs. Engine,
// Metadata, and Runner are already per-project (one collection/DB under the
// project's own .ctxgraph directory) in the teacher's design; the workspace
// layer only adds the explicit project id and the lifecycle state machine
// around them.
type ProjectIndexerDeps struct {
	Project     Project
	Engine      *search.Engine
	Metadata    store.MetadataStore
	Embedder    embed.Embedder
	Config      *config.Config
	WSStore     *wsstore.Store
	Runner      *index.Runner
	CodeChunker chunk.Chunker
	MDChunker   chunk.Chunker
}

// ProjectIndexer wraps the teacher's per-project indexing machinery
// (index.Runner for bulk scan/chunk/embed/upsert, index.Coordinator for
// incremental watcher-driven updates) behind the operations named by the
// workspace spec, adding an explicit lifecycle state machine and a busy-lock
// that rejects concurrent index() calls instead of blocking them.
type ProjectIndexer struct {
	project     Project
	engine      *search.Engine
	meta        store.MetadataStore
	embedder    embed.Embedder
	cfg         *config.Config
	wsdb        *wsstore.Store
	runner      *index.Runner
	codeChunker chunk.Chunker
	mdChunker   chunk.Chunker

	mu    sync.Mutex
	state IndexerState

	busy sync.Mutex

	coordinator *index.Coordinator
	watcherStop func()
}

// NewProjectIndexer constructs a ProjectIndexer in the uninitialized state.
func NewProjectIndexer(deps ProjectIndexerDeps) *ProjectIndexer {
	return &ProjectIndexer{
		project:     deps.Project,
		engine:      deps.Engine,
		meta:        deps.Metadata,
		embedder:    deps.Embedder,
		cfg:         deps.Config,
		wsdb:        deps.WSStore,
		runner:      deps.Runner,
		codeChunker: deps.CodeChunker,
		mdChunker:   deps.MDChunker,
		state:       StateUninitialized,
	}
}

// ID returns the project's workspace id.
func (pi *ProjectIndexer) ID() string { return pi.project.ID }

// State returns the current lifecycle state.
func (pi *ProjectIndexer) State() IndexerState {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.state
}

// transition validates and applies a state change.
func (pi *ProjectIndexer) transition(to IndexerState) error {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	valid := map[IndexerState][]IndexerState{
		StateUninitialized: {StateInitializing},
		StateInitializing:  {StateReady, StateFailed},
		StateReady:         {StateIndexing, StateInitializing},
		StateIndexing:      {StateReady, StateFailed},
		StateFailed:        {StateInitializing},
	}
	for _, allowed := range valid[pi.state] {
		if allowed == to {
			pi.state = to
			return nil
		}
	}
	return amerrors.New(amerrors.ErrCodeInvalidInput,
		fmt.Sprintf("invalid indexer transition %s -> %s", pi.state, to), nil)
}

// Initialize registers the project in the metadata store if this is its
// first run. Per-index embedding dimension/model bookkeeping
// (store.StateKeyIndexDimension) is handled by the search engine itself on
// every Index call; Search detects a stale dimension via
// search.ErrDimensionMismatch and Index recovers from it by recreating the
// collection, so Initialize does not duplicate that check.
func (pi *ProjectIndexer) Initialize(ctx context.Context) error {
	if err := pi.transition(StateInitializing); err != nil {
		return err
	}

	if _, err := pi.meta.GetProject(ctx, pi.project.ID); err != nil {
		proj := &store.Project{
			ID:          pi.project.ID,
			Name:        pi.project.Name,
			RootPath:    pi.project.ResolvedPath,
			ProjectType: string(pi.project.Type),
			Version:     fmt.Sprintf("%d", store.CurrentSchemaVersion),
		}
		if err := pi.meta.SaveProject(ctx, proj); err != nil {
			_ = pi.transition(StateFailed)
			return amerrors.Wrap(amerrors.ErrCodeInternal, err)
		}
	}

	return pi.transition(StateReady)
}

// recreateCollection drops this project's indexed files/chunks/vectors so a
// subsequent Index rebuilds them from scratch with the current embedder.
func (pi *ProjectIndexer) recreateCollection(ctx context.Context) error {
	return pi.meta.DeleteFilesByProject(ctx, pi.project.ID)
}

// Index runs the teacher's scan->chunk->embed->upsert pipeline scoped to
// this project, under an exclusive busy-lock: a concurrent call returns
// ErrCodeProjectBusy (mapped to MCP code 1003) instead of blocking.
func (pi *ProjectIndexer) Index(ctx context.Context, paths []string) (*IndexSummary, error) {
	if !pi.busy.TryLock() {
		return nil, amerrors.New(amerrors.ErrCodeProjectBusy,
			fmt.Sprintf("project %q is already indexing", pi.project.ID), nil)
	}
	defer pi.busy.Unlock()

	if err := pi.transition(StateIndexing); err != nil {
		return nil, err
	}

	result, err := pi.runner.Run(ctx, pi.runnerConfig())
	if err != nil && errors.Is(err, search.ErrDimensionMismatch) {
		slog.Warn("embedding dimension changed, recreating project index",
			slog.String("project_id", pi.project.ID))
		if rerr := pi.recreateCollection(ctx); rerr != nil {
			_ = pi.transition(StateFailed)
			return nil, amerrors.Wrap(amerrors.ErrCodeDimensionMismatch, rerr)
		}
		result, err = pi.runner.Run(ctx, pi.runnerConfig())
	}
	if err != nil {
		_ = pi.transition(StateFailed)
		return nil, amerrors.Wrap(amerrors.ErrCodeIndexFailed, err)
	}

	if terr := pi.transition(StateReady); terr != nil {
		return nil, terr
	}

	return &IndexSummary{
		FilesIndexed: result.Files,
		Errors:       result.Errors,
	}, nil
}

func (pi *ProjectIndexer) runnerConfig() index.RunnerConfig {
	return index.RunnerConfig{
		RootDir:   pi.project.ResolvedPath,
		DataDir:   filepath.Join(pi.project.ResolvedPath, ".ctxgraph"),
		ProjectID: pi.project.ID,
	}
}

// Search delegates to the project's search engine, surfacing
// search.ErrDimensionMismatch to the caller unchanged so the workspace
// manager can schedule a reindex.
func (pi *ProjectIndexer) Search(ctx context.Context, query string, opts search.SearchOptions) ([]*search.SearchResult, error) {
	return pi.engine.Search(ctx, query, opts)
}

// Status returns the persisted IndexingState for this project, falling back
// to the in-memory lifecycle state when nothing has been persisted yet.
func (pi *ProjectIndexer) Status(ctx context.Context) IndexingState {
	row, err := pi.wsdb.LoadIndexingState(pi.project.ID)
	if err != nil || row == nil {
		return IndexingState{Status: pi.State()}
	}
	return IndexingState{
		Status:       IndexerState(row.Status),
		FilesIndexed: row.FilesIndexed,
		Errors:       row.ErrorCount,
	}
}

// StartMonitoring wires the project's file watcher into an index.Coordinator
// so changed files are re-indexed incrementally; StopMonitoring tears it
// down. Both are optional per the indexer lifecycle.
func (pi *ProjectIndexer) StartMonitoring(ctx context.Context, w *watcher.HybridWatcher) error {
	if pi.coordinator != nil {
		return nil
	}

	pi.coordinator = index.NewCoordinator(index.CoordinatorConfig{
		ProjectID:   pi.project.ID,
		RootPath:    pi.project.ResolvedPath,
		DataDir:     filepath.Join(pi.project.ResolvedPath, ".ctxgraph"),
		Engine:      pi.engine,
		Metadata:    pi.meta,
		CodeChunker: pi.codeChunker,
		MDChunker:   pi.mdChunker,
	})

	stopCh := make(chan struct{})
	go func() {
		for {
			select {
			case events := <-w.Events():
				if err := pi.coordinator.HandleEvents(ctx, events); err != nil {
					slog.Warn("incremental reindex failed",
						slog.String("project_id", pi.project.ID),
						slog.String("error", err.Error()))
				}
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	pi.watcherStop = func() { close(stopCh) }
	return nil
}

// StopMonitoring tears down the watcher-driven coordinator goroutine.
func (pi *ProjectIndexer) StopMonitoring() {
	if pi.watcherStop != nil {
		pi.watcherStop()
		pi.watcherStop = nil
	}
	pi.coordinator = nil
}
