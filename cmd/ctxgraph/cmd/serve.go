package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ctxmesh/ctxgraph/internal/cache"
	"github.com/ctxmesh/ctxgraph/internal/chunk"
	"github.com/ctxmesh/ctxgraph/internal/config"
	"github.com/ctxmesh/ctxgraph/internal/embed"
	"github.com/ctxmesh/ctxgraph/internal/index"
	"github.com/ctxmesh/ctxgraph/internal/logging"
	mcpserver "github.com/ctxmesh/ctxgraph/internal/mcp"
	"github.com/ctxmesh/ctxgraph/internal/pipeline"
	"github.com/ctxmesh/ctxgraph/internal/ranker"
	"github.com/ctxmesh/ctxgraph/internal/search"
	"github.com/ctxmesh/ctxgraph/internal/store"
	"github.com/ctxmesh/ctxgraph/internal/templates"
	"github.com/ctxmesh/ctxgraph/internal/ui"
	"github.com/ctxmesh/ctxgraph/internal/watcher"
	"github.com/ctxmesh/ctxgraph/internal/workspace"
	"github.com/ctxmesh/ctxgraph/internal/wsstore"
)

func newServeCmd() *cobra.Command {
	var transport string
	var port int
	var debug bool
	var sessionName string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start CtxGraph as an MCP server, exposing hybrid search over the
indexed codebase to AI coding assistants via JSON-RPC over stdio.

MCP protocol requires stdout to carry JSON-RPC messages exclusively; all
diagnostic output goes to the debug log file instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeWithSession(cmd.Context(), cmd, transport, port, sessionName, debug)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to serve over (stdio, sse)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (sse transport only)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose debug logging to the log file")
	cmd.Flags().StringVar(&sessionName, "session", "", "Serve a named session's index instead of the current directory's")

	return cmd
}

// verifyStdinForMCP reports whether stdin looks like a JSON-RPC pipe rather
// than an interactive terminal. A terminal almost always means the user ran
// 'ctxgraph serve' directly instead of through an MCP client.
func verifyStdinForMCP() error {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("stdin is a terminal, not a pipe: the MCP server expects JSON-RPC messages piped in by a client, not typed interactively")
	}
	return nil
}

// runServe starts the MCP server against the current directory's index.
// It is the entry point used by the smart-default flow and has no session
// or debug-flag concerns of its own.
func runServe(ctx context.Context, transport string, port int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".ctxgraph")
	return runServeCore(ctx, transport, port, root, dataDir)
}

// runServeWithSession adds MCP-safe logging and named-session resolution on
// top of runServe. It is what the 'serve' subcommand actually runs.
func runServeWithSession(ctx context.Context, cmd *cobra.Command, transport string, port int, sessionName string, debug bool) error {
	level := "info"
	if debug {
		level = "debug"
	}
	if cleanup, err := logging.SetupMCPModeWithLevel(level); err == nil {
		defer cleanup()
	}

	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Warn("stdin check failed", slog.String("error", err.Error()))
		}
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".ctxgraph")
	if sessionName != "" {
		mgr, err := getSessionManager()
		if err != nil {
			return fmt.Errorf("failed to open session manager: %w", err)
		}
		sess, err := mgr.Open(sessionName, root)
		if err != nil {
			return fmt.Errorf("failed to open session %q: %w", sessionName, err)
		}
		dataDir = sess.SessionDir
	}

	return runServeCore(ctx, transport, port, root, dataDir)
}

// watcherStartupTimeout reads CTXGRAPH_WATCHER_STARTUP_TIMEOUT, defaulting
// to 2s. It only bounds how long we wait before logging a "still starting"
// warning -- the watcher always finishes initializing in its own goroutine,
// never blocking the MCP handshake.
func watcherStartupTimeout() time.Duration {
	if v := os.Getenv("CTXGRAPH_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 2 * time.Second
}

func runServeCore(ctx context.Context, transport string, port int, root, dataDir string) error {
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'ctxgraph index' to create one", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})

	embedCtx, embedCancel := context.WithTimeout(ctx, 15*time.Second)
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
	embedCancel()
	if err != nil {
		return fmt.Errorf("embedder initialization failed: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		engineConfig.DefaultWeights = search.Weights{
			BM25:     cfg.Search.BM25Weight,
			Semantic: cfg.Search.SemanticWeight,
		}
	}
	engine := search.New(bm25, vector, embedder, metadata, engineConfig,
		search.WithMultiQuerySearch(search.NewPatternDecomposer()))

	mcpSrv, err := mcpserver.NewServer(engine, metadata, embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	workspaceCleanup := wireWorkspaceServer(ctx, mcpSrv, root, embedder)
	if workspaceCleanup != nil {
		defer workspaceCleanup()
	}

	stopWatching := startBackgroundWatcher(ctx, root, dataDir, engine, metadata)
	defer stopWatching()

	return mcpSrv.Serve(ctx, transport, portAddr(port))
}

func portAddr(port int) string {
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}

// startBackgroundWatcher launches the file watcher and its incremental
// reindex coordinator on their own goroutine so slow filesystems (network
// mounts, huge trees) never delay the MCP handshake. A timer only logs a
// warning if startup is taking unusually long; it never blocks Serve.
func startBackgroundWatcher(ctx context.Context, root, dataDir string, engine *search.Engine, metadata store.MetadataStore) func() {
	w, err := watcher.NewHybridWatcher(watcher.Options{})
	if err != nil {
		slog.Warn("failed to create file watcher", slog.String("error", err.Error()))
		return func() {}
	}

	coordinator := index.NewCoordinator(index.CoordinatorConfig{
		RootPath:    root,
		DataDir:     dataDir,
		Engine:      engine,
		Metadata:    metadata,
		CodeChunker: chunk.NewCodeChunker(),
		MDChunker:   chunk.NewMarkdownChunker(),
	})

	started := make(chan error, 1)
	go func() {
		started <- w.Start(ctx, root)
	}()

	go func() {
		select {
		case err := <-started:
			if err != nil {
				slog.Warn("file watcher failed to start", slog.String("error", err.Error()))
				return
			}
		case <-time.After(watcherStartupTimeout()):
			slog.Debug("file watcher still starting", slog.String("root", root))
			err := <-started
			if err != nil {
				slog.Warn("file watcher failed to start", slog.String("error", err.Error()))
				return
			}
		case <-ctx.Done():
			return
		}

		for {
			select {
			case events := <-w.Events():
				if err := coordinator.HandleEvents(ctx, events); err != nil {
					slog.Warn("incremental reindex failed", slog.String("error", err.Error()))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { _ = w.Stop() }
}

// wireWorkspaceServer registers the workspace.* MCP tools when a sibling
// multi-project config is present, so a single-project checkout doesn't pay
// for workspace plumbing it never uses. Returns nil when no config is found.
func wireWorkspaceServer(ctx context.Context, mcpSrv *mcpserver.Server, root string, embedder embed.Embedder) func() {
	workspacePath := filepath.Join(root, ".ctxgraph-workspace.yaml")
	if !fileExists(workspacePath) {
		return nil
	}

	doc, err := workspace.Load(workspacePath, workspace.LoadOptions{})
	if err != nil {
		slog.Warn("failed to load workspace config, workspace tools disabled",
			slog.String("path", workspacePath), slog.String("error", err.Error()))
		return nil
	}

	wsdb, err := wsstore.Open(filepath.Join(root, ".ctxgraph-workspace.db"))
	if err != nil {
		slog.Warn("failed to open workspace store, workspace tools disabled",
			slog.String("error", err.Error()))
		return nil
	}

	manager := workspace.NewManager(doc, map[string]*workspace.ProjectIndexer{}, workspace.ManagerConfig{})

	registry, err := templates.NewRegistry(wsdb)
	if err != nil {
		slog.Warn("failed to load query templates, workspace tools disabled",
			slog.String("error", err.Error()))
		_ = wsdb.Close()
		return nil
	}

	pl := &pipeline.Pipeline{
		Classifier:   search.NewPatternClassifier(),
		Expander:     search.NewQueryExpander(),
		Embedder:     embedder,
		Manager:      manager,
		Ranker:       ranker.New(ranker.Config{}),
		Cache:        cache.New(cache.Config{Backend: cache.NewDefaultBackend(ctx, cfgRedisAddr()), Store: wsdb}),
		Templates:    registry,
		UserContexts: make(map[string]*ranker.UserContext),
	}

	factory := func(ctx context.Context, p workspace.Project) (*workspace.ProjectIndexer, error) {
		return buildProjectIndexer(ctx, p, wsdb, siblingPathsFor(p, doc.Workspace.Projects))
	}

	ws := mcpserver.NewWorkspaceServer(workspacePath, doc, manager, pl, factory)
	ws.RegisterTools(mcpSrv.MCPServer())

	// The single-project search/search_code/search_docs tools route through
	// the same pipeline once a workspace config exists, so both surfaces
	// share one classifier/ranker instead of the engine running its own
	// dormant classification a second time.
	if projectID := projectIDForRoot(doc, root); projectID != "" {
		mcpSrv.SetPipeline(pl, projectID)
	}

	return func() { _ = wsdb.Close() }
}

// projectIDForRoot finds the workspace project whose resolved path matches
// root, so the single-project MCP surface knows which project to scope
// pipeline searches to. Returns "" if root isn't a member of doc (e.g. serve
// was run from a directory the workspace config doesn't list).
func projectIDForRoot(doc *workspace.Document, root string) string {
	for _, p := range doc.Workspace.Projects {
		if p.ResolvedPath == root {
			return p.ID
		}
	}
	return ""
}

// cfgRedisAddr reads the optional CTXGRAPH_REDIS_ADDR override; an empty
// string tells cache.NewDefaultBackend to fall back to the in-memory L2.
func cfgRedisAddr() string {
	return os.Getenv("CTXGRAPH_REDIS_ADDR")
}

// siblingPathsFor returns the relative paths of other workspace projects
// nested inside p's own tree (a monorepo layout), so p's scan can exclude
// them and leave their indexing to their own ProjectIndexer.
func siblingPathsFor(p workspace.Project, all []workspace.Project) []string {
	var siblings []string
	for _, other := range all {
		if other.ID == p.ID {
			continue
		}
		rel, err := filepath.Rel(p.ResolvedPath, other.ResolvedPath)
		if err != nil || strings.HasPrefix(rel, "..") || rel == "." {
			continue
		}
		siblings = append(siblings, rel)
	}
	return siblings
}

// buildProjectIndexer assembles one workspace project's search engine and
// indexing runner, mirroring the single-project construction above.
func buildProjectIndexer(ctx context.Context, p workspace.Project, wsdb *wsstore.Store, siblingPaths []string) (*workspace.ProjectIndexer, error) {
	root := p.ResolvedPath
	dataDir := filepath.Join(root, ".ctxgraph")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	bm25Config := store.DefaultBM25Config()
	bm25Config.Label = p.ID
	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, "bm25"), bm25Config, cfg.Search.BM25Backend)
	if err != nil {
		return nil, fmt.Errorf("open bm25 index: %w", err)
	}

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vectorConfig.Label = p.ID
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if vp := filepath.Join(dataDir, "vectors.hnsw"); fileExists(vp) {
		_ = vector.Load(vp)
	}

	engine := search.New(bm25, vector, embedder, metadata, search.DefaultConfig())

	renderer := ui.NewRenderer(ui.NewConfig(io.Discard, ui.WithForcePlain(true)))
	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer:            renderer,
		Config:              cfg,
		Metadata:            metadata,
		BM25:                bm25,
		Vector:              vector,
		Embedder:            embedder,
		CodeChunker:         chunk.NewCodeChunker(),
		MarkdownChunker:     chunk.NewMarkdownChunker(),
		SiblingProjectPaths: siblingPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("create index runner: %w", err)
	}

	return workspace.NewProjectIndexer(workspace.ProjectIndexerDeps{
		Project:     p,
		Engine:      engine,
		Metadata:    metadata,
		Embedder:    embedder,
		Config:      cfg,
		WSStore:     wsdb,
		Runner:      runner,
		CodeChunker: chunk.NewCodeChunker(),
		MDChunker:   chunk.NewMarkdownChunker(),
	}), nil
}
