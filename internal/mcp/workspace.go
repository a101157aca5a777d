package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	amerrors "github.com/ctxmesh/ctxgraph/internal/errors"
	"github.com/ctxmesh/ctxgraph/internal/pipeline"
	"github.com/ctxmesh/ctxgraph/internal/ranker"
	"github.com/ctxmesh/ctxgraph/internal/workspace"
)

// ProjectIndexerFactory builds a ProjectIndexer for a project newly
// discovered in a reloaded workspace config. Supplied by the process that
// owns per-project storage/embedder wiring (cmd/ctxgraph), since the MCP
// layer itself has no opinion on how a project's search engine is built.
type ProjectIndexerFactory func(ctx context.Context, p workspace.Project) (*workspace.ProjectIndexer, error)

// WorkspaceServer adds workspace-aware tools to an existing MCP server: it
// registers additional tools on the same *mcp.Server rather than replacing
// or wrapping Server, so a project that never loads a workspace config pays
// no cost for this surface.
type WorkspaceServer struct {
	configPath string
	doc        *workspace.Document
	manager    *workspace.Manager
	pipeline   *pipeline.Pipeline
	factory    ProjectIndexerFactory
	logger     *slog.Logger
}

// NewWorkspaceServer constructs a WorkspaceServer bound to configPath (read
// by workspace.load/workspace.save) and the already-built manager/pipeline
// for the workspace currently loaded.
func NewWorkspaceServer(configPath string, doc *workspace.Document, manager *workspace.Manager, pl *pipeline.Pipeline, factory ProjectIndexerFactory) *WorkspaceServer {
	return &WorkspaceServer{
		configPath: configPath,
		doc:        doc,
		manager:    manager,
		pipeline:   pl,
		factory:    factory,
		logger:     slog.Default(),
	}
}

// RegisterTools registers workspace.*, search (workspace-aware), and
// context.update tools on mcpServer.
func (w *WorkspaceServer) RegisterTools(mcpServer *mcp.Server) {
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "workspace_load",
		Description: "Reload the workspace configuration from disk, picking up new or edited projects and relationships.",
	}, w.handleLoad)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "workspace_save",
		Description: "Persist the current in-memory workspace configuration back to its config file.",
	}, w.handleSave)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "workspace_index",
		Description: "Index one project, or the whole workspace in dependency order, building/refreshing the hybrid search index.",
	}, w.handleIndex)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "workspace_status",
		Description: "Report each project's indexing state: ready, indexing, failed, or uninitialized.",
	}, w.handleStatus)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "search_workspace",
		Description: "Cross-project hybrid search, scoped to a single project, its dependencies, related projects, or the whole workspace. Ranked using the caller's recent-file and query history.",
	}, w.handleSearch)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "search_template",
		Description: "Run a named, reusable search intent (e.g. authentication, database_models, tests) instead of a free-form query.",
	}, w.handleSearchTemplate)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "context_update",
		Description: "Record the caller's current file/project and a file they just opened, so future searches rank results from that context higher.",
	}, w.handleContextUpdate)

	w.logger.Info("MCP workspace tools registered", slog.Int("count", 6))
}

// WorkspaceLoadInput reloads the workspace from its config path.
type WorkspaceLoadInput struct {
	VerifyPaths bool `json:"verify_paths,omitempty" jsonschema:"require every project path to exist on disk"`
}

// WorkspaceLoadOutput reports the reloaded workspace's shape.
type WorkspaceLoadOutput struct {
	ProjectCount int      `json:"project_count"`
	ProjectIDs   []string `json:"project_ids"`
}

func (w *WorkspaceServer) handleLoad(ctx context.Context, _ *mcp.CallToolRequest, input WorkspaceLoadInput) (*mcp.CallToolResult, WorkspaceLoadOutput, error) {
	doc, err := workspace.Load(w.configPath, workspace.LoadOptions{VerifyPaths: input.VerifyPaths})
	if err != nil {
		return nil, WorkspaceLoadOutput{}, MapError(err)
	}
	w.doc = doc

	ids := make([]string, 0, len(doc.Workspace.Projects))
	for _, p := range doc.Workspace.Projects {
		ids = append(ids, p.ID)
		if w.factory == nil {
			continue
		}
		if pi, ferr := w.factory(ctx, p); ferr == nil {
			_ = w.manager.AddProject(ctx, p, pi)
		} else {
			w.logger.Warn("workspace_load: could not build project indexer",
				slog.String("project_id", p.ID), slog.String("error", ferr.Error()))
		}
	}

	return nil, WorkspaceLoadOutput{ProjectCount: len(ids), ProjectIDs: ids}, nil
}

// WorkspaceSaveInput has no fields; the workspace is saved to its existing
// configPath.
type WorkspaceSaveInput struct{}

// WorkspaceSaveOutput confirms the write.
type WorkspaceSaveOutput struct {
	Path string `json:"path"`
}

func (w *WorkspaceServer) handleSave(_ context.Context, _ *mcp.CallToolRequest, _ WorkspaceSaveInput) (*mcp.CallToolResult, WorkspaceSaveOutput, error) {
	if w.doc == nil {
		return nil, WorkspaceSaveOutput{}, amerrors.New(amerrors.ErrCodeWorkspaceInvalid, "no workspace loaded", nil)
	}
	if err := workspace.Save(w.doc.Workspace, w.configPath); err != nil {
		return nil, WorkspaceSaveOutput{}, MapError(err)
	}
	return nil, WorkspaceSaveOutput{Path: w.configPath}, nil
}

// WorkspaceIndexInput selects what to index.
type WorkspaceIndexInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"index only this project; omit to index the whole workspace"`
	Parallel  bool   `json:"parallel,omitempty" jsonschema:"index independent projects concurrently"`
}

// WorkspaceIndexResultOutput is one project's index outcome.
type WorkspaceIndexResultOutput struct {
	ProjectID    string `json:"project_id"`
	FilesIndexed int    `json:"files_indexed,omitempty"`
	Errors       int    `json:"errors,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WorkspaceIndexOutput is the full indexing run's outcome.
type WorkspaceIndexOutput struct {
	Results []WorkspaceIndexResultOutput `json:"results"`
}

func (w *WorkspaceServer) handleIndex(ctx context.Context, _ *mcp.CallToolRequest, input WorkspaceIndexInput) (*mcp.CallToolResult, WorkspaceIndexOutput, error) {
	if input.ProjectID != "" {
		summary, err := w.manager.IndexProject(ctx, input.ProjectID)
		if err != nil {
			return nil, WorkspaceIndexOutput{}, MapError(err)
		}
		return nil, WorkspaceIndexOutput{Results: []WorkspaceIndexResultOutput{
			{ProjectID: input.ProjectID, FilesIndexed: summary.FilesIndexed, Errors: summary.Errors},
		}}, nil
	}

	results := w.manager.IndexAll(ctx, input.Parallel)
	out := make([]WorkspaceIndexResultOutput, 0, len(results))
	for _, r := range results {
		row := WorkspaceIndexResultOutput{ProjectID: r.ProjectID}
		if r.Summary != nil {
			row.FilesIndexed = r.Summary.FilesIndexed
			row.Errors = r.Summary.Errors
		}
		if r.Err != nil {
			row.Error = r.Err.Error()
		}
		out = append(out, row)
	}
	return nil, WorkspaceIndexOutput{Results: out}, nil
}

// WorkspaceStatusInput has no fields; every project's status is returned.
type WorkspaceStatusInput struct{}

// WorkspaceStatusProjectOutput is one project's indexing state.
type WorkspaceStatusProjectOutput struct {
	ProjectID    string `json:"project_id"`
	Status       string `json:"status"`
	FilesIndexed int    `json:"files_indexed"`
	Errors       int    `json:"errors"`
}

// WorkspaceStatusOutput lists every project's indexing state.
type WorkspaceStatusOutput struct {
	Projects []WorkspaceStatusProjectOutput `json:"projects"`
}

func (w *WorkspaceServer) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ WorkspaceStatusInput) (*mcp.CallToolResult, WorkspaceStatusOutput, error) {
	out := WorkspaceStatusOutput{}
	if w.doc == nil {
		return nil, out, nil
	}
	for _, p := range w.doc.Workspace.Projects {
		state := w.manager.ProjectStatus(ctx, p.ID)
		out.Projects = append(out.Projects, WorkspaceStatusProjectOutput{
			ProjectID:    p.ID,
			Status:       string(state.Status),
			FilesIndexed: state.FilesIndexed,
			Errors:       state.Errors,
		})
	}
	return nil, out, nil
}

// SearchWorkspaceInput is the cross-project search request.
type SearchWorkspaceInput struct {
	Query     string `json:"query" jsonschema:"the search query to execute"`
	ProjectID string `json:"project_id" jsonschema:"the project the caller is currently working in"`
	UserID    string `json:"user_id,omitempty" jsonschema:"caller identity, used to rank by recent activity"`
	Scope     string `json:"scope,omitempty" jsonschema:"project, dependencies, related, or workspace; default project"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchWorkspaceOutput is the ranked, cross-project result set.
type SearchWorkspaceOutput struct {
	Results []SearchWorkspaceResultOutput `json:"results"`
}

// SearchWorkspaceResultOutput is one ranked result with its project origin.
type SearchWorkspaceResultOutput struct {
	ProjectID  string  `json:"project_id"`
	FilePath   string  `json:"file_path"`
	Symbol     string  `json:"symbol,omitempty"`
	Score      float64 `json:"score"`
	FinalScore float64 `json:"final_score"`
}

func (w *WorkspaceServer) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchWorkspaceInput) (*mcp.CallToolResult, SearchWorkspaceOutput, error) {
	if input.Query == "" {
		return nil, SearchWorkspaceOutput{}, NewInvalidParamsError("query parameter is required")
	}
	k := input.Limit
	if k <= 0 {
		k = 10
	}

	resp, err := w.pipeline.Run(ctx, pipeline.Request{
		Query:     input.Query,
		ProjectID: input.ProjectID,
		UserID:    input.UserID,
		Scope:     workspace.Scope(scopeOrDefault(input.Scope)),
		K:         k,
	})
	if err != nil {
		return nil, SearchWorkspaceOutput{}, MapError(err)
	}

	out := SearchWorkspaceOutput{Results: make([]SearchWorkspaceResultOutput, 0, len(resp.Results))}
	for _, r := range resp.Results {
		out.Results = append(out.Results, toSearchWorkspaceResult(r))
	}
	return nil, out, nil
}

func scopeOrDefault(s string) string {
	if s == "" {
		return string(workspace.ScopeProject)
	}
	return s
}

func toSearchWorkspaceResult(r ranker.Ranked) SearchWorkspaceResultOutput {
	return SearchWorkspaceResultOutput{
		ProjectID:  r.Result.ProjectID,
		FilePath:   r.Result.FilePath,
		Symbol:     r.Result.Symbol,
		Score:      r.Result.BaseScore,
		FinalScore: r.FinalScore,
	}
}

// SearchTemplateInput runs a named template against the caller's free-form
// hint text.
type SearchTemplateInput struct {
	Template  string `json:"template" jsonschema:"the template name, e.g. authentication, tests, database_models"`
	ProjectID string `json:"project_id" jsonschema:"the project the caller is currently working in"`
	UserID    string `json:"user_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (w *WorkspaceServer) handleSearchTemplate(ctx context.Context, req *mcp.CallToolRequest, input SearchTemplateInput) (*mcp.CallToolResult, SearchWorkspaceOutput, error) {
	return w.handleSearch(ctx, req, SearchWorkspaceInput{
		Query:     input.Template,
		ProjectID: input.ProjectID,
		UserID:    input.UserID,
		Scope:     input.Scope,
		Limit:     input.Limit,
	})
}

// ContextUpdateInput records the caller's current working location.
type ContextUpdateInput struct {
	UserID         string `json:"user_id" jsonschema:"caller identity"`
	CurrentFile    string `json:"current_file,omitempty"`
	CurrentProject string `json:"current_project,omitempty"`
	OpenedFile     string `json:"opened_file,omitempty" jsonschema:"a file the caller just opened, recorded in recent/frequent file history"`
}

// ContextUpdateOutput confirms the update.
type ContextUpdateOutput struct {
	UserID string `json:"user_id"`
}

func (w *WorkspaceServer) handleContextUpdate(_ context.Context, _ *mcp.CallToolRequest, input ContextUpdateInput) (*mcp.CallToolResult, ContextUpdateOutput, error) {
	if input.UserID == "" {
		return nil, ContextUpdateOutput{}, NewInvalidParamsError("user_id parameter is required")
	}
	if w.pipeline.UserContexts == nil {
		w.pipeline.UserContexts = make(map[string]*ranker.UserContext)
	}
	uctx, ok := w.pipeline.UserContexts[input.UserID]
	if !ok {
		uctx = ranker.NewUserContext(input.UserID)
		w.pipeline.UserContexts[input.UserID] = uctx
	}
	if input.CurrentFile != "" {
		uctx.CurrentFile = input.CurrentFile
	}
	if input.CurrentProject != "" {
		uctx.CurrentProject = input.CurrentProject
	}
	clock := w.pipeline.Clock
	if clock == nil {
		clock = time.Now
	}
	if input.OpenedFile != "" {
		uctx.RecordFileAccess(input.OpenedFile, clock())
	}
	return nil, ContextUpdateOutput{UserID: input.UserID}, nil
}
