// Package workspace implements the multi-project workspace model: the
// Workspace/Project/Relationship configuration schema, validation, the
// per-project indexer wrapper, and the manager that coordinates indexing and
// cross-project search fan-out.
package workspace

import "time"

// ProjectType classifies a project by its role in the workspace, distinct
// from internal/config.ProjectType which classifies a project's primary
// language for per-project tuning.
type ProjectType string

const (
	ProjectTypeWebFrontend  ProjectType = "web_frontend"
	ProjectTypeAPIServer    ProjectType = "api_server"
	ProjectTypeLibrary      ProjectType = "library"
	ProjectTypeDocumentation ProjectType = "documentation"
	ProjectTypeMobileApp    ProjectType = "mobile_app"
	ProjectTypeApplication  ProjectType = "application"
)

// Priority orders indexing work across projects during a parallel index_all.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank gives each Priority a stable sort weight (lower runs first).
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Scope selects which projects a workspace-wide search targets.
type Scope string

const (
	ScopeProject      Scope = "project"
	ScopeDependencies Scope = "dependencies"
	ScopeWorkspace    Scope = "workspace"
	ScopeRelated      Scope = "related"
)

// RelationType mirrors internal/graph.RelationType in the workspace
// config's wire format; Relationships convert to graph.Edge on load.
type RelationType string

const (
	RelationImports            RelationType = "imports"
	RelationAPIClient          RelationType = "api_client"
	RelationSharedDatabase     RelationType = "shared_database"
	RelationEventDriven        RelationType = "event_driven"
	RelationSemanticSimilarity RelationType = "semantic_similarity"
	RelationDependency         RelationType = "dependency"
)

// IndexingConfig is the per-project indexing tuning block referenced from
// the workspace config; it does not replace a project's own .ctxgraph.yaml,
// it only controls workspace-level scheduling (enabled/priority/exclude).
type IndexingConfig struct {
	Enabled  bool     `json:"enabled"`
	Priority Priority `json:"priority,omitempty"`
	Exclude  []string `json:"exclude,omitempty"`
}

// Project is one source tree tracked by the workspace.
type Project struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Path         string         `json:"path"`
	Type         ProjectType    `json:"type,omitempty"`
	Languages    []string       `json:"languages,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Indexing     IndexingConfig `json:"indexing,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	// ResolvedPath is Path resolved against the workspace config file's
	// directory, populated on Load; not serialized.
	ResolvedPath string `json:"-"`
}

// Relationship is a directed, typed, weighted edge between two projects.
type Relationship struct {
	FromID      string            `json:"from_id"`
	ToID        string            `json:"to_id"`
	Type        RelationType      `json:"type"`
	Weight      float64           `json:"weight"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SearchConfig is the workspace-wide default search behavior.
type SearchConfig struct {
	DefaultScope        Scope   `json:"default_scope,omitempty"`
	CrossProjectRanking bool    `json:"cross_project_ranking,omitempty"`
	RelationshipBoost   float64 `json:"relationship_boost,omitempty"`
}

// DefaultSearchConfig returns the workspace defaults used when a loaded
// config omits the search block entirely.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		DefaultScope:        ScopeProject,
		CrossProjectRanking: true,
		RelationshipBoost:   1.5,
	}
}

// Workspace is the root configuration document: a named collection of
// related projects plus their relationships and default search behavior.
type Workspace struct {
	Version       string         `json:"version"`
	Name          string         `json:"name"`
	Projects      []Project      `json:"projects"`
	Relationships []Relationship `json:"relationships"`
	Search        SearchConfig   `json:"search,omitempty"`

	// ConfigPath is the path to the loaded/saved config file; not
	// serialized, since it identifies the document rather than being part
	// of it.
	ConfigPath string `json:"-"`
}

// GetProject returns the project with the given id, or nil if absent.
func (w *Workspace) GetProject(id string) *Project {
	for i := range w.Projects {
		if w.Projects[i].ID == id {
			return &w.Projects[i]
		}
	}
	return nil
}

// Relationships returns relationships touching id (either endpoint) and
// optionally filtered by type. A nil id returns all relationships (still
// filterable by type).
func (w *Workspace) RelationshipsFor(id string, relType *RelationType) []Relationship {
	var out []Relationship
	for _, r := range w.Relationships {
		if id != "" && r.FromID != id && r.ToID != id {
			continue
		}
		if relType != nil && r.Type != *relType {
			continue
		}
		out = append(out, r)
	}
	return out
}

// EnabledProjects returns every project whose IndexingConfig.Enabled is
// true (or unset, which defaults to enabled).
func (w *Workspace) EnabledProjects() []Project {
	var out []Project
	for _, p := range w.Projects {
		if p.Indexing.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// IndexerState enumerates the ProjectIndexer lifecycle states.
type IndexerState string

const (
	StateUninitialized IndexerState = "uninitialized"
	StateInitializing  IndexerState = "initializing"
	StateReady         IndexerState = "ready"
	StateIndexing      IndexerState = "indexing"
	StateFailed        IndexerState = "failed"
)

// IndexSummary is returned by ProjectIndexer.Index.
type IndexSummary struct {
	FilesIndexed int
	FilesSkipped int
	Errors       int
}

// IndexingState is the persisted per-project indexing status.
type IndexingState struct {
	Status        IndexerState      `json:"status"`
	FilesIndexed  int               `json:"files_indexed"`
	Errors        int               `json:"errors"`
	LastFullScan  time.Time         `json:"last_full_scan_ts"`
	PerFile       map[string]string `json:"per_file"`
}
