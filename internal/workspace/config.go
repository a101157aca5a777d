package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofrs/flock"

	amerrors "github.com/ctxmesh/ctxgraph/internal/errors"
	"github.com/ctxmesh/ctxgraph/internal/graph"
)

var (
	semverPattern     = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	projectIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// LoadOptions controls workspace validation behavior beyond the mandatory
// structural checks.
type LoadOptions struct {
	// VerifyPaths requires every project's resolved path to exist on disk.
	// Off by default so auto-discovery drafts and tests can validate a
	// workspace before projects are materialized.
	VerifyPaths bool
}

// Document bundles a parsed Workspace with the relationship graph derived
// from it, since Dependencies/Dependents/graph-shaped queries need both.
type Document struct {
	Workspace *Workspace
	Graph     *graph.Graph
}

// Load reads, parses, and validates a workspace config file at path.
func Load(path string, opts LoadOptions) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeFileNotFound, fmt.Errorf("read workspace config: %w", err))
	}
	return Parse(data, path, opts)
}

// Parse decodes and validates raw workspace config bytes. configPath is used
// to resolve relative project paths and is stamped onto the result.
func Parse(data []byte, configPath string, opts LoadOptions) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w Workspace
	if err := dec.Decode(&w); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeWorkspaceInvalid, fmt.Sprintf("malformed workspace config: %v", err), err)
	}
	w.ConfigPath = configPath

	if w.Search == (SearchConfig{}) {
		w.Search = DefaultSearchConfig()
	}

	baseDir := filepath.Dir(configPath)
	for i := range w.Projects {
		p := &w.Projects[i]
		if filepath.IsAbs(p.Path) {
			p.ResolvedPath = p.Path
		} else {
			p.ResolvedPath = filepath.Join(baseDir, p.Path)
		}
	}

	g, err := validate(&w, opts)
	if err != nil {
		return nil, err
	}

	return &Document{Workspace: &w, Graph: g}, nil
}

// validate runs every structural invariant from §3/§4.1 and, on success,
// builds the relationship graph (needed for dependency-cycle detection, so
// it is constructed here rather than deferred to the caller).
func validate(w *Workspace, opts LoadOptions) (*graph.Graph, error) {
	if !semverPattern.MatchString(w.Version) {
		return nil, amerrors.New(amerrors.ErrCodeWorkspaceInvalid,
			fmt.Sprintf("version %q is not MAJOR.MINOR.PATCH", w.Version), nil)
	}

	seen := make(map[string]struct{}, len(w.Projects))
	g := graph.New()
	for _, p := range w.Projects {
		if !projectIDPattern.MatchString(p.ID) {
			return nil, amerrors.New(amerrors.ErrCodeWorkspaceInvalid,
				fmt.Sprintf("project id %q must contain only letters, digits, underscore", p.ID), nil)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, amerrors.New(amerrors.ErrCodeDuplicateProjectID,
				fmt.Sprintf("duplicate project id %q", p.ID), nil)
		}
		seen[p.ID] = struct{}{}
		g.AddNode(p.ID)

		if opts.VerifyPaths {
			if _, err := os.Stat(p.ResolvedPath); err != nil {
				return nil, amerrors.New(amerrors.ErrCodeInvalidPath,
					fmt.Sprintf("project %q path does not exist: %s", p.ID, p.ResolvedPath), err)
			}
		}
	}

	for _, p := range w.Projects {
		for _, dep := range p.Dependencies {
			if _, ok := seen[dep]; !ok {
				return nil, amerrors.New(amerrors.ErrCodeUnknownProjectRef,
					fmt.Sprintf("project %q depends on unknown project %q", p.ID, dep), nil)
			}
			if dep == p.ID {
				return nil, amerrors.New(amerrors.ErrCodeSelfRelationship,
					fmt.Sprintf("project %q cannot depend on itself", p.ID), nil)
			}
			if err := g.AddEdge(graph.Edge{From: p.ID, To: dep, Type: graph.RelationDependency, Weight: 1.0}); err != nil {
				return nil, amerrors.New(amerrors.ErrCodeWorkspaceInvalid, err.Error(), err)
			}
		}
	}

	for _, r := range w.Relationships {
		if r.FromID == r.ToID {
			return nil, amerrors.New(amerrors.ErrCodeSelfRelationship,
				fmt.Sprintf("self-referential relationship on %q", r.FromID), nil)
		}
		if _, ok := seen[r.FromID]; !ok {
			return nil, amerrors.New(amerrors.ErrCodeUnknownProjectRef,
				fmt.Sprintf("relationship references unknown project %q", r.FromID), nil)
		}
		if _, ok := seen[r.ToID]; !ok {
			return nil, amerrors.New(amerrors.ErrCodeUnknownProjectRef,
				fmt.Sprintf("relationship references unknown project %q", r.ToID), nil)
		}
		gt := graph.RelationType(r.Type)
		existing := g.Edges(r.FromID, r.ToID, &gt)
		if len(existing) > 0 {
			if err := g.UpdateEdge(graph.Edge{
				From: r.FromID, To: r.ToID, Type: gt, Weight: r.Weight,
				Description: r.Description, Metadata: r.Metadata,
			}); err != nil {
				return nil, amerrors.New(amerrors.ErrCodeWorkspaceInvalid, err.Error(), err)
			}
			continue
		}
		if err := g.AddEdge(graph.Edge{
			From: r.FromID, To: r.ToID, Type: gt, Weight: r.Weight,
			Description: r.Description, Metadata: r.Metadata,
		}); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeWorkspaceInvalid, err.Error(), err)
		}
	}

	if cyc := g.DetectCycle(); cyc != nil {
		return nil, amerrors.New(amerrors.ErrCodeDependencyCycle, (&graph.CycleError{Path: cyc}).Error(), nil)
	}

	return g, nil
}

// Save serializes w to its ConfigPath (or to path if non-empty), two-space
// indented, UTF-8, LF-terminated. Writes atomically via a temp file plus
// rename and a flock on the destination to serialize concurrent saves,
// matching the locking discipline internal/embed uses for the model-download
// lock.
func Save(w *Workspace, path string) error {
	if path == "" {
		path = w.ConfigPath
	}
	if path == "" {
		return amerrors.New(amerrors.ErrCodeWorkspaceInvalid, "no config path to save to", nil)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock workspace config for save: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal workspace config: %w", err)
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !strings.HasSuffix(string(data), "\n") {
		data = append(data, '\n')
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".workspace-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp workspace config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp workspace config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp workspace config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename workspace config into place: %w", err)
	}
	return nil
}

// Dependencies delegates to the graph, returning project ids d depends on.
func (d *Document) Dependencies(id string, transitive bool) []string {
	return d.Graph.Dependencies(id, transitive)
}

// Dependents delegates to the graph, returning project ids that depend on id.
func (d *Document) Dependents(id string) []string {
	return d.Graph.Dependents(id)
}

// Relationships returns relationships touching id, optionally filtered by
// type, from the workspace's declared list (not the derived dependency
// edges synthesized from Project.Dependencies).
func (d *Document) Relationships(id string, relType *RelationType) []Relationship {
	return d.Workspace.RelationshipsFor(id, relType)
}
