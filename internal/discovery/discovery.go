// Package discovery walks a directory tree looking for candidate project
// roots (directories with a recognizable manifest file) and emits a draft
// workspace configuration guaranteed to pass internal/workspace validation.
package discovery

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctxmesh/ctxgraph/internal/workspace"
)

// DefaultMaxDepth bounds how many directory levels below root the walk
// descends, so a discovery run over a large monorepo doesn't wander into
// unrelated vendored trees.
const DefaultMaxDepth = 4

// Heuristic maps a manifest filename to the project type it suggests and
// the languages that manifest implies. Multiple heuristics can match the
// same directory (e.g. a directory with both go.mod and a Dockerfile);
// confidence is the fraction of considered heuristics that actually hit.
type Heuristic struct {
	Marker    string
	Type      workspace.ProjectType
	Languages []string
}

// DefaultHeuristics is the marker-file table discovery starts from. It is a
// plain value, not a hard-coded switch, so callers can extend or replace it
// (Options.Heuristics) without touching this package.
var DefaultHeuristics = []Heuristic{
	{Marker: "go.mod", Type: workspace.ProjectTypeLibrary, Languages: []string{"go"}},
	{Marker: "package.json", Type: workspace.ProjectTypeWebFrontend, Languages: []string{"javascript", "typescript"}},
	{Marker: "pyproject.toml", Type: workspace.ProjectTypeLibrary, Languages: []string{"python"}},
	{Marker: "requirements.txt", Type: workspace.ProjectTypeAPIServer, Languages: []string{"python"}},
	{Marker: "Cargo.toml", Type: workspace.ProjectTypeLibrary, Languages: []string{"rust"}},
	{Marker: "pom.xml", Type: workspace.ProjectTypeAPIServer, Languages: []string{"java"}},
	{Marker: "pubspec.yaml", Type: workspace.ProjectTypeMobileApp, Languages: []string{"dart"}},
}

// xcodeprojSuffix is matched by directory name, not an exact filename, so
// it is handled outside the marker table.
const xcodeprojSuffix = ".xcodeproj"

// Options configures a discovery run.
type Options struct {
	// MaxDepth bounds recursion below Root. Zero uses DefaultMaxDepth.
	MaxDepth int

	// Heuristics overrides DefaultHeuristics. Nil uses the default table.
	Heuristics []Heuristic

	// ExcludeDirs are directory names skipped entirely (in addition to the
	// builtin skip list below).
	ExcludeDirs []string
}

var builtinExcludes = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	".ctxgraph":    {},
	"dist":         {},
	"build":        {},
	"target":       {},
}

// Candidate is one discovered project root with its confidence score and
// the manifest evidence that produced it.
type Candidate struct {
	Path       string
	Type       workspace.ProjectType
	Languages  []string
	Confidence float64
	Markers    []string
}

// Discover walks root looking for candidate project directories.
func Discover(root string, opts Options) ([]Candidate, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	heuristics := opts.Heuristics
	if heuristics == nil {
		heuristics = DefaultHeuristics
	}

	exclude := make(map[string]struct{}, len(builtinExcludes)+len(opts.ExcludeDirs))
	for k := range builtinExcludes {
		exclude[k] = struct{}{}
	}
	for _, d := range opts.ExcludeDirs {
		exclude[d] = struct{}{}
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	byDir := make(map[string]*Candidate)
	rootDepth := strings.Count(root, string(filepath.Separator))

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root {
				if _, skip := exclude[d.Name()]; skip {
					return filepath.SkipDir
				}
				depth := strings.Count(path, string(filepath.Separator)) - rootDepth
				if depth > maxDepth {
					return filepath.SkipDir
				}
				if strings.HasSuffix(d.Name(), xcodeprojSuffix) {
					addMatch(byDir, filepath.Dir(path), "*.xcodeproj", workspace.ProjectTypeMobileApp, []string{"swift"})
					return filepath.SkipDir
				}
			}
			return nil
		}

		for _, h := range heuristics {
			if d.Name() == h.Marker {
				addMatch(byDir, filepath.Dir(path), h.Marker, h.Type, h.Languages)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	totalHeuristics := len(heuristics) + 1 // +1 for the xcodeproj suffix rule
	candidates := make([]Candidate, 0, len(byDir))
	for _, c := range byDir {
		c.Confidence = float64(len(c.Markers)) / float64(totalHeuristics)
		candidates = append(candidates, *c)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })
	return candidates, nil
}

func addMatch(byDir map[string]*Candidate, dir, marker string, typ workspace.ProjectType, langs []string) {
	c, ok := byDir[dir]
	if !ok {
		c = &Candidate{Path: dir, Type: typ}
		byDir[dir] = c
	}
	c.Markers = append(c.Markers, marker)
	for _, l := range langs {
		if !containsString(c.Languages, l) {
			c.Languages = append(c.Languages, l)
		}
	}
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// fileExists reports whether path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
