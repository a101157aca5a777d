package discovery

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctxmesh/ctxgraph/internal/workspace"
)

// goRequireLine matches one line inside a go.mod require block, e.g.
// "	github.com/foo/bar v1.2.3" or "require github.com/foo/bar v1.2.3".
var goRequireLine = regexp.MustCompile(`^\s*(?:require\s+)?([a-zA-Z0-9._\-/]+)\s+v[0-9]`)

// packageJSONDepLine matches one "name": "version" entry inside a
// package.json dependencies/devDependencies block.
var packageJSONDepLine = regexp.MustCompile(`"([a-zA-Z0-9@/_.\-]+)"\s*:\s*"`)

// requirementsLine matches one requirements.txt line's package name,
// stripping any version specifier.
var requirementsLine = regexp.MustCompile(`^([a-zA-Z0-9_\-.]+)`)

// inferDependencies scans candidate's manifest for tokens that reference
// another candidate's directory name, returning the dependency's directory
// name (not yet a workspace project id, which the caller assigns).
func inferDependencies(candidate Candidate, all []Candidate) []string {
	names := make(map[string]string, len(all)) // lowercase dir name -> dir name
	for _, c := range all {
		if c.Path == candidate.Path {
			continue
		}
		names[strings.ToLower(filepath.Base(c.Path))] = filepath.Base(c.Path)
	}

	tokens := manifestTokens(candidate)
	seen := make(map[string]struct{})
	var deps []string
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		for lower, name := range names {
			if strings.Contains(tok, lower) {
				if _, ok := seen[name]; !ok {
					seen[name] = struct{}{}
					deps = append(deps, name)
				}
			}
		}
	}
	return deps
}

// manifestTokens extracts candidate dependency-stanza tokens from whichever
// manifest files are present in candidate.Path.
func manifestTokens(candidate Candidate) []string {
	var tokens []string

	if path := filepath.Join(candidate.Path, "go.mod"); fileExists(path) {
		tokens = append(tokens, scanLines(path, goRequireLine)...)
	}
	if path := filepath.Join(candidate.Path, "package.json"); fileExists(path) {
		tokens = append(tokens, scanLines(path, packageJSONDepLine)...)
	}
	if path := filepath.Join(candidate.Path, "requirements.txt"); fileExists(path) {
		tokens = append(tokens, scanLines(path, requirementsLine)...)
	}
	return tokens
}

func scanLines(path string, re *regexp.Regexp) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var matches []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := re.FindStringSubmatch(scanner.Text()); m != nil {
			matches = append(matches, m[1])
		}
	}
	return matches
}

// DraftWorkspace converts discovered candidates into a workspace.Workspace
// ready to pass internal/workspace validation: project ids are derived from
// directory names (sanitized to workspace's id pattern), dependencies are
// inferred from manifest contents, and discovery evidence travels in
// Project.Metadata rather than as first-class fields.
func DraftWorkspace(name string, candidates []Candidate) *workspace.Workspace {
	idFor := make(map[string]string, len(candidates)) // dir path -> project id
	used := make(map[string]int)
	for _, c := range candidates {
		base := sanitizeID(filepath.Base(c.Path))
		id := base
		if n := used[base]; n > 0 {
			id = base + "_" + strconv.Itoa(n)
		}
		used[base]++
		idFor[c.Path] = id
	}

	projects := make([]workspace.Project, 0, len(candidates))
	for _, c := range candidates {
		var deps []string
		for _, depDir := range inferDependencies(c, candidates) {
			for path, id := range idFor {
				if filepath.Base(path) == depDir {
					deps = append(deps, id)
				}
			}
		}

		projects = append(projects, workspace.Project{
			ID:           idFor[c.Path],
			Name:         filepath.Base(c.Path),
			Path:         c.Path,
			Type:         c.Type,
			Languages:    c.Languages,
			Dependencies: dedupe(deps),
			Indexing:     workspace.IndexingConfig{Enabled: true, Priority: workspace.PriorityMedium},
			Metadata: map[string]any{
				"discovery_confidence": c.Confidence,
				"discovery_markers":    c.Markers,
			},
		})
	}

	return &workspace.Workspace{
		Version:  "1.0.0",
		Name:     name,
		Projects: projects,
		Search:   workspace.DefaultSearchConfig(),
	}
}

func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "project"
	}
	return out
}

func dedupe(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	var out []string
	for _, s := range ss {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

