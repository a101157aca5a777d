// Package templates implements named, reusable search intents: a query
// builder plus a preferred search backend, matched against free-form user
// queries by keyword/description overlap.
package templates

import (
	"encoding/json"
	"fmt"
	"strings"

	amerrors "github.com/ctxmesh/ctxgraph/internal/errors"
	"github.com/ctxmesh/ctxgraph/internal/search"
	"github.com/ctxmesh/ctxgraph/internal/wsstore"
)

// Backend selects which search.SearchOptions fields a template's query
// should set.
type Backend string

const (
	BackendSemantic   Backend = "semantic"
	BackendKeyword    Backend = "keyword"
	BackendStructural Backend = "structural"
)

// QueryBuilder turns a user's free-form query into the expanded query text
// and search options a template prefers.
type QueryBuilder func(userQuery string) (string, search.SearchOptions)

// Template is one named, reusable search intent.
type Template struct {
	Name        string
	Description string
	Keywords    []string
	Backend     Backend
	QueryBuilder QueryBuilder
}

// storedTemplate is the JSON shape persisted to wsstore; QueryBuilder is
// not serializable, so a stored (custom) template is rebuilt with a
// generic keyword-based builder on load rather than its original closure.
type storedTemplate struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Backend     Backend  `json:"backend"`
}

func genericBuilder(keywords []string, backend Backend) QueryBuilder {
	return func(userQuery string) (string, search.SearchOptions) {
		opts := search.SearchOptions{}
		switch backend {
		case BackendKeyword:
			opts.BM25Only = true
		case BackendStructural:
			opts.SymbolType = "function"
		}
		return strings.TrimSpace(userQuery + " " + strings.Join(keywords, " ")), opts
	}
}

// builtins is the named template registry shipped by default.
func builtins() []Template {
	return []Template{
		{
			Name:        "api_endpoints",
			Description: "HTTP API route handlers and endpoint definitions",
			Keywords:    []string{"endpoint", "route", "handler", "controller", "api"},
			Backend:     BackendStructural,
			QueryBuilder: func(q string) (string, search.SearchOptions) {
				return q + " handler route endpoint", search.SearchOptions{SymbolType: "function"}
			},
		},
		{
			Name:        "authentication",
			Description: "authentication, authorization, login, and session logic",
			Keywords:    []string{"auth", "login", "session", "token", "permission"},
			Backend:     BackendSemantic,
			QueryBuilder: func(q string) (string, search.SearchOptions) {
				return q + " authentication authorization login session", search.SearchOptions{}
			},
		},
		{
			Name:        "database_models",
			Description: "ORM models, schemas, and database entity definitions",
			Keywords:    []string{"model", "schema", "entity", "migration", "table"},
			Backend:     BackendStructural,
			QueryBuilder: func(q string) (string, search.SearchOptions) {
				return q + " model schema entity", search.SearchOptions{SymbolType: "class"}
			},
		},
		{
			Name:        "error_handling",
			Description: "error handling, exception types, and recovery logic",
			Keywords:    []string{"error", "exception", "panic", "recover", "retry"},
			Backend:     BackendKeyword,
			QueryBuilder: func(q string) (string, search.SearchOptions) {
				return q + " error exception handling", search.SearchOptions{BM25Only: true}
			},
		},
		{
			Name:        "configuration",
			Description: "configuration loading, environment variables, and settings",
			Keywords:    []string{"config", "settings", "env", "options", "flags"},
			Backend:     BackendKeyword,
			QueryBuilder: func(q string) (string, search.SearchOptions) {
				return q + " configuration settings", search.SearchOptions{BM25Only: true}
			},
		},
		{
			Name:        "tests",
			Description: "unit tests, integration tests, and test fixtures",
			Keywords:    []string{"test", "spec", "fixture", "mock", "assert"},
			Backend:     BackendKeyword,
			QueryBuilder: func(q string) (string, search.SearchOptions) {
				return q + " test", search.SearchOptions{BM25Only: true, Filter: "code"}
			},
		},
	}
}

// Registry holds the built-in templates plus any custom templates
// registered at runtime, backed by wsstore for persistence across restarts.
type Registry struct {
	store     *wsstore.Store
	templates map[string]Template
}

// NewRegistry constructs a Registry seeded with the built-in templates and
// any custom templates previously persisted to store. store may be nil, in
// which case custom registration is in-memory only for the process
// lifetime.
func NewRegistry(store *wsstore.Store) (*Registry, error) {
	r := &Registry{store: store, templates: make(map[string]Template)}
	for _, t := range builtins() {
		r.templates[t.Name] = t
	}

	if store == nil {
		return r, nil
	}

	blobs, err := store.LoadTemplates()
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	for name, blob := range blobs {
		if _, isBuiltin := r.templates[name]; isBuiltin {
			continue
		}
		var st storedTemplate
		if err := json.Unmarshal([]byte(blob), &st); err != nil {
			continue
		}
		r.templates[name] = Template{
			Name:         st.Name,
			Description:  st.Description,
			Keywords:     st.Keywords,
			Backend:      st.Backend,
			QueryBuilder: genericBuilder(st.Keywords, st.Backend),
		}
	}
	return r, nil
}

// Get returns the named template, or false if it does not exist.
func (r *Registry) Get(name string) (Template, bool) {
	t, ok := r.templates[name]
	return t, ok
}

// Register validates and adds a custom template, persisting it to wsstore
// if one was configured. Built-in template names cannot be overridden.
func (r *Registry) Register(t Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return amerrors.New(amerrors.ErrCodeInvalidInput, "template name must not be empty", nil)
	}
	if t.QueryBuilder == nil {
		return amerrors.New(amerrors.ErrCodeInvalidInput, "template query builder must not be nil", nil)
	}
	if _, isBuiltin := builtinNames()[t.Name]; isBuiltin {
		return amerrors.New(amerrors.ErrCodeInvalidInput,
			fmt.Sprintf("cannot override built-in template %q", t.Name), nil)
	}

	r.templates[t.Name] = t

	if r.store == nil {
		return nil
	}
	blob, err := json.Marshal(storedTemplate{Name: t.Name, Description: t.Description, Keywords: t.Keywords, Backend: t.Backend})
	if err != nil {
		return amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	return r.store.SaveTemplate(t.Name, string(blob), false)
}

// Delete removes a custom template. Built-in templates cannot be deleted.
func (r *Registry) Delete(name string) error {
	if _, isBuiltin := builtinNames()[name]; isBuiltin {
		return amerrors.New(amerrors.ErrCodeInvalidInput,
			fmt.Sprintf("cannot delete built-in template %q", name), nil)
	}
	delete(r.templates, name)
	if r.store == nil {
		return nil
	}
	return r.store.DeleteTemplate(name)
}

func builtinNames() map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range builtins() {
		out[t.Name] = struct{}{}
	}
	return out
}

// Match scores every template against userQuery by substring/keyword
// overlap against its Description and Keywords, returning the best match
// and whether it clears a minimal relevance bar.
func (r *Registry) Match(userQuery string) (Template, bool) {
	lower := strings.ToLower(userQuery)
	words := strings.Fields(lower)

	var best Template
	bestScore := 0
	for _, t := range r.templates {
		score := 0
		for _, kw := range t.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score += 2
			}
		}
		descWords := strings.Fields(strings.ToLower(t.Description))
		for _, w := range words {
			for _, dw := range descWords {
				if w == dw {
					score++
				}
			}
		}
		if score > bestScore {
			bestScore = score
			best = t
		}
	}
	return best, bestScore > 0
}
