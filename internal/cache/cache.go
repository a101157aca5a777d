// Package cache implements the tiered query-result cache: an in-process LRU
// (L1), a Redis-or-in-memory-fallback tier (L2), and a persistent,
// template-scoped tier backed by the workspace relational store (L3).
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ctxmesh/ctxgraph/internal/wsstore"
)

// l1Capacity bounds the in-process LRU entry count.
const l1Capacity = 500

// Entry is a cached query result payload plus the file paths it was derived
// from, so file-change invalidation can find it without re-parsing Result.
type Entry struct {
	Fingerprint string
	Payload     []byte
	FilePaths   []string
	CreatedAt   time.Time
}

// Backend is the L2 tier: a TTL-bounded key/value store. RedisCache and
// InMemoryCache both implement it, mirroring the way internal/embed
// chooses between a real provider and a fallback behind one interface.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache is the read/write-through tiered cache: L1 -> L2 -> L3 -> miss on
// read; a write populates L1 and L2 always, and L3 only when the query
// matches a registered template.
type Cache struct {
	l1  *lru.Cache[string, Entry]
	l2  Backend
	l3  *wsstore.Store
	ttl time.Duration
}

// Config configures a Cache.
type Config struct {
	Backend Backend // L2 implementation; required
	Store   *wsstore.Store // L3; may be nil to disable template caching
	TTL     time.Duration  // default L2 TTL, default 10 minutes
}

// New constructs a Cache.
func New(cfg Config) *Cache {
	l1, _ := lru.New[string, Entry](l1Capacity)
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{l1: l1, l2: cfg.Backend, l3: cfg.Store, ttl: ttl}
}

// Get looks up fingerprint in L1, then L2, then L3 (only consulted when
// templateName is non-empty), populating faster tiers on a slower-tier hit.
func (c *Cache) Get(ctx context.Context, fingerprint, templateName string) (Entry, bool) {
	if e, ok := c.l1.Get(fingerprint); ok {
		return e, true
	}

	if c.l2 != nil {
		if raw, ok, err := c.l2.Get(ctx, fingerprint); err == nil && ok {
			e := Entry{Fingerprint: fingerprint, Payload: raw}
			c.l1.Add(fingerprint, e)
			return e, true
		}
	}

	if templateName != "" && c.l3 != nil {
		if row, err := c.l3.LoadCachedResult(fingerprint); err == nil && row != nil && !row.Stale && time.Now().Before(row.Expiry) {
			e := Entry{Fingerprint: fingerprint, Payload: []byte(row.Payload)}
			c.l1.Add(fingerprint, e)
			if c.l2 != nil {
				if err := c.l2.Set(ctx, fingerprint, e.Payload, c.ttl); err != nil {
					slog.Warn("cache l2 backfill failed", slog.String("error", err.Error()))
				}
			}
			return e, true
		}
	}

	return Entry{}, false
}

// Put writes a fresh result through L1 and L2 always; L3 is only written
// when templateName names a registered template, per the template-scoped
// persistence policy.
func (c *Cache) Put(ctx context.Context, fingerprint, templateName string, payload []byte, filePaths []string) {
	e := Entry{Fingerprint: fingerprint, Payload: payload, FilePaths: filePaths, CreatedAt: time.Now()}
	c.l1.Add(fingerprint, e)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, fingerprint, payload, c.ttl); err != nil {
			slog.Warn("cache l2 write failed", slog.String("error", err.Error()))
		}
	}

	if templateName != "" && c.l3 != nil {
		fileRefsJSON, err := json.Marshal(filePaths)
		if err != nil {
			slog.Warn("cache l3 file refs encode failed", slog.String("error", err.Error()))
			return
		}
		if err := c.l3.SaveCachedResult(fingerprint, string(payload), string(fileRefsJSON), e.CreatedAt.Add(c.ttl)); err != nil {
			slog.Warn("cache l3 write failed", slog.String("error", err.Error()))
		}
	}
}

// InvalidateFiles removes any L1/L2 entry whose FilePaths overlap
// changedPaths and flags matching L3 rows stale for async refresh, in
// response to a watcher-reported or index()-completion file-change event.
func (c *Cache) InvalidateFiles(ctx context.Context, changedPaths []string) {
	changed := make(map[string]struct{}, len(changedPaths))
	for _, p := range changedPaths {
		changed[p] = struct{}{}
	}

	for _, key := range c.l1.Keys() {
		e, ok := c.l1.Peek(key)
		if !ok {
			continue
		}
		if overlaps(e.FilePaths, changed) {
			c.l1.Remove(key)
			if c.l2 != nil {
				if err := c.l2.Delete(ctx, key); err != nil {
					slog.Warn("cache l2 invalidation failed", slog.String("error", err.Error()))
				}
			}
		}
	}

	if c.l3 != nil {
		for path := range changed {
			if _, err := c.l3.MarkCachedResultsStale(path); err != nil {
				slog.Warn("cache l3 invalidation failed", slog.String("error", err.Error()))
			}
		}
	}
}

func overlaps(paths []string, changed map[string]struct{}) bool {
	for _, p := range paths {
		if _, ok := changed[p]; ok {
			return true
		}
	}
	return false
}

// NewDefaultBackend returns a RedisCache when addr is non-empty, or an
// InMemoryCache otherwise -- the same auto-detect-with-fallback shape the
// embedding backend factory uses to choose between a real provider and a
// local default.
func NewDefaultBackend(ctx context.Context, addr string) Backend {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = os.Getenv("CTXGRAPH_REDIS_ADDR")
	}
	if addr == "" {
		return NewInMemoryCache()
	}
	rc, err := NewRedisCache(ctx, addr)
	if err != nil {
		slog.Warn("redis cache unavailable, falling back to in-memory L2",
			slog.String("addr", addr), slog.String("error", err.Error()))
		return NewInMemoryCache()
	}
	return rc
}
