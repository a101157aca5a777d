package graph

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	reachabilityCacheSize = 2048
	similarityCacheSize   = 4096
)

// reachabilityKey identifies a memoized Dependencies() call.
type reachabilityKey struct {
	id    string
	depth int
}

// reachabilityCache memoizes Dependencies(id, transitive) results.
type reachabilityCache struct {
	lru *lru.Cache[reachabilityKey, []string]
}

func newReachabilityCache() *reachabilityCache {
	c, _ := lru.New[reachabilityKey, []string](reachabilityCacheSize)
	return &reachabilityCache{lru: c}
}

func (c *reachabilityCache) get(id string, depth int) ([]string, bool) {
	return c.lru.Get(reachabilityKey{id: id, depth: depth})
}

func (c *reachabilityCache) put(id string, depth int, result []string) {
	c.lru.Add(reachabilityKey{id: id, depth: depth}, result)
}

// similarityCache memoizes centroid cosine-similarity lookups keyed by an
// unordered pair of project ids: sim(a, b) == sim(b, a).
type similarityCache struct {
	lru *lru.Cache[string, float64]
}

func newSimilarityCache() *similarityCache {
	c, _ := lru.New[string, float64](similarityCacheSize)
	return &similarityCache{lru: c}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s\x00%s", a, b)
}

func (c *similarityCache) get(a, b string) (float64, bool) {
	return c.lru.Get(pairKey(a, b))
}

func (c *similarityCache) put(a, b string, sim float64) {
	c.lru.Add(pairKey(a, b), sim)
}

// caches bundles the graph's two LRU-backed memoization tables. Both are
// flushed entirely on any graph mutation or reindex event rather than
// tracking fine-grained dependencies between entries, trading a cold cache
// after writes for never serving a stale reachability set or similarity
// score.
type caches struct {
	mu           sync.Mutex
	reachability *reachabilityCache
	similarity   *similarityCache
}

func newCaches() *caches {
	return &caches{
		reachability: newReachabilityCache(),
		similarity:   newSimilarityCache(),
	}
}

func (c *caches) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reachability.lru.Purge()
	c.similarity.lru.Purge()
}

// SimilarityCacheGet exposes the semantic-similarity cache to callers
// outside the package (the workspace centroid calculator) so it shares the
// same invalidate-on-write lifecycle as the reachability cache.
func (g *Graph) SimilarityCacheGet(a, b string) (float64, bool) {
	return g.caches.similarity.get(a, b)
}

// SimilarityCachePut stores a computed centroid cosine similarity for the
// unordered pair (a, b).
func (g *Graph) SimilarityCachePut(a, b string, sim float64) {
	g.caches.similarity.put(a, b, sim)
}
