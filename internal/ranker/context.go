package ranker

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// recentFilesCapacity and fileAccessCapacity bound UserContext's per-user
// memory footprint; both sit inside the spec's 10-20 / cap-20 ranges.
const (
	recentFilesCapacity  = 20
	fileAccessCapacity   = 20
	recentQueriesCapacity = 20
)

// recentFiles is a bounded deque<path, timestamp>: the most recently
// touched file evicts the least recently touched one once full. Backed by
// the same LRU cache used throughout the rest of the codebase rather than a
// hand-rolled ring buffer.
type recentFiles struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

func newRecentFiles() *recentFiles {
	c, _ := lru.New[string, time.Time](recentFilesCapacity)
	return &recentFiles{cache: c}
}

func (r *recentFiles) Touch(path string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Add(path, at)
}

func (r *recentFiles) Get(path string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Peek(path)
}

// fileAccessCounts is a bounded_map<path, int> capped at fileAccessCapacity,
// evicting the least-recently-accessed entry once full.
type fileAccessCounts struct {
	mu    sync.Mutex
	cache *lru.Cache[string, int]
}

func newFileAccessCounts() *fileAccessCounts {
	c, _ := lru.New[string, int](fileAccessCapacity)
	return &fileAccessCounts{cache: c}
}

func (f *fileAccessCounts) Increment(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count, _ := f.cache.Get(path)
	f.cache.Add(path, count+1)
}

// InTopN reports whether path is among the n highest access counts
// currently tracked.
func (f *fileAccessCounts) InTopN(path string, n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.cache.Peek(path); !ok {
		return false
	}

	type entry struct {
		path  string
		count int
	}
	entries := make([]entry, 0, f.cache.Len())
	for _, k := range f.cache.Keys() {
		v, ok := f.cache.Peek(k)
		if !ok {
			continue
		}
		entries = append(entries, entry{path: k, count: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].count > entries[j].count })

	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		if e.path == path {
			return true
		}
	}
	return false
}

// recentQueries is a bounded deque<string, timestamp> of a user's recent
// query text, consulted by the query pipeline for fingerprinting and by
// future query-expansion heuristics.
type recentQueries struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

func newRecentQueries() *recentQueries {
	c, _ := lru.New[string, time.Time](recentQueriesCapacity)
	return &recentQueries{cache: c}
}

func (r *recentQueries) Record(query string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Add(query, at)
}

// UserContext is a single user's per-session state consulted by the
// ranker's boost factors. It is mutated only by that user's request
// handler, per the workspace's shared-resource policy.
type UserContext struct {
	UserID          string
	CurrentFile     string
	CurrentProject  string
	RecentFiles     *recentFiles
	FileAccessCounts *fileAccessCounts
	RecentQueries   *recentQueries
}

// NewUserContext constructs an empty UserContext for userID.
func NewUserContext(userID string) *UserContext {
	return &UserContext{
		UserID:           userID,
		RecentFiles:      newRecentFiles(),
		FileAccessCounts: newFileAccessCounts(),
		RecentQueries:    newRecentQueries(),
	}
}

// RecordFileAccess updates both the recency deque and the access-count map
// for path, as the query pipeline does after every result a user opens.
func (c *UserContext) RecordFileAccess(path string, at time.Time) {
	c.RecentFiles.Touch(path, at)
	c.FileAccessCounts.Increment(path)
}

// RecordQuery appends query to the user's recent-queries deque.
func (c *UserContext) RecordQuery(query string, at time.Time) {
	c.RecentQueries.Record(query, at)
}
