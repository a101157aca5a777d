package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// prefetchQueueSize bounds the low-priority warming channel so the
// prefetcher never competes with request-path work for the same
// concurrency budget; a full queue drops the oldest pending job.
const prefetchQueueSize = 64

// PrefetchFunc executes the work needed to warm fingerprint into the cache
// (typically: re-run the query pipeline up to the rank stage and Put the
// result). Supplied by the pipeline, since only it knows how to turn a
// fingerprint back into a runnable query.
type PrefetchFunc func(ctx context.Context, fingerprint string)

// Prefetcher tracks a first-order Markov chain over each user's query
// fingerprint sequence and warms the top-K likely next queries in the
// background after every observed query.
type Prefetcher struct {
	mu     sync.Mutex
	chain  map[string]map[string]int // fingerprint -> successor -> count
	last   map[string]string         // user id -> last seen fingerprint
	topK   int
	warm   PrefetchFunc
	jobs   chan string
}

// NewPrefetcher starts a single background worker draining the warm queue;
// warm is invoked once per queued fingerprint.
func NewPrefetcher(topK int, warm PrefetchFunc) *Prefetcher {
	if topK <= 0 {
		topK = 3
	}
	p := &Prefetcher{
		chain: make(map[string]map[string]int),
		last:  make(map[string]string),
		topK:  topK,
		warm:  warm,
		jobs:  make(chan string, prefetchQueueSize),
	}
	go p.run()
	return p
}

func (p *Prefetcher) run() {
	for fp := range p.jobs {
		p.warm(context.Background(), fp)
	}
}

// Observe records that userID issued fingerprint, updates the transition
// chain from their previous query, and enqueues the top-K most likely
// successors for background warming.
func (p *Prefetcher) Observe(userID, fingerprint string) {
	p.mu.Lock()
	prev, hadPrev := p.last[userID]
	p.last[userID] = fingerprint
	if hadPrev {
		succ, ok := p.chain[prev]
		if !ok {
			succ = make(map[string]int)
			p.chain[prev] = succ
		}
		succ[fingerprint]++
	}
	successors := p.topSuccessors(fingerprint)
	p.mu.Unlock()

	for _, fp := range successors {
		select {
		case p.jobs <- fp:
		default:
			slog.Warn("prefetch queue full, dropping warm job", slog.String("fingerprint", fp))
		}
	}
}

// topSuccessors must be called with p.mu held.
func (p *Prefetcher) topSuccessors(fingerprint string) []string {
	succ, ok := p.chain[fingerprint]
	if !ok {
		return nil
	}
	type pair struct {
		fp    string
		count int
	}
	pairs := make([]pair, 0, len(succ))
	for fp, c := range succ {
		pairs = append(pairs, pair{fp, c})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].count > pairs[j].count })

	n := p.topK
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].fp
	}
	return out
}
