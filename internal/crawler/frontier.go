package crawler

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// DequeueState tells a worker what to do after calling Dequeue.
type DequeueState int

const (
	// DequeueReady means a PendingVisit was returned and must be acknowledged with Done.
	DequeueReady DequeueState = iota
	// DequeueWait means the queue is empty but other pages are still being processed.
	DequeueWait
	// DequeueDrained means the queue is empty and nothing is in flight; the crawl is over.
	DequeueDrained
	// DequeueStopped means scheduling was halted before the queue drained.
	DequeueStopped
)

func (s DequeueState) String() string {
	switch s {
	case DequeueReady:
		return "ready"
	case DequeueWait:
		return "wait"
	case DequeueDrained:
		return "drained"
	case DequeueStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DepthFrontier is the pending page queue plus the visited set. Pages are
// bucketed by depth and shallower buckets are always drained first.
type DepthFrontier struct {
	maxDepth int
	scope    *Scope
	visited  mapset.Set[string]

	mu       sync.Mutex
	buckets  [][]PendingVisit
	pending  int
	inFlight int
	stopped  bool
}

// NewDepthFrontier creates an empty frontier bounded by maxDepth and scope.
func NewDepthFrontier(maxDepth int, scope *Scope) *DepthFrontier {
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &DepthFrontier{
		maxDepth: maxDepth,
		scope:    scope,
		visited:  mapset.NewSet[string](),
		buckets:  make([][]PendingVisit, maxDepth+1),
	}
}

// TryEnqueue normalizes rawURL and schedules it for a page crawl at depth.
// It returns false when the URL is invalid, too deep, out of scope, or
// already visited.
func (f *DepthFrontier) TryEnqueue(rawURL string, depth int, origin string) bool {
	if depth < 0 || depth > f.maxDepth {
		return false
	}
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	if !f.scope.Contains(normalized) {
		return false
	}
	// Add is an atomic test-and-insert on the thread-safe set.
	if !f.visited.Add(normalized) {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	f.buckets[depth] = append(f.buckets[depth], PendingVisit{URL: normalized, Depth: depth, Origin: origin})
	f.pending++
	return true
}

// Dequeue pops the shallowest pending visit. The emptiness check and the
// in-flight increment happen under one lock so termination is never
// reported while a worker could still enqueue more work.
func (f *DepthFrontier) Dequeue() (PendingVisit, DequeueState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return PendingVisit{}, DequeueStopped
	}
	if f.pending == 0 {
		if f.inFlight == 0 {
			return PendingVisit{}, DequeueDrained
		}
		return PendingVisit{}, DequeueWait
	}
	for depth := range f.buckets {
		bucket := f.buckets[depth]
		if len(bucket) == 0 {
			continue
		}
		visit := bucket[0]
		bucket[0] = PendingVisit{}
		f.buckets[depth] = bucket[1:]
		f.pending--
		f.inFlight++
		return visit, DequeueReady
	}
	return PendingVisit{}, DequeueWait
}

// Done acknowledges a visit returned by Dequeue.
func (f *DepthFrontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
}

// Stop halts scheduling: later Dequeue calls return DequeueStopped and
// TryEnqueue rejects everything. In-flight visits are unaffected.
func (f *DepthFrontier) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// Visited reports whether the normalized URL was ever accepted.
func (f *DepthFrontier) Visited(rawURL string) bool {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	return f.visited.Contains(normalized)
}

// VisitedCount returns the number of URLs accepted for page crawling.
func (f *DepthFrontier) VisitedCount() int {
	return f.visited.Cardinality()
}

// Pending returns the number of queued visits and visits in flight.
func (f *DepthFrontier) Pending() (queued, inFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.inFlight
}
