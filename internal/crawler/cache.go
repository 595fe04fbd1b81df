package crawler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/linkcrawler/internal/metrics"
)

// ResponseCache memoizes fetch outcomes per normalized URL for one crawl.
// Concurrent requests for the same URL collapse into a single flight; once an
// entry resolves it is served from memory without touching the network.
//
// At most one request per URL is in flight at a time, but a URL can cost two
// requests in sequence: an existence check whose HEAD gets a status >= 400 is
// confirmed with a GET inside the same flight, and a full fetch of a URL
// already resolved by a successful HEAD upgrades it with one GET. A URL whose
// HEAD succeeds and whose body is never needed costs exactly one request.
type ResponseCache struct {
	fetcher Fetcher
	logger  *zap.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]CacheEntry

	requests atomic.Int64
	hits     atomic.Int64
}

// NewResponseCache wraps fetcher with per-URL memoization.
func NewResponseCache(fetcher Fetcher, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{
		fetcher: fetcher,
		logger:  logger,
		entries: make(map[string]CacheEntry),
	}
}

// Fetch returns the cached entry for rawURL, fetching it at most once. An
// existence request is satisfied by any entry; a full request upgrades a
// head-only entry with a single GET.
func (c *ResponseCache) Fetch(ctx context.Context, rawURL string, mode FetchMode) CacheEntry {
	if entry, ok := c.lookup(rawURL, mode); ok {
		c.hits.Add(1)
		return entry
	}
	for {
		executed := false
		value, _, _ := c.group.Do(rawURL, func() (any, error) {
			if entry, ok := c.lookup(rawURL, mode); ok {
				return entry, nil
			}
			executed = true
			entry := c.fetch(ctx, rawURL, mode)
			c.store(entry)
			return entry, nil
		})
		entry, _ := value.(CacheEntry)
		if mode == FetchFull && entry.HeadOnly {
			// Joined an existence flight; retry so this caller gets a body.
			continue
		}
		if !executed {
			c.hits.Add(1)
		}
		return entry
	}
}

// Lookup returns a resolved entry without fetching.
func (c *ResponseCache) Lookup(rawURL string) (CacheEntry, bool) {
	return c.lookup(rawURL, FetchExistence)
}

// RequestCount returns the number of network requests issued.
func (c *ResponseCache) RequestCount() int {
	return int(c.requests.Load())
}

// HitCount returns the number of Fetch calls served without a network request.
func (c *ResponseCache) HitCount() int {
	return int(c.hits.Load())
}

// Len returns the number of resolved entries.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResponseCache) lookup(rawURL string, mode FetchMode) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[rawURL]
	if !ok {
		return CacheEntry{}, false
	}
	if mode == FetchFull && entry.HeadOnly {
		return CacheEntry{}, false
	}
	return entry, true
}

func (c *ResponseCache) store(entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[entry.URL]; ok && !existing.HeadOnly && entry.HeadOnly {
		return
	}
	c.entries[entry.URL] = entry
}

func (c *ResponseCache) fetch(ctx context.Context, rawURL string, mode FetchMode) CacheEntry {
	if mode == FetchFull {
		return c.do(ctx, rawURL, http.MethodGet)
	}
	entry := c.do(ctx, rawURL, http.MethodHead)
	if entry.Err == nil && entry.Status >= 400 {
		// Some servers reject HEAD; confirm with GET before calling it broken.
		c.logger.Debug("head rejected, retrying with get",
			zap.String("url", rawURL),
			zap.Int("status", entry.Status),
		)
		return c.do(ctx, rawURL, http.MethodGet)
	}
	return entry
}

func (c *ResponseCache) do(ctx context.Context, rawURL, method string) CacheEntry {
	c.requests.Add(1)
	entry := CacheEntry{URL: rawURL, HeadOnly: method == http.MethodHead}
	if c.fetcher == nil {
		entry.Err = fmt.Errorf("no fetcher configured")
		return entry
	}
	resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: rawURL, Method: method})
	entry.Duration = resp.Duration
	if err != nil {
		entry.Err = err
		metrics.ObserveRequest(method, 0)
		c.logger.Debug("fetch failed", zap.String("url", rawURL), zap.String("method", method), zap.Error(err))
		return entry
	}
	entry.Status = resp.StatusCode
	entry.Header = resp.Headers
	entry.Body = resp.Body
	metrics.ObserveRequest(method, resp.StatusCode)
	return entry
}
