package checker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
	"github.com/JakeFAU/linkcrawler/internal/progress"
)

func newSite(t *testing.T, imageDelay time.Duration) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><link rel="stylesheet" href="/style.css"></head><body>
<a href="/about">About</a>
<a href="/broken-page">Broken</a>
<a href="/server-error">Error</a>
<a href="mailto:team@example.com">Mail</a>
<img src="/logo.png">
<img src="/slow.png">
</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/">Home</a><a href="/deeper">Deeper</a><script src="/missing.js"></script></body></html>`)
	})
	mux.HandleFunc("/deeper", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/never-checked">Too deep</a></body></html>`)
	})
	mux.HandleFunc("/server-error", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprint(w, "body{}")
	})
	mux.HandleFunc("/logo.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
	})
	mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(imageDelay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "image/png")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func brokenByURL(records []crawler.ResourceRecord) map[string]crawler.ResourceRecord {
	out := make(map[string]crawler.ResourceRecord, len(records))
	for _, rec := range records {
		out[rec.URL] = rec
	}
	return out
}

// TestCrawlFindsBrokenResources walks a small site and records each failure once.
func TestCrawlFindsBrokenResources(t *testing.T) {
	t.Parallel()

	srv := newSite(t, 0)
	emitter := &recordingEmitter{}
	c, err := New(Config{
		BaseURL:    srv.URL,
		MaxDepth:   1,
		MaxWorkers: 4,
		Timeout:    2 * time.Second,
	}, nil, nil, WithProgress(emitter))
	require.NoError(t, err)

	broken, err := c.Crawl(context.Background())
	require.NoError(t, err)

	byURL := brokenByURL(broken)
	require.Len(t, byURL, 3)

	notFound := byURL[srv.URL+"/broken-page"]
	assert.Equal(t, crawler.ResourceLink, notFound.Type)
	assert.Equal(t, http.StatusNotFound, notFound.Status)
	assert.Equal(t, srv.URL+"/", notFound.FoundOn)

	serverErr := byURL[srv.URL+"/server-error"]
	assert.Equal(t, http.StatusInternalServerError, serverErr.Status)
	assert.Empty(t, serverErr.Error)

	script := byURL[srv.URL+"/missing.js"]
	assert.Equal(t, crawler.ResourceScript, script.Type)
	assert.Equal(t, srv.URL+"/about", script.FoundOn)

	_, deep := byURL[srv.URL+"/never-checked"]
	assert.False(t, deep)

	stats := c.Statistics()
	assert.Equal(t, 2, stats.TotalURLsCrawled)
	assert.Equal(t, 3, stats.BrokenResources)
	assert.Equal(t, stats.BrokenResources, len(broken))
	assert.Greater(t, stats.RequestCount, 0)

	result, err := c.Result()
	require.NoError(t, err)
	assert.False(t, result.Incomplete)
	assert.Equal(t, srv.URL+"/", result.BaseURL)

	stages := emitter.stages()
	assert.Equal(t, 1, stages[progress.StageCrawlStart])
	assert.Equal(t, 1, stages[progress.StageCrawlDone])
	assert.Equal(t, 3, stages[progress.StageBroken])
}

// TestCrawlReportsBrokenLinksAcrossDepths finds a 404 on the root page and a
// 500 on a depth-1 page of example.com.
func TestCrawlReportsBrokenLinksAcrossDepths(t *testing.T) {
	t.Parallel()

	fetcher := mapFetcher{
		"https://example.com/": {status: http.StatusOK,
			body: `<a href="/about">About</a><a href="https://example.com/broken-page">Broken</a>`},
		"https://example.com/about": {status: http.StatusOK,
			body: `<a href="/">Home</a><a href="https://example.com/another-broken-page">Gone</a>`},
		"https://example.com/broken-page":         {status: http.StatusNotFound},
		"https://example.com/another-broken-page": {status: http.StatusInternalServerError},
	}
	c, err := New(Config{BaseURL: "https://example.com", MaxDepth: 1, MaxWorkers: 3}, fetcher, nil)
	require.NoError(t, err)

	broken, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, broken, 2)

	byURL := brokenByURL(broken)
	notFound := byURL["https://example.com/broken-page"]
	assert.Equal(t, crawler.ResourceLink, notFound.Type)
	assert.Equal(t, http.StatusNotFound, notFound.Status)
	assert.Equal(t, "https://example.com/", notFound.FoundOn)

	serverErr := byURL["https://example.com/another-broken-page"]
	assert.Equal(t, crawler.ResourceLink, serverErr.Type)
	assert.Equal(t, http.StatusInternalServerError, serverErr.Status)
	assert.Equal(t, "https://example.com/about", serverErr.FoundOn)

	stats := c.Statistics()
	assert.GreaterOrEqual(t, stats.TotalResources, 2)
	assert.Equal(t, 2, stats.BrokenResources)
	assert.Equal(t, 2, stats.BrokenByType[crawler.ResourceLink])
	assert.Equal(t, 2, stats.TotalURLsCrawled)
}

// TestCrawlRecordsTimeouts reports a slow image as broken with an error and no status.
func TestCrawlRecordsTimeouts(t *testing.T) {
	t.Parallel()

	srv := newSite(t, 2*time.Second)
	c, err := New(Config{
		BaseURL:    srv.URL,
		MaxDepth:   0,
		MaxWorkers: 2,
		Timeout:    200 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	broken, err := c.Crawl(context.Background())
	require.NoError(t, err)

	slow, ok := brokenByURL(broken)[srv.URL+"/slow.png"]
	require.True(t, ok)
	assert.Equal(t, crawler.ResourceImage, slow.Type)
	assert.False(t, slow.HasStatus())
	assert.NotEmpty(t, slow.Error)
	assert.Equal(t, srv.URL+"/", slow.FoundOn)
}

// TestCrawlDepthZero checks only the base page's references.
func TestCrawlDepthZero(t *testing.T) {
	t.Parallel()

	srv := newSite(t, 0)
	c, err := New(Config{BaseURL: srv.URL, MaxDepth: 0, MaxWorkers: 3}, nil, nil)
	require.NoError(t, err)

	broken, err := c.Crawl(context.Background())
	require.NoError(t, err)

	stats := c.Statistics()
	assert.Equal(t, 1, stats.TotalURLsCrawled)
	byURL := brokenByURL(broken)
	assert.Contains(t, byURL, srv.URL+"/broken-page")
	assert.NotContains(t, byURL, srv.URL+"/missing.js")
}

// TestCrawlUnreachableBase records the base page itself when it cannot be fetched.
func TestCrawlUnreachableBase(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: baseURL, MaxWorkers: 1, Timeout: time.Second}, nil, nil)
	require.NoError(t, err)
	broken, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, broken, 1)
	assert.Equal(t, baseURL+"/", broken[0].URL)
	assert.NotEmpty(t, broken[0].Error)
}

// TestGenerateReport renders the same text for repeated calls and fails before a crawl.
func TestGenerateReport(t *testing.T) {
	t.Parallel()

	srv := newSite(t, 0)
	c, err := New(Config{BaseURL: srv.URL, MaxDepth: 1, MaxWorkers: 2}, nil, nil)
	require.NoError(t, err)

	_, err = c.GenerateReport()
	require.ErrorIs(t, err, crawler.ErrInvalidState)
	assert.Zero(t, c.Statistics().TotalURLsCrawled)

	_, err = c.Crawl(context.Background())
	require.NoError(t, err)

	first, err := c.GenerateReport()
	require.NoError(t, err)
	second, err := c.GenerateReport()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "## Link (2)")
	assert.Contains(t, first, "## Script (1)")
	assert.Contains(t, first, srv.URL+"/broken-page")
}

// TestCrawlResetsState starts each crawl from an empty registry.
func TestCrawlResetsState(t *testing.T) {
	t.Parallel()

	srv := newSite(t, 0)
	c, err := New(Config{BaseURL: srv.URL, MaxDepth: 1, MaxWorkers: 2}, nil, nil)
	require.NoError(t, err)

	first, err := c.Crawl(context.Background())
	require.NoError(t, err)
	second, err := c.Crawl(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, len(first))
	assert.Equal(t, len(second), c.Statistics().BrokenResources)
}

// TestCrawlTimeoutMarksIncomplete stops scheduling once the crawl budget elapses.
func TestCrawlTimeoutMarksIncomplete(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	c, err := New(Config{
		BaseURL:      "https://endless.test/",
		MaxDepth:     1000,
		MaxWorkers:   2,
		CrawlTimeout: 50 * time.Millisecond,
	}, endlessFetcher{delay: 10 * time.Millisecond}, nil, WithCrawlID(id))
	require.NoError(t, err)

	_, err = c.Crawl(context.Background())
	require.NoError(t, err)

	result, err := c.Result()
	require.NoError(t, err)
	assert.True(t, result.Incomplete)
	assert.Greater(t, result.Stats.TotalURLsCrawled, 0)

	report, err := c.GenerateReport()
	require.NoError(t, err)
	assert.Contains(t, report, "incomplete")
}

// TestCrawlCanceledReturnsPartialResult wraps the context error and keeps what was found.
func TestCrawlCanceledReturnsPartialResult(t *testing.T) {
	t.Parallel()

	c, err := New(Config{BaseURL: "https://endless.test/", MaxDepth: 1000, MaxWorkers: 2},
		endlessFetcher{delay: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Crawl(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	result, resErr := c.Result()
	require.NoError(t, resErr)
	assert.True(t, result.Incomplete)
}

// TestNewValidatesConfig rejects unusable configuration up front.
func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	cases := map[string]Config{
		"empty":          {},
		"relative":       {BaseURL: "/just/a/path"},
		"scheme":         {BaseURL: "ftp://example.com/"},
		"negative depth": {BaseURL: "https://example.com", MaxDepth: -1},
		"negative pool":  {BaseURL: "https://example.com", MaxWorkers: -2},
	}
	for name, cfg := range cases {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := New(cfg, nil, nil)
			require.ErrorIs(t, err, crawler.ErrInvalidConfig)
		})
	}
}

// TestNewAppliesDefaults fills zero-valued knobs.
func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	c, err := New(Config{BaseURL: "https://Example.com"}, nil, nil)
	require.NoError(t, err)
	cfg := c.Config()
	assert.Equal(t, "https://example.com/", cfg.BaseURL)
	assert.Equal(t, DefaultMaxWorkers, cfg.MaxWorkers)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, 0, cfg.MaxDepth)
}

// endlessFetcher serves an unbounded chain of HTML pages.
type endlessFetcher struct {
	delay time.Duration
}

func (f endlessFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return crawler.FetchResponse{}, ctx.Err()
	}
	path := strings.TrimPrefix(req.URL, "https://endless.test/")
	body := fmt.Sprintf(`<a href="/%s1">a</a><a href="/%s2">b</a>`, path, path)
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
		Duration:   f.delay,
	}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() map[progress.Stage]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[progress.Stage]int)
	for _, evt := range r.events {
		out[evt.Stage]++
	}
	return out
}

type mapPage struct {
	status int
	body   string
}

// mapFetcher serves fixed pages; anything else is a 404.
type mapFetcher map[string]mapPage

func (m mapFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	p, ok := m[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	resp := crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: p.status,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
	}
	if req.Method == http.MethodGet {
		resp.Body = []byte(p.body)
	}
	return resp, nil
}
