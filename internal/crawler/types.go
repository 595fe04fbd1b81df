package crawler

import (
	"net/http"
	"time"
)

// ResourceType is the closed set of reference kinds a page can carry.
type ResourceType string

// Supported resource types, listed in report order.
const (
	ResourceLink       ResourceType = "link"
	ResourceImage      ResourceType = "image"
	ResourceStylesheet ResourceType = "stylesheet"
	ResourceScript     ResourceType = "script"
)

// ResourceTypes returns every resource type in canonical report order.
func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceLink, ResourceImage, ResourceStylesheet, ResourceScript}
}

// Valid reports whether t is one of the known resource types.
func (t ResourceType) Valid() bool {
	_, ok := typePolicies[t]
	return ok
}

// Title returns the capitalized label used in report headings.
func (t ResourceType) Title() string {
	if p, ok := typePolicies[t]; ok {
		return p.title
	}
	return string(t)
}

// Reference is a resource discovered on a page, already resolved to an absolute URL.
type Reference struct {
	URL  string
	Type ResourceType
}

// PendingVisit is a page accepted by the frontier and waiting to be crawled.
type PendingVisit struct {
	URL    string
	Depth  int
	Origin string
}

// ResourceRecord is the validation outcome for one distinct resource URL.
// Status is 0 when no HTTP response was received; Error is empty when one was.
type ResourceRecord struct {
	Seq     int64        `json:"-" csv:"-"`
	URL     string       `json:"url" csv:"url"`
	Type    ResourceType `json:"type" csv:"type"`
	FoundOn string       `json:"found_on" csv:"found_on"`
	Status  int          `json:"status,omitempty" csv:"status"`
	Error   string       `json:"error,omitempty" csv:"error"`
	Broken  bool         `json:"broken" csv:"broken"`
}

// HasStatus reports whether an HTTP status was captured.
func (r ResourceRecord) HasStatus() bool {
	return r.Status > 0
}

// FetchMode selects how much of a response the cache needs.
type FetchMode int

const (
	// FetchExistence asks only whether the resource resolves (HEAD, GET fallback).
	FetchExistence FetchMode = iota
	// FetchFull retrieves the response body with GET.
	FetchFull
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL    string
	Method string
}

// FetchResponse is the result returned by a Fetcher implementation. A
// Fetcher returns an error only for transport failures; HTTP error statuses
// are reported through StatusCode.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// CacheEntry is the memoized outcome of fetching one URL.
type CacheEntry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Err      error
	HeadOnly bool
	Duration time.Duration
}

// Broken reports whether the entry represents an unreachable resource.
func (e CacheEntry) Broken() bool {
	return e.Err != nil || e.Status >= 400
}

// ErrorText returns the transport error message or an empty string.
func (e CacheEntry) ErrorText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// CrawlResult is the immutable outcome of one crawl.
type CrawlResult struct {
	BaseURL    string           `json:"base_url"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Incomplete bool             `json:"incomplete"`
	Broken     []ResourceRecord `json:"broken"`
	Stats      Statistics       `json:"statistics"`
}

// BrokenByType groups broken records by resource type, preserving Seq order
// inside each group. Types without broken records are omitted.
func (r CrawlResult) BrokenByType() map[ResourceType][]ResourceRecord {
	out := make(map[ResourceType][]ResourceRecord)
	for _, rec := range r.Broken {
		out[rec.Type] = append(out[rec.Type], rec)
	}
	return out
}

// Statistics is a snapshot of the crawl counters and derived rates.
type Statistics struct {
	TotalURLsCrawled  int                  `json:"total_urls_crawled"`
	TotalResources    int                  `json:"total_resources"`
	BrokenResources   int                  `json:"broken_resources"`
	BrokenPercentage  float64              `json:"broken_percentage"`
	ResourceTypes     map[ResourceType]int `json:"resource_types"`
	BrokenByType      map[ResourceType]int `json:"broken_by_type"`
	Performance       Performance          `json:"performance"`
	ElapsedSeconds    float64              `json:"elapsed_seconds"`
	RequestCount      int                  `json:"request_count"`
	CacheHits         int                  `json:"cache_hits"`
	PagesParsed       int                  `json:"pages_parsed"`
	ValidationsIssued int                  `json:"validations_issued"`
}

// Performance holds the derived timing metrics. Rates and averages are zero
// when their divisor is zero.
type Performance struct {
	URLsPerSecond     float64 `json:"urls_per_second"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	AvgFetchTime      float64 `json:"avg_fetch_time"`
	AvgParseTime      float64 `json:"avg_parse_time"`
	AvgCheckTime      float64 `json:"avg_check_time"`
	CacheHitRatio     float64 `json:"cache_hit_ratio"`
}
