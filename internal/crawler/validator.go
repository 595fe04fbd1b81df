package crawler

import (
	"context"
	"time"
)

// typePolicy is the per-type validation behavior.
type typePolicy struct {
	title string
	// pageCandidate marks types that may be crawled recursively.
	pageCandidate bool
}

var typePolicies = map[ResourceType]typePolicy{
	ResourceLink:       {title: "Link", pageCandidate: true},
	ResourceImage:      {title: "Image"},
	ResourceStylesheet: {title: "Stylesheet"},
	ResourceScript:     {title: "Script"},
}

// Classification is the outcome of validating one reference.
type Classification struct {
	CrawlAsPage bool
	Record      ResourceRecord
	Elapsed     time.Duration
}

// Validator checks references through the response cache and decides which
// ones deserve a page crawl.
type Validator struct {
	cache    ResourceFetcher
	scope    *Scope
	maxDepth int
	now      func() time.Time
}

// NewValidator builds a Validator for one crawl.
func NewValidator(cache ResourceFetcher, scope *Scope, maxDepth int) *Validator {
	return &Validator{
		cache:    cache,
		scope:    scope,
		maxDepth: maxDepth,
		now:      time.Now,
	}
}

// Classify validates ref found on the page described by from. In-scope links
// within the depth limit are fetched in full so a later page crawl is served from the cache; every
// other reference gets an existence check. A reference is broken iff the
// status is >= 400 or the request failed at the transport level.
func (v *Validator) Classify(ctx context.Context, ref Reference, from PendingVisit) Classification {
	start := v.now()
	candidate := v.pageCandidate(ref, from)

	mode := FetchExistence
	if candidate {
		mode = FetchFull
	}
	entry := v.cache.Fetch(ctx, ref.URL, mode)

	record := ResourceRecord{
		URL:     ref.URL,
		Type:    ref.Type,
		FoundOn: from.URL,
		Status:  entry.Status,
		Error:   entry.ErrorText(),
		Broken:  entry.Broken(),
	}
	return Classification{
		CrawlAsPage: candidate && !record.Broken,
		Record:      record,
		Elapsed:     v.now().Sub(start),
	}
}

// ShouldCrawl reports whether ref, already checked from another page or as
// another resource type, still qualifies for a page crawl from from. The
// answer comes from the cache: a resolved entry, the in-flight request, or
// the GET that upgrades a head-only entry.
func (v *Validator) ShouldCrawl(ctx context.Context, ref Reference, from PendingVisit) bool {
	if !v.pageCandidate(ref, from) {
		return false
	}
	return !v.cache.Fetch(ctx, ref.URL, FetchFull).Broken()
}

func (v *Validator) pageCandidate(ref Reference, from PendingVisit) bool {
	return typePolicies[ref.Type].pageCandidate &&
		from.Depth+1 <= v.maxDepth &&
		v.scope.Contains(ref.URL)
}
