package crawler

import (
	"sync"
	"time"
)

// StatsAggregator accumulates crawl counters and timings. Every update runs
// under one mutex, so BrokenResources always equals the sum of BrokenByType.
type StatsAggregator struct {
	mu sync.Mutex

	urlsCrawled     int
	resources       int
	broken          int
	resourcesByType map[ResourceType]int
	brokenByType    map[ResourceType]int
	pagesParsed     int
	validations     int

	fetchTime time.Duration
	parseTime time.Duration
	checkTime time.Duration
	elapsed   time.Duration

	requests  int
	cacheHits int
}

// NewStatsAggregator returns zeroed statistics.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{
		resourcesByType: make(map[ResourceType]int),
		brokenByType:    make(map[ResourceType]int),
	}
}

// RecordPage counts one page crawl and its fetch time.
func (s *StatsAggregator) RecordPage(fetch time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urlsCrawled++
	s.fetchTime += fetch
}

// RecordParse adds one extraction pass.
func (s *StatsAggregator) RecordParse(parse time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pagesParsed++
	s.parseTime += parse
}

// RecordCheck adds one reference validation.
func (s *StatsAggregator) RecordCheck(check time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations++
	s.checkTime += check
}

// RecordResource counts a distinct resource and, if broken, its broken
// tally. Both totals and the per-type maps change in one critical section.
func (s *StatsAggregator) RecordResource(t ResourceType, broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources++
	s.resourcesByType[t]++
	if broken {
		s.broken++
		s.brokenByType[t]++
	}
}

// MarkBroken moves an already counted resource of type t into the broken
// tally.
func (s *StatsAggregator) MarkBroken(t ResourceType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken++
	s.brokenByType[t]++
}

// SetRequests records the network request and cache hit totals.
func (s *StatsAggregator) SetRequests(requests, cacheHits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = requests
	s.cacheHits = cacheHits
}

// Finish stores the total wall-clock time of the crawl.
func (s *StatsAggregator) Finish(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = elapsed
}

// Snapshot returns a copy of the counters with derived rates filled in.
func (s *StatsAggregator) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.elapsed.Seconds()
	out := Statistics{
		TotalURLsCrawled:  s.urlsCrawled,
		TotalResources:    s.resources,
		BrokenResources:   s.broken,
		BrokenPercentage:  ratio(float64(s.broken)*100, float64(s.resources)),
		ResourceTypes:     make(map[ResourceType]int, len(s.resourcesByType)),
		BrokenByType:      make(map[ResourceType]int, len(s.brokenByType)),
		ElapsedSeconds:    elapsed,
		RequestCount:      s.requests,
		CacheHits:         s.cacheHits,
		PagesParsed:       s.pagesParsed,
		ValidationsIssued: s.validations,
		Performance: Performance{
			URLsPerSecond:     ratio(float64(s.urlsCrawled), elapsed),
			RequestsPerSecond: ratio(float64(s.requests), elapsed),
			AvgFetchTime:      ratio(s.fetchTime.Seconds(), float64(s.urlsCrawled)),
			AvgParseTime:      ratio(s.parseTime.Seconds(), float64(s.pagesParsed)),
			AvgCheckTime:      ratio(s.checkTime.Seconds(), float64(s.validations)),
			CacheHitRatio:     ratio(float64(s.cacheHits), float64(s.cacheHits+s.requests)),
		},
	}
	for k, v := range s.resourcesByType {
		out.ResourceTypes[k] = v
	}
	for k, v := range s.brokenByType {
		out.BrokenByType[k] = v
	}
	return out
}

// ratio divides num by den, returning 0 when den is not positive.
func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}
