package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{0: "error", 200: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 99: "other"}
	for code, want := range cases {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %q; want %q", code, got, want)
		}
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := crawlerPagesTotal
	Init()
	if crawlerPagesTotal == nil || crawlerPagesTotal != first {
		t.Fatal("Init() should create collectors exactly once")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("observe.test", "2xx"))
	ObservePage("https://observe.test/a", 200, 512)
	if got := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("observe.test", "2xx")); got != before+1 {
		t.Errorf("expected page counter to increase by 1, got %f -> %f", before, got)
	}
	if got := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("observe.test")); got < 512 {
		t.Errorf("expected bytes counter >= 512, got %f", got)
	}

	beforeReq := testutil.ToFloat64(crawlerRequestsTotal.WithLabelValues("HEAD", "error"))
	ObserveRequest("HEAD", 0)
	if got := testutil.ToFloat64(crawlerRequestsTotal.WithLabelValues("HEAD", "error")); got != beforeReq+1 {
		t.Errorf("expected request counter to increase, got %f -> %f", beforeReq, got)
	}

	beforeRes := testutil.ToFloat64(crawlerResourcesTotal.WithLabelValues("image", "broken"))
	ObserveResource("image", true)
	if got := testutil.ToFloat64(crawlerResourcesTotal.WithLabelValues("image", "broken")); got != beforeRes+1 {
		t.Errorf("expected resource counter to increase, got %f -> %f", beforeRes, got)
	}

	beforeCrawl := testutil.ToFloat64(crawlerCrawlsTotal.WithLabelValues("complete"))
	ObserveCrawl("complete", time.Second)
	if got := testutil.ToFloat64(crawlerCrawlsTotal.WithLabelValues("complete")); got != beforeCrawl+1 {
		t.Errorf("expected crawl counter to increase, got %f -> %f", beforeCrawl, got)
	}

	beforeWorkers := testutil.ToFloat64(crawlerActiveWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(crawlerActiveWorkers); got != beforeWorkers+1 {
		t.Errorf("expected active workers %f, got %f", beforeWorkers+1, got)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
