// Package report renders crawl results as text, JSON, CSV, or a terminal table.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
)

const none = "none"

// Render produces the text report: broken resources grouped by type in
// canonical order, then the statistics block. The output depends only on
// the result, so identical results render byte-identically.
func Render(result crawler.CrawlResult) string {
	var b strings.Builder
	b.WriteString("# Broken Resources Report\n\n")
	if result.BaseURL != "" {
		fmt.Fprintf(&b, "Base URL: %s\n", result.BaseURL)
	}
	if result.Incomplete {
		b.WriteString("Crawl incomplete: scheduling stopped before the site was exhausted.\n")
	}
	if result.BaseURL != "" || result.Incomplete {
		b.WriteString("\n")
	}

	if len(result.Broken) == 0 {
		b.WriteString("No broken resources found.\n\n")
	} else {
		grouped := result.BrokenByType()
		for _, rt := range crawler.ResourceTypes() {
			records := grouped[rt]
			if len(records) == 0 {
				continue
			}
			fmt.Fprintf(&b, "## %s (%d)\n\n", rt.Title(), len(records))
			for _, rec := range records {
				writeRecord(&b, rec)
			}
		}
	}

	writeStatistics(&b, result.Stats)
	return b.String()
}

func writeRecord(b *strings.Builder, rec crawler.ResourceRecord) {
	fmt.Fprintf(b, "- %s\n", rec.URL)
	fmt.Fprintf(b, "  Status: %s\n", statusText(rec))
	fmt.Fprintf(b, "  Error: %s\n", orNone(rec.Error))
	fmt.Fprintf(b, "  Found on: %s\n\n", orNone(rec.FoundOn))
}

func writeStatistics(b *strings.Builder, stats crawler.Statistics) {
	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(b, "- Total URLs crawled: %d\n", stats.TotalURLsCrawled)
	fmt.Fprintf(b, "- Total resources: %d\n", stats.TotalResources)
	fmt.Fprintf(b, "- Broken resources: %d (%.2f%%)\n", stats.BrokenResources, stats.BrokenPercentage)

	b.WriteString("\n### By type\n\n")
	for _, rt := range crawler.ResourceTypes() {
		total := stats.ResourceTypes[rt]
		if total == 0 {
			continue
		}
		fmt.Fprintf(b, "- %s: %d checked, %d broken\n", rt.Title(), total, stats.BrokenByType[rt])
	}

	perf := stats.Performance
	b.WriteString("\n### Performance\n\n")
	fmt.Fprintf(b, "- Elapsed: %.3fs\n", stats.ElapsedSeconds)
	fmt.Fprintf(b, "- URLs per second: %.2f\n", perf.URLsPerSecond)
	fmt.Fprintf(b, "- Requests: %d (%.2f/s)\n", stats.RequestCount, perf.RequestsPerSecond)
	fmt.Fprintf(b, "- Cache hits: %d (%.1f%%)\n", stats.CacheHits, perf.CacheHitRatio*100)
	fmt.Fprintf(b, "- Avg fetch time: %.3fs\n", perf.AvgFetchTime)
	fmt.Fprintf(b, "- Avg parse time: %.3fs\n", perf.AvgParseTime)
	fmt.Fprintf(b, "- Avg check time: %.3fs\n", perf.AvgCheckTime)
}

func statusText(rec crawler.ResourceRecord) string {
	if !rec.HasStatus() {
		return none
	}
	return strconv.Itoa(rec.Status)
}

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}
