package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcrawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	crawlID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{CrawlID: crawlID, TS: now, Stage: progress.StageCrawlStart},
		{
			CrawlID:     crawlID,
			TS:          now.Add(time.Second),
			Stage:       progress.StagePageDone,
			Site:        "example.com",
			URL:         "https://example.com/",
			Bytes:       1024,
			StatusClass: progress.Status2xx,
			Dur:         200 * time.Millisecond,
		},
		{
			CrawlID:      crawlID,
			TS:           now.Add(2 * time.Second),
			Stage:        progress.StageBroken,
			URL:          "https://example.com/missing.png",
			ResourceType: "image",
			StatusClass:  progress.Status4xx,
		},
		{CrawlID: crawlID, TS: now.Add(3 * time.Second), Stage: progress.StageCrawlDone, Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.crawlsRunning))
	require.InDelta(t, 1.0,
		testutil.ToFloat64(sink.pageFetches.WithLabelValues("example.com", string(progress.Status2xx))), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.pageBytes.WithLabelValues("example.com")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.brokenFound.WithLabelValues("image")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "linkcrawler_progress_fetch_duration_seconds"))
}

// TestPrometheusSinkRunningGauge keeps the gauge balanced across duplicate and unmatched events.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	first := progress.UUIDToBytes(uuid.New())
	second := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: first, TS: now, Stage: progress.StageCrawlStart},
		{CrawlID: first, TS: now, Stage: progress.StageCrawlStart},
		{CrawlID: second, TS: now, Stage: progress.StageCrawlStart},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.crawlsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: first, TS: now, Stage: progress.StageCrawlError, Note: "boom"},
		{CrawlID: first, TS: now, Stage: progress.StageCrawlError},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.crawlsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.crawlsCompleted.WithLabelValues("error")))
}

// TestPrometheusSinkDuplicateRegistration surfaces collector conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
