// Package worker implements the per-page crawl loop.
package worker

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
	"github.com/JakeFAU/linkcrawler/internal/metrics"
	"github.com/JakeFAU/linkcrawler/internal/progress"
)

// DefaultPollInterval is how long an idle worker waits before asking the
// frontier again.
const DefaultPollInterval = 25 * time.Millisecond

// Config controls Worker behavior.
type Config struct {
	PollInterval time.Duration
	// CrawlID tags progress events.
	CrawlID [16]byte
}

// Deps groups the shared crawl state a worker operates on.
type Deps struct {
	Queue      crawler.WorkQueue
	Cache      crawler.ResourceFetcher
	Classifier crawler.Classifier
	Extractor  crawler.Extractor
	Registry   *crawler.Registry
	Stats      *crawler.StatsAggregator
	Progress   progress.Emitter
	Pauser     crawler.Pauser
}

// Worker dequeues pages, fetches them through the cache, and validates every
// reference they contain.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Worker. Progress and Pauser default to no-op and timer
// implementations.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run pulls visits until the frontier drains, scheduling stops, or ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		visit, state := w.deps.Queue.Dequeue()
		switch state {
		case crawler.DequeueReady:
			w.process(ctx, visit)
		case crawler.DequeueWait:
			w.deps.Pauser.Pause(ctx, w.cfg.PollInterval)
		default:
			w.logger.Debug("worker exiting", zap.Stringer("state", state))
			return
		}
	}
}

// process handles one visit. A panic is contained to the page: it is logged
// and the page is recorded as broken.
func (w *Worker) process(ctx context.Context, visit crawler.PendingVisit) {
	defer w.deps.Queue.Done()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic processing page: %v", r)
			w.logger.Error("page processing panicked",
				zap.String("url", visit.URL),
				zap.Int("depth", visit.Depth),
				zap.Error(err),
			)
			w.recordBrokenPage(visit, crawler.CacheEntry{URL: visit.URL, Err: err})
		}
	}()
	w.crawlPage(ctx, visit)
}

func (w *Worker) crawlPage(ctx context.Context, visit crawler.PendingVisit) {
	entry := w.deps.Cache.Fetch(ctx, visit.URL, crawler.FetchFull)
	w.deps.Stats.RecordPage(entry.Duration)
	metrics.ObservePage(metrics.SanitizeSite(visit.URL), entry.Status, len(entry.Body))
	w.emit(progress.Event{
		Stage:       progress.StagePageDone,
		Site:        crawler.Host(visit.URL),
		URL:         visit.URL,
		Bytes:       int64(len(entry.Body)),
		StatusClass: progress.ClassifyStatus(entry.Status),
		Dur:         entry.Duration,
	})

	if entry.Broken() {
		w.logger.Debug("page fetch failed",
			zap.String("url", visit.URL),
			zap.Int("status", entry.Status),
			zap.String("error", entry.ErrorText()),
		)
		w.recordBrokenPage(visit, entry)
		return
	}
	if !isHTML(entry.Header, entry.Body) {
		return
	}

	parseStart := w.now()
	refs := w.deps.Extractor.Extract(entry.Body, visit.URL)
	w.deps.Stats.RecordParse(w.now().Sub(parseStart))
	w.logger.Debug("page parsed",
		zap.String("url", visit.URL),
		zap.Int("depth", visit.Depth),
		zap.Int("references", len(refs)),
	)

	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		w.checkReference(ctx, ref, visit)
	}
}

func (w *Worker) checkReference(ctx context.Context, ref crawler.Reference, visit crawler.PendingVisit) {
	if !crawler.IsSupportedScheme(ref.URL) || !ref.Type.Valid() {
		return
	}
	if !w.deps.Registry.Claim(ref.URL) {
		// Checked once already, maybe from a deeper page or as an image.
		// Whether it is crawled still depends on where it is found.
		if w.deps.Classifier.ShouldCrawl(ctx, ref, visit) {
			w.deps.Queue.TryEnqueue(ref.URL, visit.Depth+1, visit.URL)
		}
		return
	}
	result := w.deps.Classifier.Classify(ctx, ref, visit)
	w.deps.Stats.RecordCheck(result.Elapsed)

	rec, inserted := w.deps.Registry.Record(result.Record)
	if !inserted {
		return
	}
	w.deps.Stats.RecordResource(rec.Type, rec.Broken)
	metrics.ObserveResource(string(rec.Type), rec.Broken)
	if rec.Broken {
		w.emitBroken(rec)
	}
	if result.CrawlAsPage {
		w.deps.Queue.TryEnqueue(rec.URL, visit.Depth+1, visit.URL)
	}
}

// recordBrokenPage reports the page itself as broken. A page first recorded
// as a healthy reference is flipped to broken, keeping its type and
// provenance; a page with no record yet, such as the base URL, is added as a
// link found on its origin.
func (w *Worker) recordBrokenPage(visit crawler.PendingVisit, entry crawler.CacheEntry) {
	rec, outcome := w.deps.Registry.MarkBroken(crawler.ResourceRecord{
		URL:     visit.URL,
		Type:    crawler.ResourceLink,
		FoundOn: visit.Origin,
		Status:  entry.Status,
		Error:   entry.ErrorText(),
		Broken:  true,
	})
	switch outcome {
	case crawler.MarkInserted:
		w.deps.Stats.RecordResource(rec.Type, true)
		metrics.ObserveResource(string(rec.Type), true)
	case crawler.MarkFlipped:
		w.deps.Stats.MarkBroken(rec.Type)
		metrics.ObserveResource(string(rec.Type), true)
	default:
		return
	}
	w.emitBroken(rec)
}

func (w *Worker) emitBroken(rec crawler.ResourceRecord) {
	w.emit(progress.Event{
		Stage:        progress.StageBroken,
		Site:         crawler.Host(rec.URL),
		URL:          rec.URL,
		ResourceType: string(rec.Type),
		StatusClass:  progress.ClassifyStatus(rec.Status),
		Note:         rec.Error,
	})
}

func (w *Worker) emit(evt progress.Event) {
	evt.CrawlID = w.cfg.CrawlID
	evt.TS = w.now().UTC()
	w.deps.Progress.Emit(evt)
}

// isHTML checks the declared content type, sniffing the body when the
// server sent none.
func isHTML(header http.Header, body []byte) bool {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		if len(body) == 0 {
			return false
		}
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
