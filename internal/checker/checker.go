// Package checker orchestrates a broken-link crawl: it seeds the frontier,
// runs the worker pool until the site is exhausted, and keeps the result for
// reporting.
package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
	"github.com/JakeFAU/linkcrawler/internal/dispatcher"
	"github.com/JakeFAU/linkcrawler/internal/extractor"
	collyfetcher "github.com/JakeFAU/linkcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/linkcrawler/internal/metrics"
	"github.com/JakeFAU/linkcrawler/internal/progress"
	"github.com/JakeFAU/linkcrawler/internal/report"
	"github.com/JakeFAU/linkcrawler/internal/worker"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultMaxDepth   = 2
	DefaultMaxWorkers = 10
	DefaultTimeout    = 10 * time.Second
	DefaultUserAgent  = "linkcrawler/0.1.0"
)

// Config describes one site to check.
type Config struct {
	BaseURL    string
	MaxDepth   int
	MaxWorkers int
	// Timeout bounds each HTTP request made by the default fetcher.
	Timeout   time.Duration
	UserAgent string
	Username  string
	Password  string

	IncludeSubdomains bool
	AllowedHosts      []string
	// CrawlTimeout stops scheduling new pages once elapsed; zero disables it.
	CrawlTimeout time.Duration
	PollInterval time.Duration
}

// Option customizes a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProgress routes crawl progress events to emitter.
func WithProgress(emitter progress.Emitter) Option {
	return func(c *Checker) {
		if emitter != nil {
			c.progress = emitter
		}
	}
}

// WithCrawlID fixes the ID stamped on progress events instead of a random one.
func WithCrawlID(id uuid.UUID) Option {
	return func(c *Checker) {
		c.crawlID = id
	}
}

// WithClock overrides the time source used for timestamps and elapsed time.
func WithClock(clock crawler.Clock) Option {
	return func(c *Checker) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Checker runs crawls for one configuration. A Checker runs one crawl at a
// time; each Crawl starts from empty state.
type Checker struct {
	cfg       Config
	scope     *crawler.Scope
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	logger    *zap.Logger
	progress  progress.Emitter
	clock     crawler.Clock
	crawlID   uuid.UUID

	running atomic.Bool

	mu     sync.RWMutex
	result *crawler.CrawlResult
}

// New validates cfg and builds a Checker. A nil fetcher selects the colly
// fetcher configured from cfg; a nil extractor selects the goquery one.
func New(cfg Config, fetcher crawler.Fetcher, extract crawler.Extractor, opts ...Option) (*Checker, error) {
	cfg, err := NormalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	scope, err := crawler.NewScope(cfg.BaseURL, cfg.IncludeSubdomains, cfg.AllowedHosts)
	if err != nil {
		return nil, fmt.Errorf("%w: base_url: %v", crawler.ErrInvalidConfig, err)
	}
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
			Username:  cfg.Username,
			Password:  cfg.Password,
		})
	}
	if extract == nil {
		extract = extractor.New()
	}
	c := &Checker{
		cfg:       cfg,
		scope:     scope,
		fetcher:   fetcher,
		extractor: extract,
		logger:    zap.NewNop(),
		progress:  progress.Discard,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeConfig validates cfg and fills defaults. Errors wrap
// crawler.ErrInvalidConfig.
func NormalizeConfig(cfg Config) (Config, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		return cfg, fmt.Errorf("%w: base_url is required", crawler.ErrInvalidConfig)
	}
	normalized, err := crawler.NormalizeURL(cfg.BaseURL)
	if err != nil {
		return cfg, fmt.Errorf("%w: base_url: %v", crawler.ErrInvalidConfig, err)
	}
	if !crawler.IsSupportedScheme(normalized) {
		return cfg, fmt.Errorf("%w: base_url must use http or https", crawler.ErrInvalidConfig)
	}
	cfg.BaseURL = normalized
	if cfg.MaxDepth < 0 {
		return cfg, fmt.Errorf("%w: max_depth must be >= 0", crawler.ErrInvalidConfig)
	}
	if cfg.MaxWorkers < 0 || cfg.Timeout < 0 || cfg.CrawlTimeout < 0 {
		return cfg, fmt.Errorf("%w: max_workers and timeouts must not be negative", crawler.ErrInvalidConfig)
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = worker.DefaultPollInterval
	}
	return cfg, nil
}

// Config returns the effective configuration after defaults.
func (c *Checker) Config() Config {
	return c.cfg
}

// Crawl checks the site and returns the broken resources in discovery
// order. State from earlier crawls is discarded. If ctx ends first, the
// partial result is kept, flagged incomplete, and returned with ctx's error.
func (c *Checker) Crawl(ctx context.Context) ([]crawler.ResourceRecord, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: crawl already running", crawler.ErrInvalidState)
	}
	defer c.running.Store(false)

	ctx, span := otel.Tracer("linkcrawler/checker").Start(ctx, "checker.Crawl")
	defer span.End()
	span.SetAttributes(
		attribute.String("crawl.base_url", c.cfg.BaseURL),
		attribute.Int("crawl.max_depth", c.cfg.MaxDepth),
		attribute.Int("crawl.max_workers", c.cfg.MaxWorkers),
	)

	crawlID := c.crawlID
	if crawlID == uuid.Nil {
		crawlID = uuid.New()
	}
	crawlBytes := progress.UUIDToBytes(crawlID)
	logger := c.logger.With(zap.String("crawl_id", crawlID.String()), zap.String("base_url", c.cfg.BaseURL))

	frontier := crawler.NewDepthFrontier(c.cfg.MaxDepth, c.scope)
	cache := crawler.NewResponseCache(c.fetcher, logger.Named("cache"))
	registry := crawler.NewRegistry()
	stats := crawler.NewStatsAggregator()
	deps := worker.Deps{
		Queue:      frontier,
		Cache:      cache,
		Classifier: crawler.NewValidator(cache, c.scope, c.cfg.MaxDepth),
		Extractor:  c.extractor,
		Registry:   registry,
		Stats:      stats,
		Progress:   c.progress,
	}

	started := c.clock.Now().UTC()
	c.progress.Emit(progress.Event{CrawlID: crawlBytes, TS: started, Stage: progress.StageCrawlStart, URL: c.cfg.BaseURL})
	logger.Info("crawl started",
		zap.Int("max_depth", c.cfg.MaxDepth),
		zap.Int("max_workers", c.cfg.MaxWorkers),
	)

	if !frontier.TryEnqueue(c.cfg.BaseURL, 0, "") {
		return nil, fmt.Errorf("%w: base_url %s could not be scheduled", crawler.ErrInvalidConfig, c.cfg.BaseURL)
	}

	var timedOut atomic.Bool
	if c.cfg.CrawlTimeout > 0 {
		timer := time.AfterFunc(c.cfg.CrawlTimeout, func() {
			timedOut.Store(true)
			frontier.Stop()
			logger.Warn("crawl timeout reached; no new pages will be scheduled",
				zap.Duration("crawl_timeout", c.cfg.CrawlTimeout))
		})
		defer timer.Stop()
	}

	runners := make([]dispatcher.Runner, c.cfg.MaxWorkers)
	for i := range runners {
		runners[i] = worker.New(deps, worker.Config{
			PollInterval: c.cfg.PollInterval,
			CrawlID:      crawlBytes,
		}, logger.Named("worker").With(zap.Int("index", i)))
	}
	dispatcher.New(runners, dispatcher.WithActivity(metrics.IncActiveWorkers, metrics.DecActiveWorkers)).Run(ctx)

	finished := c.clock.Now().UTC()
	elapsed := finished.Sub(started)
	stats.SetRequests(cache.RequestCount(), cache.HitCount())
	stats.Finish(elapsed)

	ctxErr := ctx.Err()
	result := crawler.CrawlResult{
		BaseURL:    c.cfg.BaseURL,
		StartedAt:  started,
		FinishedAt: finished,
		Incomplete: timedOut.Load() || ctxErr != nil,
		Broken:     registry.Broken(),
		Stats:      stats.Snapshot(),
	}
	c.mu.Lock()
	c.result = &result
	c.mu.Unlock()

	outcome := "complete"
	stage := progress.StageCrawlDone
	switch {
	case ctxErr != nil:
		outcome = "canceled"
		stage = progress.StageCrawlError
	case result.Incomplete:
		outcome = "incomplete"
	}
	metrics.ObserveCrawl(outcome, elapsed)
	c.progress.Emit(progress.Event{
		CrawlID: crawlBytes,
		TS:      finished,
		Stage:   stage,
		URL:     c.cfg.BaseURL,
		Dur:     elapsed,
		Note:    outcome,
	})
	span.SetAttributes(
		attribute.Int("crawl.urls_crawled", result.Stats.TotalURLsCrawled),
		attribute.Int("crawl.broken", result.Stats.BrokenResources),
		attribute.Bool("crawl.incomplete", result.Incomplete),
	)
	logger.Info("crawl finished",
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
		zap.Int("urls_crawled", result.Stats.TotalURLsCrawled),
		zap.Int("resources", result.Stats.TotalResources),
		zap.Int("broken", result.Stats.BrokenResources),
		zap.Int("requests", result.Stats.RequestCount),
		zap.Int("cache_hits", result.Stats.CacheHits),
	)

	broken := append([]crawler.ResourceRecord(nil), result.Broken...)
	if ctxErr != nil {
		span.SetStatus(codes.Error, ctxErr.Error())
		return broken, fmt.Errorf("crawl interrupted: %w", ctxErr)
	}
	return broken, nil
}

// Result returns the outcome of the last crawl.
func (c *Checker) Result() (crawler.CrawlResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.result == nil {
		return crawler.CrawlResult{}, fmt.Errorf("%w: no crawl has completed", crawler.ErrInvalidState)
	}
	return *c.result, nil
}

// GenerateReport renders the text report for the last crawl.
func (c *Checker) GenerateReport() (string, error) {
	result, err := c.Result()
	if err != nil {
		return "", err
	}
	return report.Render(result), nil
}

// Statistics returns the statistics of the last crawl, or zeroed
// statistics before any crawl.
func (c *Checker) Statistics() crawler.Statistics {
	result, err := c.Result()
	if errors.Is(err, crawler.ErrInvalidState) {
		return crawler.NewStatsAggregator().Snapshot()
	}
	return result.Stats
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
