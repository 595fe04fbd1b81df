// Package runs executes submitted crawls in the background and records their
// lifecycle, reports, and completion notifications.
package runs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcrawler/internal/checker"
	"github.com/JakeFAU/linkcrawler/internal/crawler"
	"github.com/JakeFAU/linkcrawler/internal/dispatcher"
	"github.com/JakeFAU/linkcrawler/internal/id/uuid"
	"github.com/JakeFAU/linkcrawler/internal/progress"
	queuememory "github.com/JakeFAU/linkcrawler/internal/queue/memory"
	"github.com/JakeFAU/linkcrawler/internal/report"
	"github.com/JakeFAU/linkcrawler/internal/store"
)

const (
	enqueueTimeout  = 5 * time.Second
	finalizeTimeout = 30 * time.Second
)

// Config controls the manager.
type Config struct {
	// Defaults supplies the crawl knobs a submission does not carry
	// (user agent, credentials, poll interval).
	Defaults checker.Config
	// Executors is the number of crawls run concurrently.
	Executors  int
	QueueDepth int
	// ReportFormat selects the archived report encoding.
	ReportFormat report.Format
	ReportPrefix string
	// Topic receives completion events; empty uses the publisher default.
	Topic string
}

// Deps are the manager's collaborators. Blobs, Publisher, Archiver, and
// Hasher are optional.
type Deps struct {
	Store     store.RunStore
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Archiver  store.ResultArchiver
	Progress  progress.Emitter
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Hasher    crawler.Hasher
	// Fetcher overrides the per-run colly fetcher.
	Fetcher crawler.Fetcher
}

// CompletionEvent is published when a run reaches a terminal status.
type CompletionEvent struct {
	RunID        string          `json:"run_id"`
	Status       store.RunStatus `json:"status"`
	BaseURL      string          `json:"base_url"`
	URLsCrawled  int             `json:"urls_crawled"`
	BrokenCount  int             `json:"broken_count"`
	ReportURI    string          `json:"report_uri,omitempty"`
	ReportSHA256 string          `json:"report_sha256,omitempty"`
	Error        string          `json:"error,omitempty"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Manager accepts crawl submissions and executes them on a fixed pool.
type Manager struct {
	deps   Deps
	cfg    Config
	queue  *queuememory.Queue
	logger *zap.Logger
}

// New constructs a Manager.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("runs: store is required")
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Clock == nil {
		return nil, errors.New("runs: clock is required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Executors < 1 {
		cfg.Executors = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 16
	}
	if cfg.ReportFormat == "" {
		cfg.ReportFormat = report.FormatText
	}
	return &Manager{
		deps:   deps,
		cfg:    cfg,
		queue:  queuememory.NewQueue(cfg.QueueDepth),
		logger: logger,
	}, nil
}

// Submit validates params, records a queued run, and schedules it.
func (m *Manager) Submit(ctx context.Context, params store.RunParams) (store.Run, error) {
	if _, err := checker.NormalizeConfig(m.checkerConfig(params)); err != nil {
		return store.Run{}, err
	}
	runID, err := m.deps.IDs.NewID()
	if err != nil {
		return store.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := store.Run{
		ID:          runID,
		Status:      store.RunQueued,
		Params:      params,
		SubmittedAt: m.deps.Clock.Now(),
	}
	if err := m.deps.Store.CreateRun(ctx, run); err != nil {
		return store.Run{}, fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	if err := m.queue.Enqueue(queueCtx, runID); err != nil {
		failErr := m.deps.Store.CompleteRun(context.WithoutCancel(ctx), runID, store.RunFailed, nil, "", "not scheduled: "+err.Error())
		if failErr != nil {
			m.logger.Warn("mark unscheduled run failed", zap.String("run_id", runID), zap.Error(failErr))
		}
		return store.Run{}, fmt.Errorf("enqueue run: %w", err)
	}
	m.logger.Info("run submitted", zap.String("run_id", runID), zap.String("base_url", params.BaseURL))
	return run, nil
}

// Get returns one run.
func (m *Manager) Get(ctx context.Context, runID string) (store.Run, error) {
	run, err := m.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns every run, newest first.
func (m *Manager) List(ctx context.Context) ([]store.Run, error) {
	list, err := m.deps.Store.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return list, nil
}

// Run executes queued crawls until ctx ends or Close drains the queue.
func (m *Manager) Run(ctx context.Context) {
	executors := make([]dispatcher.Runner, m.cfg.Executors)
	for i := range executors {
		executors[i] = &executor{m: m, logger: m.logger.Named("executor").With(zap.Int("index", i))}
	}
	dispatcher.New(executors).Run(ctx)
}

// Close stops accepting submissions.
func (m *Manager) Close() {
	m.queue.Close()
}

type executor struct {
	m      *Manager
	logger *zap.Logger
}

func (e *executor) Run(ctx context.Context) {
	for {
		runID, err := e.m.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		e.m.execute(ctx, runID, e.logger.With(zap.String("run_id", runID)))
	}
}

func (m *Manager) execute(ctx context.Context, runID string, logger *zap.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("run panicked", zap.Any("panic", rec))
			m.finish(ctx, runID, store.RunFailed, nil, fmt.Sprintf("panic: %v", rec), logger)
		}
	}()

	run, err := m.deps.Store.GetRun(ctx, runID)
	if err != nil {
		logger.Error("load run failed", zap.Error(err))
		return
	}
	if err := m.deps.Store.MarkRunning(ctx, runID, m.deps.Clock.Now()); err != nil {
		logger.Error("mark run running failed", zap.Error(err))
		return
	}
	crawlID, err := uuid.Parse(runID)
	if err != nil {
		m.finish(ctx, runID, store.RunFailed, nil, err.Error(), logger)
		return
	}
	c, err := checker.New(m.checkerConfig(run.Params), m.deps.Fetcher, nil,
		checker.WithLogger(logger),
		checker.WithProgress(m.deps.Progress),
		checker.WithCrawlID(crawlID),
		checker.WithClock(m.deps.Clock),
	)
	if err != nil {
		m.finish(ctx, runID, store.RunFailed, nil, err.Error(), logger)
		return
	}

	_, crawlErr := c.Crawl(ctx)
	result, resErr := c.Result()
	switch {
	case resErr != nil:
		m.finish(ctx, runID, store.RunFailed, nil, errText(crawlErr, resErr), logger)
	case crawlErr != nil:
		m.finish(ctx, runID, store.RunFailed, &result, crawlErr.Error(), logger)
	case result.Incomplete:
		m.finish(ctx, runID, store.RunIncomplete, &result, "", logger)
	default:
		m.finish(ctx, runID, store.RunSucceeded, &result, "", logger)
	}
}

// finish archives the report and result, records the terminal status, and
// publishes the completion event. Bookkeeping outlives ctx cancellation.
func (m *Manager) finish(
	ctx context.Context,
	runID string,
	status store.RunStatus,
	result *crawler.CrawlResult,
	failure string,
	logger *zap.Logger,
) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	var reportURI, digest string
	if result != nil {
		reportURI, digest = m.archiveReport(ctx, runID, *result, logger)
		if m.deps.Archiver != nil {
			if err := m.deps.Archiver.ArchiveResult(ctx, runID, *result); err != nil {
				logger.Warn("archive result failed", zap.Error(err))
			}
		}
	}
	if err := m.deps.Store.CompleteRun(ctx, runID, status, result, reportURI, failure); err != nil {
		logger.Error("complete run failed", zap.Error(err))
	}

	evt := CompletionEvent{
		RunID:        runID,
		Status:       status,
		ReportURI:    reportURI,
		ReportSHA256: digest,
		Error:        failure,
		FinishedAt:   m.deps.Clock.Now(),
	}
	if result != nil {
		evt.BaseURL = result.BaseURL
		evt.URLsCrawled = result.Stats.TotalURLsCrawled
		evt.BrokenCount = len(result.Broken)
	}
	if m.deps.Publisher != nil {
		if msgID, err := m.deps.Publisher.Publish(ctx, m.cfg.Topic, evt); err != nil {
			logger.Warn("publish completion failed", zap.Error(err))
		} else {
			logger.Debug("completion published", zap.String("message_id", msgID))
		}
	}
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("broken", evt.BrokenCount),
		zap.String("report_uri", reportURI),
	)
}

func (m *Manager) archiveReport(
	ctx context.Context,
	runID string,
	result crawler.CrawlResult,
	logger *zap.Logger,
) (string, string) {
	if m.deps.Blobs == nil {
		return "", ""
	}
	data, err := report.Bytes(m.cfg.ReportFormat, result)
	if err != nil {
		logger.Warn("render report failed", zap.Error(err))
		return "", ""
	}
	var digest string
	if m.deps.Hasher != nil {
		if digest, err = m.deps.Hasher.Hash(data); err != nil {
			logger.Warn("hash report failed", zap.Error(err))
		}
	}
	name := path.Join(m.cfg.ReportPrefix, runID+"."+m.cfg.ReportFormat.Extension())
	uri, err := m.deps.Blobs.PutObject(ctx, name, m.cfg.ReportFormat.ContentType(), bytes.NewReader(data))
	if err != nil {
		logger.Warn("store report failed", zap.String("object", name), zap.Error(err))
		return "", digest
	}
	return uri, digest
}

func (m *Manager) checkerConfig(params store.RunParams) checker.Config {
	cfg := m.cfg.Defaults
	cfg.BaseURL = params.BaseURL
	cfg.MaxDepth = params.MaxDepth
	cfg.MaxWorkers = params.MaxWorkers
	if params.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(params.TimeoutSeconds) * time.Second
	}
	if params.CrawlTimeoutSeconds > 0 {
		cfg.CrawlTimeout = time.Duration(params.CrawlTimeoutSeconds) * time.Second
	}
	cfg.IncludeSubdomains = params.IncludeSubdomains
	cfg.AllowedHosts = append([]string(nil), params.AllowedHosts...)
	return cfg
}

func errText(errs ...error) string {
	return errors.Join(errs...).Error()
}
