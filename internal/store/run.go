package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
)

// ErrNotFound signals that the requested crawl run does not exist.
var ErrNotFound = errors.New("crawl run not found")

// ErrExists signals a duplicate run ID.
var ErrExists = errors.New("crawl run already exists")

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

// Run statuses.
const (
	RunQueued     RunStatus = "queued"
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunIncomplete RunStatus = "incomplete"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunIncomplete, RunFailed:
		return true
	default:
		return false
	}
}

// RunParams are the per-run crawl settings submitted by a client.
type RunParams struct {
	BaseURL             string   `json:"base_url"`
	MaxDepth            int      `json:"max_depth"`
	MaxWorkers          int      `json:"max_workers"`
	TimeoutSeconds      int      `json:"timeout_seconds"`
	CrawlTimeoutSeconds int      `json:"crawl_timeout_seconds,omitempty"`
	IncludeSubdomains   bool     `json:"include_subdomains"`
	AllowedHosts        []string `json:"allowed_hosts,omitempty"`
}

// Progress is the live tally for a running crawl.
type Progress struct {
	PagesCrawled int64     `json:"pages_crawled"`
	BytesFetched int64     `json:"bytes_fetched"`
	BrokenFound  int64     `json:"broken_found"`
	LastUpdate   time.Time `json:"last_update,omitempty"`
}

// Run is one submitted crawl and, once finished, its outcome.
type Run struct {
	ID          string               `json:"id"`
	Status      RunStatus            `json:"status"`
	Params      RunParams            `json:"params"`
	SubmittedAt time.Time            `json:"submitted_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	ErrorText   string               `json:"error_text,omitempty"`
	Progress    Progress             `json:"progress"`
	ReportURI   string               `json:"report_uri,omitempty"`
	Result      *crawler.CrawlResult `json:"result,omitempty"`
}

// RunStore persists crawl runs.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	MarkRunning(ctx context.Context, id string, at time.Time) error
	CompleteRun(ctx context.Context, id string, status RunStatus, result *crawler.CrawlResult, reportURI, errText string) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
}

// ProgressRecorder accumulates live progress for a run.
type ProgressRecorder interface {
	AddProgress(ctx context.Context, id string, delta Progress) error
}

// ResultArchiver writes finished crawl results to durable storage.
type ResultArchiver interface {
	ArchiveResult(ctx context.Context, runID string, result crawler.CrawlResult) error
}
