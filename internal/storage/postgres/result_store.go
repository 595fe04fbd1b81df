// Package postgres archives finished crawl results in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultRunsTable   = "crawl_runs"
	DefaultBrokenTable = "broken_resources"
)

// ResultStoreConfig controls the Postgres connection pool and target tables.
type ResultStoreConfig struct {
	DSN             string
	RunsTable       string
	BrokenTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ResultStore writes crawl summaries and their broken resources.
type ResultStore struct {
	pool        txPool
	runsTable   string
	brokenTable string
}

// NewResultStore opens a pool from cfg.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewResultStoreWithPool(pool, cfg.RunsTable, cfg.BrokenTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool txPool, runsTable, brokenTable string) (*ResultStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if runsTable == "" {
		runsTable = DefaultRunsTable
	}
	if brokenTable == "" {
		brokenTable = DefaultBrokenTable
	}
	for _, table := range []string{runsTable, brokenTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &ResultStore{pool: pool, runsTable: runsTable, brokenTable: brokenTable}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the archive tables when missing.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id             TEXT PRIMARY KEY,
	base_url           TEXT NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	finished_at        TIMESTAMPTZ NOT NULL,
	incomplete         BOOLEAN NOT NULL,
	total_urls_crawled BIGINT NOT NULL,
	total_resources    BIGINT NOT NULL,
	broken_resources   BIGINT NOT NULL,
	broken_percentage  DOUBLE PRECISION NOT NULL,
	statistics         JSONB NOT NULL
)`, s.runsTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        TEXT NOT NULL,
	seq           BIGINT NOT NULL,
	url           TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	found_on      TEXT NOT NULL,
	status_code   INTEGER,
	error_text    TEXT,
	PRIMARY KEY (run_id, url)
)`, s.brokenTable),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ArchiveResult writes the run summary and every broken resource in one
// transaction. Re-archiving a run replaces its previous rows.
func (s *ResultStore) ArchiveResult(ctx context.Context, runID string, result crawler.CrawlResult) error {
	if s == nil || s.pool == nil {
		return errors.New("result store is not configured")
	}
	if runID == "" {
		return errors.New("run id is required")
	}
	statsJSON, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	if err := s.writeResult(ctx, tx, runID, result, statsJSON); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

func (s *ResultStore) writeResult(
	ctx context.Context,
	tx pgx.Tx,
	runID string,
	result crawler.CrawlResult,
	statsJSON []byte,
) error {
	runQuery := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	base_url,
	started_at,
	finished_at,
	incomplete,
	total_urls_crawled,
	total_resources,
	broken_resources,
	broken_percentage,
	statistics
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	incomplete = EXCLUDED.incomplete,
	total_urls_crawled = EXCLUDED.total_urls_crawled,
	total_resources = EXCLUDED.total_resources,
	broken_resources = EXCLUDED.broken_resources,
	broken_percentage = EXCLUDED.broken_percentage,
	statistics = EXCLUDED.statistics`, s.runsTable)
	if _, err := tx.Exec(ctx, runQuery,
		runID,
		result.BaseURL,
		result.StartedAt,
		result.FinishedAt,
		result.Incomplete,
		int64(result.Stats.TotalURLsCrawled),
		int64(result.Stats.TotalResources),
		int64(result.Stats.BrokenResources),
		result.Stats.BrokenPercentage,
		statsJSON,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, s.brokenTable)
	if _, err := tx.Exec(ctx, deleteQuery, runID); err != nil {
		return fmt.Errorf("clear broken resources: %w", err)
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	seq,
	url,
	resource_type,
	found_on,
	status_code,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.brokenTable)
	for _, rec := range result.Broken {
		if _, err := tx.Exec(ctx, insertQuery,
			runID,
			rec.Seq,
			rec.URL,
			string(rec.Type),
			rec.FoundOn,
			nullableStatus(rec),
			nullableText(rec.Error),
		); err != nil {
			return fmt.Errorf("insert broken resource %s: %w", rec.URL, err)
		}
	}
	return nil
}

func nullableStatus(rec crawler.ResourceRecord) *int {
	if !rec.HasStatus() {
		return nil
	}
	status := rec.Status
	return &status
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
