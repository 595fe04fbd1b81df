// Package memory keeps crawl runs and report artifacts in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
	"github.com/JakeFAU/linkcrawler/internal/store"
)

// RunStore keeps crawl runs in memory for development and single-node use.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]store.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]store.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run; the ID must be unused.
func (s *RunStore) CreateRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrExists)
	}
	if run.Status == "" {
		run.Status = store.RunQueued
	}
	s.runs[run.ID] = run
	return nil
}

// MarkRunning moves a queued run to running.
func (s *RunStore) MarkRunning(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	run.Status = store.RunRunning
	if run.StartedAt == nil {
		run.StartedAt = pointerTime(at)
	}
	s.runs[id] = run
	return nil
}

// CompleteRun records the terminal state of a run.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id string,
	status store.RunStatus,
	result *crawler.CrawlResult,
	reportURI string,
	errText string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("complete run %s: status %q is not terminal", id, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	run.Status = status
	run.Result = result
	run.ReportURI = reportURI
	run.ErrorText = errText
	run.FinishedAt = pointerTime(s.now())
	s.runs[id] = run
	return nil
}

// AddProgress folds a progress delta into the run.
func (s *RunStore) AddProgress(_ context.Context, id string, delta store.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	run.Progress.PagesCrawled += delta.PagesCrawled
	run.Progress.BytesFetched += delta.BytesFetched
	run.Progress.BrokenFound += delta.BrokenFound
	if delta.LastUpdate.After(run.Progress.LastUpdate) {
		run.Progress.LastUpdate = delta.LastUpdate
	}
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return run, nil
}

// ListRuns returns all runs, newest submission first.
func (s *RunStore) ListRuns(_ context.Context) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
