package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcrawler/internal/progress"
	"github.com/JakeFAU/linkcrawler/internal/store"
)

// StoreSink folds page and broken-resource events into per-run progress
// deltas and forwards one AddProgress call per run per batch.
type StoreSink struct {
	recorder store.ProgressRecorder
	logger   *zap.Logger
}

// NewStoreSink constructs a StoreSink for recorder.
func NewStoreSink(recorder store.ProgressRecorder, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{recorder: recorder, logger: logger}
}

// Consume aggregates the batch and writes the deltas. Unknown runs are
// skipped; other recorder errors are returned.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	deltas := make(map[string]*store.Progress)
	order := make([]string, 0)
	for _, evt := range batch {
		if evt.Stage != progress.StagePageDone && evt.Stage != progress.StageBroken {
			continue
		}
		id := evt.CrawlUUID().String()
		delta, ok := deltas[id]
		if !ok {
			delta = &store.Progress{}
			deltas[id] = delta
			order = append(order, id)
		}
		switch evt.Stage {
		case progress.StagePageDone:
			delta.PagesCrawled++
			delta.BytesFetched += evt.Bytes
		case progress.StageBroken:
			delta.BrokenFound++
		}
		if evt.TS.After(delta.LastUpdate) {
			delta.LastUpdate = evt.TS
		}
	}
	for _, id := range order {
		err := s.recorder.AddProgress(ctx, id, *deltas[id])
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			s.logger.Debug("progress for unknown run", zap.String("run_id", id))
		default:
			return fmt.Errorf("add progress: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
