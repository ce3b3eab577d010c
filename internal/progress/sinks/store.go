package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/progress"
	"github.com/JakeFAU/docs-archiver/internal/store"
)

// StoreSink persists run lifecycle transitions and failed links via a
// store.MetadataRepository. Article titles are written synchronously by the
// crawl engine because page success depends on them; everything here is
// best-effort telemetry.
type StoreSink struct {
	repo   store.MetadataRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.MetadataRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run transitions and failed links to the repository. It
// respects ctx deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageRunStart:
		run := store.RunSummary{ID: runID, StartedAt: evt.TS}
		if err := s.repo.StartRun(ctx, run); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		counts := store.RunCounts{Succeeded: evt.Succeeded, Failed: evt.Failed, Skipped: evt.Skipped}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, counts, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		counts := store.RunCounts{Succeeded: evt.Succeeded, Failed: evt.Failed, Skipped: evt.Skipped}
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, counts, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StagePageFail:
		link := store.FailedLink{
			URL:        evt.URL,
			Reason:     evt.Note,
			Category:   evt.Category,
			OccurredAt: evt.TS,
		}
		if err := s.repo.LogFailedLink(ctx, link); err != nil {
			return fmt.Errorf("log failed link: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
