package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/failure"
	"github.com/JakeFAU/docs-archiver/internal/metrics"
	"github.com/JakeFAU/docs-archiver/internal/progress"
	"github.com/JakeFAU/docs-archiver/internal/publisher"
	"github.com/JakeFAU/docs-archiver/internal/taskq"
)

const cleanupSaveTimeout = 10 * time.Second

// Run executes a full archiving run: initialize, collect, dispatch every
// planned URL through the queue, wait for settlement, and, when enabled,
// give failed URLs a second pass. Only one run may be active at a time.
func (e *Engine) Run(ctx context.Context) (err error) {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	started := time.Now().UTC()
	if err = e.beginRun(started); err != nil {
		e.running.Store(false)
		return err
	}
	defer func() {
		e.finishRun(ctx, started, err)
		e.running.Store(false)
	}()

	e.Initialize(ctx)

	planned, err := e.CollectURLs(ctx)
	if err != nil {
		return fmt.Errorf("collect urls: %w", err)
	}
	if len(planned) == 0 {
		e.logger.Warn("no urls discovered; nothing to archive")
		return nil
	}

	// Lock in discovery-order indexes before any task can run.
	for _, p := range planned {
		e.state.EnsureIndex(p.URL)
	}
	for _, p := range planned {
		e.enqueuePage(p, false)
	}
	e.observeQueueDepth()

	if err = e.queue.WaitForIdle(ctx); err != nil {
		return fmt.Errorf("wait for queue: %w", err)
	}

	if e.cfg.RetryFailed {
		if err = e.retryPass(ctx); err != nil {
			return err
		}
	}

	if serr := e.state.Save(ctx, true); serr != nil {
		e.logger.Warn("final state save failed", zap.Error(serr))
	}
	return nil
}

// RetryFailedURLs runs a standalone pass over the failed URLs recorded in
// state. When no plan exists in this process yet, it collects one first so
// sections and admission rules apply. Fails fast while a run is active.
func (e *Engine) RetryFailedURLs(ctx context.Context) (err error) {
	if !e.initialized.Load() {
		return ErrNotInitialized
	}
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	started := time.Now().UTC()
	if err = e.beginRun(started); err != nil {
		e.running.Store(false)
		return err
	}
	defer func() {
		e.finishRun(ctx, started, err)
		e.running.Store(false)
	}()

	e.mu.Lock()
	havePlan := len(e.planSections) > 0
	e.mu.Unlock()
	if !havePlan {
		if _, err = e.CollectURLs(ctx); err != nil {
			return fmt.Errorf("collect urls: %w", err)
		}
	}
	return e.retryPass(ctx)
}

func (e *Engine) beginRun(started time.Time) error {
	runID, err := e.ids.NewRawID()
	if err != nil {
		return fmt.Errorf("assign run id: %w", err)
	}
	e.mu.Lock()
	e.runID = runID
	e.counts = runCounters{}
	e.pendingRetry = make(map[string]struct{})
	e.mu.Unlock()

	e.emitProgress(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    started,
		Stage: progress.StageRunStart,
	})
	e.logger.Info("archiving run started", zap.String("run_id", runID.String()))
	return nil
}

func (e *Engine) finishRun(ctx context.Context, started time.Time, runErr error) {
	counts := e.snapshotCounts()
	dur := time.Since(started)
	runID := e.currentRunID()

	if runErr != nil {
		e.emitProgress(progress.Event{
			RunID:     progress.UUIDToBytes(runID),
			TS:        time.Now().UTC(),
			Stage:     progress.StageRunError,
			Succeeded: counts.succeeded,
			Failed:    counts.failed,
			Skipped:   counts.skipped,
			Note:      runErr.Error(),
			Dur:       dur,
		})
		e.logger.Error("archiving run failed",
			zap.String("run_id", runID.String()),
			zap.Int("succeeded", counts.succeeded),
			zap.Int("failed", counts.failed),
			zap.Int("skipped", counts.skipped),
			zap.Duration("duration", dur),
			zap.Error(runErr))
	} else {
		e.emitProgress(progress.Event{
			RunID:     progress.UUIDToBytes(runID),
			TS:        time.Now().UTC(),
			Stage:     progress.StageRunDone,
			Succeeded: counts.succeeded,
			Failed:    counts.failed,
			Skipped:   counts.skipped,
			Dur:       dur,
		})
		e.logger.Info("archiving run complete",
			zap.String("run_id", runID.String()),
			zap.Int("succeeded", counts.succeeded),
			zap.Int("failed", counts.failed),
			zap.Int("skipped", counts.skipped),
			zap.Duration("duration", dur))
		payload := map[string]any{
			"run_id":      runID.String(),
			"succeeded":   counts.succeeded,
			"failed":      counts.failed,
			"skipped":     counts.skipped,
			"duration_ms": dur.Milliseconds(),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		}
		if _, perr := e.publisher.Publish(ctx, publisher.EventRunCompleted, payload); perr != nil {
			e.logger.Warn("publish run notification failed", zap.Error(perr))
		}
	}
	e.cleanup()
}

// cleanup returns the queue to a clean, resumable state and force-saves.
// It runs on every exit path, so the save uses a detached context.
func (e *Engine) cleanup() {
	e.queue.Pause()
	e.queue.Clear()
	e.queue.Resume()
	e.observeQueueDepth()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupSaveTimeout)
	defer cancel()
	if err := e.state.Save(ctx, true); err != nil {
		e.logger.Warn("cleanup state save failed", zap.Error(err))
	}
}

func (e *Engine) enqueuePage(p PlannedURL, retryPass bool) {
	e.queue.Add(p.URL, func(ctx context.Context) (any, error) {
		err := e.processURL(ctx, p.URL, p.Section, retryPass)
		e.observeQueueDepth()
		return nil, err
	})
}

// retryPass re-dispatches failed URLs that are still in the current plan,
// skipping permanent HTTP failures. Serves both Run's automatic second pass
// and RetryFailedURLs.
func (e *Engine) retryPass(ctx context.Context) error {
	candidates := e.retryCandidates()
	if len(candidates) == 0 {
		e.logger.Info("no failed urls eligible for retry")
		return nil
	}
	e.logger.Info("retrying failed urls", zap.Int("count", len(candidates)))

	items := make([]taskq.BatchItem, 0, len(candidates))
	for _, p := range candidates {
		items = append(items, taskq.BatchItem{
			ID: p.URL,
			Op: func(ctx context.Context) (any, error) {
				return nil, e.processURL(ctx, p.URL, p.Section, true)
			},
		})
	}
	results, err := e.queue.AddBatch(ctx, items)
	if err != nil {
		return fmt.Errorf("retry batch: %w", err)
	}

	stillFailing := 0
	for _, res := range results {
		if res.Err != nil {
			stillFailing++
		}
	}
	e.logger.Info("retry pass complete",
		zap.Int("retried", len(results)),
		zap.Int("still_failing", stillFailing))
	return nil
}

func (e *Engine) retryCandidates() []PlannedURL {
	var out []PlannedURL
	for _, u := range e.state.FailedURLs() {
		section, ok := e.sectionFor(u)
		if !ok {
			// No longer discovered; leave its failure record alone.
			continue
		}
		if msg, ok := e.state.FailureMessage(u); ok {
			if failure.Classify(errors.New(msg)) == failure.PermanentHTTP {
				e.logger.Debug("skipping permanent failure",
					zap.String("url", u), zap.String("reason", msg))
				continue
			}
		}
		out = append(out, PlannedURL{URL: u, Section: section})
	}
	return out
}

func (e *Engine) observeQueueDepth() {
	st := e.queue.Status()
	metrics.SetQueueDepth(st.Pending, st.Running)
}
