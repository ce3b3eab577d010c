package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/docstore"
)

// Document names under the docstore directory.
const (
	titlesDoc      = "titles.json"
	sectionsDoc    = "sections.json"
	failedLinksDoc = "failed-links.json"
	runsDoc        = "runs.json"
)

// FileStore persists metadata as JSON documents next to the crawl state.
// Whole read-modify-write cycles run under the docstore's per-document lock.
type FileStore struct {
	docs   *docstore.Store
	logger *zap.Logger
}

// NewFileStore returns a repository backed by docs.
func NewFileStore(docs *docstore.Store, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{docs: docs, logger: logger}
}

// SaveArticleTitle records the title extracted for a page, replacing any
// previous value.
func (f *FileStore) SaveArticleTitle(ctx context.Context, pageURL, title string) error {
	err := f.docs.Update(ctx, titlesDoc, func(raw []byte) (any, error) {
		titles := make(map[string]string)
		if raw != nil {
			if err := json.Unmarshal(raw, &titles); err != nil {
				return nil, fmt.Errorf("decode titles: %w", err)
			}
		}
		titles[pageURL] = title
		return titles, nil
	})
	if err != nil {
		return fmt.Errorf("save article title: %w", err)
	}
	return nil
}

// SaveSectionStructure replaces the recorded section hierarchy.
func (f *FileStore) SaveSectionStructure(ctx context.Context, sections []Section) error {
	if sections == nil {
		sections = []Section{}
	}
	if err := f.docs.WriteJSON(ctx, sectionsDoc, sections); err != nil {
		return fmt.Errorf("save section structure: %w", err)
	}
	f.logger.Debug("section structure saved", zap.Int("sections", len(sections)))
	return nil
}

// LogFailedLink appends a failure record.
func (f *FileStore) LogFailedLink(ctx context.Context, link FailedLink) error {
	err := f.docs.Update(ctx, failedLinksDoc, func(raw []byte) (any, error) {
		var links []FailedLink
		if raw != nil {
			if err := json.Unmarshal(raw, &links); err != nil {
				return nil, fmt.Errorf("decode failed links: %w", err)
			}
		}
		return append(links, link), nil
	})
	if err != nil {
		return fmt.Errorf("log failed link: %w", err)
	}
	return nil
}

// StartRun records a new run in the running state. Restarting a known run ID
// refreshes its start time instead of duplicating the entry.
func (f *FileStore) StartRun(ctx context.Context, run RunSummary) error {
	run.Status = RunRunning
	run.FinishedAt = nil
	err := f.docs.Update(ctx, runsDoc, func(raw []byte) (any, error) {
		runs, err := decodeRuns(raw)
		if err != nil {
			return nil, err
		}
		for i := range runs {
			if runs[i].ID == run.ID {
				runs[i] = run
				return runs, nil
			}
		}
		return append(runs, run), nil
	})
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with its final status and counts. It
// returns ErrNotFound when the run was never started.
func (f *FileStore) CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, counts RunCounts, errMsg *string) error {
	err := f.docs.Update(ctx, runsDoc, func(raw []byte) (any, error) {
		runs, err := decodeRuns(raw)
		if err != nil {
			return nil, err
		}
		for i := range runs {
			if runs[i].ID == runID {
				runs[i].FinishedAt = &finishedAt
				runs[i].Status = status
				runs[i].Counts = counts
				runs[i].ErrorMessage = errMsg
				return runs, nil
			}
		}
		return nil, ErrNotFound
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns everything.
func (f *FileStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	var runs []RunSummary
	if err := f.docs.ReadJSON(ctx, runsDoc, &runs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	// Runs are appended in start order, so newest sit at the tail.
	out := make([]RunSummary, 0, limit)
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func decodeRuns(raw []byte) ([]RunSummary, error) {
	if raw == nil {
		return nil, nil
	}
	var runs []RunSummary
	if err := json.Unmarshal(raw, &runs); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	return runs, nil
}
