package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NoOp discards all metadata. It is the default when no metadata backend is
// configured.
type NoOp struct{}

// SaveArticleTitle does nothing.
func (NoOp) SaveArticleTitle(_ context.Context, _, _ string) error { return nil }

// SaveSectionStructure does nothing.
func (NoOp) SaveSectionStructure(_ context.Context, _ []Section) error { return nil }

// LogFailedLink does nothing.
func (NoOp) LogFailedLink(_ context.Context, _ FailedLink) error { return nil }

// StartRun does nothing.
func (NoOp) StartRun(_ context.Context, _ RunSummary) error { return nil }

// CompleteRun does nothing.
func (NoOp) CompleteRun(_ context.Context, _ uuid.UUID, _ time.Time, _ RunStatus, _ RunCounts, _ *string) error {
	return nil
}

// ListRuns reports no run history.
func (NoOp) ListRuns(_ context.Context, _ int) ([]RunSummary, error) { return nil, nil }
