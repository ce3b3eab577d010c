// Package store declares interfaces for persisting page metadata and run
// summaries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("metadata record not found")

// RunStatus mirrors the persisted run status field.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunCounts summarizes one run's per-URL outcomes.
type RunCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunSummary models one archiving run.
type RunSummary struct {
	// ID identifies the run.
	ID uuid.UUID `json:"id"`
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time `json:"startedAt"`
	// FinishedAt is nil until the run completes.
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	// Status is running/success/error.
	Status RunStatus `json:"status"`
	// Counts hold the end-of-run tallies.
	Counts RunCounts `json:"counts"`
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// Section records which URLs belong to one entry point's scope, in
// discovery order.
type Section struct {
	Name    string   `json:"name"`
	RootURL string   `json:"rootUrl"`
	URLs    []string `json:"urls"`
}

// FailedLink records one URL the run could not archive.
type FailedLink struct {
	URL        string    `json:"url"`
	Reason     string    `json:"reason"`
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurredAt"`
}

// MetadataRepository persists per-page metadata and run summaries. Successful
// page handling depends on SaveArticleTitle returning without error, so
// implementations must not report success before the write is durable.
type MetadataRepository interface {
	// SaveArticleTitle records the title extracted for a page, replacing any
	// previous value.
	SaveArticleTitle(ctx context.Context, pageURL, title string) error
	// SaveSectionStructure replaces the recorded section hierarchy.
	SaveSectionStructure(ctx context.Context, sections []Section) error
	// LogFailedLink appends a failure record.
	LogFailedLink(ctx context.Context, link FailedLink) error
	// StartRun records a new run in the running state.
	StartRun(ctx context.Context, run RunSummary) error
	// CompleteRun marks the run finished with its final status and counts.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, counts RunCounts, errMsg *string) error
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}
