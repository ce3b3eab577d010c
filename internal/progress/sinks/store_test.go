package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-archiver/internal/progress"
	"github.com/JakeFAU/docs-archiver/internal/store"
)

// TestStoreSinkPersistsEvents ensures run transitions and failed links reach the repository.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeMetadataRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{
			RunID:    runID,
			Stage:    progress.StagePageFail,
			URL:      "https://docs.example.com/broken",
			Section:  "guide",
			Category: "server",
			Note:     "HTTP 503",
			TS:       now.Add(1 * time.Second),
		},
		{
			RunID:      runID,
			Stage:      progress.StagePageDone,
			URL:        "https://docs.example.com/intro",
			OutputPath: "file:///data/docs/000-intro.md",
			TS:         now.Add(2 * time.Second),
		},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(3 * time.Second), Succeeded: 1, Failed: 1, Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Equal(t, runUUID, repo.starts[0].ID)

	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunSuccess, repo.completes[0].status)
	require.Equal(t, store.RunCounts{Succeeded: 1, Failed: 1}, repo.completes[0].counts)

	require.Len(t, repo.failedLinks, 1)
	require.Equal(t, "https://docs.example.com/broken", repo.failedLinks[0].URL)
	require.Equal(t, "server", repo.failedLinks[0].Category)
	require.Equal(t, "HTTP 503", repo.failedLinks[0].Reason)
}

// TestStoreSinkRecordsRunError forwards the note as the error message.
func TestStoreSinkRecordsRunError(t *testing.T) {
	t.Parallel()

	repo := &fakeMetadataRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunError, TS: time.Now(), Failed: 4, Note: "browser session lost"},
	}))

	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunError, repo.completes[0].status)
	require.NotNil(t, repo.completes[0].errMsg)
	require.Equal(t, "browser session lost", *repo.completes[0].errMsg)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeMetadataRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)
}

type fakeMetadataRepo struct {
	fail        bool
	starts      []store.RunSummary
	completes   []completeCall
	failedLinks []store.FailedLink
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	counts store.RunCounts
	errMsg *string
}

func (f *fakeMetadataRepo) SaveArticleTitle(context.Context, string, string) error {
	return assertErr("title")
}

func (f *fakeMetadataRepo) SaveSectionStructure(context.Context, []store.Section) error {
	return assertErr("sections")
}

func (f *fakeMetadataRepo) LogFailedLink(_ context.Context, link store.FailedLink) error {
	if f.fail {
		return assertErr("failed link")
	}
	f.failedLinks = append(f.failedLinks, link)
	return nil
}

func (f *fakeMetadataRepo) StartRun(_ context.Context, run store.RunSummary) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, run)
	return nil
}

func (f *fakeMetadataRepo) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	counts store.RunCounts,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status, counts: counts, errMsg: errMsg})
	return nil
}

func (f *fakeMetadataRepo) ListRuns(context.Context, int) ([]store.RunSummary, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
