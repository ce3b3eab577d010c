package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/docstore"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	docs, err := docstore.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return NewFileStore(docs, zap.NewNop())
}

func TestSaveArticleTitleUpserts(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, fs.SaveArticleTitle(ctx, "https://docs.example.com/intro", "Introduction"))
	require.NoError(t, fs.SaveArticleTitle(ctx, "https://docs.example.com/setup", "Setup"))
	require.NoError(t, fs.SaveArticleTitle(ctx, "https://docs.example.com/intro", "Getting Started"))

	var titles map[string]string
	require.NoError(t, fs.docs.ReadJSON(ctx, titlesDoc, &titles))
	require.Equal(t, map[string]string{
		"https://docs.example.com/intro": "Getting Started",
		"https://docs.example.com/setup": "Setup",
	}, titles)
}

func TestSaveSectionStructureReplaces(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	first := []Section{
		{Name: "guide", RootURL: "https://docs.example.com/guide", URLs: []string{"https://docs.example.com/guide", "https://docs.example.com/guide/install"}},
		{Name: "api", RootURL: "https://docs.example.com/api", URLs: []string{"https://docs.example.com/api"}},
	}
	require.NoError(t, fs.SaveSectionStructure(ctx, first))

	second := first[:1]
	require.NoError(t, fs.SaveSectionStructure(ctx, second))

	var got []Section
	require.NoError(t, fs.docs.ReadJSON(ctx, sectionsDoc, &got))
	require.Equal(t, second, got)
}

func TestLogFailedLinkAppendsInOrder(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	at := time.Now().UTC()
	require.NoError(t, fs.LogFailedLink(ctx, FailedLink{URL: "https://docs.example.com/a", Reason: "net::ERR_CONNECTION_REFUSED", Category: "network", OccurredAt: at}))
	require.NoError(t, fs.LogFailedLink(ctx, FailedLink{URL: "https://docs.example.com/b", Reason: "HTTP 500", Category: "server", OccurredAt: at}))

	var links []FailedLink
	require.NoError(t, fs.docs.ReadJSON(ctx, failedLinksDoc, &links))
	require.Len(t, links, 2)
	require.Equal(t, "https://docs.example.com/a", links[0].URL)
	require.Equal(t, "https://docs.example.com/b", links[1].URL)
	require.Equal(t, "server", links[1].Category)
}

func TestRunLifecycle(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	first := RunSummary{ID: uuid.New(), StartedAt: time.Now().UTC().Add(-time.Minute)}
	second := RunSummary{ID: uuid.New(), StartedAt: time.Now().UTC()}
	require.NoError(t, fs.StartRun(ctx, first))
	require.NoError(t, fs.StartRun(ctx, second))

	runs, err := fs.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, second.ID, runs[0].ID, "newest run listed first")
	require.Equal(t, RunRunning, runs[0].Status)
	require.Nil(t, runs[0].FinishedAt)

	finished := time.Now().UTC()
	counts := RunCounts{Succeeded: 12, Failed: 1, Skipped: 3}
	require.NoError(t, fs.CompleteRun(ctx, first.ID, finished, RunSuccess, counts, nil))

	runs, err = fs.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, second.ID, runs[0].ID)

	runs, err = fs.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	done := runs[1]
	require.Equal(t, first.ID, done.ID)
	require.Equal(t, RunSuccess, done.Status)
	require.Equal(t, counts, done.Counts)
	require.NotNil(t, done.FinishedAt)
	require.WithinDuration(t, finished, *done.FinishedAt, time.Second)
}

func TestCompleteRunRecordsError(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	run := RunSummary{ID: uuid.New(), StartedAt: time.Now().UTC()}
	require.NoError(t, fs.StartRun(ctx, run))

	msg := "browser session lost"
	require.NoError(t, fs.CompleteRun(ctx, run.ID, time.Now().UTC(), RunError, RunCounts{Failed: 4}, &msg))

	runs, err := fs.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunError, runs[0].Status)
	require.NotNil(t, runs[0].ErrorMessage)
	require.Equal(t, msg, *runs[0].ErrorMessage)
}

func TestCompleteRunUnknownID(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, fs.StartRun(ctx, RunSummary{ID: uuid.New(), StartedAt: time.Now().UTC()}))
	err := fs.CompleteRun(ctx, uuid.New(), time.Now().UTC(), RunSuccess, RunCounts{}, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStartRunSameIDRefreshes(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, fs.StartRun(ctx, RunSummary{ID: id, StartedAt: time.Now().UTC().Add(-time.Hour)}))
	msg := "interrupted"
	require.NoError(t, fs.CompleteRun(ctx, id, time.Now().UTC(), RunError, RunCounts{}, &msg))

	restarted := time.Now().UTC()
	require.NoError(t, fs.StartRun(ctx, RunSummary{ID: id, StartedAt: restarted}))

	runs, err := fs.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunRunning, runs[0].Status)
	require.Nil(t, runs[0].FinishedAt)
	require.Nil(t, runs[0].ErrorMessage)
	require.WithinDuration(t, restarted, runs[0].StartedAt, time.Second)
}

func TestListRunsWithoutDocument(t *testing.T) {
	fs := newTestFileStore(t)

	runs, err := fs.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Empty(t, runs)
}
