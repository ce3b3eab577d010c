package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-archiver/internal/failure"
	"github.com/JakeFAU/docs-archiver/internal/progress"
	"github.com/JakeFAU/docs-archiver/internal/render"
)

func acquireFakePage(t *testing.T, h *engineHarness) *fakePage {
	t.Helper()
	page, err := h.renderer.AcquirePage(context.Background())
	require.NoError(t, err)
	return page.(*fakePage)
}

func TestNavigateWithFallbackRelaxesStrategy(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.renderer.set(guideRoot, &pageBehavior{succeedOn: render.WaitDOMContentLoaded})
	page := acquireFakePage(t, h)

	outcome := h.engine.navigateWithFallback(context.Background(), page, guideRoot)

	require.True(t, outcome.ok)
	require.Equal(t, render.WaitDOMContentLoaded, outcome.strategy)
	require.Equal(t, []render.WaitStrategy{
		render.WaitNetworkIdle,
		render.WaitLoad,
		render.WaitDOMContentLoaded,
	}, page.attempts)
}

func TestNavigateWithFallbackExhaustsLadder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.renderer.set(guideRoot, &pageBehavior{failNavs: -1, navErr: "net::ERR_INTERNET_DISCONNECTED"})
	page := acquireFakePage(t, h)

	outcome := h.engine.navigateWithFallback(context.Background(), page, guideRoot)

	require.False(t, outcome.ok)
	require.ErrorContains(t, outcome.err, "all wait strategies failed")
	require.Len(t, page.attempts, len(render.FallbackOrder))
	require.Equal(t, failure.RetryableNetwork, failure.Classify(outcome.err))
}

func TestNavigateWithFallbackStopsOnHTTPError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.renderer.set(guideRoot, &pageBehavior{status: 404})
	page := acquireFakePage(t, h)

	outcome := h.engine.navigateWithFallback(context.Background(), page, guideRoot)

	require.False(t, outcome.ok)
	var fe *failure.Error
	require.ErrorAs(t, outcome.err, &fe)
	require.Equal(t, failure.PermanentHTTP, fe.Kind)
	require.Equal(t, 404, fe.Status)
	// A laxer wait cannot change the response, so the ladder stops here.
	require.Len(t, page.attempts, 1)
}

func TestEvaluateWithRetrySurfacesPermanentErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.renderer.set(guideRoot, &pageBehavior{evalErr: errors.New("missing required content container")})
	page := acquireFakePage(t, h)
	require.NoError(t, page.Navigate(context.Background(), guideRoot, time.Second, render.WaitNone))

	var content pageContent
	err := h.engine.evaluateWithRetry(context.Background(), page, guideRoot, "extract", extractScript, &content)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, failure.PermanentValidation, fe.Kind)
	require.Equal(t, 1, page.evalCalls)
}

func TestEvaluateWithRetryDiscardsIgnorableErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	h.renderer.set(guideRoot, &pageBehavior{evalErr: errors.New("Script error.")})
	page := acquireFakePage(t, h)
	require.NoError(t, page.Navigate(context.Background(), guideRoot, time.Second, render.WaitNone))

	var content pageContent
	err := h.engine.evaluateWithRetry(context.Background(), page, guideRoot, "extract", extractScript, &content)

	require.NoError(t, err)
	require.Zero(t, content)
	require.Equal(t, 1, page.evalCalls)
}

func TestRunFailsPageWhenPDFRenderingFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{cfg: Config{
		EntryPoints:       []EntryPoint{{URL: guideRoot, Section: "Guide"}},
		MarkdownArtifacts: true,
		PDFArtifacts:      true,
	}})
	h.renderer.set(guideRoot, &pageBehavior{pdfErr: errors.New("target crashed")})

	require.NoError(t, h.engine.Run(context.Background()))

	stats := h.state.Stats()
	require.Equal(t, 0, stats.Processed)
	require.Equal(t, 1, stats.Failed)

	msg, ok := h.state.FailureMessage(guideRoot)
	require.True(t, ok)
	require.Contains(t, msg, "render pdf")

	fails := h.progress.byStage(progress.StagePageFail)
	require.Len(t, fails, 1)
	require.Equal(t, "RETRYABLE_BROWSER", fails[0].Category)
}

func TestRunFailsPageWhenBrowserIsGone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{cfg: Config{
		EntryPoints:       []EntryPoint{{URL: guideRoot, Section: "Guide"}},
		MarkdownArtifacts: true,
	}})
	h.renderer.acquireErr = errors.New("browser has disconnected")

	require.NoError(t, h.engine.Run(context.Background()))

	require.Equal(t, 1, h.state.Stats().Failed)
	fails := h.progress.byStage(progress.StagePageFail)
	require.Len(t, fails, 1)
	require.Equal(t, "RETRYABLE_BROWSER", fails[0].Category)
}

func TestSectionSlug(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Guide":            "guide",
		"Getting Started!": "getting-started",
		"API / Reference":  "api-reference",
		"a  b":             "a-b",
		"":                 "unsorted",
		"--":               "unsorted",
	}
	for in, want := range cases {
		require.Equal(t, want, sectionSlug(in), "slug of %q", in)
	}
}

func TestTitleFromURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://docs.example.com/guide/getting-started.html": "getting started",
		"https://docs.example.com/guide/api_reference/":       "api reference",
		"https://docs.example.com/":                           "docs.example.com",
		"::bad::":                                             "::bad::",
	}
	for in, want := range cases {
		require.Equal(t, want, titleFromURL(in), "title of %q", in)
	}
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	prefixed := newHarness(t, harnessOpts{cfg: Config{ObjectPrefix: "/archive/"}})
	require.Equal(t, "archive/guide/abc123.md", prefixed.engine.objectName("Guide", "abc123", "md"))

	bare := newHarness(t, harnessOpts{})
	require.Equal(t, "guide/abc123.pdf", bare.engine.objectName("Guide", "abc123", "pdf"))
}
