package crawl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-archiver/internal/events"
	"github.com/JakeFAU/docs-archiver/internal/policy"
	"github.com/JakeFAU/docs-archiver/internal/store"
)

func TestCollectURLsFiltersAndDeduplicates(t *testing.T) {
	t.Parallel()

	apiRoot := "https://docs.example.com/guide/api"
	authURL := "https://docs.example.com/guide/api/auth"

	adm, err := policy.New(policy.Config{
		AllowedDomains:     []string{"docs.example.com"},
		BasePath:           "/guide",
		IgnoredURLPatterns: []string{`\.pdf$`},
	})
	require.NoError(t, err)

	h := newHarness(t, harnessOpts{
		cfg: Config{
			EntryPoints: []EntryPoint{
				{URL: guideRoot, Section: "Guide"},
				{URL: apiRoot, Section: "API"},
			},
			MarkdownArtifacts: true,
		},
		admission: adm,
	})
	// One keeper, then: a fragment duplicate, a foreign host, a link outside
	// the base path, a non-crawlable scheme, another entry point in disguise,
	// and an ignored pattern.
	h.collector.links[guideRoot] = []string{
		installURL,
		installURL + "#setup",
		"https://other.example.com/guide/external",
		"https://docs.example.com/changelog",
		"mailto:docs@example.com",
		apiRoot + "?utm_source=nav",
		"https://docs.example.com/guide/manual.pdf",
	}
	h.collector.links[apiRoot] = []string{
		authURL,
		installURL, // already discovered under Guide
	}

	var collected []URLsCollected
	h.bus.Subscribe(EventURLsCollected, func(evt events.Event) {
		if payload, ok := evt.Payload.(URLsCollected); ok {
			collected = append(collected, payload)
		}
	})

	h.engine.Initialize(context.Background())
	planned, err := h.engine.CollectURLs(context.Background())
	require.NoError(t, err)

	require.Equal(t, []PlannedURL{
		{URL: guideRoot, Section: "Guide"},
		{URL: installURL, Section: "Guide"},
		{URL: apiRoot, Section: "API"},
		{URL: authURL, Section: "API"},
	}, planned)

	require.Len(t, collected, 1)
	require.Equal(t, URLsCollected{TotalURLs: 4, Duplicates: 2, Sections: 2}, collected[0])
	require.Equal(t, 4, h.state.Stats().Total)

	require.Equal(t, []store.Section{
		{Name: "Guide", RootURL: guideRoot, URLs: []string{guideRoot, installURL}},
		{Name: "API", RootURL: apiRoot, URLs: []string{apiRoot, authURL}},
	}, h.repo.Sections())
}

func TestCollectURLsSkipsFailingEntryPoint(t *testing.T) {
	t.Parallel()

	apiRoot := "https://docs.example.com/api"

	h := newHarness(t, harnessOpts{cfg: Config{
		EntryPoints: []EntryPoint{
			{URL: guideRoot, Section: "Guide"},
			{URL: apiRoot, Section: "API"},
		},
		MarkdownArtifacts: true,
	}})
	h.collector.links[guideRoot] = []string{installURL}
	h.collector.errs[apiRoot] = errors.New("visit " + apiRoot + ": context deadline exceeded")

	h.engine.Initialize(context.Background())
	planned, err := h.engine.CollectURLs(context.Background())
	require.NoError(t, err)

	require.Equal(t, []PlannedURL{
		{URL: guideRoot, Section: "Guide"},
		{URL: installURL, Section: "Guide"},
	}, planned)

	sections := h.repo.Sections()
	require.Len(t, sections, 1)
	require.Equal(t, "Guide", sections[0].Name)
}

func TestCollectURLsHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{cfg: Config{
		EntryPoints:       []EntryPoint{{URL: guideRoot, Section: "Guide"}},
		MarkdownArtifacts: true,
	}})

	h.engine.Initialize(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine.CollectURLs(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
