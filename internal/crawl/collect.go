package crawl

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/policy"
	"github.com/JakeFAU/docs-archiver/internal/store"
)

// PlannedURL pairs a crawlable URL with the section it was discovered under.
type PlannedURL struct {
	URL     string
	Section string
}

// CollectURLs visits every configured entry point and assembles the run
// plan: each entry point's own URL followed by its admitted links, globally
// deduplicated by normalized URL. Links that resolve to another configured
// entry point are dropped so each section keeps its own root. The section
// structure is persisted and the state total updated before returning.
//
// An entry point whose discovery fails is logged and skipped; the remaining
// entry points still contribute.
func (e *Engine) CollectURLs(ctx context.Context) ([]PlannedURL, error) {
	if !e.initialized.Load() {
		return nil, ErrNotInitialized
	}

	seen := make(map[string]struct{})
	sectionByNorm := make(map[string]string)
	var planned []PlannedURL
	var sections []store.Section
	duplicates := 0

	for i, entry := range e.cfg.EntryPoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		links, err := e.collector.Links(ctx, entry.URL)
		if err != nil {
			e.logger.Warn("entry point discovery failed",
				zap.String("url", entry.URL),
				zap.String("section", entry.Section),
				zap.Error(err))
			continue
		}

		section := store.Section{Name: entry.Section, RootURL: entry.URL}
		candidates := make([]string, 0, len(links)+1)
		candidates = append(candidates, entry.URL)
		candidates = append(candidates, links...)

		for _, link := range candidates {
			if !e.admission.Admit(link) {
				continue
			}
			if e.pointsAtOtherEntry(link, i) {
				continue
			}
			norm, err := policy.NormalizeURL(link)
			if err != nil {
				e.logger.Debug("unparseable link dropped",
					zap.String("link", link), zap.Error(err))
				continue
			}
			if _, dup := seen[norm]; dup {
				duplicates++
				continue
			}
			seen[norm] = struct{}{}
			sectionByNorm[norm] = entry.Section
			planned = append(planned, PlannedURL{URL: link, Section: entry.Section})
			section.URLs = append(section.URLs, link)
		}
		sections = append(sections, section)
	}

	if len(sections) > 0 {
		if err := e.repo.SaveSectionStructure(ctx, sections); err != nil {
			e.logger.Warn("persist section structure failed", zap.Error(err))
		}
	}

	e.mu.Lock()
	e.plan = planned
	e.planSections = sectionByNorm
	e.mu.Unlock()

	e.state.SetTotal(len(planned))
	e.bus.Emit(EventURLsCollected, URLsCollected{
		TotalURLs:  len(planned),
		Duplicates: duplicates,
		Sections:   len(sections),
	})
	e.logger.Info("url collection complete",
		zap.Int("total_urls", len(planned)),
		zap.Int("duplicates", duplicates),
		zap.Int("sections", len(sections)))
	return planned, nil
}

// pointsAtOtherEntry reports whether link resolves to a configured entry
// point other than the one at index self, ignoring query and fragment.
func (e *Engine) pointsAtOtherEntry(link string, self int) bool {
	for i, entry := range e.cfg.EntryPoints {
		if i == self {
			continue
		}
		if policy.SameResource(link, entry.URL) {
			return true
		}
	}
	return false
}
