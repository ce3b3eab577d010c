package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/failure"
	"github.com/JakeFAU/docs-archiver/internal/metrics"
	"github.com/JakeFAU/docs-archiver/internal/progress"
	"github.com/JakeFAU/docs-archiver/internal/publisher"
	"github.com/JakeFAU/docs-archiver/internal/render"
	"github.com/JakeFAU/docs-archiver/internal/retry"
	"github.com/JakeFAU/docs-archiver/internal/storage"
)

// processURL archives a single page: navigate, extract, store artifacts,
// persist metadata, and record the outcome. Already-processed URLs are
// skipped before any navigation happens. The returned error doubles as the
// task result in the queue.
func (e *Engine) processURL(ctx context.Context, pageURL, section string, retryPass bool) error {
	if e.state.IsProcessed(pageURL) {
		e.markPageSkipped(pageURL, section)
		return nil
	}
	started := time.Now()

	page, err := e.renderer.AcquirePage(ctx)
	if err != nil {
		werr := failure.Wrap(failure.RetryableBrowser, "acquire page", pageURL, err)
		e.markPageFailure(ctx, pageURL, section, werr, retryPass, started)
		return werr
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.logger.Warn("release page failed",
				zap.String("url", pageURL), zap.Error(cerr))
		}
	}()

	outcome := e.navigateWithFallback(ctx, page, pageURL)
	if !outcome.ok {
		e.markPageFailure(ctx, pageURL, section, outcome.err, retryPass, started)
		return outcome.err
	}
	e.logger.Debug("navigation complete",
		zap.String("url", pageURL),
		zap.String("strategy", string(outcome.strategy)),
		zap.Int("status", outcome.status))

	if imgs := page.FailedImages(); len(imgs) > 0 {
		e.state.MarkImageLoadFailure(pageURL)
		metrics.ObserveImageLoadFailure()
		e.bus.Emit(EventImageLoadFailure, ImageFailure{URL: pageURL, Images: imgs})
		e.logger.Warn("images failed to load",
			zap.String("url", pageURL), zap.Int("count", len(imgs)))
	}

	var content pageContent
	if err := e.evaluateWithRetry(ctx, page, pageURL, "extract", extractScript, &content); err != nil {
		e.markPageFailure(ctx, pageURL, section, err, retryPass, started)
		return err
	}
	if strings.TrimSpace(content.Markdown) == "" {
		verr := failure.Wrap(failure.PermanentValidation, "extract", pageURL,
			errors.New("page produced no content"))
		e.markPageFailure(ctx, pageURL, section, verr, retryPass, started)
		return verr
	}
	if strings.TrimSpace(content.Title) == "" {
		content.Title = titleFromURL(pageURL)
	}

	if e.cfg.TranslateScript != "" {
		if err := e.evaluateWithRetry(ctx, page, pageURL, "translate", e.cfg.TranslateScript, nil); err != nil {
			e.markPageFailure(ctx, pageURL, section, err, retryPass, started)
			return err
		}
	}

	outputPath, contentHash, err := e.saveArtifacts(ctx, page, pageURL, section, content)
	if err != nil {
		e.markPageFailure(ctx, pageURL, section, err, retryPass, started)
		return err
	}

	if err := e.repo.SaveArticleTitle(ctx, pageURL, content.Title); err != nil {
		werr := fmt.Errorf("persist title for %s: %w", pageURL, err)
		e.markPageFailure(ctx, pageURL, section, werr, retryPass, started)
		return werr
	}

	e.markPageSuccess(ctx, pageURL, section, outputPath, started)
	e.notifyPageArchived(ctx, pageURL, section, content.Title, outputPath, contentHash)
	return nil
}

type navOutcome struct {
	ok       bool
	strategy render.WaitStrategy
	status   int
	err      error
}

// navigateWithFallback walks the wait-strategy ladder from strictest to most
// lenient until one attempt succeeds. An HTTP error status ends the ladder
// immediately since a laxer wait cannot change the response.
func (e *Engine) navigateWithFallback(ctx context.Context, page render.Page, pageURL string) navOutcome {
	var lastErr error
	for _, strategy := range render.FallbackOrder {
		if err := ctx.Err(); err != nil {
			return navOutcome{err: err}
		}
		err := page.Navigate(ctx, pageURL, e.cfg.NavTimeout, strategy)
		if err == nil {
			if status := page.StatusCode(); status >= 400 {
				return navOutcome{status: status, err: failure.FromStatus("navigate", pageURL, status)}
			}
			return navOutcome{ok: true, strategy: strategy, status: page.StatusCode()}
		}
		lastErr = err
		e.logger.Debug("navigation wait failed",
			zap.String("url", pageURL),
			zap.String("strategy", string(strategy)),
			zap.Error(err))
	}
	return navOutcome{err: fmt.Errorf("navigate %s: all wait strategies failed: %w", pageURL, lastErr)}
}

// evaluateWithRetry runs script in the page and sorts failures by category:
// ignorable ones are logged and dropped, retryable ones re-run on that
// category's schedule, everything else surfaces to the caller.
func (e *Engine) evaluateWithRetry(ctx context.Context, page render.Page, pageURL, op, script string, out any) error {
	err := page.Evaluate(ctx, script, out)
	if err == nil {
		return nil
	}
	cat := failure.Classify(err)
	if failure.IsIgnorable(cat) {
		e.logger.Debug("ignorable script error discarded",
			zap.String("url", pageURL),
			zap.String("op", op),
			zap.Error(err))
		return nil
	}
	if !failure.IsRetryable(cat) {
		return failure.Wrap(cat, op, pageURL, err)
	}

	opts := retry.FromPolicy(failure.PolicyFor(cat), retry.JitterFull)
	opts.MaxAttempts-- // the probe above spent the first attempt
	if opts.MaxAttempts < 1 {
		return failure.Wrap(cat, op, pageURL, err)
	}
	opts.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.ObserveRetry(string(cat))
		e.logger.Warn("retrying page script",
			zap.String("url", pageURL),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	_, rerr := retry.Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, page.Evaluate(ctx, script, out)
	})
	if rerr != nil {
		return failure.Wrap(cat, op, pageURL, rerr)
	}
	return nil
}

// saveArtifacts writes the selected artifact formats and reports the page's
// output path, preferring the markdown URI when both formats are enabled.
// Both artifacts share one content hash derived from the markdown body.
func (e *Engine) saveArtifacts(ctx context.Context, page render.Page, pageURL, section string, content pageContent) (string, string, error) {
	body := fmt.Sprintf("<!-- source: %s -->\n\n%s\n", pageURL, content.Markdown)
	data := []byte(body)
	contentHash, err := e.hasher.Hash(data)
	if err != nil {
		return "", "", fmt.Errorf("hash content for %s: %w", pageURL, err)
	}

	var outputPath string
	if e.cfg.MarkdownArtifacts {
		uri, err := e.artifacts.Save(ctx, e.objectName(section, contentHash, "md"), storage.ContentTypeMarkdown, data)
		if err != nil {
			return "", "", fmt.Errorf("save markdown for %s: %w", pageURL, err)
		}
		metrics.ObserveArtifact("markdown")
		outputPath = uri
	}
	if e.cfg.PDFArtifacts {
		pdf, err := page.PDF(ctx, e.cfg.PDFOptions)
		if err != nil {
			return "", "", fmt.Errorf("render pdf for %s: %w", pageURL, err)
		}
		uri, err := e.artifacts.Save(ctx, e.objectName(section, contentHash, "pdf"), storage.ContentTypePDF, pdf)
		if err != nil {
			return "", "", fmt.Errorf("save pdf for %s: %w", pageURL, err)
		}
		metrics.ObserveArtifact("pdf")
		if outputPath == "" {
			outputPath = uri
		}
	}
	return outputPath, contentHash, nil
}

func (e *Engine) markPageSuccess(ctx context.Context, pageURL, section, outputPath string, started time.Time) {
	e.resolvePending(pageURL)
	e.state.MarkProcessed(pageURL, outputPath)
	if err := e.state.Save(ctx, false); err != nil {
		e.logger.Warn("state save failed", zap.Error(err))
	}

	e.mu.Lock()
	e.counts.succeeded++
	e.mu.Unlock()

	index, _ := e.state.Index(pageURL)
	dur := time.Since(started)
	scraped := PageScraped{URL: pageURL, Index: index, OutputPath: outputPath}
	e.bus.Emit(EventPageScraped, scraped)
	e.bus.Emit(EventURLProcessed, scraped)
	e.emitProgress(progress.Event{
		RunID:      progress.UUIDToBytes(e.currentRunID()),
		TS:         time.Now().UTC(),
		Stage:      progress.StagePageDone,
		URL:        pageURL,
		Section:    section,
		OutputPath: outputPath,
		Dur:        dur,
	})
	metrics.ObservePage(pageURL, "success")
	metrics.ObserveTaskDuration("success", dur)
	e.logger.Info("page archived",
		zap.String("url", pageURL),
		zap.String("section", section),
		zap.String("output", outputPath),
		zap.Duration("duration", dur))
}

// markPageFailure records a failed page. On the first pass with retries
// enabled the URL parks in the pending-retry set instead of counting as
// failed; terminal metrics are deferred until the outcome is final.
func (e *Engine) markPageFailure(ctx context.Context, pageURL, section string, cause error, retryPass bool, started time.Time) {
	cat := failure.Classify(cause)
	e.state.MarkFailed(pageURL, cause)
	if err := e.state.Save(ctx, false); err != nil {
		e.logger.Warn("state save failed", zap.Error(err))
	}

	pending := !retryPass && e.cfg.RetryFailed && cat != failure.PermanentHTTP
	e.mu.Lock()
	if pending {
		e.pendingRetry[pageURL] = struct{}{}
	} else {
		delete(e.pendingRetry, pageURL)
		e.counts.failed++
	}
	e.mu.Unlock()

	dur := time.Since(started)
	e.bus.Emit(EventURLFailed, URLFailure{
		URL:      pageURL,
		Section:  section,
		Category: string(cat),
		Reason:   cause.Error(),
	})
	e.emitProgress(progress.Event{
		RunID:    progress.UUIDToBytes(e.currentRunID()),
		TS:       time.Now().UTC(),
		Stage:    progress.StagePageFail,
		URL:      pageURL,
		Section:  section,
		Category: string(cat),
		Note:     cause.Error(),
		Dur:      dur,
	})
	if !pending {
		metrics.ObservePage(pageURL, "failed")
		metrics.ObserveTaskDuration("failed", dur)
	}
	e.logger.Warn("page failed",
		zap.String("url", pageURL),
		zap.String("section", section),
		zap.String("category", string(cat)),
		zap.Bool("will_retry", pending),
		zap.Error(cause))
}

func (e *Engine) markPageSkipped(pageURL, section string) {
	e.mu.Lock()
	e.counts.skipped++
	e.mu.Unlock()

	e.bus.Emit(EventURLSkipped, pageURL)
	e.emitProgress(progress.Event{
		RunID:   progress.UUIDToBytes(e.currentRunID()),
		TS:      time.Now().UTC(),
		Stage:   progress.StagePageSkip,
		URL:     pageURL,
		Section: section,
	})
	metrics.ObservePage(pageURL, "skipped")
	e.logger.Debug("page already archived", zap.String("url", pageURL))
}

func (e *Engine) resolvePending(pageURL string) {
	e.mu.Lock()
	delete(e.pendingRetry, pageURL)
	e.mu.Unlock()
}

func (e *Engine) notifyPageArchived(ctx context.Context, pageURL, section, title, outputPath, contentHash string) {
	index, _ := e.state.Index(pageURL)
	payload := map[string]any{
		"run_id":    e.currentRunID().String(),
		"url":       pageURL,
		"section":   section,
		"title":     title,
		"output":    outputPath,
		"hash":      contentHash,
		"index":     index,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := e.publisher.Publish(ctx, publisher.EventPageArchived, payload); err != nil {
		e.logger.Warn("publish page notification failed",
			zap.String("url", pageURL), zap.Error(err))
	}
}

// objectName builds "prefix/section-slug/hash.ext" for the artifact store.
func (e *Engine) objectName(section, contentHash, ext string) string {
	name := fmt.Sprintf("%s/%s.%s", sectionSlug(section), contentHash, ext)
	if prefix := strings.Trim(e.cfg.ObjectPrefix, "/"); prefix != "" {
		name = prefix + "/" + name
	}
	return name
}

func sectionSlug(section string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(section)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "unsorted"
	}
	return slug
}

// titleFromURL derives a readable fallback title from the last path segment.
func titleFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	seg = strings.TrimSuffix(seg, path.Ext(seg))
	seg = strings.ReplaceAll(seg, "-", " ")
	seg = strings.ReplaceAll(seg, "_", " ")
	seg = strings.TrimSpace(seg)
	if seg == "" || seg == "." || seg == "/" {
		if u.Host != "" {
			return u.Host
		}
		return pageURL
	}
	return seg
}
