// Package discover fetches entry-point pages over plain HTTP and extracts
// the candidate links the orchestrator later filters and enqueues.
package discover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Config tunes the link collector.
type Config struct {
	UserAgent string
	// Timeout bounds each entry-point request.
	Timeout time.Duration
	// Delay spaces out requests against the same domain.
	Delay time.Duration
}

// Collector extracts anchor targets from one page at a time.
type Collector struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New constructs a configured Colly-based Collector.
func New(cfg Config, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []colly.CollectorOption{
		colly.Async(true),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = false
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}

	return &Collector{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Links fetches the page and returns every anchor target in document order,
// resolved to absolute form and deduplicated verbatim. Scheme and domain
// filtering is the caller's concern.
func (c *Collector) Links(ctx context.Context, pageURL string) ([]string, error) {
	collector := c.baseCollector.Clone()

	var mu sync.Mutex
	var links []string
	seen := make(map[string]struct{})
	var fetchErr error
	var errOnce sync.Once

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		absolute := e.Request.AbsoluteURL(href)
		if absolute == "" {
			absolute = href
		}
		if absolute == "" {
			return
		}
		mu.Lock()
		if _, ok := seen[absolute]; !ok {
			seen[absolute] = struct{}{}
			links = append(links, absolute)
		}
		mu.Unlock()
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown collector error")
		}
		errOnce.Do(func() {
			if r != nil && r.StatusCode > 0 {
				fetchErr = fmt.Errorf("fetch %s: HTTP %d: %w", pageURL, r.StatusCode, err)
				return
			}
			fetchErr = fmt.Errorf("fetch %s: %w", pageURL, err)
		})
	})

	if err := collector.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("visit %s: %w", pageURL, err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect %s: %w", pageURL, err)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	c.logger.Debug("entry point collected",
		zap.String("url", pageURL),
		zap.Int("links", len(links)))
	return links, nil
}
