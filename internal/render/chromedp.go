package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/policy/ratelimit"
)

// networkIdleWindow is how long the network must stay quiet before a
// WaitNetworkIdle navigation is considered settled.
const networkIdleWindow = 500 * time.Millisecond

// Config tunes the shared browser.
type Config struct {
	// MaxTabs caps concurrently open pages. Zero disables the renderer.
	MaxTabs   int
	UserAgent string
	// DomainQPS limits navigations per domain. Zero means unlimited.
	DomainQPS float64
	// ExecPath points at a specific browser binary when set.
	ExecPath string
}

// Chromedp renders pages in one shared headless Chrome process, one tab per
// acquired page.
type Chromedp struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	limiter         *ratelimit.Limiter
}

// NewChromedp launches the browser and verifies it responds.
func NewChromedp(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxTabs <= 0 {
		return nil, ErrRendererDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxTabs),
		limiter:         ratelimit.New(ratelimit.Config{DefaultRPS: cfg.DomainQPS, DefaultBurst: 1}),
	}, nil
}

// Close tears down the browser and allocator contexts.
func (r *Chromedp) Close(_ context.Context) error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// AcquirePage blocks for a free tab slot and opens a fresh tab.
func (r *Chromedp) AcquirePage(ctx context.Context) (Page, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire page slot: %w", ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	p := &tab{
		renderer:  r,
		ctx:       tabCtx,
		cancel:    cancelTab,
		release:   func() { <-r.sem },
		imageReqs: make(map[network.RequestID]string),
	}
	p.listen()
	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable()); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

// tab is one Chrome target plus the network bookkeeping its events feed.
type tab struct {
	renderer *Chromedp
	ctx      context.Context
	cancel   context.CancelFunc
	release  func()

	mu           sync.Mutex
	closed       bool
	status       int
	finalURL     string
	imageReqs    map[network.RequestID]string
	failedImages []string
	inflight     int
	lastActivity time.Time
	domReady     chan struct{}
	loaded       chan struct{}
}

func (p *tab) listen() {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			p.mu.Lock()
			p.inflight++
			p.lastActivity = time.Now()
			if e.Type == network.ResourceTypeImage {
				p.imageReqs[e.RequestID] = e.Request.URL
			}
			p.mu.Unlock()
		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeDocument {
				return
			}
			p.mu.Lock()
			// First document response wins; later ones belong to frames.
			if p.status == 0 {
				p.status = int(e.Response.Status)
				p.finalURL = e.Response.URL
			}
			p.mu.Unlock()
		case *network.EventLoadingFinished:
			p.mu.Lock()
			if p.inflight > 0 {
				p.inflight--
			}
			p.lastActivity = time.Now()
			delete(p.imageReqs, e.RequestID)
			p.mu.Unlock()
		case *network.EventLoadingFailed:
			p.mu.Lock()
			if p.inflight > 0 {
				p.inflight--
			}
			p.lastActivity = time.Now()
			if imgURL, ok := p.imageReqs[e.RequestID]; ok {
				delete(p.imageReqs, e.RequestID)
				if !e.Canceled {
					p.failedImages = append(p.failedImages, imgURL)
					p.renderer.logger.Debug("image failed to load",
						zap.String("image_url", imgURL),
						zap.String("error", e.ErrorText))
				}
			}
			p.mu.Unlock()
		case *page.EventDomContentEventFired:
			p.mu.Lock()
			ch := p.domReady
			p.domReady = nil
			p.mu.Unlock()
			if ch != nil {
				close(ch)
			}
		case *page.EventLoadEventFired:
			p.mu.Lock()
			ch := p.loaded
			p.loaded = nil
			p.mu.Unlock()
			if ch != nil {
				close(ch)
			}
		}
	})
}

// Navigate loads the URL and blocks per the wait strategy. Each call resets
// the tab's response and image bookkeeping.
func (p *tab) Navigate(ctx context.Context, rawURL string, timeout time.Duration, strategy WaitStrategy) error {
	if err := p.renderer.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	p.mu.Lock()
	p.status = 0
	p.finalURL = rawURL
	p.failedImages = nil
	p.imageReqs = make(map[network.RequestID]string)
	p.inflight = 0
	p.lastActivity = time.Now()
	domReady := make(chan struct{})
	loaded := make(chan struct{})
	p.domReady = domReady
	p.loaded = loaded
	p.mu.Unlock()

	navCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	// Issue the navigation without chromedp's built-in load wait so each
	// strategy controls its own blocking.
	err := chromedp.Run(navCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errText, _, navErr := page.Navigate(rawURL).Do(ctx)
		if navErr != nil {
			return navErr
		}
		if errText != "" {
			return errors.New(errText)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	switch strategy {
	case WaitNone:
		return nil
	case WaitDOMContentLoaded:
		return await(navCtx, domReady, "domcontentloaded")
	case WaitLoad:
		return await(navCtx, loaded, "load")
	case WaitNetworkIdle:
		if err := await(navCtx, loaded, "load"); err != nil {
			return err
		}
		return p.awaitNetworkIdle(navCtx)
	default:
		return fmt.Errorf("unknown wait strategy %q", strategy)
	}
}

func await(ctx context.Context, ch <-chan struct{}, event string) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s: %w", event, ctx.Err())
	}
}

func (p *tab) awaitNetworkIdle(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			quiet := p.inflight == 0 && time.Since(p.lastActivity) >= networkIdleWindow
			p.mu.Unlock()
			if quiet {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		}
	}
}

// Evaluate runs the expression with promise resolution; rejections surface
// as errors.
func (p *tab) Evaluate(ctx context.Context, expression string, out any) error {
	return p.run(ctx, "evaluate", chromedp.Evaluate(expression, out,
		func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
			return params.WithAwaitPromise(true)
		}))
}

// HTML returns the serialized document element.
func (p *tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, "read html", chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// PDF prints the current document.
func (p *tab) PDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, "print pdf", chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.PrintToPDF().
			WithLandscape(opts.Landscape).
			WithPrintBackground(opts.PrintBackground)
		if opts.Scale > 0 {
			params = params.WithScale(opts.Scale)
		}
		var printErr error
		buf, _, printErr = params.Do(ctx)
		return printErr
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *tab) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *tab) StatusCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *tab) FinalURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalURL
}

func (p *tab) FailedImages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.failedImages))
	copy(out, p.failedImages)
	return out
}

// Close releases the tab and its slot. Safe to call twice.
func (p *tab) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.release()
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
