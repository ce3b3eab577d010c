// Package render drives a headless browser to load documentation pages,
// run extraction scripts in them, and print them to PDF.
package render

import (
	"context"
	"errors"
	"time"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// WaitStrategy selects how long Navigate blocks after the document request.
type WaitStrategy string

const (
	// WaitNetworkIdle waits for the load event and then for the network to
	// go quiet.
	WaitNetworkIdle WaitStrategy = "networkidle"
	// WaitLoad waits for the window load event.
	WaitLoad WaitStrategy = "load"
	// WaitDOMContentLoaded waits only for the DOM to be parsed.
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	// WaitNone returns as soon as navigation is accepted.
	WaitNone WaitStrategy = "none"
)

// FallbackOrder is the sequence of increasingly lenient strategies used when
// a stricter wait keeps timing out.
var FallbackOrder = []WaitStrategy{WaitNetworkIdle, WaitLoad, WaitDOMContentLoaded, WaitNone}

// PDFOptions control artifact printing.
type PDFOptions struct {
	Landscape       bool
	PrintBackground bool
	// Scale of 0 means the browser default.
	Scale float64
}

// Renderer hands out isolated pages backed by a shared browser.
type Renderer interface {
	// AcquirePage blocks until a page slot is free.
	AcquirePage(ctx context.Context) (Page, error)
	// Close tears down the browser. No pages may be used afterwards.
	Close(ctx context.Context) error
}

// Page is a single browser tab. Pages are not safe for concurrent use.
type Page interface {
	// Navigate loads the URL and blocks per the wait strategy.
	Navigate(ctx context.Context, url string, timeout time.Duration, strategy WaitStrategy) error
	// Evaluate runs a JavaScript expression, awaiting promises, and decodes
	// the result into out when out is non-nil.
	Evaluate(ctx context.Context, expression string, out any) error
	// HTML returns the current serialized document.
	HTML(ctx context.Context) (string, error)
	// PDF prints the current document.
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	// StatusCode reports the main document response status of the last
	// navigation, or 0 if none was observed.
	StatusCode() int
	// FinalURL reports where the last navigation landed after redirects.
	FinalURL() string
	// FailedImages lists image URLs that failed to load since the last
	// navigation.
	FailedImages() []string
	// Close releases the tab and its slot.
	Close() error
}
