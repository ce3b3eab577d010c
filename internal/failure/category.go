// Package failure maps crawl errors onto a fixed taxonomy and retry policy.
//
// Classification prefers structured errors carrying a machine-readable kind
// (see Error); message-pattern matching remains as a fallback for failures
// surfacing from the rendering layer, whose errors we do not control.
package failure

import "time"

// Category names one class of crawl failure.
type Category string

const (
	// IgnorableJS marks known-benign in-page script errors. Logged, never
	// treated as a page failure.
	IgnorableJS Category = "IGNORABLE_JS"
	// RetryableNetwork covers connection resets, refused connections, DNS
	// failures, network changes, and 502/503 responses.
	RetryableNetwork Category = "RETRYABLE_NETWORK"
	// RetryableTimeout covers anything that timed out, including 504s.
	RetryableTimeout Category = "RETRYABLE_TIMEOUT"
	// RetryableBrowser covers closed/crashed tabs and tab-creation failures.
	RetryableBrowser Category = "RETRYABLE_BROWSER"
	// PermanentHTTP covers 4xx responses. A 404 is never re-fetched.
	PermanentHTTP Category = "PERMANENT_HTTP"
	// PermanentValidation covers invalid or missing page content.
	PermanentValidation Category = "PERMANENT_VALIDATION"
	// System covers OS resource exhaustion. Deliberately not retried,
	// retrying under resource pressure tends to make it worse.
	System Category = "SYSTEM_ERROR"
	// Unknown is the default for unrecognized failures. Not retried so an
	// unrecognized error cannot cause an unbounded retry loop.
	Unknown Category = "UNKNOWN"
)

// IsRetryable reports whether the category is eligible for the retry executor.
func IsRetryable(c Category) bool {
	switch c {
	case RetryableNetwork, RetryableTimeout, RetryableBrowser:
		return true
	default:
		return false
	}
}

// IsIgnorable reports whether the failure should be discarded after logging.
func IsIgnorable(c Category) bool {
	return c == IgnorableJS
}

// RetryPolicy is the fixed backoff schedule for one category.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

var noRetry = RetryPolicy{MaxAttempts: 1, BaseDelay: 0, Multiplier: 1, MaxDelay: 0}

var policies = map[Category]RetryPolicy{
	RetryableNetwork: {MaxAttempts: 5, BaseDelay: 2 * time.Second, Multiplier: 1.5, MaxDelay: 30 * time.Second},
	RetryableTimeout: {MaxAttempts: 3, BaseDelay: 5 * time.Second, Multiplier: 2, MaxDelay: 60 * time.Second},
	RetryableBrowser: {MaxAttempts: 3, BaseDelay: 10 * time.Second, Multiplier: 2, MaxDelay: 60 * time.Second},
}

// PolicyFor returns the retry schedule for the category. Categories without
// a schedule get a single attempt and no backoff.
func PolicyFor(c Category) RetryPolicy {
	if p, ok := policies[c]; ok {
		return p
	}
	return noRetry
}
