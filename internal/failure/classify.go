package failure

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"syscall"
)

// Classify maps an error to its Category. Structured errors win: an Error
// with a Kind, a context deadline, a net.Error timeout, a DNS failure, or a
// recognizable errno short-circuits before any message matching. Everything
// else falls through to the pattern table, evaluated in strict precedence
// order because the categories overlap in surface text (a "504 Gateway
// Timeout" is a timeout, not a generic upstream failure).
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}

	var fe *Error
	if errors.As(err, &fe) && fe.Kind != "" {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetryableTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return RetryableNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RetryableTimeout
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return RetryableNetwork
	case errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.ENOMEM):
		return System
	}

	return classifyMessage(err.Error())
}

type matcher struct {
	category Category
	contains []string
	patterns []*regexp.Regexp
}

// Known-benign in-page script noise. Docs sites built on client frameworks
// produce these constantly; none of them indicates a failed page.
var ignorableJS = []string{
	"resizeobserver loop",
	"script error",
	"non-error promise rejection",
	"hydration failed",
	"text content does not match server-rendered html",
}

var http4xx = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhttp[ /]?4\d{2}\b`),
	regexp.MustCompile(`(?i)\bstatus(?:\s+code)?\s*[:=]?\s*4\d{2}\b`),
	regexp.MustCompile(`(?i)\b4\d{2}\s+(?:not found|forbidden|unauthorized|bad request|gone|method not allowed|too many requests|payload too large|unprocessable)`),
}

// Evaluated first match wins. Timeout sits above network so gateway-timeout
// messages do not classify as generic upstream failures, and the 4xx row
// sits above validation so "404 not found" is not mistaken for
// content-not-found phrasing.
var matchers = []matcher{
	{category: IgnorableJS, contains: ignorableJS},
	{category: RetryableTimeout, contains: []string{
		"timeout", "timed out", "timed_out", "deadline exceeded",
	}},
	{category: RetryableNetwork, contains: []string{
		"econnreset", "econnrefused", "econnaborted", "epipe",
		"connection reset", "connection refused", "connection closed",
		"broken pipe", "socket hang up",
		"enotfound", "eai_again", "getaddrinfo", "dns", "name not resolved",
		"network changed", "network error", "internet disconnected",
		"err_connection", "err_network",
		"http 502", "http 503", "bad gateway", "service unavailable",
	}},
	{category: RetryableBrowser, contains: []string{
		"target closed", "target crashed",
		"page closed", "page crashed", "page has been closed",
		"tab crashed", "session closed", "frame was detached",
		"browser has disconnected", "browser closed",
		"protocol error", "failed to launch",
		"failed to create page", "could not create page",
	}},
	{category: PermanentHTTP, patterns: http4xx},
	{category: PermanentValidation, contains: []string{
		"validation", "content not found", "no content", "empty content",
		"missing required",
	}},
	{category: System, contains: []string{
		"enospc", "no space left", "emfile", "enfile",
		"too many open files", "enomem", "out of memory",
		"cannot allocate memory",
	}},
}

func classifyMessage(msg string) Category {
	lower := strings.ToLower(msg)
	for _, m := range matchers {
		for _, s := range m.contains {
			if strings.Contains(lower, s) {
				return m.category
			}
		}
		for _, re := range m.patterns {
			if re.MatchString(msg) {
				return m.category
			}
		}
	}
	return Unknown
}
