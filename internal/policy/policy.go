// Package policy decides which URLs the archiver may visit.
package policy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Config holds URL admission rules derived from configuration.
type Config struct {
	// AllowedDomains lists hosts the crawl may touch. Empty means any host.
	AllowedDomains []string
	// IncludeSubdomains extends each allowed domain to its subdomains.
	IncludeSubdomains bool
	// BasePath, when set, restricts admitted URLs to paths under it.
	BasePath string
	// IgnoredURLs are literal URLs to exclude, compared in normalized form.
	IgnoredURLs []string
	// IgnoredURLPatterns are regular expressions matched against the full URL.
	IgnoredURLPatterns []string
}

// Admission evaluates URLs against domain, path, and exclusion rules. A nil
// Admission admits everything.
type Admission struct {
	hosts    *hostMatcher
	basePath string
	ignored  map[string]struct{}
	patterns []*regexp.Regexp
}

// New compiles the admission rules. Invalid exclusion patterns are reported
// rather than silently dropped.
func New(cfg Config) (*Admission, error) {
	a := &Admission{
		hosts:   newHostMatcher(cfg.AllowedDomains, cfg.IncludeSubdomains),
		ignored: make(map[string]struct{}, len(cfg.IgnoredURLs)),
	}
	if cfg.BasePath != "" {
		a.basePath = cfg.BasePath
		if !strings.HasPrefix(a.basePath, "/") {
			a.basePath = "/" + a.basePath
		}
	}
	for _, raw := range cfg.IgnoredURLs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if normalized, err := NormalizeURL(value); err == nil {
			value = normalized
		}
		a.ignored[value] = struct{}{}
	}
	for _, expr := range cfg.IgnoredURLPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile ignored url pattern %q: %w", expr, err)
		}
		a.patterns = append(a.patterns, re)
	}
	return a, nil
}

// Admit reports whether the URL passes both validation and exclusion rules.
func (a *Admission) Admit(rawURL string) bool {
	if a == nil {
		return true
	}
	return a.Allowed(rawURL) && !a.Ignored(rawURL)
}

// Allowed reports whether the URL has an http or https scheme, a host within
// the allowed domains, and a path under the base path filter.
func (a *Admission) Allowed(rawURL string) bool {
	if a == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	if !a.hosts.Matches(u.Hostname()) {
		return false
	}
	if a.basePath != "" && !strings.HasPrefix(u.Path, a.basePath) {
		return false
	}
	return true
}

// Ignored reports whether the URL hits a literal or pattern exclusion.
func (a *Admission) Ignored(rawURL string) bool {
	if a == nil {
		return false
	}
	candidate := rawURL
	if normalized, err := NormalizeURL(rawURL); err == nil {
		candidate = normalized
	}
	if _, ok := a.ignored[candidate]; ok {
		return true
	}
	if _, ok := a.ignored[rawURL]; ok {
		return true
	}
	for _, re := range a.patterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// hostMatcher stores exact hosts plus optional subdomain matching.
type hostMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostMatcher(domains []string, includeSubdomains bool) *hostMatcher {
	matcher := &hostMatcher{
		exact: make(map[string]struct{}),
	}
	for _, raw := range domains {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		matcher.exact[value] = struct{}{}
		if includeSubdomains {
			matcher.addSuffix(value)
		}
	}
	if len(matcher.exact) == 0 {
		return nil
	}
	return matcher
}

func (m *hostMatcher) addSuffix(suffix string) {
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

// Matches reports whether the host is allowed. A nil matcher allows any host.
func (m *hostMatcher) Matches(host string) bool {
	if m == nil {
		return true
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
