package scrape

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeDomain reduces a URL or bare hostname to a canonical domain key so
// that equivalent URLs share one rate-limit budget. Scheme, "www." prefix,
// port, and case are all stripped.
func NormalizeDomain(domainOrURL string) string {
	raw := strings.TrimSpace(domainOrURL)
	if raw == "" {
		return ""
	}
	host := raw
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			host = u.Host
		}
	} else if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		host = raw[:i]
	}
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")
	return host
}

// NormalizeURL standardizes a URL for use as a cache key. It lowercases the
// scheme and host, removes default ports and fragments, and sorts query
// parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}
