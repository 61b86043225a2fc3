package internal

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DomainSource derives the registered domain a request came from, given its
// Referer header. Best effort: the public suffix list first, then a naive
// two-label fallback. Returns "" for anything unparseable.
func DomainSource(referer string) string {
	if referer == "" {
		return ""
	}
	host := referer
	if u, err := url.Parse(referer); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	host = strings.Trim(host, ".")
	if host == "" {
		return ""
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
