package license

import (
	"net/url"
	"strings"
)

const secureScheme = "https"

// Storage limits of the recorded URLs
const (
	MaxSiteLength       = 191
	MaxInstallURLLength = 255
)

// NormalizeSite canonicalizes a site URL so that the same installation always
// maps to the same activation slot. Host is lower-cased and trailing slashes
// are removed from the path. The identifier always carries the https scheme,
// so a site reached over http and https occupies a single slot.
// Query strings and fragments are not part of a site identity and are dropped.
// Other schemes, credentials in the URL and identifiers longer than
// MaxSiteLength are rejected.
func NormalizeSite(raw string) (string, error) {
	site, err := normalizeURL(raw)
	if err != nil {
		return "", err
	}
	if len(site) > MaxSiteLength {
		return "", ErrInvalidSite
	}
	return site, nil
}

func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t\r\n") {
		return "", ErrInvalidSite
	}

	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(lower, "://") || hasOpaqueScheme(trimmed) {
			return "", ErrInvalidSite
		}
		trimmed = secureScheme + "://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Hostname() == "" || u.User != nil {
		return "", ErrInvalidSite
	}

	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return "", ErrInvalidSite
	}
	host := strings.ToLower(u.Host)
	path := strings.TrimRight(u.EscapedPath(), "/")

	return secureScheme + "://" + host + path, nil
}

// hasOpaqueScheme reports whether a URL without "://" starts with a scheme,
// as in "mailto:bob@example.com". A colon followed only by digits is a port.
func hasOpaqueScheme(s string) bool {
	head := s
	if i := strings.IndexAny(head, "/?#"); i >= 0 {
		head = head[:i]
	}
	i := strings.IndexByte(head, ':')
	if i < 0 {
		return false
	}
	port := head[i+1:]
	if port == "" {
		return true
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return true
		}
	}
	return false
}

// normalizeOptionalSite normalizes a URL that is recorded for diagnostics only.
// Unparsable or oversized input is dropped rather than rejected.
func normalizeOptionalSite(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	site, err := normalizeURL(raw)
	if err != nil || len(site) > MaxInstallURLLength {
		return ""
	}
	return site
}
