package crawl

import (
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL for deduplication and cache correlation.
// It lowercases the scheme and host, removes the fragment, and strips a
// single trailing slash unless the path is empty or root. The query string
// is preserved verbatim. Malformed input is returned unchanged; callers are
// expected to validate URL syntax before the core is entered.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "" || u.Path == "/" {
		u.Path = ""
		u.RawPath = ""
	} else if strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}

	return u.String()
}

// OriginDomain returns the scheme://host origin of a URL, used to anchor
// internal/external link decisions during traversal.
func OriginDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Host returns the lowercased host (including port, if any) of a URL.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// ResolveLink resolves href against base, turning relative link targets into
// absolute URLs. If either side fails to parse the href is returned as-is.
func ResolveLink(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

// ReportedURL applies the upstream service's own normalization quirk to the
// URL echoed back in results: the trailing slash is stripped only when the
// URL has exactly one path segment (e.g. "https://example.com/"). This keeps
// reported URLs byte-compatible with what the upstream returns for the same
// page.
func ReportedURL(rawURL string) string {
	if strings.HasSuffix(rawURL, "/") && strings.Count(rawURL, "/") == 3 {
		return strings.TrimSuffix(rawURL, "/")
	}
	return rawURL
}
