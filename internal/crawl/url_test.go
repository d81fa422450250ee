package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"strips fragment", "https://example.com/docs#install", "https://example.com/docs"},
		{"strips trailing slash", "https://example.com/docs/", "https://example.com/docs"},
		{"bare root path drops slash", "https://example.com/", "https://example.com"},
		{"lowercases scheme and host", "HTTPS://Example.COM/Docs", "https://example.com/Docs"},
		{"keeps query verbatim", "https://example.com/search?q=Go&lang=en", "https://example.com/search?q=Go&lang=en"},
		{"fragment and slash together", "https://example.com/about/#team", "https://example.com/about"},
		{"malformed returned unchanged", "http://%zz", "http://%zz"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeURL(tc.in))
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	urls := []string{
		"https://example.com/docs/#x",
		"HTTP://HOST.COM/A/B/",
		"https://example.com",
	}
	for _, u := range urls {
		once := NormalizeURL(u)
		require.Equal(t, once, NormalizeURL(once))
	}
}

func TestNormalizeURLCollapsesVariants(t *testing.T) {
	base := NormalizeURL("https://example.com/about")
	require.Equal(t, base, NormalizeURL("https://example.com/about/"))
	require.Equal(t, base, NormalizeURL("https://example.com/about#contact"))
	require.Equal(t, base, NormalizeURL("https://EXAMPLE.com/about/"))
}

func TestOriginDomain(t *testing.T) {
	require.Equal(t, "https://example.com", OriginDomain("https://Example.com/deep/path?x=1"))
	require.Equal(t, "http://blog.example.com", OriginDomain("http://blog.example.com"))
}

func TestResolveLink(t *testing.T) {
	require.Equal(t, "https://example.com/pricing", ResolveLink("https://example.com/about", "/pricing"))
	require.Equal(t, "https://example.com/a/c", ResolveLink("https://example.com/a/b", "c"))
	require.Equal(t, "https://other.com/x", ResolveLink("https://example.com/about", "https://other.com/x"))
}

func TestReportedURL(t *testing.T) {
	// The trailing slash is stripped only for bare-origin URLs, where the
	// slash count is exactly three.
	require.Equal(t, "https://example.com", ReportedURL("https://example.com/"))
	require.Equal(t, "https://example.com/docs/", ReportedURL("https://example.com/docs/"))
	require.Equal(t, "https://example.com/docs", ReportedURL("https://example.com/docs"))
	require.Equal(t, "https://example.com", ReportedURL("https://example.com"))
}
