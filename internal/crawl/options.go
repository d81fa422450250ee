package crawl

import (
	"encoding/json"

	"github.com/mkaufmann/toolbridge/internal/hash/sha256"
)

// Options is the content-affecting subset of a crawl request: two requests
// with the same URL and the same Options are cache-equivalent. Traversal
// controls (follow flags, max_depth, max_pages, cache_mode) deliberately do
// not appear here — they govern orchestration, not what a page's response
// looks like.
type Options struct {
	MarkdownOnly        bool `json:"markdown_only"`
	ScrapeInternalLinks bool `json:"scrape_internal_links"`
	ScrapeExternalLinks bool `json:"scrape_external_links"`
	CaptureScreenshots  bool `json:"capture_screenshots"`
	ScreenshotWidth     int  `json:"screenshot_width"`
	ScreenshotHeight    int  `json:"screenshot_height"`
	ScreenshotWaitFor   int  `json:"screenshot_wait_for"`
}

// OptionsFromRequest extracts the cache-relevant options. Screenshot
// dimensions only participate when screenshots are enabled, so requests that
// differ only in an unused width still share a key.
func OptionsFromRequest(r Request) Options {
	o := Options{
		MarkdownOnly:        r.MarkdownOnly,
		ScrapeInternalLinks: r.ScrapeInternalLinks,
		ScrapeExternalLinks: r.ScrapeExternalLinks,
		CaptureScreenshots:  r.CaptureScreenshots,
	}
	if r.CaptureScreenshots {
		o.ScreenshotWidth = r.ScreenshotWidth
		o.ScreenshotHeight = r.ScreenshotHeight
		o.ScreenshotWaitFor = r.ScreenshotWaitFor
	}
	return o
}

// cacheKeyMaterial is the canonical serialization hashed into a cache key.
// Field order is fixed by the struct, so encoding/json emission is
// deterministic regardless of how the request was built.
type cacheKeyMaterial struct {
	URL     string  `json:"url"`
	Options Options `json:"options"`
}

// CacheKey derives the deterministic cache key for a normalized URL and its
// content-affecting options.
func CacheKey(hasher *sha256.Hasher, normalizedURL string, o Options) string {
	material, err := json.Marshal(cacheKeyMaterial{URL: normalizedURL, Options: o})
	if err != nil {
		// A closed struct of bools and ints cannot fail to marshal.
		panic(err)
	}
	return hasher.Hash(material)
}
