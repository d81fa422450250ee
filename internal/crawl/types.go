// Package crawl implements the web crawling core: URL normalization, the
// option-keyed result cache, the upstream task client, the single-page
// executor, and the breadth-first recursive orchestrator.
package crawl

import (
	"fmt"
	"net/url"
	"time"
)

// CacheMode selects how the result cache participates in a request.
type CacheMode string

// Cache modes accepted on a crawl request.
const (
	// CacheModeEnabled reads from and writes to the cache.
	CacheModeEnabled CacheMode = "enabled"
	// CacheModeDisabled neither reads nor writes.
	CacheModeDisabled CacheMode = "disabled"
	// CacheModeBypass skips cache reads but still stores fresh results.
	CacheModeBypass CacheMode = "bypass"
)

// Traversal safety caps. Internal-only following allows the full ranges;
// external following is tightened because it walks arbitrary third-party
// domains.
const (
	MaxURLsPerRequest     = 10
	MaxSeedURLsWhenFollow = 3
	MaxDepthLimit         = 5
	MaxPagesLimit         = 50
	MaxDepthExternal      = 3
	MaxPagesExternal      = 20

	minScreenshotWidth  = 320
	maxScreenshotWidth  = 3840
	minScreenshotHeight = 240
	maxScreenshotHeight = 2160
	maxScreenshotPixels = 3840 * 2160
	maxScreenshotWait   = 30
)

// Request describes one crawl operation over up to MaxURLsPerRequest seeds.
type Request struct {
	URLs []string `json:"urls"`

	MarkdownOnly        bool `json:"markdown_only"`
	ScrapeInternalLinks bool `json:"scrape_internal_links"`
	ScrapeExternalLinks bool `json:"scrape_external_links"`

	FollowInternalLinks bool `json:"follow_internal_links"`
	FollowExternalLinks bool `json:"follow_external_links"`
	MaxDepth            int  `json:"max_depth"`
	MaxPages            int  `json:"max_pages"`

	CaptureScreenshots bool `json:"capture_screenshots"`
	ScreenshotWidth    int  `json:"screenshot_width"`
	ScreenshotHeight   int  `json:"screenshot_height"`
	ScreenshotWaitFor  int  `json:"screenshot_wait_for"`

	CacheMode CacheMode `json:"cache_mode"`
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func (r *Request) ApplyDefaults() {
	if r.MaxDepth == 0 {
		r.MaxDepth = 1
	}
	if r.MaxPages == 0 {
		r.MaxPages = 10
	}
	if r.ScreenshotWidth == 0 {
		r.ScreenshotWidth = 1920
	}
	if r.ScreenshotHeight == 0 {
		r.ScreenshotHeight = 1080
	}
	if r.ScreenshotWaitFor == 0 {
		r.ScreenshotWaitFor = 2
	}
	if r.CacheMode == "" {
		r.CacheMode = CacheModeEnabled
	}
}

// Validate rejects malformed requests before they reach the orchestrator.
// Call ApplyDefaults first.
func (r Request) Validate() error {
	if len(r.URLs) == 0 {
		return fmt.Errorf("at least one URL is required")
	}
	if len(r.URLs) > MaxURLsPerRequest {
		return fmt.Errorf("maximum %d URLs allowed per request", MaxURLsPerRequest)
	}
	for _, raw := range r.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid URL %q: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("URL %q must use http or https scheme", raw)
		}
		if u.Host == "" {
			return fmt.Errorf("URL %q has no host", raw)
		}
	}

	switch r.CacheMode {
	case CacheModeEnabled, CacheModeDisabled, CacheModeBypass:
	default:
		return fmt.Errorf("cache_mode must be enabled, disabled, or bypass")
	}

	if r.MaxDepth < 1 || r.MaxDepth > MaxDepthLimit {
		return fmt.Errorf("max_depth must be between 1 and %d", MaxDepthLimit)
	}
	if r.MaxPages < 1 || r.MaxPages > MaxPagesLimit {
		return fmt.Errorf("max_pages must be between 1 and %d", MaxPagesLimit)
	}

	if r.FollowInternalLinks && !r.ScrapeInternalLinks {
		return fmt.Errorf("follow_internal_links requires scrape_internal_links")
	}
	if r.FollowExternalLinks && !r.ScrapeExternalLinks {
		return fmt.Errorf("follow_external_links requires scrape_external_links")
	}
	if (r.FollowInternalLinks || r.FollowExternalLinks) && len(r.URLs) > MaxSeedURLsWhenFollow {
		return fmt.Errorf("maximum %d seed URLs allowed when following links", MaxSeedURLsWhenFollow)
	}
	if r.FollowExternalLinks {
		if r.MaxDepth > MaxDepthExternal {
			return fmt.Errorf("max_depth is capped at %d when following external links", MaxDepthExternal)
		}
		if r.MaxPages > MaxPagesExternal {
			return fmt.Errorf("max_pages is capped at %d when following external links", MaxPagesExternal)
		}
	}

	if r.CaptureScreenshots {
		if r.ScreenshotWidth < minScreenshotWidth || r.ScreenshotWidth > maxScreenshotWidth {
			return fmt.Errorf("screenshot_width must be between %d and %d", minScreenshotWidth, maxScreenshotWidth)
		}
		if r.ScreenshotHeight < minScreenshotHeight || r.ScreenshotHeight > maxScreenshotHeight {
			return fmt.Errorf("screenshot_height must be between %d and %d", minScreenshotHeight, maxScreenshotHeight)
		}
		aspect := float64(r.ScreenshotWidth) / float64(r.ScreenshotHeight)
		if aspect < 0.5 || aspect > 4.0 {
			return fmt.Errorf("screenshot aspect ratio must be between 0.5:1 and 4:1")
		}
		if r.ScreenshotWidth*r.ScreenshotHeight > maxScreenshotPixels {
			return fmt.Errorf("screenshot dimensions exceed the 4K pixel limit")
		}
		if r.ScreenshotWaitFor < 0 || r.ScreenshotWaitFor > maxScreenshotWait {
			return fmt.Errorf("screenshot_wait_for must be between 0 and %d", maxScreenshotWait)
		}
	}

	return nil
}

// clampBounds enforces the traversal safety caps even if a caller skipped
// Validate. The orchestrator assumes pre-validated requests but never trusts
// the bounds.
func (r *Request) clampBounds() {
	depthCap, pagesCap := MaxDepthLimit, MaxPagesLimit
	if r.FollowExternalLinks {
		depthCap, pagesCap = MaxDepthExternal, MaxPagesExternal
	}
	if r.MaxDepth > depthCap {
		r.MaxDepth = depthCap
	}
	if r.MaxPages > pagesCap {
		r.MaxPages = pagesCap
	}
	if r.MaxDepth < 1 {
		r.MaxDepth = 1
	}
	if r.MaxPages < 1 {
		r.MaxPages = 1
	}
}

// ScreenshotSize records the decoded dimensions of a captured screenshot.
type ScreenshotSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is the outcome for one crawled URL. Success implies non-empty
// Markdown; failure implies non-empty ErrorMessage. Depth always reflects
// where the URL was discovered in the current traversal, even for cached
// results.
type Result struct {
	URL              string          `json:"url"`
	Success          bool            `json:"success"`
	Depth            int             `json:"depth"`
	Markdown         string          `json:"markdown,omitempty"`
	CleanedHTML      string          `json:"cleaned_html,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	InternalLinks    []string        `json:"internal_links,omitempty"`
	ExternalLinks    []string        `json:"external_links,omitempty"`
	ScreenshotBase64 string          `json:"screenshot_base64,omitempty"`
	ScreenshotSize   *ScreenshotSize `json:"screenshot_size,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	StatusCode       int             `json:"status_code,omitempty"`
	CrawlTimeSeconds float64         `json:"crawl_time_seconds,omitempty"`
}

// Response aggregates the results of one crawl request.
type Response struct {
	TotalURLs        int      `json:"total_urls"`
	SuccessfulCrawls int      `json:"successful_crawls"`
	FailedCrawls     int      `json:"failed_crawls"`
	CachedResults    int      `json:"cached_results"`
	Results          []Result `json:"results"`
	Timestamp        string   `json:"timestamp"`
	TotalTimeSeconds float64  `json:"total_time_seconds"`
}

// NewResponse derives the aggregate counters from the individual results.
func NewResponse(results []Result, cachedCount int, totalTime time.Duration, now time.Time) Response {
	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	return Response{
		TotalURLs:        len(results),
		SuccessfulCrawls: successful,
		FailedCrawls:     len(results) - successful,
		CachedResults:    cachedCount,
		Results:          results,
		Timestamp:        now.Format(time.RFC3339),
		TotalTimeSeconds: totalTime.Seconds(),
	}
}
