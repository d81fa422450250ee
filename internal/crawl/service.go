package crawl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mkaufmann/toolbridge/internal/cache"
	"github.com/mkaufmann/toolbridge/internal/clock"
	"github.com/mkaufmann/toolbridge/internal/ratelimit"
	"github.com/mkaufmann/toolbridge/internal/telemetry"
)

// Service crawls URLs through the upstream task API, with a shared rate
// limiter and an option-keyed result cache. All collaborators are injected;
// the composition root owns their lifetimes.
type Service struct {
	upstream Upstream
	limiter  *ratelimit.Limiter
	cache    *ResultCache
	clock    clock.Clock
	logger   *zap.Logger
}

// NewService constructs the crawl service.
func NewService(upstream Upstream, limiter *ratelimit.Limiter, resultCache *ResultCache, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		upstream: upstream,
		limiter:  limiter,
		cache:    resultCache,
		clock:    clk,
		logger:   logger,
	}
}

// frontierItem is one pending page in the breadth-first traversal. Origin is
// the scheme://host the internal/external decision is made against; for
// external hops it moves to the external page's own domain.
type frontierItem struct {
	rawURL        string
	normalizedURL string
	depth         int
	origin        string
}

// Crawl executes a pre-validated request and always returns a full response:
// per-URL failures are captured in the results, never raised. Traversal
// bounds are re-clamped defensively even though validation happens upstream.
func (s *Service) Crawl(ctx context.Context, req Request) Response {
	start := time.Now()
	req.ApplyDefaults()
	req.clampBounds()

	var (
		results     []Result
		cachedCount int
	)
	if req.FollowInternalLinks || req.FollowExternalLinks {
		results, cachedCount = s.crawlRecursive(ctx, req)
	} else {
		results, cachedCount = s.crawlSimple(ctx, req)
	}

	return NewResponse(results, cachedCount, time.Since(start), s.clock.Now())
}

// crawlSimple crawls the seed URLs without following links. Depth is always
// zero, including for cache hits.
func (s *Service) crawlSimple(ctx context.Context, req Request) ([]Result, int) {
	options := OptionsFromRequest(req)
	results := make([]Result, 0, len(req.URLs))
	cachedCount := 0

	for _, rawURL := range req.URLs {
		if req.CacheMode != CacheModeBypass {
			if cached, ok := s.cache.Get(rawURL, options); ok {
				cached.Depth = 0
				results = append(results, cached)
				cachedCount++
				telemetry.CountCrawlPage("cached")
				continue
			}
		}

		result := s.CrawlOne(ctx, rawURL, req, 0)
		results = append(results, result)

		if req.CacheMode != CacheModeDisabled && result.Success {
			s.cache.Set(rawURL, options, result)
		}
	}

	return results, cachedCount
}

// crawlRecursive follows internal and/or external links breadth-first,
// bounded by max_depth and max_pages. Each normalized URL is visited at most
// once; fragments and trailing-slash variants collapse via normalization.
func (s *Service) crawlRecursive(ctx context.Context, req Request) ([]Result, int) {
	options := OptionsFromRequest(req)
	visited := make(map[string]struct{})
	var queue []frontierItem
	var results []Result
	cachedCount := 0

	for _, rawURL := range req.URLs {
		queue = append(queue, frontierItem{
			rawURL:        rawURL,
			normalizedURL: NormalizeURL(rawURL),
			depth:         0,
			origin:        OriginDomain(rawURL),
		})
	}

	for len(queue) > 0 && len(results) < req.MaxPages {
		item := queue[0]
		queue = queue[1:]

		if _, seen := visited[item.normalizedURL]; seen {
			continue
		}
		visited[item.normalizedURL] = struct{}{}

		if req.CacheMode != CacheModeBypass {
			if cached, ok := s.cache.Get(item.rawURL, options); ok {
				// Depth reflects where the URL was discovered in this
				// traversal, not where it sat when first cached.
				cached.Depth = item.depth
				results = append(results, cached)
				cachedCount++
				telemetry.CountCrawlPage("cached")

				if item.depth < req.MaxDepth-1 && len(results) < req.MaxPages {
					queue = s.expandLinks(req, item, cached.InternalLinks, cached.ExternalLinks, visited, queue)
				}
				continue
			}
		}

		result := s.CrawlOne(ctx, item.rawURL, req, item.depth)
		results = append(results, result)

		if req.CacheMode != CacheModeDisabled && result.Success {
			s.cache.Set(item.rawURL, options, result)
		}

		if result.Success && item.depth < req.MaxDepth-1 && len(results) < req.MaxPages {
			queue = s.expandLinks(req, item, result.InternalLinks, result.ExternalLinks, visited, queue)
		}
	}

	return results, cachedCount
}

// expandLinks enqueues a page's discovered links at depth+1. Internal links
// are resolved against the current URL and must stay on the origin's host;
// external links are assumed absolute, must leave the origin's host, and
// become the origin of their own branch.
func (s *Service) expandLinks(req Request, item frontierItem, internal, external []string, visited map[string]struct{}, queue []frontierItem) []frontierItem {
	originHost := Host(item.origin)

	if req.FollowInternalLinks {
		for _, href := range internal {
			absolute := ResolveLink(item.rawURL, href)
			normalized := NormalizeURL(absolute)
			if _, seen := visited[normalized]; seen {
				continue
			}
			if Host(absolute) != originHost {
				continue
			}
			queue = append(queue, frontierItem{
				rawURL:        absolute,
				normalizedURL: normalized,
				depth:         item.depth + 1,
				origin:        item.origin,
			})
		}
	}

	if req.FollowExternalLinks {
		for _, href := range external {
			normalized := NormalizeURL(href)
			if _, seen := visited[normalized]; seen {
				continue
			}
			if Host(href) == originHost {
				continue
			}
			queue = append(queue, frontierItem{
				rawURL:        href,
				normalizedURL: normalized,
				depth:         item.depth + 1,
				origin:        OriginDomain(href),
			})
		}
	}

	return queue
}

// CrawlOne crawls a single URL at the given depth. It never returns an
// error: rate limiting, submission, polling, and parsing failures are all
// captured in the result.
func (s *Service) CrawlOne(ctx context.Context, rawURL string, req Request, depth int) Result {
	start := time.Now()

	fail := func(err error) Result {
		s.logger.Warn("crawl failed",
			zap.String("url", rawURL),
			zap.Int("depth", depth),
			zap.Error(err),
		)
		telemetry.CountCrawlPage("failed")
		return Result{
			URL:              ReportedURL(rawURL),
			Success:          false,
			Depth:            depth,
			ErrorMessage:     err.Error(),
			CrawlTimeSeconds: time.Since(start).Seconds(),
		}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return fail(err)
	}

	task, err := s.upstream.SubmitAndAwait(ctx, buildPayload(rawURL, req))
	if err != nil {
		return fail(err)
	}

	return s.parsePage(rawURL, task, req, start, depth)
}

// buildPayload assembles the upstream request body for one URL.
func buildPayload(rawURL string, req Request) map[string]any {
	payload := map[string]any{
		"urls": []string{rawURL},
	}

	if req.CaptureScreenshots {
		payload["screenshot"] = true
		payload["screenshot_options"] = map[string]any{
			"width":     req.ScreenshotWidth,
			"height":    req.ScreenshotHeight,
			"wait_for":  req.ScreenshotWaitFor,
			"format":    "png",
			"full_page": false,
		}
	}

	if req.ScrapeInternalLinks || req.ScrapeExternalLinks {
		payload["extract_links"] = true
		linkTypes := []string{}
		if req.ScrapeInternalLinks {
			linkTypes = append(linkTypes, "internal")
		}
		if req.ScrapeExternalLinks {
			linkTypes = append(linkTypes, "external")
		}
		payload["link_types"] = linkTypes
	}

	return payload
}

// parsePage converts a completed task into a Result. Parse problems become
// failed results, never errors. The trailing-slash trim on the reported URL
// applies to successes and parse failures only; the empty-task and bad-status
// branches echo the URL exactly as requested.
func (s *Service) parsePage(rawURL string, task *TaskResult, req Request, start time.Time, depth int) Result {
	crawlTime := time.Since(start).Seconds()

	failParse := func(url string, format string, args ...any) Result {
		telemetry.CountCrawlPage("failed")
		return Result{
			URL:              url,
			Success:          false,
			Depth:            depth,
			ErrorMessage:     fmt.Sprintf(format, args...),
			CrawlTimeSeconds: crawlTime,
		}
	}

	if len(task.Results) == 0 {
		return failParse(rawURL, "no results in task response")
	}

	page := task.Results[0]
	if page.StatusCode != 200 {
		result := failParse(rawURL, "HTTP %d", page.StatusCode)
		result.StatusCode = page.StatusCode
		return result
	}

	markdown := extractMarkdown(page.Markdown)
	if markdown == "" {
		return failParse(ReportedURL(rawURL), "failed to parse response: missing markdown content")
	}

	result := Result{
		URL:              ReportedURL(rawURL),
		Success:          true,
		Depth:            depth,
		Markdown:         markdown,
		StatusCode:       page.StatusCode,
		CrawlTimeSeconds: crawlTime,
	}

	if !req.MarkdownOnly {
		result.CleanedHTML = page.CleanedHTML
		result.Metadata = page.Metadata
	}

	if req.ScrapeInternalLinks {
		result.InternalLinks = collectHrefs(page.Links.Internal)
	}
	if req.ScrapeExternalLinks {
		result.ExternalLinks = collectHrefs(page.Links.External)
	}

	if req.CaptureScreenshots && page.Screenshot != "" {
		result.ScreenshotBase64 = page.Screenshot
		result.ScreenshotSize = screenshotSize(page.Screenshot, req)
	}

	telemetry.CountCrawlPage("ok")
	return result
}

// extractMarkdown handles both upstream markdown shapes: an object carrying
// raw_markdown, or a bare string.
func extractMarkdown(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var nested struct {
		RawMarkdown string `json:"raw_markdown"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.RawMarkdown != "" {
		return nested.RawMarkdown
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	return ""
}

func collectHrefs(links []LinkRef) []string {
	hrefs := make([]string, 0, len(links))
	for _, link := range links {
		if link.Href != "" {
			hrefs = append(hrefs, link.Href)
		}
	}
	return hrefs
}

// screenshotSize decodes the screenshot and reads the PNG header for the
// real dimensions, falling back to the requested viewport if the image is
// not parseable.
func screenshotSize(encoded string, req Request) *ScreenshotSize {
	if data, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		if w, h, ok := pngDimensions(data); ok {
			return &ScreenshotSize{Width: w, Height: h}
		}
	}
	return &ScreenshotSize{Width: req.ScreenshotWidth, Height: req.ScreenshotHeight}
}

// Health reports upstream reachability plus cache statistics.
type Health struct {
	Status           string         `json:"status"`
	UpstreamHealthy  bool           `json:"upstream_healthy"`
	UpstreamResponse map[string]any `json:"upstream_response,omitempty"`
	Error            string         `json:"error,omitempty"`
	Cache            cache.Stats    `json:"cache"`
}

// Health probes the upstream service and summarizes cache state.
func (s *Service) Health(ctx context.Context) Health {
	health := Health{Status: "healthy", Cache: s.cache.Stats()}

	payload, err := s.upstream.Health(ctx)
	if err != nil {
		health.Status = "degraded"
		health.Error = err.Error()
		return health
	}
	health.UpstreamHealthy = true
	health.UpstreamResponse = payload
	return health
}

// CacheStats exposes the result cache statistics.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// ClearCache drops all cached results and returns the count removed.
func (s *Service) ClearCache() int {
	return s.cache.Clear()
}

// CleanupExpiredCache sweeps expired cache entries.
func (s *Service) CleanupExpiredCache() int {
	return s.cache.CleanupExpired()
}

// InvalidateURL removes every cached option variant for a URL.
func (s *Service) InvalidateURL(rawURL string) int {
	return s.cache.InvalidateURL(rawURL)
}
