// Package mcptools exposes the geocoding and crawling services as Model
// Context Protocol tools so agent runtimes can call them directly.
package mcptools

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mkaufmann/toolbridge/internal/crawl"
	"github.com/mkaufmann/toolbridge/internal/geocode"
)

const serverName = "toolbridge"

// GeocodeInput is the geocode_city tool input.
type GeocodeInput struct {
	City string `json:"city" jsonschema:"city name to resolve, e.g. 'Paris' or 'Paris, France'"`
}

// GeocodeResult is the geocode_city tool output.
type GeocodeResult struct {
	City        string  `json:"city" jsonschema:"the city that was resolved"`
	Lat         float64 `json:"lat" jsonschema:"latitude in decimal degrees"`
	Lon         float64 `json:"lon" jsonschema:"longitude in decimal degrees"`
	DisplayName string  `json:"display_name" jsonschema:"full display name of the match"`
	Cached      bool    `json:"cached" jsonschema:"whether the lookup was served from cache"`
}

// CrawlInput is the crawl_url tool input. It covers the common crawl knobs;
// screenshots stay on the REST surface where binary payloads belong.
type CrawlInput struct {
	URL                 string `json:"url" jsonschema:"URL to crawl"`
	MarkdownOnly        bool   `json:"markdown_only,omitempty" jsonschema:"return only markdown content"`
	FollowInternalLinks bool   `json:"follow_internal_links,omitempty" jsonschema:"recursively crawl same-domain links"`
	FollowExternalLinks bool   `json:"follow_external_links,omitempty" jsonschema:"recursively crawl cross-domain links"`
	MaxDepth            int    `json:"max_depth,omitempty" jsonschema:"maximum crawl depth when following links"`
	MaxPages            int    `json:"max_pages,omitempty" jsonschema:"maximum number of pages to crawl"`
}

// CrawlPage is one crawled page in the crawl_url tool output.
type CrawlPage struct {
	URL          string `json:"url" jsonschema:"the crawled URL"`
	Success      bool   `json:"success" jsonschema:"whether the page was crawled successfully"`
	Depth        int    `json:"depth" jsonschema:"link depth relative to the seed URL"`
	Markdown     string `json:"markdown,omitempty" jsonschema:"page content as markdown"`
	ErrorMessage string `json:"error_message,omitempty" jsonschema:"failure reason, when success is false"`
}

// CrawlResult is the crawl_url tool output.
type CrawlResult struct {
	TotalURLs        int         `json:"total_urls" jsonschema:"number of pages attempted"`
	SuccessfulCrawls int         `json:"successful_crawls" jsonschema:"number of pages crawled successfully"`
	FailedCrawls     int         `json:"failed_crawls" jsonschema:"number of pages that failed"`
	CachedResults    int         `json:"cached_results" jsonschema:"number of pages served from cache"`
	Pages            []CrawlPage `json:"pages" jsonschema:"per-page results"`
}

// Server bridges the domain services onto MCP.
type Server struct {
	geocoder  *geocode.Service
	crawler   *crawl.Service
	mcpServer *mcp.Server
	logger    *zap.Logger
}

// New builds the MCP server and registers the tools.
func New(version string, geocoder *geocode.Service, crawler *crawl.Service, logger *zap.Logger) *Server {
	s := &Server{
		geocoder: geocoder,
		crawler:  crawler,
		logger:   logger,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "geocode_city",
		Description: "Resolves a city name to geographic coordinates (latitude/longitude).",
	}, s.handleGeocode)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "crawl_url",
		Description: "Crawls a web page and returns its content as markdown, optionally following links.",
	}, s.handleCrawl)

	return s
}

func (s *Server) handleGeocode(ctx context.Context, _ *mcp.CallToolRequest, input GeocodeInput) (*mcp.CallToolResult, GeocodeResult, error) {
	resolved, err := s.geocoder.Geocode(ctx, input.City)
	if err != nil {
		return nil, GeocodeResult{}, fmt.Errorf("geocode %q: %w", input.City, err)
	}
	if resolved == nil {
		return nil, GeocodeResult{}, fmt.Errorf("city not found: %s", input.City)
	}

	return nil, GeocodeResult{
		City:        resolved.City,
		Lat:         resolved.Location.Lat,
		Lon:         resolved.Location.Lon,
		DisplayName: resolved.DisplayName,
		Cached:      resolved.Cached,
	}, nil
}

func (s *Server) handleCrawl(ctx context.Context, _ *mcp.CallToolRequest, input CrawlInput) (*mcp.CallToolResult, CrawlResult, error) {
	req := crawl.Request{
		URLs:                []string{input.URL},
		MarkdownOnly:        input.MarkdownOnly,
		ScrapeInternalLinks: input.FollowInternalLinks,
		ScrapeExternalLinks: input.FollowExternalLinks,
		FollowInternalLinks: input.FollowInternalLinks,
		FollowExternalLinks: input.FollowExternalLinks,
		MaxDepth:            input.MaxDepth,
		MaxPages:            input.MaxPages,
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, CrawlResult{}, fmt.Errorf("invalid crawl request: %w", err)
	}

	response := s.crawler.Crawl(ctx, req)

	result := CrawlResult{
		TotalURLs:        response.TotalURLs,
		SuccessfulCrawls: response.SuccessfulCrawls,
		FailedCrawls:     response.FailedCrawls,
		CachedResults:    response.CachedResults,
	}
	for _, page := range response.Results {
		result.Pages = append(result.Pages, CrawlPage{
			URL:          page.URL,
			Success:      page.Success,
			Depth:        page.Depth,
			Markdown:     page.Markdown,
			ErrorMessage: page.ErrorMessage,
		})
	}
	return nil, result, nil
}

// HTTPHandler returns the streamable HTTP handler for mounting under /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}
