package mcptools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkaufmann/toolbridge/internal/clock/system"
	"github.com/mkaufmann/toolbridge/internal/crawl"
	"github.com/mkaufmann/toolbridge/internal/geocode"
	"github.com/mkaufmann/toolbridge/internal/ratelimit"
)

type stubUpstream struct {
	markdown string
	err      error
}

func (s *stubUpstream) SubmitAndAwait(context.Context, map[string]any) (*crawl.TaskResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	md, _ := json.Marshal(s.markdown)
	return &crawl.TaskResult{
		Status:  "completed",
		Results: []crawl.PageResult{{StatusCode: 200, Markdown: md}},
	}, nil
}

func (s *stubUpstream) Health(context.Context) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

func newTestBridge(t *testing.T, geocodeURL string, upstream crawl.Upstream) *Server {
	t.Helper()
	clk := system.New()
	geoLimiter := ratelimit.New(ratelimit.Config{Name: "geocode-test", MaxRequests: 10000, Window: time.Second})
	crawlLimiter := ratelimit.New(ratelimit.Config{Name: "crawl-test", MaxRequests: 10000, Window: time.Second})

	geocoder := geocode.NewService(geocode.Config{
		BaseURL:   geocodeURL,
		UserAgent: "toolbridge-test/1.0",
	}, geoLimiter, time.Hour, clk, zap.NewNop())

	crawler := crawl.NewService(upstream, crawlLimiter, crawl.NewResultCache(time.Hour, clk), clk, zap.NewNop())

	return New("test", geocoder, crawler, zap.NewNop())
}

func connect(t *testing.T, srv *Server) *mcp.ClientSession {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = srv.mcpServer.Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func decodeStructured[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestToolsAreRegistered(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	defer geo.Close()

	session := connect(t, newTestBridge(t, geo.URL, &stubUpstream{markdown: "x"}))

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	require.Contains(t, names, "geocode_city")
	require.Contains(t, names, "crawl_url")
}

func TestGeocodeCityTool(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"place_id":88021,"lat":"48.8566","lon":"2.3522","display_name":"Paris, France"}]`)) //nolint:errcheck
	}))
	defer geo.Close()

	session := connect(t, newTestBridge(t, geo.URL, &stubUpstream{markdown: "x"}))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "geocode_city",
		Arguments: map[string]any{"city": "Paris"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	got := decodeStructured[GeocodeResult](t, result)
	require.Equal(t, "Paris", got.City)
	require.InDelta(t, 48.8566, got.Lat, 1e-9)
	require.InDelta(t, 2.3522, got.Lon, 1e-9)
}

func TestGeocodeCityToolNotFound(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	defer geo.Close()

	session := connect(t, newTestBridge(t, geo.URL, &stubUpstream{markdown: "x"}))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "geocode_city",
		Arguments: map[string]any{"city": "Atlantis"},
	})
	require.NoError(t, err)
	require.True(t, result.IsError, "missing cities surface as tool errors")
}

func TestCrawlURLTool(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	defer geo.Close()

	session := connect(t, newTestBridge(t, geo.URL, &stubUpstream{markdown: "# docs"}))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "crawl_url",
		Arguments: map[string]any{"url": "https://example.com/docs"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	got := decodeStructured[CrawlResult](t, result)
	require.Equal(t, 1, got.TotalURLs)
	require.Equal(t, 1, got.SuccessfulCrawls)
	require.Len(t, got.Pages, 1)
	require.Equal(t, "# docs", got.Pages[0].Markdown)
}

func TestCrawlURLToolRejectsInvalidRequest(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	defer geo.Close()

	session := connect(t, newTestBridge(t, geo.URL, &stubUpstream{markdown: "x"}))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "crawl_url",
		Arguments: map[string]any{"url": "https://example.com", "max_depth": 99, "follow_internal_links": true},
	})
	require.NoError(t, err)
	require.True(t, result.IsError)
}
