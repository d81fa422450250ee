package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkaufmann/toolbridge/internal/auth"
	"github.com/mkaufmann/toolbridge/internal/clock/system"
	"github.com/mkaufmann/toolbridge/internal/config"
	"github.com/mkaufmann/toolbridge/internal/crawl"
	"github.com/mkaufmann/toolbridge/internal/geocode"
	"github.com/mkaufmann/toolbridge/internal/ratelimit"
)

const testAPIKey = "valid-api-key-123"

type stubUpstream struct {
	markdown    string
	err         error
	healthy     bool
	sawDeadline bool
}

func (s *stubUpstream) SubmitAndAwait(ctx context.Context, _ map[string]any) (*crawl.TaskResult, error) {
	_, s.sawDeadline = ctx.Deadline()
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
	if !s.healthy {
		return nil, context.DeadlineExceeded
	}
	return map[string]any{"status": "ok"}, nil
}

func newTestServer(t *testing.T, geocodeUpstream http.HandlerFunc) *Server {
	t.Helper()
	return newTestServerWith(t, geocodeUpstream, &stubUpstream{markdown: "# page", healthy: true})
}

func newTestServerWith(t *testing.T, geocodeUpstream http.HandlerFunc, upstream *stubUpstream) *Server {
	t.Helper()

	geoBackend := httptest.NewServer(geocodeUpstream)
	t.Cleanup(geoBackend.Close)

	cfg := config.Config{AppName: "toolbridge"}
	cfg.Server.Port = 8080
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = testAPIKey
	cfg.Auth.JWTSecret = "test-secret-0123456789"
	cfg.Auth.TokenTTLMinutes = 60
	cfg.Auth.MCPTokenTTLMinutes = 60

	clk := system.New()
	logger := zap.NewNop()

	geoLimiter := ratelimit.New(ratelimit.Config{Name: "geocode-test", MaxRequests: 10000, Window: time.Second})
	crawlLimiter := ratelimit.New(ratelimit.Config{Name: "crawl-test", MaxRequests: 10000, Window: time.Second})

	geocoder := geocode.NewService(geocode.Config{
		BaseURL:   geoBackend.URL,
		UserAgent: "toolbridge-test/1.0",
	}, geoLimiter, time.Hour, clk, logger)

	crawler := crawl.NewService(upstream, crawlLimiter, crawl.NewResultCache(time.Hour, clk), clk, logger)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.AppName, clk)
	return NewServer(cfg, geocoder, crawler, tokens, nil, logger)
}

func parisBackend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`[{"place_id":88021,"lat":"48.8566","lon":"2.3522","display_name":"Paris, France"}]`)) //nolint:errcheck
}

func emptyBackend(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("[]")) //nolint:errcheck
}

func do(t *testing.T, srv *Server, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-API-KEY", testAPIKey)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, emptyBackend)

	rec := do(t, srv, http.MethodGet, "/healthz", "", func(r *http.Request) { r.Header.Del("X-API-KEY") })
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/readyz", "", func(r *http.Request) { r.Header.Del("X-API-KEY") })
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGeocodeEndpoint(t *testing.T) {
	srv := newTestServer(t, parisBackend)

	rec := do(t, srv, http.MethodGet, "/v1/geocode/Paris", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got geocode.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "Paris", got.City)
	require.InDelta(t, 48.8566, got.Location.Lat, 1e-9)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGeocodeNotFound(t *testing.T) {
	srv := newTestServer(t, emptyBackend)

	rec := do(t, srv, http.MethodGet, "/v1/geocode/Atlantis", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "city not found")
}

func TestGeocodeUpstreamFailureIs503(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := do(t, srv, http.MethodGet, "/v1/geocode/Paris", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, parisBackend)

	rec := do(t, srv, http.MethodGet, "/v1/geocode/Paris", "", func(r *http.Request) { r.Header.Del("X-API-KEY") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/v1/geocode/Paris", "", func(r *http.Request) { r.Header.Set("X-API-KEY", "wrong") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenFlow(t *testing.T) {
	srv := newTestServer(t, parisBackend)

	rec := do(t, srv, http.MethodPost, "/v1/auth/token", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	require.Equal(t, "bearer", token.TokenType)

	rec = do(t, srv, http.MethodGet, "/v1/geocode/Paris", "", func(r *http.Request) {
		r.Header.Del("X-API-KEY")
		r.Header.Set("Authorization", "Bearer "+token.AccessToken)
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMCPTokenRejectedOnRESTSurface(t *testing.T) {
	srv := newTestServer(t, parisBackend)

	rec := do(t, srv, http.MethodPost, "/v1/auth/mcp-token", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))

	rec = do(t, srv, http.MethodGet, "/v1/geocode/Paris", "", func(r *http.Request) {
		r.Header.Del("X-API-KEY")
		r.Header.Set("Authorization", "Bearer "+token.AccessToken)
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenMintRequiresAPIKey(t *testing.T) {
	srv := newTestServer(t, parisBackend)

	rec := do(t, srv, http.MethodPost, "/v1/auth/token", "", func(r *http.Request) { r.Header.Del("X-API-KEY") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCrawlEndpoint(t *testing.T) {
	srv := newTestServer(t, emptyBackend)

	rec := do(t, srv, http.MethodPost, "/v1/crawl", `{"urls":["https://example.com"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got crawl.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.TotalURLs)
	require.Equal(t, 1, got.SuccessfulCrawls)
	require.Equal(t, "# page", got.Results[0].Markdown)
}

func TestCrawlNotBoundByServerTimeout(t *testing.T) {
	up := &stubUpstream{markdown: "# page", healthy: true}
	srv := newTestServerWith(t, emptyBackend, up)

	rec := do(t, srv, http.MethodPost, "/v1/crawl", `{"urls":["https://example.com"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A traversal can legitimately outlive any fixed wall-clock budget, so
	// the crawl route must not inherit a server-side deadline.
	require.False(t, up.sawDeadline)
}

func TestMetricsLabeledByRoutePattern(t *testing.T) {
	srv := newTestServer(t, parisBackend)

	rec := do(t, srv, http.MethodGet, "/v1/geocode/Paris", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Labeled with the route pattern, not the concrete path, to keep
	// series cardinality bounded.
	require.Contains(t, rec.Body.String(), `route="/v1/geocode/{city}"`)
	require.NotContains(t, rec.Body.String(), `route="/v1/geocode/Paris"`)
}

func TestCrawlEndpointRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t, emptyBackend)

	rec := do(t, srv, http.MethodPost, "/v1/crawl", `{not json`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrawlEndpointRejectsInvalidRequest(t *testing.T) {
	srv := newTestServer(t, emptyBackend)

	rec := do(t, srv, http.MethodPost, "/v1/crawl", `{"urls":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/v1/crawl", `{"urls":["https://example.com"],"follow_internal_links":true,"max_depth":99}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrawlHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, emptyBackend)

	rec := do(t, srv, http.MethodGet, "/v1/crawl/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"upstream_healthy":true`)
}

func TestCrawlCacheManagement(t *testing.T) {
	srv := newTestServer(t, emptyBackend)

	rec := do(t, srv, http.MethodPost, "/v1/crawl", `{"urls":["https://example.com"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/v1/crawl/cache/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cache_size":1`)

	rec = do(t, srv, http.MethodPost, "/v1/crawl/cache/invalidate", `{"url":"https://example.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"removed":1`)

	rec = do(t, srv, http.MethodPost, "/v1/crawl/cache/invalidate", `{}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/v1/crawl/cache/clear", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGeocodeCacheManagement(t *testing.T) {
	srv := newTestServer(t, parisBackend)

	rec := do(t, srv, http.MethodGet, "/v1/geocode/Paris", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/v1/geocode/cache/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cache_size":1`)

	rec = do(t, srv, http.MethodPost, "/v1/geocode/cache/clear", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cleared":1`)

	rec = do(t, srv, http.MethodPost, "/v1/geocode/cache/cleanup", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
