// Package api exposes the HTTP interface for the geocoding and crawling
// services.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkaufmann/toolbridge/internal/auth"
	"github.com/mkaufmann/toolbridge/internal/config"
	"github.com/mkaufmann/toolbridge/internal/crawl"
	"github.com/mkaufmann/toolbridge/internal/geocode"
	"github.com/mkaufmann/toolbridge/internal/telemetry"
)

// Server wires HTTP handlers to the domain services.
type Server struct {
	router   chi.Router
	geocoder *geocode.Service
	crawler  *crawl.Service
	tokens   *auth.TokenService
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The mcpHandler
// is mounted under /mcp behind MCP-audience auth; pass nil to disable the
// bridge.
func NewServer(
	cfg config.Config,
	geocoder *geocode.Service,
	crawler *crawl.Service,
	tokens *auth.TokenService,
	mcpHandler http.Handler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		geocoder: geocoder,
		crawler:  crawler,
		tokens:   tokens,
		cfg:      cfg,
		logger:   logger,
	}

	apiAuth := auth.NewMiddleware(cfg.Auth.Enabled, cfg.Auth.APIKey, tokens, auth.AudienceAPI, logger)
	mcpAuth := auth.NewMiddleware(cfg.Auth.Enabled, cfg.Auth.APIKey, tokens, s.mcpAudience(), logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.observeMiddleware)
	r.Use(s.recoverMiddleware)

	// Only the cheap endpoints get a wall-clock timeout. A recursive crawl
	// may legitimately run for its full page budget times the poll ceiling,
	// and the MCP handler streams responses, so neither can sit behind
	// http.TimeoutHandler.
	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", telemetry.Handler())

		r.Route("/v1/auth", func(r chi.Router) {
			r.Post("/token", s.issueToken(auth.AudienceAPI, s.tokenTTL()))
			r.Post("/mcp-token", s.issueToken(s.mcpAudience(), s.mcpTokenTTL()))
		})

		r.Route("/v1/geocode", func(r chi.Router) {
			r.Use(apiAuth.Handler)
			r.Get("/cache/stats", s.geocodeCacheStats)
			r.Post("/cache/clear", s.geocodeCacheClear)
			r.Post("/cache/cleanup", s.geocodeCacheCleanup)
			r.Get("/{city}", s.geocodeCity)
		})
	})

	r.Route("/v1/crawl", func(r chi.Router) {
		r.Use(apiAuth.Handler)
		r.Post("/", s.crawlURLs)
		r.Get("/health", s.crawlHealth)
		r.Get("/cache/stats", s.crawlCacheStats)
		r.Post("/cache/clear", s.crawlCacheClear)
		r.Post("/cache/cleanup", s.crawlCacheCleanup)
		r.Post("/cache/invalidate", s.crawlCacheInvalidate)
	})

	if mcpHandler != nil {
		r.Mount("/mcp", mcpAuth.Handler(mcpHandler))
	}

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) mcpAudience() string {
	if s.cfg.Auth.MCPAudience != "" {
		return s.cfg.Auth.MCPAudience
	}
	return auth.AudienceMCP
}

func (s *Server) tokenTTL() time.Duration {
	return time.Duration(s.cfg.Auth.TokenTTLMinutes) * time.Minute
}

func (s *Server) mcpTokenTTL() time.Duration {
	return time.Duration(s.cfg.Auth.MCPTokenTTLMinutes) * time.Minute
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// Upstream reachability is reported on /v1/crawl/health; readiness only
	// covers this process.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// issueToken mints a bearer token for the given audience. Minting always
// requires the static API key; accepting bearer tokens here would let any
// token refresh itself forever.
func (s *Server) issueToken(audience string, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.Enabled {
			key := r.Header.Get("X-API-KEY")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Auth.APIKey)) != 1 {
				s.writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
		}

		token, expiresAt, err := s.tokens.Issue("api-key-holder", audience, ttl)
		if err != nil {
			s.logger.Error("token issue failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "could not issue token")
			return
		}
		s.writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: token,
			TokenType:   "bearer",
			ExpiresAt:   expiresAt,
		})
	}
}

func (s *Server) geocodeCity(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")

	resolved, err := s.geocoder.Geocode(r.Context(), city)
	if err != nil {
		var upstream *geocode.UpstreamError
		if errors.As(err, &upstream) {
			s.writeError(w, http.StatusServiceUnavailable, upstream.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if resolved == nil {
		s.writeError(w, http.StatusNotFound, "city not found: "+city)
		return
	}
	s.writeJSON(w, http.StatusOK, resolved)
}

func (s *Server) geocodeCacheStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.geocoder.CacheStats())
}

func (s *Server) geocodeCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": s.geocoder.ClearCache()})
}

func (s *Server) geocodeCacheCleanup(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": s.geocoder.CleanupExpiredCache()})
}

func (s *Server) crawlURLs(w http.ResponseWriter, r *http.Request) {
	var req crawl.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Per-URL failures are embedded in the response, so the crawl endpoint
	// answers 200 whenever the request itself was valid.
	s.writeJSON(w, http.StatusOK, s.crawler.Crawl(r.Context(), req))
}

func (s *Server) crawlHealth(w http.ResponseWriter, r *http.Request) {
	health := s.crawler.Health(r.Context())
	status := http.StatusOK
	if !health.UpstreamHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) crawlCacheStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.crawler.CacheStats())
}

func (s *Server) crawlCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": s.crawler.ClearCache()})
}

func (s *Server) crawlCacheCleanup(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": s.crawler.CleanupExpiredCache()})
}

func (s *Server) crawlCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": s.crawler.InvalidateURL(body.URL)})
}

type requestIDKey struct{}

// RequestID returns the request id injected by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observeMiddleware records the access log entry and the Prometheus HTTP
// series for every request. Metrics are labeled with the chi route pattern
// rather than the raw path so parameterized routes stay one series.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unrouted"
		}
		elapsed := time.Since(start)
		telemetry.ObserveHTTPRequest(r.Method, route, ww.status, elapsed)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("path", r.URL.Path),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
