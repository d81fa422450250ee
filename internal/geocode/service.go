// Package geocode resolves city names to coordinates through a
// Nominatim-compatible search API, with a TTL cache keyed by the normalized
// city name and a shared rate limiter gating upstream calls.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkaufmann/toolbridge/internal/cache"
	"github.com/mkaufmann/toolbridge/internal/clock"
	"github.com/mkaufmann/toolbridge/internal/ratelimit"
	"github.com/mkaufmann/toolbridge/internal/telemetry"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Response is a resolved city. Cached reports whether this lookup was served
// from the cache rather than the upstream.
type Response struct {
	City        string    `json:"city"`
	Location    Location  `json:"location"`
	DisplayName string    `json:"display_name"`
	PlaceID     int64     `json:"place_id"`
	BoundingBox []float64 `json:"bounding_box,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Cached      bool      `json:"cached"`
}

// UpstreamError reports a failure talking to or understanding the geocoding
// upstream. Callers map it to a 503.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geocoding service error: %v", e.Err)
	}
	return fmt.Sprintf("geocoding service error: status %d", e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// nominatimPlace mirrors one search result. Nominatim encodes coordinates
// and bounding boxes as strings.
type nominatimPlace struct {
	PlaceID     int64    `json:"place_id"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox"`
}

// Config configures the geocoding service.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Service performs cached, rate-limited forward geocoding.
type Service struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      *cache.Store[Response]
	clock      clock.Clock
	logger     *zap.Logger
}

// NewService constructs the geocoding service.
func NewService(cfg Config, limiter *ratelimit.Limiter, cacheTTL time.Duration, clk clock.Clock, logger *zap.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		cache:      cache.New[Response]("geocode", cacheTTL, clk),
		clock:      clk,
		logger:     logger,
	}
}

// cacheKey normalizes a city for cache lookups: surrounding whitespace and
// case differences must hit the same entry.
func cacheKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// Geocode resolves a city name. A (nil, nil) return means the upstream found
// no match; an *UpstreamError means the upstream call failed.
func (s *Service) Geocode(ctx context.Context, city string) (*Response, error) {
	trimmed := strings.TrimSpace(city)
	if trimmed == "" {
		return nil, fmt.Errorf("city must not be empty")
	}

	key := cacheKey(trimmed)
	if cached, ok := s.cache.Get(key); ok {
		cached.Cached = true
		return &cached, nil
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, &UpstreamError{Err: err}
	}

	place, err := s.search(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if place == nil {
		return nil, nil
	}

	response, err := buildResponse(trimmed, *place, s.clock.Now())
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	s.cache.Set(key, *response)
	return response, nil
}

func (s *Service) search(ctx context.Context, city string) (*nominatimPlace, error) {
	start := time.Now()

	query := url.Values{}
	query.Set("q", city)
	query.Set("format", "json")
	query.Set("addressdetails", "1")
	query.Set("limit", "5")
	query.Set("accept-language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		telemetry.ObserveUpstreamRequest("geocode", "error", time.Since(start))
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		telemetry.ObserveUpstreamRequest("geocode", "error", time.Since(start))
		return nil, &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("search returned status %d", resp.StatusCode)}
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		telemetry.ObserveUpstreamRequest("geocode", "error", time.Since(start))
		return nil, &UpstreamError{Err: fmt.Errorf("decode search response: %w", err)}
	}
	telemetry.ObserveUpstreamRequest("geocode", "ok", time.Since(start))

	if len(places) == 0 {
		s.logger.Info("city not found", zap.String("city", city))
		return nil, nil
	}
	return &places[0], nil
}

// buildResponse converts a raw place into a Response, parsing string-encoded
// numbers. Bounding box entries that fail to parse drop the whole box rather
// than returning a partial one.
func buildResponse(city string, place nominatimPlace, now time.Time) (*Response, error) {
	lat, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse latitude %q: %w", place.Lat, err)
	}
	lon, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse longitude %q: %w", place.Lon, err)
	}

	response := &Response{
		City:        city,
		Location:    Location{Lat: lat, Lon: lon},
		DisplayName: place.DisplayName,
		PlaceID:     place.PlaceID,
		Timestamp:   now,
	}

	if len(place.BoundingBox) > 0 {
		box := make([]float64, 0, len(place.BoundingBox))
		for _, raw := range place.BoundingBox {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				box = nil
				break
			}
			box = append(box, v)
		}
		response.BoundingBox = box
	}

	return response, nil
}

// CacheStats exposes the city cache statistics.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// ClearCache drops all cached cities and returns the count removed.
func (s *Service) ClearCache() int {
	return s.cache.Clear()
}

// CleanupExpiredCache sweeps expired cache entries.
func (s *Service) CleanupExpiredCache() int {
	return len(s.cache.CleanupExpired())
}
