package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware guards routes with either the static API key (X-API-KEY header)
// or a bearer token for the given audience.
type Middleware struct {
	enabled  bool
	apiKey   string
	tokens   *TokenService
	audience string
	logger   *zap.Logger
}

// NewMiddleware constructs the auth middleware. With enabled false the
// middleware passes every request through.
func NewMiddleware(enabled bool, apiKey string, tokens *TokenService, audience string, logger *zap.Logger) *Middleware {
	return &Middleware{
		enabled:  enabled,
		apiKey:   apiKey,
		tokens:   tokens,
		audience: audience,
		logger:   logger,
	}
}

// Handler wraps next, rejecting requests that carry neither a valid API key
// nor a valid bearer token.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if key := r.Header.Get("X-API-KEY"); key != "" {
			if m.keyMatches(key) {
				next.ServeHTTP(w, r)
				return
			}
			m.logger.Warn("rejected request with invalid api key", zap.String("path", r.URL.Path))
			unauthorized(w, "invalid API key")
			return
		}

		if token, ok := bearerToken(r); ok {
			if _, err := m.tokens.Verify(token, m.audience); err != nil {
				m.logger.Warn("rejected request with invalid token",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		unauthorized(w, "missing credentials")
	})
}

func (m *Middleware) keyMatches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(m.apiKey)) == 1
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
