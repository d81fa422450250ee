// Package auth issues and verifies access tokens and guards HTTP routes.
//
// Two credentials are accepted: the static API key configured for the
// deployment, and short-lived HS256 tokens minted from it. Tokens carry an
// audience so that API tokens and MCP bridge tokens cannot be swapped.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mkaufmann/toolbridge/internal/clock"
)

// Token audiences. API tokens authorize the REST surface, MCP tokens the
// model-context bridge.
const (
	AudienceAPI = "toolbridge-api"
	AudienceMCP = "toolbridge-mcp"
)

// TokenService mints and validates signed tokens.
type TokenService struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

// NewTokenService constructs a TokenService signing with the given secret.
func NewTokenService(secret, issuer string, clk clock.Clock) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
		clock:  clk,
	}
}

// Issue mints a token for subject, scoped to audience, valid for ttl.
func (s *TokenService) Issue(subject, audience string, ttl time.Duration) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses a token and checks its signature, expiry, issuer, and
// audience.
func (s *TokenService) Verify(token, audience string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return claims, nil
}
