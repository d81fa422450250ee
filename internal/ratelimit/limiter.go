// Package ratelimit implements a minimum-interval gate for outbound upstream calls.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/mkaufmann/toolbridge/internal/telemetry"
)

// Limiter serializes callers so that at most maxRequests upstream calls are
// started per window. With burst 1 this is a single-slot gate: concurrent
// Acquire calls queue inside rate.Limiter.Wait and each consumer observes a
// full window between grants.
type Limiter struct {
	name    string
	limiter *rate.Limiter
}

// Config holds rate limiter configuration.
type Config struct {
	// Name labels the limiter in metrics (e.g. "geocode", "crawl").
	Name string
	// MaxRequests per Window. Zero or negative means 1.
	MaxRequests int
	// Window is the interval over which MaxRequests applies.
	Window time.Duration
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	maxReq := cfg.MaxRequests
	if maxReq <= 0 {
		maxReq = 1
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	interval := window / time.Duration(maxReq)
	return &Limiter{
		name:    cfg.Name,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Acquire blocks until it is safe to make another upstream call, respecting
// the context. The wait is a suspension point only; no goroutine is blocked
// beyond the caller.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		telemetry.ObserveRateLimitDelay(l.name, delay)
	}
	return nil
}
