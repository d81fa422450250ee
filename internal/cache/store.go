// Package cache provides an in-memory key/value store with TTL expiry.
//
// The store is key-agnostic: callers derive keys from their own domain
// material (normalized city names, hashed URL+option tuples). Entries expire
// lazily on read and can be swept proactively with CleanupExpired.
package cache

import (
	"sync"
	"time"

	"github.com/mkaufmann/toolbridge/internal/clock"
	"github.com/mkaufmann/toolbridge/internal/telemetry"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Store maps string keys to values with a fixed TTL.
type Store[V any] struct {
	mu      sync.RWMutex
	service string
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]entry[V]
}

// Stats summarizes the store for health endpoints.
type Stats struct {
	Size                  int      `json:"cache_size"`
	TTLHours              float64  `json:"cache_ttl_hours"`
	OldestEntryAgeMinutes *float64 `json:"oldest_entry_age_minutes"`
	ExpiredCount          int      `json:"expired_entries"`
}

// New constructs a Store. The service name labels cache metrics.
func New[V any](service string, ttl time.Duration, clk clock.Clock) *Store[V] {
	return &Store[V]{
		service: service,
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the value for key if present and fresh. An entry whose age has
// reached the TTL is evicted as a side effect of the read.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.entries[key]
	if !ok {
		telemetry.ObserveCacheEvent(s.service, "miss")
		return zero, false
	}
	if s.clock.Now().Sub(e.storedAt) >= s.ttl {
		delete(s.entries, key)
		telemetry.ObserveCacheEvent(s.service, "evict")
		telemetry.ObserveCacheEvent(s.service, "miss")
		return zero, false
	}
	telemetry.ObserveCacheEvent(s.service, "hit")
	return e.value, true
}

// Set stores value under key, unconditionally overwriting and resetting age.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry[V]{value: value, storedAt: s.clock.Now()}
	telemetry.ObserveCacheEvent(s.service, "store")
}

// Delete removes key if present and reports whether it existed.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// Clear removes all entries and returns the number removed.
func (s *Store[V]) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.entries)
	s.entries = make(map[string]entry[V])
	return count
}

// CleanupExpired sweeps expired entries without requiring reads and returns
// the removed keys so callers can maintain secondary indexes.
func (s *Store[V]) CleanupExpired() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var removed []string
	for key, e := range s.entries {
		if now.Sub(e.storedAt) >= s.ttl {
			delete(s.entries, key)
			removed = append(removed, key)
		}
	}
	for range removed {
		telemetry.ObserveCacheEvent(s.service, "evict")
	}
	return removed
}

// Len reports the number of entries, expired or not.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats reports size, TTL, oldest entry age, and the count of entries that
// have expired but not yet been evicted.
func (s *Store[V]) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Size:     len(s.entries),
		TTLHours: s.ttl.Hours(),
	}
	if len(s.entries) == 0 {
		return stats
	}
	now := s.clock.Now()
	var oldest time.Time
	for _, e := range s.entries {
		if oldest.IsZero() || e.storedAt.Before(oldest) {
			oldest = e.storedAt
		}
		if now.Sub(e.storedAt) >= s.ttl {
			stats.ExpiredCount++
		}
	}
	age := now.Sub(oldest).Minutes()
	stats.OldestEntryAgeMinutes = &age
	return stats
}
