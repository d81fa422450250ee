package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
app_name: toolbridge-test
server:
  port: 9090
auth:
  enabled: true
  api_key: super-secret
  jwt_secret: signing-secret
  token_ttl_minutes: 15
geocode:
  base_url: https://nominatim.example.org
  cache_ttl_hours: 12
  timeout_seconds: 5
crawl:
  base_url: http://crawl4ai:11235
  api_token: upstream-token
  cache_ttl_hours: 2
  max_polls: 10
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "super-secret" {
		t.Fatalf("expected auth enabled with key, got %+v", cfg.Auth)
	}
	if cfg.Auth.TokenTTLMinutes != 15 {
		t.Fatalf("expected token ttl 15, got %d", cfg.Auth.TokenTTLMinutes)
	}
	if cfg.Geocode.BaseURL != "https://nominatim.example.org" || cfg.Geocode.CacheTTLHours != 12 {
		t.Fatalf("expected geocode overrides to apply: %+v", cfg.Geocode)
	}
	if cfg.Crawl.BaseURL != "http://crawl4ai:11235" || cfg.Crawl.MaxPolls != 10 {
		t.Fatalf("expected crawl overrides to apply: %+v", cfg.Crawl)
	}
	// Unset values fall back to defaults.
	if cfg.Crawl.PollIntervalSeconds != 1 {
		t.Fatalf("expected default poll interval, got %d", cfg.Crawl.PollIntervalSeconds)
	}
	if got := cfg.GeocodeTimeout(); got != 5*time.Second {
		t.Fatalf("expected geocode timeout 5s, got %v", got)
	}
	if got := cfg.CrawlTimeout(); got != 30*time.Second {
		t.Fatalf("expected crawl timeout 30s, got %v", got)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("TOOLBRIDGE_AUTH_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Geocode.BaseURL != "https://nominatim.openstreetmap.org" {
		t.Fatalf("unexpected geocode base url %q", cfg.Geocode.BaseURL)
	}
	if cfg.Crawl.MaxPolls != 30 || cfg.Crawl.PollIntervalSeconds != 1 {
		t.Fatalf("unexpected poll defaults: %+v", cfg.Crawl)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging by default")
	}
}

func TestValidateRejectsShortAPIKey(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:  ServerConfig{Port: 8080},
		Auth:    AuthConfig{Enabled: true, APIKey: "short", JWTSecret: "secret"},
		Geocode: GeocodeConfig{RateWindowSeconds: 1},
		Crawl: CrawlConfig{
			RateWindowSeconds:   1,
			PollIntervalSeconds: 1,
			MaxPolls:            30,
			TimeoutSeconds:      30,
		},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected api_key validation error, got %v", err)
	}
}
