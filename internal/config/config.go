// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	AppName string        `mapstructure:"app_name"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Geocode GeocodeConfig `mapstructure:"geocode"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API and MCP authentication settings.
type AuthConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	APIKey             string `mapstructure:"api_key"`
	JWTSecret          string `mapstructure:"jwt_secret"`
	TokenTTLMinutes    int    `mapstructure:"token_ttl_minutes"`
	MCPIssuer          string `mapstructure:"mcp_issuer"`
	MCPAudience        string `mapstructure:"mcp_audience"`
	MCPTokenTTLMinutes int    `mapstructure:"mcp_token_ttl_minutes"`
}

// GeocodeConfig governs the Nominatim client.
type GeocodeConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	CacheTTLHours     int    `mapstructure:"cache_ttl_hours"`
	RateWindowSeconds int    `mapstructure:"rate_window_seconds"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// CrawlConfig governs the upstream crawl service client and orchestrator.
type CrawlConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	APIToken            string `mapstructure:"api_token"`
	CacheTTLHours       int    `mapstructure:"cache_ttl_hours"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	MaxPolls            int    `mapstructure:"max_polls"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	RateWindowSeconds   int    `mapstructure:"rate_window_seconds"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOOLBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "toolbridge")
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.token_ttl_minutes", 60)
	v.SetDefault("auth.mcp_issuer", "toolbridge")
	v.SetDefault("auth.mcp_audience", "toolbridge-mcp")
	v.SetDefault("auth.mcp_token_ttl_minutes", 60)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.cache_ttl_hours", 24)
	v.SetDefault("geocode.rate_window_seconds", 1)
	v.SetDefault("geocode.timeout_seconds", 10)
	v.SetDefault("crawl.base_url", "http://localhost:11235")
	v.SetDefault("crawl.cache_ttl_hours", 1)
	v.SetDefault("crawl.poll_interval_seconds", 1)
	v.SetDefault("crawl.max_polls", 30)
	v.SetDefault("crawl.timeout_seconds", 30)
	v.SetDefault("crawl.rate_window_seconds", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled {
		if len(c.Auth.APIKey) < 8 {
			return fmt.Errorf("auth.api_key must be at least 8 characters when auth is enabled")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must be set when auth is enabled")
		}
	}
	if c.Geocode.RateWindowSeconds <= 0 {
		return fmt.Errorf("geocode.rate_window_seconds must be > 0")
	}
	if c.Crawl.RateWindowSeconds <= 0 {
		return fmt.Errorf("crawl.rate_window_seconds must be > 0")
	}
	if c.Crawl.PollIntervalSeconds <= 0 || c.Crawl.MaxPolls <= 0 {
		return fmt.Errorf("crawl poll settings must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	return nil
}

// GeocodeTimeout converts the geocoding HTTP timeout into a duration.
func (c Config) GeocodeTimeout() time.Duration {
	return time.Duration(c.Geocode.TimeoutSeconds) * time.Second
}

// CrawlTimeout converts the crawl HTTP timeout into a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}
