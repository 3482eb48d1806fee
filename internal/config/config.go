package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Database configuration
	DatabasePath string `koanf:"database_path"`

	// Strava API configuration
	StravaClientID     string `koanf:"strava_client_id"`
	StravaClientSecret string `koanf:"strava_client_secret"`
	StravaVerifyToken  string `koanf:"strava_verify_token"`

	// Public domain used to build OAuth and webhook callback URLs
	Domain string `koanf:"domain"`

	// Admin API keys authorized to trigger polls, comma separated.
	// Injected into handlers at construction; never read from global state.
	AdminAPIKeys string `koanf:"admin_api_keys"`

	// Engine tuning
	TokenRefreshMarginSecs int `koanf:"token_refresh_margin_secs"`
	UpstreamTimeoutSecs    int `koanf:"upstream_timeout_secs"`
	PollPageSize           int `koanf:"poll_page_size"`

	// Metrics configuration
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	MetricsHost    string `koanf:"metrics_host"`
	MetricsPort    int    `koanf:"metrics_port"`

	// Logging configuration
	LogLevel string `koanf:"log_level"`
}

func defaults() Config {
	return Config{
		Host:                   "localhost",
		Port:                   4201,
		DatabasePath:           "./data.db",
		TokenRefreshMarginSecs: 300,
		UpstreamTimeoutSecs:    30,
		PollPageSize:           50,
		MetricsEnabled:         false,
		MetricsHost:            "localhost",
		MetricsPort:            4202,
		LogLevel:               "info",
	}
}

// Load builds the configuration from struct defaults overridden by
// environment variables (flat upper-case names, e.g. STRAVA_CLIENT_ID).
// It fails fast if required variables are missing.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var missingVars []string
	if cfg.StravaClientID == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_ID")
	}
	if cfg.StravaClientSecret == "" {
		missingVars = append(missingVars, "STRAVA_CLIENT_SECRET")
	}
	if cfg.StravaVerifyToken == "" {
		missingVars = append(missingVars, "STRAVA_VERIFY_TOKEN")
	}
	if cfg.AdminAPIKeys == "" {
		missingVars = append(missingVars, "ADMIN_API_KEYS")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return &cfg, nil
}

// AdminKeySet returns the configured admin API keys as a lookup set
func (c *Config) AdminKeySet() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, key := range strings.Split(c.AdminAPIKeys, ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			keys[key] = struct{}{}
		}
	}
	return keys
}

// TokenRefreshMargin returns the refresh-ahead safety margin
func (c *Config) TokenRefreshMargin() time.Duration {
	return time.Duration(c.TokenRefreshMarginSecs) * time.Second
}

// UpstreamTimeout returns the per-request timeout for upstream API calls
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSecs) * time.Second
}
