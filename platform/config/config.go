// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq-based scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetRefreshInterval() time.Duration
}

// RefreshConfig provides settings for the incremental refresh engine.
type RefreshConfig interface {
	// GetSpineStartDate is the first day of the date spine.
	GetSpineStartDate() time.Time
	// GetRefreshLookback is the safety lookback subtracted from the watermark
	// to tolerate late-arriving fulfillment events.
	GetRefreshLookback() time.Duration
	// GetDeriveConcurrency bounds the number of parallel metric derivation
	// partitions per run.
	GetDeriveConcurrency() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env               string
	HTTPAddr          string
	DatabaseURL       string
	RedisURL          string
	RedisTLSInsecure  bool
	AsynqQueueName    string
	AsynqConcurrency  int
	RefreshInterval   time.Duration
	RefreshLookback   time.Duration
	SpineStartDate    time.Time
	DeriveConcurrency int
	CORSAllowAll      bool
	CORSOrigins       []string
	CORSAllowCreds    bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string               { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool         { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string         { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int          { return c.AsynqConcurrency }
func (c *Config) GetRefreshInterval() time.Duration { return c.RefreshInterval }

// RefreshConfig implementation
func (c *Config) GetSpineStartDate() time.Time      { return c.SpineStartDate }
func (c *Config) GetRefreshLookback() time.Duration { return c.RefreshLookback }
func (c *Config) GetDeriveConcurrency() int         { return c.DeriveConcurrency }

// =============================================================================
// Loading
// =============================================================================

// Load reads configuration from the environment, with .env support for
// local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	spineStart, err := time.Parse("2006-01-02", getEnv("SPINE_START_DATE", defaultSpineStart()))
	if err != nil {
		return nil, fmt.Errorf("invalid SPINE_START_DATE: %w", err)
	}

	cfg := &Config{
		Env:               getEnv("APP_ENV", "development"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		RedisTLSInsecure:  strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:    getEnv("ASYNQ_QUEUE", "analytics"),
		AsynqConcurrency:  mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		RefreshInterval:   mustDuration(getEnv("REFRESH_INTERVAL", "1h")),
		RefreshLookback:   mustDuration(getEnv("REFRESH_LOOKBACK", "72h")),
		SpineStartDate:    spineStart,
		DeriveConcurrency: mustInt(getEnv("DERIVE_CONCURRENCY", "8")),
		CORSAllowAll:      corsAllowAll,
		CORSOrigins:       corsOrigins,
		CORSAllowCreds:    strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RefreshLookback < 0 {
		return nil, fmt.Errorf("REFRESH_LOOKBACK must not be negative")
	}
	if cfg.DeriveConcurrency < 1 {
		cfg.DeriveConcurrency = 1
	}

	return cfg, nil
}

// defaultSpineStart covers five years of history, matching the reporting
// window the aggregate table is expected to serve.
func defaultSpineStart() string {
	return time.Now().UTC().AddDate(-5, 0, 0).Format("2006-01-02")
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
