package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/storefront-session/pkg/config"
)

// Storage drivers for device-local state.
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config holds all configuration for the session daemon.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	// HTTP server
	HTTPPort           int      `env:"SESSION_HTTP_PORT" envDefault:"8090"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	PprofAllowedCIDRs  []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// Storefront backend
	StorefrontBaseURL   string        `env:"STOREFRONT_BASE_URL" envDefault:"http://localhost:8000/api/"`
	StorefrontLang      string        `env:"STOREFRONT_LANG" envDefault:"en"`
	StorefrontTimeout   time.Duration `env:"STOREFRONT_TIMEOUT" envDefault:"10s"`
	StorefrontRateLimit float64       `env:"STOREFRONT_RATE_LIMIT" envDefault:"20"`
	StorefrontRateBurst int           `env:"STOREFRONT_RATE_BURST" envDefault:"10"`
	TokenExpirySkew     time.Duration `env:"TOKEN_EXPIRY_SKEW" envDefault:"30s"`

	// Device-local storage
	StorageDriver string        `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"data/session.db"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass     string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	AccessTTL     time.Duration `env:"REDIS_ACCESS_TOKEN_TTL" envDefault:"5m"`
	DeviceID      string        `env:"DEVICE_ID" envDefault:"default"`

	// Circuit breaker settings for backend calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"200"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load session config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.StorefrontBaseURL == "" {
		return fmt.Errorf("STOREFRONT_BASE_URL is required")
	}
	u, err := url.ParseRequestURI(c.StorefrontBaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid STOREFRONT_BASE_URL %q", c.StorefrontBaseURL)
	}
	if c.StorefrontTimeout <= 0 {
		return fmt.Errorf("STOREFRONT_TIMEOUT must be positive, got %s", c.StorefrontTimeout)
	}
	if c.StorefrontRateLimit < 0 {
		return fmt.Errorf("STOREFRONT_RATE_LIMIT must not be negative, got %f", c.StorefrontRateLimit)
	}
	if c.StorefrontRateLimit > 0 && c.StorefrontRateBurst < 1 {
		return fmt.Errorf("STOREFRONT_RATE_BURST must be at least 1 when rate limiting, got %d", c.StorefrontRateBurst)
	}
	if c.TokenExpirySkew < 0 {
		return fmt.Errorf("TOKEN_EXPIRY_SKEW must not be negative, got %s", c.TokenExpirySkew)
	}
	switch c.StorageDriver {
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of sqlite, redis, memory, got %q", c.StorageDriver)
	}
	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.CBFailureRatio)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}
