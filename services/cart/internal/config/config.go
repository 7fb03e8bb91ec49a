package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/EcommerceGo/pkg/config"
)

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CART_HTTP_PORT" envDefault:"8003"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass     string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`

	// Persisted guest cart TTL in hours (default: 7 days)
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`

	// Sessions
	SessionIdleMinutes  int `env:"CART_SESSION_IDLE_MINUTES" envDefault:"30"`
	ReapIntervalSeconds int `env:"CART_REAP_INTERVAL_SECONDS" envDefault:"60"`

	// Remote services. An empty authority URL disables signed-in carts and an
	// empty catalog URL disables guest re-pricing.
	AuthorityURL     string `env:"CART_AUTHORITY_URL" envDefault:"http://localhost:8004"`
	CatalogURL       string `env:"CATALOG_URL" envDefault:"http://localhost:8001"`
	RemoteTimeoutMs  int    `env:"CART_REMOTE_TIMEOUT_MS" envDefault:"3000"`
	CatalogTimeoutMs int    `env:"CATALOG_TIMEOUT_MS" envDefault:"2000"`

	// Per-session limit on cart API requests, 0 disables it
	RateLimitRPS   float64 `env:"CART_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"CART_RATE_LIMIT_BURST" envDefault:"40"`

	// Kafka
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup string   `env:"CART_KAFKA_GROUP_PREFIX" envDefault:"cart-service"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow Redis command logging, 0 disables it
	SlowCommandThresholdMs int `env:"LOG_SLOW_COMMAND_MS" envDefault:"200"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants. It is run by Load.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.CartTTL < 1 {
		return fmt.Errorf("CART_TTL_HOURS must be positive, got %d", c.CartTTL)
	}
	if c.SessionIdleMinutes < 1 {
		return fmt.Errorf("CART_SESSION_IDLE_MINUTES must be positive, got %d", c.SessionIdleMinutes)
	}
	if c.ReapIntervalSeconds < 1 {
		return fmt.Errorf("CART_REAP_INTERVAL_SECONDS must be positive, got %d", c.ReapIntervalSeconds)
	}
	for name, raw := range map[string]string{"CART_AUTHORITY_URL": c.AuthorityURL, "CATALOG_URL": c.CatalogURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.RemoteTimeoutMs < 1 || c.CatalogTimeoutMs < 1 {
		return fmt.Errorf("remote timeouts must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("CART_RATE_LIMIT_RPS must not be negative, got %f", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("CART_RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst)
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// SnapshotTTL returns how long a persisted cart projection is kept.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.CartTTL) * time.Hour
}

// SessionIdle returns how long a session may stay unused before it is reaped.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

// ReapInterval returns how often idle sessions are reaped.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// RemoteTimeout returns the per-call timeout for the cart authority.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutMs) * time.Millisecond
}

// CatalogTimeout returns the per-call timeout for catalog lookups.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.CatalogTimeoutMs) * time.Millisecond
}
