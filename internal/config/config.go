// Package config loads feedbackd's configuration: Defaults, then an
// optional YAML file, then the environment (see LoadWithFile).
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config holds the complete feedbackd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Auth          AuthConfig          `koanf:"auth"`
	RateLimit     RateLimitConfig     `koanf:"ratelimit"`
	Redis         RedisConfig         `koanf:"redis"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For. Empty keys
	// rate limits on the connecting address.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// DatabaseConfig selects and tunes the correction store backend.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"` // "sqlite" or "postgres"
	DSN             Secret        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	LogSQL          bool          `koanf:"log_sql"`
}

// AuthConfig holds the API key registry. Keys maps token to principal name.
type AuthConfig struct {
	Keys map[string]string `koanf:"keys"`
}

// RateLimitConfig holds per endpoint class request budgets.
type RateLimitConfig struct {
	Backend   string        `koanf:"backend"` // "memory" or "redis"
	Window    time.Duration `koanf:"window"`
	Ingestion int           `koanf:"ingestion"`
	Export    int           `koanf:"export"`
	Stats     int           `koanf:"stats"`
}

// RedisConfig configures the shared rate limit counter backend.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultKeys are the demo and admin principals the service ships with.
func DefaultKeys() map[string]string {
	return map[string]string{
		"demo-key-123":  "demo",
		"admin-key-456": "admin",
	}
}

// Defaults returns the configuration feedbackd runs with when neither a
// file nor the environment says otherwise: SQLite in ./feedback.db,
// in-memory rate limiting at 10/5/30 requests a minute, the demo keys,
// telemetry off.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "feedback.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: AuthConfig{Keys: DefaultKeys()},
		RateLimit: RateLimitConfig{
			Backend:   "memory",
			Window:    time.Minute,
			Ingestion: 10,
			Export:    5,
			Stats:     30,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Observability: ObservabilityConfig{
			ServiceName: "feedbackd",
			Endpoint:    "localhost:4317",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("invalid trusted proxy %q: must be a CIDR", cidr)
		}
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (must be sqlite or postgres)", c.Database.Driver)
	}
	if !c.Database.DSN.IsSet() {
		return errors.New("database dsn is required")
	}

	if len(c.Auth.Keys) == 0 {
		return errors.New("at least one api key must be configured")
	}
	for token, principal := range c.Auth.Keys {
		if strings.TrimSpace(token) == "" || strings.TrimSpace(principal) == "" {
			return errors.New("api keys and principals cannot be empty")
		}
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis addr required when ratelimit backend is redis")
		}
	default:
		return fmt.Errorf("unsupported ratelimit backend %q (must be memory or redis)", c.RateLimit.Backend)
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("ratelimit window must be positive")
	}
	if c.RateLimit.Ingestion < 1 || c.RateLimit.Export < 1 || c.RateLimit.Stats < 1 {
		return errors.New("ratelimit budgets must be at least 1")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// ParseKeys parses "token=principal,token=principal" into a key registry.
func ParseKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, principal, ok := strings.Cut(pair, "=")
		token, principal = strings.TrimSpace(token), strings.TrimSpace(principal)
		if !ok || token == "" || principal == "" {
			return nil, fmt.Errorf("invalid api key entry %q (want token=principal)", pair)
		}
		keys[token] = principal
	}
	if len(keys) == 0 {
		return nil, errors.New("no api keys in list")
	}
	return keys, nil
}
