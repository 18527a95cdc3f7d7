// Package telemetry provides OpenTelemetry tracing and metrics for feedbackd.
//
// Telemetry is disabled by default. When enabled, spans and metrics are
// exported over OTLP (gRPC by default, or HTTP/protobuf). Provider failures
// never stop the service; the instance reports itself degraded instead.
package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool           `koanf:"enabled"`
	Endpoint       string         `koanf:"endpoint"`
	Protocol       string         `koanf:"protocol"` // "grpc" or "http/protobuf"
	ServiceName    string         `koanf:"service_name"`
	ServiceVersion string         `koanf:"service_version"`
	Insecure       bool           `koanf:"insecure"`
	Sampling       SamplingConfig `koanf:"sampling"`
	Metrics        MetricsConfig  `koanf:"metrics"`
	Shutdown       ShutdownConfig `koanf:"shutdown"`
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns telemetry defaults. Disabled until an operator
// points it at a collector.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "feedbackd",
		ServiceVersion: "dev",
		Insecure:       true,
		Sampling:       SamplingConfig{Rate: 1.0},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// FromObservability derives telemetry config from the service config.
func FromObservability(obs config.ObservabilityConfig, version string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = obs.EnableTelemetry
	if obs.ServiceName != "" {
		cfg.ServiceName = obs.ServiceName
	}
	if obs.Endpoint != "" {
		cfg.Endpoint = obs.Endpoint
		if strings.HasPrefix(obs.Endpoint, "https://") {
			cfg.Protocol = "http/protobuf"
			cfg.Insecure = false
		}
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	return cfg
}

// Validate rejects configs that would export nowhere or in the clear to
// a remote collector. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var problems []string
	if c.Endpoint == "" {
		problems = append(problems, "endpoint is required")
	}
	if c.ServiceName == "" {
		problems = append(problems, "service_name is required")
	}
	if c.Protocol != "" && c.Protocol != "grpc" && c.Protocol != protocolHTTP {
		problems = append(problems, fmt.Sprintf("protocol %q is not grpc or %s", c.Protocol, protocolHTTP))
	}
	if c.Endpoint != "" && c.Insecure && !c.isLocalEndpoint() {
		problems = append(problems, "insecure export is only allowed to a loopback endpoint")
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		problems = append(problems, fmt.Sprintf("sampling.rate %v is outside [0, 1]", c.Sampling.Rate))
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		problems = append(problems, "metrics.export_interval must be positive")
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		problems = append(problems, "shutdown.timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("telemetry: %s", strings.Join(problems, "; "))
	}
	return nil
}

// isLocalEndpoint reports whether the endpoint host is localhost or a
// loopback IP.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
