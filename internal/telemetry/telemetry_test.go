package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"disabled defaults", func(*Config) {}, true},
		{"enabled local", func(c *Config) { c.Enabled = true }, true},
		{"enabled no endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, false},
		{"enabled no service", func(c *Config) { c.Enabled = true; c.ServiceName = "" }, false},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "collector.example.com:4317" }, false},
		{"secure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}, true},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "thrift" }, false},
		{"bad rate", func(c *Config) { c.Enabled = true; c.Sampling.Rate = 1.5 }, false},
		{"zero interval", func(c *Config) { c.Enabled = true; c.Metrics.ExportInterval = 0 }, false},
		{"zero shutdown", func(c *Config) { c.Enabled = true; c.Shutdown.Timeout = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestFromObservability(t *testing.T) {
	cfg := FromObservability(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "feedback-api",
		Endpoint:        "https://otel.example.com",
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "feedback-api", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.False(t, cfg.Insecure)
	assert.NoError(t, cfg.Validate())

	cfg = FromObservability(config.ObservabilityConfig{}, "")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "feedbackd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4317", stripScheme("otel:4317"))
}

func TestIsLocalEndpoint(t *testing.T) {
	for endpoint, want := range map[string]bool{
		"localhost:4317":        true,
		"127.0.0.1:4317":        true,
		"[::1]:4317":            true,
		"http://localhost:4318": true,
		"otel.example.com:4317": false,
	} {
		cfg := &Config{Endpoint: endpoint}
		assert.Equal(t, want, cfg.isLocalEndpoint(), endpoint)
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = ""

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_EnabledLocal(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Shutdown.Timeout = config.Duration(100 * time.Millisecond)

	// Exporters connect lazily, so construction succeeds without a collector.
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)
	assert.NotNil(t, tel.LoggerProvider())

	_ = tel.Shutdown(context.Background())
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NotNil(t, tel.TracerProvider())
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
}

func TestSetDegraded_KeepsFirstReason(t *testing.T) {
	tel := &Telemetry{}
	tel.setDegraded("tracer provider failed: %v", "boom")
	tel.setDegraded("meter provider failed: %v", "later")

	h := tel.Health()
	assert.True(t, h.Degraded)
	assert.Equal(t, "tracer provider failed: boom", h.Reason)
}

func TestTestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("feedbackd/test").Start(ctx, "store.create_correction")
	span.SetAttributes(attribute.Int64("correction.id", 7))
	span.End()

	tt.AssertSpanExists(t, "store.create_correction")
	tt.AssertSpanAttribute(t, "store.create_correction", "correction.id", int64(7))

	counter, err := tt.Meter("feedbackd/test").Int64Counter("feedbackd.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rm, err := tt.Collect(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, "feedbackd.test.count", rm.ScopeMetrics[0].Metrics[0].Name)

	attrs, ok := tt.SpanAttributes("store.create_correction")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"correction.id": int64(7)}, attrs)

	_, ok = tt.SpanAttributes("store.stream")
	assert.False(t, ok)

	var rec otellog.Record
	rec.SetBody(otellog.StringValue("export finished"))
	rec.SetSeverity(otellog.SeverityInfo)
	tt.LoggerProvider().Logger("feedbackd/test").Emit(ctx, rec)
	assert.Equal(t, []string{"export finished"}, tt.Logs.Bodies())

	assert.NoError(t, tt.Shutdown(ctx))
	assert.False(t, tt.IsEnabled())
}
