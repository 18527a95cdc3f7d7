package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/feedbackd/internal/telemetry"
)

// captureStdout redirects the stdout core into a buffer for the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, cfg, logger.config)

	cfg.Format = "xml"
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}
	ctx := context.Background()

	tests := []struct {
		name    string
		logFunc func()
		level   zapcore.Level
	}{
		{"trace", func() { logger.Trace(ctx, "msg") }, TraceLevel},
		{"debug", func() { logger.Debug(ctx, "msg") }, zapcore.DebugLevel},
		{"info", func() { logger.Info(ctx, "msg") }, zapcore.InfoLevel},
		{"warn", func() { logger.Warn(ctx, "msg") }, zapcore.WarnLevel},
		{"error", func() { logger.Error(ctx, "msg") }, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed.TakeAll()
			tt.logFunc()
			logs := observed.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
		})
	}
}

func TestLogger_InjectsContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPrincipal(ctx, "demo")
	ctx = WithEndpointClass(ctx, "export")
	tl.Info(ctx, "export started")

	tl.AssertField(t, "export started", "request.id", "req-1")
	tl.AssertField(t, "export started", "principal", "demo")
	tl.AssertField(t, "export started", "endpoint.class", "export")
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()

	child := tl.With(zap.String("component", "store")).Named("store")
	child.Info(context.Background(), "opened")

	entries := tl.FilterMessage("opened").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "store", entries[0].LoggerName)
	assert.Equal(t, "store", entries[0].ContextMap()["component"])
}

func TestLogger_RedactsPerCallFields(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	logger.Info(context.Background(), "auth attempt",
		zap.String("authorization", "Bearer demo-key-123"),
		zap.String("note", "api_key=demo-key-123"),
		zap.String("image_id", "img-1"),
	)
	logger.Warn(context.Background(), "header was Bearer admin-key-456")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "demo-key-123")
	assert.NotContains(t, buf.String(), "admin-key-456")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "[REDACTED]", lines[0]["authorization"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["note"])
	assert.Equal(t, "img-1", lines[0]["image_id"])
	assert.Equal(t, "feedbackd", lines[0]["service"])
}

func TestLogger_SamplingKeepsErrors(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	cfg.Sampling.Levels = map[zapcore.Level]LevelSamplingConfig{
		zapcore.InfoLevel: {Initial: 2, Thereafter: 0},
	}

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		logger.Info(ctx, "hot path")
		logger.Error(ctx, "failure")
		logger.Debug(ctx, "unsampled level")
	}

	var info, errs, debug int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "hot path":
			info++
		case "failure":
			errs++
		case "unsampled level":
			debug++
		}
	}
	assert.Equal(t, 2, info)
	assert.Equal(t, 10, errs)
	assert.Equal(t, 10, debug)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("DEBUG", "console")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg, err = FromSettings("trace", "")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	_, err = FromSettings("loud", "json")
	assert.Error(t, err)

	_, err = FromSettings("info", "yaml")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad format", func(c *Config) { c.Format = "text" }, false},
		{"no outputs", func(c *Config) { c.Output.Stdout = false }, false},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, false},
		{"negative caller skip", func(c *Config) { c.Caller.Skip = -1 }, false},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, false},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }, false},
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

func TestLogger_StderrOutput(t *testing.T) {
	out := captureStdout(t)
	var errBuf bytes.Buffer
	orig := stderr
	stderr = &errBuf
	t.Cleanup(func() { stderr = orig })

	cfg := NewDefaultConfig()
	cfg.Output.Stderr = true
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	logger.Info(context.Background(), "export complete")
	require.NoError(t, logger.Sync())

	assert.Empty(t, out.String())
	assert.Contains(t, errBuf.String(), "export complete")
}

func TestLogger_CallerAndTraceLevelName(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Level = TraceLevel
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	logger.Trace(context.Background(), "record written")
	require.NoError(t, logger.Sync())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
	assert.Contains(t, lines[0]["caller"], "logging/logger_test.go")
}

func TestLogger_OTELBridge(t *testing.T) {
	captureStdout(t)
	tel := telemetry.NewTestTelemetry()

	cfg := NewDefaultConfig()
	cfg.Output.OTEL = true
	cfg.Sampling.Enabled = false
	logger, err := NewLogger(cfg, tel.LoggerProvider())
	require.NoError(t, err)

	ctx := context.Background()
	logger.Debug(ctx, "below the configured level")
	logger.With(zap.String("principal", "mobile-app")).Info(ctx, "correction stored",
		zap.String("api_key", "demo-key-123"),
		zap.Int64("correction_id", 7))
	require.NoError(t, logger.Sync())

	records := tel.Logs.Records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "correction stored", rec.Body().AsString())
	assert.Equal(t, "github.com/fyrsmithlabs/feedbackd", rec.InstrumentationScope().Name)

	attrs := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.String()
		return true
	})
	assert.Equal(t, "[REDACTED]", attrs["api_key"])
	assert.Equal(t, "mobile-app", attrs["principal"])
	assert.Equal(t, "7", attrs["correction_id"])
}

func TestLogger_OTELBridgeOffWithoutProvider(t *testing.T) {
	buf := captureStdout(t)
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = true

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	logger.Info(context.Background(), "still on stdout")
	require.NoError(t, logger.Sync())
	assert.Contains(t, buf.String(), "still on stdout")
}
