package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans, metrics and logs in memory so store and HTTP
// tests can assert on what was emitted.
type TestTelemetry struct {
	*Telemetry

	Recorder *tracetest.SpanRecorder
	Reader   *sdkmetric.ManualReader
	Logs     *LogRecorder
}

// NewTestTelemetry returns an enabled instance backed by a span recorder,
// a manual metric reader and a log recorder.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	rec := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	logs := &LogRecorder{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(logs))

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: tp,
			meterProvider:  mp,
			loggerProvider: lp,
			exporters:      []namedExporter{{"traces", tp}, {"metrics", mp}, {"logs", lp}},
			status:         HealthStatus{Healthy: true},
		},
		Recorder: rec,
		Reader:   reader,
		Logs:     logs,
	}
}

// LogRecorder is a log processor that keeps every emitted record.
type LogRecorder struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (r *LogRecorder) OnEmit(_ context.Context, rec *sdklog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec.Clone())
	return nil
}

func (r *LogRecorder) Enabled(context.Context, sdklog.EnabledParameters) bool { return true }

func (r *LogRecorder) Shutdown(context.Context) error   { return nil }
func (r *LogRecorder) ForceFlush(context.Context) error { return nil }

// Records returns a copy of what has been emitted so far.
func (r *LogRecorder) Records() []sdklog.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sdklog.Record(nil), r.records...)
}

// Bodies returns the string bodies of the emitted records in order.
func (r *LogRecorder) Bodies() []string {
	recs := r.Records()
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Body().AsString())
	}
	return out
}

// SpanAttributes returns the attributes of the first ended span called
// name, keyed by attribute name. ok is false when no such span ended.
func (t *TestTelemetry) SpanAttributes(name string) (attrs map[string]any, ok bool) {
	for _, s := range t.Recorder.Ended() {
		if s.Name() != name {
			continue
		}
		attrs = make(map[string]any, len(s.Attributes()))
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = valueOf(kv.Value)
		}
		return attrs, true
	}
	return nil, false
}

// AssertSpanExists fails tb unless a span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if _, ok := t.SpanAttributes(name); !ok {
		var seen []string
		for _, s := range t.Recorder.Ended() {
			seen = append(seen, s.Name())
		}
		tb.Errorf("no span %q ended; saw %v", name, seen)
	}
}

// AssertSpanAttribute fails tb unless span name carries key with value
// want. Integer attributes compare as int64.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, name, key string, want any) {
	tb.Helper()
	attrs, ok := t.SpanAttributes(name)
	if !ok {
		tb.Fatalf("no span %q ended", name)
	}
	got, ok := attrs[key]
	switch {
	case !ok:
		tb.Errorf("span %q has no attribute %q", name, key)
	case got != want:
		tb.Errorf("span %q attribute %q = %v, want %v", name, key, got, want)
	}
}

// Collect reads the current metric state from the manual reader.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.Reader.Collect(ctx, &rm)
	return rm, err
}

func valueOf(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	}
	return v.AsInterface()
}
