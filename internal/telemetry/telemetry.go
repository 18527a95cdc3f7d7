package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// exporter is the lifecycle both SDK providers share.
type exporter interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// namedExporter labels an exporter in joined errors.
type namedExporter struct {
	name string
	exporter
}

// Telemetry holds the SDK providers feedbackd exports spans, metrics and
// logs through. A nil or disabled Telemetry hands out the global providers.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
	exporters      []namedExporter

	mu     sync.RWMutex
	status HealthStatus
}

// New validates cfg and builds the providers it asks for. A provider that
// fails to build marks the instance degraded rather than returning an
// error; only an invalid config fails.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg, status: HealthStatus{Healthy: true}}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.setDegraded("tracer provider failed: %v", err)
	} else {
		t.tracerProvider = tp
		t.exporters = append(t.exporters, namedExporter{"traces", tp})
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.setDegraded("meter provider failed: %v", err)
	} else if mp != nil {
		t.meterProvider = mp
		t.exporters = append(t.exporters, namedExporter{"metrics", mp})
		otel.SetMeterProvider(mp)
	}

	if lp, err := newLoggerProvider(ctx, cfg, res); err != nil {
		t.setDegraded("logger provider failed: %v", err)
	} else {
		t.loggerProvider = lp
		t.exporters = append(t.exporters, namedExporter{"logs", lp})
		global.SetLoggerProvider(lp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// TracerProvider returns the SDK provider, or the global one when
// telemetry is off.
func (t *Telemetry) TracerProvider() oteltrace.TracerProvider {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return t.tracerProvider
}

// Tracer is shorthand for TracerProvider().Tracer.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	return t.TracerProvider().Tracer(name, opts...)
}

// Meter returns a meter from the SDK provider, or from the global one
// when telemetry is off.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider returns the SDK log provider, or nil when telemetry is
// off so callers leave their OTEL log output disabled.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.loggerProvider == nil {
		return nil
	}
	return t.loggerProvider
}

// ForceFlush pushes buffered spans, metrics and logs to the collector.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.each(func(e namedExporter) error {
		if err := e.ForceFlush(ctx); err != nil {
			return fmt.Errorf("%s flush: %w", e.name, err)
		}
		return nil
	})
}

// Shutdown flushes and stops every provider. Without a deadline on ctx
// the configured shutdown timeout applies. The instance reports unhealthy
// afterwards.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	err := t.each(func(e namedExporter) error {
		if err := e.Shutdown(ctx); err != nil {
			return fmt.Errorf("%s shutdown: %w", e.name, err)
		}
		return nil
	})

	t.mu.Lock()
	t.status.Healthy = false
	t.mu.Unlock()
	return err
}

func (t *Telemetry) each(fn func(namedExporter) error) error {
	var errs []error
	for _, e := range t.exporters {
		if err := fn(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthStatus is a snapshot of the exporter state.
type HealthStatus struct {
	Healthy  bool   `json:"healthy"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// Health returns the current status. A nil Telemetry is degraded.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// IsEnabled reports whether exporting was configured and the instance
// has not been shut down.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && t.Health().Healthy
}

// setDegraded records a provider failure. The first reason sticks.
func (t *Telemetry) setDegraded(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Degraded = true
	if t.status.Reason == "" {
		t.status.Reason = fmt.Sprintf(format, args...)
	}
}
