package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/logging"
)

// InstrumentationName is the meter scope for HTTP metrics.
const InstrumentationName = "github.com/fyrsmithlabs/feedbackd/internal/http"

// classOpen labels requests that never passed the access gate.
const classOpen = "open"

// HTTPMetrics records per-request OpenTelemetry instruments. Instruments
// that fail to build stay nil and are skipped.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inflight metric.Int64UpDownCounter
}

// NewHTTPMetrics builds the instruments on meter, or on the global
// provider when meter is nil.
func NewHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var m HTTPMetrics
	var err, errs error

	m.requests, err = meter.Int64Counter("feedbackd.http.requests_total",
		metric.WithDescription("HTTP requests by method, endpoint, endpoint class and status."),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)

	m.duration, err = meter.Float64Histogram("feedbackd.http.request_duration_seconds",
		metric.WithDescription("Time to the last byte written, in seconds."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	errs = errors.Join(errs, err)

	// Exports stream the whole dataset, so the buckets reach 50MB.
	m.size, err = meter.Int64Histogram("feedbackd.http.response_size_bytes",
		metric.WithDescription("Response body size in bytes."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 5e6, 5e7))
	errs = errors.Join(errs, err)

	m.inflight, err = meter.Int64UpDownCounter("feedbackd.http.active_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"))
	errs = errors.Join(errs, err)

	if errs != nil {
		logger.Warn(context.Background(), "some http instruments unavailable", zap.Error(errs))
	}
	return &m
}

// MetricsMiddleware records one data point per request after the error
// handler has written the response, so failures count under their real
// status.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			// admit stores the class on the request it hands downstream.
			class := logging.EndpointClassFromContext(c.Request().Context())
			if class == "" {
				class = classOpen
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.String("class", class),
				attribute.Int("status", c.Response().Status),
			)

			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, attrs)
			}
			return nil
		}
	}
}

// normalizePath collapses unmatched requests into one label. Every
// registered route is static, so matched paths are already bounded.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
