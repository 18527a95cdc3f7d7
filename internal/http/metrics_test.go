package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/feedbackd/internal/logging"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := NewHTTPMetrics(mp.Meter(InstrumentationName), nil)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/feedback/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/feedback/correction", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnprocessableEntity)
	}, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(logging.WithEndpointClass(c.Request().Context(), "ingestion")))
			return next(c)
		}
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/api/feedback/stats"},
		{http.MethodGet, "/health"},
		{http.MethodPost, "/api/feedback/correction"},
		{http.MethodGet, "/wp-login.php"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "feedbackd.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)

				total := int64(0)
				statuses := map[int64]bool{}
				classes := map[string]bool{}
				for _, dp := range sum.DataPoints {
					total += dp.Value
					if v, ok := dp.Attributes.Value(attribute.Key("status")); ok {
						statuses[v.AsInt64()] = true
					}
					if v, ok := dp.Attributes.Value(attribute.Key("class")); ok {
						classes[v.AsString()] = true
					}
				}
				assert.Equal(t, map[string]bool{"open": true, "ingestion": true}, classes)
				assert.Equal(t, int64(4), total)
				// The error status is recorded, not the default 200.
				assert.True(t, statuses[http.StatusUnprocessableEntity])
				assert.True(t, statuses[http.StatusNotFound])
			case "feedbackd.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				total := uint64(0)
				for _, dp := range hist.DataPoints {
					total += dp.Count
				}
				assert.Equal(t, uint64(4), total)
			}
		}
	}

	assert.True(t, found["feedbackd.http.requests_total"], "requests counter not found")
	assert.True(t, found["feedbackd.http.request_duration_seconds"], "duration histogram not found")
	assert.True(t, found["feedbackd.http.response_size_bytes"], "response size histogram not found")
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/feedback/export", "/api/feedback/export"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
