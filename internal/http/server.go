// Package http exposes the feedback API over echo.
//
// Routes live under /api/feedback. Every correction, export, stats and
// status request passes the access gate before reaching a handler; health
// checks and /metrics are open.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/export"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/gate"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/stats"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter reports the number of stored corrections.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Deps are the components the server routes to.
type Deps struct {
	Ingest   *feedback.Service
	Export   *export.Streamer
	Stats    *stats.Aggregator
	Gate     *gate.Gate
	Store    Pinger
	Counter  Counter
	Counters Pinger // optional shared rate-limit backend
	Metrics  *HTTPMetrics
	Gatherer prometheus.Gatherer
	Version  string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	// Empty means rate limits key on the socket peer and forwarding
	// headers are ignored.
	TrustedProxies []string
}

// Server provides the feedback HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Ingest == nil || deps.Export == nil || deps.Stats == nil {
		return nil, fmt.Errorf("ingest, export and stats services are required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("access gate is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required for health checks")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}

	extractor, err := ipExtractor(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = goJSONSerializer{}
	e.IPExtractor = extractor

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.Named("http"),
		config: cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(s.accessLog)
	if deps.Metrics != nil {
		e.Use(deps.Metrics.MetricsMiddleware())
	}

	s.registerRoutes()
	return s, nil
}

// ipExtractor picks the client address rate limits are keyed on. Without
// trusted proxies that is the socket peer. With them, X-Forwarded-For is
// walked from the right past trusted hops only; echo's built-in trust of
// loopback and private ranges is switched off.
func ipExtractor(trusted []string) (echo.IPExtractor, error) {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trusted {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/healthz", s.handleHealth)

	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api/feedback")
	api.GET("/health", s.handleHealth)
	api.GET("/healthz", s.handleHealth)
	api.POST("/correction", s.handleCorrection,
		middleware.BodyLimit(fmt.Sprintf("%dB", feedback.MaxBodyBytes)),
		s.admit(gate.ClassIngestion),
	)
	api.GET("/export", s.handleExport, s.admit(gate.ClassExport))
	api.GET("/stats", s.handleStats, s.admit(gate.ClassStats))
	api.GET("/status", s.handleStatus, s.admit(gate.ClassStats))
}

// accessLog logs one line per request.
func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Int64("bytes", c.Response().Size),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_ip", c.RealIP()),
		)
		return nil
	}
}

// admit runs the access gate for class before the handler.
func (s *Server) admit(class gate.Class) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := logging.WithEndpointClass(c.Request().Context(), string(class))
			c.SetRequest(c.Request().WithContext(ctx))
			principal, err := s.deps.Gate.Admit(ctx, gate.Request{
				Credential: credential(c.Request()),
				Addr:       c.RealIP(),
				Class:      class,
			})
			if err != nil {
				return err
			}
			ctx = logging.WithPrincipal(ctx, principal)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// credential extracts the API key from "Authorization: Bearer <key>" or,
// failing that, the X-API-Key header.
func credential(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization)); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// handleHealth reports liveness. It fails when the store is unreachable.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn(ctx, "health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleCorrection ingests one correction.
func (s *Server) handleCorrection(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.ErrStatusRequestEntityTooLarge
		}
		return &feedback.ValidationError{Fields: []feedback.FieldError{{Message: "unreadable request body"}}}
	}

	correction, err := s.deps.Ingest.Submit(c.Request().Context(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, correction)
}

// handleStats returns the top corrected labels.
func (s *Server) handleStats(c echo.Context) error {
	top, err := s.deps.Stats.Top(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatsResponse{Top5: top})
}

// handleStatus reports dependency state and stored row counts.
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{
		Status:   "ok",
		Version:  s.deps.Version,
		Services: map[string]string{"store": "ok"},
		Counts:   StatusCounts{Corrections: countCorrections(ctx, s.deps.Counter)},
	}
	if err := s.deps.Store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Services["store"] = "unavailable"
	}
	if s.deps.Counters != nil {
		resp.Services["ratelimit"] = "ok"
		if err := s.deps.Counters.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Services["ratelimit"] = "unavailable"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// countCorrections returns -1 when the count cannot be determined.
func countCorrections(ctx context.Context, counter Counter) int64 {
	if counter == nil {
		return -1
	}
	n, err := counter.Count(ctx)
	if err != nil {
		return -1
	}
	return n
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
