package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
	"github.com/fyrsmithlabs/feedbackd/internal/export"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/gate"
	httpserver "github.com/fyrsmithlabs/feedbackd/internal/http"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/stats"
	"github.com/fyrsmithlabs/feedbackd/internal/store"
	"github.com/fyrsmithlabs/feedbackd/internal/telemetry"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the feedback HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
}

// run starts the API and blocks until ctx is cancelled or the listener
// fails.
//
//  1. Initializes telemetry, then the logger bridged onto it
//  2. Opens the correction store
//  3. Builds the access gate on the configured counter backend
//  4. Wires ingestion, export and stats behind the HTTP server
//  5. Shuts down gracefully on cancellation
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := newLogger(cfg, false, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = logger.Sync()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
		}
		_ = logger.Sync()
	}()
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	logger.Info(ctx, "starting feedbackd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("ratelimit_backend", cfg.RateLimit.Backend),
		zap.Bool("telemetry", tel.IsEnabled()),
	)

	st, err := store.Open(ctx, cfg.Database,
		store.WithLogger(logger),
		store.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn(context.Background(), "failed to close store", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counters, pinger, closeCounters, err := newCounters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCounters()

	gateMetrics, err := gate.NewMetrics(reg)
	if err != nil {
		return err
	}
	g, err := gate.New(gate.NewKeyring(cfg.Auth.Keys), counters, gate.BudgetsFromConfig(cfg.RateLimit),
		gate.WithMetrics(gateMetrics),
		gate.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to build access gate: %w", err)
	}

	exportMetrics, err := export.NewMetrics(reg)
	if err != nil {
		return err
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Ingest:   feedback.NewService(st, logger),
		Export:   export.NewStreamer(export.StoreSource(st), export.WithMetrics(exportMetrics), export.WithLogger(logger)),
		Stats:    stats.NewAggregator(st),
		Gate:     g,
		Store:    st,
		Counter:  st,
		Counters: pinger,
		Metrics:  httpserver.NewHTTPMetrics(tel.Meter(httpserver.InstrumentationName), logger),
		Gatherer: reg,
		Version:  version,
	}, logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}

// newCounters returns the rate limit counter backend, an optional pinger
// for the status endpoint, and a release func.
func newCounters(ctx context.Context, cfg *config.Config, logger *logging.Logger) (gate.CounterStore, httpserver.Pinger, func(), error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		counters := gate.NewRedisCounters(rdb)
		if err := counters.Ping(ctx); err != nil {
			// Admission fails open while redis is away, so startup does too.
			logger.Warn(ctx, "redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		return counters, counters, func() {
			if err := rdb.Close(); err != nil {
				logger.Warn(context.Background(), "failed to close redis client", zap.Error(err))
			}
		}, nil
	default:
		counters := gate.NewMemoryCounters()
		counters.StartJanitor(ctx)
		return counters, nil, func() {}, nil
	}
}
