// Feedbackd collects user corrections to food classification results.
//
// The serve command runs the HTTP API. The export and stats commands read
// the same store offline.
//
// Usage:
//
//	# Start the API with defaults (SQLite file feedback.db, port 8000)
//	feedbackd serve
//
//	# Point at PostgreSQL and share rate limits through Redis
//	DATABASE_DRIVER=postgres DATABASE_URL=postgres://... RATELIMIT_BACKEND=redis feedbackd serve
//
//	# Dump the dataset
//	feedbackd export --format csv --out feedback.csv
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "feedbackd",
		Short: "Food classification correction feedback service",
		Long: `feedbackd stores user corrections to food classification results and
serves them back as a training dataset and as aggregate statistics.

Configuration comes from environment variables, optionally layered over
~/.config/feedbackd/config.yaml or the file named by --config.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/feedbackd/config.yaml)")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newExportCmd(flags))
	root.AddCommand(newStatsCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "feedbackd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

// loadConfig reads the config file and environment.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.LoadWithFile(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the service logger. Offline commands log to stderr so
// stdout stays clean for data. A non-nil otelProvider also ships entries
// through the OTEL log bridge.
func newLogger(cfg *config.Config, toStderr bool, otelProvider otellog.LoggerProvider) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	logCfg.Output.Stderr = toStderr
	logCfg.Output.OTEL = otelProvider != nil
	logCfg.Fields["service"] = cfg.Observability.ServiceName
	if logCfg.Fields["service"] == "" {
		logCfg.Fields["service"] = "feedbackd"
	}
	return logging.NewLogger(logCfg, otelProvider)
}

// withStore opens the configured store for an offline command.
func withStore(ctx context.Context, cfg *config.Config, fn func(context.Context, *store.Store, *logging.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(cfg, true, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	st, err := store.Open(ctx, cfg.Database, store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn(ctx, "failed to close store", zap.Error(err))
		}
	}()
	return fn(ctx, st, logger)
}
