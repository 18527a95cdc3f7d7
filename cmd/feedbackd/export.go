package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/feedbackd/internal/export"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/store"
)

func newExportCmd(flags *globalFlags) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored correction as JSONL or CSV",
		Long: `Stream the full correction dataset from the store, oldest first.

Examples:
  # JSON Lines to stdout
  feedbackd export

  # CSV to a file
  feedbackd export --format csv --out feedback.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(ctx context.Context, st *store.Store, logger *logging.Logger) error {
				return runExport(ctx, st, logger, f, out, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format: jsonl or csv")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func runExport(ctx context.Context, st *store.Store, logger *logging.Logger, f export.Format, out string, stdout io.Writer) (err error) {
	dst := stdout
	if out != "-" {
		file, ferr := os.Create(out)
		if ferr != nil {
			return fmt.Errorf("failed to create %s: %w", out, ferr)
		}
		defer func() {
			if cerr := file.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(out)
			}
		}()
		dst = file
	}

	w := bufio.NewWriter(dst)
	n, err := export.NewStreamer(export.StoreSource(st), export.WithLogger(logger)).Stream(ctx, w, f)
	if err != nil {
		return fmt.Errorf("export failed after %d records: %w", n, err)
	}
	return w.Flush()
}
