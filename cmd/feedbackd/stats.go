package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/stats"
	"github.com/fyrsmithlabs/feedbackd/internal/store"
)

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the five most frequent corrected labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(ctx context.Context, st *store.Store, _ *logging.Logger) error {
				top, err := stats.NewAggregator(st).Top(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]interface{}{"top5": top})
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LABEL\tCOUNT")
				for _, lc := range top {
					fmt.Fprintf(tw, "%s\t%d\n", lc.Label, lc.Count)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
