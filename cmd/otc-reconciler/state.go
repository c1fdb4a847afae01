package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/devblac/otc-reconciler/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagStateLimit int
	flagClearCache bool
)

func init() {
	stateCmd.Flags().IntVar(&flagStateLimit, "limit", 10, "Number of runs to show (0 for all)")
	stateCmd.Flags().BoolVar(&flagClearCache, "clear-cache", false, "Drop every cached observation")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show recent runs and their outcome counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if flagClearCache {
			n, err := store.ClearObservations(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "cache cleared: %d observation(s)\n", n)
		}

		runs, err := store.ListRuns(cmd.Context(), flagStateLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "no runs recorded")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tSTATUS\tTOTAL\tOK\tATTENTION\tSTARTED\tDURATION\tLEDGER")
		for _, r := range runs {
			duration := "-"
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
				r.ID, r.Status, r.Total, r.OK, r.Attention,
				r.StartedAt.Local().Format(time.DateTime), duration, r.Ledger)
		}
		return tw.Flush()
	},
}
