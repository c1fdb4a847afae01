package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devblac/otc-reconciler/internal/report"
	"github.com/devblac/otc-reconciler/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagExportRun    string
	flagExportFormat string
	flagExportOutput string
)

func init() {
	exportCmd.Flags().StringVar(&flagExportRun, "run", "", "Run id (defaults to the latest run)")
	exportCmd.Flags().StringVarP(&flagExportFormat, "format", "f", "csv", "Output format: csv|json")
	exportCmd.Flags().StringVarP(&flagExportOutput, "output", "o", "", "Output file (defaults to stdout)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the outcomes of a recorded run as csv or json",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagExportFormat)
		if format != "csv" && format != "json" {
			return fmt.Errorf("unsupported format %q", flagExportFormat)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		runID := flagExportRun
		if runID == "" {
			id, ok, err := store.LatestRunID(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("no runs recorded")
			}
			runID = id
		}
		outcomes, err := store.Outcomes(ctx, runID)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if flagExportOutput != "" {
			f, err := os.Create(flagExportOutput)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			w = f
		}

		if format == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(outcomes)
		}
		return report.Write(w, outcomes)
	},
}
