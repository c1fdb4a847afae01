package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/devblac/otc-reconciler/internal/cache"
	"github.com/devblac/otc-reconciler/internal/config"
	"github.com/devblac/otc-reconciler/internal/engine"
	"github.com/devblac/otc-reconciler/internal/health"
	"github.com/devblac/otc-reconciler/internal/ledger"
	"github.com/devblac/otc-reconciler/internal/logging"
	"github.com/devblac/otc-reconciler/internal/metrics"
	"github.com/devblac/otc-reconciler/internal/report"
	"github.com/devblac/otc-reconciler/internal/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	flagLedger     string
	flagOutDir     string
	flagDryRun     bool
	flagUseCache   bool
	flagQueryDelay time.Duration
	flagHealth     string
	flagMetrics    string
	flagJSON       bool
)

func init() {
	runCmd.Flags().StringVarP(&flagLedger, "ledger", "l", "", "Ledger CSV export (or pass it as the first argument)")
	runCmd.Flags().StringVarP(&flagOutDir, "out", "o", ".", "Directory for the CSV report")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not send to sinks")
	runCmd.Flags().BoolVar(&flagUseCache, "cache", false, "Reuse observations found by earlier runs")
	runCmd.Flags().DurationVar(&flagQueryDelay, "query-delay", config.DefaultQueryDelay, "Delay between explorer queries (overrides config)")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
	runCmd.Flags().BoolVar(&flagJSON, "json", false, "Print outcomes as JSON instead of the inconsistency list")
}

var runCmd = &cobra.Command{
	Use:   "run [ledger.csv]",
	Short: "Reconcile a ledger export against the blockchains",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.FromEnv()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ledgerPath := flagLedger
		if len(args) == 1 {
			ledgerPath = args[0]
		}
		if ledgerPath == "" {
			return errors.New("ledger path is required")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("query-delay") {
			cfg.Global.QueryDelay = flagQueryDelay
		}

		sheet, err := readLedger(ledgerPath, cfg.DelimiterRune())
		if err != nil {
			return err
		}
		groups := ledger.GroupRows(sheet.Rows)
		log.Info("ledger loaded", "path", ledgerPath, "rows", len(sheet.Rows), "identifiers", len(groups), "without_hash", len(sheet.Unhashed))

		wallets, err := ledger.LoadRegistry(cfg.Wallets.Dir, cfg.Wallets.File)
		if err != nil {
			return fmt.Errorf("load wallets: %w", err)
		}
		if wallets.Len() == 0 {
			log.Info("no client wallets registered; destination check skipped")
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		clients, err := buildClients(cfg, log, mtr)
		if err != nil {
			return err
		}
		if !clients.eth.Enabled() {
			log.Warn("ETHERSCAN_API_KEY not set; Ethereum lookups disabled unless the ledger declares ERC20")
		}
		var tronClient, ethClient engine.NetworkClient = clients.tron, clients.eth
		if cfg.Global.UseCache || flagUseCache {
			obsCache := observationCache(cfg, store)
			tronClient = engine.NewCachedClient(tronClient, obsCache, log)
			ethClient = engine.NewCachedClient(ethClient, obsCache, log)
			log.Info("observation cache enabled", "backend", cfg.Global.CacheBackend)
		}

		sinks, err := buildSinks(cfg)
		if err != nil {
			return err
		}

		var done, total atomic.Int64
		total.Store(int64(len(groups)))
		if flagHealth != "" {
			checker := health.NewNetworkChecker(map[string]health.Pinger{
				"tron":     clients.tron,
				"ethereum": clients.eth,
			})
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing:      store.Ping,
				NetworkPing: checker.Ping,
				Progress:    func() (int, int) { return int(done.Load()), int(total.Load()) },
			})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}

		runID := uuid.NewString()
		if err := store.StartRun(ctx, storage.Run{ID: runID, Ledger: ledgerPath, Total: len(groups)}); err != nil {
			return err
		}
		runner := engine.NewRunner(tronClient, ethClient, engine.Options{
			RunID:      runID,
			QueryDelay: cfg.Global.QueryDelay,
			Tolerance:  cfg.ToleranceDecimal(),
			Wallets:    wallets,
			AlertTTL:   cfg.Global.AlertDedupeTTL,
			DryRun:     flagDryRun,
			Progress: func(n, _ int) {
				done.Store(int64(n))
			},
		}, engine.Deps{
			Recorder: store,
			Deduper:  store,
			Sinks:    sinks,
			Metrics:  mtr,
			Log:      log,
		})

		log.Info("run started", "run_id", runID, "dry_run", flagDryRun)
		outcomes, runErr := runner.Run(ctx, groups)

		status := storage.RunCompleted
		switch {
		case errors.Is(runErr, context.Canceled):
			status = storage.RunCancelled
		case runErr != nil:
			status = storage.RunFailed
			mtr.Errors()
		}
		if err := store.FinishRun(context.Background(), runID, status, time.Now()); err != nil {
			log.Error("finish run", "run_id", runID, "error", err)
		}

		path, err := report.WriteFile(flagOutDir, outcomes)
		if err != nil {
			return err
		}
		log.Info("report written", "path", path, "outcomes", len(outcomes), "status", status)

		out := cmd.OutOrStdout()
		if flagJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcomes); err != nil {
				return err
			}
		} else {
			printSummary(out, runID, outcomes, report.Inconsistencies(outcomes, sheet.Unhashed))
		}

		if runErr != nil {
			return fmt.Errorf("run %s %s after %d of %d identifiers: %w", runID, status, len(outcomes), len(groups), runErr)
		}
		return nil
	},
}

func readLedger(path string, delimiter rune) (*ledger.Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	sheet, err := ledger.ReadCSV(f, delimiter)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	return sheet, nil
}

func observationCache(cfg *config.Config, store *storage.Store) engine.ObservationCache {
	if strings.EqualFold(cfg.Global.CacheBackend, "memory") {
		return cache.NewMemory(cfg.Global.CacheTTL)
	}
	store.SetObservationTTL(cfg.Global.CacheTTL)
	return store
}

func printSummary(w io.Writer, runID string, outcomes []engine.Outcome, findings []report.Inconsistency) {
	fmt.Fprintf(w, "run %s: %d identifier(s)\n", runID, len(outcomes))
	for _, c := range report.Summarize(outcomes) {
		fmt.Fprintf(w, "  %-30s %d\n", c.Classification, c.N)
	}
	if len(findings) == 0 {
		fmt.Fprintln(w, "Nenhuma inconsistência encontrada.")
		return
	}
	fmt.Fprintf(w, "\n--- INCONSISTÊNCIAS (%d) ---\n", len(findings))
	for _, f := range findings {
		parts := []string{string(f.Kind)}
		if f.Hash != "" {
			parts = append(parts, "Hash: "+f.Hash)
		}
		if len(f.Clients) > 0 {
			parts = append(parts, "Clientes: "+strings.Join(f.Clients, ", "))
		}
		if f.Expected != "" || f.Observed != "" {
			parts = append(parts, fmt.Sprintf("Planilha: %s | Blockchain: %s", f.Expected, orDash(f.Observed)))
		}
		if f.Destination != "" {
			parts = append(parts, "Destino: "+f.Destination)
		}
		for _, text := range []string{f.Reason, f.Remediation} {
			if text != "" {
				parts = append(parts, text)
			}
		}
		fmt.Fprintln(w, strings.Join(parts, " | "))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
