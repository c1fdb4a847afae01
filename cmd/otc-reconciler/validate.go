package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/otc-reconciler/internal/ledger"
	"github.com/devblac/otc-reconciler/internal/logging"
	"github.com/spf13/cobra"
)

const defaultPingTimeout = 15 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, wallet registry and explorer connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		log := logging.FromEnv()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		wallets, err := ledger.LoadRegistry(cfg.Wallets.Dir, cfg.Wallets.File)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "- wallets: %d client(s) registered\n", wallets.Len())
		fmt.Fprintf(out, "- sinks: %d configured\n", len(cfg.Sinks))

		clients, err := buildClients(cfg, log, nil)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), defaultPingTimeout)
		defer cancel()

		failures := 0
		if err := clients.tron.Ping(ctx); err != nil {
			failures++
			fmt.Fprintf(out, "- network tron (%s): ERROR %v\n", cfg.Networks.Tron.APIURL, err)
		} else {
			fmt.Fprintf(out, "- network tron (%s): OK\n", cfg.Networks.Tron.APIURL)
		}

		switch {
		case !clients.eth.Enabled():
			fmt.Fprintln(out, "- network ethereum: disabled (no api key); only rows declared ERC20 will query it")
		default:
			if err := clients.eth.Ping(ctx); err != nil {
				failures++
				fmt.Fprintf(out, "- network ethereum: ERROR %v\n", err)
			} else {
				fmt.Fprintf(out, "- network ethereum (chain %d): OK\n", cfg.Networks.Ethereum.ChainID)
			}
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d network(s) failed connectivity", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
