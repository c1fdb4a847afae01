package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/devblac/otc-reconciler/internal/config"
	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1
global:
  db_path: reconciler.db
  query_delay: 1200ms
  tolerance: "0.01"
  use_cache: false
  cache_backend: sqlite
  alert_dedupe_ttl: 24h
networks:
  tron:
    api_url: https://apilist.tronscanapi.com
    api_key: ${TRONSCAN_API_KEY:-}
  ethereum:
    api_url: https://api.etherscan.io/v2/api
    chain_id: 1
    api_key: ${ETHERSCAN_API_KEY:-}
    rpc_url: ${ETH_RPC_URL:-}
ledger:
  delimiter: ""
wallets:
  dir: carteiras-clientes
  file: carteiras-clientes.json
sinks: []
#  - id: ops
#    type: slack
#    webhook_url: ${SLACK_HOOK}
`

const sampleEnv = `ETHERSCAN_API_KEY=
TRONSCAN_API_KEY=
LOG_LEVEL=info
`

var flagInitForce bool

func init() {
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite existing files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a sample config, .env and wallet registry folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		dir := filepath.Dir(cfgPath)

		files := []struct {
			path, body string
		}{
			{cfgPath, sampleConfig},
			{filepath.Join(dir, ".env.example"), sampleEnv},
		}
		for _, f := range files {
			written, err := writeIfAbsent(f.path, f.body, flagInitForce)
			if err != nil {
				return err
			}
			if written {
				fmt.Fprintf(out, "wrote %s\n", f.path)
			} else {
				fmt.Fprintf(out, "kept existing %s (use --force to overwrite)\n", f.path)
			}
		}

		walletsDir := filepath.Join(dir, config.DefaultWalletsDir)
		if err := os.MkdirAll(walletsDir, 0o755); err != nil {
			return fmt.Errorf("create wallets dir: %w", err)
		}
		fmt.Fprintf(out, "wallet registry folder %s ready\n", walletsDir)
		return nil
	},
}

func writeIfAbsent(path, body string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
