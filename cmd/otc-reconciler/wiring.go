package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/devblac/otc-reconciler/internal/config"
	"github.com/devblac/otc-reconciler/internal/metrics"
	"github.com/devblac/otc-reconciler/internal/sink"
	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/source/evm"
	"github.com/devblac/otc-reconciler/internal/source/tron"
	"github.com/spf13/cobra"
)

// loadConfig reads the config file. When the default path does not exist,
// built-in defaults plus environment credentials are used instead.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(filepath.Dir(cfgPath))
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

type networkClients struct {
	tron *tron.Client
	eth  *evm.Client
}

// buildClients wires both explorer clients over one retrying fetcher.
func buildClients(cfg *config.Config, log *slog.Logger, mtr *metrics.Metrics) (networkClients, error) {
	fetcher := source.NewFetcher(log)
	fetcher.OnRetry = func(host string, _ int) { mtr.RateLimitRetry(host) }

	tronCfg := cfg.Networks.Tron
	clients := networkClients{
		tron: tron.NewClient(tronCfg.APIURL, tronCfg.APIKey, fetcher, log.With("network", source.TRC20)),
	}

	ethCfg := cfg.Networks.Ethereum
	var backend evm.Backend
	if ethCfg.RPCURL != "" {
		rpc, err := evm.DialRPC(context.Background(), ethCfg.RPCURL, fetcher)
		if err != nil {
			return clients, err
		}
		backend = rpc
	} else {
		backend = evm.NewExplorer(ethCfg.APIURL, uint64(ethCfg.ChainID), ethCfg.APIKey, fetcher, log.With("network", source.ERC20))
	}
	clients.eth = evm.NewClient(backend, log.With("network", source.ERC20))
	return clients, nil
}

func buildSinks(cfg *config.Config) (map[string]sink.Sender, error) {
	sinks := map[string]sink.Sender{}
	for _, s := range cfg.Sinks {
		var (
			sender sink.Sender
			err    error
		)
		switch strings.ToLower(s.Type) {
		case "slack":
			sender, err = sink.NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = sink.NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = sink.NewWebhookSender(s.URL, s.Method, s.Template, nil)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		sinks[s.ID] = sender
	}
	return sinks, nil
}
