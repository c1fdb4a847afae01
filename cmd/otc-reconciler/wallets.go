package main

import (
	"fmt"
	"sort"

	"github.com/devblac/otc-reconciler/internal/ledger"
	"github.com/spf13/cobra"
)

var walletsCmd = &cobra.Command{
	Use:   "wallets",
	Short: "Manage the client wallet registry",
}

var walletsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered clients and their wallets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		reg, err := ledger.LoadRegistry(cfg.Wallets.Dir, cfg.Wallets.File)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if reg.Len() == 0 {
			fmt.Fprintln(out, "no clients registered")
			return nil
		}
		for _, name := range reg.Clients() {
			addrs := make([]string, 0)
			for a := range reg.Wallets(name) {
				addrs = append(addrs, a)
			}
			sort.Strings(addrs)
			fmt.Fprintf(out, "%s (%d)\n", name, len(addrs))
			for _, a := range addrs {
				fmt.Fprintf(out, "  %s\n", a)
			}
		}
		return nil
	},
}

var walletsSetCmd = &cobra.Command{
	Use:   "set NAME ADDRESS...",
	Short: "Register (or replace) the wallets of one client",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var rejected []string
		for _, a := range args[1:] {
			if !ledger.ValidAddress(a) {
				rejected = append(rejected, a)
			}
		}
		path, err := ledger.SaveClient(cfg.Wallets.Dir, args[0], args[1:])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "saved %s\n", path)
		for _, a := range rejected {
			fmt.Fprintf(out, "ignored invalid address %q\n", a)
		}
		return nil
	},
}

func init() {
	walletsCmd.AddCommand(walletsListCmd, walletsSetCmd)
}
