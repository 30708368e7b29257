// Package main provides the CLI commands for the popchain node
package main

import (
	"github.com/spf13/cobra"

	"popchain/cmd/popchain/pin"
)

var (
	// Version information (set via ldflags during build)
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "popchain",
	Short: "Proof-of-Pinning consensus node",
	Long: `A CLI tool for the popchain Proof-of-Pinning node powered by libp2p.

This tool provides commands for:
  • Node management (start the full PoP node)
  • Pin management (register local files under a CID)
  • Challenge operations (run a one-shot PoP round)
  • Reward queries (ledger balances and streaks)

Nodes prove they keep pinned content by answering per-chunk Merkle
challenges; passing nodes accumulate streaks and share a daily reward
pool proportionally.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Register pin commands
	rootCmd.AddCommand(pin.PinCmd)
}
