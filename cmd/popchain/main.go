// Package main provides the unified CLI entry point for the popchain node
//
// This CLI tool provides comprehensive command-line interface for:
//   - Node management (start the full PoP node)
//   - Pin management (register local files under a CID)
//   - Challenge operations (run a one-shot PoP round)
//   - Reward queries (ledger balances and streaks)
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
