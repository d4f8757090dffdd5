// Package cli defines the ledgerd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Mini accounting ledger with a durable audit trail",
	Long: `ledgerd is a small server-side ledger: it accepts invoice, payment,
and refund operations over HTTP, maintains consistent running balances,
and appends every state transition to a durable JSONL audit trail.

Companion commands replay traffic against a running daemon and analyze
the resulting logs offline.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
