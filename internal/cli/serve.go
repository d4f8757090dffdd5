package cli

import (
	"github.com/spf13/cobra"

	"github.com/ledgerline/ledgerd/internal/daemon"
)

// ─── ledgerd serve ──────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger API daemon",
	Long: `Start the HTTP API. Configuration comes from defaults, an optional
TOML file, and LEDGERD_* environment variables, in that order.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "Path to TOML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := daemon.Load(cfgPath)
	if err != nil {
		return err
	}
	return daemon.Run(cfg)
}
