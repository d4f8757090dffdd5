package cli

import (
	"github.com/spf13/cobra"

	"github.com/ledgerline/ledgerd/internal/daemon"
	"github.com/ledgerline/ledgerd/internal/traffic"
)

// ─── ledgerd traffic ────────────────────────────────────────────────────────

var trafficCmd = &cobra.Command{
	Use:   "traffic",
	Short: "Generate synthetic traffic against a running daemon",
	Long: `Send a shuffled mix of fast, slow, and failing diagnostic requests,
then walk a batch of invoices through payments (including idempotency-key
replays) and refunds. Useful for producing logs to analyze.`,
	RunE: runTraffic,
}

func init() {
	rootCmd.AddCommand(trafficCmd)
	trafficCmd.Flags().String("base-url", "http://127.0.0.1:8000", "Base URL of the ledger API")
	trafficCmd.Flags().Int("invoices", 10, "Number of invoices in the ledger scenario (0 to skip)")
	trafficCmd.Flags().Bool("diagnostics", true, "Run the diagnostic /work and /error plan")
}

func runTraffic(cmd *cobra.Command, args []string) error {
	baseURL, _ := cmd.Flags().GetString("base-url")
	invoices, _ := cmd.Flags().GetInt("invoices")
	diagnostics, _ := cmd.Flags().GetBool("diagnostics")

	log := daemon.NewLogger(daemon.LogConfig{Level: "info", Format: "console"})
	gen := traffic.New(baseURL, log)

	if diagnostics {
		gen.RunDiagnostics()
	}
	if invoices > 0 {
		gen.RunLedgerScenario(invoices)
	}
	return nil
}
