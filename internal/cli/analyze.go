package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ledgerline/ledgerd/internal/analyze"
)

// ─── ledgerd analyze ────────────────────────────────────────────────────────

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize audit logs offline",
	Long: `Ingest every .jsonl file under the log directory into SQLite and
write a latency/status summary to the reports directory.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().String("logs", "logs", "Directory containing .jsonl audit logs")
	analyzeCmd.Flags().String("reports", "reports", "Directory for generated reports")
	analyzeCmd.Flags().String("db", "", "SQLite database path (default: <reports>/events.db)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logsDir, _ := cmd.Flags().GetString("logs")
	reportsDir, _ := cmd.Flags().GetString("reports")
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = filepath.Join(reportsDir, "events.db")
	}

	summary, err := analyze.Run(logsDir, reportsDir, dbPath)
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stdout, summary.Render())
	fmt.Fprintf(os.Stdout, "Report written to %s\n", filepath.Join(reportsDir, "latency_summary.txt"))
	return nil
}
