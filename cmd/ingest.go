package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intelforge/intelforge/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch, redact, chunk, embed, and index the configured sources",
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, logger, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	orchestrator, err := a.NewOrchestrator()
	if err != nil {
		return err
	}

	report, runErr := orchestrator.Run(ctx)
	if report != nil {
		printReport(report)
	}

	var partial *ingest.PartialFailureError
	if errors.As(runErr, &partial) && report != nil && report.State == ingest.StateComplete {
		// The surviving documents are indexed; the failures are in the
		// report. Not a fatal outcome.
		printErr("warning: %v", partial)
		return nil
	}
	return runErr
}

func printReport(report *ingest.Report) {
	fmt.Printf("Run %s: %s\n", report.RunID, report.State)
	fmt.Printf("  documents: %d (%d failed)\n", report.Documents, report.Failed)
	fmt.Printf("  chunks indexed: %d\n", report.Chunks)
	if len(report.Redactions) > 0 {
		fmt.Printf("  redactions:")
		for category, n := range report.Redactions {
			fmt.Printf(" %s=%d", category, n)
		}
		fmt.Println()
	}
	for _, stats := range report.Sources {
		switch {
		case stats.FetchErr != "":
			fmt.Printf("  source %s: fetch failed: %s\n", stats.Name, stats.FetchErr)
		default:
			fmt.Printf("  source %s: %d documents, %d chunks, %d failed\n",
				stats.Name, stats.Documents, stats.Chunks, stats.Failed)
		}
	}
	for _, docErr := range report.Errors {
		fmt.Printf("  failed %s (%s): %s\n", docErr.DocumentID, docErr.Source, docErr.Err)
	}
}
