package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intelforge/intelforge/internal/app"
	"github.com/intelforge/intelforge/internal/config"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured ingestion sources and what they hold",
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

// runSources fetches from each source without touching the index, so it
// works before the database or provider credentials are set up.
func runSources(cmd *cobra.Command, _ []string) error {
	newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	sources, err := app.Sources(cfg)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No sources configured. Set sources.dirs or sources.crm_path in the config file.")
		return nil
	}

	for _, src := range sources {
		docs, err := src.Fetch(cmd.Context())
		if err != nil {
			fmt.Printf("%s: fetch failed: %v\n", src.Name(), err)
			continue
		}
		fmt.Printf("%s: %d documents\n", src.Name(), len(docs))
		for _, doc := range docs {
			fmt.Printf("  %s (%d chars)\n", doc.ID, len(doc.Text))
		}
	}
	return nil
}
