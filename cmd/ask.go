package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intelforge/intelforge/internal/index"
)

var (
	askTopK       int
	askSourceType string
	askNoStream   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question grounded in the indexed knowledge",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "override how many chunks are retrieved")
	askCmd.Flags().StringVar(&askSourceType, "source", "", "restrict retrieval to one source type (filesystem, crm)")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "print the answer only when complete")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, logger, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	question := strings.Join(args, " ")

	var opts []index.SearchOption
	if askTopK > 0 {
		opts = append(opts, index.WithTopK(askTopK))
	}
	if askSourceType != "" {
		opts = append(opts, index.WithSourceType(askSourceType))
	}

	result, err := a.Retriever.Retrieve(ctx, question, opts...)
	if err != nil {
		return fmt.Errorf("retrieving context: %w", err)
	}

	stream := func(text string) error {
		fmt.Print(text)
		return nil
	}
	if askNoStream {
		stream = nil
	}

	ans, err := a.Synthesizer.Synthesize(ctx, result, stream)
	if err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}

	if askNoStream {
		fmt.Println(ans.Text)
	} else {
		fmt.Println()
	}

	if len(ans.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range ans.Citations {
			fmt.Printf("  %s (%s, score %.2f)\n", c.DocumentID, c.SourceType, c.Score)
		}
	}
	return nil
}
