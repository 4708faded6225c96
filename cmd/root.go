// Package cmd implements the intelforge CLI.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/intelforge/intelforge/internal/app"
	"github.com/intelforge/intelforge/internal/config"
	"github.com/intelforge/intelforge/internal/log"
)

var (
	verbose bool
	jsonLog bool
)

var rootCmd = &cobra.Command{
	Use:   "intelforge",
	Short: "IntelForge - question answering over your business knowledge",
	Long: `IntelForge ingests documents and CRM exports into a PII-redacted
vector index, then answers questions grounded in that index.

Typical flow:
  intelforge ingest     index the configured sources
  intelforge ask "..."  ask a question against the index
  intelforge serve      expose the same over HTTP`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "log-json", false, "log in JSON format")
}

func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: jsonLog})
	slog.SetDefault(logger)
	return logger
}

// setupApp loads configuration and wires the application. The returned
// cleanup must be called before exit.
func setupApp(ctx context.Context) (*app.App, log.Logger, error) {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, logger, nil
}

func closeApp(a *app.App, logger log.Logger) {
	if err := a.Close(); err != nil {
		logger.Warn("shutdown cleanup", slog.String("error", err.Error()))
	}
}

func printErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
