package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intelforge/intelforge/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides serve.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, logger, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, logger)

	// Ingestion over HTTP is optional; without sources the endpoint
	// reports unavailable but queries still work.
	var ingestor api.Ingestor
	if orchestrator, err := a.NewOrchestrator(); err == nil {
		ingestor = orchestrator
	} else {
		logger.Warn("ingest endpoint disabled", slog.String("reason", err.Error()))
	}

	addr := a.Config.Serve.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	server, err := api.NewServer(api.Config{
		Addr:           addr,
		RateLimitRPS:   a.Config.Serve.RateLimitRPS,
		RateLimitBurst: a.Config.Serve.RateLimitBurst,
	}, a.Retriever, a.Synthesizer, ingestor, logger)
	if err != nil {
		return err
	}

	return server.Run(ctx)
}
