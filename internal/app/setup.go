package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/intelforge/intelforge/db"
	"github.com/intelforge/intelforge/internal/answer"
	"github.com/intelforge/intelforge/internal/chunk"
	"github.com/intelforge/intelforge/internal/config"
	"github.com/intelforge/intelforge/internal/connector"
	"github.com/intelforge/intelforge/internal/embed"
	"github.com/intelforge/intelforge/internal/index"
	"github.com/intelforge/intelforge/internal/ingest"
	"github.com/intelforge/intelforge/internal/log"
	"github.com/intelforge/intelforge/internal/redact"
	"github.com/intelforge/intelforge/internal/retrieve"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", slog.String("error", err.Error()))
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	store, err := index.NewPostgresStore(pool, cfg.EmbedderDimension, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	a.Store = store

	batcher, err := provideBatcher(embedder, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Batcher = batcher

	retriever, err := retrieve.New(batcher, store,
		retrieve.WithTopK(cfg.TopK),
		retrieve.WithDedupeDelta(cfg.DedupeDelta),
		retrieve.WithContextBudget(cfg.ContextBudget),
		retrieve.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = retriever

	generator, err := answer.NewGenkitGenerator(g, modelName(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	synthesizer, err := answer.New(generator, answer.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating synthesizer: %w", err)
	}
	a.Synthesizer = synthesizer

	recorder, err := ingest.NewPostgresRecorder(pool)
	if err != nil {
		return nil, fmt.Errorf("creating run recorder: %w", err)
	}
	a.Recorder = recorder

	return a, nil
}

// NewOrchestrator builds an ingestion orchestrator over the sources the
// configuration enables.
func (a *App) NewOrchestrator() (*ingest.Orchestrator, error) {
	sources, err := provideSources(a.Config)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, errors.New("no ingestion sources configured; set sources.dirs or sources.crm_path")
	}

	splitter, err := chunk.New(
		chunk.WithSize(a.Config.ChunkSize),
		chunk.WithOverlap(a.Config.ChunkOverlap))
	if err != nil {
		return nil, fmt.Errorf("creating splitter: %w", err)
	}

	return ingest.New(sources, redact.New(nil), splitter, a.Batcher, a.Store,
		ingest.WithConcurrency(a.Config.IngestConcurrency),
		ingest.WithRecorder(a.Recorder),
		ingest.WithLogger(a.Logger))
}

// Sources builds the connectors the configuration enables, without
// touching the database or the model runtime.
func Sources(cfg *config.Config) ([]connector.Source, error) {
	return provideSources(cfg)
}

func provideSources(cfg *config.Config) ([]connector.Source, error) {
	var sources []connector.Source
	if len(cfg.Sources.Dirs) > 0 {
		fs, err := connector.NewFilesystem("filesystem", cfg.Sources.Dirs...)
		if err != nil {
			return nil, fmt.Errorf("creating filesystem source: %w", err)
		}
		sources = append(sources, fs)
	}
	if cfg.Sources.CRMPath != "" {
		crm, err := connector.NewCRMFile("crm", cfg.Sources.CRMPath)
		if err != nil {
			return nil, fmt.Errorf("creating CRM source: %w", err)
		}
		sources = append(sources, crm)
	}
	return sources, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization so Genkit's TracerProvider is ready. Tracing is
// disabled when no endpoint is configured.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	endpoint := cfg.Tracing.Endpoint
	if endpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", slog.String("error", err.Error()))
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		slog.String("endpoint", endpoint),
		slog.String("service", cfg.Tracing.ServiceName),
		slog.String("environment", cfg.Tracing.Environment))

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", slog.String("error", err.Error()))
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default) and ollama.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			slog.String("model", cfg.ModelName), slog.String("host", cfg.OllamaHost))

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider",
			slog.String("model", cfg.ModelName))
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. Ollama keys its embedder by server address; Gemini by model
// name.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

func provideBatcher(embedder ai.Embedder, cfg *config.Config, logger log.Logger) (*embed.Batcher, error) {
	opts := []embed.Option{
		embed.WithBatchSize(cfg.EmbedBatchSize),
		embed.WithDimension(cfg.EmbedderDimension),
		embed.WithLogger(logger),
	}
	if cfg.EmbedRateLimit > 0 {
		opts = append(opts, embed.WithRateLimiter(
			rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), 1)))
	}
	b, err := embed.NewBatcher(embedder, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating embed batcher: %w", err)
	}
	return b, nil
}

// provideDBPool runs migrations and creates a PostgreSQL connection
// pool with pgvector types registered on every connection.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// modelName qualifies the configured model for Genkit lookup.
func modelName(cfg *config.Config) string {
	switch cfg.Provider {
	case config.ProviderOllama:
		return "ollama/" + cfg.ModelName
	default:
		return "googleai/" + cfg.ModelName
	}
}
