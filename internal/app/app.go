// Package app assembles the pipeline: configuration, the Genkit model
// runtime, the Postgres vector index, and the ingestion and retrieval
// components built on top of them.
package app

import (
	"errors"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intelforge/intelforge/internal/answer"
	"github.com/intelforge/intelforge/internal/config"
	"github.com/intelforge/intelforge/internal/embed"
	"github.com/intelforge/intelforge/internal/index"
	"github.com/intelforge/intelforge/internal/ingest"
	"github.com/intelforge/intelforge/internal/log"
	"github.com/intelforge/intelforge/internal/retrieve"
)

// App holds the wired application components.
// Create with Setup, release with Close.
type App struct {
	Config      *config.Config
	Logger      log.Logger
	Genkit      *genkit.Genkit
	Embedder    ai.Embedder
	DBPool      *pgxpool.Pool
	Store       index.Store
	Batcher     *embed.Batcher
	Retriever   *retrieve.Retriever
	Synthesizer *answer.Synthesizer
	Recorder    ingest.Recorder

	otelCleanup func()
	dbCleanup   func()
}

// Close releases everything Setup acquired. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	var errs []error
	if a.dbCleanup != nil {
		a.dbCleanup()
		a.dbCleanup = nil
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
		a.otelCleanup = nil
	}
	return errors.Join(errs...)
}
