// Package ingest drives the pipeline from source documents to indexed
// vectors: fetch, redact, chunk, embed, upsert. Documents are processed
// concurrently and fail independently; one bad document never sinks a
// run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/intelforge/intelforge/internal/chunk"
	"github.com/intelforge/intelforge/internal/connector"
	"github.com/intelforge/intelforge/internal/index"
	"github.com/intelforge/intelforge/internal/log"
	"github.com/intelforge/intelforge/internal/redact"
)

// DefaultConcurrency is how many documents are processed at once.
const DefaultConcurrency = 4

// TextEmbedder is the embedding surface the orchestrator consumes.
// *embed.Batcher satisfies it.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Orchestrator runs ingestion end to end.
type Orchestrator struct {
	sources     []connector.Source
	redactor    *redact.Redactor
	splitter    *chunk.Splitter
	embedder    TextEmbedder
	store       index.Store
	recorder    Recorder
	concurrency int
	logger      log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets how many documents are processed in parallel.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithRecorder persists run reports. Defaults to a no-op.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the structured logger.
func WithLogger(logger log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator over the given pipeline stages and
// sources.
func New(
	sources []connector.Source,
	redactor *redact.Redactor,
	splitter *chunk.Splitter,
	embedder TextEmbedder,
	store index.Store,
	opts ...Option,
) (*Orchestrator, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	if redactor == nil || splitter == nil || embedder == nil || store == nil {
		return nil, errors.New("redactor, splitter, embedder, and store are all required")
	}
	o := &Orchestrator{
		sources:     sources,
		redactor:    redactor,
		splitter:    splitter,
		embedder:    embedder,
		store:       store,
		recorder:    NopRecorder{},
		concurrency: DefaultConcurrency,
		logger:      log.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", o.concurrency)
	}
	return o, nil
}

// runState tracks shared run progress under one mutex.
type runState struct {
	mu     sync.Mutex
	report *Report
	perSrc map[string]*SourceStats
}

// advance moves the run state forward, ignoring attempts to move back.
// Concurrent documents sit in different phases at once; the run reports
// the furthest phase any document has entered.
func (rs *runState) advance(next State) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if stateOrder[next] > stateOrder[rs.report.State] && rs.report.State.CanTransition(next) {
		rs.report.State = next
	}
}

func (rs *runState) fail() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if s, err := transition(rs.report.State, StateFailed); err == nil {
		rs.report.State = s
	}
}

// Run executes one full ingestion pass over every source. The report is
// always returned, also on failure. A run where some documents failed
// but others indexed returns the report alongside a
// *PartialFailureError.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	rs := &runState{
		report: &Report{
			RunID:      uuid.New(),
			State:      StatePending,
			StartedAt:  time.Now().UTC(),
			Redactions: make(map[redact.Category]int),
		},
		perSrc: make(map[string]*SourceStats),
	}
	o.logger.Info("ingestion run starting",
		slog.String("run_id", rs.report.RunID.String()),
		slog.Int("sources", len(o.sources)))

	err := o.run(ctx, rs)

	rs.report.FinishedAt = time.Now().UTC()
	for _, src := range o.sources {
		if stats, ok := rs.perSrc[src.Name()]; ok {
			rs.report.Sources = append(rs.report.Sources, *stats)
		}
	}
	o.record(rs.report)

	o.logger.Info("ingestion run finished",
		slog.String("run_id", rs.report.RunID.String()),
		slog.String("state", rs.report.State.String()),
		slog.Int("documents", rs.report.Documents),
		slog.Int("chunks", rs.report.Chunks),
		slog.Int("failed", rs.report.Failed))
	return rs.report, err
}

func (o *Orchestrator) run(ctx context.Context, rs *runState) error {
	rs.advance(StateFetching)
	docs := o.fetchAll(ctx, rs)
	if err := ctx.Err(); err != nil {
		rs.fail()
		return err
	}

	total := len(docs)
	rs.report.Documents = total
	if total == 0 {
		if allSourcesFailed(rs) {
			rs.fail()
			return fmt.Errorf("every source failed to fetch")
		}
		rs.advance(StateComplete)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := o.processDocument(gctx, rs, doc); err != nil {
				// Cancellation aborts the run; anything else is a
				// per-document failure the rest of the corpus survives.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.recordFailure(rs, doc, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		rs.fail()
		return err
	}

	if rs.report.Failed == total {
		rs.fail()
		return &PartialFailureError{Failed: rs.report.Failed, Total: total, Errors: rs.report.Errors}
	}
	rs.advance(StateComplete)
	if rs.report.Failed > 0 {
		return &PartialFailureError{Failed: rs.report.Failed, Total: total, Errors: rs.report.Errors}
	}
	return nil
}

// fetchAll pulls documents from every source. A source that fails to
// fetch is recorded and skipped; the run continues with the rest.
func (o *Orchestrator) fetchAll(ctx context.Context, rs *runState) []sourcedDocument {
	var docs []sourcedDocument
	for _, src := range o.sources {
		stats := &SourceStats{Name: src.Name()}
		rs.perSrc[src.Name()] = stats

		fetched, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return docs
			}
			stats.FetchErr = err.Error()
			o.logger.Error("source fetch failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()))
			continue
		}
		stats.Documents = len(fetched)
		for _, doc := range fetched {
			docs = append(docs, sourcedDocument{Document: doc, source: src.Name()})
		}
		o.logger.Debug("source fetched",
			slog.String("source", src.Name()),
			slog.Int("documents", len(fetched)))
	}
	return docs
}

type sourcedDocument struct {
	connector.Document
	source string
}

// processDocument runs one document through redact, chunk, embed, and
// index. Existing records of the document are deleted first so removed
// content does not linger in the index.
func (o *Orchestrator) processDocument(ctx context.Context, rs *runState, doc sourcedDocument) error {
	rs.advance(StateRedacting)
	redacted, counts := o.redactor.Redact(doc.Text)
	rs.mu.Lock()
	for category, n := range counts {
		rs.report.Redactions[category] += n
	}
	rs.mu.Unlock()

	rs.advance(StateChunking)
	chunks := o.splitter.Split(doc.ID, redacted)
	if len(chunks) == 0 {
		// An emptied document still clears its stale records.
		return o.store.DeleteByDocument(ctx, doc.ID)
	}

	rs.advance(StateEmbedding)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := o.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.ID, err)
	}

	rs.advance(StateIndexing)
	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		records[i] = index.Record{
			ID:         index.ChunkID(doc.ID, c.Ordinal),
			DocumentID: doc.ID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Vector:     vectors[i],
			SourceType: doc.SourceType,
			Author:     doc.Author,
			Timestamp:  doc.Timestamp,
			Metadata:   recordMetadata(doc),
		}
	}
	if err := o.store.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("clear stale records for %s: %w", doc.ID, err)
	}
	if err := o.store.Upsert(ctx, records); err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}

	rs.mu.Lock()
	rs.report.Chunks += len(records)
	if stats, ok := rs.perSrc[doc.source]; ok {
		stats.Chunks += len(records)
	}
	rs.mu.Unlock()
	return nil
}

func recordMetadata(doc sourcedDocument) map[string]any {
	metadata := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	metadata["source"] = doc.source
	return metadata
}

func (o *Orchestrator) recordFailure(rs *runState, doc sourcedDocument, err error) {
	o.logger.Error("document ingestion failed",
		slog.String("document_id", doc.ID),
		slog.String("source", doc.source),
		slog.String("error", err.Error()))

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.report.Failed++
	rs.report.Errors = append(rs.report.Errors, DocumentError{
		DocumentID: doc.ID,
		Source:     doc.source,
		Err:        err.Error(),
	})
	if stats, ok := rs.perSrc[doc.source]; ok {
		stats.Failed++
	}
}

func (o *Orchestrator) record(report *Report) {
	// Persisting the report is best effort and must not override the
	// run outcome, so it gets its own short-lived context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(ctx, report); err != nil {
		o.logger.Warn("failed to persist run report",
			slog.String("run_id", report.RunID.String()),
			slog.String("error", err.Error()))
	}
}

func allSourcesFailed(rs *runState) bool {
	if len(rs.perSrc) == 0 {
		return false
	}
	for _, stats := range rs.perSrc {
		if stats.FetchErr == "" {
			return false
		}
	}
	return true
}
