package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/intelforge/intelforge/internal/chunk"
	"github.com/intelforge/intelforge/internal/connector"
	"github.com/intelforge/intelforge/internal/index"
	"github.com/intelforge/intelforge/internal/index/memory"
	"github.com/intelforge/intelforge/internal/redact"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testDimension = 4

// stubEmbedder embeds deterministically and fails for texts containing
// the poison marker.
type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	block chan struct{}
}

func (s *stubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.Contains(text, "poison") {
			return nil, errors.New("503 embedding failed")
		}
		vectors[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return vectors, nil
}

func doc(id, text string) connector.Document {
	return connector.Document{
		ID:         id,
		Text:       text,
		SourceType: "test",
		Timestamp:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newOrchestrator(t *testing.T, store index.Store, sources []connector.Source, opts ...Option) *Orchestrator {
	t.Helper()
	splitter, err := chunk.New(chunk.WithSize(50), chunk.WithOverlap(10))
	require.NoError(t, err)

	o, err := New(sources, redact.New(nil), splitter, &stubEmbedder{}, store, opts...)
	require.NoError(t, err)
	return o
}

func TestRun_IndexesAllDocuments(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	src := connector.NewStatic("seed",
		doc("d1", strings.Repeat("alpha ", 30)),
		doc("d2", "short note"),
	)
	o := newOrchestrator(t, store, []connector.Source{src})

	report, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateComplete, report.State)
	assert.Equal(t, 2, report.Documents)
	assert.Zero(t, report.Failed)
	assert.Greater(t, report.Chunks, 2)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(report.Chunks), count)

	require.Len(t, report.Sources, 1)
	assert.Equal(t, "seed", report.Sources[0].Name)
	assert.Equal(t, 2, report.Sources[0].Documents)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRun_RedactsBeforeIndexing(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	src := connector.NewStatic("seed",
		doc("d1", "Contact jane@corp.io or call 555-123-4567 about the renewal."))
	o := newOrchestrator(t, store, []connector.Source{src})

	report, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Redactions[redact.CategoryEmail])
	assert.Equal(t, 1, report.Redactions[redact.CategoryPhone])

	hits, err := store.Search(context.Background(), []float32{1, 1, 0, 0}, index.WithTopK(10))
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// Chunk windows may bisect a placeholder, so individual chunks need
	// not carry a whole one. What must hold: no chunk carries raw PII,
	// and the placeholders survive intact somewhere in the indexed text.
	var indexed strings.Builder
	for _, h := range hits {
		assert.NotContains(t, h.Text, "jane@corp.io")
		assert.NotContains(t, h.Text, "555-123-4567")
		indexed.WriteString(h.Text)
		indexed.WriteByte('\n')
	}
	assert.Contains(t, indexed.String(), "[REDACTED:email:0]")
}

func TestRun_PartialFailure(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	docs := []connector.Document{
		doc("d1", "good one"),
		doc("d2", "good two"),
		doc("d3", "this one is poison"),
		doc("d4", "good three"),
		doc("d5", "good four"),
	}
	o := newOrchestrator(t, store, []connector.Source{connector.NewStatic("seed", docs...)})

	report, err := o.Run(context.Background())

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, 5, partial.Total)

	assert.Equal(t, StateComplete, report.State)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "d3", report.Errors[0].DocumentID)

	// The four healthy documents are indexed.
	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestRun_AllDocumentsFailed(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	o := newOrchestrator(t, store, []connector.Source{
		connector.NewStatic("seed", doc("d1", "poison a"), doc("d2", "poison b")),
	})

	report, err := o.Run(context.Background())

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, 2, report.Failed)
}

func TestRun_ReingestOverwrites(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	long := connector.NewStatic("seed", doc("d1", strings.Repeat("first version ", 20)))
	o := newOrchestrator(t, store, []connector.Source{long})
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	firstCount, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Greater(t, firstCount, int64(1))

	// Same document shrinks to one chunk; stale chunks must go.
	short := connector.NewStatic("seed", doc("d1", "second version"))
	o = newOrchestrator(t, store, []connector.Source{short})
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	hits, err := store.Search(context.Background(), []float32{1, 1, 0, 0}, index.WithTopK(5))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second version", hits[0].Text)
}

func TestRun_EmptiedDocumentClearsRecords(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	o := newOrchestrator(t, store, []connector.Source{
		connector.NewStatic("seed", doc("d1", "some content")),
	})
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	o = newOrchestrator(t, store, []connector.Source{
		connector.NewStatic("seed", doc("d1", "")),
	})
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Failed)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRun_FailingSourceSkipped(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	o := newOrchestrator(t, store, []connector.Source{
		&failingSource{name: "broken"},
		connector.NewStatic("healthy", doc("d1", "content")),
	})

	report, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateComplete, report.State)
	assert.Equal(t, 1, report.Documents)

	byName := map[string]SourceStats{}
	for _, stats := range report.Sources {
		byName[stats.Name] = stats
	}
	assert.NotEmpty(t, byName["broken"].FetchErr)
	assert.Equal(t, 1, byName["healthy"].Documents)
}

func TestRun_AllSourcesFailed(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	o := newOrchestrator(t, store, []connector.Source{&failingSource{name: "broken"}})

	report, err := o.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)
}

func TestRun_Cancellation(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	splitter, err := chunk.New()
	require.NoError(t, err)

	block := make(chan struct{})
	embedder := &stubEmbedder{block: block}
	defer close(block)

	src := connector.NewStatic("seed", doc("d1", "one"), doc("d2", "two"))
	o, err := New([]connector.Source{src}, redact.New(nil), splitter, embedder, store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var report *Report
	var runErr error
	go func() {
		defer close(done)
		report, runErr = o.Run(ctx)
	}()

	// Give the workers a moment to park in the embedder, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, context.Canceled)
	assert.Equal(t, StateFailed, report.State)
}

func TestRun_RecorderReceivesReport(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	rec := &captureRecorder{}
	o := newOrchestrator(t, store,
		[]connector.Source{connector.NewStatic("seed", doc("d1", "content"))},
		WithRecorder(rec))

	report, err := o.Run(context.Background())

	require.NoError(t, err)
	require.NotNil(t, rec.got)
	assert.Equal(t, report.RunID, rec.got.RunID)
	assert.Equal(t, StateComplete, rec.got.State)
}

func TestRun_RecorderFailureDoesNotFailRun(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	o := newOrchestrator(t, store,
		[]connector.Source{connector.NewStatic("seed", doc("d1", "content"))},
		WithRecorder(&captureRecorder{err: errors.New("db down")}))

	report, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateComplete, report.State)
}

func TestNew_Validation(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)
	splitter, err := chunk.New()
	require.NoError(t, err)
	src := []connector.Source{connector.NewStatic("seed")}

	_, err = New(nil, redact.New(nil), splitter, &stubEmbedder{}, store)
	assert.Error(t, err)

	_, err = New(src, nil, splitter, &stubEmbedder{}, store)
	assert.Error(t, err)

	_, err = New(src, redact.New(nil), splitter, &stubEmbedder{}, store, WithConcurrency(0))
	assert.Error(t, err)
}

func TestPartialFailureError_TruncatesLongErrorLists(t *testing.T) {
	var errs []DocumentError
	for i := range 6 {
		errs = append(errs, DocumentError{DocumentID: fmt.Sprintf("d%d", i), Err: "boom"})
	}
	e := &PartialFailureError{Failed: 6, Total: 10, Errors: errs}

	msg := e.Error()

	assert.Contains(t, msg, "6 of 10 documents failed")
	assert.Contains(t, msg, "and 3 more")
}

type failingSource struct{ name string }

func (f *failingSource) Name() string { return f.name }
func (f *failingSource) Fetch(context.Context) ([]connector.Document, error) {
	return nil, errors.New("connection refused")
}

type captureRecorder struct {
	got *Report
	err error
}

func (c *captureRecorder) Record(_ context.Context, report *Report) error {
	c.got = report
	return c.err
}
