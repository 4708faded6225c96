package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelforge/intelforge/internal/answer"
	"github.com/intelforge/intelforge/internal/chunk"
	"github.com/intelforge/intelforge/internal/connector"
	"github.com/intelforge/intelforge/internal/index/memory"
	"github.com/intelforge/intelforge/internal/redact"
	"github.com/intelforge/intelforge/internal/retrieve"
)

// keywordEmbedder maps texts onto a tiny term space so queries sharing
// vocabulary with a document score higher than unrelated ones. It serves
// both the ingest and the retrieve side of the pipeline.
type keywordEmbedder struct{}

func keywordVector(text string) []float32 {
	vec := make([]float32, testDimension)
	lower := strings.ToLower(text)
	for i, term := range []string{"deal", "renewal", "invoice"} {
		if strings.Contains(lower, term) {
			vec[i] = 1
		}
	}
	vec[testDimension-1] = 1
	return vec
}

func (keywordEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = keywordVector(text)
	}
	return vectors, nil
}

func (keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return keywordVector(text), nil
}

type cannedGenerator struct {
	reply  string
	prompt string
}

func (g *cannedGenerator) Generate(_ context.Context, _, prompt string, stream answer.StreamCallback) (string, error) {
	g.prompt = prompt
	if stream != nil {
		if err := stream(g.reply); err != nil {
			return "", err
		}
	}
	return g.reply, nil
}

// Ingests a small corpus, asks a question, and follows the answer back
// to its source document.
func TestPipeline_IngestToCitedAnswer(t *testing.T) {
	ctx := context.Background()
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	src := connector.NewStatic("crm",
		doc("d1", "Acme deal notes: mail john@co.com before the renewal deal closes."),
		doc("d2", "Overdue invoice reminder for Globex, second notice."),
	)
	splitter, err := chunk.New()
	require.NoError(t, err)
	o, err := New([]connector.Source{src}, redact.New(nil), splitter, keywordEmbedder{}, store)
	require.NoError(t, err)

	report, err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StateComplete, report.State)
	assert.Equal(t, 1, report.Redactions[redact.CategoryEmail])

	r, err := retrieve.New(keywordEmbedder{}, store)
	require.NoError(t, err)
	result, err := r.Retrieve(ctx, "What deals were discussed?")
	require.NoError(t, err)

	require.NotEmpty(t, result.Hits)
	assert.Positive(t, result.Hits[0].Score)
	assert.Equal(t, "d1", result.Hits[0].DocumentID)
	assert.NotContains(t, result.Context, "john@co.com")
	assert.Contains(t, result.Context, "[REDACTED:email:0]")

	gen := &cannedGenerator{reply: "The Acme renewal deal was discussed."}
	synth, err := answer.New(gen)
	require.NoError(t, err)
	ans, err := synth.Synthesize(ctx, result, nil)
	require.NoError(t, err)

	assert.Equal(t, gen.reply, ans.Text)
	assert.NotContains(t, gen.prompt, "john@co.com")
	require.NotEmpty(t, ans.Citations)
	assert.Equal(t, "d1", ans.Citations[0].DocumentID)
	assert.Equal(t, "test", ans.Citations[0].SourceType)
	assert.Positive(t, ans.Citations[0].Score)
}

// haltingEmbedder lets the first allow calls through and parks the rest
// until the run is cancelled, leaving the index partially written.
type haltingEmbedder struct {
	mu    sync.Mutex
	calls int
	allow int
	block chan struct{}
}

func (h *haltingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()

	if n > h.allow {
		select {
		case <-h.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return vectors, nil
}

// A run cancelled mid-flight leaves whatever it managed to index; the
// next full run over the same batch must converge to exactly the unique
// records, never duplicates or strays.
func TestPipeline_RerunAfterCancellationConverges(t *testing.T) {
	store, err := memory.New(testDimension)
	require.NoError(t, err)

	docs := make([]connector.Document, 0, 6)
	for i := range 6 {
		docs = append(docs, doc(fmt.Sprintf("d%d", i), strings.Repeat(fmt.Sprintf("note %d ", i), 20)))
	}
	splitter, err := chunk.New(chunk.WithSize(50), chunk.WithOverlap(10))
	require.NoError(t, err)

	block := make(chan struct{})
	defer close(block)
	halting := &haltingEmbedder{allow: 2, block: block}
	o, err := New([]connector.Source{connector.NewStatic("seed", docs...)},
		redact.New(nil), splitter, halting, store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var firstErr error
	var firstReport *Report
	go func() {
		defer close(done)
		firstReport, firstErr = o.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	require.Error(t, firstErr)
	assert.ErrorIs(t, firstErr, context.Canceled)
	assert.Equal(t, StateFailed, firstReport.State)

	// Re-run the full batch with a healthy embedder.
	o2, err := New([]connector.Source{connector.NewStatic("seed", docs...)},
		redact.New(nil), splitter, &stubEmbedder{}, store)
	require.NoError(t, err)

	report, err := o2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateComplete, report.State)
	assert.Equal(t, 6, report.Documents)
	assert.Zero(t, report.Failed)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(report.Chunks), count)
}
