// Package embed turns chunk text into fixed-dimension vectors. It wraps a
// model-provider embedder with batching, transient-failure retry, optional
// rate limiting, and dimension normalization so the rest of the pipeline
// only ever sees vectors of the configured width.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"

	"github.com/intelforge/intelforge/internal/log"
)

// ErrEmbeddingUnavailable reports that the embedding provider stayed
// unavailable after all retries. Callers treat it as a per-item failure,
// not a pipeline abort.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// DefaultBatchSize is the provider's maximum number of texts per request.
const DefaultBatchSize = 10

// DefaultDimension is the index vector width. Providers that emit wider
// vectors (gemini-embedding-001 emits 3072) are truncated to this.
const DefaultDimension = 768

// Embedder is the provider surface this package consumes. *ai.Embedder
// values returned by the Genkit plugins satisfy it.
type Embedder interface {
	Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error)
}

// Batcher embeds texts in provider-sized batches and reassembles the
// results in input order.
type Batcher struct {
	embedder  Embedder
	batchSize int
	dimension int
	limiter   *rate.Limiter
	retry     retryConfig
	logger    log.Logger
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithBatchSize sets how many texts go into one provider request.
func WithBatchSize(n int) Option {
	return func(b *Batcher) { b.batchSize = n }
}

// WithDimension sets the output vector width.
func WithDimension(n int) Option {
	return func(b *Batcher) { b.dimension = n }
}

// WithRateLimiter throttles provider requests. A nil limiter disables
// throttling.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(b *Batcher) { b.limiter = l }
}

// WithLogger sets the structured logger.
func WithLogger(logger log.Logger) Option {
	return func(b *Batcher) { b.logger = logger }
}

// NewBatcher creates a Batcher around the given embedder.
func NewBatcher(embedder Embedder, opts ...Option) (*Batcher, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	b := &Batcher{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		dimension: DefaultDimension,
		retry:     defaultRetryConfig(),
		logger:    log.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", b.batchSize)
	}
	if b.dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", b.dimension)
	}
	return b, nil
}

// EmbedTexts embeds texts and returns one vector per input, in input
// order. The provider is called in batches of at most the configured
// batch size; a batch that keeps failing after retries fails the whole
// call with ErrEmbeddingUnavailable in the chain.
func (b *Batcher) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		batch, err := b.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the width every returned vector is normalized to.
func (b *Batcher) Dimension() int { return b.dimension }

func (b *Batcher) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}
	req := &ai.EmbedRequest{Input: docs}

	resp, err := b.callWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		v, err := b.normalize(emb.Embedding)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// normalize brings a provider vector to the configured dimension.
// Wider vectors are truncated; narrower ones are an error because padding
// would corrupt similarity scores.
func (b *Batcher) normalize(v []float32) ([]float32, error) {
	if len(v) < b.dimension {
		return nil, fmt.Errorf("provider vector has %d dimensions, need %d", len(v), b.dimension)
	}
	out := make([]float32, b.dimension)
	copy(out, v[:b.dimension])
	return out, nil
}

// retryConfig controls backoff for transient provider failures.
type retryConfig struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts:  3,
		initialDelay: 500 * time.Millisecond,
		maxDelay:     10 * time.Second,
	}
}

func (b *Batcher) callWithRetry(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	var lastErr error
	delay := b.retry.initialDelay

	for attempt := 1; attempt <= b.retry.maxAttempts; attempt++ {
		resp, err := b.embedder.Embed(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isTransient(err) {
			return nil, err
		}
		if attempt == b.retry.maxAttempts {
			break
		}

		b.logger.Warn("embedding request failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(delay)):
		}
		delay = min(delay*2, b.retry.maxDelay)
	}

	return nil, fmt.Errorf("%w: %d attempts: %v", ErrEmbeddingUnavailable, b.retry.maxAttempts, lastErr)
}

// jitter spreads retry wakeups across +/-25% of the base delay so
// concurrent workers do not hammer the provider in lockstep.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.25
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// transientPatterns covers rate limiting, provider-side errors, and
// network flakes. Anything else fails fast.
var transientPatterns = []string{
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"unavailable",
	"overloaded",
	"connection reset",
	"timeout",
	"temporary",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
