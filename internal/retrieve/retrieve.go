// Package retrieve answers "which indexed chunks are relevant to this
// query". It embeds the query, searches the index, drops redundant
// chunks, and assembles a bounded context block for the synthesizer.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/intelforge/intelforge/internal/index"
	"github.com/intelforge/intelforge/internal/log"
)

// Query validation errors.
var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrQueryTooLong = errors.New("query is too long")
)

// Defaults for retrieval tuning.
const (
	// MaxQueryChars bounds accepted query length in runes.
	MaxQueryChars = 4000

	// DefaultDedupeDelta is the score distance under which a second
	// chunk from the same document counts as redundant overlap.
	DefaultDedupeDelta = 0.05

	// DefaultContextBudget bounds the assembled context in runes.
	DefaultContextBudget = 4000
)

// chunkSeparator joins chunk texts in the assembled context.
const chunkSeparator = "\n\n---\n\n"

// QueryEmbedder turns a query string into a vector. *embed.Batcher
// satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Result is one retrieval: the surviving hits, best first, and the
// context block assembled from them.
type Result struct {
	Query   string
	Hits    []index.Hit
	Context string
}

// Retriever runs the query side of the pipeline.
type Retriever struct {
	embedder      QueryEmbedder
	store         index.Store
	topK          int
	dedupeDelta   float64
	contextBudget int
	logger        log.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets how many hits are requested from the index.
func WithTopK(k int) Option {
	return func(r *Retriever) { r.topK = k }
}

// WithDedupeDelta sets the per-document redundancy threshold. Zero
// disables deduplication.
func WithDedupeDelta(delta float64) Option {
	return func(r *Retriever) { r.dedupeDelta = delta }
}

// WithContextBudget sets the assembled context size limit in runes.
func WithContextBudget(runes int) Option {
	return func(r *Retriever) { r.contextBudget = runes }
}

// WithLogger sets the structured logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// New creates a Retriever over the given embedder and store.
func New(embedder QueryEmbedder, store index.Store, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	r := &Retriever{
		embedder:      embedder,
		store:         store,
		topK:          index.DefaultTopK,
		dedupeDelta:   DefaultDedupeDelta,
		contextBudget: DefaultContextBudget,
		logger:        log.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", r.topK)
	}
	if r.dedupeDelta < 0 {
		return nil, fmt.Errorf("dedupe delta must be non-negative, got %f", r.dedupeDelta)
	}
	if r.contextBudget < 1 {
		return nil, fmt.Errorf("context budget must be positive, got %d", r.contextBudget)
	}
	return r, nil
}

// ValidateQuery checks a raw query before any model call is made.
func ValidateQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryChars {
		return "", fmt.Errorf("%w: %d characters, limit %d", ErrQueryTooLong, n, MaxQueryChars)
	}
	return query, nil
}

// Retrieve embeds the query and returns the relevant chunks plus the
// assembled context. Search options (source type, metadata filter) pass
// through to the index.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...index.SearchOption) (Result, error) {
	query, err := ValidateQuery(query)
	if err != nil {
		return Result{}, err
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}

	searchOpts := append([]index.SearchOption{index.WithTopK(r.topK)}, opts...)
	hits, err := r.store.Search(ctx, vector, searchOpts...)
	if err != nil {
		return Result{}, fmt.Errorf("search index: %w", err)
	}

	hits = rankHits(hits)
	hits = r.dedupe(hits)
	contextBlock, kept := r.assembleContext(hits)

	r.logger.Debug("retrieval complete",
		slog.Int("hits", len(hits)),
		slog.Int("kept", kept),
		slog.Int("context_runes", utf8.RuneCountInString(contextBlock)))

	return Result{Query: query, Hits: hits, Context: contextBlock}, nil
}

// rankHits orders by score descending, breaking ties toward the more
// recently updated document.
func rankHits(hits []index.Hit) []index.Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	return hits
}

// dedupe drops a chunk when a higher-scoring chunk from the same document
// sits within dedupeDelta of it. Overlapping windows of one document
// score nearly identically and carry mostly repeated text.
func (r *Retriever) dedupe(hits []index.Hit) []index.Hit {
	if r.dedupeDelta == 0 {
		return hits
	}

	kept := hits[:0]
	lastKept := make(map[string]float64)
	for _, h := range hits {
		if prev, seen := lastKept[h.DocumentID]; seen && prev-h.Score <= r.dedupeDelta {
			continue
		}
		lastKept[h.DocumentID] = h.Score
		kept = append(kept, h)
	}
	return kept
}

// assembleContext concatenates hit texts best-first until the rune
// budget is reached. It returns the block and how many hits made it in.
func (r *Retriever) assembleContext(hits []index.Hit) (string, int) {
	var b strings.Builder
	used := 0
	kept := 0
	for _, h := range hits {
		cost := utf8.RuneCountInString(h.Text)
		if kept > 0 {
			cost += utf8.RuneCountInString(chunkSeparator)
		}
		if used+cost > r.contextBudget {
			break
		}
		if kept > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(h.Text)
		used += cost
		kept++
	}
	return b.String(), kept
}
