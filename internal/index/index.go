// Package index defines the vector index contract and its Postgres
// implementation. Records are chunk vectors keyed by a deterministic
// chunk ID, so re-ingesting a document overwrites in place instead of
// accumulating stale rows.
package index

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for index operations.
var (
	// ErrDimensionMismatch reports a vector whose width differs from
	// the index's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyVector reports a search with no query vector.
	ErrEmptyVector = errors.New("query vector is empty")
)

// Record is one indexed chunk. ID is deterministic for a given document
// and chunk ordinal, which makes Upsert idempotent.
type Record struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	Vector     []float32
	SourceType string
	Author     string
	Timestamp  time.Time
	Metadata   map[string]any
}

// ChunkID builds the deterministic record ID for a document chunk.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", documentID, ordinal)
}

// Hit is a search result: the stored record plus its cosine similarity
// score in [0, 1], higher meaning closer.
type Hit struct {
	Record
	Score float64
}

// DefaultTopK is the search result count when the caller sets none.
const DefaultTopK = 5

// SearchOptions captures the tunable parts of a search.
type SearchOptions struct {
	TopK       int
	SourceType string
	Filter     map[string]any
}

// SearchOption configures a search.
type SearchOption func(*SearchOptions)

// WithTopK sets the maximum number of hits returned.
func WithTopK(k int) SearchOption {
	return func(o *SearchOptions) { o.TopK = k }
}

// WithSourceType restricts hits to records from one connector type.
func WithSourceType(sourceType string) SearchOption {
	return func(o *SearchOptions) { o.SourceType = sourceType }
}

// WithFilter restricts hits to records whose metadata contains every
// given key/value pair.
func WithFilter(filter map[string]any) SearchOption {
	return func(o *SearchOptions) { o.Filter = filter }
}

// ApplySearchOptions folds options over the defaults.
func ApplySearchOptions(opts []SearchOption) SearchOptions {
	options := SearchOptions{TopK: DefaultTopK}
	for _, opt := range opts {
		opt(&options)
	}
	if options.TopK < 1 {
		options.TopK = DefaultTopK
	}
	return options
}

// ValidateRecord checks a record before it is written.
func ValidateRecord(r Record, dimension int) error {
	if r.ID == "" {
		return errors.New("record ID is empty")
	}
	if r.DocumentID == "" {
		return errors.New("record document ID is empty")
	}
	if len(r.Vector) != dimension {
		return fmt.Errorf("%w: record %s has %d dimensions, index expects %d",
			ErrDimensionMismatch, r.ID, len(r.Vector), dimension)
	}
	return nil
}
