// Package memory provides a brute-force in-memory Store. It backs unit
// tests and API-key-free local runs; anything at real scale belongs on
// the Postgres store.
package memory

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/intelforge/intelforge/internal/index"
)

// Store is an in-memory vector index. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]index.Record
}

// New creates an empty in-memory store for vectors of the given width.
func New(dimension int) (*Store, error) {
	if dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return &Store{
		dimension: dimension,
		records:   make(map[string]index.Record),
	}, nil
}

// Upsert stores records, replacing any with the same ID.
func (s *Store) Upsert(_ context.Context, records []index.Record) error {
	for _, r := range records {
		if err := index.ValidateRecord(r, s.dimension); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

// Search scans every record and returns the topK by cosine similarity.
func (s *Store) Search(_ context.Context, vector []float32, opts ...index.SearchOption) ([]index.Hit, error) {
	if len(vector) == 0 {
		return nil, index.ErrEmptyVector
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			index.ErrDimensionMismatch, len(vector), s.dimension)
	}
	options := index.ApplySearchOptions(opts)

	s.mu.RLock()
	hits := make([]index.Hit, 0, len(s.records))
	for _, r := range s.records {
		if options.SourceType != "" && r.SourceType != options.SourceType {
			continue
		}
		if !matchesFilter(r.Metadata, options.Filter) {
			continue
		}
		hits = append(hits, index.Hit{Record: r, Score: cosineSimilarity(vector, r.Vector)})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	if len(hits) > options.TopK {
		hits = hits[:options.TopK]
	}
	return hits, nil
}

// DeleteByDocument removes every record of the given documents.
func (s *Store) DeleteByDocument(_ context.Context, documentIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, docID := range documentIDs {
		for id, r := range s.records {
			if r.DocumentID == docID {
				delete(s.records, id)
			}
		}
	}
	return nil
}

// Count reports the number of stored records.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		// DeepEqual, not ==: metadata values decoded from JSON can be
		// maps or slices, which panic under plain comparison.
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
