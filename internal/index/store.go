package index

import "context"

// Store is the vector index surface the pipeline depends on. The
// Postgres implementation lives in this package; an in-memory one for
// tests and local runs lives in index/memory.
type Store interface {
	// Upsert writes records, overwriting any existing record with the
	// same ID. Vectors must match the index dimension.
	Upsert(ctx context.Context, records []Record) error

	// Search returns the nearest records to vector by cosine
	// similarity, best first.
	Search(ctx context.Context, vector []float32, opts ...SearchOption) ([]Hit, error)

	// DeleteByDocument removes every record belonging to the given
	// documents. Unknown documents are not an error.
	DeleteByDocument(ctx context.Context, documentIDs ...string) error

	// Count reports the number of indexed records.
	Count(ctx context.Context) (int64, error)
}
