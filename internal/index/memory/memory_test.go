package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelforge/intelforge/internal/index"
)

func record(id, docID string, ordinal int, vec []float32) index.Record {
	return index.Record{
		ID:         id,
		DocumentID: docID,
		Ordinal:    ordinal,
		Text:       "text of " + id,
		Vector:     vec,
		Timestamp:  time.Now(),
	}
}

func TestUpsertAndSearch(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Upsert(ctx, []index.Record{
		record("a:0", "a", 0, []float32{1, 0, 0}),
		record("b:0", "b", 0, []float32{0, 1, 0}),
		record("c:0", "c", 0, []float32{0.9, 0.1, 0}),
	})
	require.NoError(t, err)

	hits, err := s.Search(ctx, []float32{1, 0, 0}, index.WithTopK(2))

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a:0", hits[0].ID)
	assert.Equal(t, "c:0", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestUpsert_OverwritesSameID(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []index.Record{record("a:0", "a", 0, []float32{1, 0, 0})}))
	updated := record("a:0", "a", 0, []float32{0, 1, 0})
	updated.Text = "updated"
	require.NoError(t, s.Upsert(ctx, []index.Record{updated}))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	hits, err := s.Search(ctx, []float32{0, 1, 0}, index.WithTopK(1))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "updated", hits[0].Text)
}

func TestUpsert_RejectsDimensionMismatch(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)

	err = s.Upsert(context.Background(), []index.Record{record("a:0", "a", 0, []float32{1, 0})})

	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestSearch_DimensionAndEmptyVector(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Search(ctx, nil)
	assert.ErrorIs(t, err, index.ErrEmptyVector)

	_, err = s.Search(ctx, []float32{1, 0})
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestSearch_SourceTypeFilter(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()

	crm := record("a:0", "a", 0, []float32{1, 0, 0})
	crm.SourceType = "crm"
	file := record("b:0", "b", 0, []float32{1, 0, 0})
	file.SourceType = "filesystem"
	require.NoError(t, s.Upsert(ctx, []index.Record{crm, file}))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, index.WithSourceType("crm"))

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a:0", hits[0].ID)
}

func TestSearch_MetadataFilter(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()

	tagged := record("a:0", "a", 0, []float32{1, 0, 0})
	tagged.Metadata = map[string]any{"region": "emea", "tier": "gold"}
	other := record("b:0", "b", 0, []float32{1, 0, 0})
	other.Metadata = map[string]any{"region": "apac"}
	require.NoError(t, s.Upsert(ctx, []index.Record{tagged, other}))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, index.WithFilter(map[string]any{"region": "emea"}))

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a:0", hits[0].ID)
}

func TestSearch_MetadataFilterUncomparableValues(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()

	// JSON-decoded metadata can hold maps and slices. Filtering on them
	// must compare structurally instead of panicking.
	tagged := record("a:0", "a", 0, []float32{1, 0, 0})
	tagged.Metadata = map[string]any{"labels": []any{"renewal", "q3"}}
	other := record("b:0", "b", 0, []float32{1, 0, 0})
	other.Metadata = map[string]any{"labels": []any{"churn"}}
	require.NoError(t, s.Upsert(ctx, []index.Record{tagged, other}))

	hits, err := s.Search(ctx, []float32{1, 0, 0},
		index.WithFilter(map[string]any{"labels": []any{"renewal", "q3"}}))

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a:0", hits[0].ID)
}

func TestSearch_EqualScoresPreferNewerDocument(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()

	older := record("a:0", "a", 0, []float32{1, 0, 0})
	older.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := record("b:0", "b", 0, []float32{1, 0, 0})
	newer.Timestamp = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, []index.Record{older, newer}))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, index.WithTopK(2))

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b:0", hits[0].ID)
	assert.Equal(t, "a:0", hits[1].ID)
}

func TestDeleteByDocument(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []index.Record{
		record("a:0", "a", 0, []float32{1, 0, 0}),
		record("a:1", "a", 1, []float32{0, 1, 0}),
		record("b:0", "b", 0, []float32{0, 0, 1}),
	}))

	require.NoError(t, s.DeleteByDocument(ctx, "a"))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Deleting an unknown document is not an error.
	assert.NoError(t, s.DeleteByDocument(ctx, "missing"))
}

func TestSearch_TopKDefault(t *testing.T) {
	s, err := New(2)
	require.NoError(t, err)
	ctx := context.Background()

	var records []index.Record
	for i := range 10 {
		records = append(records, record(index.ChunkID("doc", i), "doc", i, []float32{1, float32(i) * 0.01}))
	}
	require.NoError(t, s.Upsert(ctx, records))

	hits, err := s.Search(ctx, []float32{1, 0})

	require.NoError(t, err)
	assert.Len(t, hits, index.DefaultTopK)
}
