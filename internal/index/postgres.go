package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/intelforge/intelforge/internal/log"
)

// Querier is the database surface PostgresStore depends on. *pgxpool.Pool
// satisfies it, as does a transaction, which keeps tests and callers free
// to choose the execution scope.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// upsertBatchSize bounds how many rows go into one database batch.
const upsertBatchSize = 50

// PostgresStore is the pgvector-backed Store implementation.
type PostgresStore struct {
	db        Querier
	dimension int
	logger    log.Logger
}

// NewPostgresStore creates a store over the given querier. dimension is
// the vector width of the chunks table and must match the migration.
func NewPostgresStore(db Querier, dimension int, logger log.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if dimension < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &PostgresStore{db: db, dimension: dimension, logger: logger}, nil
}

const upsertSQL = `
	INSERT INTO chunks (id, document_id, ordinal, content, embedding, source_type, author, doc_timestamp, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		source_type = EXCLUDED.source_type,
		author = EXCLUDED.author,
		doc_timestamp = EXCLUDED.doc_timestamp,
		metadata = EXCLUDED.metadata,
		updated_at = now()`

// Upsert writes records in batches, overwriting rows that share an ID.
func (s *PostgresStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if err := ValidateRecord(r, s.dimension); err != nil {
			return err
		}
	}

	for start := 0; start < len(records); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(records))
		if err := s.upsertBatch(ctx, records[start:end]); err != nil {
			return fmt.Errorf("upsert records [%d:%d]: %w", start, end, err)
		}
	}

	s.logger.Debug("records upserted", slog.Int("count", len(records)))
	return nil
}

func (s *PostgresStore) upsertBatch(ctx context.Context, records []Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		metadata := r.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		batch.Queue(upsertSQL,
			r.ID, r.DocumentID, r.Ordinal, r.Text,
			pgvector.NewVector(r.Vector),
			r.SourceType, r.Author, r.Timestamp, metadata)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("record %s: %w", records[i].ID, err)
		}
	}
	return results.Close()
}

// Search returns the topK nearest records by cosine similarity.
func (s *PostgresStore) Search(ctx context.Context, vector []float32, opts ...SearchOption) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	options := ApplySearchOptions(opts)

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, document_id, ordinal, content, source_type, author, doc_timestamp, metadata,
		       1 - (embedding <=> $1) AS score
		FROM chunks`)

	args := []any{pgvector.NewVector(vector)}
	var conds []string
	if options.SourceType != "" {
		args = append(args, options.SourceType)
		conds = append(conds, fmt.Sprintf("source_type = $%d", len(args)))
	}
	if len(options.Filter) > 0 {
		args = append(args, options.Filter)
		conds = append(conds, fmt.Sprintf("metadata @> $%d", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, options.TopK)
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1, doc_timestamp DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.Ordinal, &h.Text,
			&h.SourceType, &h.Author, &h.Timestamp, &h.Metadata, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// DeleteByDocument removes all chunks of the given documents.
func (s *PostgresStore) DeleteByDocument(ctx context.Context, documentIDs ...string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = ANY($1)`, documentIDs)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	s.logger.Debug("chunks deleted",
		slog.Int("documents", len(documentIDs)),
		slog.Int64("rows", tag.RowsAffected()))
	return nil
}

// Count reports the number of indexed chunks.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}
