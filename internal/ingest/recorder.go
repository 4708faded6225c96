package ingest

import (
	"context"
	"fmt"

	"github.com/intelforge/intelforge/internal/index"
)

// Recorder persists run reports for later inspection.
type Recorder interface {
	Record(ctx context.Context, report *Report) error
}

// NopRecorder discards reports.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, *Report) error { return nil }

// PostgresRecorder writes reports to the ingestion_runs table.
type PostgresRecorder struct {
	db index.Querier
}

// NewPostgresRecorder creates a recorder over the given querier.
func NewPostgresRecorder(db index.Querier) (*PostgresRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("querier is required")
	}
	return &PostgresRecorder{db: db}, nil
}

// Record implements Recorder.
func (r *PostgresRecorder) Record(ctx context.Context, report *Report) error {
	redactions := make(map[string]int, len(report.Redactions))
	for category, n := range report.Redactions {
		redactions[string(category)] = n
	}

	var runErr string
	if len(report.Errors) > 0 {
		runErr = (&PartialFailureError{
			Failed: report.Failed,
			Total:  report.Documents,
			Errors: report.Errors,
		}).Error()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO ingestion_runs (id, state, started_at, finished_at, documents, chunks, failed, redactions, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at,
			documents = EXCLUDED.documents,
			chunks = EXCLUDED.chunks,
			failed = EXCLUDED.failed,
			redactions = EXCLUDED.redactions,
			error = EXCLUDED.error`,
		report.RunID, string(report.State), report.StartedAt, report.FinishedAt,
		report.Documents, report.Chunks, report.Failed, redactions, runErr)
	if err != nil {
		return fmt.Errorf("insert run report: %w", err)
	}
	return nil
}
