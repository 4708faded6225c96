package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intelforge/intelforge/internal/redact"
)

// Report summarizes one ingestion run.
type Report struct {
	RunID      uuid.UUID               `json:"run_id"`
	State      State                   `json:"state"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Documents  int                     `json:"documents"`
	Chunks     int                     `json:"chunks"`
	Failed     int                     `json:"failed"`
	Redactions map[redact.Category]int `json:"redactions,omitempty"`
	Sources    []SourceStats           `json:"sources"`
	Errors     []DocumentError         `json:"errors,omitempty"`
}

// SourceStats breaks a run down per source.
type SourceStats struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Failed    int    `json:"failed"`
	FetchErr  string `json:"fetch_error,omitempty"`
}

// DocumentError records one document that could not be ingested.
type DocumentError struct {
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Err        string `json:"error"`
}

// PartialFailureError reports a run that completed with some documents
// failed. The rest of the corpus is indexed and usable.
type PartialFailureError struct {
	Failed int
	Total  int
	Errors []DocumentError
}

func (e *PartialFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingestion completed with %d of %d documents failed", e.Failed, e.Total)
	for i, docErr := range e.Errors {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Errors)-i)
			break
		}
		fmt.Fprintf(&b, "; %s: %s", docErr.DocumentID, docErr.Err)
	}
	return b.String()
}
