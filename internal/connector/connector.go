// Package connector defines document sources for ingestion. A Source
// fetches raw documents from somewhere (a directory tree, a CRM export);
// the ingestor owns everything that happens after.
package connector

import (
	"context"
	"time"
)

// Document is one raw unit of source content, before redaction and
// chunking. ID must be stable across fetches of the same logical
// document so re-ingestion overwrites instead of duplicating.
type Document struct {
	ID         string
	Text       string
	SourceType string
	Author     string
	Timestamp  time.Time
	Metadata   map[string]any
}

// Source is one place documents come from.
type Source interface {
	// Name identifies the source in logs and run reports.
	Name() string

	// Fetch returns every document the source currently holds.
	Fetch(ctx context.Context) ([]Document, error)
}
