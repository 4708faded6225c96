package connector

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SourceTypeCRM tags documents read from CRM export files.
const SourceTypeCRM = "crm"

// CRMFile reads a CRM export, either a JSON array of records or a CSV
// with a header row, and renders each record as one document of
// "field: value" lines. Rendering happens before redaction, so field
// values containing PII are still scrubbed downstream.
type CRMFile struct {
	name string
	path string
}

// NewCRMFile creates a CRM source over the export at path. The format is
// chosen by extension: .json or .csv.
func NewCRMFile(name, path string) (*CRMFile, error) {
	if name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".csv":
	default:
		return nil, fmt.Errorf("unsupported CRM export format %q, want .json or .csv", filepath.Ext(path))
	}
	return &CRMFile{name: name, path: path}, nil
}

// Name implements Source.
func (c *CRMFile) Name() string { return c.name }

// Fetch implements Source.
func (c *CRMFile) Fetch(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []map[string]string
	var err error
	switch strings.ToLower(filepath.Ext(c.path)) {
	case ".json":
		records, err = readJSONRecords(c.path)
	case ".csv":
		records, err = readCSVRecords(c.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read CRM export %s: %w", c.path, err)
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", c.path, err)
	}

	docs := make([]Document, 0, len(records))
	for i, record := range records {
		docs = append(docs, c.renderRecord(record, i, info.ModTime()))
	}
	return docs, nil
}

func (c *CRMFile) renderRecord(record map[string]string, ordinal int, fallback time.Time) Document {
	id := record["id"]
	if id == "" {
		id = fmt.Sprintf("row-%d", ordinal)
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if record[k] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", k, record[k])
	}

	return Document{
		ID:         "crm/" + id,
		Text:       b.String(),
		SourceType: SourceTypeCRM,
		Author:     firstNonEmpty(record["owner"], record["author"]),
		Timestamp:  recordTimestamp(record, fallback),
		Metadata: map[string]any{
			"record_id": id,
		},
	}
}

func readJSONRecords(path string) ([]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	records := make([]map[string]string, 0, len(raw))
	for _, r := range raw {
		record := make(map[string]string, len(r))
		for k, v := range r {
			record[k] = stringify(v)
		}
		records = append(records, record)
	}
	return records, nil
}

func readCSVRecords(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers arrive as float64; print integers without the
		// trailing .0 noise.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// timestampFields are checked in order for a record's own timestamp.
var timestampFields = []string{"updated_at", "timestamp", "created_at", "date"}

func recordTimestamp(record map[string]string, fallback time.Time) time.Time {
	for _, field := range timestampFields {
		raw := record[field]
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts
			}
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
