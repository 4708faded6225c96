package connector

import "context"

// Static is a fixed in-memory source. It seeds demos and backs tests
// that need deterministic documents.
type Static struct {
	name string
	docs []Document
}

// NewStatic creates a source that always returns the given documents.
func NewStatic(name string, docs ...Document) *Static {
	return &Static{name: name, docs: docs}
}

// Name implements Source.
func (s *Static) Name() string { return s.name }

// Fetch implements Source.
func (s *Static) Fetch(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out, nil
}
