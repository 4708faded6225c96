// Package chunk splits document text into overlapping windows sized for
// the embedding model. Offsets are rune based so multi-byte text never
// splits inside a character.
package chunk

import (
	"fmt"
	"iter"
)

// Default window geometry. 1000 runes keeps a chunk comfortably inside
// embedding token limits while the 200-rune overlap preserves context
// across chunk boundaries.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Chunk is one window of a document. Start and End are rune offsets into
// the original text, with End exclusive. Ordinal is the zero-based
// position of the chunk within its document and is stable for a given
// (text, size, overlap), which lets re-ingestion overwrite in place.
type Chunk struct {
	DocumentID string
	Ordinal    int
	Text       string
	Start      int
	End        int
}

// Splitter produces overlapping chunks from document text.
// The zero value is not usable; construct with New.
type Splitter struct {
	size    int
	overlap int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithSize sets the window size in runes.
func WithSize(n int) Option {
	return func(s *Splitter) { s.size = n }
}

// WithOverlap sets how many runes consecutive chunks share.
func WithOverlap(n int) Option {
	return func(s *Splitter) { s.overlap = n }
}

// New creates a Splitter. It returns an error when the geometry is
// degenerate: size must be positive and overlap must be smaller than
// size, or the window would never advance.
func New(opts ...Option) (*Splitter, error) {
	s := &Splitter{size: DefaultSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", s.size)
	}
	if s.overlap < 0 || s.overlap >= s.size {
		return nil, fmt.Errorf("overlap must be in [0, size), got overlap=%d size=%d", s.overlap, s.size)
	}
	return s, nil
}

// Size returns the configured window size in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split chunks text for the given document. Empty text yields no chunks;
// text at or under the window size yields exactly one chunk covering it.
func (s *Splitter) Split(docID, text string) []Chunk {
	var chunks []Chunk
	for c := range s.All(docID, text) {
		chunks = append(chunks, c)
	}
	return chunks
}

// All returns the chunks of text as a lazy sequence, letting large
// documents stream through the pipeline without materializing every
// window up front.
func (s *Splitter) All(docID, text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		if len(runes) == 0 {
			return
		}
		step := s.size - s.overlap
		for ordinal, start := 0, 0; start < len(runes); ordinal, start = ordinal+1, start+step {
			end := min(start+s.size, len(runes))
			if !yield(Chunk{
				DocumentID: docID,
				Ordinal:    ordinal,
				Text:       string(runes[start:end]),
				Start:      start,
				End:        end,
			}) {
				return
			}
			if end == len(runes) {
				return
			}
		}
	}
}
