// Package answer turns retrieval results into grounded natural-language
// answers. The model is instructed to use only the supplied context, and
// retrieval that found nothing short-circuits to a fixed reply without
// spending a model call.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/intelforge/intelforge/internal/log"
	"github.com/intelforge/intelforge/internal/retrieve"
)

// NoContextAnswer is returned verbatim when retrieval produced no usable
// context.
const NoContextAnswer = "I don't have enough information in the knowledge base to answer that."

const systemPrompt = `You are a business intelligence assistant. Answer questions using only the provided context. If the context does not contain the information needed, say so plainly. Never invent facts, numbers, or names that are not in the context.`

// StreamCallback receives incremental answer text as the model produces
// it. Returning an error aborts generation.
type StreamCallback func(text string) error

// Generator is the model surface the synthesizer consumes. The Genkit
// implementation lives in generator.go.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, stream StreamCallback) (string, error)
}

// Citation points an answer back at an indexed source.
type Citation struct {
	DocumentID string  `json:"document_id"`
	SourceType string  `json:"source_type"`
	Score      float64 `json:"score"`
}

// Answer is a synthesized reply plus the sources that grounded it.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	NoContext bool       `json:"no_context,omitempty"`
}

// Synthesizer produces answers from retrieval results.
type Synthesizer struct {
	generator Generator
	logger    log.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the structured logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Synthesizer) { s.logger = logger }
}

// New creates a Synthesizer over the given generator.
func New(generator Generator, opts ...Option) (*Synthesizer, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	s := &Synthesizer{generator: generator, logger: log.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Synthesize answers the query in result from its context block. stream
// may be nil; when set it receives text increments before the full
// answer returns. A generation timeout is retried once.
func (s *Synthesizer) Synthesize(ctx context.Context, result retrieve.Result, stream StreamCallback) (Answer, error) {
	if strings.TrimSpace(result.Context) == "" {
		if stream != nil {
			if err := stream(NoContextAnswer); err != nil {
				return Answer{}, fmt.Errorf("stream no-context answer: %w", err)
			}
		}
		return Answer{Text: NoContextAnswer, NoContext: true}, nil
	}

	prompt := buildPrompt(result)

	text, err := s.generator.Generate(ctx, systemPrompt, prompt, stream)
	if err != nil && isTimeout(err) && ctx.Err() == nil {
		s.logger.Warn("generation timed out, retrying once", slog.String("error", err.Error()))
		text, err = s.generator.Generate(ctx, systemPrompt, prompt, stream)
	}
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	return Answer{Text: text, Citations: citations(result)}, nil
}

func buildPrompt(result retrieve.Result) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(result.Context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(result.Query)
	return b.String()
}

// citations lists each source document once, at its best score, in hit
// order.
func citations(result retrieve.Result) []Citation {
	seen := make(map[string]bool)
	var cites []Citation
	for _, h := range result.Hits {
		if seen[h.DocumentID] {
			continue
		}
		seen[h.DocumentID] = true
		cites = append(cites, Citation{
			DocumentID: h.DocumentID,
			SourceType: h.SourceType,
			Score:      h.Score,
		})
	}
	return cites
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
