package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitGenerator runs generation through a Genkit model.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitGenerator creates a generator bound to the given model, e.g.
// "googleai/gemini-2.5-flash" or "ollama/llama3.2".
func NewGenkitGenerator(g *genkit.Genkit, modelName string) (*GenkitGenerator, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	return &GenkitGenerator{g: g, modelName: modelName}, nil
}

// Generate implements Generator. When stream is set the model response
// is forwarded chunk by chunk as it arrives.
func (gg *GenkitGenerator) Generate(ctx context.Context, system, prompt string, stream StreamCallback) (string, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(gg.modelName),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	}
	if stream != nil {
		opts = append(opts, ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			return stream(chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, gg.g, opts...)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", gg.modelName, err)
	}
	return resp.Text(), nil
}
