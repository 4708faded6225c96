package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder records calls and replays scripted responses.
type mockEmbedder struct {
	calls     [][]string
	dimension int
	failures  int
	failWith  error
}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	texts := make([]string, len(req.Input))
	for i, doc := range req.Input {
		texts[i] = doc.Content[0].Text
	}
	m.calls = append(m.calls, texts)

	if m.failures > 0 {
		m.failures--
		return nil, m.failWith
	}

	resp := &ai.EmbedResponse{}
	for i, text := range texts {
		vec := make([]float32, m.dimension)
		// Encode input identity into the vector so order can be checked.
		vec[0] = float32(len(text))
		vec[1] = float32(i)
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: vec})
	}
	return resp, nil
}

func fastRetry(b *Batcher) {
	b.retry = retryConfig{maxAttempts: 3, initialDelay: 1, maxDelay: 5}
}

func TestEmbedTexts_Empty(t *testing.T) {
	mock := &mockEmbedder{dimension: DefaultDimension}
	b, err := NewBatcher(mock)
	require.NoError(t, err)

	vectors, err := b.EmbedTexts(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Empty(t, mock.calls)
}

func TestEmbedTexts_BatchesAndPreservesOrder(t *testing.T) {
	mock := &mockEmbedder{dimension: DefaultDimension}
	b, err := NewBatcher(mock, WithBatchSize(2))
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := b.EmbedTexts(context.Background(), texts)

	require.NoError(t, err)
	require.Len(t, vectors, 5)
	// Three provider calls: 2 + 2 + 1.
	require.Len(t, mock.calls, 3)
	assert.Equal(t, []string{"a", "bb"}, mock.calls[0])
	assert.Equal(t, []string{"eeeee"}, mock.calls[2])
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d out of order", i)
	}
}

func TestEmbedTexts_TruncatesWideVectors(t *testing.T) {
	mock := &mockEmbedder{dimension: 3072}
	b, err := NewBatcher(mock, WithDimension(768))
	require.NoError(t, err)

	vectors, err := b.EmbedTexts(context.Background(), []string{"hello"})

	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Len(t, vectors[0], 768)
}

func TestEmbedTexts_RejectsNarrowVectors(t *testing.T) {
	mock := &mockEmbedder{dimension: 128}
	b, err := NewBatcher(mock, WithDimension(768))
	require.NoError(t, err)

	_, err = b.EmbedTexts(context.Background(), []string{"hello"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "128 dimensions")
}

func TestEmbedTexts_RetriesTransientFailures(t *testing.T) {
	mock := &mockEmbedder{
		dimension: DefaultDimension,
		failures:  2,
		failWith:  errors.New("503 service unavailable"),
	}
	b, err := NewBatcher(mock)
	require.NoError(t, err)
	fastRetry(b)

	vectors, err := b.EmbedTexts(context.Background(), []string{"hello"})

	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Len(t, mock.calls, 3)
}

func TestEmbedTexts_ExhaustedRetries(t *testing.T) {
	mock := &mockEmbedder{
		dimension: DefaultDimension,
		failures:  10,
		failWith:  errors.New("rate limit exceeded"),
	}
	b, err := NewBatcher(mock)
	require.NoError(t, err)
	fastRetry(b)

	_, err = b.EmbedTexts(context.Background(), []string{"hello"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Len(t, mock.calls, 3)
}

func TestEmbedTexts_PermanentFailureFailsFast(t *testing.T) {
	mock := &mockEmbedder{
		dimension: DefaultDimension,
		failures:  10,
		failWith:  errors.New("invalid api key"),
	}
	b, err := NewBatcher(mock)
	require.NoError(t, err)
	fastRetry(b)

	_, err = b.EmbedTexts(context.Background(), []string{"hello"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Len(t, mock.calls, 1)
}

func TestEmbedTexts_MismatchedResponseCount(t *testing.T) {
	b, err := NewBatcher(embedderFunc(func(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
		return &ai.EmbedResponse{}, nil
	}))
	require.NoError(t, err)

	_, err = b.EmbedTexts(context.Background(), []string{"hello"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 embeddings for 1 texts")
}

func TestEmbedQuery(t *testing.T) {
	mock := &mockEmbedder{dimension: DefaultDimension}
	b, err := NewBatcher(mock)
	require.NoError(t, err)

	vec, err := b.EmbedQuery(context.Background(), "what is churn?")

	require.NoError(t, err)
	assert.Len(t, vec, DefaultDimension)
}

func TestNewBatcher_Validation(t *testing.T) {
	mock := &mockEmbedder{dimension: DefaultDimension}

	_, err := NewBatcher(nil)
	assert.Error(t, err)

	_, err = NewBatcher(mock, WithBatchSize(0))
	assert.Error(t, err)

	_, err = NewBatcher(mock, WithDimension(-1))
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("429 too many requests"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("context deadline exceeded: timeout"), true},
		{errors.New("model overloaded"), true},
		{errors.New("invalid argument"), false},
		{nil, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isTransient(tt.err), fmt.Sprintf("%v", tt.err))
	}
}

type embedderFunc func(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error)

func (f embedderFunc) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	return f(ctx, req)
}
