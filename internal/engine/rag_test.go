package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// hashEmbedder produces deterministic unit vectors so similarity search is
// stable without a live embedding service.
type hashEmbedder struct {
	dim int
}

func (h *hashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(text))
	seed := hasher.Sum32()
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000) / 1000.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (h *hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func echoComplete(_ context.Context, _, prompt string) (string, error) {
	return "answer based on: " + prompt[:min(40, len(prompt))], nil
}

func newTestEngine(t *testing.T) Engine {
	t.Helper()

	factory, err := NewRAGFactory(&hashEmbedder{dim: 8}, echoComplete, nil, RAGConfig{}, zap.NewNop())
	require.NoError(t, err)

	eng, err := factory.Create(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestRAGEngine_InsertAndSearch(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.Insert(ctx, Document{
		ID:      "doc-1",
		Title:   "About EmbedIQ",
		Content: "EmbedIQ is a platform for document management using retrieval augmented generation.",
		Metadata: map[string]string{
			"source": "test",
		},
	})
	require.NoError(t, err)

	results, err := eng.Search(ctx, "What is EmbedIQ?", SearchOptions{TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, "About EmbedIQ", results[0].DocumentTitle)
	assert.Equal(t, "test", results[0].Metadata["source"])
	assert.NotEmpty(t, results[0].ChunkID)
}

func TestRAGEngine_InsertValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.Insert(ctx, Document{ID: "doc-1", Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	err = eng.Insert(ctx, Document{Content: "some content"})
	assert.Error(t, err)
}

func TestRAGEngine_SearchEmptyIndex(t *testing.T) {
	eng := newTestEngine(t)

	results, err := eng.Search(context.Background(), "anything", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRAGEngine_SearchInvalidMode(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Insert(ctx, Document{ID: "d", Content: "text body here"}))

	_, err := eng.Search(ctx, "query", SearchOptions{Mode: "telepathic"})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestRAGEngine_Query(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Insert(ctx, Document{
		ID:      "doc-1",
		Content: "The capital of France is Paris. It is known for the Eiffel Tower.",
	}))

	result, err := eng.Query(ctx, "What is the capital of France?", SearchOptions{TopK: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Answer)
	assert.NotEmpty(t, result.Sources)
	assert.Greater(t, result.Confidence, 0.0)
}

func TestRAGEngine_QueryNoDocuments(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Query(context.Background(), "anything?", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
	assert.NotEmpty(t, result.Answer)
}

func TestRAGEngine_Delete(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Insert(ctx, Document{ID: "doc-1", Content: "first document body"}))
	require.NoError(t, eng.Insert(ctx, Document{ID: "doc-2", Content: "second document body"}))

	require.NoError(t, eng.Delete(ctx, "doc-1"))

	results, err := eng.Search(ctx, "document body", SearchOptions{TopK: 5})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "doc-1", r.DocumentID)
	}

	err = eng.Delete(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestRAGEngine_ClosedOperationsFail(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close(), "close must be idempotent")

	assert.ErrorIs(t, eng.Insert(ctx, Document{ID: "d", Content: "x"}), ErrClosed)
	_, err := eng.Search(ctx, "q", SearchOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = eng.Query(ctx, "q", SearchOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, eng.Delete(ctx, "d"), ErrClosed)
}

func TestRAGEngine_PersistsAcrossCreate(t *testing.T) {
	dir := t.TempDir()
	factory, err := NewRAGFactory(&hashEmbedder{dim: 8}, echoComplete, nil, RAGConfig{}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	eng, err := factory.Create(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, eng.Insert(ctx, Document{ID: "doc-1", Content: "persistent content"}))
	require.NoError(t, eng.Close())

	reopened, err := factory.Create(ctx, dir)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(ctx, "persistent content", SearchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, results, "index must survive engine recreation")
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModeNaive, ModeLocal, ModeGlobal, ModeHybrid, ModeMix} {
		assert.True(t, m.Valid(), fmt.Sprintf("mode %q", m))
	}
	assert.False(t, Mode("").Valid())
	assert.False(t, Mode("telepathic").Valid())
}
