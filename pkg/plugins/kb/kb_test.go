package kb

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selune-dev/selune/pkg/tools"
)

// fakeEmbedder maps known texts to fixed 4-dim vectors so distance ordering
// is deterministic.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }

func newTestKB(t *testing.T, embedder Embedder) *KnowledgeBase {
	t.Helper()
	kb, err := Open(filepath.Join(t.TempDir(), "kb.db"), embedder)
	require.NoError(t, err)
	t.Cleanup(func() { kb.Close() })
	return kb
}

func TestQueryReturnsClosestChunksFirst(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"warranty terms":    {1, 0, 0, 0},
		"cleaning guide":    {0, 1, 0, 0},
		"shipping policy":   {0, 0, 1, 0},
		"how do I clean it": {0, 0.9, 0.1, 0},
	}}
	kb := newTestKB(t, embedder)
	ctx := context.Background()

	require.NoError(t, kb.AddChunk(ctx, "Product Manual", 3, "warranty terms"))
	require.NoError(t, kb.AddChunk(ctx, "Product Manual", 7, "cleaning guide"))
	require.NoError(t, kb.AddChunk(ctx, "Support FAQ", 1, "shipping policy"))

	out := kb.Query(ctx, "how do I clean it")
	blocks := strings.Split(out, "\n\n")
	require.Len(t, blocks, 3)
	assert.Equal(t, `# Source "Product Manual" - Page 7`+"\ncleaning guide", blocks[0])
}

func TestQueryLimitsToTopThree(t *testing.T) {
	kb := newTestKB(t, &fakeEmbedder{})
	ctx := context.Background()
	for page := 1; page <= 5; page++ {
		require.NoError(t, kb.AddChunk(ctx, "Manual", page, "text"))
	}

	out := kb.Query(ctx, "text")
	assert.Len(t, strings.Split(out, "\n\n"), 3)
}

func TestQueryEmptyKnowledgeBase(t *testing.T) {
	kb := newTestKB(t, &fakeEmbedder{})
	out := kb.Query(context.Background(), "anything")
	assert.Equal(t, "No relevant documents found in the knowledge base.", out)
}

func TestQueryEmbedderFailureBecomesText(t *testing.T) {
	kb := newTestKB(t, &fakeEmbedder{err: errors.New("embedding service down")})
	out := kb.Query(context.Background(), "anything")
	assert.Contains(t, out, "Failed to query knowledge base")
	assert.Contains(t, out, "embedding service down")
}

func TestRegisterTools(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"doc text": {1, 0, 0, 0},
		"find doc": {1, 0, 0, 0},
	}}
	kb := newTestKB(t, embedder)
	require.NoError(t, kb.AddChunk(context.Background(), "Guide", 2, "doc text"))

	registry := tools.NewRegistry()
	require.NoError(t, RegisterTools(registry, kb))

	out := registry.Invoke(context.Background(), "query_kb", map[string]interface{}{"query": "find doc"})
	assert.Contains(t, out, `# Source "Guide" - Page 2`)
}
