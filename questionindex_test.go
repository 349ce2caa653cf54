package legalrag

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/legalrag/rag"
	"github.com/teilomillet/legalrag/rag/providers"
)

// countingEmbedder wraps fakeEmbedder's fixed-vector behavior but tracks how
// many times Embed was actually invoked, so tests can assert caching and
// dedup behavior without depending on timing.
type countingEmbedder struct {
	fakeEmbedder
	calls int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(20 * time.Millisecond) // hold the flight open long enough for concurrent callers to join it
	return c.fakeEmbedder.Embed(ctx, text)
}

var _ providers.Embedder = (*countingEmbedder)(nil)

func TestQuestionIndex_BuildEmbedsEveryQuestion(t *testing.T) {
	embedder := &countingEmbedder{fakeEmbedder: fakeEmbedder{vectors: map[string][]float64{
		"câu hỏi 1": {1, 0, 0},
		"câu hỏi 2": {0, 1, 0},
	}}}
	idx := NewQuestionIndex(rag.NewEmbeddingService(embedder), "", 0)

	questions := []ExampleQuestion{{Text: "câu hỏi 1"}, {Text: "câu hỏi 2"}}
	require.NoError(t, idx.Build(context.Background(), questions, time.Now()))

	out := idx.Questions()
	require.Len(t, out, 2)
	assert.Equal(t, []float64{1, 0, 0}, out[0].Embedding)
	assert.EqualValues(t, 2, embedder.calls)
}

func TestQuestionIndex_BuildReusesFreshCacheWithoutReembedding(t *testing.T) {
	embedder := &countingEmbedder{fakeEmbedder: fakeEmbedder{vectors: map[string][]float64{
		"câu hỏi 1": {1, 0, 0},
	}}}
	cachePath := filepath.Join(t.TempDir(), "questions.gob")
	questions := []ExampleQuestion{{Text: "câu hỏi 1", Collection: "chung_thuc"}}

	idx := NewQuestionIndex(rag.NewEmbeddingService(embedder), cachePath, time.Hour)
	sourceTime := time.Now()
	require.NoError(t, idx.Build(context.Background(), questions, sourceTime))
	require.EqualValues(t, 1, embedder.calls)

	// A fresh QuestionIndex pointed at the same cache path should load the
	// cache instead of calling the embedder again.
	reloaded := NewQuestionIndex(rag.NewEmbeddingService(embedder), cachePath, time.Hour)
	require.NoError(t, reloaded.Build(context.Background(), questions, sourceTime))
	assert.EqualValues(t, 1, embedder.calls, "cache hit must not re-embed")

	out := reloaded.Questions()
	require.Len(t, out, 1)
	assert.Equal(t, "chung_thuc", out[0].Collection)
}

func TestQuestionIndex_StaleCacheIsRebuilt(t *testing.T) {
	embedder := &countingEmbedder{fakeEmbedder: fakeEmbedder{vectors: map[string][]float64{
		"câu hỏi 1": {1, 0, 0},
	}}}
	cachePath := filepath.Join(t.TempDir(), "questions.gob")
	questions := []ExampleQuestion{{Text: "câu hỏi 1"}}

	idx := NewQuestionIndex(rag.NewEmbeddingService(embedder), cachePath, time.Hour)
	require.NoError(t, idx.Build(context.Background(), questions, time.Now()))
	require.EqualValues(t, 1, embedder.calls)

	// A newer source mtime, far beyond the cache's freshness window, forces
	// a rebuild rather than reuse of the stale cache.
	newerSource := time.Now().Add(2 * time.Hour)
	idx2 := NewQuestionIndex(rag.NewEmbeddingService(embedder), cachePath, time.Hour)
	require.NoError(t, idx2.Build(context.Background(), questions, newerSource))
	assert.EqualValues(t, 2, embedder.calls)
}

func TestQuestionIndex_EmbedQueryDedupsConcurrentIdenticalCalls(t *testing.T) {
	embedder := &countingEmbedder{fakeEmbedder: fakeEmbedder{vectors: map[string][]float64{
		"câu hỏi lặp lại": {1, 1, 0},
	}}}
	idx := NewQuestionIndex(rag.NewEmbeddingService(embedder), "", 0)

	const n = 10
	results := make(chan []float64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			v, err := idx.EmbedQuery(context.Background(), "câu hỏi lặp lại")
			results <- v
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, []float64{1, 1, 0}, <-results)
	}
	assert.Less(t, int(embedder.calls), n, "singleflight should collapse concurrent identical queries")
}
