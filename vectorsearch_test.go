package legalrag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/legalrag/config"
	"github.com/teilomillet/legalrag/rag"
)

// fakeVectorDB returns a fixed set of results for any Search call, recording
// the filter it was called with so tests can assert a SmartFilter narrowed
// the query.
type fakeVectorDB struct {
	results      []rag.SearchResult
	lastFilter   *rag.Filter
	lastTopK     int
	failOnFilter bool // returns an error the first time Search is called with a non-nil filter
}

func (f *fakeVectorDB) Connect(ctx context.Context) error         { return nil }
func (f *fakeVectorDB) Close() error                              { return nil }
func (f *fakeVectorDB) HasCollection(ctx context.Context, name string) (bool, error) {
	return true, nil
}
func (f *fakeVectorDB) DropCollection(ctx context.Context, name string) error { return nil }
func (f *fakeVectorDB) CreateCollection(ctx context.Context, name string, schema rag.Schema) error {
	return nil
}
func (f *fakeVectorDB) Insert(ctx context.Context, collectionName string, data []rag.Record) error {
	return nil
}
func (f *fakeVectorDB) Flush(ctx context.Context, collectionName string) error { return nil }
func (f *fakeVectorDB) CreateIndex(ctx context.Context, collectionName, field string, index rag.Index) error {
	return nil
}
func (f *fakeVectorDB) LoadCollection(ctx context.Context, name string) error { return nil }
func (f *fakeVectorDB) SetColumnNames(names []string)                        {}

func (f *fakeVectorDB) Search(ctx context.Context, collectionName string, vectors map[string]rag.Vector, topK int, metricType string, searchParams map[string]interface{}, filter *rag.Filter, minScore float64) ([]rag.SearchResult, error) {
	f.lastFilter = filter
	f.lastTopK = topK
	if f.failOnFilter && filter != nil {
		f.failOnFilter = false // only the first, filtered call fails
		return nil, fmt.Errorf("vector db: simulated filtered-search failure")
	}
	return f.results, nil
}

func (f *fakeVectorDB) HybridSearch(ctx context.Context, collectionName string, vectors map[string]rag.Vector, topK int, metricType string, searchParams map[string]interface{}, reranker interface{}, filter *rag.Filter) ([]rag.SearchResult, error) {
	return f.results, nil
}

func TestVectorSearchStage_SearchReturnsChunks(t *testing.T) {
	embedder := rag.NewEmbeddingService(&fakeEmbedder{vectors: map[string][]float64{"query": {1, 0, 0}}})
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-1", "document_name": "Đăng ký khai sinh", "text": "nội dung 1"}},
		{ID: 2, Score: 0.8, Fields: map[string]interface{}{"document_id": "doc-1", "document_name": "Đăng ký khai sinh", "text": "nội dung 2"}},
	}}
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	stage := NewVectorSearchStage(embedder, db, cfg)

	chunks, err := stage.Search(context.Background(), "query", RoutingDecision{Collection: "ho_tich_cap_xa"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "doc-1", chunks[0].DocumentID)
	assert.Equal(t, "nội dung 1", chunks[0].Text)
	assert.Nil(t, db.lastFilter)
}

func TestVectorSearchStage_SmartFilterNarrowsToDocument(t *testing.T) {
	embedder := rag.NewEmbeddingService(&fakeEmbedder{vectors: map[string][]float64{"query": {1, 0, 0}}})
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-1", "text": "nội dung"}},
	}}
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	stage := NewVectorSearchStage(embedder, db, cfg)

	decision := RoutingDecision{
		Collection:  "ho_tich_cap_xa",
		SmartFilter: &SmartFilter{Matched: true, DocumentID: "doc-1"},
	}
	_, err := stage.Search(context.Background(), "query", decision)
	require.NoError(t, err)
	require.NotNil(t, db.lastFilter)
	assert.Equal(t, rag.FilterEq, db.lastFilter.Op)
	assert.Equal(t, "doc-1", db.lastFilter.Value)
}

func TestVectorSearchStage_HybridLexicalRescoreReordersOnTermMatch(t *testing.T) {
	embedder := rag.NewEmbeddingService(&fakeEmbedder{vectors: map[string][]float64{"giấy khai sinh mẫu TP/HT-01": {1, 0, 0}}})
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-1", "text": "hướng dẫn chung về hộ tịch"}},
		{ID: 2, Score: 0.85, Fields: map[string]interface{}{"document_id": "doc-2", "text": "mẫu TP/HT-01 giấy khai sinh"}},
	}}
	cfg := config.DefaultConfig()
	stage := NewVectorSearchStage(embedder, db, cfg)

	chunks, err := stage.Search(context.Background(), "giấy khai sinh mẫu TP/HT-01", RoutingDecision{Collection: "ho_tich_cap_xa"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "doc-2", chunks[0].DocumentID)
}

func TestVectorSearchStage_DynamicKShrinksOnHighConfidenceAndGrowsOnLowMedium(t *testing.T) {
	embedder := rag.NewEmbeddingService(&fakeEmbedder{vectors: map[string][]float64{"query": {1, 0, 0}}})
	db := &fakeVectorDB{results: []rag.SearchResult{{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-1", "text": "x"}}}}
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	cfg.RouterTopK = 10
	stage := NewVectorSearchStage(embedder, db, cfg)

	_, err := stage.Search(context.Background(), "query", RoutingDecision{Collection: "c", Level: ConfidenceHigh})
	require.NoError(t, err)
	assert.Equal(t, 8, db.lastTopK, "high confidence should shrink k by 30%%, bounded at the 8 floor")

	_, err = stage.Search(context.Background(), "query", RoutingDecision{Collection: "c", Level: ConfidenceLowMedium})
	require.NoError(t, err)
	assert.Equal(t, 12, db.lastTopK, "low-medium confidence should grow k by 25%%")
}

func TestVectorSearchStage_FilteredSearchRetriesWithoutFilterOnError(t *testing.T) {
	embedder := rag.NewEmbeddingService(&fakeEmbedder{vectors: map[string][]float64{"query": {1, 0, 0}}})
	db := &fakeVectorDB{
		results:      []rag.SearchResult{{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-1", "text": "x"}}},
		failOnFilter: true,
	}
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	stage := NewVectorSearchStage(embedder, db, cfg)

	decision := RoutingDecision{
		Collection:  "c",
		SmartFilter: &SmartFilter{Matched: true, DocumentID: "doc-1"},
	}
	chunks, err := stage.Search(context.Background(), "query", decision)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, db.lastFilter, "the retry must drop the filter that caused the first failure")
}
