package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRRFReranker_DocumentInBothListsOutranksSingleList(t *testing.T) {
	dense := []SearchResult{
		{ID: 1, Score: 0.9, Fields: map[string]interface{}{"text": "doc one"}},
		{ID: 2, Score: 0.8, Fields: map[string]interface{}{"text": "doc two"}},
	}
	sparse := []SearchResult{
		{ID: 2, Score: 5.0, Fields: map[string]interface{}{"text": "doc two"}},
		{ID: 3, Score: 4.0, Fields: map[string]interface{}{"text": "doc three"}},
	}

	r := NewRRFReranker(60)
	results, err := r.Rerank(context.Background(), "query", dense, sparse, 0.5, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(2), results[0].ID, "doc 2 appears near the top of both lists and should win")
}

func TestRRFReranker_PreservesFieldsFromOriginalResult(t *testing.T) {
	dense := []SearchResult{{ID: 1, Fields: map[string]interface{}{"document_id": "doc-1"}}}
	r := NewRRFReranker(60)

	results, err := r.Rerank(context.Background(), "query", dense, nil, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].Fields["document_id"])
}

func TestRRFReranker_ZeroKFallsBackToPaperDefault(t *testing.T) {
	r := NewRRFReranker(0)
	assert.Equal(t, 60.0, r.k)
}

func TestRRFReranker_ZeroWeightsDefaultToEvenSplit(t *testing.T) {
	dense := []SearchResult{{ID: 1}}
	sparse := []SearchResult{{ID: 1}}
	r := NewRRFReranker(60)

	results, err := r.Rerank(context.Background(), "query", dense, sparse, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0/61.0, results[0].Score, 1e-9)
}
