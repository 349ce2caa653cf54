package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossEncoderReranker_ScoreParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Pairs, 2)
		json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{1.2, -0.3}})
	}))
	defer server.Close()

	r := NewCrossEncoderReranker(WithRerankerEndpoint(server.URL))
	scores, err := r.Score(context.Background(), []RerankPair{
		{Query: "q", Document: "a"},
		{Query: "q", Document: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.2, -0.3}, scores)
}

func TestCrossEncoderReranker_EmptyPairsReturnsNilWithoutCallingHost(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	r := NewCrossEncoderReranker(WithRerankerEndpoint(server.URL))
	scores, err := r.Score(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
	assert.False(t, called)
}

func TestCrossEncoderReranker_ScoreCountMismatchIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{1.0}})
	}))
	defer server.Close()

	r := NewCrossEncoderReranker(WithRerankerEndpoint(server.URL))
	_, err := r.Score(context.Background(), []RerankPair{
		{Query: "q", Document: "a"},
		{Query: "q", Document: "b"},
	})
	assert.Error(t, err)
}

func TestCrossEncoderReranker_HostErrorStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oracle overloaded"))
	}))
	defer server.Close()

	r := NewCrossEncoderReranker(WithRerankerEndpoint(server.URL))
	_, err := r.Score(context.Background(), []RerankPair{{Query: "q", Document: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle overloaded")
}
