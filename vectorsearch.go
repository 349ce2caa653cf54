package legalrag

import (
	"context"
	"fmt"

	"github.com/teilomillet/legalrag/config"
	"github.com/teilomillet/legalrag/rag"
)

// VectorSearchStage embeds an incoming query and retrieves candidate chunks
// from the collection a RoutingDecision selected. A
// SmartFilter match narrows the search to the one document it identified;
// otherwise the whole collection is searched.
type VectorSearchStage struct {
	embedder *rag.EmbeddingService
	db       rag.VectorDB
	cfg      *config.Config
}

func NewVectorSearchStage(embedder *rag.EmbeddingService, db rag.VectorDB, cfg *config.Config) *VectorSearchStage {
	return &VectorSearchStage{embedder: embedder, db: db, cfg: cfg}
}

// Search retrieves the nearest chunks to query within decision.Collection,
// restricted by decision.SmartFilter when present. Both k and the
// similarity floor flex with decision.Level: k shrinks when the router is
// already confident (fewer candidates needed) and grows when it is only
// low-medium confident (cast a wider net for the reranker to sort out); the
// floor halves when a smart filter already narrowed the search to one
// document, since that document's own weakest chunks are still relevant. A
// filtered search that errors retries once without the filter before
// surfacing the failure, in case the filter itself is the problem (e.g. a
// stale document id).
func (s *VectorSearchStage) Search(ctx context.Context, query string, decision RoutingDecision) ([]RetrievedChunk, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, newErr(KindOracleTransient, "vectorsearch.Search", err)
	}

	var filter *rag.Filter
	if decision.SmartFilter != nil && decision.SmartFilter.Matched && decision.SmartFilter.DocumentID != "" {
		filter = rag.Eq("document_id", decision.SmartFilter.DocumentID)
	}

	k := s.dynamicK(decision.Level)
	minScore := s.adaptiveMinScore(filter != nil)

	results, err := s.db.Search(
		ctx,
		decision.Collection,
		map[string]rag.Vector{"embedding": queryEmbedding},
		k,
		"COSINE",
		nil,
		filter,
		minScore,
	)
	if err != nil && filter != nil {
		rag.GlobalLogger.Warn("vectorsearch: filtered search failed, retrying without filter", "error", err)
		results, err = s.db.Search(
			ctx,
			decision.Collection,
			map[string]rag.Vector{"embedding": queryEmbedding},
			k,
			"COSINE",
			nil,
			nil,
			s.adaptiveMinScore(false),
		)
	}
	if err != nil {
		return nil, newErr(KindOracleTransient, "vectorsearch.Search", fmt.Errorf("collection %q: %w", decision.Collection, err))
	}

	if s.cfg.HybridLexicalRescore && len(results) > 1 {
		fused, err := s.lexicalRescore(ctx, query, results)
		if err == nil {
			results = fused
		} else {
			rag.GlobalLogger.Warn("vectorsearch: lexical rescore failed, keeping dense order", "error", err)
		}
	}

	chunks := make([]RetrievedChunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, chunkFromSearchResult(r))
	}
	return chunks, nil
}

// lexicalRescore fuses the dense similarity ranking with a BM25 ranking
// computed over just the retrieved candidates themselves, via reciprocal
// rank fusion. This catches queries that name a specific legal term or form
// number the embedding model paraphrases away, without requiring a
// separate full-corpus lexical index to be built and kept in sync.
func (s *VectorSearchStage) lexicalRescore(ctx context.Context, query string, dense []rag.SearchResult) ([]rag.SearchResult, error) {
	index := rag.NewBM25Index()
	for _, r := range dense {
		text, _ := r.Fields["text"].(string)
		if text == "" {
			continue
		}
		if err := index.Add(ctx, r.ID, text, r.Fields); err != nil {
			return nil, err
		}
	}

	sparse, err := index.Search(ctx, query, len(dense))
	if err != nil {
		return nil, err
	}

	return rag.NewRRFReranker(60).Rerank(ctx, query, dense, sparse, 0.5, 0.5)
}

// dynamicK adjusts the base RouterTopK by the router's confidence level,
// bounded to [VectorSearchKMin, VectorSearchKMax]: a confident router needs
// fewer candidates for the reranker to sort through, while a low-medium one
// benefits from a wider net.
func (s *VectorSearchStage) dynamicK(level ConfidenceLevel) int {
	k := float64(s.cfg.RouterTopK)
	switch level {
	case ConfidenceHigh, ConfidenceOverrideHigh:
		k -= k * s.cfg.VectorSearchKShrinkHigh
	case ConfidenceLowMedium:
		k += k * s.cfg.VectorSearchKGrowLowMedium
	}
	out := int(k)
	if out < s.cfg.VectorSearchKMin {
		out = s.cfg.VectorSearchKMin
	}
	if out > s.cfg.VectorSearchKMax {
		out = s.cfg.VectorSearchKMax
	}
	return out
}

// adaptiveMinScore halves the base similarity floor when a smart filter has
// already narrowed the search to one document, since even that document's
// weaker chunks are still in-scope.
func (s *VectorSearchStage) adaptiveMinScore(filtered bool) float64 {
	if filtered {
		return s.cfg.VectorSearchMinScore * s.cfg.VectorSearchFilteredFactor
	}
	return s.cfg.VectorSearchMinScore
}

func chunkFromSearchResult(r rag.SearchResult) RetrievedChunk {
	chunk := RetrievedChunk{
		ChunkID:    fmt.Sprintf("%d", r.ID),
		Similarity: r.Score,
		Metadata:   r.Fields,
	}
	if v, ok := r.Fields["document_id"].(string); ok {
		chunk.DocumentID = v
	}
	if v, ok := r.Fields["document_name"].(string); ok {
		chunk.DocumentName = v
	}
	if v, ok := r.Fields["text"].(string); ok {
		chunk.Text = v
	}
	return chunk
}
