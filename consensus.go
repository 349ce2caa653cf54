package legalrag

import (
	"context"
	"math"
	"sort"

	"github.com/teilomillet/legalrag/config"
	"github.com/teilomillet/legalrag/rag"
)

// ConsensusReranker scores the top-m retrieved chunks against the query
// with a cross-encoder, groups the survivors by document, and picks the
// document most of them agree on — unless the router was already
// confident enough that rerank noise should not override it.
type ConsensusReranker struct {
	reranker rag.Reranker
	cfg      *config.Config
}

func NewConsensusReranker(reranker rag.Reranker, cfg *config.Config) *ConsensusReranker {
	return &ConsensusReranker{reranker: reranker, cfg: cfg}
}

// Rerank picks the nucleus document among chunks for query, given the
// router's decision confidence.
func (c *ConsensusReranker) Rerank(ctx context.Context, query string, chunks []RetrievedChunk, decision RoutingDecision) (ConsensusResult, error) {
	if len(chunks) == 0 {
		return ConsensusResult{}, newErr(KindNoMatch, "consensus.Rerank", nil)
	}

	ranked := sortedBySimilarity(chunks)
	topM := ranked
	if len(topM) > c.cfg.ConsensusTopM {
		topM = topM[:c.cfg.ConsensusTopM]
	}

	if decision.Confidence >= c.cfg.RouterTrustConfidence {
		return c.routerTrustedResult(ranked, decision), nil
	}

	pairs := make([]rag.RerankPair, len(topM))
	for i, chunk := range topM {
		pairs[i] = rag.RerankPair{Query: query, Document: chunk.Text}
	}
	scores, err := c.reranker.Score(ctx, pairs)
	if err != nil {
		rag.GlobalLogger.Warn("consensus: reranker unavailable, falling back to vector-search top hit", "error", err)
		return c.rerankerOutageResult(ranked, decision), nil
	}

	survivors := make([]scoredChunk, 0, len(topM))
	for i, chunk := range topM {
		if scores[i] < c.cfg.ConsensusMinRerankScore {
			continue
		}
		survivors = append(survivors, scoredChunk{chunk: chunk, score: scores[i]})
	}
	if len(survivors) == 0 {
		return ConsensusResult{}, newErr(KindNoMatch, "consensus.Rerank", nil)
	}

	groups := groupByDocument(survivors)
	winner, winnerChunks, topScore := pickNucleus(groups)
	consensusRatio := float64(len(winnerChunks)) / float64(len(topM))

	// Below the consensus threshold, no document has enough agreement among
	// the reranked chunks (e.g. every chunk belongs to a distinct document).
	// Fall back to the single highest-scoring chunk's document rather than
	// whichever group happened to win the tie-break.
	if consensusRatio < c.cfg.ConsensusThreshold {
		single := highestScoring(survivors)
		winner = single.chunk.DocumentID
		winnerChunks = []scoredChunk{single}
		topScore = single.score
		consensusRatio = 1.0 / float64(len(topM))
	}

	combined := c.cfg.CombinedConfidenceRouterWeight*decision.Confidence +
		c.cfg.CombinedConfidenceRerankWeight*normalizeRerankScore(topScore)

	result := ConsensusResult{
		DocumentID:     winner,
		Chunks:         rawChunks(winnerChunks),
		ConsensusRatio: consensusRatio,
		TopRerankScore: topScore,
		Combined:       combined,
	}
	if len(result.Chunks) > 0 {
		result.DocumentName = result.Chunks[0].DocumentName
	}
	return result, nil
}

// routerTrustedResult short-circuits consensus entirely: the document the
// router/vector-search stage ranked first is taken as the nucleus, since a
// router decision this confident is more reliable than cross-encoder noise
// over a handful of chunks.
func (c *ConsensusReranker) routerTrustedResult(ranked []RetrievedChunk, decision RoutingDecision) ConsensusResult {
	top := ranked[0]
	var nucleus []RetrievedChunk
	for _, chunk := range ranked {
		if chunk.DocumentID == top.DocumentID {
			nucleus = append(nucleus, chunk)
		}
	}
	return ConsensusResult{
		DocumentID:     top.DocumentID,
		DocumentName:   top.DocumentName,
		Chunks:         nucleus,
		ConsensusRatio: 1.0,
		RouterTrusted:  true,
		Combined:       decision.Confidence,
	}
}

// rerankerOutageResult is the fallback path when the cross-encoder host is
// unreachable: rather than fail the turn, trust the vector search's own
// top-similarity hit as the nucleus and flag the result as degraded so
// callers can surface that to the user.
func (c *ConsensusReranker) rerankerOutageResult(ranked []RetrievedChunk, decision RoutingDecision) ConsensusResult {
	top := ranked[0]
	var nucleus []RetrievedChunk
	for _, chunk := range ranked {
		if chunk.DocumentID == top.DocumentID {
			nucleus = append(nucleus, chunk)
		}
	}
	return ConsensusResult{
		DocumentID:     top.DocumentID,
		DocumentName:   top.DocumentName,
		Chunks:         nucleus,
		ConsensusRatio: 1.0,
		Combined:       decision.Confidence,
		Degraded:       true,
		DegradedReason: "reranker_unavailable",
	}
}

type scoredChunk struct {
	chunk RetrievedChunk
	score float64
}

func sortedBySimilarity(chunks []RetrievedChunk) []RetrievedChunk {
	out := make([]RetrievedChunk, len(chunks))
	copy(out, chunks)
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

func groupByDocument(survivors []scoredChunk) map[string][]scoredChunk {
	groups := make(map[string][]scoredChunk)
	for _, s := range survivors {
		groups[s.chunk.DocumentID] = append(groups[s.chunk.DocumentID], s)
	}
	return groups
}

// pickNucleus returns the document id with the most surviving chunks
// (ties broken by highest single rerank score), its chunks, and its top
// rerank score.
func pickNucleus(groups map[string][]scoredChunk) (string, []scoredChunk, float64) {
	var bestDoc string
	var bestChunks []scoredChunk
	var bestTop float64
	first := true

	for doc, chunks := range groups {
		top := topScore(chunks)
		better := first
		if !first {
			if len(chunks) > len(bestChunks) {
				better = true
			} else if len(chunks) == len(bestChunks) && top > bestTop {
				better = true
			}
		}
		if better {
			bestDoc, bestChunks, bestTop = doc, chunks, top
			first = false
		}
	}
	return bestDoc, bestChunks, bestTop
}

func highestScoring(survivors []scoredChunk) scoredChunk {
	best := survivors[0]
	for _, s := range survivors[1:] {
		if s.score > best.score {
			best = s
		}
	}
	return best
}

func topScore(chunks []scoredChunk) float64 {
	best := chunks[0].score
	for _, c := range chunks[1:] {
		if c.score > best {
			best = c.score
		}
	}
	return best
}

func rawChunks(scored []scoredChunk) []RetrievedChunk {
	out := make([]RetrievedChunk, len(scored))
	for i, s := range scored {
		out[i] = s.chunk
	}
	return out
}

// normalizeRerankScore maps an unbounded, signed cross-encoder score into
// [0,1] for blending with router confidence. The cross-encoder this
// pipeline targets rarely exceeds +/-6, so a logistic squash centered at 0
// is a reasonable fit without requiring a per-model calibration pass.
func normalizeRerankScore(score float64) float64 {
	return 1.0 / (1.0 + math.Exp(-score))
}
