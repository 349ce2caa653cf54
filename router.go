package legalrag

import (
	"context"
	"math"
	"strings"

	"github.com/samber/lo"
	"github.com/teilomillet/legalrag/config"
)

// Router matches an incoming query against the
// question index by cosine similarity, stratifying the result by
// confidence, applying smart filters, and consulting session routing
// memory when a fresh decision is too uncertain to act on alone.
type Router struct {
	index *QuestionIndex
	cfg   *config.Config
}

func NewRouter(index *QuestionIndex, cfg *config.Config) *Router {
	return &Router{index: index, cfg: cfg}
}

// Route produces a RoutingDecision for query, taking memory into account.
// memory may be nil (no prior routing decision for this session). The query
// is always embedded and matched by similarity first; a smart filter match
// is then applied as an adjustment on top of that decision rather than a
// shortcut that bypasses embedding, so MatchedQuestion is always populated
// and the embedding suspension point always fires.
func (r *Router) Route(ctx context.Context, query string, memory *RoutingMemory) (RoutingDecision, error) {
	queryEmbedding, err := r.index.EmbedQuery(ctx, query)
	if err != nil {
		return RoutingDecision{}, newErr(KindOracleTransient, "router.Route", err)
	}

	questions := r.index.Questions()
	if len(questions) == 0 {
		return RoutingDecision{}, newErr(KindRouterUncertain, "router.Route", nil)
	}

	best, bestScore := bestMatch(queryEmbedding, questions)
	level := r.classify(bestScore)

	decision := RoutingDecision{
		Collection:      best.Collection,
		Confidence:      bestScore,
		Level:           level,
		MatchedQuestion: best.Text,
	}

	// An exact title match supersedes the similarity score and collection it
	// picked, but never the MatchedQuestion diagnostic above.
	if sf := matchSmartFilter(query, questions); sf != nil {
		decision.SmartFilter = sf
		decision.Collection = sf.Collection
		decision.Confidence = 1.0
		decision.Level = ConfidenceHigh
		return decision, nil
	}

	if level == ConfidenceLow || level == ConfidenceLowMedium {
		if overridden, ok := r.tryMemoryOverride(memory, decision); ok {
			return overridden, nil
		}
	}

	return decision, nil
}

// classify stratifies a raw cosine-similarity score into the router's
// confidence levels.
func (r *Router) classify(score float64) ConfidenceLevel {
	switch {
	case score >= r.cfg.RouterHighConfidence:
		return ConfidenceHigh
	case score >= r.cfg.RouterMinConfidence:
		return ConfidenceLowMedium
	default:
		return ConfidenceLow
	}
}

// tryMemoryOverride applies the session routing-memory override rules:
// memory must exist, not be superseded by a very-high-confidence fresh
// decision, and itself have been recorded with at least the minimum
// confidence floor. The freshness-window check happens earlier, in
// EffectiveMemory.
func (r *Router) tryMemoryOverride(memory *RoutingMemory, fresh RoutingDecision) (RoutingDecision, bool) {
	if memory == nil {
		return RoutingDecision{}, false
	}
	if fresh.Confidence >= r.cfg.SessionMemoryVeryHighGate {
		return RoutingDecision{}, false
	}
	if memory.Confidence < r.cfg.SessionMemoryMinConfidence {
		return RoutingDecision{}, false
	}

	level := ConfidenceOverrideMedium
	if memory.Confidence >= r.cfg.RouterHighConfidence {
		level = ConfidenceOverrideHigh
	}

	return RoutingDecision{
		Collection:  memory.Collection,
		Confidence:  memory.Confidence,
		Level:       level,
		SmartFilter: memory.SmartFilter,
		FromMemory:  true,
	}, true
}

// bestMatch returns the example question with highest cosine similarity to
// queryEmbedding, and that similarity.
func bestMatch(queryEmbedding []float64, questions []ExampleQuestion) (ExampleQuestion, float64) {
	type scored struct {
		q     ExampleQuestion
		score float64
	}
	candidates := lo.Map(questions, func(q ExampleQuestion, _ int) scored {
		return scored{q: q, score: cosineSimilarity(queryEmbedding, q.Embedding)}
	})
	best := lo.MaxBy(candidates, func(a, b scored) bool { return a.score > b.score })
	return best.q, best.score
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// matchSmartFilter implements the deterministic override rule: an exact
// (case-insensitive) title match on a question or document name supersedes
// similarity scoring entirely.
func matchSmartFilter(query string, questions []ExampleQuestion) *SmartFilter {
	normalizedQuery := strings.ToLower(strings.TrimSpace(query))
	for _, q := range questions {
		if q.DocumentName != "" && strings.ToLower(q.DocumentName) == normalizedQuery {
			return &SmartFilter{
				Matched:      true,
				Collection:   q.Collection,
				DocumentID:   q.DocumentID,
				DocumentName: q.DocumentName,
				Reason:       "exact document title match",
			}
		}
		if strings.ToLower(q.Text) == normalizedQuery {
			return &SmartFilter{
				Matched:      true,
				Collection:   q.Collection,
				DocumentID:   q.DocumentID,
				DocumentName: q.DocumentName,
				Reason:       "exact question match",
			}
		}
	}
	return nil
}
