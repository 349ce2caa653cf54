package legalrag

import (
	"context"
	"errors"
	"time"

	"github.com/teilomillet/legalrag/config"
	"github.com/teilomillet/legalrag/rag"
)

// Coordinator orchestrates one turn of the pipeline end to end: route,
// clarify if needed, search, rerank for consensus, expand context, and
// generate. Each stage is a suspension point a turn can
// block on; turns in different sessions never block each other, but two
// turns in the same session are serialized through the session store's
// per-session lock.
type Coordinator struct {
	router    *Router
	clarifier *ClarificationEngine
	search    *VectorSearchStage
	consensus *ConsensusReranker
	expander  *ContextExpander
	generator rag.Generator
	sessions  *SessionStore
	cfg       *config.Config

	SystemPrompt string
}

func NewCoordinator(
	router *Router,
	clarifier *ClarificationEngine,
	search *VectorSearchStage,
	consensus *ConsensusReranker,
	expander *ContextExpander,
	generator rag.Generator,
	sessions *SessionStore,
	cfg *config.Config,
) *Coordinator {
	return &Coordinator{
		router:       router,
		clarifier:    clarifier,
		search:       search,
		consensus:    consensus,
		expander:     expander,
		generator:    generator,
		sessions:     sessions,
		cfg:          cfg,
		SystemPrompt: "You are a helpful assistant answering questions about Vietnamese administrative and legal procedures. Answer only from the provided context.",
	}
}

// Turn is one request/response cycle for a session: either a completed
// Answer, or a ClarificationPayload the caller must resolve before the
// pipeline will proceed. forcedCollection/forcedDocumentTitle let a caller
// override the router outright — part of the core API, not a back door —
// by skipping straight to vector search within the named collection (and,
// when forcedDocumentTitle resolves to a known document, narrowing to it).
// If the session has a clarification pending, query is treated as a
// free-text reply and forced routing is ignored; callers resolving a
// clarification by its offered option id should use Resolve instead.
func (c *Coordinator) Turn(ctx context.Context, sessionID, query, forcedCollection, forcedDocumentTitle string) (*Answer, *ClarificationPayload, error) {
	lock := c.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return nil, nil, newErr(KindSessionMissing, "coordinator.Turn", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TurnDeadline)
	defer cancel()

	if session.ClarificationState != ClarificationIdle {
		return c.resolveClarification(ctx, session, ClarificationOption{Kind: OptionManualInput}, query)
	}

	forcedDocumentID := ""
	if forcedDocumentTitle != "" {
		if id, ok := c.router.index.ResolveDocumentID(forcedDocumentTitle); ok {
			forcedDocumentID = id
		}
	}
	return c.runPipeline(ctx, session, query, forcedCollection, forcedDocumentID)
}

// Resolve applies a structured clarification reply: selectedOptionID names
// which option from the session's last clarification payload the caller
// picked (looked up by id), and freeText is used verbatim when that option
// is OptionManualInput. This is the clarify() entry point: distinct from
// Turn because a caller resolving a clarification is replying to a specific
// offered choice, not asking a fresh question.
func (c *Coordinator) Resolve(ctx context.Context, sessionID, selectedOptionID, freeText string) (*Answer, *ClarificationPayload, error) {
	lock := c.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := c.sessions.Get(sessionID)
	if !ok {
		return nil, nil, newErr(KindSessionMissing, "coordinator.Resolve", nil)
	}
	if session.ClarificationState == ClarificationIdle {
		return nil, nil, newErr(KindConfigError, "coordinator.Resolve", errors.New("session has no pending clarification"))
	}

	chosen, found := FindOption(session.PendingOptions, selectedOptionID)
	if !found {
		chosen = ClarificationOption{Kind: OptionManualInput}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TurnDeadline)
	defer cancel()

	return c.resolveClarification(ctx, session, chosen, freeText)
}

// resolveClarification advances the staged clarification state machine by
// one step. OptionProceedCollection/OptionProceedDocument only narrow the
// ambiguity by one stage — the coordinator must present the next stage's
// prompt rather than run the pipeline — while OptionProceedQuestion and
// OptionManualInput produce a query ready to route.
func (c *Coordinator) resolveClarification(ctx context.Context, session *SessionRecord, chosen ClarificationOption, freeText string) (*Answer, *ClarificationPayload, error) {
	effectiveQuery, next := c.clarifier.Resolve(session, chosen, freeText)

	switch next {
	case ClarificationAwaitingDocument:
		c.sessions.SetPendingForced(session.ID, chosen.Collection, "")
		documents := c.router.index.DocumentsInCollection(chosen.Collection)
		if len(documents) == 0 {
			// Nothing to narrow further on; proceed with the collection alone.
			forcedCollection, forcedDocumentID := c.sessions.ConsumePendingForced(session.ID)
			c.sessions.SetClarification(session.ID, ClarificationIdle, "", nil)
			return c.runPipeline(ctx, session, effectiveQuery, forcedCollection, forcedDocumentID)
		}
		payload := c.clarifier.RequestDocumentClarification(effectiveQuery, chosen.Collection, documents)
		c.sessions.SetClarification(session.ID, payload.State, effectiveQuery, payload.Options)
		return nil, &payload, nil

	case ClarificationAwaitingQuestion:
		c.sessions.SetPendingForced(session.ID, chosen.Collection, chosen.DocumentID)
		payload := c.clarifier.RequestQuestionClarification(effectiveQuery)
		c.sessions.SetClarification(session.ID, payload.State, effectiveQuery, payload.Options)
		return nil, &payload, nil

	default: // ClarificationIdle: the reply resolved to a query ready to route.
		forcedCollection, forcedDocumentID := c.sessions.ConsumePendingForced(session.ID)
		c.sessions.SetClarification(session.ID, ClarificationIdle, "", nil)
		return c.runPipeline(ctx, session, effectiveQuery, forcedCollection, forcedDocumentID)
	}
}

func (c *Coordinator) runPipeline(ctx context.Context, session *SessionRecord, query, forcedCollection, forcedDocumentID string) (*Answer, *ClarificationPayload, error) {
	var decision RoutingDecision

	if forcedCollection != "" {
		decision = RoutingDecision{Collection: forcedCollection, Confidence: 1.0, Level: ConfidenceHigh}
		if forcedDocumentID != "" {
			decision.SmartFilter = &SmartFilter{Matched: true, Collection: forcedCollection, DocumentID: forcedDocumentID, Reason: "forced routing"}
		}
		c.sessions.RecordRouting(session.ID, decision)
	} else {
		memory := c.sessions.EffectiveMemory(session.ID)

		// Suspension point 1: embed + match the query against the question index.
		fresh, err := c.router.Route(ctx, query, memory)
		if err != nil {
			var pe *PipelineError
			if errors.As(err, &pe) && pe.Kind == KindRouterUncertain {
				payload := c.clarifier.RequestQuestionClarification(query)
				c.sessions.SetClarification(session.ID, payload.State, query, payload.Options)
				return nil, &payload, nil
			}
			return nil, nil, err
		}
		decision = fresh
		c.sessions.RecordRouting(session.ID, decision)

		// A low-confidence decision always clarifies; the router could not
		// narrow the collection confidently enough to spend an embed/search/
		// rerank/generate cycle on a guess.
		if decision.Level == ConfidenceLow {
			payload := c.clarifier.RequestQuestionClarification(query)
			c.sessions.SetClarification(session.ID, payload.State, query, payload.Options)
			return nil, &payload, nil
		}
	}

	// Suspension point 2: vector search within the routed collection.
	chunks, err := c.search.Search(ctx, query, decision)
	if err != nil {
		return nil, nil, err
	}

	// VRAM hint: the generator is not needed again until after rerank, so
	// ask it to release the GPU ahead of the cross-encoder call.
	hintUnload(ctx, c.generator)

	// Suspension point 3: cross-encoder consensus rerank.
	result, err := c.consensus.Rerank(ctx, query, chunks, decision)
	if err != nil {
		return nil, nil, err
	}

	// VRAM hint: rerank is done, ask the reranker host to release the GPU
	// ahead of generation.
	hintUnload(ctx, c.consensus.reranker)

	// The only place the rerank stage drives conversation flow: even after
	// consensus picked a document, a combined router+rerank confidence
	// below the clarification floor means that pick isn't trustworthy
	// enough to answer from outright.
	if result.Combined < c.cfg.ClarificationFloor {
		payload := c.clarifier.RequestQuestionClarification(query)
		c.sessions.SetClarification(session.ID, payload.State, query, payload.Options)
		return nil, &payload, nil
	}

	// Suspension point 4: full-document context expansion.
	expanded, err := c.expander.Expand(ctx, result)
	if err != nil {
		return nil, nil, err
	}

	history := make([]rag.GenerationTurn, 0, len(session.History))
	for _, t := range session.History {
		history = append(history, rag.GenerationTurn{Query: t.Query, Answer: t.Answer})
	}

	// Suspension point 5: generation.
	genResult, err := c.generator.Generate(ctx, rag.GenerationRequest{
		SystemPrompt: c.SystemPrompt,
		History:      history,
		Context:      expanded.Text,
		Query:        query,
		MaxTokens:    0,
		Temperature:  0.2,
	})
	if err != nil {
		return nil, nil, newErr(KindOracleTransient, "coordinator.runPipeline", err)
	}

	answer := &Answer{
		Text:              genResult.Text,
		Collection:        decision.Collection,
		DocumentID:        result.DocumentID,
		DocumentName:      result.DocumentName,
		RoutingConfidence: decision.Confidence,
		PromptTokens:      genResult.PromptTokens,
		CompletionTokens:  genResult.CompletionTokens,
		Latency:           genResult.Latency,
		Degraded:          result.Degraded,
		DegradedReason:    result.DegradedReason,
	}
	c.sessions.Touch(session.ID, &Turn{Query: query, Answer: answer.Text, Timestamp: time.Now()})

	return answer, nil, nil
}

// hintUnload issues a best-effort VRAM-release hint to v, if v implements
// rag.VRAMHintable. The hint is cooperative: a v that doesn't implement the
// interface, or whose host ignores the hint, is not an error — the turn
// must complete correctly either way.
func hintUnload(ctx context.Context, v interface{}) {
	h, ok := v.(rag.VRAMHintable)
	if !ok {
		return
	}
	if err := h.Unload(ctx); err != nil {
		rag.GlobalLogger.Warn("coordinator: vram unload hint failed", "error", err)
	}
}
