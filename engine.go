package legalrag

import (
	"context"
	"fmt"
	"time"

	"github.com/teilomillet/legalrag/config"
	"github.com/teilomillet/legalrag/rag"
)

// Engine is the top-level facade for the retrieval pipeline: build one with
// NewEngine, then call Query once per user turn.
type Engine struct {
	coordinator *Coordinator
	sessions    *SessionStore
	index       *QuestionIndex
	cfg         *config.Config
}

// EngineDeps bundles the oracle adapters and vector store an Engine needs.
// Callers construct these themselves (e.g. rag.NewEmbeddingService,
// rag.NewCrossEncoderReranker, rag.NewGollmGenerator, rag.NewVectorDB) so
// the engine stays agnostic to which concrete provider backs each oracle.
type EngineDeps struct {
	Embedder     *rag.EmbeddingService
	Reranker     rag.Reranker
	Generator    rag.Generator
	VectorDB     rag.VectorDB
	Loader       *rag.Loader
	TokenCounter rag.TokenCounter
	DocumentRoot string
}

// NewEngine wires every pipeline stage together from cfg and deps. It does
// not build the question index — call BuildIndex (or load a cache through
// it) before the first Query.
func NewEngine(cfg *config.Config, deps EngineDeps) (*Engine, error) {
	if deps.Embedder == nil {
		return nil, newErr(KindConfigError, "engine.NewEngine", fmt.Errorf("embedder is required"))
	}
	if deps.VectorDB == nil {
		return nil, newErr(KindConfigError, "engine.NewEngine", fmt.Errorf("vector db is required"))
	}

	index := NewQuestionIndex(deps.Embedder, cfg.QuestionIndexCachePath, cfg.QuestionIndexCacheFreshness)
	router := NewRouter(index, cfg)
	clarifier := NewClarificationEngine()
	search := NewVectorSearchStage(deps.Embedder, deps.VectorDB, cfg)
	consensus := NewConsensusReranker(deps.Reranker, cfg)
	expander := NewContextExpander(deps.Loader, deps.TokenCounter, cfg, deps.DocumentRoot)
	sessions := NewSessionStore(cfg)
	sessions.StartSweep()

	coordinator := NewCoordinator(router, clarifier, search, consensus, expander, deps.Generator, sessions, cfg)

	return &Engine{
		coordinator: coordinator,
		sessions:    sessions,
		index:       index,
		cfg:         cfg,
	}, nil
}

// BuildIndex (re)builds the question index from raw example questions,
// using newestSourceMTime to decide whether an on-disk cache is still
// fresh.
func (e *Engine) BuildIndex(ctx context.Context, raw []ExampleQuestion, newestSourceMTime time.Time) error {
	return e.index.Build(ctx, raw, newestSourceMTime)
}

// NewSession starts a session and returns its id, to be passed to Query on
// every subsequent turn for that user.
func (e *Engine) NewSession() string {
	return e.sessions.Create().ID
}

// Query runs one turn of the pipeline for sessionID. It returns either an
// Answer or a ClarificationPayload the caller must resolve (via Clarify)
// before the turn completes. forcedCollection and forcedDocumentTitle are
// optional: when forcedCollection is non-empty the router is bypassed
// entirely and vector search runs directly against that collection (and,
// when forcedDocumentTitle also resolves to a known document, narrowed to
// it). This is part of the public API, not a debugging back door — a
// caller that already knows which procedure a question concerns (e.g. from
// its own UI navigation) can skip the routing guess altogether.
func (e *Engine) Query(ctx context.Context, sessionID, query, forcedCollection, forcedDocumentTitle string) (*Answer, *ClarificationPayload, error) {
	return e.coordinator.Turn(ctx, sessionID, query, forcedCollection, forcedDocumentTitle)
}

// Clarify resolves a pending clarification for sessionID by the id of the
// option the user picked (selectedOptionID), with freeText used verbatim
// when that option is the manual-input choice (or when selectedOptionID
// doesn't match any offered option). It returns either a completed Answer,
// a further ClarificationPayload for the next stage, or an error if the
// session has no clarification pending.
func (e *Engine) Clarify(ctx context.Context, sessionID, selectedOptionID, freeText string) (*Answer, *ClarificationPayload, error) {
	return e.coordinator.Resolve(ctx, sessionID, selectedOptionID, freeText)
}

// ResetSession clears a session's routing memory, clarification state, and
// history without discarding the session id.
func (e *Engine) ResetSession(sessionID string) {
	e.sessions.Reset(sessionID)
}

// Close stops the engine's background session sweep.
func (e *Engine) Close() {
	e.sessions.Close()
}
