package legalrag

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/legalrag/config"
	"github.com/teilomillet/legalrag/rag"
)

// fakeGenerator returns a fixed answer text, recording the context it was
// given so tests can assert on what the coordinator assembled for it.
type fakeGenerator struct {
	text        string
	err         error
	lastRequest rag.GenerationRequest
	calls       int
}

func (f *fakeGenerator) Generate(ctx context.Context, req rag.GenerationRequest) (rag.GenerationResult, error) {
	f.calls++
	f.lastRequest = req
	if f.err != nil {
		return rag.GenerationResult{}, f.err
	}
	return rag.GenerationResult{Text: f.text, PromptTokens: 10, CompletionTokens: 5}, nil
}

// unloadCountingReranker wraps fakeReranker to additionally record how many
// times Unload was called, so the VRAM-hint wiring can be asserted on.
type unloadCountingReranker struct {
	fakeReranker
	unloads int
}

func (u *unloadCountingReranker) Unload(ctx context.Context) error {
	u.unloads++
	return nil
}

func newTestCoordinator(t *testing.T, questions []ExampleQuestion, db *fakeVectorDB, reranker rag.Reranker, generator rag.Generator, cfg *config.Config) (*Coordinator, *SessionStore) {
	t.Helper()
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"Thủ tục đăng ký khai sinh":        {1, 0, 0},
		"câu hỏi mơ hồ về thủ tục khai sinh": {0.6, 0.8, 0}, // cosine 0.6 against the question above: low-medium confidence
	}}
	idx := buildTestIndex(t, embedder, questions)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc-1"), []byte("nội dung tài liệu doc-1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc-2"), []byte("nội dung tài liệu doc-2"), 0o644))

	router := NewRouter(idx, cfg)
	clarifier := NewClarificationEngine()
	search := NewVectorSearchStage(rag.NewEmbeddingService(embedder), db, cfg)
	consensus := NewConsensusReranker(reranker, cfg)
	expander := NewContextExpander(rag.NewLoader(), nil, cfg, root)
	sessions := NewSessionStore(cfg)

	return NewCoordinator(router, clarifier, search, consensus, expander, generator, sessions, cfg), sessions
}

func TestCoordinator_HighConfidenceTurnProducesAnswer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	questions := []ExampleQuestion{
		{Text: "Thủ tục đăng ký khai sinh", Collection: "ho_tich_cap_xa", DocumentID: "doc-1", DocumentName: "Đăng ký khai sinh"},
	}
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-1", "document_name": "Đăng ký khai sinh", "text": "nội dung tài liệu doc-1"}},
	}}
	gen := &fakeGenerator{text: "Bạn cần nộp các giấy tờ sau."}
	coord, sessions := newTestCoordinator(t, questions, db, &fakeReranker{}, gen, cfg)

	session := sessions.Create()
	answer, clarification, err := coord.Turn(context.Background(), session.ID, "Thủ tục đăng ký khai sinh", "", "")
	require.NoError(t, err)
	require.Nil(t, clarification)
	require.NotNil(t, answer)
	assert.Equal(t, "Bạn cần nộp các giấy tờ sau.", answer.Text)
	assert.Equal(t, "doc-1", answer.DocumentID)
	assert.False(t, answer.Degraded)
	assert.Equal(t, 1, gen.calls)
}

func TestCoordinator_LowConfidenceUnconditionallyClarifies(t *testing.T) {
	cfg := config.DefaultConfig()
	questions := []ExampleQuestion{
		{Text: "Thủ tục đăng ký khai sinh", Collection: "ho_tich_cap_xa", DocumentID: "doc-1", DocumentName: "Đăng ký khai sinh"},
	}
	db := &fakeVectorDB{}
	gen := &fakeGenerator{text: "should not be reached"}
	coord, sessions := newTestCoordinator(t, questions, db, &fakeReranker{}, gen, cfg)

	session := sessions.Create()
	// An embedding with no overlap against the only known question scores
	// near zero cosine similarity, landing well below RouterMinConfidence.
	answer, clarification, err := coord.Turn(context.Background(), session.ID, "something totally unrelated", "", "")
	require.NoError(t, err)
	assert.Nil(t, answer)
	require.NotNil(t, clarification)
	assert.Equal(t, ClarificationAwaitingQuestion, clarification.State)
	assert.Equal(t, 0, gen.calls, "a low-confidence turn must never reach generation")

	rec, ok := sessions.Get(session.ID)
	require.True(t, ok)
	assert.Equal(t, ClarificationAwaitingQuestion, rec.ClarificationState)
	assert.Equal(t, "something totally unrelated", rec.PendingQuery)
}

func TestCoordinator_MidConfidenceRerankBelowFloorClarifies(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	cfg.ClarificationFloor = 0.9 // force the post-rerank combined score below floor
	questions := []ExampleQuestion{
		{Text: "Thủ tục đăng ký khai sinh", Collection: "ho_tich_cap_xa", DocumentID: "doc-1", DocumentName: "Đăng ký khai sinh"},
	}
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.6, Fields: map[string]interface{}{"document_id": "doc-1", "document_name": "Đăng ký khai sinh", "text": "nội dung tài liệu doc-1"}},
	}}
	reranker := &fakeReranker{scores: map[string]float64{"nội dung tài liệu doc-1": 0.1}}
	gen := &fakeGenerator{text: "should not be reached"}
	coord, sessions := newTestCoordinator(t, questions, db, reranker, gen, cfg)

	session := sessions.Create()
	// This query's fixed embedding lands at 0.6 cosine similarity against
	// the only known question — low-medium confidence, so the router
	// trust short-circuit does not fire and the cross-encoder actually
	// runs. With ClarificationFloor raised to 0.9, the resulting combined
	// score is still too low to answer from.
	answer, clarification, err := coord.Turn(context.Background(), session.ID, "câu hỏi mơ hồ về thủ tục khai sinh", "", "")
	require.NoError(t, err)
	assert.Nil(t, answer)
	require.NotNil(t, clarification)
	assert.Equal(t, 0, gen.calls)
}

func TestCoordinator_ForcedRoutingBypassesRouterAndNeverClarifies(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	// An empty question index means the router itself would always be
	// uncertain, proving forced routing truly bypasses it rather than just
	// getting lucky with a confident match.
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-2", "document_name": "Khác", "text": "nội dung tài liệu doc-2"}},
	}}
	gen := &fakeGenerator{text: "Đây là câu trả lời."}
	coord, sessions := newTestCoordinator(t, nil, db, &fakeReranker{}, gen, cfg)

	session := sessions.Create()
	answer, clarification, err := coord.Turn(context.Background(), session.ID, "câu hỏi bất kỳ", "ho_tich_cap_xa", "")
	require.NoError(t, err)
	require.Nil(t, clarification)
	require.NotNil(t, answer)
	assert.Equal(t, "ho_tich_cap_xa", answer.Collection)
	assert.Equal(t, 1, gen.calls)
}

func TestCoordinator_StagedClarificationWalksCollectionThenDocumentThenQuestion(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	questions := []ExampleQuestion{
		{Text: "Thủ tục đăng ký khai sinh", Collection: "ho_tich_cap_xa", DocumentID: "doc-1", DocumentName: "Đăng ký khai sinh"},
		{Text: "Thủ tục khác", Collection: "ho_tich_cap_xa", DocumentID: "doc-2", DocumentName: "Thủ tục khác"},
	}
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-2", "document_name": "Thủ tục khác", "text": "nội dung tài liệu doc-2"}},
	}}
	gen := &fakeGenerator{text: "Đây là câu trả lời."}
	coord, sessions := newTestCoordinator(t, questions, db, &fakeReranker{}, gen, cfg)
	session := sessions.Create()

	clarifier := NewClarificationEngine()
	collectionPayload := clarifier.RequestCollectionClarification("câu hỏi mơ hồ", []Collection{{ID: "ho_tich_cap_xa"}})
	sessions.SetClarification(session.ID, collectionPayload.State, "câu hỏi mơ hồ", collectionPayload.Options)

	// Stage 1: pick the offered collection. The coordinator must advance to
	// awaiting_document, not run the pipeline yet.
	collectionOpt := collectionPayload.Options[0]
	answer, clarification, err := coord.Resolve(context.Background(), session.ID, collectionOpt.ID, "")
	require.NoError(t, err)
	assert.Nil(t, answer)
	require.NotNil(t, clarification)
	assert.Equal(t, ClarificationAwaitingDocument, clarification.State)
	assert.Equal(t, 0, gen.calls)

	// Stage 2: pick a document within that collection. The coordinator must
	// advance to awaiting_question, still without running the pipeline.
	docOpt, found := FindOption(clarification.Options, clarification.Options[0].ID)
	require.True(t, found)
	answer, clarification, err = coord.Resolve(context.Background(), session.ID, docOpt.ID, "")
	require.NoError(t, err)
	assert.Nil(t, answer)
	require.NotNil(t, clarification)
	assert.Equal(t, ClarificationAwaitingQuestion, clarification.State)
	assert.Equal(t, 0, gen.calls)

	// Stage 3: free-text reply finally resolves to idle and runs the
	// pipeline, forced onto the narrowed collection/document.
	answer, clarification, err = coord.Resolve(context.Background(), session.ID, "", "câu hỏi cụ thể về thủ tục khác")
	require.NoError(t, err)
	require.Nil(t, clarification)
	require.NotNil(t, answer)
	assert.Equal(t, "ho_tich_cap_xa", answer.Collection)
	assert.Equal(t, 1, gen.calls)

	rec, ok := sessions.Get(session.ID)
	require.True(t, ok)
	assert.Equal(t, ClarificationIdle, rec.ClarificationState)
}

func TestCoordinator_ResolveWithoutPendingClarificationErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	coord, sessions := newTestCoordinator(t, nil, &fakeVectorDB{}, &fakeReranker{}, &fakeGenerator{}, cfg)
	session := sessions.Create()

	_, _, err := coord.Resolve(context.Background(), session.ID, "anything", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigError)
}

func TestCoordinator_RerankerOutagePropagatesDegradedAnswer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	questions := []ExampleQuestion{
		{Text: "Thủ tục đăng ký khai sinh", Collection: "ho_tich_cap_xa", DocumentID: "doc-1", DocumentName: "Đăng ký khai sinh"},
	}
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.6, Fields: map[string]interface{}{"document_id": "doc-1", "document_name": "Đăng ký khai sinh", "text": "nội dung tài liệu doc-1"}},
	}}
	reranker := &fakeReranker{err: assert.AnError}
	gen := &fakeGenerator{text: "Câu trả lời khi reranker lỗi."}
	coord, sessions := newTestCoordinator(t, questions, db, reranker, gen, cfg)
	session := sessions.Create()

	// Low-medium confidence (not an exact smart-filter match, and below
	// RouterTrustConfidence) so the pipeline actually reaches the
	// cross-encoder call instead of short-circuiting past it.
	answer, clarification, err := coord.Turn(context.Background(), session.ID, "câu hỏi mơ hồ về thủ tục khai sinh", "", "")
	require.NoError(t, err)
	require.Nil(t, clarification)
	require.NotNil(t, answer)
	assert.True(t, answer.Degraded)
	assert.Equal(t, "reranker_unavailable", answer.DegradedReason)
}

func TestCoordinator_VRAMHintsFireAroundRerank(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	questions := []ExampleQuestion{
		{Text: "Thủ tục đăng ký khai sinh", Collection: "ho_tich_cap_xa", DocumentID: "doc-1", DocumentName: "Đăng ký khai sinh"},
	}
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.6, Fields: map[string]interface{}{"document_id": "doc-1", "document_name": "Đăng ký khai sinh", "text": "nội dung tài liệu doc-1"}},
	}}
	reranker := &unloadCountingReranker{fakeReranker: fakeReranker{scores: map[string]float64{"nội dung tài liệu doc-1": 2.0}}}
	gen := &fakeGenerator{text: "ok"}
	coord, sessions := newTestCoordinator(t, questions, db, reranker, gen, cfg)
	session := sessions.Create()

	_, _, err := coord.Turn(context.Background(), session.ID, "Thủ tục đăng ký khai sinh", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, reranker.unloads, "the reranker's VRAM-release hint must fire once rerank completes")
}

func TestCoordinator_SessionHistoryIsCarriedIntoGenerationRequest(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HybridLexicalRescore = false
	questions := []ExampleQuestion{
		{Text: "Thủ tục đăng ký khai sinh", Collection: "ho_tich_cap_xa", DocumentID: "doc-1", DocumentName: "Đăng ký khai sinh"},
	}
	db := &fakeVectorDB{results: []rag.SearchResult{
		{ID: 1, Score: 0.9, Fields: map[string]interface{}{"document_id": "doc-1", "document_name": "Đăng ký khai sinh", "text": "nội dung tài liệu doc-1"}},
	}}
	gen := &fakeGenerator{text: "second answer"}
	coord, sessions := newTestCoordinator(t, questions, db, &fakeReranker{}, gen, cfg)
	session := sessions.Create()
	sessions.Touch(session.ID, &Turn{Query: "first question", Answer: "first answer", Timestamp: time.Now()})

	_, _, err := coord.Turn(context.Background(), session.ID, "Thủ tục đăng ký khai sinh", "", "")
	require.NoError(t, err)
	require.Len(t, gen.lastRequest.History, 1)
	assert.Equal(t, "first question", gen.lastRequest.History[0].Query)
}

func TestCoordinator_MissingSessionErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	coord, _ := newTestCoordinator(t, nil, &fakeVectorDB{}, &fakeReranker{}, &fakeGenerator{}, cfg)

	_, _, err := coord.Turn(context.Background(), "does-not-exist", "query", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionMissing)
}
