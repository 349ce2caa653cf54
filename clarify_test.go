package legalrag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClarificationEngine_RequestCollectionClarification(t *testing.T) {
	engine := NewClarificationEngine()
	candidates := []Collection{
		{ID: "ho_tich_cap_xa"},
		{ID: "chung_thuc"},
	}

	payload := engine.RequestCollectionClarification("thủ tục gì đó", candidates)

	assert.Equal(t, ClarificationAwaitingCollection, payload.State)
	assert.Len(t, payload.Options, 3) // one per candidate plus manual input
	assert.Equal(t, OptionProceedCollection, payload.Options[0].Kind)
	assert.Equal(t, "Ho Tich Cap Xa", payload.Options[0].Label)
	assert.Equal(t, OptionManualInput, payload.Options[2].Kind)
}

func TestClarificationEngine_RequestDocumentClarification(t *testing.T) {
	engine := NewClarificationEngine()
	docs := map[string]string{"doc-1": "Đăng ký khai sinh"}

	payload := engine.RequestDocumentClarification("query", "ho_tich_cap_xa", docs)

	assert.Equal(t, ClarificationAwaitingDocument, payload.State)
	assert.Len(t, payload.Options, 2)
	assert.Equal(t, "doc-1", payload.Options[0].DocumentID)
}

func TestClarificationEngine_RequestQuestionClarification(t *testing.T) {
	engine := NewClarificationEngine()

	payload := engine.RequestQuestionClarification("câu hỏi không rõ")

	assert.Equal(t, ClarificationAwaitingQuestion, payload.State)
	assert.Len(t, payload.Options, 1)
	assert.Equal(t, OptionManualInput, payload.Options[0].Kind)
}

func TestClarificationEngine_ResolveManualInputUsesFreeText(t *testing.T) {
	engine := NewClarificationEngine()
	session := &SessionRecord{PendingQuery: "original query"}

	query, state := engine.Resolve(session, ClarificationOption{Kind: OptionManualInput}, "rephrased query")

	assert.Equal(t, "rephrased query", query)
	assert.Equal(t, ClarificationIdle, state)
}

func TestClarificationEngine_ResolveProceedCollectionAdvancesToAwaitingDocument(t *testing.T) {
	engine := NewClarificationEngine()
	session := &SessionRecord{PendingQuery: "original query"}

	query, state := engine.Resolve(session, ClarificationOption{Kind: OptionProceedCollection, Collection: "chung_thuc"}, "")

	assert.Equal(t, "original query", query)
	assert.Equal(t, ClarificationAwaitingDocument, state)
}

func TestClarificationEngine_ResolveProceedDocumentAdvancesToAwaitingQuestion(t *testing.T) {
	engine := NewClarificationEngine()
	session := &SessionRecord{PendingQuery: "original query"}

	query, state := engine.Resolve(session, ClarificationOption{Kind: OptionProceedDocument, Collection: "chung_thuc", DocumentID: "doc-1"}, "")

	assert.Equal(t, "original query", query)
	assert.Equal(t, ClarificationAwaitingQuestion, state)
}

func TestClarificationEngine_ResolveProceedQuestionUsesOptionQuestion(t *testing.T) {
	engine := NewClarificationEngine()
	session := &SessionRecord{PendingQuery: "original query"}

	query, state := engine.Resolve(session, ClarificationOption{Kind: OptionProceedQuestion, Question: "chosen example question"}, "")

	assert.Equal(t, "chosen example question", query)
	assert.Equal(t, ClarificationIdle, state)
}
