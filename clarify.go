package legalrag

import (
	"fmt"

	"github.com/google/uuid"
)

// ClarificationEngine drives the per-session clarification state machine:
// idle -> awaiting_collection -> awaiting_document -> awaiting_question ->
// idle. Every Request* call mints fresh option ids, so requesting the same
// clarification twice yields two payloads with different ids; an earlier
// payload is not replayed.
type ClarificationEngine struct{}

func NewClarificationEngine() *ClarificationEngine {
	return &ClarificationEngine{}
}

// RequestCollectionClarification builds the payload for a query whose
// router decision was too uncertain to act on: the user picks a collection,
// or types a more specific question.
func (c *ClarificationEngine) RequestCollectionClarification(query string, candidates []Collection) ClarificationPayload {
	options := make([]ClarificationOption, 0, len(candidates)+1)
	for _, col := range candidates {
		options = append(options, ClarificationOption{
			ID:         uuid.NewString(),
			Kind:       OptionProceedCollection,
			Label:      col.DisplayName(),
			Collection: col.ID,
		})
	}
	options = append(options, ClarificationOption{
		ID:    uuid.NewString(),
		Kind:  OptionManualInput,
		Label: "Let me rephrase my question",
	})

	return ClarificationPayload{
		State:   ClarificationAwaitingCollection,
		Prompt:  fmt.Sprintf("I'm not sure which procedure %q is about. Which of these matches?", query),
		Options: options,
	}
}

// RequestDocumentClarification is used when the collection is known but the
// matched documents within it are ambiguous.
func (c *ClarificationEngine) RequestDocumentClarification(query string, collection string, documentNames map[string]string) ClarificationPayload {
	options := make([]ClarificationOption, 0, len(documentNames)+1)
	for docID, name := range documentNames {
		options = append(options, ClarificationOption{
			ID:         uuid.NewString(),
			Kind:       OptionProceedDocument,
			Label:      name,
			Collection: collection,
			DocumentID: docID,
		})
	}
	options = append(options, ClarificationOption{
		ID:    uuid.NewString(),
		Kind:  OptionManualInput,
		Label: "None of these — let me rephrase",
	})

	return ClarificationPayload{
		State:   ClarificationAwaitingDocument,
		Prompt:  "Which specific document are you asking about?",
		Options: options,
	}
}

// RequestQuestionClarification asks the user to restate their question as
// free text. The coordinator uses it when the router's decision is
// ConfidenceLow or the router cannot route at all, when the combined
// router+rerank confidence falls below the clarification floor, and as the
// last stage after the user picks a document.
func (c *ClarificationEngine) RequestQuestionClarification(query string) ClarificationPayload {
	return ClarificationPayload{
		State:  ClarificationAwaitingQuestion,
		Prompt: "I couldn't match your question to a known procedure. Could you rephrase it?",
		Options: []ClarificationOption{{
			ID:   uuid.NewString(),
			Kind: OptionManualInput,
		}},
	}
}

// Resolve applies a user's choice of option to a session, returning the
// effective query to route and the state the session should move to next.
// Picking a collection or a document narrows the ambiguity by one stage
// without resolving it outright: OptionProceedCollection advances to
// awaiting_document (which document, within that collection?) and
// OptionProceedDocument advances to awaiting_question (restate exactly what
// about that document). Only OptionProceedQuestion and OptionManualInput
// produce a query ready to route, returning to idle.
func (c *ClarificationEngine) Resolve(session *SessionRecord, chosen ClarificationOption, freeText string) (effectiveQuery string, next ClarificationState) {
	switch chosen.Kind {
	case OptionProceedCollection:
		return session.PendingQuery, ClarificationAwaitingDocument
	case OptionProceedDocument:
		return session.PendingQuery, ClarificationAwaitingQuestion
	case OptionProceedQuestion:
		return chosen.Question, ClarificationIdle
	case OptionManualInput:
		return freeText, ClarificationIdle
	default:
		return session.PendingQuery, ClarificationIdle
	}
}
