package legalrag

import "time"

// Collection identifies one of the curated procedure domains the router
// dispatches questions into, e.g. civil registration, notarization,
// adoption. The id is the stable, machine-facing name used in the vector
// index and in example-question files.
type Collection struct {
	ID          string
	Name        string // human display name; falls back to DisplayName() when empty
	Description string
}

// DisplayName returns Name if set, otherwise a title-cased rendering of ID
// with underscores turned into spaces (e.g. "ho_tich_cap_xa" -> "Ho Tich
// Cap Xa"), matching how the original service derives a label for
// collections that were never given an explicit display name.
func (c Collection) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return titleCaseUnderscored(c.ID)
}

func titleCaseUnderscored(s string) string {
	out := make([]rune, 0, len(s))
	upperNext := true
	for _, r := range s {
		if r == '_' {
			out = append(out, ' ')
			upperNext = true
			continue
		}
		if upperNext && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		upperNext = false
		out = append(out, r)
	}
	return string(out)
}

// ExampleQuestion is one curated question in the question index, along
// with the collection and (optionally) the specific document it resolves
// to. The embedding is populated by the question index builder, not by
// callers.
type ExampleQuestion struct {
	Text         string
	Collection   string
	DocumentID   string // empty when the question is collection-level, not document-specific
	DocumentName string
	Embedding    []float64
}

// SmartFilter captures a deterministic override the router applies on top
// of the embedding-similarity result: an exact title match on a question
// or document supersedes every similarity score.
type SmartFilter struct {
	Matched      bool
	Collection   string
	DocumentID   string
	DocumentName string
	Reason       string
}

// ConfidenceLevel stratifies a router decision: High/LowMedium/Low, plus
// the two override variants used when session routing memory substitutes
// for a fresh low-confidence decision.
type ConfidenceLevel string

const (
	ConfidenceHigh           ConfidenceLevel = "high"
	ConfidenceLowMedium      ConfidenceLevel = "low_medium"
	ConfidenceLow            ConfidenceLevel = "low"
	ConfidenceOverrideHigh   ConfidenceLevel = "override_high"
	ConfidenceOverrideMedium ConfidenceLevel = "override_medium"
)

// RoutingDecision is the router's output for one query.
type RoutingDecision struct {
	Collection      string
	Confidence      float64
	Level           ConfidenceLevel
	MatchedQuestion string
	SmartFilter     *SmartFilter
	FromMemory      bool // true when session routing memory overrode a fresh low-confidence result
}

// ClarificationState is the clarification engine's state machine position
// for one session.
type ClarificationState string

const (
	ClarificationIdle               ClarificationState = "idle"
	ClarificationAwaitingCollection ClarificationState = "awaiting_collection"
	ClarificationAwaitingDocument   ClarificationState = "awaiting_document"
	ClarificationAwaitingQuestion   ClarificationState = "awaiting_question"
)

// ClarificationOptionKind enumerates the shapes a clarification reply can
// take.
type ClarificationOptionKind string

const (
	OptionProceedCollection ClarificationOptionKind = "proceed_with_collection"
	OptionProceedDocument   ClarificationOptionKind = "proceed_with_document"
	OptionProceedQuestion   ClarificationOptionKind = "proceed_with_question"
	OptionManualInput       ClarificationOptionKind = "manual_input"
)

// ClarificationOption is one choice offered to the user.
type ClarificationOption struct {
	ID    string
	Kind  ClarificationOptionKind
	Label string

	Collection string
	DocumentID string
	Question   string
}

// FindOption returns the option in options whose ID matches id, for
// resolving a caller's selected_option_record back to the full option the
// pipeline offered.
func FindOption(options []ClarificationOption, id string) (ClarificationOption, bool) {
	for _, opt := range options {
		if opt.ID == id {
			return opt, true
		}
	}
	return ClarificationOption{}, false
}

// ClarificationPayload is what the coordinator returns instead of an Answer
// when a turn needs more information from the user.
type ClarificationPayload struct {
	State   ClarificationState
	Prompt  string
	Options []ClarificationOption
}

// RoutingMemory is the session-scoped routing overlay:
// the last routing decision, with enough metadata to judge whether it is
// still fresh and confident enough to override a new low-confidence route.
type RoutingMemory struct {
	Collection      string
	Confidence      float64
	Timestamp       time.Time
	SmartFilter     *SmartFilter
	LowStreak       int // consecutive low-confidence decisions since this memory was set
}

// Turn records one exchange for the bounded chat history carried in a
// session.
type Turn struct {
	Query     string
	Answer    string
	Timestamp time.Time
}

// SessionRecord is everything the store keeps per session id.
type SessionRecord struct {
	ID                 string
	CreatedAt          time.Time
	LastActivity       time.Time
	RoutingMemory      *RoutingMemory
	ClarificationState ClarificationState
	PendingQuery       string                 // the query awaiting clarification, if any
	PendingOptions     []ClarificationOption  // the options last offered, so a reply can be resolved by option id
	PendingCollection  string                 // collection narrowed by a staged clarification reply, carried to the next stage
	PendingDocumentID  string                 // document narrowed by a staged clarification reply, carried to the next stage
	History            []Turn
}

// RetrievedChunk is one hit from the vector-search stage, before rerank.
type RetrievedChunk struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	Text         string
	Similarity   float64
	Metadata     map[string]interface{}
}

// ConsensusResult is the consensus reranker's output: the winning document
// plus enough detail to explain why it won.
type ConsensusResult struct {
	DocumentID     string
	DocumentName   string
	Chunks         []RetrievedChunk // the nucleus chunks belonging to the winning document
	ConsensusRatio float64
	TopRerankScore float64
	RouterTrusted  bool // true when the router-trust short-circuit fired
	Combined       float64

	// Degraded is true when the cross-encoder reranker was unreachable and
	// the result falls back to the vector search's own top hit instead.
	// DegradedReason names which fallback fired, for surfacing to callers.
	Degraded       bool
	DegradedReason string
}

// ExpandedContext is the fully-loaded, formatted context handed to the
// generator.
type ExpandedContext struct {
	DocumentID   string
	DocumentName string
	Text         string // metadata block + content, nucleus-highlighted, budget-truncated
	Truncated    bool
}

// Answer is the coordinator's successful-turn result.
type Answer struct {
	Text              string
	Collection        string
	DocumentID        string
	DocumentName      string
	RoutingConfidence float64
	PromptTokens      int
	CompletionTokens  int
	Latency           time.Duration

	// Degraded and DegradedReason surface a stage that fell back to a
	// reduced-quality path instead of failing the turn outright (e.g. the
	// reranker being unreachable), so callers can flag the answer to users.
	Degraded       bool
	DegradedReason string
}
