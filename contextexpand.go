package legalrag

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/teilomillet/legalrag/config"
	"github.com/teilomillet/legalrag/rag"
)

// ContextExpander loads the winning document's full text instead of handing
// the generator only the nucleus chunks a consensus pick surfaced, formats a
// metadata block ahead of the content, highlights the nucleus chunks within
// it, and truncates to a character budget around those chunks when the full
// document would overflow it.
type ContextExpander struct {
	loader  *rag.Loader
	counter rag.TokenCounter
	cfg     *config.Config

	// DocumentRoot is the base directory full document text is read from;
	// a ConsensusResult's DocumentID is joined to it to form the path.
	DocumentRoot string
}

func NewContextExpander(loader *rag.Loader, counter rag.TokenCounter, cfg *config.Config, documentRoot string) *ContextExpander {
	if counter == nil {
		counter = &rag.DefaultTokenCounter{}
	}
	return &ContextExpander{loader: loader, counter: counter, cfg: cfg, DocumentRoot: documentRoot}
}

// Expand loads and formats the context the generator will see for a
// consensus pick.
func (e *ContextExpander) Expand(ctx context.Context, result ConsensusResult) (ExpandedContext, error) {
	path := filepath.Join(e.DocumentRoot, result.DocumentID)
	full, err := e.loader.ReadText(ctx, path)
	if err != nil {
		return ExpandedContext{}, wrapContextLoadFailed("contextexpand.Expand", err)
	}

	body := highlightNucleus(full, result.Chunks)
	header := formatContextHeader(result)

	truncated := false
	if len(body) > e.cfg.ContextCharBudget {
		body = truncateAroundNucleus(body, e.cfg.ContextCharBudget)
		truncated = true
	}

	return ExpandedContext{
		DocumentID:   result.DocumentID,
		DocumentName: result.DocumentName,
		Text:         header + body,
		Truncated:    truncated,
	}, nil
}

// formatContextHeader builds the metadata header that always precedes the
// (possibly truncated) document body, the way a human reader would expect a
// citation to be introduced before its content. The budget truncation that
// may apply to the body never reaches into this header — callers must
// re-prepend it unconditionally rather than truncate the combined string.
func formatContextHeader(result ConsensusResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", result.DocumentName)
	fmt.Fprintf(&b, "Document ID: %s\n", result.DocumentID)
	fmt.Fprintf(&b, "Consensus: %.2f\n\n", result.ConsensusRatio)
	return b.String()
}

// highlightNucleus wraps each nucleus chunk's text, where it occurs in the
// full document, in a marker the generator's system prompt is expected to
// explain (e.g. "pay closest attention to >>> marked <<< passages"). A
// chunk whose text can't be located verbatim (already summarized, or
// reflowed by the loader) is left unmarked rather than failing the turn.
func highlightNucleus(full string, nucleus []RetrievedChunk) string {
	out := full
	for _, chunk := range nucleus {
		if chunk.Text == "" {
			continue
		}
		idx := strings.Index(out, chunk.Text)
		if idx < 0 {
			continue
		}
		out = out[:idx] + ">>> " + chunk.Text + " <<<" + out[idx+len(chunk.Text):]
	}
	return out
}

// truncateAroundNucleus keeps a window of budget characters of the document
// body centered on the first highlighted nucleus marker, falling back to
// the body's head when no marker survived highlighting. It operates on the
// body alone — the caller is responsible for keeping the metadata header
// outside this budget entirely.
func truncateAroundNucleus(body string, budget int) string {
	if len(body) <= budget {
		return body
	}

	center := strings.Index(body, ">>> ")
	if center < 0 {
		return body[:budget]
	}

	half := budget / 2
	start := center - half
	if start < 0 {
		start = 0
	}
	end := start + budget
	if end > len(body) {
		end = len(body)
		start = end - budget
		if start < 0 {
			start = 0
		}
	}
	return body[start:end]
}
