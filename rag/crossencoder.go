package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RerankPair is one (query, document) pair to be scored by the reranker
// oracle, via a score(pairs) contract.
type RerankPair struct {
	Query    string
	Document string
}

// Reranker is the reranker-oracle interface: a cross-encoder that scores
// query/document pairs. Scores are not bounded to [0,1] — the model this
// adapter targets (AITeamVN/Vietnamese_Reranker) routinely returns negative
// scores for weak matches.
type Reranker interface {
	Score(ctx context.Context, pairs []RerankPair) ([]float64, error)
}

// CrossEncoderReranker calls an HTTP-hosted cross-encoder reranker model,
// following the same request/response shape as the OpenAI embedding
// provider (providers/openai.go) since both are thin JSON-over-HTTP
// adapters around a GPU-hosted model.
type CrossEncoderReranker struct {
	endpoint string
	model    string
	client   *http.Client
	limiter  *rate.Limiter
}

// CrossEncoderOption configures a CrossEncoderReranker.
type CrossEncoderOption func(*CrossEncoderReranker)

func WithRerankerEndpoint(endpoint string) CrossEncoderOption {
	return func(r *CrossEncoderReranker) { r.endpoint = endpoint }
}

func WithRerankerModel(model string) CrossEncoderOption {
	return func(r *CrossEncoderReranker) { r.model = model }
}

func WithRerankerHTTPClient(client *http.Client) CrossEncoderOption {
	return func(r *CrossEncoderReranker) { r.client = client }
}

// WithRerankerRateLimit caps outbound requests per second against the
// (typically single, GPU-bound) reranker host, matching common use
// of golang.org/x/time/rate elsewhere for shared-resource throttling.
func WithRerankerRateLimit(rps float64, burst int) CrossEncoderOption {
	return func(r *CrossEncoderReranker) { r.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewCrossEncoderReranker creates a reranker oracle client. The default
// model name matches the Vietnamese legal cross-encoder this pipeline was
// built against.
func NewCrossEncoderReranker(opts ...CrossEncoderOption) *CrossEncoderReranker {
	r := &CrossEncoderReranker{
		model:   "AITeamVN/Vietnamese_Reranker",
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(4), 4),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rerankRequest struct {
	Model string     `json:"model"`
	Pairs [][2]string `json:"pairs"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

// Score sends the pairs to the reranker host in one batched request and
// returns one score per pair, in order.
func (r *CrossEncoderReranker) Score(ctx context.Context, pairs []RerankPair) ([]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("crossencoder: rate limit wait: %w", err)
	}

	reqPairs := make([][2]string, len(pairs))
	for i, p := range pairs {
		reqPairs[i] = [2]string{p.Query, p.Document}
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Pairs: reqPairs})
	if err != nil {
		return nil, fmt.Errorf("crossencoder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("crossencoder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crossencoder: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("crossencoder: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crossencoder: status %d: %s", resp.StatusCode, string(data))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("crossencoder: parse response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("crossencoder: %s", parsed.Error)
	}
	if len(parsed.Scores) != len(pairs) {
		return nil, fmt.Errorf("crossencoder: expected %d scores, got %d", len(pairs), len(parsed.Scores))
	}

	return parsed.Scores, nil
}

// Unload implements VRAMHintable: it asks the reranker host to release its
// GPU memory, the cooperative hint the coordinator issues once a rerank
// completes and the generator is about to run. A host with no /unload route
// simply answers with something other than 200, which this treats the same
// as any other best-effort failure — the caller logs and moves on.
func (r *CrossEncoderReranker) Unload(ctx context.Context) error {
	if r.endpoint == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/unload", nil)
	if err != nil {
		return fmt.Errorf("crossencoder: build unload request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("crossencoder: unload request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("crossencoder: unload status %d", resp.StatusCode)
	}
	return nil
}
