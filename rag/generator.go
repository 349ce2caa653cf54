package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teilomillet/gollm"
)

// GenerationTurn is one prior exchange in the bounded chat history passed
// to the generator oracle.
type GenerationTurn struct {
	Query  string
	Answer string
}

// GenerationRequest matches the generator-oracle contract:
// generate(system_prompt, chat_history, context, query, max_tokens,
// temperature).
type GenerationRequest struct {
	SystemPrompt string
	History      []GenerationTurn
	Context      string
	Query        string
	MaxTokens    int
	Temperature  float64
}

// GenerationResult is the oracle's non-streaming response.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator is the generator-oracle interface.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// GollmGenerator adapts gollm.LLM to the Generator oracle interface, via the
// standard gollm.NewLLM/Generate call pair.
type GollmGenerator struct {
	llm          gollm.LLM
	tokenCounter TokenCounter
}

// NewGollmGenerator constructs a generator oracle backed by gollm, using the
// given provider/model/API key. The token counter is used only to report
// PromptTokens/CompletionTokens, since gollm's Generate does not return
// usage directly.
func NewGollmGenerator(provider, model, apiKey string, maxTokens int, counter TokenCounter) (*GollmGenerator, error) {
	llm, err := gollm.NewLLM(
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetAPIKey(apiKey),
		gollm.SetMaxTokens(maxTokens),
		gollm.SetMaxRetries(3),
		gollm.SetRetryDelay(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("generator: initialize llm: %w", err)
	}
	if counter == nil {
		counter = &DefaultTokenCounter{}
	}
	return &GollmGenerator{llm: llm, tokenCounter: counter}, nil
}

// Generate builds a single gollm.Prompt from the system prompt, bounded
// chat history, retrieved context, and query, then issues one non-streaming
// call.
func (g *GollmGenerator) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	start := time.Now()

	var historyBuilder strings.Builder
	for _, turn := range req.History {
		fmt.Fprintf(&historyBuilder, "User: %s\nAssistant: %s\n", turn.Query, turn.Answer)
	}

	prompt := gollm.NewPrompt(
		req.Query,
		gollm.WithSystemPrompt(req.SystemPrompt, gollm.CacheTypeEphemeral),
		gollm.WithContext(strings.TrimSpace(historyBuilder.String()+"\n"+req.Context)),
	)

	text, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("generator: generate: %w", err)
	}

	return GenerationResult{
		Text:             text,
		PromptTokens:     g.tokenCounter.Count(req.SystemPrompt + historyBuilder.String() + req.Context + req.Query),
		CompletionTokens: g.tokenCounter.Count(text),
		Latency:          time.Since(start),
	}, nil
}
