// Package rag provides the oracle adapters (embedding, reranking,
// generation) and vector-store adapters the legalrag pipeline depends on.
package rag

import (
	"context"
	"fmt"

	"github.com/teilomillet/legalrag/rag/providers"
)

// EmbedderConfig holds the configuration for creating an Embedder instance.
type EmbedderConfig struct {
	Provider string
	Options  map[string]interface{}
}

type EmbedderOption func(*EmbedderConfig)

func SetProvider(provider string) EmbedderOption {
	return func(c *EmbedderConfig) { c.Provider = provider }
}

func SetModel(model string) EmbedderOption {
	return func(c *EmbedderConfig) { c.Options["model"] = model }
}

func SetAPIKey(apiKey string) EmbedderOption {
	return func(c *EmbedderConfig) { c.Options["api_key"] = apiKey }
}

func SetOption(key string, value interface{}) EmbedderOption {
	return func(c *EmbedderConfig) { c.Options[key] = value }
}

// NewEmbedder creates a new Embedder instance based on the provided options,
// dispatching through the provider factory registry.
func NewEmbedder(opts ...EmbedderOption) (providers.Embedder, error) {
	config := &EmbedderConfig{Options: make(map[string]interface{})}
	for _, opt := range opts {
		opt(config)
	}
	if config.Provider == "" {
		return nil, fmt.Errorf("embed: provider must be specified")
	}
	factory, err := providers.GetEmbedderFactory(config.Provider)
	if err != nil {
		return nil, err
	}
	return factory(config.Options)
}

// EmbeddedChunk is a piece of text paired with its embedding vectors and
// metadata, ready for insertion into a VectorDB.
type EmbeddedChunk struct {
	Text       string                 `json:"text"`
	Embeddings map[string][]float64   `json:"embeddings"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// EmbeddingService wraps an Embedder: Embed for a single text (what the
// question index and vector-search stage call) and EmbedChunks for a batch.
type EmbeddingService struct {
	embedder providers.Embedder
}

func NewEmbeddingService(embedder providers.Embedder) *EmbeddingService {
	return &EmbeddingService{embedder: embedder}
}

// EmbedChunks embeds a slice of chunks in sequence, logging progress at
// Debug level instead of printing to stdout.
func (s *EmbeddingService) EmbedChunks(ctx context.Context, chunks []Chunk) ([]EmbeddedChunk, error) {
	embedded := make([]EmbeddedChunk, 0, len(chunks))

	GlobalLogger.Debug("embedding chunks", "count", len(chunks))

	for i, chunk := range chunks {
		GlobalLogger.Debug("embedding chunk", "index", i+1, "total", len(chunks), "length", len(chunk.Text), "preview", truncateString(chunk.Text, 100))

		embedding, err := s.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("embed: chunk %d: %w", i+1, err)
		}

		embedded = append(embedded, EmbeddedChunk{
			Text: chunk.Text,
			Embeddings: map[string][]float64{
				"default": embedding,
			},
			Metadata: map[string]interface{}{
				"token_size":     chunk.TokenSize,
				"start_sentence": chunk.StartSentence,
				"end_sentence":   chunk.EndSentence,
				"chunk_index":    i,
			},
		})
	}

	return embedded, nil
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Embed is a convenience one-shot embedding call used by callers that don't
// need the batch bookkeeping of EmbeddingService (e.g. embedding a single
// incoming query in the router).
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float64, error) {
	return s.embedder.Embed(ctx, text)
}
