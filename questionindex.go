package legalrag

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/teilomillet/legalrag/rag"
	"golang.org/x/sync/singleflight"
)

// QuestionIndex holds the embedded example questions the router matches
// incoming queries against, one entry per curated question across every
// collection. It is rebuilt from source question files and cached to disk
// as a gob-encoded blob, mirroring the original service's pickle cache
// (header + questions + embeddings) but in Go's native binary encoding.
type QuestionIndex struct {
	mu        sync.RWMutex
	questions []ExampleQuestion
	builtAt   time.Time

	embedder          *rag.EmbeddingService
	cachePath         string
	cacheFreshness    time.Duration
	embedGroup        singleflight.Group
}

// questionIndexCache is the gob-serializable cache payload.
type questionIndexCache struct {
	Version   int
	BuiltAt   time.Time
	Questions []ExampleQuestion
}

const questionIndexCacheVersion = 1

// NewQuestionIndex creates an empty index. Call Build before routing any
// queries against it.
func NewQuestionIndex(embedder *rag.EmbeddingService, cachePath string, cacheFreshness time.Duration) *QuestionIndex {
	return &QuestionIndex{
		embedder:       embedder,
		cachePath:      cachePath,
		cacheFreshness: cacheFreshness,
	}
}

// Build embeds every question in raw (grouped by collection, pre-loaded by
// the caller from whatever source format stores them) and replaces the
// index's contents. If a fresh on-disk cache exists — no older than
// cacheFreshness relative to newestSourceMTime — Build loads it instead of
// recomputing embeddings, matching the original router's 10-second
// tolerance for filesystem mtime jitter.
func (qi *QuestionIndex) Build(ctx context.Context, raw []ExampleQuestion, newestSourceMTime time.Time) error {
	if cached, ok := qi.tryLoadCache(newestSourceMTime); ok {
		qi.mu.Lock()
		qi.questions = cached.Questions
		qi.builtAt = cached.BuiltAt
		qi.mu.Unlock()
		return nil
	}

	built := make([]ExampleQuestion, len(raw))
	for i, q := range raw {
		emb, err := qi.embedder.Embed(ctx, q.Text)
		if err != nil {
			return fmt.Errorf("questionindex: embedding question %q: %w", q.Text, err)
		}
		q.Embedding = emb
		built[i] = q
	}

	qi.mu.Lock()
	qi.questions = built
	qi.builtAt = time.Now()
	qi.mu.Unlock()

	if qi.cachePath != "" {
		if err := qi.saveCache(); err != nil {
			rag.GlobalLogger.Warn("questionindex: failed to write cache", "path", qi.cachePath, "error", err)
		}
	}
	return nil
}

func (qi *QuestionIndex) tryLoadCache(newestSourceMTime time.Time) (questionIndexCache, bool) {
	if qi.cachePath == "" {
		return questionIndexCache{}, false
	}
	info, err := os.Stat(qi.cachePath)
	if err != nil {
		return questionIndexCache{}, false
	}
	if info.ModTime().Add(qi.cacheFreshness).Before(newestSourceMTime) {
		return questionIndexCache{}, false
	}

	data, err := os.ReadFile(qi.cachePath)
	if err != nil {
		return questionIndexCache{}, false
	}
	var cache questionIndexCache
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cache); err != nil {
		rag.GlobalLogger.Warn("questionindex: cache decode failed, rebuilding", "error", err)
		return questionIndexCache{}, false
	}
	if cache.Version != questionIndexCacheVersion {
		return questionIndexCache{}, false
	}
	return cache, true
}

func (qi *QuestionIndex) saveCache() error {
	qi.mu.RLock()
	cache := questionIndexCache{
		Version:   questionIndexCacheVersion,
		BuiltAt:   qi.builtAt,
		Questions: qi.questions,
	}
	qi.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cache); err != nil {
		return fmt.Errorf("questionindex: encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(qi.cachePath), 0755); err != nil {
		return fmt.Errorf("questionindex: create cache dir: %w", err)
	}
	return os.WriteFile(qi.cachePath, buf.Bytes(), 0644)
}

// Questions returns a snapshot of the index's current questions.
func (qi *QuestionIndex) Questions() []ExampleQuestion {
	qi.mu.RLock()
	defer qi.mu.RUnlock()
	out := make([]ExampleQuestion, len(qi.questions))
	copy(out, qi.questions)
	return out
}

// DocumentsInCollection returns the distinct document id -> display name
// pairs known within collection, for offering a document-level
// clarification once the collection itself is settled.
func (qi *QuestionIndex) DocumentsInCollection(collection string) map[string]string {
	qi.mu.RLock()
	defer qi.mu.RUnlock()
	out := make(map[string]string)
	for _, q := range qi.questions {
		if q.Collection != collection || q.DocumentID == "" {
			continue
		}
		if _, ok := out[q.DocumentID]; !ok {
			out[q.DocumentID] = q.DocumentName
		}
	}
	return out
}

// ResolveDocumentID looks up a document's id by its display name
// (case-insensitive), for turning a caller-supplied forced_document_title
// into the id the rest of the pipeline works in terms of.
func (qi *QuestionIndex) ResolveDocumentID(title string) (string, bool) {
	qi.mu.RLock()
	defer qi.mu.RUnlock()
	normalized := strings.ToLower(strings.TrimSpace(title))
	for _, q := range qi.questions {
		if q.DocumentName != "" && strings.ToLower(q.DocumentName) == normalized {
			return q.DocumentID, true
		}
	}
	return "", false
}

// EmbedQuery embeds a query for matching against the index. Concurrent
// calls with the identical query text collapse into one embedding-oracle
// call via singleflight, since a burst of identical queries across
// sessions is common (e.g. a FAQ-style question asked by many users at
// once) and the embedding oracle is a shared, rate-limited resource.
func (qi *QuestionIndex) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	v, err, _ := qi.embedGroup.Do(query, func() (interface{}, error) {
		return qi.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float64), nil
}
