// Package config provides configuration management for the legalrag
// retrieval pipeline. It handles configuration loading, validation, and
// persistence with support for multiple sources:
//   - Configuration files (JSON)
//   - Environment variables
//   - Programmatic defaults
//
// Settings are resolved in the following order (highest to lowest
// precedence):
//  1. Environment variables
//  2. Configuration file
//  3. Default values
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds every tunable named or implied by the pipeline's routing,
// clarification, consensus, context-expansion, session, and concurrency
// stages.
type Config struct {
	// Provider settings for the embedding/reranker/generator oracles.
	EmbeddingProvider string
	EmbeddingModel    string
	RerankerModel     string
	GeneratorProvider string
	GeneratorModel    string
	APIKeys           map[string]string

	// Vector store settings.
	VectorDBType   string // "milvus", "chromem", "memory"
	VectorDBConfig map[string]interface{}

	// Router tunables.
	RouterHighConfidence      float64 // 0.85 — decisions at or above this need no clarification
	RouterMinConfidence       float64 // 0.50 — floor below which the router is "low"
	RouterTopK                int     // base number of chunks vector search requests before k flexes with confidence
	HybridLexicalRescore      bool    // fuse a BM25-over-candidates rescore with dense similarity via RRF

	// Vector-search tunables: k and the similarity floor both flex with the
	// router's confidence and with whether a smart filter narrowed the
	// search to one document.
	VectorSearchMinScore        float64 // 0.3 — base similarity floor for an unfiltered search
	VectorSearchFilteredFactor  float64 // 0.5 — multiplies the floor when a SmartFilter document filter is applied
	VectorSearchKShrinkHigh     float64 // 0.30 — shrink k by this fraction on ConfidenceHigh
	VectorSearchKGrowLowMedium  float64 // 0.25 — grow k by this fraction on ConfidenceLowMedium
	VectorSearchKMin            int     // 8 — lower bound after shrinking/growing k
	VectorSearchKMax            int     // 15 — upper bound after shrinking/growing k

	// Session routing-memory override laws.
	SessionMemoryMinConfidence float64       // 0.78 — memorized confidence floor to be eligible to override
	SessionMemoryVeryHighGate  float64       // 0.82 — a fresh decision at or above this is never overridden
	SessionMemoryFreshness     time.Duration // 600s — how long routing memory stays eligible
	SessionLowStreakLimit      int           // 3 — consecutive lows that clear routing memory

	// Clarification tunables.
	ClarificationFloor float64 // 0.30 — a combined router+rerank confidence below this returns a clarification instead of an answer

	// Consensus reranker tunables.
	ConsensusTopM          int     // 5 — top-m chunks scored by the cross-encoder
	ConsensusThreshold     float64 // 0.6 — consensus ratio required to pick a nucleus document without fallback
	ConsensusMinRerankScore float64 // -0.5 — signed floor; cross-encoder scores are not bounded to [0,1]
	RouterTrustConfidence  float64 // 0.85 — router confidence at/above which rerank noise is overridden

	// Combined-confidence weighting (decision recorded in DESIGN.md).
	CombinedConfidenceRouterWeight float64 // 0.4
	CombinedConfidenceRerankWeight float64 // 0.6

	// Context expansion tunables.
	ContextCharBudget int // 8000 — truncation budget, metadata block excluded

	// Concurrency & timeouts.
	TurnDeadline time.Duration // 30s — per-turn cancellation deadline
	MaxRetries   int

	// Session store.
	SessionTTL         time.Duration // how long an idle session is kept before being swept
	SessionSweepPeriod time.Duration

	// Question index.
	QuestionIndexCachePath        string
	QuestionIndexCacheFreshness time.Duration // 10s tolerance vs newest source mtime

	Timeout time.Duration // oracle call timeout
}

// DefaultConfig returns the pipeline's production defaults.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		RerankerModel:     "AITeamVN/Vietnamese_Reranker",
		GeneratorProvider: "openai",
		GeneratorModel:    "gpt-4o-mini",
		APIKeys:           make(map[string]string),

		VectorDBType:   "milvus",
		VectorDBConfig: make(map[string]interface{}),

		RouterHighConfidence: 0.85,
		RouterMinConfidence:  0.50,
		RouterTopK:           10,
		HybridLexicalRescore: true,

		VectorSearchMinScore:       0.3,
		VectorSearchFilteredFactor: 0.5,
		VectorSearchKShrinkHigh:    0.30,
		VectorSearchKGrowLowMedium: 0.25,
		VectorSearchKMin:           8,
		VectorSearchKMax:           15,

		SessionMemoryMinConfidence: 0.78,
		SessionMemoryVeryHighGate:  0.82,
		SessionMemoryFreshness:     600 * time.Second,
		SessionLowStreakLimit:      3,

		ClarificationFloor: 0.30,

		ConsensusTopM:           5,
		ConsensusThreshold:      0.6,
		ConsensusMinRerankScore: -0.5,
		RouterTrustConfidence:   0.85,

		CombinedConfidenceRouterWeight: 0.4,
		CombinedConfidenceRerankWeight: 0.6,

		ContextCharBudget: 8000,

		TurnDeadline: 30 * time.Second,
		MaxRetries:   3,

		SessionTTL:         1 * time.Hour,
		SessionSweepPeriod: 5 * time.Minute,

		QuestionIndexCacheFreshness: 10 * time.Second,

		Timeout: 30 * time.Second,
	}
}

// Load resolves a Config from defaults, an optional JSON file, and
// environment variable overrides, in that precedence order.
//
// Configuration file search paths:
//  1. $LEGALRAG_CONFIG
//  2. ~/.legalrag/config.json
//  3. ~/.config/legalrag/config.json
//  4. ./legalrag.json
//
// Environment variable overrides (only these variables are read; every
// other field comes from the configuration file or the defaults):
//   - LEGALRAG_EMBEDDING_PROVIDER, LEGALRAG_EMBEDDING_MODEL
//   - LEGALRAG_GENERATOR_PROVIDER, LEGALRAG_GENERATOR_MODEL
//   - LEGALRAG_API_KEY
//   - LEGALRAG_ROUTER_HIGH_CONFIDENCE, LEGALRAG_ROUTER_MIN_CONFIDENCE
//   - LEGALRAG_SESSION_TTL (Go duration string, e.g. "1h" or "24h")
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configFile := os.Getenv("LEGALRAG_CONFIG")
	if configFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidates := []string{
				filepath.Join(home, ".legalrag", "config.json"),
				filepath.Join(home, ".config", "legalrag", "config.json"),
				"legalrag.json",
			}
			for _, candidate := range candidates {
				if _, err := os.Stat(candidate); err == nil {
					configFile = candidate
					break
				}
			}
		}
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", configFile, err)
			}
		}
	}

	if v := os.Getenv("LEGALRAG_EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("LEGALRAG_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("LEGALRAG_GENERATOR_PROVIDER"); v != "" {
		cfg.GeneratorProvider = v
	}
	if v := os.Getenv("LEGALRAG_GENERATOR_MODEL"); v != "" {
		cfg.GeneratorModel = v
	}
	if v := os.Getenv("LEGALRAG_API_KEY"); v != "" {
		cfg.APIKeys[cfg.EmbeddingProvider] = v
	}
	if v := os.Getenv("LEGALRAG_ROUTER_HIGH_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RouterHighConfidence = f
		}
	}
	if v := os.Getenv("LEGALRAG_ROUTER_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RouterMinConfidence = f
		}
	}
	if v := os.Getenv("LEGALRAG_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SessionTTL = d
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks the invariants the pipeline assumes hold, returning a
// ConfigError-flavored error (via the caller wrapping it) when they don't.
func (c *Config) Validate() error {
	if c.RouterMinConfidence < 0 || c.RouterMinConfidence > 1 {
		return fmt.Errorf("config: RouterMinConfidence must be in [0,1], got %v", c.RouterMinConfidence)
	}
	if c.RouterHighConfidence < c.RouterMinConfidence {
		return fmt.Errorf("config: RouterHighConfidence (%v) must be >= RouterMinConfidence (%v)", c.RouterHighConfidence, c.RouterMinConfidence)
	}
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("config: ConsensusThreshold must be in (0,1], got %v", c.ConsensusThreshold)
	}
	if c.CombinedConfidenceRouterWeight+c.CombinedConfidenceRerankWeight != 1 {
		return fmt.Errorf("config: combined-confidence weights must sum to 1, got %v+%v",
			c.CombinedConfidenceRouterWeight, c.CombinedConfidenceRerankWeight)
	}
	if c.ContextCharBudget <= 0 {
		return fmt.Errorf("config: ContextCharBudget must be positive, got %v", c.ContextCharBudget)
	}
	if c.VectorSearchKMin <= 0 || c.VectorSearchKMax < c.VectorSearchKMin {
		return fmt.Errorf("config: VectorSearchKMin/KMax out of order, got %v/%v", c.VectorSearchKMin, c.VectorSearchKMax)
	}
	return nil
}

// Save persists the configuration to a JSON file at the specified path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
