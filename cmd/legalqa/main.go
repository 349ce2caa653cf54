// Command legalqa runs a question-answering session against the legalrag
// pipeline from the terminal.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teilomillet/legalrag"
	"github.com/teilomillet/legalrag/config"
	"github.com/teilomillet/legalrag/rag"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "legalqa",
	Short:   "legalqa answers procedural questions about Vietnamese administrative and legal procedures",
	Version: version,
}

var (
	cfgPath          string
	sessionIDFlag    string
	questionsPath    string
	forcedCollection string
	forcedDocument   string
	optionIDFlag     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to a legalrag config file (defaults to config.Load()'s search path)")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(clarifyCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(reindexCmd)

	queryCmd.Flags().StringVarP(&sessionIDFlag, "session", "s", "", "Session id (a new session is created if empty)")
	queryCmd.Flags().StringVar(&forcedCollection, "collection", "", "Skip routing and search this collection directly")
	queryCmd.Flags().StringVar(&forcedDocument, "document", "", "When --collection is set, narrow to this document title")
	clarifyCmd.Flags().StringVarP(&sessionIDFlag, "session", "s", "", "Session id awaiting clarification")
	clarifyCmd.Flags().StringVar(&optionIDFlag, "option", "", "Id of the offered clarification option to pick (omit to treat the reply as free text)")
	resetCmd.Flags().StringVarP(&sessionIDFlag, "session", "s", "", "Session id to reset")
	reindexCmd.Flags().StringVarP(&questionsPath, "questions", "q", "", "Path to a JSON file of example questions")
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		sessionID := sessionIDFlag
		if sessionID == "" {
			sessionID = eng.NewSession()
		}

		answer, clarification, err := eng.Query(cmd.Context(), sessionID, args[0], forcedCollection, forcedDocument)
		if err != nil {
			return err
		}
		printTurn(sessionID, answer, clarification)
		return nil
	},
}

var clarifyCmd = &cobra.Command{
	Use:   "clarify [reply]",
	Short: "Answer a pending clarification prompt for a session, by option id (--option) or free text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionIDFlag == "" {
			return fmt.Errorf("legalqa clarify: --session is required")
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		answer, clarification, err := eng.Clarify(cmd.Context(), sessionIDFlag, optionIDFlag, args[0])
		if err != nil {
			return err
		}
		printTurn(sessionIDFlag, answer, clarification)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear a session's routing memory, clarification state, and history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionIDFlag == "" {
			return fmt.Errorf("legalqa reset: --session is required")
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		eng.ResetSession(sessionIDFlag)
		fmt.Printf("session %s reset\n", sessionIDFlag)
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the question index from a questions file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if questionsPath == "" {
			return fmt.Errorf("legalqa reindex: --questions is required")
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		data, err := os.ReadFile(questionsPath)
		if err != nil {
			return fmt.Errorf("legalqa reindex: %w", err)
		}
		var raw []legalrag.ExampleQuestion
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("legalqa reindex: parse %s: %w", questionsPath, err)
		}

		info, err := os.Stat(questionsPath)
		if err != nil {
			return err
		}
		if err := eng.BuildIndex(cmd.Context(), raw, info.ModTime()); err != nil {
			return fmt.Errorf("legalqa reindex: %w", err)
		}
		fmt.Printf("indexed %d questions\n", len(raw))
		return nil
	},
}

func printTurn(sessionID string, answer *legalrag.Answer, clarification *legalrag.ClarificationPayload) {
	if clarification != nil {
		fmt.Printf("session: %s\n%s\n", sessionID, clarification.Prompt)
		for _, opt := range clarification.Options {
			fmt.Printf("  [%s] %s\n", opt.ID, opt.Label)
		}
		return
	}

	fmt.Printf("session: %s\n", sessionID)
	fmt.Printf("collection: %s  document: %s  confidence: %.2f\n", answer.Collection, answer.DocumentName, answer.RoutingConfidence)
	if answer.Degraded {
		fmt.Printf("(degraded: %s)\n", answer.DegradedReason)
	}
	fmt.Println(answer.Text)
}

// buildEngine wires an Engine from config and live provider adapters. It is
// the single place a production deployment would swap in its real oracle
// endpoints and vector store address.
func buildEngine() (*legalrag.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	embedder, err := rag.NewEmbedder(
		rag.SetProvider(cfg.EmbeddingProvider),
		rag.SetModel(cfg.EmbeddingModel),
		rag.SetAPIKey(cfg.APIKeys[cfg.EmbeddingProvider]),
	)
	if err != nil {
		return nil, fmt.Errorf("legalqa: build embedder: %w", err)
	}
	embeddingService := rag.NewEmbeddingService(embedder)

	reranker := rag.NewCrossEncoderReranker(
		rag.WithRerankerModel(cfg.RerankerModel),
	)

	const generatorMaxTokens = 1024
	generator, err := rag.NewGollmGenerator(cfg.GeneratorProvider, cfg.GeneratorModel, cfg.APIKeys[cfg.GeneratorProvider], generatorMaxTokens, nil)
	if err != nil {
		return nil, fmt.Errorf("legalqa: build generator: %w", err)
	}

	vectorDBCfg := &rag.Config{Type: cfg.VectorDBType}
	vectorDBCfg.SetAddress(fmt.Sprintf("%v", cfg.VectorDBConfig["address"]))
	vectorDB, err := rag.NewVectorDB(vectorDBCfg)
	if err != nil {
		return nil, fmt.Errorf("legalqa: build vector db: %w", err)
	}

	counter, err := rag.NewTikTokenCounter("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("legalqa: build token counter: %w", err)
	}

	loader := rag.NewLoader()

	return legalrag.NewEngine(cfg, legalrag.EngineDeps{
		Embedder:     embeddingService,
		Reranker:     reranker,
		Generator:    generator,
		VectorDB:     vectorDB,
		Loader:       loader,
		TokenCounter: counter,
		DocumentRoot: fmt.Sprintf("%v", cfg.VectorDBConfig["document_root"]),
	})
}

func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Load()
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("legalqa: read config %s: %w", cfgPath, err)
	}
	cfg := config.DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("legalqa: parse config %s: %w", cfgPath, err)
	}
	return cfg, cfg.Validate()
}
