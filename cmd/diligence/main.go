// diligence is the due-diligence analysis engine CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/config"
	"github.com/diligentiq/engine/internal/dedup"
	"github.com/diligentiq/engine/internal/docstore"
	"github.com/diligentiq/engine/internal/orchestrator"
	"github.com/diligentiq/engine/internal/storage"
)

var (
	configPath string

	cfg   *config.Config
	store storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "diligence",
	Short: "Due-diligence document analysis engine",
	Long: `diligence processes a deal room's documents through a multi-stage
analysis pipeline: prioritization, extraction, knowledge-graph building,
per-document and cross-document analysis, and finding deduplication.

Runs are resumable: progress is checkpointed at every document, cluster,
and batch boundary, and a paused or failed run picks up where it stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		config.InitLogging(cfg)

		store, err = storage.NewStorage(cmd.Context(), &storage.Config{Path: cfg.Storage.Path})
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

// newOrchestrator builds a fully wired orchestrator from the loaded config
func newOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	retry := ai.DefaultRetryConfig()
	retry.MaxRetries = cfg.AI.MaxRetries
	retry.Timeout = cfg.AI.RequestTimeout
	retry.MaxConcurrentCalls = cfg.AI.MaxConcurrentCalls

	gateway, err := ai.NewGateway(&ai.Config{Retry: retry})
	if err != nil {
		return nil, err
	}

	var texts docstore.Store = docstore.NoopStore{}
	if cfg.Docstore != nil {
		minioStore, err := docstore.New(ctx, cfg.Docstore)
		if err != nil {
			return nil, fmt.Errorf("failed to connect document store: %w", err)
		}
		texts = minioStore
	}

	return orchestrator.New(orchestrator.Options{
		Store:    store,
		Client:   gateway,
		Embedder: ai.NewHTTPEmbedder(cfg.AI.EmbeddingURL, cfg.AI.EmbeddingModel),
		Texts:    texts,
		Pipeline: &cfg.Pipeline,
		Batching: cfg.Batching,
		Dedup:    &dedup.Config{SimilarityThreshold: cfg.Dedup.SimilarityThreshold},
	})
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
