// Package main provides the noteindex CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/noteindex/internal/rowstore"
	"github.com/orneryd/noteindex/pkg/config"
	"github.com/orneryd/noteindex/pkg/embedclient"
	"github.com/orneryd/noteindex/pkg/graphstore"
	"github.com/orneryd/noteindex/pkg/searchengine"
	"github.com/orneryd/noteindex/pkg/sync"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "noteindex",
		Short: "noteindex - persistent incrementally-synchronized HNSW vector index",
		Long: `noteindex maintains an in-memory HNSW vector index over an external
note store, keeping it in sync via a debounced reactive reconciliation
loop and periodically persisting latest+backup snapshots to disk.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("noteindex v%s (%s)\n", version, commit)
			},
		},
		newServeCmd(&configPath),
		newSyncCmd(&configPath),
		newSnapshotCmd(&configPath),
		newRebuildCmd(&configPath),
		newStatusCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap wires config, blob store, embedder, engine, row store, and
// orchestrator from the shared CLI flags. The row store is always an
// external collaborator per the module's scope; rowstore.MemStore stands
// in here as the demo/test harness backend.
func bootstrap(configPath string) (*sync.Orchestrator, *searchengine.Engine, *config.Config, error) {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	var blobs graphstore.BlobStore
	switch cfg.BlobBackend {
	case "badger":
		blobs, err = graphstore.NewBadgerBlobStore(cfg.DataDir)
	default:
		blobs, err = graphstore.NewFSBlobStore(cfg.DataDir)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening blob store: %w", err)
	}

	var embedder embedclient.Client
	switch cfg.EmbeddingProvider {
	case "static":
		embedder = embedclient.NewStaticClient(cfg.EmbeddingDim)
	default:
		embedder = embedclient.NewOllamaClient(embedclient.OllamaConfig{
			URL:        cfg.EmbeddingURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDim,
		})
	}

	engineCfg := searchengine.Config{
		EfSearch:       cfg.EfSearch,
		EfConstruction: cfg.EfConstruction,
		Alpha:          cfg.Alpha,
		CacheSize:      cfg.CacheSize,
	}
	engine := searchengine.New(cfg.EmbeddingDim, engineCfg, embedder)

	rows := rowstore.NewMemStore()

	orchCfg := sync.Config{
		Debounce:         cfg.Debounce,
		ChangesThreshold: cfg.ChangesThreshold,
		SnapshotInterval: cfg.SnapshotInterval,
		SnapshotName:     "latest",
		BackupName:       "backup",
		Dim:              cfg.EmbeddingDim,
	}
	orch := sync.New(engine, rows, blobs, embedder, orchCfg)

	return orch, engine, cfg, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync orchestrator until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, engine, cfg, err := bootstrap(*configPath)
			if err != nil {
				return err
			}

			fmt.Printf("starting noteindex v%s\n", version)
			fmt.Printf("  data dir:   %s\n", cfg.DataDir)
			fmt.Printf("  embedding:  %s/%s (%d dims)\n", cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.EmbeddingDim)
			fmt.Printf("  blob store: %s\n", cfg.BlobBackend)

			ctx := context.Background()
			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("starting orchestrator: %w", err)
			}
			fmt.Printf("index ready: %d known vectors\n", engine.KnownCount())

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan

			fmt.Println("shutting down...")
			orch.Shutdown()
			return nil
		},
	}
}

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Boot, run one reconciliation pass, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, engine, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("starting orchestrator: %w", err)
			}
			defer orch.Shutdown()

			orch.ForceSync(ctx)
			fmt.Printf("sync complete: %d known vectors\n", engine.KnownCount())
			return nil
		},
	}
}

func newSnapshotCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Boot and force an immediate snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("starting orchestrator: %w", err)
			}
			defer orch.Shutdown()

			if err := orch.ForceSnapshot(ctx); err != nil {
				return fmt.Errorf("forcing snapshot: %w", err)
			}
			fmt.Println("snapshot complete")
			return nil
		},
	}
}

func newRebuildCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Force a full cold-boot rebuild and snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, engine, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("starting orchestrator: %w", err)
			}
			defer orch.Shutdown()

			if err := orch.ForceFullRebuild(ctx); err != nil {
				return fmt.Errorf("forcing rebuild: %w", err)
			}
			fmt.Printf("rebuild complete: %d known vectors\n", engine.KnownCount())
			return nil
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Boot and print orchestrator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, _, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("starting orchestrator: %w", err)
			}
			defer orch.Shutdown()

			status := orch.Status()
			fmt.Printf("state:                %s\n", status.State)
			fmt.Printf("known vectors:        %d\n", status.KnownCount)
			fmt.Printf("pending change count: %d\n", status.PendingChangeCount)
			if !status.LastProcessedAt.IsZero() {
				fmt.Printf("last processed at:    %s\n", status.LastProcessedAt.Format(time.RFC3339))
			}
			if !status.LastSnapshotAt.IsZero() {
				fmt.Printf("last snapshot at:     %s (%s)\n", status.LastSnapshotAt.Format(time.RFC3339), status.LastSnapshotReason)
			}
			return nil
		},
	}
}
