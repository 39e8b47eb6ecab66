package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/embedder"
	"github.com/joedaviesio/magna/internal/index"
	"github.com/joedaviesio/magna/internal/ingestion"
	"github.com/joedaviesio/magna/internal/logging"
)

// NewEmbedCmd constructs the `bowen embed` command, the last stage of the
// offline pipeline.
func NewEmbedCmd() *cobra.Command {
	var inDir, outDir string
	var mirror, reset bool

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed all chunks and write the index snapshot",
		Long: `Embed every chunk in all_chunks.json with the configured embedding backend
and write the snapshot (embeddings.gob, metadata.json, config.json) that
'bowen serve' loads.

With --qdrant the snapshot is also mirrored into the configured Qdrant
collection. --reset drops the collection first.

Environment variables:
  EMBEDDING_PROVIDER     ollama, openai, azure, gemini, hashing (inherits MODEL_PROVIDER)
  EMBEDDING_MODEL        Backend model override
  EMBEDDING_BATCH_SIZE   Chunks per embedding request (default: 32)
  EMBEDDING_RPS          Request rate cap, 0 disables pacing
  QDRANT_HOST/PORT/COLLECTION/API_KEY/TLS  Qdrant mirror target

Examples:
  bowen embed
  EMBEDDING_PROVIDER=openai bowen embed --qdrant --reset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			settings := config.FromEnv()
			if inDir == "" {
				inDir = settings.ChunksDir
			}
			if outDir == "" {
				outDir = settings.EmbeddingsDir
			}

			chunks, err := ingestion.ReadChunks(inDir)
			if err != nil {
				return fmt.Errorf("embed: %w (run 'bowen chunk' first)", err)
			}
			if len(chunks) == 0 {
				return fmt.Errorf("embed: no chunks in %s", inDir)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("embed: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised",
				slog.String("backend", embedder.Backend()),
				slog.String("model", emb.Model()),
				slog.Int("chunks", len(chunks)),
			)

			idx, err := index.Build(ctx, chunks, emb, index.BuildOptions{
				BatchSize: settings.EmbeddingBatchSize,
				RPS:       settings.EmbeddingRPS,
				Progress: func(done, total int) {
					log.Info("embedding progress", slog.Int("done", done), slog.Int("total", total))
				},
			})
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			if err := idx.Save(outDir); err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			log.Info("snapshot written",
				slog.String("dir", outDir),
				slog.Int("chunks", idx.Len()),
				slog.Int("dimensions", idx.Dimension()),
			)

			if mirror || settings.IndexBackend == "qdrant" {
				store, err := openQdrant(ctx, settings, idx)
				if err != nil {
					return fmt.Errorf("embed: %w", err)
				}
				defer func() { _ = store.Close() }()
				if reset {
					if err := store.Reset(ctx); err != nil {
						return fmt.Errorf("embed: %w", err)
					}
				}
				if err := store.Mirror(ctx, idx, 0); err != nil {
					return fmt.Errorf("embed: %w", err)
				}
				log.Info("snapshot mirrored to qdrant",
					slog.String("collection", settings.Qdrant.Collection),
					slog.Int("points", store.Len()),
				)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d chunks (%d dimensions) into %s\n", idx.Len(), idx.Dimension(), outDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&inDir, "in", "", "Directory containing all_chunks.json (default: BOWEN_CHUNKS_DIR)")
	cmd.Flags().StringVar(&outDir, "out", "", "Snapshot output directory (default: BOWEN_EMBEDDINGS_DIR)")
	cmd.Flags().BoolVar(&mirror, "qdrant", false, "Also mirror the snapshot into Qdrant")
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop and recreate the Qdrant collection before mirroring")

	return cmd
}
