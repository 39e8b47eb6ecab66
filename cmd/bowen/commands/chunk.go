package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/logging"
)

// NewChunkCmd constructs the `bowen chunk` command, the second stage of the
// offline pipeline.
func NewChunkCmd() *cobra.Command {
	var inDir, outDir string
	var maxTokens, minTokens, overlap, workers int

	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Split parsed sections into token-bounded chunks",
		Long: `Split every parsed act into chunks of at most --max-tokens estimated tokens,
carrying --overlap tokens between consecutive chunks of a long section.

Writes one <act>_chunks.json per act, the merged all_chunks.json consumed by
'bowen embed', and chunks_index.json. Chunk IDs are content-derived, so
re-running over unchanged input produces identical output.

Examples:
  bowen chunk
  bowen chunk --max-tokens 400 --overlap 40`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			settings := config.FromEnv()
			if inDir == "" {
				inDir = settings.ParsedDir
			}
			if outDir == "" {
				outDir = settings.ChunksDir
			}
			if maxTokens > 0 {
				settings.ChunkMaxTokens = maxTokens
			}
			if minTokens > 0 {
				settings.ChunkMinTokens = minTokens
			}
			if cmd.Flags().Changed("overlap") {
				settings.ChunkOverlapTokens = overlap
			}
			if workers > 0 {
				settings.ChunkWorkers = workers
			}

			p, err := newPipeline(settings)
			if err != nil {
				return fmt.Errorf("chunk: %w", err)
			}
			idx, err := p.ChunkDir(ctx, inDir, outDir, func(msg string) { log.Info(msg) })
			if err != nil {
				return fmt.Errorf("chunk: %w", err)
			}

			log.Info("chunk complete",
				slog.Int("chunks", idx.TotalChunks),
				slog.Int("acts", len(idx.Acts)),
				slog.String("out", outDir),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d chunks from %d acts into %s\n", idx.TotalChunks, len(idx.Acts), outDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&inDir, "in", "", "Directory of parsed act JSON (default: BOWEN_PARSED_DIR)")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory for chunks (default: BOWEN_CHUNKS_DIR)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum estimated tokens per chunk (default: CHUNK_MAX_TOKENS or 512)")
	cmd.Flags().IntVar(&minTokens, "min-tokens", 0, "Minimum tokens for a trailing chunk (default: CHUNK_MIN_TOKENS or 50)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "Tokens carried between chunks (default: CHUNK_OVERLAP_TOKENS or 50)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Parallel workers (default: number of CPUs)")

	return cmd
}
