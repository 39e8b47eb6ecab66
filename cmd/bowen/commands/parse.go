package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/logging"
)

// NewParseCmd constructs the `bowen parse` command, the first stage of the
// offline pipeline.
func NewParseCmd() *cobra.Command {
	var inDir, outDir string
	var workers int

	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse legislation HTML into per-act section JSON",
		Long: `Parse every legislation.govt.nz HTML file in the input directory into
structured sections and write one JSON file per act plus acts_index.json.

Act metadata comes from the built-in act registry when the file name is
known, and is inferred from the file name otherwise.

Examples:
  bowen parse
  bowen parse --in ./html --out ./parsed --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			settings := config.FromEnv()
			if inDir == "" {
				inDir = settings.HTMLDir
			}
			if outDir == "" {
				outDir = settings.ParsedDir
			}
			if workers > 0 {
				settings.ChunkWorkers = workers
			}

			p, err := newPipeline(settings)
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			idx, err := p.ParseDir(ctx, inDir, outDir, func(msg string) { log.Info(msg) })
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}

			log.Info("parse complete",
				slog.Int("acts", idx.TotalActs),
				slog.Int("sections", idx.TotalSections),
				slog.String("out", outDir),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Parsed %d acts (%d sections) into %s\n", idx.TotalActs, idx.TotalSections, outDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&inDir, "in", "", "Directory of legislation HTML files (default: BOWEN_HTML_DIR)")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory for parsed JSON (default: BOWEN_PARSED_DIR)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Parallel workers (default: number of CPUs)")

	return cmd
}
