package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/analytics"
	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/embedder"
	"github.com/joedaviesio/magna/internal/index"
	"github.com/joedaviesio/magna/internal/logging"
	"github.com/joedaviesio/magna/internal/provider"
)

// diagnoseProbeTimeout bounds each live dependency probe.
const diagnoseProbeTimeout = 5 * time.Second

// NewDiagnoseCmd constructs the `bowen diagnose` command, which checks the
// configuration, the index snapshot and the analytics store, and prints a
// report of what `bowen serve` would be able to load.
func NewDiagnoseCmd() *cobra.Command {
	var live bool
	var topN int

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check configuration, index snapshot and analytics",
		Long: `Check that the chat provider and embedding backend are configured, that
the index snapshot loads, and summarise the analytics store.

With --live the chat provider, Ollama embedder and Qdrant are probed over
the network using the same zero-cost checks as /api/ready.

Examples:
  bowen diagnose
  bowen diagnose --live --top 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.Discard()
			ctx := cmd.Context()
			settings := config.FromEnv()
			out := cmd.OutOrStdout()
			problems := 0

			check := func(name string, err error) {
				if err != nil {
					problems++
					fmt.Fprintf(out, "  [FAIL] %-22s %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "  [ OK ] %s\n", name)
			}

			fmt.Fprintln(out, "Configuration")
			if loadedConfigPath != "" {
				fmt.Fprintf(out, "  config file: %s\n", loadedConfigPath)
			}
			providerCfg := provider.ConfigFromEnv()
			check("chat provider ("+string(providerCfg.Backend)+")", providerCfg.Validate())
			check("embedder ("+embedder.Backend()+")", embedder.Validate(log))

			fmt.Fprintln(out, "\nIndex")
			var idx *index.Index
			if !index.Exists(settings.EmbeddingsDir) {
				check("snapshot", fmt.Errorf("not found in %s", settings.EmbeddingsDir))
			} else {
				loaded, err := index.Load(settings.EmbeddingsDir)
				check("snapshot", err)
				if err == nil {
					idx = loaded
					fmt.Fprintf(out, "         %d chunks, %d dimensions, model %s, built %s\n",
						idx.Len(), idx.Dimension(), idx.Model(), idx.GeneratedAt().Format(time.RFC3339))
				}
			}
			fmt.Fprintf(out, "  backend: %s\n", settings.IndexBackend)

			if live {
				fmt.Fprintln(out, "\nDependencies")
				if err := providerCfg.Validate(); err == nil {
					if hc := provider.NewHealthCheck(providerCfg); hc != nil {
						check("llm:"+string(providerCfg.Backend), probe(ctx, hc.HealthCheck))
					} else {
						fmt.Fprintf(out, "  [SKIP] llm:%s has no zero-cost health check\n", providerCfg.Backend)
					}
				}
				if emb, err := embedder.NewFromEnv(ctx); err == nil {
					if o, ok := emb.(*embedder.OllamaEmbedder); ok {
						check("embedder:ollama", probe(ctx, o.Ping))
					}
				}
				if settings.IndexBackend == "qdrant" {
					store, err := openQdrant(ctx, settings, idx)
					check("qdrant", err)
					if err == nil {
						err = probe(ctx, store.Ping)
						check("qdrant health", err)
						if idx != nil && err == nil && store.Len() != idx.Len() {
							check("qdrant points", fmt.Errorf("%d points, snapshot has %d (run 'bowen embed --qdrant')", store.Len(), idx.Len()))
						}
						_ = store.Close()
					}
				}
			}

			fmt.Fprintln(out, "\nAnalytics")
			if settings.AnalyticsDB == "" {
				fmt.Fprintln(out, "  disabled")
			} else {
				store, err := analytics.Open(settings.AnalyticsDB)
				check("store "+settings.AnalyticsDB, err)
				if err == nil {
					defer func() { _ = store.Close() }()
					if err := reportAnalytics(ctx, out, store, topN); err != nil {
						check("analytics query", err)
					}
				}
			}

			if problems > 0 {
				return fmt.Errorf("diagnose: %d problem(s) found", problems)
			}
			fmt.Fprintln(out, "\nNo problems found.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "Probe the chat provider, embedder and Qdrant over the network")
	cmd.Flags().IntVar(&topN, "top", 10, "Number of most-asked-about acts to list")

	return cmd
}

func probe(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, diagnoseProbeTimeout)
	defer cancel()
	return fn(ctx)
}

func reportAnalytics(ctx context.Context, out io.Writer, store *analytics.SQLiteStore, topN int) error {
	chats, err := store.EventCount(ctx, analytics.EventChat)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  chats answered: %d\n", chats)

	topics, err := store.TopTopics(ctx, topN)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		return nil
	}
	fmt.Fprintln(out, "  most asked about:")
	for _, t := range topics {
		fmt.Fprintf(out, "    %-40s %d\n", t.ActName, t.QueryCount)
	}
	return nil
}
