package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/assistant"
	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/logging"
)

// NewSearchCmd constructs the `bowen search` command, which ranks legislation
// for a query against the local snapshot without calling a chat model.
func NewSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the legislation index",
		Long: `Rank legislation sections for a query using the same retrieval as the
/search endpoint: no act filter, key-section and explanatory boosts applied.

Examples:
  bowen search "maximum bond"
  bowen search --limit 3 "unjustified dismissal"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			settings := config.FromEnv()

			stack, closeRetrieval, err := buildRetrieval(ctx, settings, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer closeRetrieval()
			if stack.engine == nil {
				return fmt.Errorf("search: no index loaded from %s (run 'bowen embed' first)", settings.EmbeddingsDir)
			}

			svc, err := assistant.New(&assistant.Config{
				Registry:      acts.Default(),
				Searcher:      stack.engine,
				EmbedderReady: stack.emb != nil,
				MaxSearch:     settings.SearchLimit,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			resp, err := svc.Search(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for i, r := range resp.Results {
				fmt.Fprintf(out, "%2d. [%.3f] %s s %s", i+1, r.Score, r.ActTitle, r.SectionNumber)
				if r.SectionHeading != "" {
					fmt.Fprintf(out, ": %s", r.SectionHeading)
				}
				fmt.Fprintf(out, "\n    %s\n    %s\n", preview(r.Text, 200), r.URL)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", assistant.DefaultSearchLimit, "Number of results (max BOWEN_SEARCH_LIMIT)")

	return cmd
}

// preview returns at most n runes of s on one line.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
