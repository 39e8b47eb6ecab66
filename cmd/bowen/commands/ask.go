package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/analytics"
	"github.com/joedaviesio/magna/internal/assistant"
	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/generator"
	"github.com/joedaviesio/magna/internal/logging"
	"github.com/joedaviesio/magna/internal/provider"
)

// NewAskCmd constructs the `bowen ask` command, which answers a single
// question from the terminal using the same flow as POST /chat.
func NewAskCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask Bowen a question about NZ legislation",
		Long: `Ask a question about New Zealand legislation. The act the question is
about is detected from its wording, relevant sections are retrieved from
the local snapshot, and the chat model answers with citations.

Bowen provides legal information, not legal advice.

Examples:
  bowen ask "what is the maximum bond my landlord can ask for?"
  bowen ask "does the RMA apply to a backyard deck?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			settings := config.FromEnv()

			stack, closeRetrieval, err := buildRetrieval(ctx, settings, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeRetrieval()

			chatModel, providerCfg, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}
			gen, err := generator.New(&generator.Config{
				ChatModel:        chatModel,
				MaxTokens:        providerCfg.Tuning.MaxTokens,
				Temperature:      providerCfg.Tuning.Temperature,
				MaxContextTokens: settings.MaxContextTokens,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			var sink analytics.Sink
			if store := openAnalytics(settings, log); store != nil {
				sink = store
				defer func() { _ = store.Close() }()
			}

			cfg := &assistant.Config{
				Registry:      acts.Default(),
				Answerer:      gen,
				Recorder:      analytics.NewRecorder(sink, log, nil),
				EmbedderReady: stack.emb != nil,
				ChatTopK:      settings.ChatTopK,
				MaxSources:    settings.MaxSources,
			}
			if stack.engine != nil {
				cfg.Searcher = stack.engine
			}
			svc, err := assistant.New(cfg)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			resp, err := svc.Chat(ctx, assistant.ChatRequest{Message: strings.Join(args, " "), SessionID: sessionID})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Response)
			if len(resp.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, s := range resp.Sources {
					fmt.Fprintf(out, "  - %s s %s: %s\n    %s\n", s.ActTitle, s.SectionNumber, s.SectionHeading, s.URL)
				}
			}
			fmt.Fprintf(out, "\n%s\n", resp.Disclaimer)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to group questions (default: a new UUID)")

	return cmd
}
