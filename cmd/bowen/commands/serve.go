package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/analytics"
	"github.com/joedaviesio/magna/internal/assistant"
	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/generator"
	"github.com/joedaviesio/magna/internal/logging"
	"github.com/joedaviesio/magna/internal/provider"
	"github.com/joedaviesio/magna/internal/server"
	"github.com/joedaviesio/magna/internal/tracing"
)

// NewServeCmd constructs the `bowen serve` command, which loads the index and
// model clients once and starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Bowen HTTP API",
		Long: `Start the Bowen HTTP API.

The server loads the embedding snapshot, the embedding backend and the chat
model once at startup. Anything that fails to load is reported by /health
and the affected endpoints answer 503 until the server is restarted.

Examples:
  bowen serve
  bowen serve --port 9000
  MODEL_PROVIDER=openai INDEX_BACKEND=qdrant bowen serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			settings := config.FromEnv()
			if cmd.Flags().Changed("host") {
				settings.Host = host
			}
			if cmd.Flags().Changed("port") {
				settings.Port = port
			}

			flush := tracing.Install(tracing.FromEnv(), log)
			defer flush()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := server.NewMetrics(reg)

			stack, closeRetrieval, err := buildRetrieval(ctx, settings, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeRetrieval()

			var answerer assistant.Answerer
			chatModel, providerCfg, err := provider.NewFromEnv(ctx)
			if err != nil {
				log.Warn("provider: failed to initialise, chat disabled", slog.Any("error", err))
				chatModel = nil
			} else {
				gen, err := generator.New(&generator.Config{
					ChatModel:        chatModel,
					MaxTokens:        providerCfg.Tuning.MaxTokens,
					Temperature:      providerCfg.Tuning.Temperature,
					MaxContextTokens: settings.MaxContextTokens,
				})
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				answerer = gen
				log.Info("provider initialised",
					slog.String("provider", string(providerCfg.Backend)),
					slog.String("model", providerCfg.ModelName()),
				)
			}

			store := openAnalytics(settings, log)
			var sink analytics.Sink
			if store != nil {
				sink = store
				defer func() { _ = store.Close() }()
			}
			recorder := analytics.NewRecorder(sink, log, metrics.AnalyticsFailure)

			var searcher assistant.Searcher
			if stack.engine != nil {
				searcher = metrics.InstrumentSearcher(stack.engine)
			}

			svc, err := assistant.New(&assistant.Config{
				Registry:      acts.Default(),
				Searcher:      searcher,
				Answerer:      answerer,
				Recorder:      recorder,
				EmbedderReady: stack.emb != nil,
				ChatTopK:      settings.ChatTopK,
				MaxSearch:     settings.SearchLimit,
				MaxSources:    settings.MaxSources,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise assistant: %w", err)
			}

			st := svc.Status()
			log.Info("startup complete",
				logging.Event(logging.EventStartup),
				slog.Bool("embeddings_loaded", st.IndexLoaded),
				slog.Bool("model_loaded", st.EmbedderReady),
				slog.Bool("llm_ready", st.LLMReady),
				slog.Bool("analytics_ready", st.AnalyticsReady),
				slog.Int("chunks", st.Chunks),
			)

			srv, err := server.New(svc, &server.Config{
				Host:            settings.Host,
				Port:            settings.Port,
				Logger:          log,
				Pingers:         buildPingers(chatModel, providerCfg, stack, store),
				CORSOrigins:     settings.CORSOrigins,
				Metrics:         metrics,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "TCP port to listen on")

	return cmd
}
