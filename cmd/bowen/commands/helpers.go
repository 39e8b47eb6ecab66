package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/analytics"
	"github.com/joedaviesio/magna/internal/chunker"
	"github.com/joedaviesio/magna/internal/config"
	"github.com/joedaviesio/magna/internal/embedder"
	"github.com/joedaviesio/magna/internal/index"
	"github.com/joedaviesio/magna/internal/ingestion"
	"github.com/joedaviesio/magna/internal/keysections"
	"github.com/joedaviesio/magna/internal/provider"
	"github.com/joedaviesio/magna/internal/retrieval"
	"github.com/joedaviesio/magna/internal/server"
)

// retrievalStack is everything a command needs to query the legislation
// index. engine is nil when no index could be loaded; emb is nil when the
// embedding backend could not be built.
type retrievalStack struct {
	engine *retrieval.Engine
	emb    embedder.Embedder
	qdrant *index.QdrantStore
}

// buildRetrieval loads the embedding snapshot, connects the configured index
// backend and builds the retrieval engine. Missing pieces are logged and
// left nil so the server can still start and report them; strict callers
// check the stack themselves. The engine is also left nil when the query
// embedder's dimension differs from the snapshot's. The returned func
// releases connections.
func buildRetrieval(ctx context.Context, s config.Settings, log *slog.Logger) (*retrievalStack, func(), error) {
	stack := &retrievalStack{}
	closeFn := func() {}

	if err := embedder.Validate(log); err != nil {
		log.Warn("embedder: configuration invalid, search disabled", slog.Any("error", err))
	} else if emb, err := embedder.NewFromEnv(ctx); err != nil {
		log.Warn("embedder: failed to initialise, search disabled", slog.Any("error", err))
	} else {
		stack.emb = emb
		log.Info("embedder initialised",
			slog.String("backend", embedder.Backend()),
			slog.String("model", emb.Model()),
		)
	}

	var idx *index.Index
	if !index.Exists(s.EmbeddingsDir) {
		log.Warn("index: snapshot not found, run 'bowen embed' first", slog.String("dir", s.EmbeddingsDir))
	} else if loaded, err := index.Load(s.EmbeddingsDir); err != nil {
		log.Error("index: failed to load snapshot", slog.String("dir", s.EmbeddingsDir), slog.Any("error", err))
	} else {
		idx = loaded
		log.Info("index: snapshot loaded",
			slog.Int("chunks", idx.Len()),
			slog.Int("dimensions", idx.Dimension()),
			slog.String("model", idx.Model()),
		)
		if stack.emb != nil && idx.Model() != stack.emb.Model() {
			log.Warn("index: snapshot was built with a different embedding model",
				slog.String("snapshot_model", idx.Model()),
				slog.String("query_model", stack.emb.Model()),
			)
		}
	}

	var querier index.Querier
	pool := 0
	switch s.IndexBackend {
	case "", "memory":
		if idx != nil {
			querier = idx
		}
	case "qdrant":
		store, err := openQdrant(ctx, s, idx)
		if err != nil {
			return nil, closeFn, err
		}
		stack.qdrant = store
		closeFn = func() { _ = store.Close() }
		if err := syncMirror(ctx, store, idx, log); err != nil {
			return nil, closeFn, err
		}
		querier = store
		pool = s.CandidatePool
		log.Info("index: serving from qdrant",
			slog.String("collection", s.Qdrant.Collection),
			slog.Int("points", store.Len()),
		)
	default:
		return nil, closeFn, fmt.Errorf("unknown INDEX_BACKEND %q (want memory or qdrant)", s.IndexBackend)
	}

	if stack.emb != nil && idx != nil {
		if err := checkQueryDimension(ctx, stack.emb, idx.Dimension()); errors.Is(err, index.ErrDimensionMismatch) {
			log.Error("index: query embeddings do not match the snapshot, search disabled",
				slog.String("snapshot_model", idx.Model()),
				slog.String("query_model", stack.emb.Model()),
				slog.Any("error", err),
			)
			return stack, closeFn, nil
		} else if err != nil {
			log.Warn("embedder: startup embedding failed, dimension not verified", slog.Any("error", err))
		}
	}

	if querier != nil && querier.Len() > 0 {
		stack.engine = retrieval.NewEngine(stack.emb, querier, keysections.Default(), retrieval.Options{CandidatePool: pool})
	}
	return stack, closeFn, nil
}

// mirrorTarget is the part of [index.QdrantStore] that syncMirror needs.
type mirrorTarget interface {
	Len() int
	Mirror(ctx context.Context, idx *index.Index, batchSize int) error
}

// syncMirror re-mirrors the snapshot whenever the collection's point count
// differs from it, so the collection never serves chunks from an older
// build. Without a snapshot the collection is served as is.
func syncMirror(ctx context.Context, store mirrorTarget, idx *index.Index, log *slog.Logger) error {
	if idx == nil || store.Len() == idx.Len() {
		return nil
	}
	log.Info("qdrant: collection out of date, mirroring snapshot",
		slog.Int("points", store.Len()),
		slog.Int("chunks", idx.Len()),
	)
	if err := store.Mirror(ctx, idx, 0); err != nil {
		return fmt.Errorf("qdrant mirror: %w", err)
	}
	if store.Len() != idx.Len() {
		return fmt.Errorf("qdrant mirror: %w: %d points, snapshot has %d", index.ErrMisaligned, store.Len(), idx.Len())
	}
	return nil
}

// checkQueryDimension embeds one string and compares its length with the
// snapshot dimension.
func checkQueryDimension(ctx context.Context, emb embedder.Embedder, want int) error {
	vecs, err := emb.Embed(ctx, []string{"dimension check"})
	if err != nil {
		return err
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedder returned %d vectors for 1 input", len(vecs))
	}
	if got := len(vecs[0]); got != want {
		return fmt.Errorf("%w: embedder produces %d dimensions, snapshot has %d", index.ErrDimensionMismatch, got, want)
	}
	return nil
}

// openQdrant connects to the configured collection. The vector size comes
// from the snapshot when one is loaded, otherwise from the embedding backend.
func openQdrant(ctx context.Context, s config.Settings, idx *index.Index) (*index.QdrantStore, error) {
	dims := embedder.DefaultDimensions(embedder.Backend())
	if idx != nil && idx.Dimension() > 0 {
		dims = idx.Dimension()
	}
	store, err := index.NewQdrantStore(ctx, &index.QdrantConfig{
		Host:       s.Qdrant.Host,
		Port:       s.Qdrant.Port,
		Collection: s.Qdrant.Collection,
		VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
		APIKey:     s.Qdrant.APIKey,
		UseTLS:     s.Qdrant.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", s.Qdrant.Host, s.Qdrant.Port, err)
	}
	return store, nil
}

// openAnalytics opens the SQLite analytics store. It returns nil when
// analytics are disabled or the database cannot be opened.
func openAnalytics(s config.Settings, log *slog.Logger) *analytics.SQLiteStore {
	if s.AnalyticsDB == "" {
		log.Info("analytics: disabled via BOWEN_ANALYTICS_DB=disabled")
		return nil
	}
	store, err := analytics.Open(s.AnalyticsDB)
	if err != nil {
		log.Warn("analytics: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("analytics: store opened", slog.String("path", s.AnalyticsDB))
	return store
}

// newPipeline builds the ingestion pipeline from settings.
func newPipeline(s config.Settings) (*ingestion.Pipeline, error) {
	ch := chunker.New(chunker.Config{
		MaxTokens:     s.ChunkMaxTokens,
		MinTokens:     s.ChunkMinTokens,
		OverlapTokens: s.ChunkOverlapTokens,
	})
	return ingestion.NewPipeline(acts.Default(), ch, &ingestion.Config{Workers: s.ChunkWorkers})
}

// buildPingers assembles the readiness probes for every dependency that was
// configured at startup.
func buildPingers(chatModel model.BaseChatModel, providerCfg *provider.Config, stack *retrievalStack, store *analytics.SQLiteStore) []server.Pinger {
	var pingers []server.Pinger
	if chatModel != nil && providerCfg != nil {
		pingers = append(pingers, server.NewLLMPinger(chatModel, provider.NewHealthCheck(providerCfg), string(providerCfg.Backend)))
	}
	if o, ok := stack.emb.(*embedder.OllamaEmbedder); ok {
		pingers = append(pingers, server.NewDependencyPinger("embedder:ollama", o))
	}
	if stack.qdrant != nil {
		pingers = append(pingers, server.NewDependencyPinger("qdrant", stack.qdrant))
	}
	if store != nil {
		pingers = append(pingers, store)
	}
	return pingers
}
