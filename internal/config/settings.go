package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Settings are the application-level values resolved from the environment
// after [Load] has applied the file layers.
type Settings struct {
	Host        string
	Port        int
	CORSOrigins []string

	HTMLDir       string
	ParsedDir     string
	ChunksDir     string
	EmbeddingsDir string

	IndexBackend  string
	CandidatePool int
	Qdrant        QdrantSettings

	EmbeddingBatchSize int
	// EmbeddingRPS caps embedding requests per second; zero disables pacing.
	EmbeddingRPS float64

	TopK             int
	ChatTopK         int
	SearchLimit      int
	MaxSources       int
	MaxContextTokens int

	ChunkMaxTokens     int
	ChunkMinTokens     int
	ChunkOverlapTokens int
	ChunkWorkers       int

	// AnalyticsDB is the SQLite path; empty means analytics are disabled.
	AnalyticsDB string
}

// QdrantSettings locate the optional Qdrant mirror of the index.
type QdrantSettings struct {
	Host       string
	Port       int
	Collection string
	APIKey     string
	TLS        bool
}

// Defaults used when neither the environment nor a config file sets a value.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8000
	DefaultTopK             = 5
	DefaultChatTopK         = 10
	DefaultSearchLimit      = 20
	DefaultMaxSources       = 5
	DefaultMaxContextTokens = 6000
	DefaultChunkMaxTokens   = 512
	DefaultChunkMinTokens   = 50
	DefaultChunkOverlap     = 50
	DefaultCandidatePool    = 200
	DefaultEmbeddingBatch   = 32
	DefaultQdrantPort       = 6334
	DefaultQdrantCollection = "bowen"
)

// FromEnv resolves [Settings] from environment variables and defaults.
func FromEnv() Settings {
	dataDir := envOr("BOWEN_DATA_DIR", "data")

	s := Settings{
		Host:        envOr("BOWEN_HOST", DefaultHost),
		Port:        envInt("BOWEN_PORT", DefaultPort),
		CORSOrigins: splitList(envOr("BOWEN_CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),

		HTMLDir:       envOr("BOWEN_HTML_DIR", filepath.Join(dataDir, "raw", "html")),
		ParsedDir:     envOr("BOWEN_PARSED_DIR", filepath.Join(dataDir, "processed", "json")),
		ChunksDir:     envOr("BOWEN_CHUNKS_DIR", filepath.Join(dataDir, "processed", "chunks")),
		EmbeddingsDir: envOr("BOWEN_EMBEDDINGS_DIR", filepath.Join(dataDir, "embeddings")),

		IndexBackend:  strings.ToLower(envOr("INDEX_BACKEND", "memory")),
		CandidatePool: envInt("INDEX_CANDIDATE_POOL", DefaultCandidatePool),
		Qdrant: QdrantSettings{
			Host:       envOr("QDRANT_HOST", "localhost"),
			Port:       envInt("QDRANT_PORT", DefaultQdrantPort),
			Collection: envOr("QDRANT_COLLECTION", DefaultQdrantCollection),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			TLS:        strings.EqualFold(os.Getenv("QDRANT_TLS"), "true"),
		},

		EmbeddingBatchSize: envInt("EMBEDDING_BATCH_SIZE", DefaultEmbeddingBatch),
		EmbeddingRPS:       envFloat("EMBEDDING_RPS", 0),

		TopK:             envInt("BOWEN_TOP_K", DefaultTopK),
		ChatTopK:         envInt("BOWEN_CHAT_TOP_K", DefaultChatTopK),
		SearchLimit:      envInt("BOWEN_SEARCH_LIMIT", DefaultSearchLimit),
		MaxSources:       envInt("BOWEN_MAX_SOURCES", DefaultMaxSources),
		MaxContextTokens: envInt("BOWEN_MAX_CONTEXT_TOKENS", DefaultMaxContextTokens),

		ChunkMaxTokens:     envInt("CHUNK_MAX_TOKENS", DefaultChunkMaxTokens),
		ChunkMinTokens:     envInt("CHUNK_MIN_TOKENS", DefaultChunkMinTokens),
		ChunkOverlapTokens: envInt("CHUNK_OVERLAP_TOKENS", DefaultChunkOverlap),
		ChunkWorkers:       envInt("CHUNK_WORKERS", 0),

		AnalyticsDB: envOr("BOWEN_ANALYTICS_DB", filepath.Join(dataDir, "analytics.db")),
	}
	if strings.EqualFold(s.AnalyticsDB, "disabled") {
		s.AnalyticsDB = ""
	}
	return s
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envInt returns fallback when the variable is unset, unparseable, or not
// positive.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

// envFloat returns fallback when the variable is unset, unparseable, or
// negative.
func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			return f
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
