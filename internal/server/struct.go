package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/assistant"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 0.0.0.0).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed ChatTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds retrieval plus generation for one chat request.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// CORSOrigins lists the browser origins allowed to call the API. "*"
	// allows any origin.
	CORSOrigins []string
	// Metrics is the metric set shared with the retrieval and analytics
	// layers. If nil, a set is registered on a fresh registry.
	Metrics *Metrics
	// MetricsGatherer serves GET /metrics. It must gather the registry the
	// Metrics were registered on.
	MetricsGatherer prometheus.Gatherer
}

// service is the request orchestration the handlers call.
// *assistant.Service satisfies it.
type service interface {
	Chat(ctx context.Context, req assistant.ChatRequest) (*assistant.ChatResponse, error)
	Search(ctx context.Context, query string, limit int) (*assistant.SearchResponse, error)
	Status() assistant.Status
	Registry() *acts.Registry
}

// Server is the HTTP server that exposes the assistant.
type Server struct {
	// svc answers chat and search requests.
	svc service
	// cfg holds the resolved server configuration.
	cfg *Config
	// handler is the fully wrapped router.
	handler http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics is the Prometheus metric set for this server.
	metrics *Metrics
}

// rootResponse is the JSON body for GET /.
type rootResponse struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Status       string `json:"status"`
	ChunksLoaded int    `json:"chunks_loaded"`
}

// healthResponse is the JSON body for GET /health.
type healthResponse struct {
	Status            string         `json:"status"`
	EmbeddingsLoaded  bool           `json:"embeddings_loaded"`
	ModelLoaded       bool           `json:"model_loaded"`
	LLMReady          bool           `json:"llm_ready"`
	AnalyticsReady    bool           `json:"analytics_ready"`
	Chunks            int            `json:"chunks"`
	AnalyticsFailures map[string]int `json:"analytics_failures"`
	HasFailures       bool           `json:"has_failures"`
}

// actsResponse is the JSON body for GET /acts.
type actsResponse struct {
	Acts []acts.Summary `json:"acts"`
}

// versionResponse is the JSON body for GET /api/v1/version.
type versionResponse struct {
	APIVersion string   `json:"api_version"`
	AppVersion string   `json:"app_version"`
	Endpoints  []string `json:"endpoints"`
}
