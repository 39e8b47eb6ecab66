// Package server implements the HTTP API that exposes Bowen's chat and
// search over NZ legislation. The server is started by the `bowen serve`
// CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joedaviesio/magna/internal/logging"
)

// Defaults applied by New.
const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8000
	DefaultChatTimeout = 2 * time.Minute
)

// apiPrefix is the versioned mount point. Every API route is also served
// unversioned at the root.
const apiPrefix = "/api/v1"

// New constructs a Server from the provided service and config.
func New(svc service, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: service must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.ChatTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Metrics == nil {
		reg := prometheus.NewRegistry()
		cfg.Metrics = NewMetrics(reg)
		cfg.MetricsGatherer = reg
	}
	if cfg.MetricsGatherer == nil {
		return nil, fmt.Errorf("server: MetricsGatherer is required when Metrics is set")
	}

	s := &Server{
		svc:     svc,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: cfg.Metrics,
	}
	s.metrics.SetChunksLoaded(svc.Status().Chunks)
	s.handler = s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the chi router. Middleware order: panic recovery, request
// ID, request logging, CORS, then per-route metrics.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(cors(s.cfg.CORSOrigins))
	r.Use(s.metrics.instrument)

	r.Get("/", s.handleRoot)
	r.Get("/api/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	api := func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/chat", s.handleChat)
		r.Get("/search", s.handleSearch)
		r.Get("/acts", s.handleActs)
	}
	api(r)
	r.Route(apiPrefix, func(r chi.Router) {
		api(r)
		r.Get("/version", s.handleVersion)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, &APIError{Status: http.StatusNotFound, Message: "Not found", Code: "NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, &APIError{Status: http.StatusMethodNotAllowed, Message: "Method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})
	return r
}

// ServeHTTP makes the Server usable by httptest and as a plain handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening",
			logging.Event(logging.EventStartup),
			slog.String("addr", "http://"+s.httpServer.Addr),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down", logging.Event(logging.EventShutdown))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
