package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/joedaviesio/magna/internal/assistant"
	"github.com/joedaviesio/magna/internal/version"
)

// appName is reported by GET /.
const appName = "Bowen - NZ Legal Assistant"

// maxChatBody caps POST /chat request bodies.
const maxChatBody = 64 << 10

// endpoints lists the versioned API surface reported by GET /api/v1/version.
var endpoints = []string{
	apiPrefix + "/health",
	apiPrefix + "/chat",
	apiPrefix + "/search",
	apiPrefix + "/acts",
	apiPrefix + "/version",
}

// handleRoot handles GET / with a service banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, rootResponse{
		Name:         appName,
		Version:      version.Version,
		Status:       "running",
		ChunksLoaded: s.svc.Status().Chunks,
	})
}

// handleHealth handles GET /health. It always returns 200 and reports what
// was loaded at startup along with analytics failure counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()
	failures := st.AnalyticsFailures
	if failures == nil {
		failures = map[string]int{}
	}
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:            "healthy",
		EmbeddingsLoaded:  st.IndexLoaded,
		ModelLoaded:       st.EmbedderReady,
		LLMReady:          st.LLMReady,
		AnalyticsReady:    st.AnalyticsReady,
		Chunks:            st.Chunks,
		AnalyticsFailures: failures,
		HasFailures:       len(failures) > 0,
	})
}

// handleChat handles POST /chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, r, &APIError{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
			Code:    CodeInvalidRequest,
			Detail:  err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.svc.Chat(ctx, req)
	outcome := outcomeOK
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = outcomeTimeout
	case err != nil:
		outcome = outcomeError
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.sourcesPerAnswer.Observe(float64(len(resp.Sources)))
	writeJSON(w, r, http.StatusOK, resp)
}

// handleSearch handles GET /search?q=&limit=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, &APIError{
				Status:  http.StatusBadRequest,
				Message: "Limit must be a positive integer",
				Code:    CodeInvalidLimit,
			})
			return
		}
		limit = n
	}

	resp, err := s.svc.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleActs handles GET /acts.
func (s *Server) handleActs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, actsResponse{Acts: s.svc.Registry().List()})
}

// handleVersion handles GET /api/v1/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, versionResponse{
		APIVersion: version.APIVersion,
		AppVersion: version.Version,
		Endpoints:  endpoints,
	})
}
