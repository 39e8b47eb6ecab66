// Package assistant is Bowen's request orchestration: it validates a chat or
// search request, detects the act it is about, retrieves and ranks
// legislation, asks the generator for an answer and records analytics.
//
// A Service is built once at startup from immutable parts (registry, index,
// rule table, model clients) and shared by every request handler.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/analytics"
	"github.com/joedaviesio/magna/internal/assemble"
	"github.com/joedaviesio/magna/internal/generator"
	"github.com/joedaviesio/magna/internal/logging"
	"github.com/joedaviesio/magna/internal/retrieval"
)

// Request errors. The HTTP layer maps each to its API error code.
var (
	ErrEmptyMessage     = errors.New("assistant: message cannot be empty")
	ErrInvalidQuery     = errors.New("assistant: query parameter is required")
	ErrIndexNotLoaded   = errors.New("assistant: embeddings not loaded")
	ErrEmbedderNotReady = errors.New("assistant: embedding model not loaded")
	ErrLLMUnavailable   = errors.New("assistant: AI service unavailable")
	ErrSearchFailed     = errors.New("assistant: search failed")
	ErrGenerationFailed = errors.New("assistant: generation failed")
)

// Defaults for the retrieval knobs.
const (
	DefaultChatTopK    = 10
	DefaultSearchLimit = 10
	DefaultMaxSearch   = 20
	DefaultMaxSources  = assemble.DefaultSourceLimit
)

// Searcher retrieves ranked legislation for a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, actFilter string) ([]retrieval.Result, error)
	Len() int
}

// Answerer generates an answer from a question and its excerpts.
type Answerer interface {
	Generate(ctx context.Context, query string, results []retrieval.Result) (generator.Answer, error)
}

// Config holds the dependencies required to construct a Service. Nil
// dependencies are allowed; the operations that need them fail with the
// matching sentinel error.
type Config struct {
	Registry *acts.Registry
	Searcher Searcher
	Answerer Answerer
	Recorder *analytics.Recorder

	// EmbedderReady reports whether the query embedding backend was
	// constructed. The Searcher is useless without it.
	EmbedderReady bool

	ChatTopK    int
	SearchLimit int
	MaxSearch   int
	MaxSources  int

	// Now and NewSessionID are overridable for tests.
	Now          func() time.Time
	NewSessionID func() string
}

// Service answers chat and search requests. It is safe for concurrent use.
type Service struct {
	registry      *acts.Registry
	searcher      Searcher
	answerer      Answerer
	recorder      *analytics.Recorder
	embedderReady bool

	chatTopK    int
	searchLimit int
	maxSearch   int
	maxSources  int

	now          func() time.Time
	newSessionID func() string
}

// ChatRequest is a chat message and its optional session.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is an answer with its citations.
type ChatResponse struct {
	Response   string            `json:"response"`
	Sources    []assemble.Source `json:"sources"`
	Disclaimer string            `json:"disclaimer"`
	SessionID  string            `json:"session_id"`

	// DetectedAct is the act the question was filtered to, if any.
	DetectedAct string `json:"-"`
	// SourcesCount counts every distinct source before the citation cap.
	SourcesCount int `json:"-"`
}

// SearchResult is one hit returned by the search endpoint.
type SearchResult struct {
	ActTitle       string  `json:"act_title"`
	SectionNumber  string  `json:"section_number"`
	SectionHeading string  `json:"section_heading"`
	Text           string  `json:"text"`
	Score          float64 `json:"score"`
	URL            string  `json:"url"`
}

// SearchResponse echoes the query with its hits.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// Status is the readiness snapshot reported by the health endpoint.
type Status struct {
	IndexLoaded       bool
	EmbedderReady     bool
	LLMReady          bool
	AnalyticsReady    bool
	Chunks            int
	AnalyticsFailures map[string]int
}

// New constructs a Service from the provided Config.
func New(cfg *Config) (*Service, error) {
	if cfg == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("assistant: Registry must not be nil")
	}
	s := &Service{
		registry:      cfg.Registry,
		searcher:      cfg.Searcher,
		answerer:      cfg.Answerer,
		recorder:      cfg.Recorder,
		embedderReady: cfg.EmbedderReady,
		chatTopK:      orDefault(cfg.ChatTopK, DefaultChatTopK),
		searchLimit:   orDefault(cfg.SearchLimit, DefaultSearchLimit),
		maxSearch:     orDefault(cfg.MaxSearch, DefaultMaxSearch),
		maxSources:    orDefault(cfg.MaxSources, DefaultMaxSources),
		now:           cfg.Now,
		newSessionID:  cfg.NewSessionID,
	}
	if s.recorder == nil {
		s.recorder = analytics.NewRecorder(nil, nil, nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newSessionID == nil {
		s.newSessionID = func() string { return uuid.NewString() }
	}
	return s, nil
}

// Registry returns the act registry.
func (s *Service) Registry() *acts.Registry { return s.registry }

// Status reports which dependencies are loaded.
func (s *Service) Status() Status {
	st := Status{
		IndexLoaded:       s.searcher != nil && s.searcher.Len() > 0,
		EmbedderReady:     s.embedderReady,
		LLMReady:          s.answerer != nil,
		AnalyticsReady:    s.recorder.Ready(),
		AnalyticsFailures: s.recorder.Failures(),
	}
	if s.searcher != nil {
		st.Chunks = s.searcher.Len()
	}
	return st
}

// Chat answers one message. The message is trimmed; the session ID is kept
// when supplied and generated otherwise.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := s.now()
	query := strings.TrimSpace(req.Message)
	if query == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.checkRetrieval(); err != nil {
		return nil, err
	}
	if s.answerer == nil {
		return nil, ErrLLMUnavailable
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = s.newSessionID()
	}
	log := logging.FromContext(ctx)

	detected, _ := s.registry.DetectAct(query)
	log.InfoContext(ctx, "chat request",
		logging.Event(logging.EventChatRequest),
		logging.SessionID(sessionID),
		slog.Int("query_length", len(query)),
		slog.String("detected_act", detected),
	)

	results, err := s.searcher.Search(ctx, query, s.chatTopK, detected)
	if err != nil {
		log.ErrorContext(ctx, "chat retrieval failed",
			logging.Event(logging.EventEmbeddingError),
			logging.SessionID(sessionID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}

	answer, err := s.answerer.Generate(ctx, query, results)
	if err != nil {
		log.ErrorContext(ctx, "answer generation failed",
			logging.Event(logging.EventGenerationError),
			logging.SessionID(sessionID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	all := assemble.Sources(results, 0)
	cited := all
	if len(cited) > s.maxSources {
		cited = cited[:s.maxSources]
	}
	elapsed := s.now().Sub(start).Milliseconds()

	refs := make([]analytics.SourceRef, 0, len(cited))
	for _, src := range cited {
		refs = append(refs, analytics.SourceRef{Act: src.ActTitle, Section: src.SectionNumber})
	}
	s.recorder.RecordChat(ctx, analytics.Chat{
		SessionID:      sessionID,
		Query:          query,
		Response:       answer.Text,
		DetectedAct:    detected,
		Sources:        refs,
		SourcesCount:   len(all),
		ResponseTimeMS: elapsed,
	})

	log.InfoContext(ctx, "chat response",
		logging.Event(logging.EventChatResponse),
		logging.SessionID(sessionID),
		slog.Int64("response_time_ms", elapsed),
		slog.Int("sources_count", len(all)),
		slog.Int("excerpts_used", answer.UsedResults),
		slog.Bool("success", true),
	)

	return &ChatResponse{
		Response:     answer.Text,
		Sources:      cited,
		Disclaimer:   generator.Disclaimer,
		SessionID:    sessionID,
		DetectedAct:  detected,
		SourcesCount: len(all),
	}, nil
}

// Search runs retrieval without an act filter or generation. limit <= 0
// selects the default; larger limits are capped.
func (s *Service) Search(ctx context.Context, query string, limit int) (*SearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}
	if s.searcher == nil || s.searcher.Len() == 0 || !s.embedderReady {
		return nil, ErrIndexNotLoaded
	}
	if limit <= 0 {
		limit = s.searchLimit
	}
	limit = min(limit, s.maxSearch)

	results, err := s.searcher.Search(ctx, query, limit, "")
	if err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "search failed",
			logging.Event(logging.EventEmbeddingError),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}

	out := &SearchResponse{Query: query, Results: make([]SearchResult, 0, len(results))}
	for _, r := range results {
		url := r.SectionURL
		if url == "" {
			url = r.ActURL
		}
		out.Results = append(out.Results, SearchResult{
			ActTitle:       r.ActTitle,
			SectionNumber:  r.SectionNumber,
			SectionHeading: r.SectionHeading,
			Text:           r.Text,
			Score:          r.Score,
			URL:            url,
		})
	}
	logging.FromContext(ctx).InfoContext(ctx, "search",
		logging.Event(logging.EventSearch),
		slog.Int("limit", limit),
		slog.Int("results", len(out.Results)),
	)
	return out, nil
}

func (s *Service) checkRetrieval() error {
	if s.searcher == nil || s.searcher.Len() == 0 {
		return ErrIndexNotLoaded
	}
	if !s.embedderReady {
		return ErrEmbedderNotReady
	}
	return nil
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
