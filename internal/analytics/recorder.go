package analytics

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/joedaviesio/magna/internal/logging"
)

// Operation names used for failure counting.
const (
	OpChatMessage    = "chat_message"
	OpAnalyticsEvent = "analytics_event"
	OpTopicStats     = "topic_stats"
)

// EventChat is the analytics event type recorded for every answered chat.
const EventChat = "chat"

// Chat is everything recorded about one answered chat request.
type Chat struct {
	SessionID      string
	Query          string
	Response       string
	DetectedAct    string
	Sources        []SourceRef
	SourcesCount   int
	ResponseTimeMS int64
}

// Recorder writes analytics through a Sink without ever returning an error.
// Failures are logged and counted per operation. A Recorder with a nil sink
// is disabled: it logs a warning per write and counts nothing. It is safe
// for concurrent use.
type Recorder struct {
	sink      Sink
	log       *slog.Logger
	onFailure func(op string)

	mu       sync.Mutex
	failures map[string]int
}

// NewRecorder returns a Recorder over sink. onFailure, when non-nil, is
// called after each counted failure (for example to bump a metric).
func NewRecorder(sink Sink, log *slog.Logger, onFailure func(op string)) *Recorder {
	if log == nil {
		log = logging.Discard()
	}
	return &Recorder{sink: sink, log: log, onFailure: onFailure, failures: map[string]int{}}
}

// Ready reports whether a sink is configured.
func (r *Recorder) Ready() bool { return r != nil && r.sink != nil }

// RecordChat writes the user message, the assistant message with its
// citations, the chat event and, when an act was detected, its topic count.
func (r *Recorder) RecordChat(ctx context.Context, c Chat) {
	r.do(ctx, OpChatMessage, c.SessionID, func(s Sink) error {
		return s.LogMessage(ctx, c.SessionID, RoleUser, c.Query, nil)
	})
	sources := c.Sources
	if sources == nil {
		sources = []SourceRef{}
	}
	r.do(ctx, OpChatMessage, c.SessionID, func(s Sink) error {
		return s.LogMessage(ctx, c.SessionID, RoleAssistant, c.Response, sources)
	})
	r.do(ctx, OpAnalyticsEvent, c.SessionID, func(s Sink) error {
		return s.LogEvent(ctx, Event{
			Type:           EventChat,
			SessionID:      c.SessionID,
			Query:          c.Query,
			DetectedAct:    c.DetectedAct,
			SourcesCount:   c.SourcesCount,
			ResponseTimeMS: c.ResponseTimeMS,
		})
	})
	if c.DetectedAct != "" {
		r.do(ctx, OpTopicStats, "", func(s Sink) error {
			return s.UpsertTopic(ctx, c.DetectedAct)
		})
	}
}

func (r *Recorder) do(ctx context.Context, op, sessionID string, write func(Sink) error) {
	attrs := []any{logging.Event(logging.EventAnalyticsFailure), slog.String("operation", op)}
	if sessionID != "" {
		attrs = append(attrs, logging.SessionID(sessionID))
	}
	if r.sink == nil {
		r.log.WarnContext(ctx, "analytics not configured, skipping write", attrs...)
		return
	}
	if err := write(r.sink); err != nil {
		r.mu.Lock()
		r.failures[op]++
		r.mu.Unlock()
		if r.onFailure != nil {
			r.onFailure(op)
		}
		r.log.ErrorContext(ctx, "analytics write failed", append(attrs, slog.Any("error", err))...)
		return
	}
	ok := []any{logging.Event(logging.EventAnalyticsSuccess), slog.String("operation", op)}
	if sessionID != "" {
		ok = append(ok, logging.SessionID(sessionID))
	}
	r.log.DebugContext(ctx, "analytics write ok", ok...)
}

// Failures returns a copy of the per-operation failure counts.
func (r *Recorder) Failures() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.failures)
}

// HasFailures reports whether any write has failed.
func (r *Recorder) HasFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures) > 0
}
