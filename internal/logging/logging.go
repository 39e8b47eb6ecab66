// Package logging builds the process-wide [log/slog] logger and carries it
// through request contexts.
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Event names attached to log records under the "event" key. They let log
// pipelines filter the chat lifecycle without parsing messages.
const (
	EventStartup          = "startup"
	EventShutdown         = "shutdown"
	EventChatRequest      = "chat_request"
	EventChatResponse     = "chat_response"
	EventSearch           = "search"
	EventAnalyticsSuccess = "analytics_success"
	EventAnalyticsFailure = "analytics_failure"
	EventGenerationError  = "generation_error"
	EventEmbeddingError   = "embedding_error"
)

// sessionPrefixLen is how much of a session ID may appear in logs.
const sessionPrefixLen = 8

type contextKey struct{}

// New constructs a logger writing to stderr, configured from LOG_LEVEL and
// LOG_FORMAT.
func New() *slog.Logger {
	return NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// NewWithWriter constructs a logger writing to w. An empty level means info
// and any format other than "text" means JSON.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record. Used by tests and by
// components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or [slog.Default].
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Event returns the attribute tagging a record with one of the Event* names.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// SessionID returns the session attribute truncated to its first eight
// characters. Full session IDs never reach the logs.
func SessionID(id string) slog.Attr {
	if len(id) > sessionPrefixLen {
		id = id[:sessionPrefixLen]
	}
	return slog.String("session_id", id)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
