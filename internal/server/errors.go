package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joedaviesio/magna/internal/assistant"
	"github.com/joedaviesio/magna/internal/logging"
)

// API error codes returned in the "code" field of error bodies.
const (
	CodeEmptyMessage        = "EMPTY_MESSAGE"
	CodeInvalidQuery        = "INVALID_QUERY"
	CodeInvalidLimit        = "INVALID_LIMIT"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeEmbeddingsNotLoaded = "EMBEDDINGS_NOT_LOADED"
	CodeModelNotLoaded      = "MODEL_NOT_LOADED"
	CodeLLMUnavailable      = "LLM_UNAVAILABLE"
	CodeSearchFailed        = "SEARCH_FAILED"
	CodeGenerationFailed    = "GENERATION_FAILED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// APIError is the structured error body returned by every handler.
type APIError struct {
	Status     int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code"`
	Detail     string `json:"detail,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

// toAPIError maps an assistant error onto the public error taxonomy.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, assistant.ErrEmptyMessage):
		return &APIError{
			Status:  http.StatusBadRequest,
			Message: "Message cannot be empty",
			Code:    CodeEmptyMessage,
			Detail:  "Please provide a non-empty message in the 'message' field",
		}
	case errors.Is(err, assistant.ErrInvalidQuery):
		return &APIError{Status: http.StatusBadRequest, Message: "Query parameter is required", Code: CodeInvalidQuery}
	case errors.Is(err, assistant.ErrIndexNotLoaded):
		return &APIError{
			Status:     http.StatusServiceUnavailable,
			Message:    "Legislation embeddings are not loaded",
			Code:       CodeEmbeddingsNotLoaded,
			Detail:     "The search index is still loading or failed to load",
			RetryAfter: 60,
		}
	case errors.Is(err, assistant.ErrEmbedderNotReady):
		return &APIError{
			Status:     http.StatusServiceUnavailable,
			Message:    "Embedding model is not loaded",
			Code:       CodeModelNotLoaded,
			RetryAfter: 60,
		}
	case errors.Is(err, assistant.ErrLLMUnavailable):
		return &APIError{
			Status:     http.StatusServiceUnavailable,
			Message:    "AI service unavailable",
			Code:       CodeLLMUnavailable,
			Detail:     "The language model is not configured",
			RetryAfter: 30,
		}
	case errors.Is(err, assistant.ErrSearchFailed):
		return &APIError{
			Status:     http.StatusServiceUnavailable,
			Message:    "Search service unavailable",
			Code:       CodeSearchFailed,
			RetryAfter: 30,
		}
	case errors.Is(err, assistant.ErrGenerationFailed):
		return &APIError{
			Status:  http.StatusInternalServerError,
			Message: "Failed to generate response",
			Code:    CodeGenerationFailed,
			Detail:  "The AI model encountered an error: " + cause(err).Error(),
		}
	default:
		return &APIError{Status: http.StatusInternalServerError, Message: "Internal server error", Code: CodeInternalError}
	}
}

// writeError renders err as an APIError body, setting Retry-After when the
// error is transient.
func writeError(w http.ResponseWriter, r *http.Request, err error) *APIError {
	apiErr := toAPIError(err)
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}
	if apiErr.Status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			slog.String("code", apiErr.Code),
			slog.Any("error", err),
		)
	}
	writeJSON(w, r, apiErr.Status, apiErr)
	return apiErr
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// cause returns the last error joined into a multi-%w wrap, which is the
// underlying failure behind an assistant sentinel.
func cause(err error) error {
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := u.Unwrap(); len(errs) > 0 {
			return errs[len(errs)-1]
		}
	}
	return err
}
