package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/assemble"
	"github.com/joedaviesio/magna/internal/assistant"
	"github.com/joedaviesio/magna/internal/logging"
	"github.com/joedaviesio/magna/internal/version"
)

// ---------------------------------------------------------------------------
// Fake service
// ---------------------------------------------------------------------------

// fakeService implements the service interface with canned results.
type fakeService struct {
	chat    *assistant.ChatResponse
	chatErr error
	search  *assistant.SearchResponse
	srchErr error
	status  assistant.Status

	mu        sync.Mutex
	lastChat  assistant.ChatRequest
	lastQuery string
	lastLimit int
}

func (f *fakeService) Chat(_ context.Context, req assistant.ChatRequest) (*assistant.ChatResponse, error) {
	f.mu.Lock()
	f.lastChat = req
	f.mu.Unlock()
	return f.chat, f.chatErr
}

func (f *fakeService) Search(_ context.Context, q string, limit int) (*assistant.SearchResponse, error) {
	f.mu.Lock()
	f.lastQuery, f.lastLimit = q, limit
	f.mu.Unlock()
	return f.search, f.srchErr
}

func (f *fakeService) Status() assistant.Status  { return f.status }
func (f *fakeService) Registry() *acts.Registry { return acts.Default() }

// newTestServer builds a Server around svc with a discarded logger and an
// isolated metrics registry.
func newTestServer(svc service) *Server {
	s, err := New(svc, &Config{Logger: logging.Discard(), CORSOrigins: []string{"http://localhost:3000"}})
	if err != nil {
		panic(err)
	}
	return s
}

// do sends a request through the full router.
func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// ---------------------------------------------------------------------------
// POST /chat
// ---------------------------------------------------------------------------

func TestHandleChat_OK(t *testing.T) {
	t.Parallel()

	svc := &fakeService{chat: &assistant.ChatResponse{
		Response:   "Four weeks' rent.",
		Sources:    []assemble.Source{{ActTitle: "Residential Tenancies Act 1986", SectionNumber: "18"}},
		Disclaimer: "not legal advice",
		SessionID:  "s-1",
	}}
	s := newTestServer(svc)

	for _, path := range []string{"/chat", "/api/v1/chat"} {
		w := do(t, s, http.MethodPost, path, `{"message":"What is the max bond?","session_id":"s-1"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d, body %s", path, w.Code, w.Body.String())
		}
		got := decode[map[string]any](t, w)
		if got["response"] != "Four weeks' rent." || got["session_id"] != "s-1" || got["disclaimer"] != "not legal advice" {
			t.Errorf("%s: body = %v", path, got)
		}
		if _, leaked := got["DetectedAct"]; leaked {
			t.Errorf("%s: internal fields serialised: %v", path, got)
		}
	}
	if svc.lastChat.Message != "What is the max bond?" || svc.lastChat.SessionID != "s-1" {
		t.Errorf("request not passed through: %+v", svc.lastChat)
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{})
	w := do(t, s, http.MethodPost, "/chat", "not-json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decode[APIError](t, w); got.Code != CodeInvalidRequest {
		t.Errorf("code = %q, want %q", got.Code, CodeInvalidRequest)
	}
}

func TestHandleChat_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	upstream := errors.New("connection reset")
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"empty", assistant.ErrEmptyMessage, 400, CodeEmptyMessage, ""},
		{"no index", assistant.ErrIndexNotLoaded, 503, CodeEmbeddingsNotLoaded, "60"},
		{"no embedder", assistant.ErrEmbedderNotReady, 503, CodeModelNotLoaded, "60"},
		{"no llm", assistant.ErrLLMUnavailable, 503, CodeLLMUnavailable, "30"},
		{"search", fmt.Errorf("%w: %w", assistant.ErrSearchFailed, upstream), 503, CodeSearchFailed, "30"},
		{"generation", fmt.Errorf("%w: %w", assistant.ErrGenerationFailed, upstream), 500, CodeGenerationFailed, ""},
		{"unknown", errors.New("boom"), 500, CodeInternalError, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(&fakeService{chatErr: tc.err})
			w := do(t, s, http.MethodPost, "/chat", `{"message":"hi"}`)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if got := w.Header().Get("Retry-After"); got != tc.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tc.retryAfter)
			}
			body := decode[APIError](t, w)
			if body.Code != tc.code || body.Message == "" {
				t.Errorf("body = %+v, want code %s", body, tc.code)
			}
			if tc.retryAfter != "" && fmt.Sprint(body.RetryAfter) != tc.retryAfter {
				t.Errorf("retry_after = %d, want %s", body.RetryAfter, tc.retryAfter)
			}
		})
	}
}

func TestHandleChat_MessageTexts(t *testing.T) {
	t.Parallel()

	empty := toAPIError(assistant.ErrEmptyMessage)
	want := APIError{
		Status:  400,
		Message: "Message cannot be empty",
		Code:    CodeEmptyMessage,
		Detail:  "Please provide a non-empty message in the 'message' field",
	}
	if diff := cmp.Diff(want, *empty); diff != "" {
		t.Errorf("empty message error (-want +got):\n%s", diff)
	}

	gen := toAPIError(fmt.Errorf("%w: %w", assistant.ErrGenerationFailed, errors.New("model overloaded")))
	if gen.Detail != "The AI model encountered an error: model overloaded" {
		t.Errorf("generation detail = %q", gen.Detail)
	}
}

// ---------------------------------------------------------------------------
// GET /search
// ---------------------------------------------------------------------------

func TestHandleSearch(t *testing.T) {
	t.Parallel()

	svc := &fakeService{search: &assistant.SearchResponse{
		Query:   "bond",
		Results: []assistant.SearchResult{{ActTitle: "Residential Tenancies Act 1986", SectionNumber: "18", Score: 0.8}},
	}}
	s := newTestServer(svc)

	w := do(t, s, http.MethodGet, "/api/v1/search?q=bond&limit=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	got := decode[assistant.SearchResponse](t, w)
	if diff := cmp.Diff(*svc.search, got); diff != "" {
		t.Errorf("body (-want +got):\n%s", diff)
	}
	if svc.lastQuery != "bond" || svc.lastLimit != 3 {
		t.Errorf("passed q=%q limit=%d", svc.lastQuery, svc.lastLimit)
	}

	do(t, s, http.MethodGet, "/search?q=bond", "")
	if svc.lastLimit != 0 {
		t.Errorf("missing limit should defer to the service default, got %d", svc.lastLimit)
	}
}

func TestHandleSearch_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
		err    error
		status int
		code   string
	}{
		{"bad limit", "/search?q=x&limit=ten", nil, 400, CodeInvalidLimit},
		{"zero limit", "/search?q=x&limit=0", nil, 400, CodeInvalidLimit},
		{"missing q", "/search", assistant.ErrInvalidQuery, 400, CodeInvalidQuery},
		{"not loaded", "/search?q=x", assistant.ErrIndexNotLoaded, 503, CodeEmbeddingsNotLoaded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(&fakeService{srchErr: tc.err})
			w := do(t, s, http.MethodGet, tc.target, "")
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if got := decode[APIError](t, w); got.Code != tc.code {
				t.Errorf("code = %q, want %q", got.Code, tc.code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// GET /, /health, /acts, /api/v1/version
// ---------------------------------------------------------------------------

func TestHandleRoot(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{status: assistant.Status{Chunks: 1234}})
	got := decode[rootResponse](t, do(t, s, http.MethodGet, "/", ""))
	want := rootResponse{Name: appName, Version: version.Version, Status: "running", ChunksLoaded: 1234}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("root (-want +got):\n%s", diff)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status assistant.Status
		want   healthResponse
	}{
		{
			name:   "nothing loaded",
			status: assistant.Status{},
			want:   healthResponse{Status: "healthy", AnalyticsFailures: map[string]int{}},
		},
		{
			name: "loaded with failures",
			status: assistant.Status{
				IndexLoaded: true, EmbedderReady: true, LLMReady: true, AnalyticsReady: true,
				Chunks: 9, AnalyticsFailures: map[string]int{"topic_stats": 2},
			},
			want: healthResponse{
				Status: "healthy", EmbeddingsLoaded: true, ModelLoaded: true, LLMReady: true,
				AnalyticsReady: true, Chunks: 9,
				AnalyticsFailures: map[string]int{"topic_stats": 2}, HasFailures: true,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(&fakeService{status: tc.status})
			for _, path := range []string{"/health", "/api/v1/health"} {
				w := do(t, s, http.MethodGet, path, "")
				if w.Code != http.StatusOK {
					t.Fatalf("%s: status %d", path, w.Code)
				}
				if ct := w.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type: expected application/json, got %q", ct)
				}
				if diff := cmp.Diff(tc.want, decode[healthResponse](t, w)); diff != "" {
					t.Errorf("%s (-want +got):\n%s", path, diff)
				}
			}
		})
	}
}

func TestHandleActs(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{})
	got := decode[actsResponse](t, do(t, s, http.MethodGet, "/acts", ""))
	if diff := cmp.Diff(acts.Default().List(), got.Acts); diff != "" {
		t.Errorf("acts (-want +got):\n%s", diff)
	}
}

func TestHandleVersion(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{})
	got := decode[versionResponse](t, do(t, s, http.MethodGet, "/api/v1/version", ""))
	if got.APIVersion != "1.0.0" || got.AppVersion != version.Version || len(got.Endpoints) != 5 {
		t.Errorf("version = %+v", got)
	}
	if w := do(t, s, http.MethodGet, "/version", ""); w.Code != http.StatusNotFound {
		t.Errorf("/version should only be versioned, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Routing and middleware
// ---------------------------------------------------------------------------

func TestRouter_NotFoundAndMethod(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{})
	if w := do(t, s, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown path: %d", w.Code)
	}
	w := do(t, s, http.MethodGet, "/chat", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /chat: %d", w.Code)
	}
	if got := decode[APIError](t, w); got.Code != "METHOD_NOT_ALLOWED" {
		t.Errorf("code = %q", got.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeService{})

	pre := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	pre.Header.Set("Origin", "http://localhost:3000")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	pre.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, pre)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", w.Code)
	}
	h := w.Header()
	if h.Get("Access-Control-Allow-Origin") != "http://localhost:3000" ||
		h.Get("Access-Control-Allow-Credentials") != "true" ||
		h.Get("Access-Control-Allow-Methods") != "POST" ||
		h.Get("Access-Control-Allow-Headers") != "content-type" {
		t.Errorf("preflight headers = %v", h)
	}

	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, other)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin %q", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("disallowed origin request should still be served, got %d", w.Code)
	}
}

func TestCORS_Wildcard(t *testing.T) {
	t.Parallel()

	h := cors([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin = %q, want echoed origin", got)
	}
}

func TestRequestLogger_PutsLoggerInContext(t *testing.T) {
	t.Parallel()

	var sawLogger bool
	h := requestLogger(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = logging.FromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !sawLogger || w.Code != http.StatusTeapot {
		t.Errorf("sawLogger=%v code=%d", sawLogger, w.Code)
	}
}

func TestNewRequestID(t *testing.T) {
	t.Parallel()

	a, b := newRequestID(), newRequestID()
	if len(a) != 16 || a == b {
		t.Errorf("newRequestID() = %q, %q", a, b)
	}
}

func TestNew_RequiresService(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error for nil service")
	}
	s, err := New(&fakeService{}, &Config{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if s.httpServer.Addr != "0.0.0.0:8000" {
		t.Errorf("Addr = %q", s.httpServer.Addr)
	}
	if s.httpServer.WriteTimeout <= s.cfg.ChatTimeout {
		t.Errorf("WriteTimeout %v must exceed ChatTimeout %v", s.httpServer.WriteTimeout, s.cfg.ChatTimeout)
	}
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	s, err := New(&fakeService{}, &Config{Host: "127.0.0.1", Port: 18765, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
}
