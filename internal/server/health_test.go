package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ---------------------------------------------------------------------------
// Fake Pinger for readiness tests
// ---------------------------------------------------------------------------

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

// newReadyTestServer builds a *Server with the given pingers wired in.
func newReadyTestServer(pingers ...Pinger) *Server {
	s := newTestServer(&fakeService{})
	s.pingers = pingers
	return s
}

// ---------------------------------------------------------------------------
// GET /api/ready
// ---------------------------------------------------------------------------

// TestHandleReady_NoPingers verifies that /api/ready returns 200 with
// ready:true and an empty checks array when no pingers are registered.
func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready {
		t.Errorf("expected ready:true with no pingers")
	}
	if len(resp.Checks) != 0 {
		t.Errorf("expected 0 checks, got %d", len(resp.Checks))
	}
}

// TestHandleReady_AllHealthy verifies that /api/ready returns 200 with
// ready:true when all pingers succeed.
func TestHandleReady_AllHealthy(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "llm:ollama", err: nil},
		&fakePinger{name: "qdrant", err: nil},
		&fakePinger{name: "analytics", err: nil},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready {
		t.Errorf("expected ready:true")
	}
	if len(resp.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(resp.Checks))
	}
	for _, c := range resp.Checks {
		if !c.OK {
			t.Errorf("check %q: expected ok:true", c.Name)
		}
		if c.Error != "" {
			t.Errorf("check %q: expected no error, got %q", c.Name, c.Error)
		}
	}
}

// TestHandleReady_OneFailing verifies that /api/ready returns 503 with
// ready:false when one pinger fails, and the failing check has ok:false
// with a non-empty error field.
func TestHandleReady_OneFailing(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "llm", err: nil},
		&fakePinger{name: "qdrant", err: errors.New("connection refused")},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready {
		t.Errorf("expected ready:false")
	}

	var qdrantCheck *readyCheck
	for i := range resp.Checks {
		if resp.Checks[i].Name == "qdrant" {
			qdrantCheck = &resp.Checks[i]
		}
	}
	if qdrantCheck == nil {
		t.Fatal("qdrant check missing from response")
	}
	if qdrantCheck.OK {
		t.Errorf("qdrant check: expected ok:false")
	}
	if qdrantCheck.Error == "" {
		t.Errorf("qdrant check: expected non-empty error")
	}
}

// TestHandleReady_AllFailing verifies that /api/ready returns 503 with
// ready:false and all checks showing ok:false when every pinger fails.
func TestHandleReady_AllFailing(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "llm", err: errors.New("timeout")},
		&fakePinger{name: "qdrant", err: errors.New("connection refused")},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready {
		t.Errorf("expected ready:false")
	}
	for _, c := range resp.Checks {
		if c.OK {
			t.Errorf("check %q: expected ok:false", c.Name)
		}
	}
}

// TestHandleReady_ContentType verifies the response always has Content-Type
// application/json regardless of probe outcome.
func TestHandleReady_ContentType(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(&fakePinger{name: "llm", err: errors.New("down")})
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
}

// TestHandleReady_ProbeHasDeadline verifies each probe gets its own bounded
// context rather than the bare request context.
func TestHandleReady_ProbeHasDeadline(t *testing.T) {
	t.Parallel()

	var sawDeadline bool
	s := newReadyTestServer(&funcPinger{name: "slow", fn: func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}})
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if !sawDeadline {
		t.Error("probe context has no deadline")
	}
}

// TestHandleReady_ProbesRunConcurrently verifies a slow dependency does not
// delay the others: every probe must be in flight before any returns.
func TestHandleReady_ProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	const n = 3
	started := make(chan struct{}, n)
	release := make(chan struct{})
	wait := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s := newReadyTestServer(
		&funcPinger{name: "llm:ollama", fn: wait},
		&funcPinger{name: "qdrant", fn: wait},
		&funcPinger{name: "analytics", fn: wait},
	)

	go func() {
		for range n {
			<-started
		}
		close(release)
	}()

	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"llm:ollama", "qdrant", "analytics"}
	for i, c := range resp.Checks {
		if c.Name != want[i] || !c.OK {
			t.Errorf("check %d = %+v, want %s ok", i, c, want[i])
		}
	}
}

// TestDependencyPinger verifies the adapter labels and wraps dependency
// probe errors.
func TestDependencyPinger(t *testing.T) {
	t.Parallel()

	down := NewDependencyPinger("embedder:ollama", &funcPinger{fn: func(context.Context) error {
		return errors.New("connection refused")
	}})
	if down.Name() != "embedder:ollama" {
		t.Errorf("Name() = %q", down.Name())
	}
	if err := down.Ping(context.Background()); err == nil {
		t.Error("expected error from failing dependency")
	}

	up := NewDependencyPinger("qdrant", &funcPinger{fn: func(context.Context) error { return nil }})
	if err := up.Ping(context.Background()); err != nil {
		t.Errorf("healthy dependency: %v", err)
	}
}

// TestLLMPinger verifies the health check is preferred over Generate.
func TestLLMPinger(t *testing.T) {
	t.Parallel()

	hc := &fakeHealthCheck{err: fmt.Errorf("401")}
	p := NewLLMPinger(nil, hc, "openai")
	if p.Name() != "llm:openai" {
		t.Errorf("Name() = %q", p.Name())
	}
	if err := p.Ping(context.Background()); err == nil || hc.calls != 1 {
		t.Errorf("Ping() = %v after %d health checks", err, hc.calls)
	}
	if err := NewLLMPinger(nil, nil, "ark").Ping(context.Background()); err == nil {
		t.Error("expected error with neither health check nor model")
	}
}

// funcPinger adapts a function to the Pinger and pingable interfaces.
type funcPinger struct {
	name string
	fn   func(context.Context) error
}

func (f *funcPinger) Name() string                   { return f.name }
func (f *funcPinger) Ping(ctx context.Context) error { return f.fn(ctx) }

type fakeHealthCheck struct {
	err   error
	calls int
}

func (f *fakeHealthCheck) HealthCheck(context.Context) error {
	f.calls++
	return f.err
}
