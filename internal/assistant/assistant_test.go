package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/analytics"
	"github.com/joedaviesio/magna/internal/generator"
	"github.com/joedaviesio/magna/internal/retrieval"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type searchCall struct {
	query  string
	topK   int
	filter string
}

type fakeSearcher struct {
	n       int
	results []retrieval.Result
	err     error

	mu    sync.Mutex
	calls []searchCall
}

func (f *fakeSearcher) Search(_ context.Context, q string, topK int, filter string) ([]retrieval.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{q, topK, filter})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.results) {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func (f *fakeSearcher) Len() int { return f.n }

type fakeAnswerer struct {
	text  string
	err   error
	query string
	got   int
}

func (f *fakeAnswerer) Generate(_ context.Context, q string, results []retrieval.Result) (generator.Answer, error) {
	f.query = q
	f.got = len(results)
	if f.err != nil {
		return generator.Answer{}, f.err
	}
	return generator.Answer{Text: f.text, UsedResults: len(results)}, nil
}

type fakeSink struct {
	mu       sync.Mutex
	messages []string
	sources  [][]analytics.SourceRef
	events   []analytics.Event
	topics   []string
	fail     error
}

func (s *fakeSink) LogMessage(_ context.Context, _ string, role analytics.Role, content string, sources []analytics.SourceRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, string(role)+":"+content)
	s.sources = append(s.sources, sources)
	return s.fail
}

func (s *fakeSink) LogEvent(_ context.Context, ev analytics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.fail
}

func (s *fakeSink) UpsertTopic(_ context.Context, act string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, act)
	return s.fail
}

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := t
		t = t.Add(step)
		return now
	}
}

func section(act, num string, score float64) retrieval.Result {
	return retrieval.Result{
		Text:          fmt.Sprintf("%s section %s text", act, num),
		ActTitle:      act,
		SectionNumber: num,
		SectionURL:    "https://legislation.govt.nz/" + num,
		ActURL:        "https://legislation.govt.nz/act",
		Score:         score,
	}
}

func newService(t *testing.T, s *fakeSearcher, a *fakeAnswerer, sink analytics.Sink) *Service {
	t.Helper()
	cfg := &Config{
		Registry:      acts.Default(),
		EmbedderReady: true,
		Recorder:      analytics.NewRecorder(sink, nil, nil),
		Now:           stepClock(120 * time.Millisecond),
		NewSessionID:  func() string { return "generated-session" },
	}
	if s != nil {
		cfg.Searcher = s
	}
	if a != nil {
		cfg.Answerer = a
	}
	svc, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestChat_FiltersToDetectedActAndRecords(t *testing.T) {
	t.Parallel()

	var results []retrieval.Result
	for i := 1; i <= 8; i++ {
		results = append(results, section("Residential Tenancies Act 1986", fmt.Sprint(i), 1-float64(i)/10))
	}
	results = append(results, section("Residential Tenancies Act 1986", "1", 0.05)) // duplicate citation

	s := &fakeSearcher{n: 100, results: results}
	a := &fakeAnswerer{text: "The bond is capped at four weeks' rent."}
	sink := &fakeSink{}
	svc := newService(t, s, a, sink)

	resp, err := svc.Chat(context.Background(), ChatRequest{Message: "  What is the maximum bond?  "})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if diff := cmp.Diff([]searchCall{{"What is the maximum bond?", DefaultChatTopK, "Residential Tenancies"}}, s.calls, cmp.AllowUnexported(searchCall{})); diff != "" {
		t.Errorf("search calls (-want +got):\n%s", diff)
	}
	if a.query != "What is the maximum bond?" || a.got != 9 {
		t.Errorf("answerer got query %q with %d results", a.query, a.got)
	}
	if resp.SessionID != "generated-session" {
		t.Errorf("SessionID = %q", resp.SessionID)
	}
	if len(resp.Sources) != DefaultMaxSources {
		t.Errorf("len(Sources) = %d, want %d", len(resp.Sources), DefaultMaxSources)
	}
	if resp.SourcesCount != 8 {
		t.Errorf("SourcesCount = %d, want 8 distinct", resp.SourcesCount)
	}
	if resp.Disclaimer != generator.Disclaimer || resp.DetectedAct != "Residential Tenancies" {
		t.Errorf("unexpected response: %+v", resp)
	}

	wantMessages := []string{
		"user:What is the maximum bond?",
		"assistant:The bond is capped at four weeks' rent.",
	}
	if diff := cmp.Diff(wantMessages, sink.messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if sink.sources[0] != nil || len(sink.sources[1]) != 5 {
		t.Errorf("sources recorded: %v", sink.sources)
	}
	if sink.sources[1][0] != (analytics.SourceRef{Act: "Residential Tenancies Act 1986", Section: "1"}) {
		t.Errorf("first source ref = %+v", sink.sources[1][0])
	}
	wantEvent := analytics.Event{
		Type:           analytics.EventChat,
		SessionID:      "generated-session",
		Query:          "What is the maximum bond?",
		DetectedAct:    "Residential Tenancies",
		SourcesCount:   8,
		ResponseTimeMS: 120,
	}
	if diff := cmp.Diff([]analytics.Event{wantEvent}, sink.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Residential Tenancies"}, sink.topics); diff != "" {
		t.Errorf("topics (-want +got):\n%s", diff)
	}
}

func TestChat_NoActDetected(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{n: 10, results: []retrieval.Result{section("Privacy Act 2020", "22", 0.4)}}
	sink := &fakeSink{}
	svc := newService(t, s, &fakeAnswerer{text: "answer"}, sink)

	resp, err := svc.Chat(context.Background(), ChatRequest{Message: "how tall is mount cook", SessionID: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if s.calls[0].filter != "" {
		t.Errorf("filter = %q, want none", s.calls[0].filter)
	}
	if resp.SessionID != "abc" {
		t.Errorf("supplied session not kept: %q", resp.SessionID)
	}
	if len(sink.topics) != 0 {
		t.Errorf("topic recorded without detected act: %v", sink.topics)
	}
}

func TestChat_NoResultsStillAnswers(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{text: "I could not find that in the database."}
	svc := newService(t, &fakeSearcher{n: 10}, a, nil)

	resp, err := svc.Chat(context.Background(), ChatRequest{Message: "what is the RMA"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 0 || resp.Sources == nil {
		t.Errorf("Sources = %#v, want empty non-nil", resp.Sources)
	}
	if resp.SourcesCount != 0 || resp.Response != a.text {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestChat_AnalyticsFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{fail: errors.New("disk full")}
	svc := newService(t, &fakeSearcher{n: 1}, &fakeAnswerer{text: "ok"}, sink)

	if _, err := svc.Chat(context.Background(), ChatRequest{Message: "what is the maximum bond"}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	st := svc.Status()
	want := map[string]int{
		analytics.OpChatMessage:    2,
		analytics.OpAnalyticsEvent: 1,
		analytics.OpTopicStats:     1,
	}
	if diff := cmp.Diff(want, st.AnalyticsFailures); diff != "" {
		t.Errorf("failures (-want +got):\n%s", diff)
	}
}

func TestChat_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name     string
		searcher *fakeSearcher
		answerer *fakeAnswerer
		embedder bool
		message  string
		want     error
	}{
		{"empty", &fakeSearcher{n: 1}, &fakeAnswerer{}, true, "", ErrEmptyMessage},
		{"whitespace", &fakeSearcher{n: 1}, &fakeAnswerer{}, true, " \n\t ", ErrEmptyMessage},
		{"no index", nil, &fakeAnswerer{}, true, "hi", ErrIndexNotLoaded},
		{"empty index", &fakeSearcher{}, &fakeAnswerer{}, true, "hi", ErrIndexNotLoaded},
		{"no embedder", &fakeSearcher{n: 1}, &fakeAnswerer{}, false, "hi", ErrEmbedderNotReady},
		{"no llm", &fakeSearcher{n: 1}, nil, true, "hi", ErrLLMUnavailable},
		{"search fails", &fakeSearcher{n: 1, err: boom}, &fakeAnswerer{}, true, "hi", ErrSearchFailed},
		{"generation fails", &fakeSearcher{n: 1}, &fakeAnswerer{err: boom}, true, "hi", ErrGenerationFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Registry: acts.Default(), EmbedderReady: tc.embedder}
			if tc.searcher != nil {
				cfg.Searcher = tc.searcher
			}
			if tc.answerer != nil {
				cfg.Answerer = tc.answerer
			}
			svc, err := New(cfg)
			if err != nil {
				t.Fatal(err)
			}
			_, err = svc.Chat(context.Background(), ChatRequest{Message: tc.message})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestChat_GenerationErrorKeepsCause(t *testing.T) {
	t.Parallel()

	cause := generator.ErrEmptyResponse
	svc := newService(t, &fakeSearcher{n: 1}, &fakeAnswerer{err: cause}, nil)
	_, err := svc.Chat(context.Background(), ChatRequest{Message: "hi"})
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want both sentinel and cause", err)
	}
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearch_LimitsAndShape(t *testing.T) {
	t.Parallel()

	var results []retrieval.Result
	for i := 1; i <= 30; i++ {
		results = append(results, section("Privacy Act 2020", fmt.Sprint(i), 0.9))
	}
	noURL := section("Privacy Act 2020", "99", 0.1)
	noURL.SectionURL = ""
	results[0] = noURL

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, DefaultSearchLimit},
		{"explicit", 3, 3},
		{"capped", 50, DefaultMaxSearch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := &fakeSearcher{n: 30, results: results}
			svc := newService(t, s, nil, nil)

			resp, err := svc.Search(context.Background(), "privacy breach", tc.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(resp.Results) != tc.want || s.calls[0].topK != tc.want {
				t.Errorf("got %d results (topK %d), want %d", len(resp.Results), s.calls[0].topK, tc.want)
			}
			if s.calls[0].filter != "" {
				t.Errorf("search must not filter by act, got %q", s.calls[0].filter)
			}
			if resp.Query != "privacy breach" {
				t.Errorf("Query = %q", resp.Query)
			}
			if resp.Results[0].URL != noURL.ActURL {
				t.Errorf("URL fallback = %q, want act URL", resp.Results[0].URL)
			}
		})
	}
}

func TestSearch_Errors(t *testing.T) {
	t.Parallel()

	if _, err := newService(t, &fakeSearcher{n: 1}, nil, nil).Search(context.Background(), "  ", 5); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("blank query: err = %v", err)
	}
	if _, err := newService(t, nil, nil, nil).Search(context.Background(), "q", 5); !errors.Is(err, ErrIndexNotLoaded) {
		t.Errorf("no index: err = %v", err)
	}
	svc, _ := New(&Config{Registry: acts.Default(), Searcher: &fakeSearcher{n: 1}})
	if _, err := svc.Search(context.Background(), "q", 5); !errors.Is(err, ErrIndexNotLoaded) {
		t.Errorf("no embedder: err = %v, want ErrIndexNotLoaded", err)
	}
	failing := newService(t, &fakeSearcher{n: 1, err: retrieval.ErrEmbedQuery}, nil, nil)
	if _, err := failing.Search(context.Background(), "q", 5); !errors.Is(err, ErrSearchFailed) {
		t.Errorf("query failure: err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func TestStatus(t *testing.T) {
	t.Parallel()

	svc := newService(t, &fakeSearcher{n: 42}, &fakeAnswerer{}, &fakeSink{})
	st := svc.Status()
	if !st.IndexLoaded || !st.EmbedderReady || !st.LLMReady || !st.AnalyticsReady || st.Chunks != 42 {
		t.Errorf("Status = %+v", st)
	}

	bare, _ := New(&Config{Registry: acts.Default()})
	st = bare.Status()
	if st.IndexLoaded || st.LLMReady || st.AnalyticsReady || st.Chunks != 0 {
		t.Errorf("bare Status = %+v", st)
	}
}

func TestNew_RequiresRegistry(t *testing.T) {
	t.Parallel()

	if _, err := New(&Config{}); err == nil {
		t.Fatal("expected error without registry")
	}
}
