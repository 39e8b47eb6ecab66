package server

// Prometheus metrics for the HTTP server, the retrieval engine and the
// analytics recorder.

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joedaviesio/magna/internal/assistant"
	"github.com/joedaviesio/magna/internal/retrieval"
)

const (
	namespace = "bowen"

	// labelHandler partitions metrics by route pattern rather than raw path.
	labelHandler = "handler"
)

// Chat outcomes recorded on bowen_chat_requests_total.
const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// Metrics holds every Prometheus metric owned by the service. A single
// instance is created at startup so tests can inject an isolated
// prometheus.Registry without polluting the default one.
type Metrics struct {
	// chatRequestsTotal counts completed chat requests by outcome.
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records retrieval plus generation time per chat.
	chatDurationSeconds *prometheus.HistogramVec

	// sourcesPerAnswer records how many citations a chat answer returned.
	sourcesPerAnswer prometheus.Histogram

	// retrievalDurationSeconds records query embedding plus ranking time.
	retrievalDurationSeconds *prometheus.HistogramVec

	// analyticsFailuresTotal counts swallowed analytics write failures.
	analyticsFailuresTotal *prometheus.CounterVec

	// chunksLoaded is the number of chunks in the loaded index.
	chunksLoaded prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge
}

// NewMetrics registers all metrics against reg. promauto.With(reg) is used
// so each call registers into the provided registry rather than the global
// default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of chat requests including retrieval and generation.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		sourcesPerAnswer: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "sources_per_answer",
			Help:      "Number of citations returned with each chat answer.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),

		retrievalDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Latency of query embedding, index search and reranking.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"filtered"}),

		analyticsFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "failures_total",
			Help:      "Analytics writes that failed and were skipped, partitioned by operation.",
		}, []string{"operation"}),

		chunksLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks_loaded",
			Help:      "Number of legislation chunks in the loaded index.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		httpInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served.",
		}),
	}
}

// AnalyticsFailure counts one failed analytics write. It matches the
// onFailure hook of analytics.NewRecorder.
func (m *Metrics) AnalyticsFailure(op string) {
	m.analyticsFailuresTotal.WithLabelValues(op).Inc()
}

// SetChunksLoaded records the index size.
func (m *Metrics) SetChunksLoaded(n int) { m.chunksLoaded.Set(float64(n)) }

// InstrumentSearcher wraps s so every search records its latency.
func (m *Metrics) InstrumentSearcher(s assistant.Searcher) assistant.Searcher {
	return &timedSearcher{next: s, hist: m.retrievalDurationSeconds}
}

type timedSearcher struct {
	next assistant.Searcher
	hist *prometheus.HistogramVec
}

func (t *timedSearcher) Search(ctx context.Context, query string, topK int, actFilter string) ([]retrieval.Result, error) {
	start := time.Now()
	res, err := t.next.Search(ctx, query, topK, actFilter)
	t.hist.WithLabelValues(strconv.FormatBool(actFilter != "")).Observe(time.Since(start).Seconds())
	return res, err
}

func (t *timedSearcher) Len() int { return t.next.Len() }

// instrument records request count, latency and in-flight requests. It runs
// inside the router so the matched route pattern is available.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		rw := wrapResponseWriter(w)
		start := time.Now()
		next.ServeHTTP(rw, r)

		pattern := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
