// Package metrics provides Prometheus instrumentation for the portfolio service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerMutations counts position mutations by operation and outcome.
	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_ledger_mutations_total",
		Help: "Position ledger mutations by operation and outcome",
	}, []string{"op", "outcome"})

	// LedgerLatency tracks the duration of one ledger transaction.
	LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "folio_ledger_latency_seconds",
		Help:    "Position ledger transaction latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// AnalysisRuns counts distribution analyses by outcome.
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_analysis_runs_total",
		Help: "Portfolio distribution analyses by outcome",
	}, []string{"outcome"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "folio_analysis_duration_seconds",
		Help:    "Portfolio distribution analysis duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// AnalysisSkippedTickers counts tickers left out of an analysis because
	// their classification failed or timed out.
	AnalysisSkippedTickers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folio_analysis_skipped_tickers_total",
		Help: "Tickers skipped during distribution analysis",
	})

	// MarketDataRequests counts upstream market-data calls by operation and outcome.
	MarketDataRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_marketdata_requests_total",
		Help: "Market data provider requests",
	}, []string{"op", "outcome"})

	MarketDataLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "folio_marketdata_latency_seconds",
		Help:    "Market data provider latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"op"})

	// AssetsCreated counts assets created lazily on first buy.
	AssetsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folio_assets_created_total",
		Help: "Assets created on first purchase of a ticker",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "folio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "folio_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "path"})
)

// Outcome labels shared by the counters above.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Outcome maps an error to an outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &StatusWriter{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := RoutePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.Status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RoutePattern returns the matched chi route pattern, which keeps label
// cardinality bounded. Unmatched requests are grouped under "unmatched".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// StatusWriter wraps http.ResponseWriter to capture the status code and
// the number of bytes written.
type StatusWriter struct {
	http.ResponseWriter
	Status int
	Bytes  int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.Bytes += n
	return n, err
}
