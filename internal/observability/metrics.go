package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
)

// Metrics owns the Prometheus registry of the ledger API. Besides HTTP
// traffic it tracks fiscal year transitions and ledger projection cost.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transitions        *prometheus.CounterVec
	projectionDuration prometheus.Histogram
	ledgerAccounts     *prometheus.GaugeVec
	projectionRejected *prometheus.GaugeVec
}

// NewMetrics builds a registry with HTTP, ledger and Go runtime collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gl_http_requests_total",
			Help: "Ledger API requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gl_http_request_duration_seconds",
			Help:    "Ledger API request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gl_fiscal_year_transitions_total",
			Help: "Fiscal year status changes by target status.",
		}, []string{"status"}),
		projectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gl_ledger_projection_duration_seconds",
			Help:    "Time to validate and aggregate the entries of a fiscal year.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ledgerAccounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gl_ledger_accounts",
			Help: "Accounts in the latest ledger projection of a fiscal year.",
		}, []string{"fiscal_year"}),
		projectionRejected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gl_ledger_rejected_entries",
			Help: "Entries refused by validation in the latest projection of a fiscal year.",
		}, []string{"fiscal_year"}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, m.transitions, m.projectionDuration,
		m.ledgerAccounts, m.projectionRejected, collectors.NewGoCollector())
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m
}

// FiscalYearTransition counts a soft or hard close.
func (m *Metrics) FiscalYearTransition(_ int, status close.PeriodStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

// LedgerProjection records the size and cost of a fiscal year projection.
func (m *Metrics) LedgerProjection(year, accounts, rejected int, took time.Duration) {
	if m == nil {
		return
	}
	label := strconv.Itoa(year)
	m.projectionDuration.Observe(took.Seconds())
	m.ledgerAccounts.WithLabelValues(label).Set(float64(accounts))
	m.projectionRejected.WithLabelValues(label).Set(float64(rejected))
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records a request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry so job and cache collectors can join it.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
