package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/chaquecarne/pesajes/internal/weighing"
)

// Metrics collects the Prometheus metrics of the register.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	weighIns        *prometheus.CounterVec
	weighInWeight   *prometheus.HistogramVec
	scans           *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pesajes_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pesajes_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	weighIns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pesajes_weighins_total",
		Help: "Weigh-in attempts by store profile and outcome.",
	}, []string{"profile", "outcome"})
	weight := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pesajes_weighin_weight_kg",
		Help:    "Weight of recorded weigh-ins in kilograms.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50, 100},
	}, []string{"profile"})
	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pesajes_barcode_scans_total",
		Help: "Barcode scans by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, weighIns, weight, scans)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		weighIns:        weighIns,
		weighInWeight:   weight,
		scans:           scans,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records every HTTP request.
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

// ObserveWeighIn counts a weigh-in attempt. The weight is only observed for
// recorded rows.
func (m *Metrics) ObserveWeighIn(profile weighing.Profile, outcome string, weight decimal.Decimal) {
	if m == nil {
		return
	}
	m.weighIns.WithLabelValues(string(profile), outcome).Inc()
	if outcome == weighing.OutcomeRecorded {
		m.weighInWeight.WithLabelValues(string(profile)).Observe(weight.InexactFloat64())
	}
}

// ObserveScan counts a barcode scan.
func (m *Metrics) ObserveScan(outcome string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome).Inc()
}

// Registerer exposes the registry for additional collectors.
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

// Flush keeps streamed responses such as CSV downloads flushable.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
