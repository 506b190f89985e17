package telemetry

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xregistry/xrbridge/internal/cache"
)

// Metrics owns the process's Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics builds a registry holding the request counter and latency
// histogram; no process or Go runtime collectors are registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xrbridge_http_requests_total",
			Help: "HTTP requests served, by facade, method, and status code.",
		}, []string{"facade", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xrbridge_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"facade", "method"}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration)
	return m
}

// RegisterCacheStats exposes one facade's cache counters as gauges.
func (m *Metrics) RegisterCacheStats(facadeName string, stats func() cache.Stats) {
	labels := prometheus.Labels{"facade": facadeName}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "xrbridge_cache_hits_total", Help: "Cache hits.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "xrbridge_cache_misses_total", Help: "Cache misses.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "xrbridge_cache_entries", Help: "Live cache entries.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Size) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "xrbridge_cache_evictions_total", Help: "Cache evictions.", ConstLabels: labels,
		}, func() float64 { return float64(stats().Evictions) }),
	)
}

// Middleware records request counts and latency for one facade.
func (m *Metrics) Middleware(facadeName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			timer := prometheus.NewTimer(m.requestDuration.WithLabelValues(facadeName, r.Method))
			next.ServeHTTP(ww, r)
			timer.ObserveDuration()
			m.requestsTotal.WithLabelValues(facadeName, r.Method, strconv.Itoa(ww.Status())).Inc()
		})
	}
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
