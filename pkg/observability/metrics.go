package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login metrics
	LoginsTotal   *prometheus.CounterVec
	LoginDuration *prometheus.HistogramVec

	// Reconciliation metrics
	ReconciliationsTotal *prometheus.CounterVec
	GroupMutationsTotal  *prometheus.CounterVec

	// Content store metrics
	StoreRequestsTotal   *prometheus.CounterVec
	StoreRequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsIssuedTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Relay-state metrics
	RelayStatesCreated  prometheus.Counter
	RelayStatesConsumed *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stile_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_logins_total",
				Help: "Total number of login attempts",
			},
			[]string{"provider", "status"},
		),
		LoginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stile_login_duration_seconds",
				Help:    "End-to-end login duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		ReconciliationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_reconciliations_total",
				Help: "Total number of group reconciliations",
			},
			[]string{"status"},
		),
		GroupMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_group_mutations_total",
				Help: "Total number of group membership mutations",
			},
			[]string{"op", "status"},
		),

		StoreRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_store_requests_total",
				Help: "Total number of content store API requests",
			},
			[]string{"operation", "status"},
		),
		StoreRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stile_store_request_duration_seconds",
				Help:    "Content store API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		SessionsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_sessions_issued_total",
				Help: "Total number of third-party sessions requested",
			},
			[]string{"status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		RelayStatesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stile_relay_states_created_total",
				Help: "Total number of SSO relay states created",
			},
		),
		RelayStatesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stile_relay_states_consumed_total",
				Help: "Total number of SSO relay state consumptions",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.LoginDuration,
		m.ReconciliationsTotal,
		m.GroupMutationsTotal,
		m.StoreRequestsTotal,
		m.StoreRequestDuration,
		m.SessionsIssuedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RelayStatesCreated,
		m.RelayStatesConsumed,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
