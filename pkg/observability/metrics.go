package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Invitation metrics
	InvitationsCreatedTotal  *prometheus.CounterVec
	InvitationsAcceptedTotal *prometheus.CounterVec
	InvitationsRejectedTotal *prometheus.CounterVec
	InvitationStepDuration   *prometheus.HistogramVec
	ChannelTypeFallbackTotal prometheus.Counter

	// Directory metrics
	DirectoryRequestsTotal   *prometheus.CounterVec
	DirectoryRequestDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitedTotal *prometheus.CounterVec

	// Invitation state, refreshed by the expiry reporter
	InvitationsByStatus *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboard_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		// Invitation metrics
		InvitationsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_invitations_created_total",
				Help: "Total number of invitations created",
			},
			[]string{"type"},
		),
		InvitationsAcceptedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_invitations_accepted_total",
				Help: "Total number of invitations accepted",
			},
			[]string{"type"},
		),
		InvitationsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_invitations_rejected_total",
				Help: "Total number of rejected invitation operations",
			},
			[]string{"operation", "reason"},
		),
		InvitationStepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboard_invitation_step_duration_seconds",
				Help:    "Duration of invitation creation and acceptance steps",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation", "step"},
		),
		ChannelTypeFallbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "onboard_channel_type_fallback_total",
				Help: "Times the channel-type service was unavailable and request values were used",
			},
		),

		// Directory metrics
		DirectoryRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_directory_requests_total",
				Help: "Total number of directory admin API requests",
			},
			[]string{"operation", "outcome"},
		),
		DirectoryRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "onboard_directory_request_duration_seconds",
				Help:    "Directory admin API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onboard_rate_limited_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"limiter"},
		),

		InvitationsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "onboard_invitations",
				Help: "Invitations per organization, type and effective status",
			},
			[]string{"organization", "type", "status"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.InvitationsCreatedTotal,
		m.InvitationsAcceptedTotal,
		m.InvitationsRejectedTotal,
		m.InvitationStepDuration,
		m.ChannelTypeFallbackTotal,
		m.DirectoryRequestsTotal,
		m.DirectoryRequestDuration,
		m.RateLimitedTotal,
		m.InvitationsByStatus,
	)

	return m
}

// ObserveDirectoryRequest records one directory admin API call
func (m *Metrics) ObserveDirectoryRequest(op, outcome string, duration time.Duration) {
	m.DirectoryRequestsTotal.WithLabelValues(op, outcome).Inc()
	m.DirectoryRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveStep records the duration of one step of an invitation operation
func (m *Metrics) ObserveStep(operation, step string, duration time.Duration) {
	m.InvitationStepDuration.WithLabelValues(operation, step).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the matched route template so path parameters do not
// become label values
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			path := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
