package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/onboard/pkg/httputil"
	"github.com/platinummonkey/onboard/pkg/observability"
)

// DefaultMaxBodyBytes bounds request bodies when RouterConfig does not
const DefaultMaxBodyBytes = 1 << 20

// RouterConfig holds the cross-cutting pieces of the HTTP surface. Every field
// is optional.
type RouterConfig struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   *observability.HealthChecker
	// AcceptMiddleware wraps only the accept route
	AcceptMiddleware []func(http.Handler) http.Handler
	MaxBodyBytes     int64
}

// NewRouter builds the API handler: invitation routes, plus health and
// metrics when configured, behind request-id, recovery, logging and body
// limits.
func NewRouter(service InvitationService, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	if cfg.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}

	NewInvitationHandlers(service).RegisterRoutes(router, cfg.AcceptMiddleware...)
	if cfg.Health != nil {
		observability.RegisterHealthRoutes(router, cfg.Health)
	}
	if cfg.Registry != nil {
		observability.RegisterMetricsEndpoint(router, cfg.Registry)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	return httputil.Chain(
		httputil.RequestIDMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBytes),
	)(router)
}
