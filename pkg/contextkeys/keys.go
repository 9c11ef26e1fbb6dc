// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the service are defined here so that packages
// setting and reading a value agree on the key.
//
//	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, id)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request ID string
	// Set by: httputil.RequestIDMiddleware
	// Used by: observability.FromContext, error responses
	RequestIDKey Key = "request_id"

	// OrganizationIDKey contains the organization an API call acts on
	// Set by: api handlers for org-scoped routes
	// Used by: observability.FromContext
	OrganizationIDKey Key = "organization_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestIDMiddleware, cmd/onboard for background jobs
	// Used by: every component that logs with request context
	LoggerKey Key = "logger"
)
