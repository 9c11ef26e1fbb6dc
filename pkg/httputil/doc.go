// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteCreated(w, resp)
//	httputil.WriteErrorResponse(w, http.StatusBadRequest, httputil.ErrorResponse{Error: msg, Field: "email"})
//	httputil.WriteInternalError(w)
//
// # Request Parsing
//
//	var req AcceptRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//	)(router)
package httputil
