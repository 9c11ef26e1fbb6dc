package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/onboard/pkg/httputil"
	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/observability"
)

const (
	msgDownstream = "an upstream service is unavailable, please retry later"
	msgInternal   = "internal server error"
)

// statusFor maps a service error to its HTTP status and client-facing body
func statusFor(err error) (int, httputil.ErrorResponse) {
	var (
		verr       *invite.ValidationError
		dup        *invite.DuplicateInviteError
		downstream *invite.DownstreamServiceError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, httputil.ErrorResponse{Error: verr.Message, Field: verr.Field}
	case errors.As(err, &dup):
		return http.StatusConflict, httputil.ErrorResponse{Error: dup.Error()}
	case errors.Is(err, invite.ErrInviteInProgress):
		return http.StatusConflict, httputil.ErrorResponse{Error: err.Error()}
	case errors.Is(err, invite.ErrOrganizationNotFound):
		return http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()}
	case errors.Is(err, invite.ErrMalformedToken):
		return http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()}
	case errors.Is(err, invite.ErrInvalidOrExpired):
		return http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()}
	case errors.Is(err, invite.ErrAlreadyUsed):
		return http.StatusConflict, httputil.ErrorResponse{Error: err.Error()}
	case errors.Is(err, invite.ErrExpired):
		return http.StatusGone, httputil.ErrorResponse{Error: err.Error()}
	case errors.As(err, &downstream):
		return http.StatusBadGateway, httputil.ErrorResponse{Error: msgDownstream}
	default:
		return http.StatusInternalServerError, httputil.ErrorResponse{Error: msgInternal}
	}
}

// writeServiceError writes err with the request id attached. 5xx causes are
// logged and never sent to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := statusFor(err)
	resp.RequestID = observability.GetRequestID(r.Context())

	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("status", status).
			Error("Request failed")
	}
	httputil.WriteErrorResponse(w, status, resp)
}
