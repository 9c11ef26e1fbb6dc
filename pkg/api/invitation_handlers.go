package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/onboard/pkg/httputil"
	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/observability"
	"github.com/platinummonkey/onboard/pkg/onboarding"
)

// InvitationHandlers handles invitation HTTP requests
type InvitationHandlers struct {
	service InvitationService
}

// NewInvitationHandlers creates a new InvitationHandlers
func NewInvitationHandlers(service InvitationService) *InvitationHandlers {
	return &InvitationHandlers{
		service: service,
	}
}

// RegisterRoutes registers invitation routes. acceptMiddleware wraps only the
// accept route, typically with a rate limiter.
func (h *InvitationHandlers) RegisterRoutes(router *mux.Router, acceptMiddleware ...func(http.Handler) http.Handler) {
	router.HandleFunc("/api/v1/orgs/{org_id}/invitations", h.CreateInvitation).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/orgs/{org_id}/invitations", h.ListInvitations).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/orgs/{org_id}/invitations/stats", h.GetStats).Methods(http.MethodGet)

	accept := httputil.Chain(acceptMiddleware...)(http.HandlerFunc(h.AcceptInvitation))
	router.Handle("/api/v1/invitations/accept", accept).Methods(http.MethodPost)
}

// CreateInvitation creates an invitation and returns it with its one-time token
func (h *InvitationHandlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}

	var req CreateInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.OrganizationID = orgID

	ctx := observability.WithOrganizationID(r.Context(), orgID)
	result, err := h.service.CreateInvite(ctx, &req.Payload, onboarding.CreateOptions{
		ExpiresInMinutes: req.ExpiresInMinutes,
		AllowDuplicate:   req.AllowDuplicate,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteCreated(w, result)
}

// ListInvitations returns one page of the organization's invitations
func (h *InvitationHandlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}

	page, err := httputil.ParseQueryInt(r, "page", 1)
	if err != nil {
		writeServiceError(w, r, &invite.ValidationError{Field: "page", Message: "must be an integer"})
		return
	}
	size, err := httputil.ParseQueryInt(r, "size", 0)
	if err != nil {
		writeServiceError(w, r, &invite.ValidationError{Field: "size", Message: "must be an integer"})
		return
	}

	ctx := observability.WithOrganizationID(r.Context(), orgID)
	result, err := h.service.ListInvites(ctx, onboarding.ListParams{
		OrganizationID: orgID,
		Type:           invite.Type(httputil.ParseQueryString(r, "type", "")),
		Status:         invite.Status(strings.ToUpper(httputil.ParseQueryString(r, "status", ""))),
		Search:         httputil.ParseQueryString(r, "search", ""),
		Page:           page,
		Size:           size,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// GetStats counts the organization's invitations by type and effective status
func (h *InvitationHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}

	stats, err := h.service.Stats(observability.WithOrganizationID(r.Context(), orgID), orgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// AcceptInvitation redeems an invitation token
func (h *InvitationHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req AcceptInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.AcceptInvite(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, result)
}
