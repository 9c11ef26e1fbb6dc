package api

import (
	"context"

	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/onboarding"
)

// InvitationService is the subset of onboarding.Service the handlers call
type InvitationService interface {
	CreateInvite(ctx context.Context, p *invite.Payload, opts onboarding.CreateOptions) (*onboarding.CreateResult, error)
	ListInvites(ctx context.Context, params onboarding.ListParams) (*onboarding.ListResult, error)
	AcceptInvite(ctx context.Context, token string) (*onboarding.AcceptanceResult, error)
	Stats(ctx context.Context, orgID string) (*onboarding.Stats, error)
}

// CreateInvitationRequest is the body of a create request. The organization
// comes from the path and overrides any organizationId in the body.
type CreateInvitationRequest struct {
	invite.Payload
	ExpiresInMinutes int  `json:"expiresInMinutes,omitempty"`
	AllowDuplicate   bool `json:"allowDuplicate,omitempty"`
}

// AcceptInvitationRequest is the body of an accept request
type AcceptInvitationRequest struct {
	Token string `json:"token"`
}
