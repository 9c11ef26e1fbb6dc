// Package provisioning grants directory entitlements when an invitation is accepted.
//
// Each invite type has its own Strategy. Staff members receive the groups and
// realm roles named in their invitation. Business partners always join the
// business-partners group and are removed from every admins group.
package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/onboard/pkg/config"
	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/observability"
)

// ErrPartnerGroupMissing is returned when no business-partners group exists in the directory
var ErrPartnerGroupMissing = errors.New("business-partners group not found in directory")

// Request is the input to a strategy
type Request struct {
	User           *directory.User
	Metadata       invite.Metadata
	OrganizationID string
}

// Result lists the entitlements that were granted
type Result struct {
	AppliedGroups []invite.GroupRef `json:"appliedGroups"`
	AppliedRoles  []invite.RoleRef  `json:"appliedRoles"`
}

// Strategy grants the entitlements for one invite type
type Strategy interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Registry selects the strategy for an invite type
type Registry struct {
	staff   Strategy
	partner Strategy
}

// NewRegistry creates the staff and partner strategies over dir
func NewRegistry(dir directory.Directory, policy config.ProvisioningPolicy) *Registry {
	return &Registry{
		staff:   NewStaffStrategy(dir),
		partner: NewPartnerStrategy(dir, policy),
	}
}

// ForType returns the strategy for t
func (r *Registry) ForType(t invite.Type) (Strategy, error) {
	switch t {
	case invite.TypeStaff:
		return r.staff, nil
	case invite.TypePartner:
		return r.partner, nil
	}
	return nil, fmt.Errorf("no provisioning strategy for invite type %q", t)
}

func requestLogger(ctx context.Context, req Request, strategy string) *observability.Logger {
	return observability.FromContext(ctx).WithFields(map[string]interface{}{
		"strategy":        strategy,
		"user_id":         req.User.ID,
		"organization_id": req.OrganizationID,
	})
}

func newResult() *Result {
	return &Result{AppliedGroups: []invite.GroupRef{}, AppliedRoles: []invite.RoleRef{}}
}

func groupRef(g directory.Group) invite.GroupRef {
	return invite.GroupRef{ID: g.ID, Name: g.Name}
}

func checkRequest(req Request) error {
	if req.User == nil || req.User.ID == "" {
		return fmt.Errorf("provisioning request has no user")
	}
	if req.Metadata == nil {
		return fmt.Errorf("provisioning request has no metadata")
	}
	return nil
}
