package provisioning

import (
	"context"
	"fmt"

	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
)

// StaffStrategy assigns the groups and realm roles listed in the invitation
type StaffStrategy struct {
	dir directory.Directory
}

// NewStaffStrategy creates a staff strategy
func NewStaffStrategy(dir directory.Directory) *StaffStrategy {
	return &StaffStrategy{dir: dir}
}

// Execute implements Strategy. Requested groups or roles that do not exist in
// the directory are skipped.
func (s *StaffStrategy) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	md, ok := req.Metadata.(*invite.StaffMetadata)
	if !ok {
		return nil, fmt.Errorf("staff strategy received %s metadata", req.Metadata.InviteType())
	}
	log := requestLogger(ctx, req, "staff")

	groups, err := s.dir.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	byID := make(map[string]directory.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	result := newResult()
	seen := make(map[string]bool)
	for _, ref := range md.Groups {
		g, ok := byID[ref.ID]
		if !ok {
			log.WithField("group_id", ref.ID).Warn("requested group not found, skipping")
			continue
		}
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		if err := s.dir.AddUserToGroup(ctx, req.User.ID, g.ID); err != nil {
			return nil, fmt.Errorf("failed to add user to group %s: %w", g.Name, err)
		}
		result.AppliedGroups = append(result.AppliedGroups, groupRef(g))
	}

	if len(md.Roles) > 0 {
		roles, err := s.resolveRoles(ctx, md.Roles)
		if err != nil {
			return nil, err
		}
		if len(roles) > 0 {
			if err := s.dir.AddRealmRoles(ctx, req.User.ID, roles); err != nil {
				return nil, fmt.Errorf("failed to assign realm roles: %w", err)
			}
		}
		for _, r := range roles {
			result.AppliedRoles = append(result.AppliedRoles, invite.RoleRef{ID: r.ID, Name: r.Name})
		}
	}

	log.Infof("provisioned staff member with %d groups and %d roles", len(result.AppliedGroups), len(result.AppliedRoles))
	return result, nil
}

func (s *StaffStrategy) resolveRoles(ctx context.Context, refs []invite.RoleRef) ([]directory.Role, error) {
	all, err := s.dir.ListRealmRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list realm roles: %w", err)
	}

	var out []directory.Role
	seen := make(map[string]bool)
	for _, ref := range refs {
		for _, r := range all {
			if (ref.ID != "" && r.ID == ref.ID) || (ref.ID == "" && r.Name == ref.Name) {
				if !seen[r.ID] {
					seen[r.ID] = true
					out = append(out, r)
				}
				break
			}
		}
	}
	return out, nil
}
