package provisioning

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/onboard/pkg/config"
	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
)

// PartnerStrategy joins partners to the business-partners group and keeps
// them out of every admins group
type PartnerStrategy struct {
	dir          directory.Directory
	partnerNames map[string]bool
	adminNames   map[string]bool
}

// NewPartnerStrategy creates a partner strategy using the policy's group spellings
func NewPartnerStrategy(dir directory.Directory, policy config.ProvisioningPolicy) *PartnerStrategy {
	return &PartnerStrategy{
		dir:          dir,
		partnerNames: nameSet(policy.PartnerGroupNames),
		adminNames:   nameSet(policy.AdminGroupNames),
	}
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return set
}

func (p *PartnerStrategy) isAdmin(g directory.Group) bool {
	return p.adminNames[strings.ToLower(g.Name)]
}

// Execute implements Strategy. It fails with ErrPartnerGroupMissing when the
// directory has no business-partners group. Partners receive no realm roles.
func (p *PartnerStrategy) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	md, ok := req.Metadata.(*invite.PartnerMetadata)
	if !ok {
		return nil, fmt.Errorf("partner strategy received %s metadata", req.Metadata.InviteType())
	}
	log := requestLogger(ctx, req, "partner")

	groups, err := p.dir.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	var partnerGroup *directory.Group
	byID := make(map[string]directory.Group, len(groups))
	for i := range groups {
		byID[groups[i].ID] = groups[i]
		if partnerGroup == nil && p.partnerNames[strings.ToLower(groups[i].Name)] {
			partnerGroup = &groups[i]
		}
	}
	if partnerGroup == nil {
		log.Error("business-partners group is not configured in the directory")
		return nil, ErrPartnerGroupMissing
	}

	targets := []directory.Group{*partnerGroup}
	seen := map[string]bool{partnerGroup.ID: true}
	for _, ref := range md.Groups {
		g, ok := byID[ref.ID]
		if !ok || seen[g.ID] {
			continue
		}
		if p.isAdmin(g) {
			log.WithField("group_id", g.ID).Warn("refusing to add partner to admins group")
			continue
		}
		seen[g.ID] = true
		targets = append(targets, g)
	}

	result := newResult()
	for _, g := range targets {
		if err := p.dir.AddUserToGroup(ctx, req.User.ID, g.ID); err != nil {
			return nil, fmt.Errorf("failed to add user to group %s: %w", g.Name, err)
		}
		result.AppliedGroups = append(result.AppliedGroups, groupRef(g))
	}

	current, err := p.dir.ListUserGroups(ctx, req.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	for _, g := range current {
		if !p.isAdmin(g) {
			continue
		}
		if err := p.dir.RemoveUserFromGroup(ctx, req.User.ID, g.ID); err != nil {
			return nil, fmt.Errorf("failed to remove user from group %s: %w", g.Name, err)
		}
		log.WithField("group_id", g.ID).Info("removed partner from admins group")
	}

	log.Infof("provisioned partner with %d groups", len(result.AppliedGroups))
	return result, nil
}
