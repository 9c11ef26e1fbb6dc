package provisioning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/onboard/pkg/config"
	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
)

func newDirectory(t *testing.T) (*directory.MemoryDirectory, *directory.User) {
	t.Helper()
	dir := directory.NewMemoryDirectory()
	dir.AddGroup(directory.Group{ID: "g-eng", Name: "engineering"})
	dir.AddGroup(directory.Group{ID: "g-sales", Name: "sales"})
	dir.AddGroup(directory.Group{ID: "g-admin", Name: "Admins"})
	dir.AddGroup(directory.Group{ID: "g-partners", Name: "Business-Partners"})
	dir.AddRole(directory.Role{ID: "r-view", Name: "viewer"})
	dir.AddRole(directory.Role{ID: "r-edit", Name: "editor"})

	ctx := context.Background()
	id, err := dir.CreateUser(ctx, &directory.User{Email: "user@example.com"})
	require.NoError(t, err)
	user, err := dir.GetUser(ctx, id)
	require.NoError(t, err)
	return dir, user
}

func groupNames(t *testing.T, dir directory.Directory, userID string) []string {
	t.Helper()
	groups, err := dir.ListUserGroups(context.Background(), userID)
	require.NoError(t, err)
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}

func groupRefNames(refs []invite.GroupRef) []string {
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.Name)
	}
	return names
}

func roleRefNames(refs []invite.RoleRef) []string {
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.Name)
	}
	return names
}

func TestRegistry_ForType(t *testing.T) {
	dir, _ := newDirectory(t)
	r := NewRegistry(dir, config.DefaultProvisioningPolicy())

	s, err := r.ForType(invite.TypeStaff)
	require.NoError(t, err)
	assert.IsType(t, &StaffStrategy{}, s)

	s, err = r.ForType(invite.TypePartner)
	require.NoError(t, err)
	assert.IsType(t, &PartnerStrategy{}, s)

	_, err = r.ForType("Vendor")
	assert.Error(t, err)
}

func TestStaffStrategy_AssignsGroupsAndRoles(t *testing.T) {
	dir, user := newDirectory(t)
	s := NewStaffStrategy(dir)

	res, err := s.Execute(context.Background(), Request{
		User:           user,
		OrganizationID: "org-1",
		Metadata: &invite.StaffMetadata{
			Groups: []invite.GroupRef{{ID: "g-eng"}, {ID: "g-missing"}, {ID: "g-eng"}},
			Roles:  []invite.RoleRef{{Name: "viewer"}, {ID: "r-edit"}, {Name: "ghost"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"engineering"}, groupRefNames(res.AppliedGroups))
	assert.ElementsMatch(t, []string{"viewer", "editor"}, roleRefNames(res.AppliedRoles))
	assert.Equal(t, []string{"engineering"}, groupNames(t, dir, user.ID))
	assert.ElementsMatch(t, []string{"viewer", "editor"}, dir.UserRoleNames(user.ID))
	assert.Equal(t, 1, dir.Calls("AddRealmRoles"), "roles are assigned in one call")
}

func TestStaffStrategy_NoRoles(t *testing.T) {
	dir, user := newDirectory(t)
	s := NewStaffStrategy(dir)

	res, err := s.Execute(context.Background(), Request{
		User:     user,
		Metadata: &invite.StaffMetadata{Groups: []invite.GroupRef{{ID: "g-sales"}}},
	})
	require.NoError(t, err)
	assert.Empty(t, res.AppliedRoles)
	assert.Equal(t, 0, dir.Calls("ListRealmRoles"))
	assert.Equal(t, 0, dir.Calls("AddRealmRoles"))
}

func TestStaffStrategy_DirectoryFailurePropagates(t *testing.T) {
	dir, user := newDirectory(t)
	boom := errors.New("directory down")
	dir.FailOn("AddUserToGroup", boom)

	_, err := NewStaffStrategy(dir).Execute(context.Background(), Request{
		User:     user,
		Metadata: &invite.StaffMetadata{Groups: []invite.GroupRef{{ID: "g-eng"}}},
	})
	assert.ErrorIs(t, err, boom)
}

func TestStaffStrategy_RejectsWrongMetadata(t *testing.T) {
	dir, user := newDirectory(t)
	_, err := NewStaffStrategy(dir).Execute(context.Background(), Request{User: user, Metadata: &invite.PartnerMetadata{}})
	assert.Error(t, err)

	_, err = NewStaffStrategy(dir).Execute(context.Background(), Request{Metadata: &invite.StaffMetadata{}})
	assert.Error(t, err)
}

func TestPartnerStrategy_JoinsPartnersAndLeavesAdmins(t *testing.T) {
	dir, user := newDirectory(t)
	ctx := context.Background()
	require.NoError(t, dir.AddUserToGroup(ctx, user.ID, "g-admin"))

	res, err := NewPartnerStrategy(dir, config.DefaultProvisioningPolicy()).Execute(ctx, Request{
		User:           user,
		OrganizationID: "org-1",
		Metadata: &invite.PartnerMetadata{
			ChannelType: invite.ChannelTypeRef{ID: "42"},
			Groups:      []invite.GroupRef{{ID: "g-sales"}, {ID: "g-admin"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Business-Partners", "sales"}, groupRefNames(res.AppliedGroups))
	assert.Empty(t, res.AppliedRoles)

	names := groupNames(t, dir, user.ID)
	assert.Contains(t, names, "Business-Partners")
	assert.Contains(t, names, "sales")
	assert.NotContains(t, names, "Admins")
	assert.Empty(t, dir.UserRoleNames(user.ID))
}

// Partner invariant: whatever groups are requested or already held, the
// outcome includes the partners group and excludes every admins group.
func TestPartnerStrategy_Invariant(t *testing.T) {
	requests := [][]invite.GroupRef{
		nil,
		{{ID: "g-admin"}},
		{{ID: "g-partners"}},
		{{ID: "g-eng"}, {ID: "g-admin"}, {ID: "g-unknown"}},
	}
	for _, preexisting := range [][]string{nil, {"g-admin"}, {"g-admin", "g-eng"}} {
		for _, groups := range requests {
			dir, user := newDirectory(t)
			ctx := context.Background()
			for _, gid := range preexisting {
				require.NoError(t, dir.AddUserToGroup(ctx, user.ID, gid))
			}

			res, err := NewPartnerStrategy(dir, config.DefaultProvisioningPolicy()).Execute(ctx, Request{
				User:     user,
				Metadata: &invite.PartnerMetadata{ChannelType: invite.ChannelTypeRef{ID: "42"}, Groups: groups},
			})
			require.NoError(t, err)
			assert.Contains(t, groupRefNames(res.AppliedGroups), "Business-Partners")
			assert.NotContains(t, groupRefNames(res.AppliedGroups), "Admins")

			names := groupNames(t, dir, user.ID)
			assert.Contains(t, names, "Business-Partners")
			assert.NotContains(t, names, "Admins")
		}
	}
}

func TestPartnerStrategy_MissingPartnerGroupIsFatal(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	dir.AddGroup(directory.Group{ID: "g-eng", Name: "engineering"})
	ctx := context.Background()
	id, err := dir.CreateUser(ctx, &directory.User{Email: "p@example.com"})
	require.NoError(t, err)

	_, err = NewPartnerStrategy(dir, config.DefaultProvisioningPolicy()).Execute(ctx, Request{
		User:     &directory.User{ID: id},
		Metadata: &invite.PartnerMetadata{ChannelType: invite.ChannelTypeRef{ID: "42"}},
	})
	assert.ErrorIs(t, err, ErrPartnerGroupMissing)
	assert.Equal(t, 0, dir.Calls("AddUserToGroup"))
}

func TestPartnerStrategy_CustomPolicySpelling(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	dir.AddGroup(directory.Group{ID: "g-cp", Name: "Channel Partners"})
	ctx := context.Background()
	id, err := dir.CreateUser(ctx, &directory.User{Email: "p@example.com"})
	require.NoError(t, err)

	policy := config.ProvisioningPolicy{PartnerGroupNames: []string{"channel partners"}, AdminGroupNames: []string{"root"}}
	res, err := NewPartnerStrategy(dir, policy).Execute(ctx, Request{
		User:     &directory.User{ID: id},
		Metadata: &invite.PartnerMetadata{ChannelType: invite.ChannelTypeRef{ID: "42"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Channel Partners"}, groupRefNames(res.AppliedGroups))
}
