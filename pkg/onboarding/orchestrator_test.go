package onboarding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/onboard/pkg/config"
	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/provisioning"
)

func TestExecute_AcceptsStaffInvitation(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, staffPayload("ada@example.com"), CreateOptions{})
	f.clock.Advance(time.Hour)

	got, err := f.orchestrator.Execute(context.Background(), res.Token)
	require.NoError(t, err)

	assert.Equal(t, res.Record.UserID, got.UserID)
	assert.Equal(t, res.Record.ID, got.InvitationID)
	assert.Equal(t, testOrg, got.OrganizationID)
	assert.Equal(t, invite.StatusAccepted, got.Status)
	assert.True(t, got.EmailVerified)
	assert.Equal(t, []invite.GroupRef{{ID: "g-eng", Name: "engineering"}}, got.AppliedGroups)
	assert.Equal(t, []invite.RoleRef{{ID: "r-view", Name: "viewer"}}, got.AppliedRoles)

	user := f.user(t, got.UserID)
	assert.True(t, user.EmailVerified)
	assert.True(t, user.Enabled)
	assert.NotContains(t, user.Attributes, invite.AttrSecretHash)
	assert.NotContains(t, user.Attributes, invite.AttrMagicLinkToken)
	assert.Equal(t, []string{"engineering"}, f.groupNames(t, user.ID))
	assert.Equal(t, []string{"viewer"}, f.dir.UserRoleNames(user.ID))

	stored := invite.Decode(user)
	require.NotNil(t, stored)
	assert.Equal(t, invite.StatusAccepted, stored.Status)
	require.NotNil(t, stored.JoinedAt)
	assert.Equal(t, baseTime.Add(time.Hour), *stored.JoinedAt)
	assert.Empty(t, stored.SecretHash)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InvitationsAcceptedTotal.WithLabelValues("Staff")))
}

func TestExecute_SecondAcceptIsAlreadyUsed(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, staffPayload("ada@example.com"), CreateOptions{})
	ctx := context.Background()

	_, err := f.orchestrator.Execute(ctx, res.Token)
	require.NoError(t, err)
	groupCalls := f.dir.Calls("AddUserToGroup")

	_, err = f.orchestrator.Execute(ctx, res.Token)
	assert.ErrorIs(t, err, invite.ErrAlreadyUsed)
	assert.Equal(t, groupCalls, f.dir.Calls("AddUserToGroup"), "no entitlements are applied twice")
}

func TestExecute_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{name: "one second before expiry", advance: DefaultExpiry - time.Second},
		{name: "at expiry", advance: DefaultExpiry, wantErr: invite.ErrExpired},
		{name: "one second after expiry", advance: DefaultExpiry + time.Second, wantErr: invite.ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.create(t, staffPayload("ada@example.com"), CreateOptions{})
			f.clock.Advance(tt.advance)

			_, err := f.orchestrator.Execute(context.Background(), res.Token)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			stored := invite.Decode(f.user(t, res.Record.UserID))
			assert.Equal(t, invite.StatusPending, stored.Status, "expiry is never written back")
			assert.Empty(t, f.groupNames(t, res.Record.UserID))
		})
	}
}

func TestExecute_RejectsWithoutDetail(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, staffPayload("ada@example.com"), CreateOptions{})
	other := f.create(t, staffPayload("bob@example.com"), CreateOptions{})
	parts := strings.Split(res.Token, ".")
	otherParts := strings.Split(other.Token, ".")
	plainID, err := f.dir.CreateUser(context.Background(), &directory.User{Email: "plain@example.com"})
	require.NoError(t, err)

	tests := map[string]string{
		"tampered secret":    tamper(res.Token),
		"unknown user":       parts[0] + ".no-such-user." + parts[2],
		"wrong invitation":   otherParts[0] + "." + parts[1] + "." + parts[2],
		"secret of another":  parts[0] + "." + parts[1] + "." + otherParts[2],
		"user without offer": parts[0] + "." + plainID + "." + parts[2],
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.orchestrator.Execute(context.Background(), token)
			assert.Equal(t, invite.ErrInvalidOrExpired, err)
		})
	}

	stored := invite.Decode(f.user(t, res.Record.UserID))
	assert.Equal(t, invite.StatusPending, stored.Status)

	_, err = f.orchestrator.Execute(context.Background(), res.Token)
	require.NoError(t, err, "failed attempts must not consume the invitation")
}

func TestExecute_MalformedToken(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"", "abc", "a.b", "a..c", "a.b.c.d"} {
		_, err := f.orchestrator.Execute(context.Background(), token)
		assert.ErrorIs(t, err, invite.ErrMalformedToken, token)
	}
	assert.Zero(t, f.dir.Calls("GetUser"))
	assert.Equal(t, float64(5), testutil.ToFloat64(f.metrics.InvitationsRejectedTotal.WithLabelValues("accept", "malformed_token")))
}

func TestExecute_PartnerNeverKeepsAdmins(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, partnerPayload("grace@example.com", `{"channelType":{"id":"7"},"groups":[{"id":"g-sales"},{"id":"g-admin"}]}`), CreateOptions{})
	require.NoError(t, f.dir.AddUserToGroup(context.Background(), res.Record.UserID, "g-admin"))

	got, err := f.orchestrator.Execute(context.Background(), res.Token)
	require.NoError(t, err)

	assert.Equal(t, []invite.GroupRef{
		{ID: "g-partners", Name: "Business-Partners"},
		{ID: "g-sales", Name: "sales"},
	}, got.AppliedGroups)
	assert.Empty(t, got.AppliedRoles)
	assert.ElementsMatch(t, []string{"sales", "Business-Partners"}, f.groupNames(t, got.UserID))
}

func TestExecute_PartnerGroupMissing(t *testing.T) {
	f := newFixture(t)
	policy := config.DefaultProvisioningPolicy()
	policy.PartnerGroupNames = []string{"channel-partners"}
	orchestrator := NewOrchestrator(f.dir, provisioning.NewRegistry(f.dir, policy)).WithClock(f.clock.Now)

	res := f.create(t, partnerPayload("grace@example.com", `{"channelType":{"id":"7"}}`), CreateOptions{})

	_, err := orchestrator.Execute(context.Background(), res.Token)
	var downstream *invite.DownstreamServiceError
	require.ErrorAs(t, err, &downstream)
	assert.ErrorIs(t, err, provisioning.ErrPartnerGroupMissing)

	stored := invite.Decode(f.user(t, res.Record.UserID))
	assert.Equal(t, invite.StatusPending, stored.Status)
}

func TestExecute_ProvisioningFailureLeavesInvitationPending(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, staffPayload("ada@example.com"), CreateOptions{})
	f.dir.FailOn("AddUserToGroup", errors.New("directory unavailable"))

	_, err := f.orchestrator.Execute(context.Background(), res.Token)
	var downstream *invite.DownstreamServiceError
	require.ErrorAs(t, err, &downstream)
	assert.Equal(t, "provision", downstream.Op)

	f.dir.FailOn("AddUserToGroup", nil)
	_, err = f.orchestrator.Execute(context.Background(), res.Token)
	require.NoError(t, err, "invitation stays redeemable after a provisioning failure")
}

func TestExecute_FinalizeFailure(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, staffPayload("ada@example.com"), CreateOptions{})
	f.dir.FailOn("UpdateUser", errors.New("write rejected"))

	_, err := f.orchestrator.Execute(context.Background(), res.Token)
	var downstream *invite.DownstreamServiceError
	require.ErrorAs(t, err, &downstream)
	assert.Equal(t, "update_user", downstream.Op)
}
