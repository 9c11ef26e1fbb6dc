package validation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func staffPayload() *invite.Payload {
	return &invite.Payload{
		Type:           invite.TypeStaff,
		OrganizationID: "org-1",
		FirstName:      "Jane",
		LastName:       "Doe",
		Email:          "jane@example.com",
		Metadata:       json.RawMessage(`{"groups":[{"id":"g-1"}]}`),
	}
}

func partnerPayload() *invite.Payload {
	return &invite.Payload{
		Type:           invite.TypePartner,
		OrganizationID: "org-1",
		FirstName:      "Pat",
		LastName:       "Partner",
		Email:          "pat@partner.example",
		Metadata:       json.RawMessage(`{"channelType":{"id":42},"commissionPercent":10}`),
	}
}

func newMiddleware(dir directory.Directory) *Middleware {
	return New(dir).WithClock(func() time.Time { return testNow })
}

// seedInvite stores a user carrying an invitation with the given state
func seedInvite(t *testing.T, dir *directory.MemoryDirectory, email string, typ invite.Type, status invite.Status, expiresAt time.Time, joinedAt *time.Time) {
	t.Helper()
	ctx := context.Background()
	id, err := dir.CreateUser(ctx, &directory.User{Email: email})
	require.NoError(t, err)

	var md invite.Metadata = &invite.StaffMetadata{Groups: []invite.GroupRef{{ID: "g-1"}}}
	if typ == invite.TypePartner {
		md = &invite.PartnerMetadata{ChannelType: invite.ChannelTypeRef{ID: "42"}}
	}
	attrs, err := invite.Encode(nil, invite.Fields{
		ID:             "existing",
		Type:           typ,
		Status:         status,
		SecretHash:     "hash",
		Metadata:       md,
		OrganizationID: "org-1",
		CreatedAt:      expiresAt.Add(-24 * time.Hour),
		ExpiresAt:      expiresAt,
		JoinedAt:       joinedAt,
	})
	require.NoError(t, err)
	user, err := dir.GetUser(ctx, id)
	require.NoError(t, err)
	user.Attributes = attrs
	require.NoError(t, dir.UpdateUser(ctx, user))
}

func TestValidate_Valid(t *testing.T) {
	m := newMiddleware(directory.NewMemoryDirectory())

	md, err := m.Validate(context.Background(), staffPayload(), Options{})
	require.NoError(t, err)
	staff, ok := md.(*invite.StaffMetadata)
	require.True(t, ok)
	assert.Equal(t, "g-1", staff.Groups[0].ID)

	md, err = m.Validate(context.Background(), partnerPayload(), Options{})
	require.NoError(t, err)
	partner, ok := md.(*invite.PartnerMetadata)
	require.True(t, ok)
	assert.Equal(t, "42", partner.ChannelType.ID)
	assert.Equal(t, 10.0, *partner.CommissionPercent)
}

func TestValidate_NormalizesPayload(t *testing.T) {
	m := newMiddleware(directory.NewMemoryDirectory())
	p := staffPayload()
	p.Email = "  Jane@Example.COM "
	p.FirstName = " Jane "

	_, err := m.Validate(context.Background(), p, Options{})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", p.Email)
	assert.Equal(t, "Jane", p.FirstName)
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*invite.Payload)
		wantField string
	}{
		{name: "missing type", mutate: func(p *invite.Payload) { p.Type = "" }, wantField: "type"},
		{name: "unknown type", mutate: func(p *invite.Payload) { p.Type = "Vendor" }, wantField: "type"},
		{name: "missing organization", mutate: func(p *invite.Payload) { p.OrganizationID = "" }, wantField: "organizationId"},
		{name: "blank first name", mutate: func(p *invite.Payload) { p.FirstName = "   " }, wantField: "firstName"},
		{name: "long last name", mutate: func(p *invite.Payload) { p.LastName = strings.Repeat("x", 256) }, wantField: "lastName"},
		{name: "bad email", mutate: func(p *invite.Payload) { p.Email = "not-an-email" }, wantField: "email"},
		{name: "no groups", mutate: func(p *invite.Payload) { p.Metadata = json.RawMessage(`{"groups":[]}`) }, wantField: "metadata.groups"},
		{name: "missing metadata", mutate: func(p *invite.Payload) { p.Metadata = nil }, wantField: "metadata.groups"},
		{name: "group without id", mutate: func(p *invite.Payload) { p.Metadata = json.RawMessage(`{"groups":[{"name":"x"}]}`) }, wantField: "metadata.groups[0].id"},
		{name: "malformed metadata", mutate: func(p *invite.Payload) { p.Metadata = json.RawMessage(`{"groups":"x"}`) }, wantField: "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMiddleware(directory.NewMemoryDirectory())
			p := staffPayload()
			tt.mutate(p)

			_, err := m.Validate(context.Background(), p, Options{})
			var vErr *invite.ValidationError
			require.True(t, errors.As(err, &vErr), "expected validation error, got %v", err)
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.NotEmpty(t, vErr.Message)
		})
	}
}

func TestValidate_OnlyFirstErrorReported(t *testing.T) {
	m := newMiddleware(directory.NewMemoryDirectory())
	p := staffPayload()
	p.FirstName = ""
	p.Email = "bad"

	_, err := m.Validate(context.Background(), p, Options{})
	var vErr *invite.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "firstName", vErr.Field)
	assert.NotContains(t, vErr.Error(), "email")
}

func TestValidate_PartnerMetadata(t *testing.T) {
	tests := []struct {
		name      string
		metadata  string
		wantField string
	}{
		{name: "missing channel type", metadata: `{"commissionPercent":10}`, wantField: "metadata.channelType.id"},
		{name: "commission over 100", metadata: `{"channelType":{"id":"42"},"commissionPercent":100.5}`, wantField: "metadata.commissionPercent"},
		{name: "negative commission", metadata: `{"channelType":{"id":"42"},"commissionPercent":-1}`, wantField: "metadata.commissionPercent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMiddleware(directory.NewMemoryDirectory())
			p := partnerPayload()
			p.Metadata = json.RawMessage(tt.metadata)

			_, err := m.Validate(context.Background(), p, Options{})
			var vErr *invite.ValidationError
			require.True(t, errors.As(err, &vErr), "expected validation error, got %v", err)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}

	m := newMiddleware(directory.NewMemoryDirectory())
	p := partnerPayload()
	p.Metadata = json.RawMessage(`{"channelType":{"id":"42"},"commissionPercent":100}`)
	_, err := m.Validate(context.Background(), p, Options{})
	assert.NoError(t, err, "boundary commission of 100 is allowed")
}

func TestValidate_DuplicateRules(t *testing.T) {
	justJoined := testNow.Add(-2 * time.Minute)
	longAgo := testNow.Add(-10 * time.Minute)

	tests := []struct {
		name      string
		typ       invite.Type
		status    invite.Status
		expiresAt time.Time
		joinedAt  *time.Time
		wantDup   bool
	}{
		{name: "pending and live", typ: invite.TypeStaff, status: invite.StatusPending, expiresAt: testNow.Add(time.Hour), wantDup: true},
		{name: "pending but expired", typ: invite.TypeStaff, status: invite.StatusPending, expiresAt: testNow.Add(-time.Hour)},
		{name: "pending expiring exactly now", typ: invite.TypeStaff, status: invite.StatusPending, expiresAt: testNow},
		{name: "accepted moments ago", typ: invite.TypeStaff, status: invite.StatusAccepted, expiresAt: testNow.Add(time.Hour), joinedAt: &justJoined, wantDup: true},
		{name: "accepted long ago", typ: invite.TypeStaff, status: invite.StatusAccepted, expiresAt: testNow.Add(time.Hour), joinedAt: &longAgo},
		{name: "different type", typ: invite.TypePartner, status: invite.StatusPending, expiresAt: testNow.Add(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := directory.NewMemoryDirectory()
			seedInvite(t, dir, "jane@example.com", tt.typ, tt.status, tt.expiresAt, tt.joinedAt)
			m := newMiddleware(dir)

			_, err := m.Validate(context.Background(), staffPayload(), Options{})
			if !tt.wantDup {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, invite.ErrDuplicateInvite)
			var dup *invite.DuplicateInviteError
			require.True(t, errors.As(err, &dup))
			assert.Equal(t, "existing", dup.ExistingID)

			_, err = m.Validate(context.Background(), staffPayload(), Options{AllowDuplicate: true})
			assert.NoError(t, err)
		})
	}
}

func TestValidate_DuplicateCheckBeforeMetadata(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	seedInvite(t, dir, "jane@example.com", invite.TypeStaff, invite.StatusPending, testNow.Add(time.Hour), nil)
	m := newMiddleware(dir)

	p := staffPayload()
	p.Metadata = json.RawMessage(`{"groups":[]}`)
	_, err := m.Validate(context.Background(), p, Options{})
	assert.ErrorIs(t, err, invite.ErrDuplicateInvite)
}

func TestValidate_DirectoryFailure(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	dir.FailOn("FindUsersByEmail", errors.New("connection refused"))
	m := newMiddleware(dir)

	_, err := m.Validate(context.Background(), staffPayload(), Options{})
	var ds *invite.DownstreamServiceError
	require.True(t, errors.As(err, &ds))
	assert.Equal(t, "directory", ds.Service)

	_, err = m.Validate(context.Background(), staffPayload(), Options{AllowDuplicate: true})
	assert.NoError(t, err, "directory is not consulted when duplicates are allowed")
}

func TestValidate_NilPayload(t *testing.T) {
	m := newMiddleware(directory.NewMemoryDirectory())
	_, err := m.Validate(context.Background(), nil, Options{})
	assert.True(t, invite.IsValidationError(err))
}
