package invite

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/onboard/pkg/directory"
)

// Invitation attribute keys stored on the directory user
const (
	AttrID             = "access_invite_id"
	AttrType           = "access_invite_type"
	AttrStatus         = "access_invite_status"
	AttrSecretHash     = "access_invite_secret_hash"
	AttrMetadata       = "access_invite_metadata"
	AttrOrganizationID = "access_invite_organization_id"
	AttrCreatedAt      = "access_invite_created_at"
	AttrExpiresAt      = "access_invite_expires_at"
	AttrJoinedAt       = "access_invite_joined_at"
)

// Personalization attribute keys read by the directory's invitation email template
const (
	AttrUserType                  = "user_type"
	AttrTemplateOrganizationID    = "organization_id"
	AttrOrganizationName          = "organization_name"
	AttrOrganizationDisplayName   = "organization_display_name"
	AttrMagicLinkToken            = "magic_link_token"
	AttrCustomAppURL              = "custom_app_url"
	AttrInvitationExpiryHours     = "invitation_expiry_hours"
	AttrChannelTypeID             = "channel_type_id"
	AttrChannelTypeName           = "channel_type_name"
	AttrChannelTypeCommissionRate = "channel_type_commission_rate"
)

// Fields are the invitation values written by Encode
type Fields struct {
	ID             string
	Type           Type
	Status         Status
	SecretHash     string
	Metadata       Metadata
	OrganizationID string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	JoinedAt       *time.Time
}

// Personalization are the values the invitation email template renders
type Personalization struct {
	UserType                Type
	OrganizationID          string
	OrganizationName        string
	OrganizationDisplayName string
	MagicLinkToken          string
	CustomAppURL            string
	ExpiryHours             int
	ChannelTypeID           string
	ChannelTypeName         string
	CommissionRate          string
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func encodeMetadata(md Metadata) (string, error) {
	data, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	tag, _ := json.Marshal(md.InviteType())
	obj["type"] = tag

	data, err = json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

// Encode merges the invitation fields into a copy of existing. Every value is
// stored as a single-element list. A nil JoinedAt removes the joined timestamp
// and an empty SecretHash removes the stored hash.
func Encode(existing directory.Attributes, f Fields) (directory.Attributes, error) {
	if f.Metadata == nil {
		return nil, fmt.Errorf("metadata is required")
	}
	if f.Metadata.InviteType() != f.Type {
		return nil, fmt.Errorf("metadata type %s does not match invite type %s", f.Metadata.InviteType(), f.Type)
	}
	md, err := encodeMetadata(f.Metadata)
	if err != nil {
		return nil, err
	}

	out := existing.Clone()
	out[AttrID] = []string{f.ID}
	out[AttrType] = []string{string(f.Type)}
	out[AttrStatus] = []string{string(f.Status)}
	out[AttrMetadata] = []string{md}
	out[AttrOrganizationID] = []string{f.OrganizationID}
	out[AttrCreatedAt] = []string{formatTime(f.CreatedAt)}
	out[AttrExpiresAt] = []string{formatTime(f.ExpiresAt)}

	if f.SecretHash != "" {
		out[AttrSecretHash] = []string{f.SecretHash}
	} else {
		delete(out, AttrSecretHash)
	}
	if f.JoinedAt != nil {
		out[AttrJoinedAt] = []string{formatTime(*f.JoinedAt)}
	} else {
		delete(out, AttrJoinedAt)
	}
	return out, nil
}

// ClearSecret returns a copy of attrs without the secret hash or the one-time
// magic link token. All other keys are preserved.
func ClearSecret(attrs directory.Attributes) directory.Attributes {
	out := attrs.Clone()
	delete(out, AttrSecretHash)
	delete(out, AttrMagicLinkToken)
	return out
}

// MarkAccepted returns a copy of attrs with status ACCEPTED and the joined timestamp set
func MarkAccepted(attrs directory.Attributes, joinedAt time.Time) directory.Attributes {
	out := attrs.Clone()
	out[AttrStatus] = []string{string(StatusAccepted)}
	out[AttrJoinedAt] = []string{formatTime(joinedAt)}
	return out
}

// MergePersonalization returns a copy of attrs with the email template values set.
// Channel type keys are removed when empty.
func MergePersonalization(attrs directory.Attributes, p Personalization) directory.Attributes {
	out := attrs.Clone()
	set := func(key, value string) {
		if value == "" {
			delete(out, key)
			return
		}
		out[key] = []string{value}
	}

	set(AttrUserType, string(p.UserType))
	set(AttrTemplateOrganizationID, p.OrganizationID)
	set(AttrOrganizationName, p.OrganizationName)
	set(AttrOrganizationDisplayName, p.OrganizationDisplayName)
	set(AttrMagicLinkToken, p.MagicLinkToken)
	set(AttrCustomAppURL, p.CustomAppURL)
	set(AttrInvitationExpiryHours, strconv.Itoa(p.ExpiryHours))
	set(AttrChannelTypeID, p.ChannelTypeID)
	set(AttrChannelTypeName, p.ChannelTypeName)
	set(AttrChannelTypeCommissionRate, p.CommissionRate)
	return out
}

// Decode reconstructs the invitation stored on a user. It returns nil when the
// user carries no invitation or any required value is missing or unparsable.
func Decode(user *directory.User) *Invitation {
	if user == nil {
		return nil
	}
	attrs := user.Attributes

	id, ok := attrs.Get(AttrID)
	if !ok || id == "" {
		return nil
	}
	typ, ok := attrs.Get(AttrType)
	if !ok || !Type(typ).Valid() {
		return nil
	}
	status, ok := attrs.Get(AttrStatus)
	if !ok || status == "" {
		return nil
	}
	orgID, ok := attrs.Get(AttrOrganizationID)
	if !ok || orgID == "" {
		return nil
	}

	createdRaw, ok := attrs.Get(AttrCreatedAt)
	if !ok {
		return nil
	}
	createdAt, err := parseTime(createdRaw)
	if err != nil {
		return nil
	}
	expiresRaw, ok := attrs.Get(AttrExpiresAt)
	if !ok {
		return nil
	}
	expiresAt, err := parseTime(expiresRaw)
	if err != nil {
		return nil
	}

	var joinedAt *time.Time
	if raw, ok := attrs.Get(AttrJoinedAt); ok && raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return nil
		}
		joinedAt = &t
	}

	mdRaw, ok := attrs.Get(AttrMetadata)
	if !ok {
		return nil
	}
	md, err := ParseMetadata(Type(typ), []byte(mdRaw))
	if err != nil {
		return nil
	}

	secretHash, _ := attrs.Get(AttrSecretHash)

	return &Invitation{
		ID:             id,
		UserID:         user.ID,
		OrganizationID: orgID,
		Type:           Type(typ),
		Status:         Status(status),
		Metadata:       md,
		SecretHash:     secretHash,
		CreatedAt:      createdAt,
		ExpiresAt:      expiresAt,
		JoinedAt:       joinedAt,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		Email:          user.Email,
		EmailVerified:  user.EmailVerified,
	}
}
