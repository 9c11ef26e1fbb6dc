package invite

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Type identifies the kind of person being invited
type Type string

const (
	TypeStaff   Type = "Staff"
	TypePartner Type = "Partner"
)

// Valid reports whether t is a known invite type
func (t Type) Valid() bool {
	switch t {
	case TypeStaff, TypePartner:
		return true
	}
	return false
}

// Status is the persisted lifecycle state of an invitation
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// GroupRef references a directory group
type GroupRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name,omitempty"`
}

// RoleRef references a realm role by id or name
type RoleRef struct {
	ID   string `json:"id,omitempty" validate:"required_without=Name"`
	Name string `json:"name,omitempty" validate:"required_without=ID"`
}

// ChannelTypeRef references a channel type in the channel-type service
type ChannelTypeRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON accepts the id as either a JSON string or number
func (c *ChannelTypeRef) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Name = raw.Name
	c.ID = ""
	if len(raw.ID) == 0 || string(raw.ID) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		c.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err != nil {
		return fmt.Errorf("channel type id must be a string or number")
	}
	c.ID = n.String()
	return nil
}

// Metadata is the type-specific part of an invitation.
// It is implemented only by *StaffMetadata and *PartnerMetadata.
type Metadata interface {
	InviteType() Type
	GroupRefs() []GroupRef
	sealed()
}

// StaffMetadata carries the groups and roles granted to a staff member
type StaffMetadata struct {
	Groups []GroupRef `json:"groups" validate:"required,min=1,dive"`
	Roles  []RoleRef  `json:"roles,omitempty" validate:"omitempty,dive"`
	Note   string     `json:"note,omitempty" validate:"max=1000"`
}

// InviteType implements Metadata
func (*StaffMetadata) InviteType() Type {
	return TypeStaff
}

// GroupRefs implements Metadata
func (m *StaffMetadata) GroupRefs() []GroupRef {
	return m.Groups
}

func (*StaffMetadata) sealed() {}

// PartnerMetadata carries the channel type and commission of a business partner
type PartnerMetadata struct {
	ChannelType       ChannelTypeRef `json:"channelType"`
	CommissionPercent *float64       `json:"commissionPercent,omitempty" validate:"omitempty,gte=0,lte=100"`
	Groups            []GroupRef     `json:"groups,omitempty" validate:"omitempty,dive"`
	Note              string         `json:"note,omitempty" validate:"max=1000"`
}

// InviteType implements Metadata
func (*PartnerMetadata) InviteType() Type {
	return TypePartner
}

// GroupRefs implements Metadata
func (m *PartnerMetadata) GroupRefs() []GroupRef {
	return m.Groups
}

func (*PartnerMetadata) sealed() {}

// CommissionString formats the commission percent the way personalization templates expect
func (m *PartnerMetadata) CommissionString() string {
	if m.CommissionPercent == nil {
		return ""
	}
	return strconv.FormatFloat(*m.CommissionPercent, 'f', -1, 64)
}

// NewMetadata returns an empty metadata value for t
func NewMetadata(t Type) (Metadata, error) {
	switch t {
	case TypeStaff:
		return &StaffMetadata{}, nil
	case TypePartner:
		return &PartnerMetadata{}, nil
	}
	return nil, fmt.Errorf("unknown invite type %q", t)
}

// ParseMetadata decodes raw JSON into the metadata type for t
func ParseMetadata(t Type, raw []byte) (Metadata, error) {
	md, err := NewMetadata(t)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return md, nil
	}
	if err := json.Unmarshal(raw, md); err != nil {
		return nil, fmt.Errorf("invalid %s metadata: %w", t, err)
	}
	return md, nil
}

// Invitation is an invitation reconstructed from a directory user's attributes
type Invitation struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	OrganizationID string     `json:"organizationId"`
	Type           Type       `json:"type"`
	Status         Status     `json:"status"`
	Metadata       Metadata   `json:"metadata"`
	SecretHash     string     `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	JoinedAt       *time.Time `json:"joinedAt,omitempty"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Email          string     `json:"email"`
	EmailVerified  bool       `json:"emailVerified"`
}

// UnmarshalJSON decodes metadata into the concrete type named by "type"
func (i *Invitation) UnmarshalJSON(data []byte) error {
	type plain Invitation
	aux := struct {
		*plain
		Metadata json.RawMessage `json:"metadata"`
	}{plain: (*plain)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Metadata) == 0 || string(aux.Metadata) == "null" {
		i.Metadata = nil
		return nil
	}
	md, err := ParseMetadata(i.Type, aux.Metadata)
	if err != nil {
		return err
	}
	i.Metadata = md
	return nil
}

// EffectiveStatus reports the status as of now; a pending invitation past its
// expiry is reported as expired without being rewritten.
func (i *Invitation) EffectiveStatus(now time.Time) Status {
	if i.Status == StatusPending && !now.Before(i.ExpiresAt) {
		return StatusExpired
	}
	return i.Status
}

// Sanitized returns a copy without the secret hash
func (i *Invitation) Sanitized() *Invitation {
	c := *i
	c.SecretHash = ""
	return &c
}

// Payload is the request to create an invitation
type Payload struct {
	Type           Type            `json:"type" validate:"required,oneof=Staff Partner"`
	OrganizationID string          `json:"organizationId" validate:"required,max=255"`
	FirstName      string          `json:"firstName" validate:"required,max=255"`
	LastName       string          `json:"lastName" validate:"required,max=255"`
	Email          string          `json:"email" validate:"required,email,max=254"`
	Metadata       json.RawMessage `json:"metadata"`
}
