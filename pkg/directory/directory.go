package directory

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the directory reports the entity already exists
	ErrConflict = errors.New("conflict")
)

// StatusError carries an unexpected HTTP status returned by the directory
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("directory %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Attributes is the directory's generic multi-valued attribute bag
type Attributes map[string][]string

// Get returns the first value for key
func (a Attributes) Get(key string) (string, bool) {
	values, ok := a[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Clone returns a deep copy
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// User is a directory user account
type User struct {
	ID            string     `json:"id,omitempty"`
	Username      string     `json:"username,omitempty"`
	Email         string     `json:"email,omitempty"`
	FirstName     string     `json:"firstName,omitempty"`
	LastName      string     `json:"lastName,omitempty"`
	Enabled       bool       `json:"enabled"`
	EmailVerified bool       `json:"emailVerified"`
	Attributes    Attributes `json:"attributes,omitempty"`
}

// Group is a directory group
type Group struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Path      string  `json:"path,omitempty"`
	SubGroups []Group `json:"subGroups,omitempty"`
}

// Role is a realm-level role
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Organization is a tenant in the directory
type Organization struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Alias       string     `json:"alias,omitempty"`
	Description string     `json:"description,omitempty"`
	Enabled     bool       `json:"enabled"`
	Attributes  Attributes `json:"attributes,omitempty"`
}

// DisplayName returns the organization's display name attribute, falling back to its name
func (o *Organization) DisplayName() string {
	if v, ok := o.Attributes.Get("displayName"); ok && v != "" {
		return v
	}
	return o.Name
}

// Directory is the subset of the identity directory admin API used for onboarding
type Directory interface {
	FindUsersByEmail(ctx context.Context, email string) ([]User, error)
	SearchUsersByAttribute(ctx context.Context, key, value string) ([]User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, user *User) (string, error)
	UpdateUser(ctx context.Context, user *User) error

	GetOrganization(ctx context.Context, id string) (*Organization, error)
	AddOrganizationMember(ctx context.Context, orgID, userID string) error
	InviteExistingUser(ctx context.Context, orgID, userID string) error

	ListGroups(ctx context.Context) ([]Group, error)
	ListUserGroups(ctx context.Context, userID string) ([]Group, error)
	AddUserToGroup(ctx context.Context, userID, groupID string) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID string) error

	ListRealmRoles(ctx context.Context) ([]Role, error)
	AddRealmRoles(ctx context.Context, userID string, roles []Role) error
}

// Flatten returns groups and all of their nested subgroups in depth-first order
func Flatten(groups []Group) []Group {
	var out []Group
	for _, g := range groups {
		sub := g.SubGroups
		g.SubGroups = nil
		out = append(out, g)
		out = append(out, Flatten(sub)...)
	}
	return out
}
