package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-process Directory used for tests and local development
type MemoryDirectory struct {
	mu         sync.RWMutex
	users      map[string]*User
	userGroups map[string]map[string]bool
	userRoles  map[string]map[string]bool
	orgs       map[string]*Organization
	members    map[string]map[string]bool
	invited    map[string][]string
	groups     []Group
	roles      []Role
	failures   map[string]error
	calls      map[string]int
}

// NewMemoryDirectory creates an empty in-memory directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:      make(map[string]*User),
		userGroups: make(map[string]map[string]bool),
		userRoles:  make(map[string]map[string]bool),
		orgs:       make(map[string]*Organization),
		members:    make(map[string]map[string]bool),
		invited:    make(map[string][]string),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

// AddOrganization registers an organization
func (m *MemoryDirectory) AddOrganization(org Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := org
	o.Attributes = org.Attributes.Clone()
	m.orgs[org.ID] = &o
}

// AddGroup registers a group
func (m *MemoryDirectory) AddGroup(g Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = append(m.groups, g)
}

// AddRole registers a realm role
func (m *MemoryDirectory) AddRole(r Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles = append(m.roles, r)
}

// FailOn makes every subsequent call of op return err. A nil err clears the failure.
func (m *MemoryDirectory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op has been invoked
func (m *MemoryDirectory) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// IsMember reports whether a user belongs to an organization
func (m *MemoryDirectory) IsMember(orgID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[orgID][userID]
}

// Invitations returns the user ids that were sent the organization invitation email
func (m *MemoryDirectory) Invitations(orgID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.invited[orgID]...)
}

// UserRoleNames returns the realm role names assigned to a user
func (m *MemoryDirectory) UserRoleNames(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, r := range m.roles {
		if m.userRoles[userID][r.ID] {
			names = append(names, r.Name)
		}
	}
	return names
}

func (m *MemoryDirectory) enter(op string) error {
	m.calls[op]++
	return m.failures[op]
}

func copyUser(u *User) *User {
	c := *u
	c.Attributes = u.Attributes.Clone()
	return &c
}

// FindUsersByEmail implements Directory
func (m *MemoryDirectory) FindUsersByEmail(ctx context.Context, email string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindUsersByEmail"); err != nil {
		return nil, err
	}

	var out []User
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			out = append(out, *copyUser(u))
		}
	}
	return out, nil
}

// SearchUsersByAttribute implements Directory
func (m *MemoryDirectory) SearchUsersByAttribute(ctx context.Context, key, value string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SearchUsersByAttribute"); err != nil {
		return nil, err
	}

	var out []User
	for _, u := range m.users {
		for _, v := range u.Attributes[key] {
			if v == value {
				out = append(out, *copyUser(u))
				break
			}
		}
	}
	return out, nil
}

// GetUser implements Directory
func (m *MemoryDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUser"); err != nil {
		return nil, err
	}

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return copyUser(u), nil
}

// CreateUser implements Directory
func (m *MemoryDirectory) CreateUser(ctx context.Context, user *User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateUser"); err != nil {
		return "", err
	}

	for _, u := range m.users {
		if user.Email != "" && strings.EqualFold(u.Email, user.Email) {
			return "", fmt.Errorf("user %s: %w", user.Email, ErrConflict)
		}
	}

	c := copyUser(user)
	c.ID = uuid.New().String()
	if c.Username == "" {
		c.Username = strings.ToLower(c.Email)
	}
	m.users[c.ID] = c
	return c.ID, nil
}

// UpdateUser implements Directory
func (m *MemoryDirectory) UpdateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateUser"); err != nil {
		return err
	}

	if _, ok := m.users[user.ID]; !ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	m.users[user.ID] = copyUser(user)
	return nil
}

// GetOrganization implements Directory
func (m *MemoryDirectory) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetOrganization"); err != nil {
		return nil, err
	}

	org, ok := m.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	c := *org
	c.Attributes = org.Attributes.Clone()
	return &c, nil
}

// AddOrganizationMember implements Directory
func (m *MemoryDirectory) AddOrganizationMember(ctx context.Context, orgID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddOrganizationMember"); err != nil {
		return err
	}

	if _, ok := m.orgs[orgID]; !ok {
		return fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	if m.members[orgID] == nil {
		m.members[orgID] = make(map[string]bool)
	}
	if m.members[orgID][userID] {
		return fmt.Errorf("member %s: %w", userID, ErrConflict)
	}
	m.members[orgID][userID] = true
	return nil
}

// InviteExistingUser implements Directory
func (m *MemoryDirectory) InviteExistingUser(ctx context.Context, orgID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InviteExistingUser"); err != nil {
		return err
	}

	if _, ok := m.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	m.invited[orgID] = append(m.invited[orgID], userID)
	return nil
}

// ListGroups implements Directory
func (m *MemoryDirectory) ListGroups(ctx context.Context) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListGroups"); err != nil {
		return nil, err
	}
	return Flatten(m.groups), nil
}

// ListUserGroups implements Directory
func (m *MemoryDirectory) ListUserGroups(ctx context.Context, userID string) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListUserGroups"); err != nil {
		return nil, err
	}

	var out []Group
	for _, g := range Flatten(m.groups) {
		if m.userGroups[userID][g.ID] {
			out = append(out, g)
		}
	}
	return out, nil
}

// AddUserToGroup implements Directory
func (m *MemoryDirectory) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddUserToGroup"); err != nil {
		return err
	}

	if _, ok := m.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if m.userGroups[userID] == nil {
		m.userGroups[userID] = make(map[string]bool)
	}
	m.userGroups[userID][groupID] = true
	return nil
}

// RemoveUserFromGroup implements Directory
func (m *MemoryDirectory) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RemoveUserFromGroup"); err != nil {
		return err
	}

	delete(m.userGroups[userID], groupID)
	return nil
}

// ListRealmRoles implements Directory
func (m *MemoryDirectory) ListRealmRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListRealmRoles"); err != nil {
		return nil, err
	}
	return append([]Role(nil), m.roles...), nil
}

// AddRealmRoles implements Directory
func (m *MemoryDirectory) AddRealmRoles(ctx context.Context, userID string, roles []Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddRealmRoles"); err != nil {
		return err
	}

	if m.userRoles[userID] == nil {
		m.userRoles[userID] = make(map[string]bool)
	}
	for _, r := range roles {
		m.userRoles[userID][r.ID] = true
	}
	return nil
}

// Ping always succeeds
func (m *MemoryDirectory) Ping(ctx context.Context) error {
	return nil
}
