package onboarding

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/onboard/pkg/channels"
	"github.com/platinummonkey/onboard/pkg/config"
	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/observability"
	"github.com/platinummonkey/onboard/pkg/provisioning"
	"github.com/platinummonkey/onboard/pkg/validation"
)

const testOrg = "org-acme"

var baseTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

var resellerRate = 12.5

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeChannels struct {
	mu    sync.Mutex
	types map[string]*channels.ChannelType
	err   error
	calls int
}

func (f *fakeChannels) GetChannelType(ctx context.Context, id string) (*channels.ChannelType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ct, ok := f.types[id]
	if !ok {
		return nil, channels.ErrNotFound
	}
	c := *ct
	return &c, nil
}

type fixture struct {
	dir          *directory.MemoryDirectory
	channels     *fakeChannels
	clock        *testClock
	registry     *prometheus.Registry
	metrics      *observability.Metrics
	factory      *Factory
	orchestrator *Orchestrator
	service      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := directory.NewMemoryDirectory()
	dir.AddOrganization(directory.Organization{
		ID:         testOrg,
		Name:       "acme",
		Enabled:    true,
		Attributes: directory.Attributes{"displayName": {"Acme Corp"}},
	})
	dir.AddOrganization(directory.Organization{ID: "org-globex", Name: "globex", Enabled: true})
	dir.AddGroup(directory.Group{ID: "g-eng", Name: "engineering"})
	dir.AddGroup(directory.Group{ID: "g-sales", Name: "sales"})
	dir.AddGroup(directory.Group{ID: "g-admin", Name: "Admins"})
	dir.AddGroup(directory.Group{ID: "g-partners", Name: "Business-Partners"})
	dir.AddRole(directory.Role{ID: "r-view", Name: "viewer"})
	dir.AddRole(directory.Role{ID: "r-edit", Name: "editor"})

	ch := &fakeChannels{types: map[string]*channels.ChannelType{
		"7":  {ID: "7", Name: "Reseller", CommissionRate: &resellerRate},
		"99": {ID: "99"},
	}}
	clock := &testClock{now: baseTime}
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	factory := NewFactory(dir, ch, validation.New(dir).WithClock(clock.Now), FactoryConfig{AppURL: "https://app.example.com"}).
		WithMetrics(metrics).
		WithClock(clock.Now)
	orchestrator := NewOrchestrator(dir, provisioning.NewRegistry(dir, config.DefaultProvisioningPolicy())).
		WithMetrics(metrics).
		WithClock(clock.Now)

	return &fixture{
		dir:          dir,
		channels:     ch,
		clock:        clock,
		registry:     registry,
		metrics:      metrics,
		factory:      factory,
		orchestrator: orchestrator,
		service:      NewService(dir, factory, orchestrator).WithClock(clock.Now),
	}
}

func staffPayload(email string) *invite.Payload {
	return &invite.Payload{
		Type:           invite.TypeStaff,
		OrganizationID: testOrg,
		FirstName:      "Ada",
		LastName:       "Lovelace",
		Email:          email,
		Metadata:       json.RawMessage(`{"groups":[{"id":"g-eng","name":"engineering"}],"roles":[{"name":"viewer"}]}`),
	}
}

func partnerPayload(email, metadata string) *invite.Payload {
	return &invite.Payload{
		Type:           invite.TypePartner,
		OrganizationID: testOrg,
		FirstName:      "Grace",
		LastName:       "Hopper",
		Email:          email,
		Metadata:       json.RawMessage(metadata),
	}
}

// create issues an invitation and fails the test on error
func (f *fixture) create(t *testing.T, p *invite.Payload, opts CreateOptions) *CreateResult {
	t.Helper()
	res, err := f.service.CreateInvite(context.Background(), p, opts)
	require.NoError(t, err)
	return res
}

func (f *fixture) user(t *testing.T, id string) *directory.User {
	t.Helper()
	u, err := f.dir.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) groupNames(t *testing.T, userID string) []string {
	t.Helper()
	groups, err := f.dir.ListUserGroups(context.Background(), userID)
	require.NoError(t, err)
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}

func attr(u *directory.User, key string) string {
	v, _ := u.Attributes.Get(key)
	return v
}

// tamper changes the last character of the token's secret
func tamper(token string) string {
	last := token[len(token)-1]
	replacement := "A"
	if last == 'A' {
		replacement = "B"
	}
	return strings.TrimSuffix(token, string(last)) + replacement
}
