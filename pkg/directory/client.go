package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const searchPageSize = 100

// ClientConfig configures the admin API client
type ClientConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	// TokenURL overrides OpenID Connect discovery of the token endpoint
	TokenURL string
	Timeout  time.Duration
}

// RequestObserver records the outcome of each admin API call
type RequestObserver interface {
	ObserveDirectoryRequest(op, outcome string, duration time.Duration)
}

// Client implements Directory against a Keycloak-compatible admin REST API
type Client struct {
	adminURL   string
	httpClient *http.Client
	log        logrus.FieldLogger
	observer   RequestObserver
}

// NewClient creates an admin API client. The token endpoint is discovered from
// the realm's OpenID configuration unless cfg.TokenURL is set.
func NewClient(ctx context.Context, cfg ClientConfig, log logrus.FieldLogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("directory base URL is required")
	}
	if cfg.Realm == "" {
		return nil, fmt.Errorf("directory realm is required")
	}
	if log == nil {
		log = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	transport := otelhttp.NewTransport(http.DefaultTransport)
	baseClient := &http.Client{Transport: transport, Timeout: cfg.Timeout}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		issuer := base + "/realms/" + url.PathEscape(cfg.Realm)
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, baseClient), issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover token endpoint: %w", err)
		}
		tokenURL = provider.Endpoint().TokenURL
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	// The oauth2 client reuses baseClient for token requests.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = cfg.Timeout

	log.WithField("token_url", tokenURL).Debug("directory client configured")

	return &Client{
		adminURL:   base + "/admin/realms/" + url.PathEscape(cfg.Realm),
		httpClient: httpClient,
		log:        log,
	}, nil
}

// SetObserver attaches a request observer used for metrics
func (c *Client) SetObserver(o RequestObserver) {
	c.observer = o
}

// FindUsersByEmail returns users whose email matches exactly
func (c *Client) FindUsersByEmail(ctx context.Context, email string) ([]User, error) {
	q := url.Values{}
	q.Set("email", email)
	q.Set("exact", "true")
	q.Set("briefRepresentation", "false")

	var users []User
	if err := c.do(ctx, http.MethodGet, "find_users_by_email", "/users", q, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SearchUsersByAttribute returns all users holding attribute key=value
func (c *Client) SearchUsersByAttribute(ctx context.Context, key, value string) ([]User, error) {
	var all []User
	for first := 0; ; first += searchPageSize {
		q := url.Values{}
		q.Set("q", key+":"+value)
		q.Set("briefRepresentation", "false")
		q.Set("first", strconv.Itoa(first))
		q.Set("max", strconv.Itoa(searchPageSize))

		var page []User
		if err := c.do(ctx, http.MethodGet, "search_users", "/users", q, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < searchPageSize {
			return all, nil
		}
	}
}

// GetUser fetches a user by id
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "get_user", "/users/"+url.PathEscape(id), nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates a user and returns the id assigned by the directory
func (c *Client) CreateUser(ctx context.Context, user *User) (string, error) {
	resp, err := c.send(ctx, http.MethodPost, "create_user", "/users", nil, user)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("directory create_user returned no location")
	}
	return path.Base(location), nil
}

// UpdateUser replaces a user representation including its attributes
func (c *Client) UpdateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	return c.do(ctx, http.MethodPut, "update_user", "/users/"+url.PathEscape(user.ID), nil, user, nil)
}

// GetOrganization fetches an organization by id
func (c *Client) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	if err := c.do(ctx, http.MethodGet, "get_organization", "/organizations/"+url.PathEscape(id), nil, nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// AddOrganizationMember adds a user to an organization
func (c *Client) AddOrganizationMember(ctx context.Context, orgID, userID string) error {
	p := "/organizations/" + url.PathEscape(orgID) + "/members"
	return c.do(ctx, http.MethodPost, "add_organization_member", p, nil, userID, nil)
}

// InviteExistingUser asks the directory to send its organization invitation email
func (c *Client) InviteExistingUser(ctx context.Context, orgID, userID string) error {
	p := "/organizations/" + url.PathEscape(orgID) + "/members/invite-existing-user"
	form := url.Values{}
	form.Set("id", userID)

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL+p, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.roundTrip(req, "invite_existing_user", start)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListGroups returns every group in the realm, flattened
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	q := url.Values{}
	q.Set("briefRepresentation", "false")

	var groups []Group
	if err := c.do(ctx, http.MethodGet, "list_groups", "/groups", q, nil, &groups); err != nil {
		return nil, err
	}
	return Flatten(groups), nil
}

// ListUserGroups returns the groups a user belongs to
func (c *Client) ListUserGroups(ctx context.Context, userID string) ([]Group, error) {
	var groups []Group
	if err := c.do(ctx, http.MethodGet, "list_user_groups", "/users/"+url.PathEscape(userID)+"/groups", nil, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// AddUserToGroup joins a user to a group
func (c *Client) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	p := "/users/" + url.PathEscape(userID) + "/groups/" + url.PathEscape(groupID)
	return c.do(ctx, http.MethodPut, "add_user_to_group", p, nil, nil, nil)
}

// RemoveUserFromGroup removes a user from a group
func (c *Client) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	p := "/users/" + url.PathEscape(userID) + "/groups/" + url.PathEscape(groupID)
	return c.do(ctx, http.MethodDelete, "remove_user_from_group", p, nil, nil, nil)
}

// ListRealmRoles returns all realm roles
func (c *Client) ListRealmRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := c.do(ctx, http.MethodGet, "list_realm_roles", "/roles", nil, nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// AddRealmRoles assigns realm roles to a user in a single request
func (c *Client) AddRealmRoles(ctx context.Context, userID string, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	p := "/users/" + url.PathEscape(userID) + "/role-mappings/realm"
	return c.do(ctx, http.MethodPost, "add_realm_roles", p, nil, roles, nil)
}

func (c *Client) do(ctx context.Context, method, op, p string, query url.Values, body, out interface{}) error {
	resp, err := c.send(ctx, method, op, p, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, op, p string, query url.Values, body interface{}) (*http.Response, error) {
	start := time.Now()

	u := c.adminURL + p
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.roundTrip(req, op, start)
}

func (c *Client) roundTrip(req *http.Request, op string, start time.Time) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, "error", start)
		return nil, fmt.Errorf("directory %s request failed: %w", op, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.observe(op, "success", start)
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		c.observe(op, "not_found", start)
		return nil, fmt.Errorf("directory %s: %w", op, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		resp.Body.Close()
		c.observe(op, "conflict", start)
		return nil, fmt.Errorf("directory %s: %w", op, ErrConflict)
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.observe(op, "error", start)
		c.log.WithFields(logrus.Fields{
			"op":     op,
			"status": resp.StatusCode,
		}).Warn("directory request failed")
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
}

func (c *Client) observe(op, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveDirectoryRequest(op, outcome, time.Since(start))
	}
}

// Ping checks that the admin API is reachable and the credentials are accepted
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("max", "1")
	var users []User
	return c.do(ctx, http.MethodGet, "ping", "/users", q, nil, &users)
}
