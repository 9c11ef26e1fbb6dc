package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/onboard/pkg/httputil"
	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/onboarding"
)

// mockInvitationService is a mock implementation of InvitationService for testing
type mockInvitationService struct {
	createInviteFunc func(ctx context.Context, p *invite.Payload, opts onboarding.CreateOptions) (*onboarding.CreateResult, error)
	listInvitesFunc  func(ctx context.Context, params onboarding.ListParams) (*onboarding.ListResult, error)
	acceptInviteFunc func(ctx context.Context, token string) (*onboarding.AcceptanceResult, error)
	statsFunc        func(ctx context.Context, orgID string) (*onboarding.Stats, error)
}

func (m *mockInvitationService) CreateInvite(ctx context.Context, p *invite.Payload, opts onboarding.CreateOptions) (*onboarding.CreateResult, error) {
	if m.createInviteFunc != nil {
		return m.createInviteFunc(ctx, p, opts)
	}
	return &onboarding.CreateResult{Record: &invite.Invitation{ID: "inv-1"}, Token: "inv-1.user-1.secret"}, nil
}

func (m *mockInvitationService) ListInvites(ctx context.Context, params onboarding.ListParams) (*onboarding.ListResult, error) {
	if m.listInvitesFunc != nil {
		return m.listInvitesFunc(ctx, params)
	}
	return &onboarding.ListResult{Invitations: []*invite.Invitation{}, CurrentPage: 1}, nil
}

func (m *mockInvitationService) AcceptInvite(ctx context.Context, token string) (*onboarding.AcceptanceResult, error) {
	if m.acceptInviteFunc != nil {
		return m.acceptInviteFunc(ctx, token)
	}
	return &onboarding.AcceptanceResult{Status: invite.StatusAccepted}, nil
}

func (m *mockInvitationService) Stats(ctx context.Context, orgID string) (*onboarding.Stats, error) {
	if m.statsFunc != nil {
		return m.statsFunc(ctx, orgID)
	}
	return &onboarding.Stats{OrganizationID: orgID}, nil
}

func newTestRouter(svc InvitationService) *mux.Router {
	router := mux.NewRouter()
	NewInvitationHandlers(svc).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestCreateInvitation(t *testing.T) {
	var gotPayload *invite.Payload
	var gotOpts onboarding.CreateOptions
	svc := &mockInvitationService{
		createInviteFunc: func(ctx context.Context, p *invite.Payload, opts onboarding.CreateOptions) (*onboarding.CreateResult, error) {
			gotPayload, gotOpts = p, opts
			return &onboarding.CreateResult{
				Record: &invite.Invitation{ID: "inv-1", OrganizationID: p.OrganizationID, Status: invite.StatusPending, SecretHash: "must-not-leak"},
				Token:  "inv-1.user-1.secret",
			}, nil
		},
	}

	rr := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/v1/orgs/org-acme/invitations", map[string]interface{}{
		"type":             "Staff",
		"organizationId":   "org-other",
		"firstName":        "Ada",
		"lastName":         "Lovelace",
		"email":            "ada@example.com",
		"metadata":         map[string]interface{}{"groups": []map[string]string{{"id": "g-eng"}}},
		"expiresInMinutes": 90,
		"allowDuplicate":   true,
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, gotPayload)
	assert.Equal(t, "org-acme", gotPayload.OrganizationID, "path organization wins")
	assert.Equal(t, invite.TypeStaff, gotPayload.Type)
	assert.JSONEq(t, `{"groups":[{"id":"g-eng"}]}`, string(gotPayload.Metadata))
	assert.Equal(t, onboarding.CreateOptions{ExpiresInMinutes: 90, AllowDuplicate: true}, gotOpts)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "inv-1.user-1.secret", body["token"])
	assert.NotContains(t, rr.Body.String(), "must-not-leak")
}

func TestCreateInvitation_InvalidJSON(t *testing.T) {
	called := false
	svc := &mockInvitationService{
		createInviteFunc: func(ctx context.Context, p *invite.Payload, opts onboarding.CreateOptions) (*onboarding.CreateResult, error) {
			called = true
			return nil, nil
		},
	}

	rr := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/v1/orgs/org-acme/invitations", "{not json")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, called)
}

func TestCreateInvitation_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantField  string
	}{
		{"validation", &invite.ValidationError{Field: "email", Message: "must be a valid email address"}, http.StatusBadRequest, "email"},
		{"duplicate", &invite.DuplicateInviteError{Email: "a@b.c", OrganizationID: "org-acme", Type: invite.TypeStaff, ExistingStatus: invite.StatusPending}, http.StatusConflict, ""},
		{"in progress", invite.ErrInviteInProgress, http.StatusConflict, ""},
		{"organization not found", invite.ErrOrganizationNotFound, http.StatusNotFound, ""},
		{"downstream", invite.Downstream("directory", "create_user", errors.New("dial tcp 10.0.0.1:8443: refused")), http.StatusBadGateway, ""},
		{"not persisted", invite.ErrRecordNotPersisted, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockInvitationService{
				createInviteFunc: func(ctx context.Context, p *invite.Payload, opts onboarding.CreateOptions) (*onboarding.CreateResult, error) {
					return nil, tt.err
				},
			}
			rr := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/v1/orgs/org-acme/invitations", map[string]string{"type": "Staff"})

			assert.Equal(t, tt.wantStatus, rr.Code)
			resp := decodeError(t, rr)
			assert.Equal(t, tt.wantField, resp.Field)
			assert.NotEmpty(t, resp.Error)
			assert.NotContains(t, resp.Error, "10.0.0.1")
		})
	}
}

func TestListInvitations_PassesQuery(t *testing.T) {
	var got onboarding.ListParams
	svc := &mockInvitationService{
		listInvitesFunc: func(ctx context.Context, params onboarding.ListParams) (*onboarding.ListResult, error) {
			got = params
			return &onboarding.ListResult{
				Invitations: []*invite.Invitation{{ID: "inv-1", CreatedAt: time.Now()}},
				TotalCount:  1,
				CurrentPage: params.Page,
				TotalPages:  1,
			}, nil
		},
	}

	rr := doJSON(t, newTestRouter(svc), http.MethodGet, "/api/v1/orgs/org-acme/invitations?type=Partner&status=pending&search=ada&page=2&size=5", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, onboarding.ListParams{
		OrganizationID: "org-acme",
		Type:           invite.TypePartner,
		Status:         invite.StatusPending,
		Search:         "ada",
		Page:           2,
		Size:           5,
	}, got)

	var body onboarding.ListResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.TotalCount)
	assert.Equal(t, 2, body.CurrentPage)
}

func TestListInvitations_BadPage(t *testing.T) {
	rr := doJSON(t, newTestRouter(&mockInvitationService{}), http.MethodGet, "/api/v1/orgs/org-acme/invitations?page=two", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "page", decodeError(t, rr).Field)
}

func TestGetStats(t *testing.T) {
	svc := &mockInvitationService{
		statsFunc: func(ctx context.Context, orgID string) (*onboarding.Stats, error) {
			return &onboarding.Stats{
				OrganizationID: orgID,
				Counts:         map[invite.Type]map[invite.Status]int{invite.TypeStaff: {invite.StatusPending: 3}},
			}, nil
		},
	}

	rr := doJSON(t, newTestRouter(svc), http.MethodGet, "/api/v1/orgs/org-acme/invitations/stats", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"organizationId":"org-acme","counts":{"Staff":{"PENDING":3}}}`, rr.Body.String())
}

func TestAcceptInvitation(t *testing.T) {
	var gotToken string
	svc := &mockInvitationService{
		acceptInviteFunc: func(ctx context.Context, token string) (*onboarding.AcceptanceResult, error) {
			gotToken = token
			return &onboarding.AcceptanceResult{
				UserID:        "user-1",
				Status:        invite.StatusAccepted,
				EmailVerified: true,
				AppliedGroups: []invite.GroupRef{{ID: "g1", Name: "engineering"}},
			}, nil
		},
	}

	rr := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/v1/invitations/accept", map[string]string{"token": " inv-1.user-1.secret "})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "inv-1.user-1.secret", gotToken)

	var body onboarding.AcceptanceResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, invite.StatusAccepted, body.Status)
	assert.Equal(t, []invite.GroupRef{{ID: "g1", Name: "engineering"}}, body.AppliedGroups)
}

func TestAcceptInvitation_ErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{invite.ErrMalformedToken, http.StatusBadRequest},
		{invite.ErrInvalidOrExpired, http.StatusBadRequest},
		{invite.ErrAlreadyUsed, http.StatusConflict},
		{invite.ErrExpired, http.StatusGone},
		{invite.Downstream("directory", "provision", errors.New("business-partners group not found")), http.StatusBadGateway},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := &mockInvitationService{
				acceptInviteFunc: func(ctx context.Context, token string) (*onboarding.AcceptanceResult, error) {
					return nil, tt.err
				},
			}
			rr := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/v1/invitations/accept", map[string]string{"token": "a.b.c"})

			assert.Equal(t, tt.wantStatus, rr.Code)
			resp := decodeError(t, rr)
			if tt.wantStatus >= http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, tt.err.Error())
			} else {
				assert.Equal(t, tt.err.Error(), resp.Error)
			}
		})
	}
}

func TestAcceptInvitation_Middleware(t *testing.T) {
	router := mux.NewRouter()
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
		})
	}
	NewInvitationHandlers(&mockInvitationService{}).RegisterRoutes(router, blocked)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/invitations/accept", map[string]string{"token": "a.b.c"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/api/v1/orgs/org-acme/invitations", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "middleware applies only to the accept route")
}
