package onboarding

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListParams selects a page of an organization's invitations
type ListParams struct {
	OrganizationID string
	// Type limits results to one invite type; empty lists every type
	Type invite.Type
	// Status limits results to one effective status; empty lists every status
	Status invite.Status
	// Search is a case-insensitive substring matched against name and email
	Search string
	Page   int
	Size   int
}

// ListResult is one page of invitations, newest first
type ListResult struct {
	Invitations []*invite.Invitation `json:"invitations"`
	TotalCount  int                  `json:"totalCount"`
	CurrentPage int                  `json:"currentPage"`
	TotalPages  int                  `json:"totalPages"`
}

// Stats counts an organization's invitations by type and effective status
type Stats struct {
	OrganizationID string                                `json:"organizationId"`
	Counts         map[invite.Type]map[invite.Status]int `json:"counts"`
}

// Service is the entry point for creating, listing and accepting invitations
type Service struct {
	dir          directory.Directory
	factory      *Factory
	orchestrator *Orchestrator
	now          func() time.Time
}

// NewService creates a service
func NewService(dir directory.Directory, factory *Factory, orchestrator *Orchestrator) *Service {
	return &Service{
		dir:          dir,
		factory:      factory,
		orchestrator: orchestrator,
		now:          time.Now,
	}
}

// WithClock replaces the time source used to compute effective status
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInvite creates an invitation. The returned record never carries the
// secret hash; the token is only ever returned here.
func (s *Service) CreateInvite(ctx context.Context, p *invite.Payload, opts CreateOptions) (*CreateResult, error) {
	return s.factory.CreateInvite(ctx, p, opts)
}

// AcceptInvite redeems an invitation token
func (s *Service) AcceptInvite(ctx context.Context, token string) (*AcceptanceResult, error) {
	return s.orchestrator.Execute(ctx, token)
}

// ListInvites returns one page of an organization's invitations. Filtering,
// search and pagination happen in memory over every invitation in the
// organization. Records report their effective status.
func (s *Service) ListInvites(ctx context.Context, params ListParams) (*ListResult, error) {
	if err := normalizeListParams(&params); err != nil {
		return nil, err
	}

	invitations, err := s.load(ctx, params.OrganizationID)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(params.Search)
	matched := make([]*invite.Invitation, 0, len(invitations))
	for _, inv := range invitations {
		if params.Type != "" && inv.Type != params.Type {
			continue
		}
		if params.Status != "" && inv.Status != params.Status {
			continue
		}
		if search != "" && !strings.Contains(searchText(inv), search) {
			continue
		}
		matched = append(matched, inv)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	result := &ListResult{
		Invitations: []*invite.Invitation{},
		TotalCount:  total,
		CurrentPage: params.Page,
		TotalPages:  (total + params.Size - 1) / params.Size,
	}
	// Compare in pages before multiplying; page can be any positive int
	if params.Page-1 < (total+params.Size-1)/params.Size {
		start := (params.Page - 1) * params.Size
		end := start + params.Size
		if end > total {
			end = total
		}
		result.Invitations = matched[start:end]
	}
	return result, nil
}

// Stats counts the organization's invitations by type and effective status
func (s *Service) Stats(ctx context.Context, orgID string) (*Stats, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, &invite.ValidationError{Field: "organizationId", Message: "is required"}
	}
	invitations, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		OrganizationID: orgID,
		Counts:         make(map[invite.Type]map[invite.Status]int),
	}
	for _, t := range []invite.Type{invite.TypeStaff, invite.TypePartner} {
		stats.Counts[t] = map[invite.Status]int{
			invite.StatusPending:   0,
			invite.StatusAccepted:  0,
			invite.StatusExpired:   0,
			invite.StatusCancelled: 0,
		}
	}
	for _, inv := range invitations {
		if counts, ok := stats.Counts[inv.Type]; ok {
			counts[inv.Status]++
		}
	}
	return stats, nil
}

// load decodes every invitation of the organization, sanitized and with its
// effective status
func (s *Service) load(ctx context.Context, orgID string) ([]*invite.Invitation, error) {
	users, err := s.dir.SearchUsersByAttribute(ctx, invite.AttrOrganizationID, orgID)
	if err != nil {
		return nil, invite.Downstream("directory", "search_users", err)
	}

	now := s.now()
	out := make([]*invite.Invitation, 0, len(users))
	for i := range users {
		inv := invite.Decode(&users[i])
		if inv == nil || inv.OrganizationID != orgID {
			continue
		}
		inv = inv.Sanitized()
		inv.Status = inv.EffectiveStatus(now)
		out = append(out, inv)
	}
	return out, nil
}

func normalizeListParams(p *ListParams) error {
	p.OrganizationID = strings.TrimSpace(p.OrganizationID)
	p.Search = strings.TrimSpace(p.Search)

	if p.OrganizationID == "" {
		return &invite.ValidationError{Field: "organizationId", Message: "is required"}
	}
	if p.Type != "" && !p.Type.Valid() {
		return &invite.ValidationError{Field: "type", Message: "must be one of Staff, Partner"}
	}
	switch p.Status {
	case "", invite.StatusPending, invite.StatusAccepted, invite.StatusExpired, invite.StatusCancelled:
	default:
		return &invite.ValidationError{Field: "status", Message: "must be one of PENDING, ACCEPTED, EXPIRED, CANCELLED"}
	}
	if p.Page < 0 {
		return &invite.ValidationError{Field: "page", Message: "must be at least 1"}
	}
	if p.Size < 0 {
		return &invite.ValidationError{Field: "size", Message: "must be positive"}
	}

	if p.Page == 0 {
		p.Page = 1
	}
	switch {
	case p.Size == 0:
		p.Size = defaultPageSize
	case p.Size > maxPageSize:
		p.Size = maxPageSize
	}
	return nil
}

func searchText(inv *invite.Invitation) string {
	return strings.ToLower(inv.FirstName + " " + inv.LastName + " " + inv.Email)
}
