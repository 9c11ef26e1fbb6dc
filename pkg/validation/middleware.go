// Package validation checks invitation requests before anything is written.
//
// Middleware.Validate runs three checks in order and stops at the first
// failure: the request shape, the duplicate-invitation rule, and the
// metadata required by the invite type.
package validation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
)

// DefaultAcceptedGrace is how long after acceptance a new invitation for the
// same person, organization and type is still rejected
const DefaultAcceptedGrace = 5 * time.Minute

// Options adjust a single validation
type Options struct {
	// AllowDuplicate skips the duplicate-invitation check
	AllowDuplicate bool
}

// Middleware validates invitation payloads
type Middleware struct {
	dir           directory.Directory
	validate      *validator.Validate
	now           func() time.Time
	acceptedGrace time.Duration
}

// New creates a validation middleware backed by dir for duplicate lookups
func New(dir directory.Directory) *Middleware {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Middleware{
		dir:           dir,
		validate:      v,
		now:           time.Now,
		acceptedGrace: DefaultAcceptedGrace,
	}
}

// WithClock replaces the time source
func (m *Middleware) WithClock(now func() time.Time) *Middleware {
	m.now = now
	return m
}

// Validate checks p and returns its typed metadata. Leading and trailing
// whitespace is trimmed from p's text fields and the email is lowercased.
func (m *Middleware) Validate(ctx context.Context, p *invite.Payload, opts Options) (invite.Metadata, error) {
	if p == nil {
		return nil, &invite.ValidationError{Message: "request body is required"}
	}
	normalize(p)

	if err := m.validate.Struct(p); err != nil {
		return nil, firstFieldError(err, "")
	}

	if !opts.AllowDuplicate {
		if err := m.checkDuplicate(ctx, p); err != nil {
			return nil, err
		}
	}

	md, err := invite.ParseMetadata(p.Type, p.Metadata)
	if err != nil {
		return nil, &invite.ValidationError{Field: "metadata", Message: "is not valid for type " + string(p.Type)}
	}
	if err := m.validateMetadata(md); err != nil {
		return nil, err
	}
	return md, nil
}

func (m *Middleware) validateMetadata(md invite.Metadata) error {
	switch v := md.(type) {
	case *invite.StaffMetadata:
		if err := m.validate.Struct(v); err != nil {
			return firstFieldError(err, "metadata")
		}
	case *invite.PartnerMetadata:
		if err := m.validate.Struct(v); err != nil {
			return firstFieldError(err, "metadata")
		}
	default:
		return fmt.Errorf("unsupported metadata %T", md)
	}
	return nil
}

func (m *Middleware) checkDuplicate(ctx context.Context, p *invite.Payload) error {
	users, err := m.dir.FindUsersByEmail(ctx, p.Email)
	if err != nil {
		return invite.Downstream("directory", "find_users_by_email", err)
	}

	now := m.now()
	for i := range users {
		inv := invite.Decode(&users[i])
		if inv == nil || inv.OrganizationID != p.OrganizationID || inv.Type != p.Type {
			continue
		}
		if m.blocks(inv, now) {
			return &invite.DuplicateInviteError{
				Email:          p.Email,
				OrganizationID: p.OrganizationID,
				Type:           p.Type,
				ExistingID:     inv.ID,
				ExistingStatus: inv.Status,
			}
		}
	}
	return nil
}

// blocks reports whether an existing invitation prevents a new one
func (m *Middleware) blocks(inv *invite.Invitation, now time.Time) bool {
	switch inv.Status {
	case invite.StatusPending:
		return now.Before(inv.ExpiresAt)
	case invite.StatusAccepted:
		return inv.JoinedAt != nil && now.Sub(*inv.JoinedAt) < m.acceptedGrace
	}
	return false
}

func normalize(p *invite.Payload) {
	p.OrganizationID = strings.TrimSpace(p.OrganizationID)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
}

func firstFieldError(err error, prefix string) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &invite.ValidationError{Field: prefix, Message: err.Error()}
	}
	fe := fieldErrs[0]

	// Namespace is "<Struct>.<field>..."; drop the struct name.
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	if prefix != "" {
		field = prefix + "." + field
	}
	return &invite.ValidationError{Field: field, Message: message(fe)}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must contain at most %s items", fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must contain at least %s item", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	}
	return "is invalid"
}
