package invite

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedToken is returned when a token does not have three non-empty parts
	ErrMalformedToken = errors.New("malformed invitation token")

	// ErrInvalidOrExpired is the single message returned for every acceptance
	// failure that could reveal whether an invitation exists
	ErrInvalidOrExpired = errors.New("invalid or expired invitation")

	// ErrAlreadyUsed is returned when the invitation is no longer pending
	ErrAlreadyUsed = errors.New("invitation has already been used")

	// ErrExpired is returned when the invitation's expiry has passed
	ErrExpired = errors.New("invitation has expired")

	// ErrOrganizationNotFound is returned when the target organization does not exist
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrDuplicateInvite matches every *DuplicateInviteError
	ErrDuplicateInvite = errors.New("duplicate invitation")

	// ErrInviteInProgress is returned when another request is creating the same invitation
	ErrInviteInProgress = errors.New("invitation creation already in progress")

	// ErrRecordNotPersisted is returned when the stored attributes cannot be read back
	ErrRecordNotPersisted = errors.New("invitation record could not be read back")
)

// ValidationError reports the first failing field of a request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DuplicateInviteError is returned when a conflicting invitation already exists
type DuplicateInviteError struct {
	Email          string
	OrganizationID string
	Type           Type
	ExistingID     string
	ExistingStatus Status
}

func (e *DuplicateInviteError) Error() string {
	if e.ExistingStatus == StatusAccepted {
		return fmt.Sprintf("a %s invitation for %s in organization %s was accepted moments ago", e.Type, e.Email, e.OrganizationID)
	}
	return fmt.Sprintf("a pending %s invitation for %s already exists in organization %s", e.Type, e.Email, e.OrganizationID)
}

// Is makes errors.Is(err, ErrDuplicateInvite) match
func (e *DuplicateInviteError) Is(target error) bool {
	return target == ErrDuplicateInvite
}

// DownstreamServiceError wraps a failure of the directory or another remote collaborator
type DownstreamServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *DownstreamServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *DownstreamServiceError) Unwrap() error {
	return e.Err
}

// Downstream wraps err as a *DownstreamServiceError unless it is nil
func Downstream(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DownstreamServiceError{Service: service, Op: op, Err: err}
}

// IsValidationError reports whether err is a *ValidationError
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
