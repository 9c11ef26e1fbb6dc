package onboarding

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/observability"
)

const (
	opCreate = "create"
	opAccept = "accept"
)

// runStep runs one named step of an operation inside its own span and
// records its duration
func runStep(ctx context.Context, metrics *observability.Metrics, operation, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "invite."+operation+"."+name)
	start := time.Now()
	err := fn(ctx)
	if metrics != nil {
		metrics.ObserveStep(operation, name, time.Since(start))
	}
	observability.EndSpan(span, err)
	return err
}

// rejectReason maps an operation error to a bounded metric label
func rejectReason(err error) string {
	var downstream *invite.DownstreamServiceError
	switch {
	case invite.IsValidationError(err):
		return "validation"
	case errors.Is(err, invite.ErrDuplicateInvite):
		return "duplicate"
	case errors.Is(err, invite.ErrInviteInProgress):
		return "in_progress"
	case errors.Is(err, invite.ErrOrganizationNotFound):
		return "organization_not_found"
	case errors.Is(err, invite.ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, invite.ErrInvalidOrExpired):
		return "invalid"
	case errors.Is(err, invite.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, invite.ErrExpired):
		return "expired"
	case errors.As(err, &downstream):
		return "downstream"
	default:
		return "internal"
	}
}

func countRejection(metrics *observability.Metrics, operation string, err error) {
	if metrics != nil && err != nil {
		metrics.InvitationsRejectedTotal.WithLabelValues(operation, rejectReason(err)).Inc()
	}
}
