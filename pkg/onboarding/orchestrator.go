package onboarding

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/observability"
	"github.com/platinummonkey/onboard/pkg/provisioning"
)

// AcceptanceResult describes a redeemed invitation
type AcceptanceResult struct {
	UserID         string            `json:"userId"`
	InvitationID   string            `json:"invitationId"`
	OrganizationID string            `json:"organizationId"`
	Status         invite.Status     `json:"status"`
	EmailVerified  bool              `json:"emailVerified"`
	AppliedGroups  []invite.GroupRef `json:"appliedGroups"`
	AppliedRoles   []invite.RoleRef  `json:"appliedRoles"`
}

// Orchestrator redeems invitation tokens. The only transition it performs is
// PENDING to ACCEPTED.
type Orchestrator struct {
	dir        directory.Directory
	tokens     *invite.TokenCodec
	strategies *provisioning.Registry
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(dir directory.Directory, strategies *provisioning.Registry) *Orchestrator {
	return &Orchestrator{
		dir:        dir,
		tokens:     invite.NewTokenCodec(),
		strategies: strategies,
		now:        time.Now,
	}
}

// WithMetrics records step durations and outcomes
func (o *Orchestrator) WithMetrics(m *observability.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithClock replaces the orchestrator's time source
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Execute redeems token. Failures that could reveal whether a user or an
// invitation exists are logged in detail and returned as
// invite.ErrInvalidOrExpired.
func (o *Orchestrator) Execute(ctx context.Context, token string) (_ *AcceptanceResult, err error) {
	ctx, span := observability.StartSpan(ctx, "invite.accept")
	defer func() {
		countRejection(o.metrics, opAccept, err)
		observability.EndSpan(span, err)
	}()

	inviteID, userID, secret, err := o.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"invitation_id": inviteID,
		"user_id":       userID,
	})
	reject := func(reason string, cause error) error {
		logger.WithError(cause).WithField("reason", reason).Warn("Invitation rejected")
		return invite.ErrInvalidOrExpired
	}

	var user *directory.User
	err = runStep(ctx, o.metrics, opAccept, "load", func(ctx context.Context) error {
		var gerr error
		user, gerr = o.dir.GetUser(ctx, userID)
		return gerr
	})
	if err != nil {
		return nil, reject("user lookup failed", err)
	}

	inv := invite.Decode(user)
	if inv == nil {
		return nil, reject("no invitation on user", nil)
	}
	if inv.ID != inviteID {
		return nil, reject("invitation id mismatch", nil)
	}
	span.SetAttributes(
		attribute.String("invite.type", string(inv.Type)),
		attribute.String("invite.organization_id", inv.OrganizationID),
	)

	// The secret hash is erased on acceptance, so status is checked first
	if inv.Status != invite.StatusPending {
		logger.WithField("status", string(inv.Status)).Info("Invitation already used")
		return nil, invite.ErrAlreadyUsed
	}
	if !o.tokens.Verify(secret, inv.SecretHash) {
		return nil, reject("secret mismatch", nil)
	}
	now := o.now()
	if !now.Before(inv.ExpiresAt) {
		logger.WithField("expires_at", inv.ExpiresAt.UTC().Format(time.RFC3339)).Info("Invitation expired")
		return nil, invite.ErrExpired
	}

	strategy, err := o.strategies.ForType(inv.Type)
	if err != nil {
		return nil, err
	}

	var applied *provisioning.Result
	err = runStep(ctx, o.metrics, opAccept, "provision", func(ctx context.Context) error {
		var perr error
		applied, perr = strategy.Execute(ctx, provisioning.Request{
			User:           user,
			Metadata:       inv.Metadata,
			OrganizationID: inv.OrganizationID,
		})
		return perr
	})
	if err != nil {
		logger.WithError(err).Error("Provisioning failed")
		return nil, invite.Downstream("directory", "provision", err)
	}

	err = runStep(ctx, o.metrics, opAccept, "finalize", func(ctx context.Context) error {
		updated := *user
		updated.Attributes = invite.ClearSecret(invite.MarkAccepted(user.Attributes, now))
		updated.EmailVerified = true
		updated.Enabled = true
		return invite.Downstream("directory", "update_user", o.dir.UpdateUser(ctx, &updated))
	})
	if err != nil {
		logger.WithError(err).Error("Entitlements applied but the invitation could not be marked accepted")
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.InvitationsAcceptedTotal.WithLabelValues(string(inv.Type)).Inc()
	}
	logger.WithFields(map[string]interface{}{
		"organization_id": inv.OrganizationID,
		"groups":          len(applied.AppliedGroups),
		"roles":           len(applied.AppliedRoles),
	}).Info("Invitation accepted")

	return &AcceptanceResult{
		UserID:         user.ID,
		InvitationID:   inv.ID,
		OrganizationID: inv.OrganizationID,
		Status:         invite.StatusAccepted,
		EmailVerified:  true,
		AppliedGroups:  applied.AppliedGroups,
		AppliedRoles:   applied.AppliedRoles,
	}, nil
}
