// Package onboarding creates access invitations and redeems them.
//
// Factory issues invitations: it resolves or creates the directory user,
// stores the invitation as attributes on that user and triggers the
// directory's invitation email. Orchestrator redeems a token, provisions the
// user's entitlements and marks the invitation accepted. Service is the façade
// the HTTP API calls.
package onboarding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/onboard/pkg/channels"
	"github.com/platinummonkey/onboard/pkg/directory"
	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/lock"
	"github.com/platinummonkey/onboard/pkg/observability"
	"github.com/platinummonkey/onboard/pkg/validation"
)

// DefaultExpiry applies when neither the request nor the config sets one
const DefaultExpiry = 24 * time.Hour

// DefaultMaxExpiry bounds a requested expiry when the config sets no maximum
const DefaultMaxExpiry = 30 * 24 * time.Hour

// FactoryConfig holds invitation creation settings
type FactoryConfig struct {
	// DefaultExpiry applies when a request does not set ExpiresInMinutes
	DefaultExpiry time.Duration
	// AppURL is rendered into the invitation email as the accept link base
	AppURL string
	// LockTTL bounds how long a creation lock is held
	LockTTL time.Duration
	// MaxExpiry is the longest expiry a request may ask for
	MaxExpiry time.Duration
}

// CreateOptions are per-request creation options
type CreateOptions struct {
	ExpiresInMinutes int
	AllowDuplicate   bool
}

// CreateResult is a created invitation and its one-time token
type CreateResult struct {
	Record *invite.Invitation `json:"invitation"`
	Token  string             `json:"token"`
}

// Factory creates invitations
type Factory struct {
	dir       directory.Directory
	channels  channels.Client
	validator *validation.Middleware
	tokens    *invite.TokenCodec
	locker    lock.Locker
	metrics   *observability.Metrics
	cfg       FactoryConfig
	now       func() time.Time
}

// NewFactory creates a factory. channelClient may be nil, in which case
// partner personalization always uses the request's metadata.
func NewFactory(dir directory.Directory, channelClient channels.Client, validator *validation.Middleware, cfg FactoryConfig) *Factory {
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = DefaultExpiry
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.MaxExpiry <= 0 {
		cfg.MaxExpiry = DefaultMaxExpiry
	}
	return &Factory{
		dir:       dir,
		channels:  channelClient,
		validator: validator,
		tokens:    invite.NewTokenCodec(),
		locker:    lock.NoopLocker{},
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithLocker serializes concurrent creation of the same invitation across replicas
func (f *Factory) WithLocker(l lock.Locker) *Factory {
	f.locker = l
	return f
}

// WithMetrics records step durations and outcomes
func (f *Factory) WithMetrics(m *observability.Metrics) *Factory {
	f.metrics = m
	return f
}

// WithClock replaces the factory's time source
func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

// lockKey identifies an (email, organization, type) triple without putting the
// email address in Redis
func lockKey(p *invite.Payload) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(p.Email))))
	return fmt.Sprintf("invite:%s:%s:%s", hex.EncodeToString(sum[:]), strings.TrimSpace(p.OrganizationID), p.Type)
}

// CreateInvite validates the payload, writes a pending invitation onto the
// invitee's directory user and sends the directory's invitation email.
// Steps after user resolution are not rolled back on failure.
func (f *Factory) CreateInvite(ctx context.Context, p *invite.Payload, opts CreateOptions) (_ *CreateResult, err error) {
	ctx, span := observability.StartSpan(ctx, "invite.create")
	defer func() {
		countRejection(f.metrics, opCreate, err)
		observability.EndSpan(span, err)
	}()

	if p == nil {
		return nil, &invite.ValidationError{Message: "payload is required"}
	}
	if opts.ExpiresInMinutes < 0 {
		return nil, &invite.ValidationError{Field: "expiresInMinutes", Message: "must not be negative"}
	}
	maxMinutes := int(f.cfg.MaxExpiry / time.Minute)
	if opts.ExpiresInMinutes > maxMinutes {
		return nil, &invite.ValidationError{Field: "expiresInMinutes", Message: fmt.Sprintf("must be at most %d", maxMinutes)}
	}

	release, err := f.locker.Acquire(ctx, lockKey(p), f.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, invite.ErrInviteInProgress
		}
		return nil, invite.Downstream("redis", "acquire_lock", err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			observability.FromContext(ctx).WithError(rerr).Warn("Failed to release invitation lock")
		}
	}()

	var md invite.Metadata
	err = runStep(ctx, f.metrics, opCreate, "validate", func(ctx context.Context) error {
		var verr error
		md, verr = f.validator.Validate(ctx, p, validation.Options{AllowDuplicate: opts.AllowDuplicate})
		return verr
	})
	if err != nil {
		return nil, err
	}

	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"organization_id": p.OrganizationID,
		"invite_type":     string(p.Type),
	})
	span.SetAttributes(
		attribute.String("invite.type", string(p.Type)),
		attribute.String("invite.organization_id", p.OrganizationID),
	)

	now := f.now()
	expiry := f.cfg.DefaultExpiry
	if opts.ExpiresInMinutes > 0 {
		expiry = time.Duration(opts.ExpiresInMinutes) * time.Minute
	}
	expiresAt := now.Add(expiry)

	var user *directory.User
	var created bool
	err = runStep(ctx, f.metrics, opCreate, "resolve_user", func(ctx context.Context) error {
		var rerr error
		user, created, rerr = f.resolveUser(ctx, p)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	logger = logger.WithField("user_id", user.ID)

	inviteID := uuid.New().String()
	token, secretHash, err := f.tokens.Generate(inviteID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	attrs, err := invite.Encode(user.Attributes, invite.Fields{
		ID:             inviteID,
		Type:           p.Type,
		Status:         invite.StatusPending,
		SecretHash:     secretHash,
		Metadata:       md,
		OrganizationID: p.OrganizationID,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode invitation: %w", err)
	}

	var org *directory.Organization
	var channelType *channels.ChannelType
	err = runStep(ctx, f.metrics, opCreate, "fetch_context", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var oerr error
			org, oerr = f.dir.GetOrganization(gctx, p.OrganizationID)
			if errors.Is(oerr, directory.ErrNotFound) {
				return invite.ErrOrganizationNotFound
			}
			return invite.Downstream("directory", "get_organization", oerr)
		})
		if partner, ok := md.(*invite.PartnerMetadata); ok {
			g.Go(func() error {
				channelType = f.fetchChannelType(gctx, logger, partner)
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	attrs = invite.MergePersonalization(attrs, f.personalization(p, md, org, channelType, token, expiry))

	err = runStep(ctx, f.metrics, opCreate, "persist", func(ctx context.Context) error {
		updated := *user
		updated.Attributes = attrs
		if created {
			updated.FirstName = p.FirstName
			updated.LastName = p.LastName
		}
		if uerr := f.dir.UpdateUser(ctx, &updated); uerr != nil {
			return invite.Downstream("directory", "update_user", uerr)
		}

		merr := f.dir.AddOrganizationMember(ctx, p.OrganizationID, user.ID)
		if merr != nil && !errors.Is(merr, directory.ErrConflict) {
			return invite.Downstream("directory", "add_organization_member", merr)
		}
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("Invitation creation failed after the user was resolved; manual retry required")
		return nil, err
	}

	err = runStep(ctx, f.metrics, opCreate, "notify", func(ctx context.Context) error {
		return invite.Downstream("directory", "invite_existing_user", f.dir.InviteExistingUser(ctx, p.OrganizationID, user.ID))
	})
	if err != nil {
		logger.WithError(err).Error("Invitation stored but the invitation email was not sent; manual retry required")
		return nil, err
	}

	var record *invite.Invitation
	err = runStep(ctx, f.metrics, opCreate, "confirm", func(ctx context.Context) error {
		stored, gerr := f.dir.GetUser(ctx, user.ID)
		if gerr != nil {
			return invite.Downstream("directory", "get_user", gerr)
		}
		record = invite.Decode(stored)
		if record == nil || record.ID != inviteID {
			return invite.ErrRecordNotPersisted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if f.metrics != nil {
		f.metrics.InvitationsCreatedTotal.WithLabelValues(string(p.Type)).Inc()
	}
	logger.WithFields(map[string]interface{}{
		"invitation_id": inviteID,
		"invitee":       observability.MaskEmail(p.Email),
		"new_user":      created,
		"expires_at":    expiresAt.UTC().Format(time.RFC3339),
	}).Info("Invitation created")

	return &CreateResult{Record: record.Sanitized(), Token: token}, nil
}

// resolveUser returns the user with the payload's email, creating a disabled,
// unverified user when none exists
func (f *Factory) resolveUser(ctx context.Context, p *invite.Payload) (*directory.User, bool, error) {
	users, err := f.dir.FindUsersByEmail(ctx, p.Email)
	if err != nil {
		return nil, false, invite.Downstream("directory", "find_users_by_email", err)
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, p.Email) {
			u := users[i]
			return &u, false, nil
		}
	}

	user := &directory.User{
		Username:      p.Email,
		Email:         p.Email,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Enabled:       false,
		EmailVerified: false,
	}
	id, err := f.dir.CreateUser(ctx, user)
	if err != nil {
		return nil, false, invite.Downstream("directory", "create_user", err)
	}
	user.ID = id
	return user, true, nil
}

// fetchChannelType returns nil when the channel-type service cannot answer;
// personalization then falls back to the request's metadata
func (f *Factory) fetchChannelType(ctx context.Context, logger *observability.Logger, md *invite.PartnerMetadata) *channels.ChannelType {
	if f.channels == nil {
		return nil
	}
	ct, err := f.channels.GetChannelType(ctx, md.ChannelType.ID)
	if err != nil {
		logger.WithError(err).WithField("channel_type_id", md.ChannelType.ID).
			Warn("Channel type lookup failed, using request metadata")
		if f.metrics != nil {
			f.metrics.ChannelTypeFallbackTotal.Inc()
		}
		return nil
	}
	return ct
}

func (f *Factory) personalization(p *invite.Payload, md invite.Metadata, org *directory.Organization, ct *channels.ChannelType, token string, expiry time.Duration) invite.Personalization {
	pers := invite.Personalization{
		UserType:                p.Type,
		OrganizationID:          p.OrganizationID,
		OrganizationName:        org.Name,
		OrganizationDisplayName: org.DisplayName(),
		MagicLinkToken:          token,
		CustomAppURL:            f.cfg.AppURL,
		ExpiryHours:             int(math.Ceil(expiry.Hours())),
	}

	partner, ok := md.(*invite.PartnerMetadata)
	if !ok {
		return pers
	}
	pers.ChannelTypeID = partner.ChannelType.ID
	pers.ChannelTypeName = partner.ChannelType.Name
	pers.CommissionRate = partner.CommissionString()
	if ct == nil {
		return pers
	}
	// The service wins field by field; gaps keep the request's values
	if ct.ID != "" {
		pers.ChannelTypeID = ct.ID
	}
	if ct.Name != "" {
		pers.ChannelTypeName = ct.Name
	}
	if ct.CommissionRate != nil {
		pers.CommissionRate = strconv.FormatFloat(*ct.CommissionRate, 'f', -1, 64)
	}
	return pers
}
