package onboarding

import (
	"context"

	"github.com/platinummonkey/onboard/pkg/invite"
	"github.com/platinummonkey/onboard/pkg/observability"
)

// ExpiryReporter publishes invitation counts per organization, type and
// effective status. It only reads; expired invitations are not rewritten.
type ExpiryReporter struct {
	service       *Service
	metrics       *observability.Metrics
	organizations []string
}

// NewExpiryReporter creates a reporter for the given organizations
func NewExpiryReporter(service *Service, metrics *observability.Metrics, organizations []string) *ExpiryReporter {
	return &ExpiryReporter{
		service:       service,
		metrics:       metrics,
		organizations: organizations,
	}
}

// Run refreshes the gauges once. A failing organization is logged and skipped.
func (r *ExpiryReporter) Run(ctx context.Context) {
	logger := observability.FromContext(ctx).WithField("job", "expiry_report")
	defer observability.RecoverPanic(logger, "expiry report")

	for _, orgID := range r.organizations {
		if ctx.Err() != nil {
			return
		}
		stats, err := r.service.Stats(ctx, orgID)
		if err != nil {
			logger.WithError(err).WithField("organization_id", orgID).Warn("Failed to collect invitation stats")
			continue
		}

		var pending, expired int
		for t, counts := range stats.Counts {
			for status, n := range counts {
				r.metrics.InvitationsByStatus.WithLabelValues(orgID, string(t), string(status)).Set(float64(n))
			}
			pending += counts[invite.StatusPending]
			expired += counts[invite.StatusExpired]
		}
		logger.WithFields(map[string]interface{}{
			"organization_id": orgID,
			"pending":         pending,
			"expired":         expired,
		}).Debug("Invitation stats refreshed")
	}
}
