// Package loyalty computes points, tiers and the events a points award
// produces.
package loyalty

import (
	"context"
	"math"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/metrics"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
)

// Award sources, used as the metrics label.
const (
	SourceManual      = "manual"
	SourceAppointment = "appointment"
)

type Change struct {
	Points        int64  `json:"pointsAdded"`
	PreviousTotal int64  `json:"previousTotal"`
	NewTotal      int64  `json:"newTotal"`
	PreviousTier  string `json:"previousTier,omitempty"`
	NewTier       string `json:"tier"`
	TierChanged   bool   `json:"tierChanged"`
}

// Configured reports whether points can be awarded under l.
func Configured(l settings.LoyaltySettings) bool {
	return l.Enabled && len(l.Tiers) > 0
}

// Apply adds points to the current total and recomputes the tier as the
// highest tier whose threshold the new total meets.
func Apply(total int64, tier string, points int64, l settings.LoyaltySettings) Change {
	c := Change{
		Points:        points,
		PreviousTotal: total,
		NewTotal:      total + points,
		PreviousTier:  tier,
		NewTier:       tier,
	}
	if t, ok := l.TierFor(c.NewTotal); ok {
		c.NewTier = t.Name
	}
	c.TierChanged = c.NewTier != c.PreviousTier
	return c
}

// AppointmentPoints is floor(dollars x pointsPerDollar x tier multiplier).
// An unknown tier earns at multiplier 1.
func AppointmentPoints(priceCents int64, tier string, l settings.LoyaltySettings) int64 {
	if priceCents <= 0 || l.PointsPerDollar <= 0 {
		return 0
	}
	multiplier := 1.0
	if t, ok := l.Tier(tier); ok && t.Multiplier > 0 {
		multiplier = t.Multiplier
	}
	// The epsilon absorbs float error such as 41.99999999 for an exact 42.
	return int64(math.Floor(float64(priceCents)/100*l.PointsPerDollar*multiplier + 1e-9))
}

type Store interface {
	SetLoyalty(ctx context.Context, q db.Querier, tenantID, id string, points int64, tier string) error
	AppendLoyalty(ctx context.Context, q db.Querier, e model.LoyaltyEntry) error
}

type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type Service struct {
	store  Store
	outbox EventWriter
	now    func() time.Time
}

func NewService(store Store, outboxRepo EventWriter) *Service {
	return &Service{store: store, outbox: outboxRepo, now: time.Now}
}

// Award applies points to a customer row the caller has locked in q and
// queues the points-earned event, plus tier-upgraded when the tier changed.
func (s *Service) Award(ctx context.Context, q db.Querier, l settings.LoyaltySettings, c model.Customer, points int64, reason, appointmentID, source string) (Change, error) {
	if !Configured(l) {
		return Change{}, apperr.Validation("loyalty program not configured")
	}
	if points <= 0 {
		return Change{}, apperr.Validation("points must be positive")
	}
	change := Apply(c.LoyaltyPoints, c.LoyaltyTier, points, l)

	if err := s.store.SetLoyalty(ctx, q, c.TenantID, c.ID, change.NewTotal, change.NewTier); err != nil {
		return Change{}, err
	}
	if err := s.store.AppendLoyalty(ctx, q, model.LoyaltyEntry{
		TenantID:      c.TenantID,
		CustomerID:    c.ID,
		Points:        points,
		Reason:        reason,
		PreviousTotal: change.PreviousTotal,
		NewTotal:      change.NewTotal,
		AppointmentID: appointmentID,
	}); err != nil {
		return Change{}, err
	}

	payload := events.LoyaltyPayload{
		TenantID:      c.TenantID,
		CustomerID:    c.ID,
		CustomerName:  c.FullName(),
		CustomerEmail: c.Email,
		Points:        points,
		NewTotal:      change.NewTotal,
		Reason:        reason,
		PreviousTier:  change.PreviousTier,
		NewTier:       change.NewTier,
		OccurredAt:    s.now().UTC(),
	}
	topics := []string{events.LoyaltyPointsEarned}
	if change.TierChanged {
		topics = append(topics, events.LoyaltyTierUpgraded)
	}
	for _, topic := range topics {
		evt, err := outbox.NewEvent(c.TenantID, "customer", c.ID, topic, payload)
		if err != nil {
			return Change{}, err
		}
		if err := s.outbox.Insert(ctx, q, evt); err != nil {
			return Change{}, err
		}
	}
	metrics.LoyaltyPointsAwarded.WithLabelValues(source).Add(float64(points))
	return change, nil
}
