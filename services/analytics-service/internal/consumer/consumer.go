// Package consumer folds booking and notification events into the daily
// analytics tables.
package consumer

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/analytics-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

var Topics = []string{
	events.AppointmentBooked,
	events.AppointmentCompleted,
	events.AppointmentCancelled,
	events.AppointmentNoShow,
	events.NotificationSent,
	events.NotificationFailed,
}

type Inbox interface {
	Process(ctx context.Context, meta kafkax.EventMeta, fn func(tx pgx.Tx) error) (bool, error)
}

type Store interface {
	BumpDaily(ctx context.Context, q db.Querier, tenantID, day string, d storage.Delta) error
	BumpStylist(ctx context.Context, q db.Querier, tenantID, stylistID, stylistName, day string, revenueCents int64) error
}

type Handler struct {
	inbox    Inbox
	store    Store
	settings settings.Source
	logger   *slog.Logger
}

func New(inbox Inbox, store Store, source settings.Source, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, store: store, settings: source, logger: logger}
}

// Handle records one event. Appointment events count on the appointment's
// day and notification events on the day they happened, both in the tenant's
// time zone.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) error {
	switch msg.Topic {
	case events.NotificationSent, events.NotificationFailed:
		n, err := events.Decode[events.NotificationPayload](msg.Topic, msg.Value)
		if err != nil {
			return err
		}
		var d storage.Delta
		if msg.Topic == events.NotificationSent {
			d.NotificationsSent = 1
		} else {
			d.NotificationsFailed = 1
		}
		return h.record(ctx, meta, cmp.Or(n.TenantID, meta.TenantID), n.OccurredAt, d, nil)
	case events.AppointmentBooked, events.AppointmentCompleted, events.AppointmentCancelled, events.AppointmentNoShow:
	default:
		return fmt.Errorf("unexpected topic %q", msg.Topic)
	}

	a, err := events.Decode[events.Appointment](msg.Topic, msg.Value)
	if err != nil {
		return err
	}
	var d storage.Delta
	var stylist *events.Appointment
	switch msg.Topic {
	case events.AppointmentBooked:
		d.Booked = 1
	case events.AppointmentCompleted:
		d.Completed = 1
		d.RevenueCents = a.PriceCents
		if a.StylistID != "" {
			stylist = &a
		}
	case events.AppointmentCancelled:
		d.Cancelled = 1
	case events.AppointmentNoShow:
		d.NoShow = 1
	}
	return h.record(ctx, meta, cmp.Or(a.TenantID, meta.TenantID), a.StartTime, d, stylist)
}

func (h *Handler) record(ctx context.Context, meta kafkax.EventMeta, tenantID string, at time.Time, d storage.Delta, stylist *events.Appointment) error {
	if tenantID == "" {
		h.logger.Warn("event without tenant skipped", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	cfg, err := h.settings.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	day := at.In(cfg.Location()).Format(storage.DayLayout)

	_, err = h.inbox.Process(ctx, meta, func(tx pgx.Tx) error {
		if err := h.store.BumpDaily(ctx, tx, tenantID, day, d); err != nil {
			return err
		}
		if stylist != nil {
			return h.store.BumpStylist(ctx, tx, tenantID, stylist.StylistID, stylist.StylistName, day, stylist.PriceCents)
		}
		return nil
	})
	return err
}

