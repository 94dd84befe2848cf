// Package consumer schedules and cancels reminder jobs from booking events.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/scheduler-service/internal/jobs"
	"github.com/segmentio/kafka-go"
)

// Topics the scheduler subscribes to.
var Topics = []string{
	events.AppointmentBooked,
	events.AppointmentRescheduled,
	events.AppointmentCancelled,
}

type Inbox interface {
	Process(ctx context.Context, meta kafkax.EventMeta, fn func(tx pgx.Tx) error) (bool, error)
}

type Store interface {
	Insert(ctx context.Context, q db.Querier, job jobs.Job) (bool, error)
	CancelPending(ctx context.Context, q db.Querier, tenantID, appointmentID string) (int64, error)
}

type Handler struct {
	inbox    Inbox
	store    Store
	settings settings.Source
	logger   *slog.Logger
	now      func() time.Time
}

func New(inbox Inbox, store Store, source settings.Source, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, store: store, settings: source, logger: logger, now: time.Now}
}

// Handle schedules reminders for booked appointments. Cancelled and
// rescheduled appointments lose their pending reminders; a rescheduled
// appointment is rebooked under a new id.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) error {
	switch msg.Topic {
	case events.AppointmentBooked, events.AppointmentRescheduled, events.AppointmentCancelled:
	default:
		return fmt.Errorf("unexpected topic %q", msg.Topic)
	}
	a, err := events.Decode[events.Appointment](msg.Topic, msg.Value)
	if err != nil {
		return err
	}
	if a.TenantID == "" {
		a.TenantID = meta.TenantID
	}

	var planned []jobs.Job
	if msg.Topic == events.AppointmentBooked {
		cfg, err := h.settings.Get(ctx, a.TenantID)
		if err != nil {
			return err
		}
		planned = jobs.Plan(a, cfg.Booking.ReminderOffsetsMinutes, h.now().UTC())
	}

	_, err = h.inbox.Process(ctx, meta, func(tx pgx.Tx) error {
		if msg.Topic != events.AppointmentBooked {
			n, err := h.store.CancelPending(ctx, tx, a.TenantID, a.AppointmentID)
			if err != nil {
				return err
			}
			if n > 0 {
				h.logger.Info("reminders cancelled", "appointment_id", a.AppointmentID, "count", n)
			}
		}
		created := 0
		for _, job := range planned {
			ok, err := h.store.Insert(ctx, tx, job)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		if created > 0 {
			h.logger.Info("reminders scheduled", "appointment_id", a.AppointmentID, "count", created)
		}
		return nil
	})
	return err
}
