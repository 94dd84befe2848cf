// Package consumer routes domain events to the notification dispatcher.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/notification-service/internal/notify"
	"github.com/segmentio/kafka-go"
)

// Topics the notification service subscribes to.
var Topics = []string{
	events.AppointmentBooked,
	events.AppointmentCancelled,
	events.ClockRecorded,
	events.LoyaltyPointsEarned,
	events.LoyaltyTierUpgraded,
	events.ReminderDue,
}

type Inbox interface {
	Process(ctx context.Context, meta kafkax.EventMeta, fn func(tx pgx.Tx) error) (bool, error)
}

// AdminDirectory resolves the admin logins of a tenant.
type AdminDirectory interface {
	AdminEmails(ctx context.Context, tenantID string) ([]string, error)
}

type Handler struct {
	inbox      Inbox
	settings   settings.Source
	admins     AdminDirectory
	builder    notify.Builder
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
}

func New(inbox Inbox, source settings.Source, admins AdminDirectory, builder notify.Builder, dispatcher *notify.Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{
		inbox:      inbox,
		settings:   source,
		admins:     admins,
		builder:    builder,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type buildFunc func(b notify.Builder, cfg settings.Settings, admins []string) []notify.Message

func (h *Handler) Handle(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) error {
	tenantID, build, err := decode(msg)
	if err != nil {
		return err
	}
	if tenantID == "" {
		tenantID = meta.TenantID
	}
	cfg, err := h.settings.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	var admins []string
	if msg.Topic == events.ClockRecorded && notify.UsesAdminDirectory(cfg) {
		if admins, err = h.admins.AdminEmails(ctx, tenantID); err != nil {
			return fmt.Errorf("resolve admin recipients: %w", err)
		}
		if len(admins) == 0 {
			h.logger.Warn("clock notification has no admin recipients", "tenant_id", tenantID, "event_id", meta.EventID)
		}
	}
	msgs := build(h.builder, cfg, admins)
	if len(msgs) == 0 {
		h.logger.Debug("event produces no notifications", "topic", msg.Topic, "event_id", meta.EventID)
		return nil
	}
	fresh, err := h.inbox.Process(ctx, meta, func(tx pgx.Tx) error {
		return h.dispatcher.Deliver(ctx, tx, tenantID, meta.EventID, cfg.Notifications, msgs)
	})
	if err == nil && !fresh {
		h.logger.Info("duplicate event skipped", "topic", msg.Topic, "event_id", meta.EventID)
	}
	return err
}

func decode(msg kafka.Message) (string, buildFunc, error) {
	topic := msg.Topic
	switch topic {
	case events.AppointmentBooked, events.AppointmentCancelled:
		a, err := events.Decode[events.Appointment](topic, msg.Value)
		return a.TenantID, func(b notify.Builder, cfg settings.Settings, admins []string) []notify.Message {
			return b.Appointment(topic, a, cfg)
		}, err
	case events.ReminderDue:
		p, err := events.Decode[events.ReminderDuePayload](topic, msg.Value)
		return p.TenantID, func(b notify.Builder, cfg settings.Settings, admins []string) []notify.Message {
			return b.Reminder(p, cfg)
		}, err
	case events.ClockRecorded:
		p, err := events.Decode[events.ClockRecordedPayload](topic, msg.Value)
		return p.TenantID, func(b notify.Builder, cfg settings.Settings, admins []string) []notify.Message {
			return b.Clock(p, cfg, admins)
		}, err
	case events.LoyaltyPointsEarned, events.LoyaltyTierUpgraded:
		p, err := events.Decode[events.LoyaltyPayload](topic, msg.Value)
		return p.TenantID, func(b notify.Builder, cfg settings.Settings, admins []string) []notify.Message {
			return b.Loyalty(topic, p, cfg)
		}, err
	}
	return "", nil, fmt.Errorf("unexpected topic %q", topic)
}
