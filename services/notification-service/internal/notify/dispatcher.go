package notify

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/metrics"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/settings"
	emailpkg "github.com/modernmen/shopfront/services/notification-service/internal/email"
	"github.com/modernmen/shopfront/services/notification-service/internal/sms"
	"github.com/modernmen/shopfront/services/notification-service/internal/storage"
)

var errEmailDisabled = errors.New("email notifications disabled")

type Store interface {
	Insert(ctx context.Context, q db.Querier, n storage.Notification) (int64, error)
}

type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type Dispatcher struct {
	store  Store
	outbox EventWriter
	email  emailpkg.Sender
	sms    sms.Sender
	logger *slog.Logger
	now    func() time.Time
}

func NewDispatcher(store Store, outboxRepo EventWriter, emailSender emailpkg.Sender, smsSender sms.Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		outbox: outboxRepo,
		email:  emailSender,
		sms:    smsSender,
		logger: logger,
		now:    time.Now,
	}
}

// Deliver sends msgs and records every outcome through q. Send failures are
// recorded as failed notifications; only storage errors are returned.
func (d *Dispatcher) Deliver(ctx context.Context, q db.Querier, tenantID, eventID string, cfg settings.NotificationSettings, msgs []Message) error {
	for _, m := range msgs {
		n := storage.Notification{
			TenantID:  tenantID,
			EventID:   eventID,
			Trigger:   m.Trigger,
			Channel:   m.Channel,
			Recipient: m.Recipient,
			Subject:   m.Subject,
			Body:      m.Body,
			Status:    storage.StatusSent,
		}
		switch err := d.send(ctx, m, cfg); {
		case errors.Is(err, errEmailDisabled):
			n.Status, n.Error = storage.StatusSkipped, err.Error()
		case err != nil:
			n.Status, n.Error = storage.StatusFailed, err.Error()
			d.logger.Warn("notification send failed", "err", err, "trigger", m.Trigger, "channel", m.Channel, "tenant_id", tenantID)
		}

		id, err := d.store.Insert(ctx, q, n)
		if err != nil {
			return err
		}
		metrics.NotificationsSent.WithLabelValues(m.Trigger, n.Status).Inc()
		if n.Status == storage.StatusSkipped {
			continue
		}

		topic := events.NotificationSent
		if n.Status == storage.StatusFailed {
			topic = events.NotificationFailed
		}
		evt, err := outbox.NewEvent(tenantID, "notification", strconv.FormatInt(id, 10), topic, events.NotificationPayload{
			NotificationID: id,
			TenantID:       tenantID,
			Trigger:        m.Trigger,
			Channel:        m.Channel,
			Recipient:      m.Recipient,
			Error:          n.Error,
			OccurredAt:     d.now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := d.outbox.Insert(ctx, q, evt); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, m Message, cfg settings.NotificationSettings) error {
	switch m.Channel {
	case ChannelSMS:
		return d.sms.Send(ctx, m.Recipient, m.Body)
	default:
		if !cfg.EmailEnabled {
			return errEmailDisabled
		}
		return d.email.Send(ctx, emailpkg.Message{
			From:    cfg.FromAddress,
			To:      m.Recipient,
			Subject: m.Subject,
			HTML:    m.Body,
		})
	}
}
