// Package consumer awards loyalty points for completed appointments.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/kafkax"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/crm-service/internal/loyalty"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
	"github.com/segmentio/kafka-go"
)

type Inbox interface {
	Process(ctx context.Context, meta kafkax.EventMeta, fn func(tx pgx.Tx) error) (bool, error)
}

type Store interface {
	FindCustomerForUpdate(ctx context.Context, q db.Querier, tenantID, userID, email string) (model.Customer, error)
	CreateCustomer(ctx context.Context, q db.Querier, c model.Customer) (model.Customer, error)
}

type Completed struct {
	inbox    Inbox
	store    Store
	loyalty  *loyalty.Service
	settings settings.Source
	logger   *slog.Logger
}

func NewCompleted(inbox Inbox, store Store, awards *loyalty.Service, source settings.Source, logger *slog.Logger) *Completed {
	return &Completed{inbox: inbox, store: store, loyalty: awards, settings: source, logger: logger}
}

// Handle is a kafkax.Handler for booking.appointment.completed.v1. A customer
// record is created on first completion when the booking carried an email or
// a user id.
func (c *Completed) Handle(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) error {
	appt, err := events.Decode[events.Appointment](msg.Topic, msg.Value)
	if err != nil {
		return err
	}
	if appt.TenantID == "" {
		appt.TenantID = meta.TenantID
	}
	cfg, err := c.settings.Get(ctx, appt.TenantID)
	if err != nil {
		return err
	}
	if !loyalty.Configured(cfg.Loyalty) {
		c.logger.Debug("loyalty not configured, skipping award", "tenant_id", appt.TenantID, "appointment_id", appt.AppointmentID)
		return nil
	}
	if appt.CustomerID == "" && appt.CustomerEmail == "" {
		c.logger.Info("completed appointment has no customer identity", "appointment_id", appt.AppointmentID)
		return nil
	}

	_, err = c.inbox.Process(ctx, meta, func(tx pgx.Tx) error {
		customer, err := c.customerFor(ctx, tx, appt)
		if err != nil {
			return err
		}
		points := loyalty.AppointmentPoints(appt.PriceCents, customer.LoyaltyTier, cfg.Loyalty)
		if points <= 0 {
			return nil
		}
		change, err := c.loyalty.Award(ctx, tx, cfg.Loyalty, customer, points, "Appointment completed", appt.AppointmentID, loyalty.SourceAppointment)
		if err != nil {
			return err
		}
		c.logger.Info("loyalty points awarded",
			"tenant_id", appt.TenantID,
			"customer_id", customer.ID,
			"appointment_id", appt.AppointmentID,
			"points", points,
			"tier", change.NewTier,
		)
		return nil
	})
	return err
}

func (c *Completed) customerFor(ctx context.Context, q db.Querier, appt events.Appointment) (model.Customer, error) {
	customer, err := c.store.FindCustomerForUpdate(ctx, q, appt.TenantID, appt.CustomerID, appt.CustomerEmail)
	if err == nil || !errors.Is(err, apperr.ErrNotFound) {
		return customer, err
	}
	first, last, _ := strings.Cut(strings.TrimSpace(appt.CustomerName), " ")
	return c.store.CreateCustomer(ctx, q, model.Customer{
		TenantID:  appt.TenantID,
		UserID:    appt.CustomerID,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
		Email:     appt.CustomerEmail,
		Phone:     appt.CustomerPhone,
		Status:    model.CustomerActive,
	})
}
