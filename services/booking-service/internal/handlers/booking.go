package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/metrics"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/booking-service/internal/availability"
	"github.com/modernmen/shopfront/services/booking-service/internal/model"
	"github.com/modernmen/shopfront/services/booking-service/internal/storage"
)

// Store is the storage surface of the booking handlers. Reads that need no
// transaction go through Reader.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Reader() db.Querier

	Stylist(ctx context.Context, q db.Querier, tenantID, id string) (model.Stylist, error)
	Service(ctx context.Context, q db.Querier, tenantID, id string) (model.Service, error)
	TimeOff(ctx context.Context, q db.Querier, stylistID string, from, to time.Time) ([]availability.DateRange, error)
	Busy(ctx context.Context, q db.Querier, tenantID, stylistID string, start, end time.Time) ([]storage.Booked, error)

	LockIdempotencyKey(ctx context.Context, q db.Querier, tenantID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, q db.Querier, tenantID, key, appointmentID string, statusCode int, response []byte) error

	Create(ctx context.Context, q db.Querier, appt model.Appointment) (model.Appointment, error)
	Get(ctx context.Context, q db.Querier, tenantID, id string) (model.Appointment, error)
	GetForUpdate(ctx context.Context, q db.Querier, tenantID, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, q db.Querier, tenantID, id, status, reason string) (model.Appointment, error)
	AppendHistory(ctx context.Context, q db.Querier, tenantID, appointmentID string, c model.StatusChange) error
	History(ctx context.Context, tenantID, appointmentID string) ([]model.StatusChange, error)
	List(ctx context.Context, f storage.Filter, page httpx.Page) ([]model.Appointment, int64, error)
}

// EventWriter stores an outbox event inside the caller's transaction.
type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type BookingHandler struct {
	store    Store
	outbox   EventWriter
	settings settings.Source
	logger   *slog.Logger
	now      func() time.Time
}

func NewBookingHandler(store Store, outboxRepo EventWriter, source settings.Source, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		store:    store,
		outbox:   outboxRepo,
		settings: source,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type bookRequest struct {
	StylistID     string `json:"stylist_id" validate:"required"`
	ServiceID     string `json:"service_id" validate:"required"`
	StartTime     string `json:"start_time" validate:"required"`
	CustomerName  string `json:"customer_name" validate:"required,max=200"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string `json:"customer_phone" validate:"omitempty,max=40"`
	Notes         string `json:"notes" validate:"max=1000"`
}

// Book creates a pending appointment. A request repeated with the same
// Idempotency-Key gets the first response back.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.TenantFromRequest(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.StylistID = strings.TrimSpace(req.StylistID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		httpx.WriteError(w, r, apperr.Validation("start_time must be RFC3339"))
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	appt := model.Appointment{
		TenantID:       tenantID,
		StylistID:      req.StylistID,
		ServiceID:      req.ServiceID,
		CustomerUserID: httpx.IdentityFromRequest(r).UserID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CustomerPhone:  strings.TrimSpace(req.CustomerPhone),
		Notes:          strings.TrimSpace(req.Notes),
		StartTime:      start.UTC(),
		Status:         model.StatusPending,
	}

	status, body, replayed, err := h.book(r.Context(), appt, key)
	if err != nil {
		result := "rejected"
		if errors.Is(err, apperr.ErrConflict) {
			result = "conflict"
		}
		metrics.BookingsCreated.WithLabelValues(result).Inc()
		if apperr.Status(err) == http.StatusInternalServerError {
			h.logger.Error("booking failed", "err", err, "tenant_id", tenantID)
		}
		httpx.WriteError(w, r, err)
		return
	}
	result := "created"
	if replayed {
		result = "replayed"
		w.Header().Set("Idempotent-Replayed", "true")
	}
	metrics.BookingsCreated.WithLabelValues(result).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (h *BookingHandler) book(ctx context.Context, appt model.Appointment, key string) (int, []byte, bool, error) {
	cfg, err := h.settings.Get(ctx, appt.TenantID)
	if err != nil {
		return 0, nil, false, err
	}

	var (
		status   int
		body     []byte
		replayed bool
	)
	err = h.store.WithTx(ctx, func(tx pgx.Tx) error {
		if key != "" {
			rec, replay, err := h.store.LockIdempotencyKey(ctx, tx, appt.TenantID, key)
			if err != nil {
				return err
			}
			if replay {
				status, body, replayed = rec.StatusCode, rec.ResponsePayload, true
				return nil
			}
		}

		stylist, err := h.store.Stylist(ctx, tx, appt.TenantID, appt.StylistID)
		if err != nil {
			return err
		}
		if !stylist.Active {
			return apperr.Validation("stylist is not accepting bookings")
		}
		service, err := h.store.Service(ctx, tx, appt.TenantID, appt.ServiceID)
		if err != nil {
			return err
		}
		if !service.Active {
			return apperr.Validation("service is not available")
		}
		appt.EndTime = appt.StartTime.Add(time.Duration(service.DurationMinutes) * time.Minute)
		appt.PriceCents = service.PriceCents

		if err := h.checkSlot(ctx, tx, cfg, stylist, appt); err != nil {
			return err
		}

		created, err := h.store.Create(ctx, tx, appt)
		if err != nil {
			return err
		}
		if err := h.store.AppendHistory(ctx, tx, created.TenantID, created.ID, model.StatusChange{
			Status:    created.Status,
			ChangedBy: created.CustomerUserID,
			Reason:    "booked",
			ChangedAt: h.now(),
		}); err != nil {
			return err
		}
		if err := h.emit(ctx, tx, created, events.AppointmentBooked, "", ""); err != nil {
			return err
		}

		status = http.StatusCreated
		body, err = json.Marshal(httpx.Envelope{
			Success:   true,
			Data:      created,
			Message:   "Appointment booked successfully",
			Timestamp: h.now().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if key != "" {
			return h.store.FinalizeIdempotency(ctx, tx, appt.TenantID, key, created.ID, status, body)
		}
		return nil
	})
	return status, body, replayed, err
}

// checkSlot verifies that the requested interval is a bookable slot for the
// stylist. The exclusion constraint still guards concurrent inserts.
func (h *BookingHandler) checkSlot(ctx context.Context, q db.Querier, cfg settings.Settings, stylist model.Stylist, appt model.Appointment) error {
	loc := cfg.Location()
	local := appt.StartTime.In(loc)
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if appt.StartTime.Before(h.now()) {
		return apperr.Validation("start_time is in the past")
	}

	timeOff, err := h.store.TimeOff(ctx, q, stylist.ID, date, date)
	if err != nil {
		return err
	}
	day, err := availability.Compute(availability.Query{
		Date:     date,
		Hours:    hoursFor(stylist, cfg),
		TimeOff:  timeOff,
		Duration: appt.EndTime.Sub(appt.StartTime),
		Step:     time.Duration(cfg.Booking.SlotStepMinutes) * time.Minute,
		Now:      h.now(),
	})
	if err != nil {
		return apperr.Validation("stylist working hours are invalid")
	}
	if day.WorkStart.IsZero() {
		return apperr.Validation(day.Reason)
	}

	if !availability.Fits(day, availability.Interval{Start: appt.StartTime, End: appt.EndTime}, nil) {
		return apperr.Validation("requested time is outside the stylist's working hours")
	}
	booked, err := h.store.Busy(ctx, q, appt.TenantID, stylist.ID, appt.StartTime, appt.EndTime)
	if err != nil {
		return err
	}
	if len(booked) > 0 {
		return apperr.Conflict("time slot already booked")
	}
	return nil
}

// hoursFor uses the stylist's own hours. The tenant break applies when the
// stylist has none.
func hoursFor(s model.Stylist, cfg settings.Settings) availability.Hours {
	hours := availability.Hours{
		WorkDays:   s.WorkDays,
		WorkStart:  s.WorkStart,
		WorkEnd:    s.WorkEnd,
		BreakStart: s.BreakStart,
		BreakEnd:   s.BreakEnd,
	}
	if hours.WorkStart == "" || hours.WorkEnd == "" {
		hours.WorkStart, hours.WorkEnd = cfg.Booking.WorkStart, cfg.Booking.WorkEnd
	}
	if hours.BreakStart == "" || hours.BreakEnd == "" {
		hours.BreakStart, hours.BreakEnd = cfg.Booking.BreakStart, cfg.Booking.BreakEnd
	}
	return hours
}

func (h *BookingHandler) emit(ctx context.Context, q db.Querier, a model.Appointment, eventType, previous, reason string) error {
	evt, err := outbox.NewEvent(a.TenantID, "appointment", a.ID, eventType, events.Appointment{
		AppointmentID:  a.ID,
		TenantID:       a.TenantID,
		StylistID:      a.StylistID,
		StylistName:    a.StylistName,
		ServiceID:      a.ServiceID,
		ServiceName:    a.ServiceName,
		CustomerID:     a.CustomerUserID,
		CustomerName:   a.CustomerName,
		CustomerEmail:  a.CustomerEmail,
		CustomerPhone:  a.CustomerPhone,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		PriceCents:     a.PriceCents,
		Status:         a.Status,
		PreviousStatus: previous,
		Reason:         reason,
		OccurredAt:     h.now(),
	})
	if err != nil {
		return err
	}
	return h.outbox.Insert(ctx, q, evt)
}

func (h *BookingHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if apperr.Status(err) == http.StatusInternalServerError {
		h.logger.Error(msg, "err", err)
	}
	httpx.WriteError(w, r, err)
}
