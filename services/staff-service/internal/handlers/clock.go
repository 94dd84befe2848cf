package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/metrics"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/staff-service/internal/storage"
	"github.com/modernmen/shopfront/services/staff-service/internal/timeclock"
)

// ClockStore is the storage surface used by clock actions.
type ClockStore interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	StylistByUser(ctx context.Context, tenantID, userID string) (storage.Stylist, error)
	LockStylist(ctx context.Context, q db.Querier, tenantID, id string) (storage.Stylist, error)
	ActiveSession(ctx context.Context, q db.Querier, stylistID string) (storage.Session, error)
	StartSession(ctx context.Context, q db.Querier, tenantID, stylistID string, at time.Time) (storage.Session, error)
	CompleteSession(ctx context.Context, q db.Querier, id string, clockOut time.Time, h timeclock.Hours) error
	SetClockedIn(ctx context.Context, q db.Querier, stylistID string, clockedIn bool) error
	InsertClockRecord(ctx context.Context, q db.Querier, rec storage.ClockRecord) error
	CompletedHoursSince(ctx context.Context, q db.Querier, stylistID string, since time.Time) (float64, error)
}

// EventWriter stores an outbox event inside the caller's transaction.
type EventWriter interface {
	Insert(ctx context.Context, q db.Querier, evt outbox.Event) error
}

type ClockHandler struct {
	store    ClockStore
	outbox   EventWriter
	settings settings.Source
	logger   *slog.Logger
	now      func() time.Time
}

func NewClockHandler(store ClockStore, outboxRepo EventWriter, source settings.Source, logger *slog.Logger) *ClockHandler {
	return &ClockHandler{
		store:    store,
		outbox:   outboxRepo,
		settings: source,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type clockRequest struct {
	Action  string `json:"action"`
	StaffID string `json:"staff_id"`
}

type clockResponse struct {
	Action    string           `json:"action"`
	StylistID string           `json:"stylistId"`
	SessionID string           `json:"sessionId"`
	At        time.Time        `json:"timestamp"`
	Hours     *timeclock.Hours `json:"hours,omitempty"`
	WeekHours float64          `json:"weekHours,omitempty"`
	Overtime  float64          `json:"weeklyOvertime,omitempty"`
}

func (h *ClockHandler) Clock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req clockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	action, err := timeclock.NormalizeAction(req.Action)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	resp, err := h.clock(r.Context(), id, action, strings.TrimSpace(req.StaffID))
	if err != nil {
		if apperr.Status(err) == http.StatusInternalServerError {
			h.logger.Error("clock action failed", "err", err, "tenant_id", id.TenantID, "action", action)
		}
		httpx.WriteError(w, r, err)
		return
	}
	metrics.ClockActions.WithLabelValues(action).Inc()
	msg := "Clocked in successfully"
	if action == timeclock.ActionClockOut {
		msg = "Clocked out successfully"
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, resp, msg)
}

func (h *ClockHandler) clock(ctx context.Context, id httpx.Identity, action, staffID string) (clockResponse, error) {
	cfg, err := h.settings.Get(ctx, id.TenantID)
	if err != nil {
		return clockResponse{}, err
	}
	if !cfg.Clock.Enabled {
		return clockResponse{}, apperr.Disabled("time clock is disabled for this shop")
	}

	stylistID, err := h.resolveStylist(ctx, id, staffID)
	if err != nil {
		return clockResponse{}, err
	}

	now := h.now()
	var resp clockResponse
	err = h.store.WithTx(ctx, func(tx pgx.Tx) error {
		stylist, err := h.store.LockStylist(ctx, tx, id.TenantID, stylistID)
		if err != nil {
			return err
		}
		active, err := h.store.ActiveSession(ctx, tx, stylist.ID)
		hasActive := err == nil
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		payload := events.ClockRecordedPayload{
			TenantID:    id.TenantID,
			StylistID:   stylist.ID,
			StylistName: stylist.Name,
			Action:      action,
			At:          now,
		}
		resp = clockResponse{Action: action, StylistID: stylist.ID, At: now}

		switch action {
		case timeclock.ActionClockIn:
			if hasActive {
				return apperr.Conflict("already clocked in")
			}
			session, err := h.store.StartSession(ctx, tx, id.TenantID, stylist.ID, now)
			if err != nil {
				return err
			}
			if err := h.store.SetClockedIn(ctx, tx, stylist.ID, true); err != nil {
				return err
			}
			resp.SessionID = session.ID
		case timeclock.ActionClockOut:
			if !hasActive {
				return apperr.Validation("not clocked in")
			}
			hours, err := timeclock.Calculate(timeclock.Entry{
				ClockIn:      active.ClockIn,
				ClockOut:     now,
				BreakMinutes: active.BreakMinutes,
			})
			if err != nil {
				return apperr.Validation(err.Error())
			}
			week, err := h.store.CompletedHoursSince(ctx, tx, stylist.ID, timeclock.WeekStart(now))
			if err != nil {
				return err
			}
			if err := timeclock.CheckShift(cfg.Clock.ShiftRules, hours.Worked, week); err != nil {
				return err
			}
			if err := h.store.CompleteSession(ctx, tx, active.ID, now, hours); err != nil {
				return err
			}
			if err := h.store.SetClockedIn(ctx, tx, stylist.ID, false); err != nil {
				return err
			}
			resp.SessionID = active.ID
			resp.Hours = &hours
			resp.WeekHours = timeclock.Round2(week + hours.Worked)
			resp.Overtime = timeclock.WeeklyOvertime(resp.WeekHours)
			payload.HoursWorked = hours.Worked
		}

		payload.SessionID = resp.SessionID
		if err := h.store.InsertClockRecord(ctx, tx, storage.ClockRecord{
			TenantID:   id.TenantID,
			StylistID:  stylist.ID,
			SessionID:  resp.SessionID,
			Action:     action,
			RecordedAt: now,
			RecordedBy: id.UserID,
		}); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(id.TenantID, "stylist", stylist.ID, events.ClockRecorded, payload)
		if err != nil {
			return err
		}
		return h.outbox.Insert(ctx, tx, evt)
	})
	return resp, err
}

// resolveStylist picks the stylist being clocked. Staff may only clock
// themselves; admins and managers may act for any stylist.
func (h *ClockHandler) resolveStylist(ctx context.Context, id httpx.Identity, staffID string) (string, error) {
	if !id.HasRole(auth.StaffRoles...) {
		return "", apperr.Forbidden("only staff members can use the time clock")
	}
	if staffID != "" && id.HasRole(auth.RoleAdmin, auth.RoleManager) {
		return staffID, nil
	}
	own, err := h.store.StylistByUser(ctx, id.TenantID, id.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		if staffID != "" {
			return "", apperr.Forbidden("staff can only clock for themselves")
		}
		return "", apperr.NotFound("no stylist profile is linked to this user")
	}
	if err != nil {
		return "", err
	}
	if staffID != "" && staffID != own.ID {
		return "", apperr.Forbidden("staff can only clock for themselves")
	}
	return own.ID, nil
}
