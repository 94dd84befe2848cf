package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/metrics"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/booking-service/internal/model"
	"github.com/modernmen/shopfront/services/booking-service/internal/storage"
)

// List returns appointments. Customers only ever see their own.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := storage.Filter{
		TenantID:  id.TenantID,
		StylistID: strings.TrimSpace(q.Get("stylist_id")),
		Status:    strings.TrimSpace(q.Get("status")),
	}
	if f.Status != "" && !model.ValidStatus(f.Status) {
		httpx.WriteError(w, r, apperr.Validation("unknown status"))
		return
	}
	if !id.HasRole(auth.StaffRoles...) {
		f.CustomerUserID = id.UserID
	}

	cfg, err := h.settings.Get(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, r, "settings lookup failed", err)
		return
	}
	loc := cfg.Location()
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		if f.From, err = time.ParseInLocation(time.DateOnly, v, loc); err != nil {
			httpx.WriteError(w, r, apperr.Validation("from must be YYYY-MM-DD"))
			return
		}
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		to, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			httpx.WriteError(w, r, apperr.Validation("to must be YYYY-MM-DD"))
			return
		}
		f.To = to.AddDate(0, 0, 1)
	}

	page := httpx.ParsePage(r, 20, 100)
	items, total, err := h.store.List(r.Context(), f, page)
	if err != nil {
		h.fail(w, r, "list appointments failed", err)
		return
	}
	httpx.WriteList(w, items, httpx.NewPageMeta(page, total))
}

type appointmentDetail struct {
	model.Appointment
	History []model.StatusChange `json:"statusHistory"`
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	appt, err := h.store.Get(r.Context(), h.store.Reader(), id.TenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get appointment failed", err)
		return
	}
	if !canSee(id, appt) {
		httpx.WriteError(w, r, apperr.NotFound("appointment not found"))
		return
	}
	history, err := h.store.History(r.Context(), id.TenantID, appt.ID)
	if err != nil {
		h.fail(w, r, "appointment history failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, appointmentDetail{Appointment: appt, History: history})
}

func canSee(id httpx.Identity, appt model.Appointment) bool {
	return id.HasRole(auth.StaffRoles...) || (appt.CustomerUserID != "" && appt.CustomerUserID == id.UserID)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

// UpdateStatus moves an appointment along its lifecycle.
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if !model.ValidStatus(req.Status) {
		httpx.WriteError(w, r, apperr.Validation("unknown status"))
		return
	}

	appt, changed, err := h.transition(r.Context(), id, r.PathValue("id"), req.Status, strings.TrimSpace(req.Reason), false)
	if err != nil {
		h.fail(w, r, "status update failed", err)
		return
	}
	if changed {
		metrics.AppointmentTransitions.WithLabelValues(appt.Status).Inc()
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, appt, "Appointment status updated")
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Cancel is the idempotent cancellation: cancelling a cancelled appointment
// returns it unchanged.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	appt, changed, err := h.transition(r.Context(), id, r.PathValue("id"), model.StatusCancelled, strings.TrimSpace(req.Reason), true)
	if err != nil {
		h.fail(w, r, "cancel appointment failed", err)
		return
	}
	msg := "Appointment already cancelled"
	if changed {
		metrics.AppointmentTransitions.WithLabelValues(appt.Status).Inc()
		msg = "Appointment cancelled"
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, appt, msg)
}

// transition applies a status change under a row lock, appends history and
// writes the matching outbox event. With sameIsNoop a change to the current
// status succeeds without side effects.
func (h *BookingHandler) transition(ctx context.Context, id httpx.Identity, apptID, status, reason string, sameIsNoop bool) (model.Appointment, bool, error) {
	var (
		out     model.Appointment
		changed bool
	)
	err := h.store.WithTx(ctx, func(tx pgx.Tx) error {
		appt, err := h.store.GetForUpdate(ctx, tx, id.TenantID, apptID)
		if err != nil {
			return err
		}
		if !canSee(id, appt) {
			return apperr.NotFound("appointment not found")
		}
		if appt.Status == status && sameIsNoop {
			out = appt
			return nil
		}
		if !model.CanTransition(appt.Status, status) {
			return apperr.Newf(apperr.ErrValidation, "cannot change status from %s to %s", appt.Status, status)
		}

		updated, err := h.store.UpdateStatus(ctx, tx, id.TenantID, appt.ID, status, reason)
		if err != nil {
			return err
		}
		if err := h.store.AppendHistory(ctx, tx, id.TenantID, appt.ID, model.StatusChange{
			Status:         status,
			PreviousStatus: appt.Status,
			ChangedBy:      id.UserID,
			Reason:         reason,
			ChangedAt:      h.now(),
		}); err != nil {
			return err
		}
		if err := h.emit(ctx, tx, updated, events.AppointmentStatusTopic(status), appt.Status, reason); err != nil {
			return err
		}
		out, changed = updated, true
		return nil
	})
	return out, changed, err
}
