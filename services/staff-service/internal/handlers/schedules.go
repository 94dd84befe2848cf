package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/staff-service/internal/storage"
)

type scheduleRequest struct {
	StaffID string `json:"staff_id" validate:"required,uuid"`
	Date    string `json:"date" validate:"required,ymd"`
	Start   string `json:"start" validate:"required,hhmm"`
	End     string `json:"end" validate:"required,hhmm"`
	Notes   string `json:"notes" validate:"max=500"`
}

type scheduleItem struct {
	storage.Schedule
	Start string `json:"start"`
	End   string `json:"end"`
}

func toScheduleItem(s storage.Schedule) scheduleItem {
	return scheduleItem{Schedule: s, Start: clockString(s.StartMinute), End: clockString(s.EndMinute)}
}

func clockString(minute int) string {
	return time.Date(0, 1, 1, minute/60, minute%60, 0, 0, time.UTC).Format("15:04")
}

func (h *StaffHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req scheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)
	start, _ := settings.MinuteOfDay(req.Start)
	end, _ := settings.MinuteOfDay(req.End)
	if end <= start {
		httpx.WriteError(w, r, apperr.Validation("end must be after start"))
		return
	}
	if _, err := h.repo.FindStylist(r.Context(), id.TenantID, req.StaffID); err != nil {
		h.fail(w, r, "load stylist failed", err)
		return
	}
	s, err := h.repo.CreateSchedule(r.Context(), id.TenantID, storage.Schedule{
		StylistID:   req.StaffID,
		Date:        date,
		StartMinute: start,
		EndMinute:   end,
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.fail(w, r, "create schedule failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusCreated, toScheduleItem(s), "Shift scheduled")
}

// ListSchedules defaults to the seven days starting today in the tenant's
// timezone.
func (h *StaffHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	from, err := parseDateParam(q.Get("from"), "from")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	to, err := parseDateParam(q.Get("to"), "to")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if from.IsZero() {
		cfg, err := h.settings.Get(r.Context(), id.TenantID)
		if err != nil {
			h.fail(w, r, "load settings failed", err)
			return
		}
		y, m, d := h.now().In(cfg.Location()).Date()
		from = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 6)
	}
	items, err := h.repo.ListSchedules(r.Context(), id.TenantID, strings.TrimSpace(q.Get("staff_id")), from, to)
	if err != nil {
		h.fail(w, r, "list schedules failed", err)
		return
	}
	out := make([]scheduleItem, 0, len(items))
	for _, s := range items {
		out = append(out, toScheduleItem(s))
	}
	httpx.WriteSuccess(w, http.StatusOK, out)
}
