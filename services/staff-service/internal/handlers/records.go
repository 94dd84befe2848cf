package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/staff-service/internal/storage"
	"github.com/modernmen/shopfront/services/staff-service/internal/timeclock"
)

type recordsResponse struct {
	Records        []storage.Session `json:"records"`
	TotalHours     float64           `json:"totalHours"`
	RegularHours   float64           `json:"regularHours"`
	OvertimeHours  float64           `json:"overtimeHours"`
	WeeklyOvertime float64           `json:"weeklyOvertime"`
}

// ClockRecords lists work sessions. Staff see only their own sessions.
func (h *StaffHandler) ClockRecords(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := storage.SessionFilter{TenantID: id.TenantID, StylistID: strings.TrimSpace(q.Get("staff_id"))}
	if filter.From, err = parseDateParam(q.Get("from"), "from"); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if filter.To, err = parseDateParam(q.Get("to"), "to"); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.AddDate(0, 0, 1)
	}
	if id.Role == auth.RoleStaff {
		own, err := h.repo.StylistByUser(r.Context(), id.TenantID, id.UserID)
		if err != nil {
			h.fail(w, r, "resolve stylist failed", err)
			return
		}
		if filter.StylistID != "" && filter.StylistID != own.ID {
			httpx.WriteError(w, r, apperr.Forbidden("staff can only view their own records"))
			return
		}
		filter.StylistID = own.ID
	}

	sessions, err := h.repo.ListSessions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list clock records failed", err)
		return
	}
	resp := recordsResponse{Records: sessions}
	if resp.Records == nil {
		resp.Records = []storage.Session{}
	}
	for _, s := range sessions {
		resp.TotalHours += s.HoursWorked
		resp.RegularHours += s.RegularHours
		resp.OvertimeHours += s.OvertimeHours
	}
	resp.TotalHours = timeclock.Round2(resp.TotalHours)
	resp.RegularHours = timeclock.Round2(resp.RegularHours)
	resp.OvertimeHours = timeclock.Round2(resp.OvertimeHours)
	resp.WeeklyOvertime = timeclock.WeeklyOvertime(resp.TotalHours)
	httpx.WriteSuccess(w, http.StatusOK, resp)
}

type correctionRequest struct {
	ClockIn      time.Time  `json:"clock_in" validate:"required"`
	ClockOut     *time.Time `json:"clock_out"`
	BreakMinutes int        `json:"break_minutes" validate:"gte=0,lte=720"`
	Reason       string     `json:"reason" validate:"required,max=500"`
}

// CorrectClockRecord rewrites a session by hand and recomputes its hours.
func (h *StaffHandler) CorrectClockRecord(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req correctionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var out storage.Session
	err = h.repo.WithTx(r.Context(), func(tx pgx.Tx) error {
		s, err := h.repo.GetSession(r.Context(), tx, id.TenantID, r.PathValue("id"))
		if err != nil {
			return err
		}
		s.ClockIn = req.ClockIn.UTC()
		s.BreakMinutes = req.BreakMinutes
		s.ManualReason = strings.TrimSpace(req.Reason)
		s.IsManual = true
		if req.ClockOut == nil {
			if s.Status == storage.SessionCompleted {
				return apperr.Validation("clock_out is required for a completed session")
			}
			s.HoursWorked, s.RegularHours, s.OvertimeHours = 0, 0, 0
		} else {
			clockOut := req.ClockOut.UTC()
			hours, err := timeclock.Calculate(timeclock.Entry{ClockIn: s.ClockIn, ClockOut: clockOut, BreakMinutes: s.BreakMinutes})
			if err != nil {
				return apperr.Validation(err.Error())
			}
			if s.Status == storage.SessionActive {
				if err := h.repo.SetClockedIn(r.Context(), tx, s.StylistID, false); err != nil {
					return err
				}
			}
			s.ClockOut = &clockOut
			s.Status = storage.SessionCompleted
			s.HoursWorked, s.RegularHours, s.OvertimeHours = hours.Worked, hours.Regular, hours.Overtime
		}
		out = s
		return h.repo.CorrectSession(r.Context(), tx, s)
	})
	if err != nil {
		h.fail(w, r, "correct clock record failed", err)
		return
	}
	h.logger.Info("clock record corrected", "tenant_id", id.TenantID, "session_id", out.ID, "by", id.UserID)
	httpx.WriteSuccessMessage(w, http.StatusOK, out, "Clock record updated")
}

func (h *StaffHandler) DeleteClockRecord(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	err = h.repo.WithTx(r.Context(), func(tx pgx.Tx) error {
		s, err := h.repo.GetSession(r.Context(), tx, id.TenantID, r.PathValue("id"))
		if err != nil {
			return err
		}
		if s.Status == storage.SessionActive {
			if err := h.repo.SetClockedIn(r.Context(), tx, s.StylistID, false); err != nil {
				return err
			}
		}
		return h.repo.DeleteSession(r.Context(), tx, id.TenantID, s.ID)
	})
	if err != nil {
		h.fail(w, r, "delete clock record failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, nil, "Clock record deleted")
}

func parseDateParam(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, apperr.Validation(name + " must be a date in YYYY-MM-DD format")
	}
	return t, nil
}
