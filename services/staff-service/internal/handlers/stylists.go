package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/staff-service/internal/storage"
)

// StaffStore is the storage surface behind stylist, schedule and clock
// record management.
type StaffStore interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ListStylists(ctx context.Context, tenantID string, activeOnly bool) ([]storage.Stylist, error)
	FindStylist(ctx context.Context, tenantID, id string) (storage.Stylist, error)
	StylistByUser(ctx context.Context, tenantID, userID string) (storage.Stylist, error)
	CreateStylist(ctx context.Context, s storage.Stylist) (storage.Stylist, error)
	UpdateStylist(ctx context.Context, s storage.Stylist) (storage.Stylist, error)
	DeleteStylist(ctx context.Context, tenantID, id string) error
	CreateTimeOff(ctx context.Context, tenantID string, t storage.TimeOff) (storage.TimeOff, error)
	ListTimeOff(ctx context.Context, tenantID, stylistID string) ([]storage.TimeOff, error)
	CreateSchedule(ctx context.Context, tenantID string, s storage.Schedule) (storage.Schedule, error)
	ListSchedules(ctx context.Context, tenantID, stylistID string, from, to time.Time) ([]storage.Schedule, error)
	ListSessions(ctx context.Context, f storage.SessionFilter) ([]storage.Session, error)
	GetSession(ctx context.Context, q db.Querier, tenantID, id string) (storage.Session, error)
	CorrectSession(ctx context.Context, q db.Querier, s storage.Session) error
	DeleteSession(ctx context.Context, q db.Querier, tenantID, id string) error
	SetClockedIn(ctx context.Context, q db.Querier, stylistID string, clockedIn bool) error
}

type StaffHandler struct {
	repo     StaffStore
	settings settings.Source
	logger   *slog.Logger
	now      func() time.Time
}

func NewStaffHandler(repo StaffStore, source settings.Source, logger *slog.Logger) *StaffHandler {
	return &StaffHandler{repo: repo, settings: source, logger: logger, now: time.Now}
}

type stylistRequest struct {
	UserID            string  `json:"user_id" validate:"omitempty,uuid"`
	Name              string  `json:"name" validate:"required,max=120"`
	Email             string  `json:"email" validate:"omitempty,email"`
	Bio               string  `json:"bio" validate:"max=2000"`
	Active            *bool   `json:"active"`
	WorkDays          []int32 `json:"work_days" validate:"omitempty,max=7,dive,min=0,max=6"`
	WorkStart         string  `json:"work_start" validate:"omitempty,hhmm"`
	WorkEnd           string  `json:"work_end" validate:"omitempty,hhmm"`
	BreakStart        string  `json:"break_start" validate:"omitempty,hhmm"`
	BreakEnd          string  `json:"break_end" validate:"omitempty,hhmm"`
	HourlyRateCents   int64   `json:"hourly_rate_cents" validate:"gte=0"`
	OvertimeRateCents int64   `json:"overtime_rate_cents" validate:"gte=0"`
	CommissionCents   int64   `json:"commission_cents" validate:"gte=0"`
}

func (req stylistRequest) toStylist(tenantID string) (storage.Stylist, error) {
	s := storage.Stylist{
		TenantID:          tenantID,
		UserID:            strings.TrimSpace(req.UserID),
		Name:              strings.TrimSpace(req.Name),
		Email:             strings.TrimSpace(req.Email),
		Bio:               strings.TrimSpace(req.Bio),
		Active:            true,
		WorkDays:          req.WorkDays,
		WorkStart:         req.WorkStart,
		WorkEnd:           req.WorkEnd,
		BreakStart:        req.BreakStart,
		BreakEnd:          req.BreakEnd,
		HourlyRateCents:   req.HourlyRateCents,
		OvertimeRateCents: req.OvertimeRateCents,
		CommissionCents:   req.CommissionCents,
	}
	if req.Active != nil {
		s.Active = *req.Active
	}
	if len(s.WorkDays) == 0 {
		s.WorkDays = []int32{1, 2, 3, 4, 5}
	}
	if s.WorkStart == "" {
		s.WorkStart = "09:00"
	}
	if s.WorkEnd == "" {
		s.WorkEnd = "17:00"
	}
	start, _ := settings.MinuteOfDay(s.WorkStart)
	end, _ := settings.MinuteOfDay(s.WorkEnd)
	if end <= start {
		return s, apperr.Validation("invalid request").WithDetails(map[string]string{"work_end": "must be after work_start"})
	}
	if (s.BreakStart == "") != (s.BreakEnd == "") {
		return s, apperr.Validation("invalid request").WithDetails(map[string]string{"break_end": "break_start and break_end go together"})
	}
	if s.BreakStart != "" {
		bs, _ := settings.MinuteOfDay(s.BreakStart)
		be, _ := settings.MinuteOfDay(s.BreakEnd)
		if be <= bs || bs < start || be > end {
			return s, apperr.Validation("invalid request").WithDetails(map[string]string{"break_end": "break must fall inside working hours"})
		}
	}
	return s, nil
}

func (h *StaffHandler) decodeStylist(r *http.Request, tenantID string) (storage.Stylist, error) {
	var req stylistRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return storage.Stylist{}, err
	}
	if err := validate.Struct(req); err != nil {
		return storage.Stylist{}, err
	}
	return req.toStylist(tenantID)
}

func (h *StaffHandler) ListStylists(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	items, err := h.repo.ListStylists(r.Context(), id.TenantID, activeOnly)
	if err != nil {
		h.fail(w, r, "list stylists failed", err)
		return
	}
	if items == nil {
		items = []storage.Stylist{}
	}
	httpx.WriteSuccess(w, http.StatusOK, items)
}

type publicStylist struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Bio      string  `json:"bio"`
	WorkDays []int32 `json:"workDays"`
}

// PublicStylists lists active stylists for the booking page.
func (h *StaffHandler) PublicStylists(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.TenantFromRequest(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	items, err := h.repo.ListStylists(r.Context(), tenantID, true)
	if err != nil {
		h.fail(w, r, "list public stylists failed", err)
		return
	}
	out := make([]publicStylist, 0, len(items))
	for _, s := range items {
		out = append(out, publicStylist{ID: s.ID, Name: s.Name, Bio: s.Bio, WorkDays: s.WorkDays})
	}
	httpx.WriteSuccess(w, http.StatusOK, out)
}

func (h *StaffHandler) GetStylist(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.repo.FindStylist(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get stylist failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, s)
}

func (h *StaffHandler) CreateStylist(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.decodeStylist(r, id.TenantID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	created, err := h.repo.CreateStylist(r.Context(), s)
	if err != nil {
		h.fail(w, r, "create stylist failed", err)
		return
	}
	h.logger.Info("stylist created", "tenant_id", id.TenantID, "stylist_id", created.ID)
	httpx.WriteSuccessMessage(w, http.StatusCreated, created, "Stylist created")
}

func (h *StaffHandler) UpdateStylist(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.decodeStylist(r, id.TenantID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.ID = r.PathValue("id")
	updated, err := h.repo.UpdateStylist(r.Context(), s)
	if err != nil {
		h.fail(w, r, "update stylist failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, updated, "Stylist updated")
}

func (h *StaffHandler) DeleteStylist(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.repo.DeleteStylist(r.Context(), id.TenantID, r.PathValue("id")); err != nil {
		h.fail(w, r, "delete stylist failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, nil, "Stylist deleted")
}

type timeOffRequest struct {
	StartDate string `json:"start_date" validate:"required,ymd"`
	EndDate   string `json:"end_date" validate:"required,ymd"`
	Reason    string `json:"reason" validate:"max=500"`
}

func (h *StaffHandler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req timeOffRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	start, _ := time.Parse("2006-01-02", req.StartDate)
	end, _ := time.Parse("2006-01-02", req.EndDate)
	if end.Before(start) {
		httpx.WriteError(w, r, apperr.Validation("end_date must not be before start_date"))
		return
	}
	stylist, err := h.repo.FindStylist(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "load stylist failed", err)
		return
	}
	t, err := h.repo.CreateTimeOff(r.Context(), id.TenantID, storage.TimeOff{
		StylistID: stylist.ID,
		StartDate: start,
		EndDate:   end,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.fail(w, r, "create time off failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusCreated, t, "Time off recorded")
}

func (h *StaffHandler) ListTimeOff(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	items, err := h.repo.ListTimeOff(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "list time off failed", err)
		return
	}
	if items == nil {
		items = []storage.TimeOff{}
	}
	httpx.WriteSuccess(w, http.StatusOK, items)
}

func (h *StaffHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if apperr.Status(err) == http.StatusInternalServerError {
		h.logger.Error(msg, "err", err)
	}
	httpx.WriteError(w, r, err)
}
