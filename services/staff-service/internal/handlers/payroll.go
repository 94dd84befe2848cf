package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/metrics"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/staff-service/internal/payroll"
	"github.com/modernmen/shopfront/services/staff-service/internal/storage"
)

type PayrollStore interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ListStylists(ctx context.Context, tenantID string, activeOnly bool) ([]storage.Stylist, error)
	HoursByStylist(ctx context.Context, q db.Querier, tenantID string, from, to time.Time) (map[string]storage.WorkedHours, error)
	UpsertPayroll(ctx context.Context, q db.Querier, tenantID string, rec storage.PayrollRecord) (storage.PayrollRecord, bool, error)
	ListPayroll(ctx context.Context, tenantID string, from, to time.Time) ([]storage.PayrollRecord, error)
	ApprovePayroll(ctx context.Context, tenantID, id, approvedBy string) (storage.PayrollRecord, error)
}

// PayrollHandler resolves period dates in the tenant's timezone. Hours are
// attributed to a period by local clock-in date.
type PayrollHandler struct {
	store    PayrollStore
	settings settings.Source
	logger   *slog.Logger
	now      func() time.Time
}

func NewPayrollHandler(store PayrollStore, source settings.Source, logger *slog.Logger) *PayrollHandler {
	return &PayrollHandler{store: store, settings: source, logger: logger, now: time.Now}
}

type payrollListResponse struct {
	Records []storage.PayrollRecord `json:"payrollRecords"`
	Stats   payroll.Stats           `json:"stats"`
	Period  periodBounds            `json:"period"`
}

type periodBounds struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (h *PayrollHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	loc, err := h.location(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, r, "load settings failed", err, id.TenantID)
		return
	}
	from, to, err := payroll.Period(r.URL.Query().Get("period"), h.now().In(loc))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	records, err := h.store.ListPayroll(r.Context(), id.TenantID, from, to)
	if err != nil {
		h.fail(w, r, "list payroll failed", err, id.TenantID)
		return
	}
	lines := make([]payroll.Line, 0, len(records))
	for _, rec := range records {
		lines = append(lines, payroll.Line{StylistID: rec.StylistID, Status: rec.Status, GrossCents: rec.GrossCents, NetCents: rec.NetCents})
	}
	if records == nil {
		records = []storage.PayrollRecord{}
	}
	httpx.WriteSuccess(w, http.StatusOK, payrollListResponse{
		Records: records,
		Stats:   payroll.Summarize(lines),
		Period:  periodBounds{Start: from.Format("2006-01-02"), End: to.Format("2006-01-02")},
	})
}

type generateRequest struct {
	PeriodStart string `json:"period_start" validate:"required,ymd"`
	PeriodEnd   string `json:"period_end" validate:"required,ymd"`
}

type generateResponse struct {
	Records []storage.PayrollRecord `json:"payrollRecords"`
	Skipped []string                `json:"skippedApproved,omitempty"`
}

func (h *PayrollHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	loc, err := h.location(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, r, "load settings failed", err, id.TenantID)
		return
	}
	from, _ := time.ParseInLocation("2006-01-02", req.PeriodStart, loc)
	to, _ := time.ParseInLocation("2006-01-02", req.PeriodEnd, loc)
	if to.Before(from) {
		httpx.WriteError(w, r, apperr.Validation("period_end must not be before period_start"))
		return
	}

	resp, err := h.generate(r.Context(), id.TenantID, from, to)
	if err != nil {
		h.fail(w, r, "payroll generation failed", err, id.TenantID)
		return
	}
	h.logger.Info("payroll generated", "tenant_id", id.TenantID, "records", len(resp.Records), "from", req.PeriodStart, "to", req.PeriodEnd)
	httpx.WriteSuccessMessage(w, http.StatusOK, resp, fmt.Sprintf("Generated payroll for %d employees", len(resp.Records)))
}

// generate writes one pending record per active stylist in a single
// transaction. Approved records for the period are kept and reported.
func (h *PayrollHandler) generate(ctx context.Context, tenantID string, from, to time.Time) (generateResponse, error) {
	stylists, err := h.store.ListStylists(ctx, tenantID, true)
	if err != nil {
		return generateResponse{}, err
	}
	resp := generateResponse{Records: []storage.PayrollRecord{}}
	err = h.store.WithTx(ctx, func(tx pgx.Tx) error {
		hours, err := h.store.HoursByStylist(ctx, tx, tenantID, from, to)
		if err != nil {
			return err
		}
		for _, s := range stylists {
			worked := hours[s.ID]
			result := payroll.Compute(payroll.Input{
				HourlyRateCents:   s.HourlyRateCents,
				OvertimeRateCents: s.OvertimeRateCents,
				CommissionCents:   s.CommissionCents,
				RegularHours:      worked.Regular,
				OvertimeHours:     worked.Overtime,
			})
			rec, ok, err := h.store.UpsertPayroll(ctx, tx, tenantID, storage.PayrollRecord{
				StylistID:   s.ID,
				StylistName: s.Name,
				PeriodStart: from,
				PeriodEnd:   to,
				Result:      result,
			})
			if err != nil {
				return err
			}
			if !ok {
				resp.Skipped = append(resp.Skipped, s.ID)
				continue
			}
			resp.Records = append(resp.Records, rec)
		}
		return nil
	})
	if err != nil {
		return generateResponse{}, err
	}
	metrics.PayrollRecords.Add(float64(len(resp.Records)))
	return resp, nil
}

func (h *PayrollHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	rec, err := h.store.ApprovePayroll(r.Context(), id.TenantID, r.PathValue("id"), id.UserID)
	if err != nil {
		h.fail(w, r, "approve payroll failed", err, id.TenantID)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, rec, "Payroll approved")
}

func (h *PayrollHandler) location(ctx context.Context, tenantID string) (*time.Location, error) {
	cfg, err := h.settings.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return cfg.Location(), nil
}

func (h *PayrollHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error, tenantID string) {
	if apperr.Status(err) == http.StatusInternalServerError {
		h.logger.Error(msg, "err", err, "tenant_id", tenantID)
	} else {
		h.logger.Debug(msg, "err", err, "tenant_id", tenantID)
	}
	httpx.WriteError(w, r, err)
}
