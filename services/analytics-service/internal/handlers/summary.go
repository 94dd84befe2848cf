package handlers

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/analytics-service/internal/storage"
)

const (
	defaultWindowDays = 30
	maxWindowDays     = 366
	topStylists       = 5
)

type Store interface {
	Totals(ctx context.Context, tenantID, from, to string) (storage.Totals, error)
	TopStylists(ctx context.Context, tenantID, from, to string, limit int) ([]storage.StylistStat, error)
}

type Handler struct {
	store    Store
	settings settings.Source
	logger   *slog.Logger
	now      func() time.Time
}

func New(store Store, source settings.Source, logger *slog.Logger) *Handler {
	return &Handler{store: store, settings: source, logger: logger, now: time.Now}
}

type summaryResponse struct {
	From           string                `json:"from"`
	To             string                `json:"to"`
	Totals         storage.Totals        `json:"totals"`
	CompletionRate float64               `json:"completionRate"`
	TopStylists    []storage.StylistStat `json:"topStylists"`
}

// Summary reports the tenant totals between from and to (inclusive,
// YYYY-MM-DD). Without parameters it covers the last 30 days up to today in
// the tenant's time zone.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cfg, err := h.settings.Get(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, r, "load settings failed", err)
		return
	}
	from, to, err := h.window(r, cfg.Location())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	fromKey, toKey := from.Format(storage.DayLayout), to.Format(storage.DayLayout)
	totals, err := h.store.Totals(r.Context(), id.TenantID, fromKey, toKey)
	if err != nil {
		h.fail(w, r, "load totals failed", err)
		return
	}
	top, err := h.store.TopStylists(r.Context(), id.TenantID, fromKey, toKey, topStylists)
	if err != nil {
		h.fail(w, r, "load top stylists failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, summaryResponse{
		From:           fromKey,
		To:             toKey,
		Totals:         totals,
		CompletionRate: CompletionRate(totals),
		TopStylists:    top,
	})
}

// CompletionRate is the percentage of booked appointments that completed,
// rounded to one decimal. It is 0 when nothing was booked.
func CompletionRate(t storage.Totals) float64 {
	if t.Booked <= 0 {
		return 0
	}
	return math.Round(float64(t.Completed)/float64(t.Booked)*1000) / 10
}

func (h *Handler) window(r *http.Request, loc *time.Location) (time.Time, time.Time, error) {
	q := r.URL.Query()
	to := h.now().In(loc)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := time.Parse(storage.DayLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("invalid to date").WithDetails(map[string]string{"to": "must be YYYY-MM-DD"})
		}
		to = t
	}
	from := to.AddDate(0, 0, -(defaultWindowDays - 1))
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := time.Parse(storage.DayLayout, v)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("invalid from date").WithDetails(map[string]string{"from": "must be YYYY-MM-DD"})
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, apperr.Validation("from must not be after to")
	}
	if to.Sub(from) >= maxWindowDays*24*time.Hour {
		return time.Time{}, time.Time{}, apperr.Validation("date range is limited to 366 days")
	}
	return from, to, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if apperr.Status(err) == http.StatusInternalServerError {
		h.logger.Error(msg, "err", err)
	}
	httpx.WriteError(w, r, err)
}
