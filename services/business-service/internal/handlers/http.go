package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/business-service/internal/storage"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateTenant(ctx context.Context, q db.Querier, t storage.Tenant) (storage.Tenant, error)
	GetTenant(ctx context.Context, id string) (storage.Tenant, error)
	CreateService(ctx context.Context, s storage.Service) (storage.Service, error)
	ListServices(ctx context.Context, tenantID string, activeOnly bool) ([]storage.Service, error)
	GetService(ctx context.Context, tenantID, id string) (storage.Service, error)
	UpdateService(ctx context.Context, s storage.Service) (storage.Service, error)
	DeleteService(ctx context.Context, tenantID, id string) error
}

// SettingsStore reads settings through the cache and drops cached copies.
type SettingsStore interface {
	settings.Source
	Invalidate(ctx context.Context, tenantID string)
}

type SettingsWriter interface {
	Save(ctx context.Context, q db.Querier, tenantID string, s settings.Settings) error
}

type Handler struct {
	repo     Store
	settings SettingsStore
	writer   SettingsWriter
	logger   *slog.Logger
}

func New(repo Store, store SettingsStore, writer SettingsWriter, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, settings: store, writer: writer, logger: logger}
}

type tenantRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Slug    string `json:"slug" validate:"omitempty,max=80"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"max=40"`
	Address string `json:"address" validate:"max=500"`
}

// CreateTenant registers a shop and stores default settings for it.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.RequireRole(r, auth.RoleAdmin); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req tenantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	slug := storage.Slugify(req.Slug)
	if slug == "" {
		slug = storage.Slugify(req.Name)
	}
	if slug == "" {
		httpx.WriteError(w, r, apperr.Validation("slug must contain letters or digits"))
		return
	}

	var tenant storage.Tenant
	err := h.repo.WithTx(r.Context(), func(tx pgx.Tx) error {
		var err error
		tenant, err = h.repo.CreateTenant(r.Context(), tx, storage.Tenant{
			Name:    req.Name,
			Slug:    slug,
			Email:   req.Email,
			Phone:   strings.TrimSpace(req.Phone),
			Address: strings.TrimSpace(req.Address),
		})
		if err != nil {
			return err
		}
		return h.writer.Save(r.Context(), tx, tenant.ID, settings.Defaults())
	})
	if err != nil {
		h.fail(w, r, "create tenant failed", err)
		return
	}
	h.logger.Info("tenant created", "tenant_id", tenant.ID, "slug", tenant.Slug)
	httpx.WriteSuccessMessage(w, http.StatusCreated, tenant, "Shop created")
}

func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireIdentity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	tenant, err := h.repo.GetTenant(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, r, "get tenant failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, tenant)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s, err := h.settings.Get(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, r, "get settings failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, s)
}

// UpdateSettings overlays the request body on the current document. Fields
// not present in the body keep their values.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	s, err := h.settings.Get(ctx, id.TenantID)
	if err != nil {
		h.fail(w, r, "get settings failed", err)
		return
	}
	if err := httpx.DecodeJSON(r, &s); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.Normalize()
	if problems := s.Validate(); len(problems) > 0 {
		httpx.WriteError(w, r, apperr.Validation("invalid settings").WithDetails(problems))
		return
	}

	if err := h.repo.WithTx(ctx, func(tx pgx.Tx) error {
		return h.writer.Save(ctx, tx, id.TenantID, s)
	}); err != nil {
		h.fail(w, r, "save settings failed", err)
		return
	}
	h.settings.Invalidate(ctx, id.TenantID)
	h.logger.Info("settings updated", "tenant_id", id.TenantID, "user_id", id.UserID)
	httpx.WriteSuccessMessage(w, http.StatusOK, s, "Settings updated")
}

type publicSettings struct {
	Name string `json:"name"`
	settings.Public
}

func (h *Handler) PublicSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.TenantFromRequest(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	tenant, err := h.repo.GetTenant(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, "get tenant failed", err)
		return
	}
	s, err := h.settings.Get(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, "get settings failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, publicSettings{Name: tenant.Name, Public: s.Public()})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if apperr.Status(err) == http.StatusInternalServerError {
		h.logger.Error(msg, "err", err)
	}
	httpx.WriteError(w, r, err)
}
