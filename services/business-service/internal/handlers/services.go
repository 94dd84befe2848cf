package handlers

import (
	"net/http"
	"strings"

	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/business-service/internal/storage"
)

type serviceRequest struct {
	Name            string `json:"name" validate:"required,max=200"`
	Description     string `json:"description" validate:"max=2000"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=5,lte=480"`
	PriceCents      int64  `json:"price_cents" validate:"gte=0"`
	Active          *bool  `json:"active"`
}

func (req serviceRequest) toService(tenantID string) storage.Service {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return storage.Service{
		TenantID:        tenantID,
		Name:            strings.TrimSpace(req.Name),
		Description:     strings.TrimSpace(req.Description),
		DurationMinutes: req.DurationMinutes,
		PriceCents:      req.PriceCents,
		Active:          active,
	}
}

func (h *Handler) decodeService(w http.ResponseWriter, r *http.Request) (serviceRequest, bool) {
	var req serviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return req, false
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return req, false
	}
	return req, true
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req, ok := h.decodeService(w, r)
	if !ok {
		return
	}
	svc, err := h.repo.CreateService(r.Context(), req.toService(id.TenantID))
	if err != nil {
		h.fail(w, r, "create service failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusCreated, svc, "Service created")
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"
	items, err := h.repo.ListServices(r.Context(), id.TenantID, activeOnly)
	if err != nil {
		h.fail(w, r, "list services failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, items)
}

// PublicServices lists the bookable services of a shop.
func (h *Handler) PublicServices(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.TenantFromRequest(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	items, err := h.repo.ListServices(r.Context(), tenantID, true)
	if err != nil {
		h.fail(w, r, "list services failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, items)
}

func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	svc, err := h.repo.GetService(r.Context(), id.TenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get service failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, svc)
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req, ok := h.decodeService(w, r)
	if !ok {
		return
	}
	svc := req.toService(id.TenantID)
	svc.ID = r.PathValue("id")
	out, err := h.repo.UpdateService(r.Context(), svc)
	if err != nil {
		h.fail(w, r, "update service failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, out, "Service updated")
}

func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.repo.DeleteService(r.Context(), id.TenantID, r.PathValue("id")); err != nil {
		h.fail(w, r, "delete service failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, nil, "Service deleted")
}
