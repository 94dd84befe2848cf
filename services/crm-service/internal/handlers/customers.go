package handlers

import (
	"net/http"
	"strings"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
	"github.com/modernmen/shopfront/services/crm-service/internal/storage"
)

type customerRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Phone     string `json:"phone" validate:"max=40"`
	Status    string `json:"status" validate:"omitempty,oneof=active inactive"`
	Notes     string `json:"notes" validate:"max=2000"`
}

func (req *customerRequest) normalize() {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
}

// ListCustomers serves the paginated, searchable customer list.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := storage.CustomerFilter{
		TenantID: id.TenantID,
		Search:   q.Get("search"),
		Status:   q.Get("status"),
		Tier:     q.Get("loyalty_tier"),
		Sort:     q.Get("sort"),
	}
	if f.Status != "" && f.Status != model.CustomerActive && f.Status != model.CustomerInactive {
		httpx.WriteError(w, r, apperr.Validation("status must be active or inactive"))
		return
	}
	if !storage.ValidSort(f.Sort) {
		httpx.WriteError(w, r, apperr.Validation("unsupported sort key"))
		return
	}
	page := httpx.ParsePage(r, 10, 100)
	customers, total, err := h.store.ListCustomers(r.Context(), f, page)
	if err != nil {
		h.fail(w, r, "list customers failed", err)
		return
	}
	httpx.WriteList(w, customers, httpx.NewPageMeta(page, total))
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.normalize()
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.CreateCustomer(r.Context(), nil, model.Customer{
		TenantID:  id.TenantID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Status:    req.Status,
		Notes:     req.Notes,
	})
	if err != nil {
		h.fail(w, r, "create customer failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusCreated, c, "Customer created successfully")
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.GetCustomer(r.Context(), nil, id.TenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get customer failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, c)
}

// UpdateCustomer replaces the editable fields. Loyalty fields only change
// through points awards.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req customerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.normalize()
	if req.Status == "" {
		req.Status = model.CustomerActive
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.UpdateCustomer(r.Context(), nil, model.Customer{
		ID:        r.PathValue("id"),
		TenantID:  id.TenantID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Status:    req.Status,
		Notes:     req.Notes,
	})
	if err != nil {
		h.fail(w, r, "update customer failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, c, "Customer updated successfully")
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.store.DeleteCustomer(r.Context(), id.TenantID, r.PathValue("id")); err != nil {
		h.fail(w, r, "delete customer failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, nil, "Customer deleted successfully")
}
