package handlers

import (
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/crm-service/internal/loyalty"
)

type pointsRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Points     int64  `json:"points" validate:"gt=0,lte=100000"`
	Reason     string `json:"reason" validate:"max=200"`
}

type pointsResponse struct {
	CustomerID string `json:"customerId"`
	loyalty.Change
}

// AddPoints credits loyalty points to a customer and recomputes their tier.
func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req pointsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	cfg, err := h.settings.Get(ctx, id.TenantID)
	if err != nil {
		h.fail(w, r, "load settings failed", err)
		return
	}
	if !loyalty.Configured(cfg.Loyalty) {
		httpx.WriteError(w, r, apperr.Validation("loyalty program not configured"))
		return
	}

	var change loyalty.Change
	err = h.store.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := h.store.GetCustomerForUpdate(ctx, tx, id.TenantID, req.CustomerID)
		if err != nil {
			return err
		}
		change, err = h.loyalty.Award(ctx, tx, cfg.Loyalty, c, req.Points, req.Reason, "", loyalty.SourceManual)
		return err
	})
	if err != nil {
		h.fail(w, r, "add loyalty points failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, pointsResponse{CustomerID: req.CustomerID, Change: change})
}

func (h *Handler) LoyaltyHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	customerID := r.PathValue("id")
	if _, err := h.store.GetCustomer(r.Context(), nil, id.TenantID, customerID); err != nil {
		h.fail(w, r, "get customer failed", err)
		return
	}
	history, err := h.store.LoyaltyHistory(r.Context(), id.TenantID, customerID)
	if err != nil {
		h.fail(w, r, "loyalty history failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, history)
}
