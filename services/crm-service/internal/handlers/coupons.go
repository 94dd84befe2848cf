package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/validate"
	"github.com/modernmen/shopfront/services/crm-service/internal/coupons"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
	"github.com/modernmen/shopfront/services/crm-service/internal/storage"
)

type couponRequest struct {
	Code             string     `json:"code" validate:"required,max=40"`
	Description      string     `json:"description" validate:"max=500"`
	DiscountType     string     `json:"discount_type" validate:"required,oneof=percent fixed"`
	Amount           int64      `json:"amount" validate:"gt=0"`
	MinPurchaseCents int64      `json:"min_purchase_cents" validate:"gte=0"`
	MaxDiscountCents int64      `json:"max_discount_cents" validate:"gte=0"`
	MaxUses          int        `json:"max_uses" validate:"gte=0"`
	StartsAt         *time.Time `json:"starts_at"`
	EndsAt           *time.Time `json:"ends_at"`
	Active           *bool      `json:"active"`
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req couponRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.Code = storage.NormalizeCode(req.Code)
	if err := validate.Struct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.DiscountType == model.DiscountPercent && req.Amount > 100 {
		httpx.WriteError(w, r, apperr.Validation("validation failed").WithDetails(map[string]string{"amount": "must be at most 100 for percent coupons"}))
		return
	}
	if req.StartsAt != nil && req.EndsAt != nil && !req.EndsAt.After(*req.StartsAt) {
		httpx.WriteError(w, r, apperr.Validation("validation failed").WithDetails(map[string]string{"ends_at": "must be after starts_at"}))
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	c, err := h.store.CreateCoupon(r.Context(), model.Coupon{
		TenantID:         id.TenantID,
		Code:             req.Code,
		Description:      strings.TrimSpace(req.Description),
		DiscountType:     req.DiscountType,
		Amount:           req.Amount,
		MinPurchaseCents: req.MinPurchaseCents,
		MaxDiscountCents: req.MaxDiscountCents,
		MaxUses:          req.MaxUses,
		StartsAt:         req.StartsAt,
		EndsAt:           req.EndsAt,
		Active:           active,
	})
	if err != nil {
		h.fail(w, r, "create coupon failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusCreated, c, "Coupon created successfully")
}

func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.RoleAdmin, auth.RoleManager)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	list, err := h.store.ListCoupons(r.Context(), id.TenantID)
	if err != nil {
		h.fail(w, r, "list coupons failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, list)
}

// RedeemCoupon consumes one use of a coupon. The validity rules are enforced
// atomically by the store.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.store.RedeemCoupon(r.Context(), id.TenantID, r.PathValue("code"))
	if err != nil {
		h.fail(w, r, "redeem coupon failed", err)
		return
	}
	httpx.WriteSuccessMessage(w, http.StatusOK, c, "Coupon redeemed")
}

type validateRequest struct {
	Code          string `json:"code"`
	SubtotalCents *int64 `json:"subtotal_cents"`
}

// ValidateCoupon is public. An invalid coupon is still a 200 with
// valid=false and the reason.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.TenantFromRequest(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req validateRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Code = q.Get("code")
		if raw := q.Get("subtotal_cents"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httpx.WriteError(w, r, apperr.Validation("subtotal_cents must be an integer"))
				return
			}
			req.SubtotalCents = &v
		}
	} else if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	req.Code = storage.NormalizeCode(req.Code)
	if req.Code == "" {
		httpx.WriteError(w, r, apperr.Validation("Coupon code is required"))
		return
	}
	if req.SubtotalCents != nil && *req.SubtotalCents < 0 {
		httpx.WriteError(w, r, apperr.Validation("subtotal_cents must not be negative"))
		return
	}

	c, err := h.store.CouponByCode(r.Context(), tenantID, req.Code)
	found := err == nil
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		h.fail(w, r, "coupon lookup failed", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, coupons.Check(c, found, req.SubtotalCents, h.now()))
}
