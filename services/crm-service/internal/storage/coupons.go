package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/services/crm-service/internal/model"
)

const couponColumns = `id, tenant_id, code, description, discount_type, amount, min_purchase_cents,
	max_discount_cents, max_uses, used_count, starts_at, ends_at, active, created_at`

func scanCoupon(row pgx.Row) (model.Coupon, error) {
	var c model.Coupon
	err := row.Scan(&c.ID, &c.TenantID, &c.Code, &c.Description, &c.DiscountType, &c.Amount, &c.MinPurchaseCents,
		&c.MaxDiscountCents, &c.MaxUses, &c.UsedCount, &c.StartsAt, &c.EndsAt, &c.Active, &c.CreatedAt)
	if db.IsNotFound(err) {
		return model.Coupon{}, apperr.NotFound("coupon not found")
	}
	return c, translate(err, "coupon code already exists")
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *Repository) CreateCoupon(ctx context.Context, c model.Coupon) (model.Coupon, error) {
	return scanCoupon(r.pool.QueryRow(ctx, `
		INSERT INTO coupons (tenant_id, code, description, discount_type, amount, min_purchase_cents,
			max_discount_cents, max_uses, starts_at, ends_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+couponColumns,
		c.TenantID, NormalizeCode(c.Code), c.Description, c.DiscountType, c.Amount, c.MinPurchaseCents,
		c.MaxDiscountCents, c.MaxUses, c.StartsAt, c.EndsAt, c.Active))
}

func (r *Repository) ListCoupons(ctx context.Context, tenantID string) ([]model.Coupon, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+couponColumns+` FROM coupons WHERE tenant_id = $1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) CouponByCode(ctx context.Context, tenantID, code string) (model.Coupon, error) {
	return scanCoupon(r.pool.QueryRow(ctx, `
		SELECT `+couponColumns+` FROM coupons WHERE tenant_id = $1 AND code = $2
	`, tenantID, NormalizeCode(code)))
}

// RedeemCoupon consumes one use. The usage limit is enforced in the UPDATE so
// concurrent redemptions cannot exceed max_uses.
func (r *Repository) RedeemCoupon(ctx context.Context, tenantID, code string) (model.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE tenant_id = $1 AND code = $2 AND active
			AND (max_uses = 0 OR used_count < max_uses)
			AND (starts_at IS NULL OR starts_at <= now())
			AND (ends_at IS NULL OR ends_at >= now())
		RETURNING `+couponColumns,
		tenantID, NormalizeCode(code)))
	if errors.Is(err, apperr.ErrNotFound) {
		return model.Coupon{}, apperr.Conflict("coupon cannot be redeemed")
	}
	return c, err
}
