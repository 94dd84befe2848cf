// Package coupons decides whether a coupon applies and what it is worth.
package coupons

import (
	"time"

	"github.com/modernmen/shopfront/services/crm-service/internal/model"
)

// Result is the body of the public validate endpoint.
type Result struct {
	Valid         bool          `json:"valid"`
	Error         string        `json:"error,omitempty"`
	Coupon        *model.Coupon `json:"coupon,omitempty"`
	DiscountCents *int64        `json:"discountCents,omitempty"`
}

// Check runs the validity rules in order: found and active, started, not
// expired, usage limit, minimum purchase. The minimum purchase and the
// discount are only evaluated when a subtotal is given.
func Check(c model.Coupon, found bool, subtotalCents *int64, now time.Time) Result {
	if !found || !c.Active {
		return Result{Error: "Coupon not found or inactive"}
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return Result{Error: "Coupon is not yet active", Coupon: &c}
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return Result{Error: "Coupon has expired", Coupon: &c}
	}
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return Result{Error: "Coupon usage limit reached", Coupon: &c}
	}
	res := Result{Valid: true, Coupon: &c}
	if subtotalCents != nil {
		if *subtotalCents < c.MinPurchaseCents {
			return Result{Error: "Minimum purchase not met", Coupon: &c}
		}
		d := Discount(c, *subtotalCents)
		res.DiscountCents = &d
	}
	return res
}

// Discount is the amount off subtotalCents. Percent coupons are capped by
// MaxDiscountCents when set; no discount exceeds the subtotal.
func Discount(c model.Coupon, subtotalCents int64) int64 {
	if subtotalCents <= 0 {
		return 0
	}
	var d int64
	switch c.DiscountType {
	case model.DiscountPercent:
		d = subtotalCents * c.Amount / 100
		if c.MaxDiscountCents > 0 && d > c.MaxDiscountCents {
			d = c.MaxDiscountCents
		}
	case model.DiscountFixed:
		d = c.Amount
	}
	return min(d, subtotalCents)
}
