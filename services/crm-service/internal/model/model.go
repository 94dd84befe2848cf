package model

import "time"

const (
	CustomerActive   = "active"
	CustomerInactive = "inactive"

	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

type Customer struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	UserID        string    `json:"userId,omitempty"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Status        string    `json:"status"`
	LoyaltyPoints int64     `json:"loyaltyPoints"`
	LoyaltyTier   string    `json:"loyaltyTier"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (c Customer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// LoyaltyEntry is one line of a customer's points history.
type LoyaltyEntry struct {
	ID            int64     `json:"id"`
	TenantID      string    `json:"-"`
	CustomerID    string    `json:"customerId"`
	Points        int64     `json:"points"`
	Reason        string    `json:"reason"`
	PreviousTotal int64     `json:"previousTotal"`
	NewTotal      int64     `json:"newTotal"`
	AppointmentID string    `json:"appointmentId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Coupon struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"-"`
	Code             string     `json:"code"`
	Description      string     `json:"description"`
	DiscountType     string     `json:"discountType"`
	Amount           int64      `json:"amount"`
	MinPurchaseCents int64      `json:"minPurchaseCents"`
	MaxDiscountCents int64      `json:"maxDiscountCents"`
	MaxUses          int        `json:"maxUses"`
	UsedCount        int        `json:"usedCount"`
	StartsAt         *time.Time `json:"startsAt,omitempty"`
	EndsAt           *time.Time `json:"endsAt,omitempty"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"createdAt"`
}
