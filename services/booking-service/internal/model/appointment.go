package model

import "time"

const (
	StatusPending     = "pending"
	StatusConfirmed   = "confirmed"
	StatusInProgress  = "in-progress"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusNoShow      = "no-show"
	StatusRescheduled = "rescheduled"
)

var transitions = map[string][]string{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusRescheduled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

type Appointment struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	StylistID      string     `json:"stylistId"`
	StylistName    string     `json:"stylistName,omitempty"`
	ServiceID      string     `json:"serviceId"`
	ServiceName    string     `json:"serviceName,omitempty"`
	CustomerUserID string     `json:"customerUserId,omitempty"`
	CustomerName   string     `json:"customerName"`
	CustomerEmail  string     `json:"customerEmail,omitempty"`
	CustomerPhone  string     `json:"customerPhone,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        time.Time  `json:"endTime"`
	PriceCents     int64      `json:"priceCents"`
	Status         string     `json:"status"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
	CancelReason   string     `json:"cancellationReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type StatusChange struct {
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus"`
	ChangedBy      string    `json:"changedBy,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	ChangedAt      time.Time `json:"changedAt"`
}

// Stylist is the booking view of a staff member.
type Stylist struct {
	ID         string
	Name       string
	Active     bool
	WorkDays   []int32
	WorkStart  string
	WorkEnd    string
	BreakStart string
	BreakEnd   string
}

type Service struct {
	ID              string
	Name            string
	DurationMinutes int
	PriceCents      int64
	Active          bool
}
