// Package events defines the Kafka topics exchanged between services and the
// JSON payloads carried on them. The topic name always equals the event type.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	UserCreated = "auth.user.created.v1"

	AppointmentBooked      = "booking.appointment.booked.v1"
	AppointmentConfirmed   = "booking.appointment.confirmed.v1"
	AppointmentInProgress  = "booking.appointment.in-progress.v1"
	AppointmentCompleted   = "booking.appointment.completed.v1"
	AppointmentCancelled   = "booking.appointment.cancelled.v1"
	AppointmentNoShow      = "booking.appointment.no-show.v1"
	AppointmentRescheduled = "booking.appointment.rescheduled.v1"

	ClockRecorded = "staff.clock.recorded.v1"

	LoyaltyPointsEarned = "crm.loyalty.points_earned.v1"
	LoyaltyTierUpgraded = "crm.loyalty.tier_upgraded.v1"

	ReminderDue = "scheduler.reminder.due.v1"
	ReminderDLQ = "scheduler.reminder.dlq.v1"

	NotificationSent   = "notification.sent.v1"
	NotificationFailed = "notification.failed.v1"
)

// AppointmentStatusTopic maps an appointment status to its event type.
func AppointmentStatusTopic(status string) string {
	return fmt.Sprintf("booking.appointment.%s.v1", status)
}

type UserCreatedPayload struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Appointment is carried by every booking.appointment.* event.
type Appointment struct {
	AppointmentID  string    `json:"appointment_id"`
	TenantID       string    `json:"tenant_id"`
	StylistID      string    `json:"stylist_id"`
	StylistName    string    `json:"stylist_name,omitempty"`
	ServiceID      string    `json:"service_id"`
	ServiceName    string    `json:"service_name,omitempty"`
	CustomerID     string    `json:"customer_id,omitempty"`
	CustomerName   string    `json:"customer_name"`
	CustomerEmail  string    `json:"customer_email,omitempty"`
	CustomerPhone  string    `json:"customer_phone,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	PriceCents     int64     `json:"price_cents"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type ClockRecordedPayload struct {
	TenantID    string    `json:"tenant_id"`
	StylistID   string    `json:"stylist_id"`
	StylistName string    `json:"stylist_name"`
	SessionID   string    `json:"session_id"`
	Action      string    `json:"action"`
	At          time.Time `json:"at"`
	HoursWorked float64   `json:"hours_worked,omitempty"`
}

type LoyaltyPayload struct {
	TenantID      string    `json:"tenant_id"`
	CustomerID    string    `json:"customer_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Points        int64     `json:"points"`
	NewTotal      int64     `json:"new_total"`
	Reason        string    `json:"reason,omitempty"`
	PreviousTier  string    `json:"previous_tier,omitempty"`
	NewTier       string    `json:"new_tier"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type ReminderDuePayload struct {
	JobID         int64     `json:"job_id"`
	TenantID      string    `json:"tenant_id"`
	AppointmentID string    `json:"appointment_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	ServiceName   string    `json:"service_name,omitempty"`
	StylistName   string    `json:"stylist_name,omitempty"`
	StartTime     time.Time `json:"start_time"`
	RemindAt      time.Time `json:"remind_at"`
	Attempts      int       `json:"attempts,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

type NotificationPayload struct {
	NotificationID int64     `json:"notification_id"`
	TenantID       string    `json:"tenant_id"`
	Trigger        string    `json:"trigger"`
	Channel        string    `json:"channel"`
	Recipient      string    `json:"recipient"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Decode unmarshals an event payload and wraps failures with the topic.
func Decode[T any](topic string, raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", topic, err)
	}
	return v, nil
}
