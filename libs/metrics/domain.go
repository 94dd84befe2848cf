package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "booking",
		Name:      "appointments_created_total",
		Help:      "Appointments created, by result (created, conflict, replayed).",
	}, []string{"result"})

	AppointmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "booking",
		Name:      "status_transitions_total",
		Help:      "Appointment status changes, by target status.",
	}, []string{"status"})

	ClockActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "staff",
		Name:      "clock_actions_total",
		Help:      "Clock-in and clock-out actions recorded.",
	}, []string{"action"})

	PayrollRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "staff",
		Name:      "payroll_records_generated_total",
		Help:      "Payroll records written by payroll runs.",
	})

	LoyaltyPointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "crm",
		Name:      "loyalty_points_awarded_total",
		Help:      "Loyalty points awarded, by source (manual, appointment).",
	}, []string{"source"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "notification",
		Name:      "messages_total",
		Help:      "Notifications handled, by trigger and status.",
	}, []string{"trigger", "status"})

	RemindersDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "scheduler",
		Name:      "reminders_total",
		Help:      "Reminder jobs handled by the worker, by result.",
	}, []string{"result"})
)
