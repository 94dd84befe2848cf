package jobs

import (
	"fmt"
	"sort"
	"time"

	"github.com/modernmen/shopfront/libs/events"
)

const DefaultMaxAttempts = 5

// Plan returns one reminder job per offset (minutes before the start) whose
// remind time is still after now. The idempotency key includes the start
// time, so a rescheduled appointment gets fresh jobs. Appointments without
// any contact detail get no reminders.
func Plan(a events.Appointment, offsets []int, now time.Time) []Job {
	if a.CustomerEmail == "" && a.CustomerPhone == "" {
		return nil
	}
	seen := map[int]bool{}
	sorted := make([]int, 0, len(offsets))
	for _, o := range offsets {
		if o > 0 && !seen[o] {
			seen[o] = true
			sorted = append(sorted, o)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	start := a.StartTime.UTC()
	var out []Job
	for _, offset := range sorted {
		remindAt := start.Add(-time.Duration(offset) * time.Minute)
		if !remindAt.After(now) {
			continue
		}
		out = append(out, Job{
			IdempotencyKey: fmt.Sprintf("%s|%s|%d", a.AppointmentID, start.Format(time.RFC3339), offset),
			TenantID:       a.TenantID,
			AppointmentID:  a.AppointmentID,
			RemindAt:       remindAt,
			MaxAttempts:    DefaultMaxAttempts,
			Payload: events.ReminderDuePayload{
				TenantID:      a.TenantID,
				AppointmentID: a.AppointmentID,
				CustomerName:  a.CustomerName,
				CustomerEmail: a.CustomerEmail,
				CustomerPhone: a.CustomerPhone,
				ServiceName:   a.ServiceName,
				StylistName:   a.StylistName,
				StartTime:     start,
				RemindAt:      remindAt,
			},
		})
	}
	return out
}
