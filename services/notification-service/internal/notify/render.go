// Package notify turns domain events into rendered notifications and
// delivers them.
package notify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/settings"
)

// Triggers, stored on each notification row and used as the metrics label.
const (
	TriggerConfirmation = "appointment_confirmation"
	TriggerCancellation = "appointment_cancellation"
	TriggerReminder     = "appointment_reminder"
	TriggerClock        = "clock_action"
	TriggerPointsEarned = "points_earned"
	TriggerTierUpgraded = "tier_upgraded"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

var placeholder = regexp.MustCompile(`{{\s*([A-Za-z0-9_]+)\s*}}`)

// Render substitutes {{key}} placeholders from data. Unknown keys render as
// an empty string.
func Render(tmpl string, data map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		return data[key]
	})
}

// Message is one rendered notification for one recipient.
type Message struct {
	Trigger   string
	Channel   string
	Recipient string
	Subject   string
	Body      string
}

const (
	dateLayout = "Monday, January 2, 2006"
	timeLayout = "3:04 PM"
)

func appointmentData(a events.Appointment, loc *time.Location) map[string]string {
	start := a.StartTime.In(loc)
	return map[string]string{
		"customerName": a.CustomerName,
		"date":         start.Format(dateLayout),
		"time":         start.Format(timeLayout),
		"barber":       a.StylistName,
		"service":      a.ServiceName,
		"reason":       a.Reason,
	}
}

func email(trigger, to, subject, body string, n settings.NotificationSettings) Message {
	return Message{
		Trigger:   trigger,
		Channel:   ChannelEmail,
		Recipient: to,
		Subject:   subject,
		Body:      body + n.Signature,
	}
}

func textMessage(trigger, to, body string) Message {
	return Message{Trigger: trigger, Channel: ChannelSMS, Recipient: to, Body: stripTags(body)}
}

var tag = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return strings.Join(strings.Fields(tag.ReplaceAllString(s, " ")), " ")
}

// Builder renders the messages an event produces under a tenant's settings.
// SMS copies are added only when withSMS is set and the event carries a
// phone number.
type Builder struct {
	withSMS bool
}

func NewBuilder(withSMS bool) Builder {
	return Builder{withSMS: withSMS}
}

func (b Builder) Appointment(topic string, a events.Appointment, cfg settings.Settings) []Message {
	var trigger, key, subject string
	switch topic {
	case events.AppointmentBooked:
		trigger, key, subject = TriggerConfirmation, settings.TemplateAppointmentConfirmation, "Appointment Confirmation"
	case events.AppointmentCancelled:
		trigger, key, subject = TriggerCancellation, settings.TemplateAppointmentCancellation, "Appointment Cancelled"
	default:
		return nil
	}
	body := Render(cfg.Notifications.Templates[key], appointmentData(a, cfg.Location()))
	var out []Message
	if a.CustomerEmail != "" {
		out = append(out, email(trigger, a.CustomerEmail, subject, body, cfg.Notifications))
	}
	if b.withSMS && a.CustomerPhone != "" {
		out = append(out, textMessage(trigger, a.CustomerPhone, body))
	}
	return out
}

func (b Builder) Reminder(p events.ReminderDuePayload, cfg settings.Settings) []Message {
	data := appointmentData(events.Appointment{
		CustomerName: p.CustomerName,
		StartTime:    p.StartTime,
		StylistName:  p.StylistName,
		ServiceName:  p.ServiceName,
	}, cfg.Location())
	body := Render(cfg.Notifications.Templates[settings.TemplateAppointmentReminder], data)
	var out []Message
	if p.CustomerEmail != "" {
		out = append(out, email(TriggerReminder, p.CustomerEmail, "Appointment Reminder", body, cfg.Notifications))
	}
	if b.withSMS && p.CustomerPhone != "" {
		out = append(out, textMessage(TriggerReminder, p.CustomerPhone, body))
	}
	return out
}

// UsesAdminDirectory reports whether clock emails go to the tenant's admin
// users. A non-empty clock.notifications.adminEmails overrides the directory.
func UsesAdminDirectory(cfg settings.Settings) bool {
	cn := cfg.Clock.Notifications
	return cn.EmailAdmins && len(nonBlank(cn.AdminEmails)) == 0
}

// Clock emails the admins when clock notifications are on. admins is the
// tenant's admin directory and is ignored when adminEmails is configured.
func (b Builder) Clock(p events.ClockRecordedPayload, cfg settings.Settings, admins []string) []Message {
	cn := cfg.Clock.Notifications
	if !cn.EmailAdmins {
		return nil
	}
	recipients := nonBlank(cn.AdminEmails)
	if len(recipients) == 0 {
		recipients = nonBlank(admins)
	}
	action := "clocked in"
	if p.Action == "clock-out" {
		action = "clocked out"
	}
	body := Render(cn.EmailTemplate, map[string]string{
		"staffName":   p.StylistName,
		"action":      action,
		"timestamp":   p.At.In(cfg.Location()).Format(dateLayout + " " + timeLayout),
		"hoursWorked": formatHours(p.HoursWorked),
	})
	subject := fmt.Sprintf("Staff %s: %s", action, p.StylistName)
	out := make([]Message, 0, len(recipients))
	for _, to := range recipients {
		out = append(out, email(TriggerClock, to, subject, body, cfg.Notifications))
	}
	return out
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (b Builder) Loyalty(topic string, p events.LoyaltyPayload, cfg settings.Settings) []Message {
	if p.CustomerEmail == "" {
		return nil
	}
	data := map[string]string{
		"customerName": p.CustomerName,
		"points":       fmt.Sprint(p.Points),
		"total":        fmt.Sprint(p.NewTotal),
		"tier":         p.NewTier,
		"reason":       p.Reason,
	}
	switch topic {
	case events.LoyaltyPointsEarned:
		body := Render(cfg.Notifications.Templates[settings.TemplatePointsEarned], data)
		return []Message{email(TriggerPointsEarned, p.CustomerEmail, "Loyalty Points Earned", body, cfg.Notifications)}
	case events.LoyaltyTierUpgraded:
		body := Render(cfg.Notifications.Templates[settings.TemplateTierUpgraded], data)
		return []Message{email(TriggerTierUpgraded, p.CustomerEmail, "Loyalty Tier Upgrade", body, cfg.Notifications)}
	}
	return nil
}

func formatHours(h float64) string {
	if h == 0 {
		return ""
	}
	return fmt.Sprintf("%.2f", h)
}
