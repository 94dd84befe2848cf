// Package settings holds the per-tenant settings document that drives booking
// hours, clock rules, loyalty tiers, notifications and the chat bot.
//
// The document is stored as JSONB. Reads overlay the stored document on
// Defaults, so fields a tenant never set keep their default values.
package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"
)

type Settings struct {
	Timezone      string               `json:"timezone"`
	Booking       BookingSettings      `json:"booking"`
	Clock         ClockSettings        `json:"clock"`
	Loyalty       LoyaltySettings      `json:"loyalty"`
	Notifications NotificationSettings `json:"notifications"`
	Chatbot       ChatbotSettings      `json:"chatbot"`
}

type BookingSettings struct {
	SlotStepMinutes        int    `json:"slotStepMinutes"`
	DefaultDurationMinutes int    `json:"defaultDurationMinutes"`
	WorkStart              string `json:"workStart"`
	WorkEnd                string `json:"workEnd"`
	BreakStart             string `json:"breakStart"`
	BreakEnd               string `json:"breakEnd"`
	ReminderOffsetsMinutes []int  `json:"reminderOffsetsMinutes"`
}

type ClockSettings struct {
	Enabled       bool               `json:"enabled"`
	ShiftRules    ShiftRules         `json:"shiftRules"`
	Notifications ClockNotifications `json:"notifications"`
}

type ShiftRules struct {
	MinShiftHours  float64 `json:"minShiftHours"`
	MaxShiftHours  float64 `json:"maxShiftHours"`
	MaxWeeklyHours float64 `json:"maxWeeklyHours"`
}

type ClockNotifications struct {
	EmailAdmins   bool     `json:"emailAdmins"`
	AdminEmails   []string `json:"adminEmails"`
	EmailTemplate string   `json:"emailTemplate"`
}

type LoyaltySettings struct {
	Enabled         bool    `json:"enabled"`
	PointsPerDollar float64 `json:"pointsPerDollar"`
	Tiers           []Tier  `json:"tiers"`
}

type Tier struct {
	Name       string   `json:"name"`
	MinPoints  int64    `json:"minPoints"`
	Multiplier float64  `json:"multiplier"`
	Benefits   []string `json:"benefits"`
}

// UnmarshalJSON replaces the tier list wholesale when the document carries
// one. Decoding into the default tiers would otherwise reuse their elements
// and leak default benefits into stored tiers.
func (l *LoyaltySettings) UnmarshalJSON(raw []byte) error {
	type plain LoyaltySettings
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return err
	}
	if _, ok := keys["tiers"]; ok {
		l.Tiers = nil
	}
	return json.Unmarshal(raw, (*plain)(l))
}

type NotificationSettings struct {
	EmailEnabled bool              `json:"emailEnabled"`
	FromAddress  string            `json:"fromAddress"`
	Signature    string            `json:"signature"`
	Templates    map[string]string `json:"templates"`
}

type ChatbotSettings struct {
	Enabled bool `json:"enabled"`
}

// Template keys under notifications.templates.
const (
	TemplateAppointmentConfirmation = "appointmentConfirmation"
	TemplateAppointmentReminder     = "appointmentReminder"
	TemplateAppointmentCancellation = "appointmentCancellation"
	TemplateWelcome                 = "welcomeEmail"
	TemplatePointsEarned            = "pointsEarned"
	TemplateTierUpgraded            = "tierUpgraded"
)

func Defaults() Settings {
	return Settings{
		Timezone: "UTC",
		Booking: BookingSettings{
			SlotStepMinutes:        30,
			DefaultDurationMinutes: 60,
			WorkStart:              "09:00",
			WorkEnd:                "17:00",
			BreakStart:             "12:00",
			BreakEnd:               "13:00",
			ReminderOffsetsMinutes: []int{1440, 60},
		},
		Clock: ClockSettings{
			Enabled: true,
			ShiftRules: ShiftRules{
				MinShiftHours:  0,
				MaxShiftHours:  12,
				MaxWeeklyHours: 40,
			},
			Notifications: ClockNotifications{
				EmailTemplate: "<p>{{staffName}} {{action}} at {{timestamp}}.</p>",
			},
		},
		Loyalty: LoyaltySettings{
			Enabled:         true,
			PointsPerDollar: 1,
			Tiers: []Tier{
				{Name: "bronze", MinPoints: 0, Multiplier: 1, Benefits: []string{"Standard points earning"}},
				{Name: "silver", MinPoints: 100, Multiplier: 1.2, Benefits: []string{"20% bonus points", "Priority booking"}},
				{Name: "gold", MinPoints: 500, Multiplier: 1.5, Benefits: []string{"50% bonus points", "VIP treatment"}},
				{Name: "platinum", MinPoints: 1000, Multiplier: 2, Benefits: []string{"100% bonus points", "Personal stylist"}},
			},
		},
		Notifications: NotificationSettings{
			EmailEnabled: true,
			FromAddress:  "no-reply@shopfront.local",
			Signature:    "<p>ModernMen Barbershop</p>",
			Templates: map[string]string{
				TemplateAppointmentConfirmation: "Your appointment has been confirmed for {{date}} at {{time}} with {{barber}}.",
				TemplateAppointmentReminder:     "Reminder: You have an appointment on {{date}} at {{time}} with {{barber}}.",
				TemplateAppointmentCancellation: "Your appointment scheduled for {{date}} at {{time}} has been cancelled.",
				TemplateWelcome:                 "Welcome to ModernMen! We're excited to have you as a customer.",
				TemplatePointsEarned:            "<h2>Loyalty Points Earned</h2><p>You earned {{points}} points! Your total is now {{total}}.</p>",
				TemplateTierUpgraded:            "<h2>Congratulations!</h2><p>You've been upgraded to {{tier}} tier!</p>",
			},
		},
		Chatbot: ChatbotSettings{Enabled: true},
	}
}

// Validate checks the document and returns field -> problem for every failure.
func (s Settings) Validate() map[string]string {
	problems := map[string]string{}
	if _, err := time.LoadLocation(s.Timezone); err != nil || s.Timezone == "" {
		problems["timezone"] = "must be an IANA time zone"
	}

	b := s.Booking
	if b.SlotStepMinutes < 5 || b.SlotStepMinutes > 240 {
		problems["booking.slotStepMinutes"] = "must be between 5 and 240"
	}
	if b.DefaultDurationMinutes < 5 || b.DefaultDurationMinutes > 480 {
		problems["booking.defaultDurationMinutes"] = "must be between 5 and 480"
	}
	start, errStart := MinuteOfDay(b.WorkStart)
	end, errEnd := MinuteOfDay(b.WorkEnd)
	if errStart != nil {
		problems["booking.workStart"] = "must be HH:MM"
	}
	if errEnd != nil {
		problems["booking.workEnd"] = "must be HH:MM"
	}
	if errStart == nil && errEnd == nil && end <= start {
		problems["booking.workEnd"] = "must be after workStart"
	}
	if b.BreakStart != "" || b.BreakEnd != "" {
		bs, err1 := MinuteOfDay(b.BreakStart)
		be, err2 := MinuteOfDay(b.BreakEnd)
		if err1 != nil || err2 != nil || be <= bs {
			problems["booking.break"] = "breakStart and breakEnd must be HH:MM with breakEnd after breakStart"
		}
	}
	for _, off := range b.ReminderOffsetsMinutes {
		if off <= 0 {
			problems["booking.reminderOffsetsMinutes"] = "offsets must be positive"
			break
		}
	}

	r := s.Clock.ShiftRules
	if r.MinShiftHours < 0 || r.MaxShiftHours <= 0 || r.MinShiftHours > r.MaxShiftHours || r.MaxShiftHours > 24 {
		problems["clock.shiftRules"] = "require 0 <= minShiftHours <= maxShiftHours <= 24"
	}
	if r.MaxWeeklyHours <= 0 || r.MaxWeeklyHours > 168 {
		problems["clock.shiftRules.maxWeeklyHours"] = "must be between 0 and 168"
	}

	if s.Loyalty.PointsPerDollar < 0 {
		problems["loyalty.pointsPerDollar"] = "must not be negative"
	}
	seen := map[string]bool{}
	for _, t := range s.Loyalty.Tiers {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" || seen[name] || t.MinPoints < 0 || t.Multiplier <= 0 {
			problems["loyalty.tiers"] = "tiers need unique names, minPoints >= 0 and multiplier > 0"
			break
		}
		seen[name] = true
	}
	return problems
}

// Normalize sorts tiers by threshold and lower-cases their names.
func (s *Settings) Normalize() {
	for i := range s.Loyalty.Tiers {
		s.Loyalty.Tiers[i].Name = strings.ToLower(strings.TrimSpace(s.Loyalty.Tiers[i].Name))
	}
	sort.SliceStable(s.Loyalty.Tiers, func(i, j int) bool {
		return s.Loyalty.Tiers[i].MinPoints < s.Loyalty.Tiers[j].MinPoints
	})
}

// Location falls back to UTC for an unknown zone.
func (s Settings) Location() *time.Location {
	if loc, err := time.LoadLocation(s.Timezone); err == nil && s.Timezone != "" {
		return loc
	}
	return time.UTC
}

// TierFor returns the highest tier whose threshold is met. ok is false when
// no tiers are configured.
func (l LoyaltySettings) TierFor(points int64) (Tier, bool) {
	var best Tier
	found := false
	for _, t := range l.Tiers {
		if t.MinPoints <= points && (!found || t.MinPoints >= best.MinPoints) {
			best = t
			found = true
		}
	}
	return best, found
}

func (l LoyaltySettings) Tier(name string) (Tier, bool) {
	for _, t := range l.Tiers {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Tier{}, false
}

// Public is the subset of settings served without authentication.
type Public struct {
	Timezone       string `json:"timezone"`
	WorkStart      string `json:"workStart"`
	WorkEnd        string `json:"workEnd"`
	BreakStart     string `json:"breakStart,omitempty"`
	BreakEnd       string `json:"breakEnd,omitempty"`
	ChatbotEnabled bool   `json:"chatbotEnabled"`
	LoyaltyEnabled bool   `json:"loyaltyEnabled"`
}

func (s Settings) Public() Public {
	return Public{
		Timezone:       s.Timezone,
		WorkStart:      s.Booking.WorkStart,
		WorkEnd:        s.Booking.WorkEnd,
		BreakStart:     s.Booking.BreakStart,
		BreakEnd:       s.Booking.BreakEnd,
		ChatbotEnabled: s.Chatbot.Enabled,
		LoyaltyEnabled: s.Loyalty.Enabled,
	}
}

// MinuteOfDay parses "HH:MM" into minutes after midnight.
func MinuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}
