// Package timeclock turns clock-in/clock-out pairs into worked, regular and
// overtime hours and enforces the tenant shift rules.
package timeclock

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/settings"
)

const (
	ActionClockIn  = "clock-in"
	ActionClockOut = "clock-out"

	// RegularHoursPerShift is the net hours of one session paid at the regular rate.
	RegularHoursPerShift = 8.0
	// WeeklyRegularHours is the weekly threshold used by WeeklyOvertime.
	WeeklyRegularHours = 40.0

	maxShift = 24 * time.Hour
)

var (
	ErrMissingClockIn = errors.New("clock-in time is required")
	ErrClockOutOrder  = errors.New("clock-out must be after clock-in")
	ErrShiftTooLong   = errors.New("shift cannot exceed 24 hours")
)

// NormalizeAction accepts in, out, clock-in and clock-out.
func NormalizeAction(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in", ActionClockIn:
		return ActionClockIn, nil
	case "out", ActionClockOut:
		return ActionClockOut, nil
	default:
		return "", apperr.Validation("action must be one of: in, out, clock-in, clock-out")
	}
}

type Entry struct {
	ClockIn      time.Time
	ClockOut     time.Time
	BreakMinutes int
}

type Hours struct {
	Worked   float64 `json:"hoursWorked"`
	Regular  float64 `json:"regularHours"`
	Overtime float64 `json:"overtimeHours"`
}

func Validate(e Entry) error {
	if e.ClockIn.IsZero() {
		return ErrMissingClockIn
	}
	if !e.ClockOut.After(e.ClockIn) {
		return ErrClockOutOrder
	}
	if e.ClockOut.Sub(e.ClockIn) > maxShift {
		return ErrShiftTooLong
	}
	return nil
}

// Calculate returns net hours for a completed entry. Break minutes are
// subtracted and the result never goes below zero.
func Calculate(e Entry) (Hours, error) {
	if err := Validate(e); err != nil {
		return Hours{}, err
	}
	gross := e.ClockOut.Sub(e.ClockIn).Hours()
	net := gross - float64(e.BreakMinutes)/60
	if net < 0 {
		net = 0
	}
	regular := math.Min(net, RegularHoursPerShift)
	return Hours{
		Worked:   Round2(net),
		Regular:  Round2(regular),
		Overtime: Round2(net - regular),
	}, nil
}

func WeeklyOvertime(total float64) float64 {
	return Round2(math.Max(0, total-WeeklyRegularHours))
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// WeekStart is the lower bound of the trailing seven-day window ending at now.
func WeekStart(now time.Time) time.Time {
	return now.Add(-7 * 24 * time.Hour)
}

// CheckShift validates a finished shift against the tenant rules. weekHours
// is the total already completed in the trailing week, excluding this shift.
func CheckShift(rules settings.ShiftRules, shiftHours, weekHours float64) error {
	if shiftHours < rules.MinShiftHours {
		return apperr.Validation(fmt.Sprintf("shift of %.2f hours is below the minimum of %.2f hours", shiftHours, rules.MinShiftHours))
	}
	if rules.MaxShiftHours > 0 && shiftHours > rules.MaxShiftHours {
		return apperr.Validation(fmt.Sprintf("shift of %.2f hours exceeds the maximum of %.2f hours", shiftHours, rules.MaxShiftHours))
	}
	if rules.MaxWeeklyHours > 0 && Round2(weekHours+shiftHours) > rules.MaxWeeklyHours {
		return apperr.Validation(fmt.Sprintf("weekly hours would reach %.2f, above the limit of %.2f", Round2(weekHours+shiftHours), rules.MaxWeeklyHours))
	}
	return nil
}
