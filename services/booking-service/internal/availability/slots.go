package availability

import (
	"fmt"
	"slices"
	"time"

	"github.com/modernmen/shopfront/libs/settings"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps treats both intervals as half-open.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) || windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(Interval{Start: t, End: t.Add(duration)}, busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func overlapsAny(slot Interval, busy []Interval) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}

// Hours is a stylist's working day expressed as "HH:MM" strings. Work days
// use time.Weekday numbering (0 = Sunday).
type Hours struct {
	WorkDays   []int32
	WorkStart  string
	WorkEnd    string
	BreakStart string
	BreakEnd   string
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (d DateRange) Contains(day time.Time) bool {
	key := dateKey(day)
	return key >= dateKey(d.Start) && key <= dateKey(d.End)
}

func dateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

const (
	ReasonNotWorkingDay = "stylist does not work on this day"
	ReasonTimeOff       = "stylist is on time off"
	ReasonFullyBooked   = "no free slots"
)

// Day is the availability of one stylist on one calendar date.
type Day struct {
	Available bool
	Reason    string
	Weekday   time.Weekday
	WorkStart time.Time
	WorkEnd   time.Time
	Break     *Interval
	Slots     []time.Time
}

// Query describes a single-day availability lookup. Date must be midnight in
// the tenant location.
type Query struct {
	Date     time.Time
	Hours    Hours
	TimeOff  []DateRange
	Busy     []Interval
	Duration time.Duration
	Step     time.Duration
	Now      time.Time
}

// Compute resolves the slots for q. The break is treated as a busy interval
// and a slot must end no later than work end.
func Compute(q Query) (Day, error) {
	day := Day{Weekday: q.Date.Weekday()}
	if !slices.Contains(q.Hours.WorkDays, int32(day.Weekday)) {
		day.Reason = ReasonNotWorkingDay
		return day, nil
	}
	for _, off := range q.TimeOff {
		if off.Contains(q.Date) {
			day.Reason = ReasonTimeOff
			return day, nil
		}
	}

	start, err := At(q.Date, q.Hours.WorkStart)
	if err != nil {
		return day, err
	}
	end, err := At(q.Date, q.Hours.WorkEnd)
	if err != nil {
		return day, err
	}
	if !end.After(start) {
		return day, fmt.Errorf("work end %s is not after work start %s", q.Hours.WorkEnd, q.Hours.WorkStart)
	}
	day.WorkStart, day.WorkEnd = start, end

	busy := slices.Clone(q.Busy)
	if q.Hours.BreakStart != "" && q.Hours.BreakEnd != "" {
		bs, err := At(q.Date, q.Hours.BreakStart)
		if err != nil {
			return day, err
		}
		be, err := At(q.Date, q.Hours.BreakEnd)
		if err != nil {
			return day, err
		}
		if be.After(bs) {
			day.Break = &Interval{Start: bs, End: be}
			busy = append(busy, *day.Break)
		}
	}

	day.Slots = AvailableSlots(start, end, q.Duration, q.Step, busy, q.Now)
	day.Available = len(day.Slots) > 0
	if !day.Available {
		day.Reason = ReasonFullyBooked
	}
	return day, nil
}

// At places an "HH:MM" clock time on the given date, in the date's location.
func At(date time.Time, hhmm string) (time.Time, error) {
	m, err := settings.MinuteOfDay(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := date.Date()
	return time.Date(y, mo, d, m/60, m%60, 0, 0, date.Location()), nil
}

// Fits reports whether [start, start+duration) is a bookable interval for the
// day: inside working hours, clear of the break, and not overlapping busy.
func Fits(day Day, slot Interval, busy []Interval) bool {
	if slot.Start.Before(day.WorkStart) || slot.End.After(day.WorkEnd) {
		return false
	}
	if day.Break != nil && slot.Overlaps(*day.Break) {
		return false
	}
	return !overlapsAny(slot, busy)
}
