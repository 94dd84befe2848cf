package availability

import (
	"testing"
	"time"
)

func TestAvailableSlots_Basic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(10 * time.Hour)

	busy := []Interval{
		{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := AvailableSlots(windowStart, windowEnd, 15*time.Minute, 15*time.Minute, busy, day)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Format(time.RFC3339))
	}
	if !slots[1].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected second slot 09:45, got %s", slots[1].Format(time.RFC3339))
	}
}

func TestAvailableSlots_SkipsPast(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	now := day.Add(9*time.Hour + 31*time.Minute)

	slots := AvailableSlots(day.Add(9*time.Hour), day.Add(10*time.Hour), 15*time.Minute, 15*time.Minute, nil, now)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(day.Add(9*time.Hour + 45*time.Minute)) {
		t.Fatalf("expected slot 09:45, got %s", slots[0].Format(time.RFC3339))
	}
}

func wednesdayQuery() Query {
	// 2026-01-28 is a Wednesday.
	return Query{
		Date: time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC),
		Hours: Hours{
			WorkDays:   []int32{1, 2, 3, 4, 5},
			WorkStart:  "09:00",
			WorkEnd:    "12:00",
			BreakStart: "10:00",
			BreakEnd:   "10:30",
		},
		Duration: 60 * time.Minute,
		Step:     30 * time.Minute,
		Now:      time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC),
	}
}

func clock(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format("15:04")
	}
	return out
}

func TestComputeSkipsBreakAndWorkEnd(t *testing.T) {
	day, err := Compute(wednesdayQuery())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// 09:30 and 10:00 run into the break; 11:30 would end after 12:00.
	got := clock(day.Slots)
	if len(got) != 3 || got[0] != "09:00" || got[1] != "10:30" || got[2] != "11:00" {
		t.Fatalf("unexpected slots %v", got)
	}
	if !day.Available || day.Weekday != time.Wednesday {
		t.Fatalf("unexpected day %+v", day)
	}
}

func TestComputeRespectsBookings(t *testing.T) {
	q := wednesdayQuery()
	q.Busy = []Interval{{Start: q.Date.Add(10*time.Hour + 30*time.Minute), End: q.Date.Add(11 * time.Hour)}}

	day, err := Compute(q)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	got := clock(day.Slots)
	if len(got) != 2 || got[0] != "09:00" || got[1] != "11:00" {
		t.Fatalf("unexpected slots %v", got)
	}
}

func TestComputeNonWorkingDayAndTimeOff(t *testing.T) {
	q := wednesdayQuery()
	q.Hours.WorkDays = []int32{1, 2}
	day, _ := Compute(q)
	if day.Available || day.Reason != ReasonNotWorkingDay {
		t.Fatalf("expected non-working day, got %+v", day)
	}

	q = wednesdayQuery()
	q.TimeOff = []DateRange{{Start: q.Date.AddDate(0, 0, -2), End: q.Date}}
	day, _ = Compute(q)
	if day.Available || day.Reason != ReasonTimeOff {
		t.Fatalf("expected time off, got %+v", day)
	}
}

func TestComputeFullyBooked(t *testing.T) {
	q := wednesdayQuery()
	q.Now = q.Date.Add(23 * time.Hour)
	day, err := Compute(q)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if day.Available || day.Reason != ReasonFullyBooked {
		t.Fatalf("expected fully booked, got %+v", day)
	}
}

func TestFits(t *testing.T) {
	q := wednesdayQuery()
	day, _ := Compute(q)
	at := func(h, m int) time.Time { return q.Date.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	if !Fits(day, Interval{Start: at(10, 30), End: at(11, 30)}, nil) {
		t.Fatal("expected 10:30-11:30 to fit")
	}
	if Fits(day, Interval{Start: at(9, 30), End: at(10, 30)}, nil) {
		t.Fatal("interval over the break must not fit")
	}
	if Fits(day, Interval{Start: at(11, 30), End: at(12, 30)}, nil) {
		t.Fatal("interval past work end must not fit")
	}
	busy := []Interval{{Start: at(11, 0), End: at(11, 15)}}
	if Fits(day, Interval{Start: at(10, 30), End: at(11, 30)}, busy) {
		t.Fatal("interval over a booking must not fit")
	}
}
