package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/services/booking-service/internal/availability"
	"github.com/modernmen/shopfront/services/booking-service/internal/storage"
)

type workHours struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	BreakStart string `json:"breakStart,omitempty"`
	BreakEnd   string `json:"breakEnd,omitempty"`
}

type availabilityResponse struct {
	Available       bool      `json:"available"`
	Reason          string    `json:"reason,omitempty"`
	StylistID       string    `json:"stylistId"`
	Date            string    `json:"date"`
	DayOfWeek       string    `json:"dayOfWeek"`
	AvailableSlots  []string  `json:"availableSlots"`
	WorkHours       workHours `json:"workHours"`
	ServiceDuration int       `json:"serviceDuration"`
	TotalSlots      int       `json:"totalSlots"`
}

// Availability lists the open start times of a stylist on one date. The date
// is read in the shop's time zone.
func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.TenantFromRequest(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	stylistID := strings.TrimSpace(q.Get("stylist_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateParam := strings.TrimSpace(q.Get("date"))
	if stylistID == "" || dateParam == "" {
		httpx.WriteError(w, r, apperr.Validation("stylist_id and date are required"))
		return
	}

	ctx := r.Context()
	cfg, err := h.settings.Get(ctx, tenantID)
	if err != nil {
		h.fail(w, r, "settings lookup failed", err)
		return
	}
	loc := cfg.Location()
	date, err := time.ParseInLocation(time.DateOnly, dateParam, loc)
	if err != nil {
		httpx.WriteError(w, r, apperr.Validation("date must be YYYY-MM-DD"))
		return
	}

	reader := h.store.Reader()
	stylist, err := h.store.Stylist(ctx, reader, tenantID, stylistID)
	if err != nil {
		h.fail(w, r, "stylist lookup failed", err)
		return
	}
	if !stylist.Active {
		httpx.WriteError(w, r, apperr.Validation("stylist is not accepting bookings"))
		return
	}
	duration := cfg.Booking.DefaultDurationMinutes
	if serviceID != "" {
		service, err := h.store.Service(ctx, reader, tenantID, serviceID)
		if err != nil {
			h.fail(w, r, "service lookup failed", err)
			return
		}
		duration = service.DurationMinutes
	}

	timeOff, err := h.store.TimeOff(ctx, reader, stylist.ID, date, date)
	if err != nil {
		h.fail(w, r, "time off lookup failed", err)
		return
	}
	booked, err := h.store.Busy(ctx, reader, tenantID, stylist.ID, date, date.AddDate(0, 0, 1))
	if err != nil {
		h.fail(w, r, "appointment lookup failed", err)
		return
	}

	hours := hoursFor(stylist, cfg)
	day, err := availability.Compute(availability.Query{
		Date:     date,
		Hours:    hours,
		TimeOff:  timeOff,
		Busy:     storage.Intervals(booked),
		Duration: time.Duration(duration) * time.Minute,
		Step:     time.Duration(cfg.Booking.SlotStepMinutes) * time.Minute,
		Now:      h.now(),
	})
	if err != nil {
		httpx.WriteError(w, r, apperr.Validation("stylist working hours are invalid"))
		return
	}

	resp := availabilityResponse{
		Available:       day.Available,
		Reason:          day.Reason,
		StylistID:       stylist.ID,
		Date:            dateParam,
		DayOfWeek:       day.Weekday.String(),
		AvailableSlots:  make([]string, 0, len(day.Slots)),
		WorkHours:       workHours{Start: hours.WorkStart, End: hours.WorkEnd},
		ServiceDuration: duration,
	}
	if day.Break != nil {
		resp.WorkHours.BreakStart, resp.WorkHours.BreakEnd = hours.BreakStart, hours.BreakEnd
	}
	for _, slot := range day.Slots {
		resp.AvailableSlots = append(resp.AvailableSlots, slot.In(loc).Format("15:04"))
	}
	resp.TotalSlots = len(resp.AvailableSlots)
	httpx.WriteSuccess(w, http.StatusOK, resp)
}

type calendarCheckResponse struct {
	Available bool     `json:"available"`
	StylistID string   `json:"stylistId"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Conflicts []string `json:"conflicts"`
}

// CalendarCheck reports whether [start, end) is free for the stylist.
func (h *BookingHandler) CalendarCheck(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.RequireRole(r, auth.StaffRoles...)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	stylistID := strings.TrimSpace(q.Get("stylist_id"))
	if stylistID == "" {
		httpx.WriteError(w, r, apperr.Validation("stylist_id is required"))
		return
	}
	start, err1 := time.Parse(time.RFC3339, strings.TrimSpace(q.Get("start")))
	end, err2 := time.Parse(time.RFC3339, strings.TrimSpace(q.Get("end")))
	if err1 != nil || err2 != nil {
		httpx.WriteError(w, r, apperr.Validation("start and end must be RFC3339"))
		return
	}
	if !end.After(start) {
		httpx.WriteError(w, r, apperr.Validation("end must be after start"))
		return
	}

	booked, err := h.store.Busy(r.Context(), h.store.Reader(), id.TenantID, stylistID, start, end)
	if err != nil {
		h.fail(w, r, "calendar check failed", err)
		return
	}
	resp := calendarCheckResponse{
		Available: len(booked) == 0,
		StylistID: stylistID,
		Start:     start.UTC().Format(time.RFC3339),
		End:       end.UTC().Format(time.RFC3339),
		Conflicts: make([]string, 0, len(booked)),
	}
	for _, b := range booked {
		resp.Conflicts = append(resp.Conflicts, b.ID)
	}
	httpx.WriteSuccess(w, http.StatusOK, resp)
}
