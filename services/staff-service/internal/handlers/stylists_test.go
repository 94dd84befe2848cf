package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/staff-service/internal/storage"
)

const (
	stylistMarco = "7b0c6d1e-2f3a-4b5c-8d9e-0f1a2b3c4d5e"
	stylistLena  = "1c2d3e4f-5a6b-4c7d-8e9f-a0b1c2d3e4f5"
)

type fakeStaffStore struct {
	stylists  map[string]storage.Stylist
	timeOff   []storage.TimeOff
	schedules []storage.Schedule
	listFrom  time.Time
	listTo    time.Time
	sessions  map[string]storage.Session
}

func newFakeStaffStore() *fakeStaffStore {
	return &fakeStaffStore{
		stylists: map[string]storage.Stylist{
			stylistMarco: {ID: stylistMarco, TenantID: "t1", UserID: "u-staff", Name: "Marco", Active: true},
			stylistLena:  {ID: stylistLena, TenantID: "t1", UserID: "u-other", Name: "Lena", Active: true},
		},
		sessions: map[string]storage.Session{},
	}
}

// WithTx snapshots sessions and stylists and restores them when fn fails.
func (f *fakeStaffStore) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	stylists := map[string]storage.Stylist{}
	for k, v := range f.stylists {
		stylists[k] = v
	}
	sessions := map[string]storage.Session{}
	for k, v := range f.sessions {
		sessions[k] = v
	}
	if err := fn(nil); err != nil {
		f.stylists, f.sessions = stylists, sessions
		return err
	}
	return nil
}

func (f *fakeStaffStore) ListStylists(_ context.Context, _ string, activeOnly bool) ([]storage.Stylist, error) {
	var out []storage.Stylist
	for _, s := range f.stylists {
		if !activeOnly || s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStaffStore) FindStylist(_ context.Context, _, id string) (storage.Stylist, error) {
	s, ok := f.stylists[id]
	if !ok {
		return storage.Stylist{}, apperr.NotFound("stylist not found")
	}
	return s, nil
}

func (f *fakeStaffStore) StylistByUser(_ context.Context, _, userID string) (storage.Stylist, error) {
	for _, s := range f.stylists {
		if s.UserID == userID {
			return s, nil
		}
	}
	return storage.Stylist{}, apperr.NotFound("stylist not found")
}

func (f *fakeStaffStore) CreateStylist(_ context.Context, s storage.Stylist) (storage.Stylist, error) {
	s.ID = "st-new"
	f.stylists[s.ID] = s
	return s, nil
}

func (f *fakeStaffStore) UpdateStylist(_ context.Context, s storage.Stylist) (storage.Stylist, error) {
	if _, ok := f.stylists[s.ID]; !ok {
		return storage.Stylist{}, apperr.NotFound("stylist not found")
	}
	f.stylists[s.ID] = s
	return s, nil
}

func (f *fakeStaffStore) DeleteStylist(_ context.Context, _, id string) error {
	if _, ok := f.stylists[id]; !ok {
		return apperr.NotFound("stylist not found")
	}
	delete(f.stylists, id)
	return nil
}

func (f *fakeStaffStore) CreateTimeOff(_ context.Context, _ string, t storage.TimeOff) (storage.TimeOff, error) {
	t.ID = "to-1"
	f.timeOff = append(f.timeOff, t)
	return t, nil
}

func (f *fakeStaffStore) ListTimeOff(context.Context, string, string) ([]storage.TimeOff, error) {
	return f.timeOff, nil
}

// CreateSchedule rejects overlapping shifts the way the exclusion constraint does.
func (f *fakeStaffStore) CreateSchedule(_ context.Context, _ string, s storage.Schedule) (storage.Schedule, error) {
	for _, existing := range f.schedules {
		if existing.StylistID == s.StylistID && existing.Date.Equal(s.Date) &&
			s.StartMinute < existing.EndMinute && existing.StartMinute < s.EndMinute {
			return storage.Schedule{}, apperr.Conflict("shift overlaps an existing shift for this stylist")
		}
	}
	s.ID = "sh-" + s.Date.Format("0102")
	f.schedules = append(f.schedules, s)
	return s, nil
}

func (f *fakeStaffStore) ListSchedules(_ context.Context, _, _ string, from, to time.Time) ([]storage.Schedule, error) {
	f.listFrom, f.listTo = from, to
	return f.schedules, nil
}

func (f *fakeStaffStore) ListSessions(_ context.Context, filter storage.SessionFilter) ([]storage.Session, error) {
	var out []storage.Session
	for _, s := range f.sessions {
		if filter.StylistID == "" || s.StylistID == filter.StylistID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStaffStore) GetSession(_ context.Context, _ db.Querier, _, id string) (storage.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return storage.Session{}, apperr.NotFound("work session not found")
	}
	return s, nil
}

func (f *fakeStaffStore) CorrectSession(_ context.Context, _ db.Querier, s storage.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStaffStore) DeleteSession(_ context.Context, _ db.Querier, _, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeStaffStore) SetClockedIn(_ context.Context, _ db.Querier, stylistID string, in bool) error {
	s := f.stylists[stylistID]
	s.IsClockedIn = in
	f.stylists[stylistID] = s
	return nil
}

func newStaffHandler(store *fakeStaffStore, timezone string, now time.Time) *StaffHandler {
	s := settings.Defaults()
	s.Timezone = timezone
	h := NewStaffHandler(store, settings.Static(s), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return now }
	return h
}

func staffRequest(method, target, role, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(httpx.HeaderUserID, "u-"+role)
	req.Header.Set(httpx.HeaderTenantID, "t1")
	req.Header.Set(httpx.HeaderRole, role)
	return req
}

func TestCreateStylistValidation(t *testing.T) {
	cases := []struct {
		name     string
		role     string
		body     string
		wantCode int
	}{
		{name: "defaults", role: "manager", body: `{"name":"Theo"}`, wantCode: http.StatusCreated},
		{name: "with break", role: "admin", body: `{"name":"Theo","work_start":"08:00","work_end":"16:00","break_start":"12:00","break_end":"12:30"}`, wantCode: http.StatusCreated},
		{name: "missing name", role: "admin", body: `{"bio":"fades"}`, wantCode: http.StatusBadRequest},
		{name: "end before start", role: "admin", body: `{"name":"Theo","work_start":"17:00","work_end":"09:00"}`, wantCode: http.StatusBadRequest},
		{name: "break without end", role: "admin", body: `{"name":"Theo","break_start":"12:00"}`, wantCode: http.StatusBadRequest},
		{name: "break outside hours", role: "admin", body: `{"name":"Theo","break_start":"18:00","break_end":"18:30"}`, wantCode: http.StatusBadRequest},
		{name: "inverted break", role: "admin", body: `{"name":"Theo","break_start":"13:00","break_end":"12:00"}`, wantCode: http.StatusBadRequest},
		{name: "bad weekday", role: "admin", body: `{"name":"Theo","work_days":[1,9]}`, wantCode: http.StatusBadRequest},
		{name: "staff forbidden", role: "staff", body: `{"name":"Theo"}`, wantCode: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStaffStore()
			h := newStaffHandler(store, "UTC", time.Now())
			rw := httptest.NewRecorder()
			h.CreateStylist(rw, staffRequest(http.MethodPost, "/api/v1/staff/stylists", tc.role, tc.body))
			if rw.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rw.Code, rw.Body.String())
			}
			_, created := store.stylists["st-new"]
			if created != (tc.wantCode == http.StatusCreated) {
				t.Fatalf("stylist stored = %v for status %d", created, rw.Code)
			}
			if rw.Code == http.StatusBadRequest && errorCode(t, rw) != apperr.CodeValidation {
				t.Fatalf("expected validation code, got %q", errorCode(t, rw))
			}
		})
	}
}

func TestCreateStylistDefaults(t *testing.T) {
	store := newFakeStaffStore()
	h := newStaffHandler(store, "UTC", time.Now())
	rw := httptest.NewRecorder()
	h.CreateStylist(rw, staffRequest(http.MethodPost, "/api/v1/staff/stylists", "admin", `{"name":"  Theo  "}`))
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rw.Code)
	}
	s := store.stylists["st-new"]
	if s.Name != "Theo" || s.WorkStart != "09:00" || s.WorkEnd != "17:00" || !s.Active || len(s.WorkDays) != 5 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestUpdateUnknownStylist(t *testing.T) {
	h := newStaffHandler(newFakeStaffStore(), "UTC", time.Now())
	req := staffRequest(http.MethodPut, "/api/v1/staff/stylists/missing", "admin", `{"name":"Theo"}`)
	req.SetPathValue("id", "missing")
	rw := httptest.NewRecorder()
	h.UpdateStylist(rw, req)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestDeleteStylistRequiresAdmin(t *testing.T) {
	store := newFakeStaffStore()
	h := newStaffHandler(store, "UTC", time.Now())

	req := staffRequest(http.MethodDelete, "/api/v1/staff/stylists/"+stylistLena, "manager", "")
	req.SetPathValue("id", stylistLena)
	rw := httptest.NewRecorder()
	h.DeleteStylist(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", rw.Code)
	}

	req = staffRequest(http.MethodDelete, "/api/v1/staff/stylists/"+stylistLena, "admin", "")
	req.SetPathValue("id", stylistLena)
	rw = httptest.NewRecorder()
	h.DeleteStylist(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if _, ok := store.stylists[stylistLena]; ok {
		t.Fatal("stylist still present after delete")
	}
}

func TestCreateTimeOff(t *testing.T) {
	cases := []struct {
		name      string
		stylistID string
		body      string
		wantCode  int
	}{
		{name: "single day", stylistID: stylistMarco, body: `{"start_date":"2026-04-02","end_date":"2026-04-02","reason":"dentist"}`, wantCode: http.StatusCreated},
		{name: "end before start", stylistID: stylistMarco, body: `{"start_date":"2026-04-05","end_date":"2026-04-02"}`, wantCode: http.StatusBadRequest},
		{name: "bad date", stylistID: stylistMarco, body: `{"start_date":"04/02/2026","end_date":"2026-04-02"}`, wantCode: http.StatusBadRequest},
		{name: "unknown stylist", stylistID: "missing", body: `{"start_date":"2026-04-02","end_date":"2026-04-03"}`, wantCode: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStaffStore()
			h := newStaffHandler(store, "UTC", time.Now())
			req := staffRequest(http.MethodPost, "/api/v1/staff/stylists/"+tc.stylistID+"/time-off", "manager", tc.body)
			req.SetPathValue("id", tc.stylistID)
			rw := httptest.NewRecorder()
			h.CreateTimeOff(rw, req)
			if rw.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rw.Code, rw.Body.String())
			}
			if tc.wantCode == http.StatusCreated && (len(store.timeOff) != 1 || store.timeOff[0].StylistID != stylistMarco) {
				t.Fatalf("unexpected time off: %+v", store.timeOff)
			}
			if tc.wantCode != http.StatusCreated && len(store.timeOff) != 0 {
				t.Fatalf("time off stored on failure: %+v", store.timeOff)
			}
		})
	}
}
