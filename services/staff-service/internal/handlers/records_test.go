package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/services/staff-service/internal/storage"
)

func storeWithSessions() *fakeStaffStore {
	store := newFakeStaffStore()
	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := in.Add(8 * time.Hour)
	store.sessions["ws-done"] = storage.Session{
		ID: "ws-done", TenantID: "t1", StylistID: stylistMarco, ClockIn: in, ClockOut: &out,
		Status: storage.SessionCompleted, HoursWorked: 8, RegularHours: 8,
	}
	store.sessions["ws-open"] = storage.Session{
		ID: "ws-open", TenantID: "t1", StylistID: stylistLena, ClockIn: in.AddDate(0, 0, 1),
		Status: storage.SessionActive,
	}
	lena := store.stylists[stylistLena]
	lena.IsClockedIn = true
	store.stylists[stylistLena] = lena
	return store
}

func correctRequest(role, sessionID, body string) *http.Request {
	req := staffRequest(http.MethodPut, "/api/v1/staff/clock-records/"+sessionID, role, body)
	req.SetPathValue("id", sessionID)
	return req
}

func TestCorrectClockRecordValidation(t *testing.T) {
	cases := []struct {
		name      string
		role      string
		sessionID string
		body      string
		wantCode  int
		wantErr   string
	}{
		{name: "completed needs clock out", role: "admin", sessionID: "ws-done", body: `{"clock_in":"2026-03-02T08:30:00Z","reason":"forgot"}`, wantCode: http.StatusBadRequest, wantErr: apperr.CodeValidation},
		{name: "clock out before clock in", role: "admin", sessionID: "ws-done", body: `{"clock_in":"2026-03-02T10:00:00Z","clock_out":"2026-03-02T09:00:00Z","reason":"typo"}`, wantCode: http.StatusBadRequest, wantErr: apperr.CodeValidation},
		{name: "reason required", role: "admin", sessionID: "ws-done", body: `{"clock_in":"2026-03-02T08:30:00Z","clock_out":"2026-03-02T17:00:00Z"}`, wantCode: http.StatusBadRequest, wantErr: apperr.CodeValidation},
		{name: "break too long", role: "admin", sessionID: "ws-done", body: `{"clock_in":"2026-03-02T08:30:00Z","clock_out":"2026-03-02T17:00:00Z","break_minutes":900,"reason":"x"}`, wantCode: http.StatusBadRequest, wantErr: apperr.CodeValidation},
		{name: "unknown session", role: "admin", sessionID: "ws-missing", body: `{"clock_in":"2026-03-02T08:30:00Z","clock_out":"2026-03-02T17:00:00Z","reason":"x"}`, wantCode: http.StatusNotFound, wantErr: apperr.CodeNotFound},
		{name: "manager forbidden", role: "manager", sessionID: "ws-done", body: `{"clock_in":"2026-03-02T08:30:00Z","clock_out":"2026-03-02T17:00:00Z","reason":"x"}`, wantCode: http.StatusForbidden, wantErr: apperr.CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := storeWithSessions()
			before := store.sessions["ws-done"]
			h := newStaffHandler(store, "UTC", time.Now())

			rw := httptest.NewRecorder()
			h.CorrectClockRecord(rw, correctRequest(tc.role, tc.sessionID, tc.body))
			if rw.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rw.Code, rw.Body.String())
			}
			if code := errorCode(t, rw); code != tc.wantErr {
				t.Fatalf("expected code %q, got %q", tc.wantErr, code)
			}
			after := store.sessions["ws-done"]
			if !after.ClockIn.Equal(before.ClockIn) || after.IsManual {
				t.Fatalf("session changed on failure: %+v", after)
			}
		})
	}
}

func TestCorrectCompletedClockRecord(t *testing.T) {
	store := storeWithSessions()
	h := newStaffHandler(store, "UTC", time.Now())

	rw := httptest.NewRecorder()
	h.CorrectClockRecord(rw, correctRequest("admin", "ws-done",
		`{"clock_in":"2026-03-02T08:00:00Z","clock_out":"2026-03-02T18:30:00Z","break_minutes":30,"reason":" missed clock in "}`))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	s := store.sessions["ws-done"]
	if s.HoursWorked != 10 || s.RegularHours != 8 || s.OvertimeHours != 2 {
		t.Fatalf("unexpected hours: %+v", s)
	}
	if !s.IsManual || s.ManualReason != "missed clock in" || s.Status != storage.SessionCompleted {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestCorrectActiveClockRecord(t *testing.T) {
	t.Run("closing it clocks the stylist out", func(t *testing.T) {
		store := storeWithSessions()
		h := newStaffHandler(store, "UTC", time.Now())

		rw := httptest.NewRecorder()
		h.CorrectClockRecord(rw, correctRequest("admin", "ws-open",
			`{"clock_in":"2026-03-03T09:00:00Z","clock_out":"2026-03-03T17:30:00Z","break_minutes":30,"reason":"left without clocking out"}`))
		if rw.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
		}
		s := store.sessions["ws-open"]
		if s.Status != storage.SessionCompleted || s.ClockOut == nil || s.HoursWorked != 8 {
			t.Fatalf("session not completed: %+v", s)
		}
		if store.stylists[stylistLena].IsClockedIn {
			t.Fatal("stylist still clocked in")
		}
	})

	t.Run("without clock out it stays open", func(t *testing.T) {
		store := storeWithSessions()
		h := newStaffHandler(store, "UTC", time.Now())

		rw := httptest.NewRecorder()
		h.CorrectClockRecord(rw, correctRequest("admin", "ws-open",
			`{"clock_in":"2026-03-03T08:45:00Z","reason":"clocked in late"}`))
		if rw.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
		}
		s := store.sessions["ws-open"]
		if s.Status != storage.SessionActive || s.ClockOut != nil || s.ClockIn.Hour() != 8 {
			t.Fatalf("unexpected session: %+v", s)
		}
		if !store.stylists[stylistLena].IsClockedIn {
			t.Fatal("stylist should remain clocked in")
		}
	})
}

func TestDeleteActiveClockRecord(t *testing.T) {
	store := storeWithSessions()
	h := newStaffHandler(store, "UTC", time.Now())

	req := staffRequest(http.MethodDelete, "/api/v1/staff/clock-records/ws-open", "admin", "")
	req.SetPathValue("id", "ws-open")
	rw := httptest.NewRecorder()
	h.DeleteClockRecord(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if _, ok := store.sessions["ws-open"]; ok {
		t.Fatal("session still present")
	}
	if store.stylists[stylistLena].IsClockedIn {
		t.Fatal("stylist still clocked in")
	}
}

func TestClockRecordsScopedForStaff(t *testing.T) {
	store := storeWithSessions()
	h := newStaffHandler(store, "UTC", time.Now())

	rw := httptest.NewRecorder()
	h.ClockRecords(rw, staffRequest(http.MethodGet, "/api/v1/staff/clock-records?staff_id="+stylistLena, "staff", ""))
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another stylist's records, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.ClockRecords(rw, staffRequest(http.MethodGet, "/api/v1/staff/clock-records", "staff", ""))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var env struct {
		Data recordsResponse `json:"data"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(env.Data.Records) != 1 || env.Data.Records[0].StylistID != stylistMarco || env.Data.TotalHours != 8 {
		t.Fatalf("unexpected records: %+v", env.Data)
	}
}
