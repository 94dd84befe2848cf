package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/settings"
	"github.com/modernmen/shopfront/services/business-service/internal/storage"
)

type fakeRepo struct {
	tenants  map[string]storage.Tenant
	services map[string]storage.Service
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tenants:  map[string]storage.Tenant{"t1": {ID: "t1", Name: "ModernMen", Slug: "modernmen"}},
		services: map[string]storage.Service{},
	}
}

func (f *fakeRepo) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error { return fn(nil) }

func (f *fakeRepo) CreateTenant(_ context.Context, _ db.Querier, t storage.Tenant) (storage.Tenant, error) {
	for _, existing := range f.tenants {
		if existing.Slug == t.Slug {
			return storage.Tenant{}, apperr.Conflict("a shop with this slug already exists")
		}
	}
	t.ID = "t-new"
	f.tenants[t.ID] = t
	return t, nil
}

func (f *fakeRepo) GetTenant(_ context.Context, id string) (storage.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return storage.Tenant{}, apperr.NotFound("tenant not found")
	}
	return t, nil
}

func (f *fakeRepo) CreateService(_ context.Context, s storage.Service) (storage.Service, error) {
	s.ID = "sv-1"
	f.services[s.ID] = s
	return s, nil
}

func (f *fakeRepo) ListServices(_ context.Context, _ string, activeOnly bool) ([]storage.Service, error) {
	out := []storage.Service{}
	for _, s := range f.services {
		if !activeOnly || s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetService(_ context.Context, _, id string) (storage.Service, error) {
	s, ok := f.services[id]
	if !ok {
		return storage.Service{}, apperr.NotFound("service not found")
	}
	return s, nil
}

func (f *fakeRepo) UpdateService(_ context.Context, s storage.Service) (storage.Service, error) {
	if _, ok := f.services[s.ID]; !ok {
		return storage.Service{}, apperr.NotFound("service not found")
	}
	f.services[s.ID] = s
	return s, nil
}

func (f *fakeRepo) DeleteService(_ context.Context, _, id string) error {
	delete(f.services, id)
	return nil
}

type fakeSettings struct {
	saved       map[string]settings.Settings
	invalidated []string
}

func (f *fakeSettings) Get(_ context.Context, tenantID string) (settings.Settings, error) {
	if s, ok := f.saved[tenantID]; ok {
		return s, nil
	}
	return settings.Defaults(), nil
}

func (f *fakeSettings) Invalidate(_ context.Context, tenantID string) {
	f.invalidated = append(f.invalidated, tenantID)
}

func (f *fakeSettings) Save(_ context.Context, _ db.Querier, tenantID string, s settings.Settings) error {
	f.saved[tenantID] = s
	return nil
}

func newTestHandler() (*Handler, *fakeRepo, *fakeSettings) {
	repo := newFakeRepo()
	s := &fakeSettings{saved: map[string]settings.Settings{}}
	return New(repo, s, s, slog.New(slog.NewTextHandler(io.Discard, nil))), repo, s
}

func as(req *http.Request, role string) *http.Request {
	req.Header.Set(httpx.HeaderUserID, "u1")
	req.Header.Set(httpx.HeaderTenantID, "t1")
	req.Header.Set(httpx.HeaderRole, role)
	return req
}

func TestUpdateSettingsMergesAndInvalidates(t *testing.T) {
	h, _, s := newTestHandler()
	body := `{"timezone":"America/Toronto","chatbot":{"enabled":false},"notifications":{"templates":{"welcomeEmail":"Hi {{name}}"}}}`
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, as(httptest.NewRequest(http.MethodPut, "/api/v1/business/settings", strings.NewReader(body)), "manager"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	saved := s.saved["t1"]
	if saved.Timezone != "America/Toronto" || saved.Chatbot.Enabled {
		t.Fatalf("update not applied: %+v", saved)
	}
	if saved.Booking.SlotStepMinutes != 30 || !saved.Clock.Enabled {
		t.Fatalf("untouched fields lost: %+v", saved)
	}
	tpl := saved.Notifications.Templates
	if tpl[settings.TemplateWelcome] != "Hi {{name}}" || tpl[settings.TemplateAppointmentReminder] == "" {
		t.Fatalf("templates not merged: %v", tpl)
	}
	if len(s.invalidated) != 1 || s.invalidated[0] != "t1" {
		t.Fatalf("expected cache invalidation, got %v", s.invalidated)
	}
}

func TestUpdateSettingsRejectsInvalid(t *testing.T) {
	h, _, s := newTestHandler()
	body := `{"booking":{"workStart":"18:00","workEnd":"09:00"}}`
	rec := httptest.NewRecorder()
	h.UpdateSettings(rec, as(httptest.NewRequest(http.MethodPut, "/api/v1/business/settings", strings.NewReader(body)), "admin"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var env httpx.Envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Error == nil || env.Error.Details["booking.workEnd"] == "" {
		t.Fatalf("expected field details, got %s", rec.Body.String())
	}
	if len(s.saved) != 0 || len(s.invalidated) != 0 {
		t.Fatal("invalid settings must not be stored")
	}
}

func TestSettingsRequireManager(t *testing.T) {
	h, _, _ := newTestHandler()
	rec := httptest.NewRecorder()
	h.GetSettings(rec, as(httptest.NewRequest(http.MethodGet, "/api/v1/business/settings", nil), "staff"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCreateTenantStoresDefaults(t *testing.T) {
	h, repo, s := newTestHandler()
	rec := httptest.NewRecorder()
	h.CreateTenant(rec, as(httptest.NewRequest(http.MethodPost, "/api/v1/business/tenants", strings.NewReader(`{"name":"Uptown Cuts"}`)), "admin"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.tenants["t-new"].Slug != "uptown-cuts" {
		t.Fatalf("unexpected tenant %+v", repo.tenants["t-new"])
	}
	if _, ok := s.saved["t-new"]; !ok {
		t.Fatal("expected default settings for the new tenant")
	}

	rec = httptest.NewRecorder()
	h.CreateTenant(rec, as(httptest.NewRequest(http.MethodPost, "/api/v1/business/tenants", strings.NewReader(`{"name":"x","slug":"ModernMen"}`)), "admin"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate slug, got %d", rec.Code)
	}
}

func TestPublicSettings(t *testing.T) {
	h, _, _ := newTestHandler()
	rec := httptest.NewRecorder()
	h.PublicSettings(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/settings?tenant_id=t1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data publicSettings `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Data.Name != "ModernMen" || env.Data.WorkStart != "09:00" || !env.Data.ChatbotEnabled {
		t.Fatalf("unexpected public settings %+v", env.Data)
	}
}

func TestServiceValidationAndPublicList(t *testing.T) {
	h, repo, _ := newTestHandler()

	rec := httptest.NewRecorder()
	h.CreateService(rec, as(httptest.NewRequest(http.MethodPost, "/api/v1/business/services", strings.NewReader(`{"name":"Shave","duration_minutes":2,"price_cents":-1}`)), "admin"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.CreateService(rec, as(httptest.NewRequest(http.MethodPost, "/api/v1/business/services", strings.NewReader(`{"name":"Shave","duration_minutes":30,"price_cents":2000,"active":false}`)), "admin"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.services["sv-1"].Active {
		t.Fatal("expected inactive service")
	}

	rec = httptest.NewRecorder()
	h.PublicServices(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/services?tenant_id=t1", nil))
	var env struct {
		Data []storage.Service `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	if len(env.Data) != 0 {
		t.Fatalf("inactive services must not be public, got %+v", env.Data)
	}
}
