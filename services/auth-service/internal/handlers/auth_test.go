package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/db"
	"github.com/modernmen/shopfront/libs/events"
	"github.com/modernmen/shopfront/libs/httpx"
	"github.com/modernmen/shopfront/libs/outbox"
	"github.com/modernmen/shopfront/services/auth-service/internal/audit"
	"github.com/modernmen/shopfront/services/auth-service/internal/sessions"
	"github.com/modernmen/shopfront/services/auth-service/internal/storage"
)

const testTenant = "8d0c1c55-1d7c-4c43-9b55-6f4f0a3b2a10"

type fakeUsers struct {
	users  map[string]storage.User
	nextID int
}

func (f *fakeUsers) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	snapshot := maps.Clone(f.users)
	if err := fn(nil); err != nil {
		f.users = snapshot
		return err
	}
	return nil
}

func (f *fakeUsers) Create(_ context.Context, _ db.Querier, u storage.User) (storage.User, error) {
	for _, existing := range f.users {
		if existing.TenantID == u.TenantID && strings.EqualFold(existing.Email, u.Email) {
			return storage.User{}, apperr.Conflict("email already registered")
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.Email = strings.ToLower(u.Email)
	u.CreatedAt = time.Now()
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, tenantID, email string) (storage.User, error) {
	for _, u := range f.users {
		if u.TenantID == tenantID && strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return storage.User{}, apperr.NotFound("user not found")
}

func (f *fakeUsers) GetByID(_ context.Context, _ db.Querier, id string) (storage.User, error) {
	u, ok := f.users[id]
	if !ok {
		return storage.User{}, apperr.NotFound("user not found")
	}
	return u, nil
}

type fakeRefresh struct {
	tokens map[string]sessions.RefreshToken
}

func (f *fakeRefresh) Create(_ context.Context, _ db.Querier, userID, raw string, expiresAt time.Time) (string, error) {
	hash := sessions.HashToken(raw)
	f.tokens[hash] = sessions.RefreshToken{ID: hash, UserID: userID, Hash: hash, ExpiresAt: expiresAt}
	return hash, nil
}

func (f *fakeRefresh) GetByHash(_ context.Context, _ db.Querier, hash string) (sessions.RefreshToken, error) {
	t, ok := f.tokens[hash]
	if !ok {
		return sessions.RefreshToken{}, apperr.NotFound("refresh token not found")
	}
	return t, nil
}

func (f *fakeRefresh) Revoke(_ context.Context, _ db.Querier, id string) error {
	t := f.tokens[id]
	now := time.Now()
	t.RevokedAt = &now
	f.tokens[id] = t
	return nil
}

type fakeAudit struct {
	entries []audit.Entry
}

func (f *fakeAudit) Record(_ context.Context, _ db.Querier, e audit.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) ListRecent(context.Context, string, int) ([]audit.Event, error) {
	return []audit.Event{}, nil
}

func (f *fakeAudit) has(eventType string) bool {
	for _, e := range f.entries {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type fakeOutbox struct {
	events []outbox.Event
}

func (f *fakeOutbox) Insert(_ context.Context, _ db.Querier, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

type fixture struct {
	handler *AuthHandler
	signer  TokenSigner
	users   *fakeUsers
	refresh *fakeRefresh
	audit   *fakeAudit
	outbox  *fakeOutbox
}

func newFixture() *fixture {
	f := &fixture{
		signer:  NewHS256Signer("test-secret"),
		users:   &fakeUsers{users: map[string]storage.User{}},
		refresh: &fakeRefresh{tokens: map[string]sessions.RefreshToken{}},
		audit:   &fakeAudit{},
		outbox:  &fakeOutbox{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.handler = NewAuthHandler(f.signer, f.users, f.refresh, f.audit, f.outbox, TokenTTL{Access: 15 * time.Minute, Refresh: time.Hour}, logger)
	return f
}

func (f *fixture) seedUser(t *testing.T, email, password, role string) storage.User {
	t.Helper()
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := f.users.Create(context.Background(), nil, storage.User{TenantID: testTenant, Email: email, Name: "Seed", PasswordHash: hash, Role: role})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return u
}

func post(h http.HandlerFunc, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	var env struct {
		Data tokenResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func TestPasswordHashing(t *testing.T) {
	password := "pass123"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestRegisterCreatesCustomerAndEvent(t *testing.T) {
	f := newFixture()
	rec := post(f.handler.Register, `{"email":"Jo@Example.com","password":"longenough","name":"Jo"}`,
		map[string]string{httpx.HeaderTenantID: testTenant})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	tokens := decodeTokens(t, rec)
	claims, err := f.signer.Verify(tokens.AccessToken)
	if err != nil {
		t.Fatalf("access token should verify: %v", err)
	}
	if claims.Role != auth.RoleCustomer || claims.TenantID != testTenant || claims.Email != "jo@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if tokens.RefreshToken == "" || len(f.refresh.tokens) != 1 {
		t.Fatalf("expected a stored refresh token, got %d", len(f.refresh.tokens))
	}
	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != events.UserCreated {
		t.Fatalf("expected user created event, got %+v", f.outbox.events)
	}
	if !f.audit.has(audit.UserRegistered) {
		t.Fatal("expected registration audit entry")
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	f := newFixture()
	f.seedUser(t, "jo@example.com", "longenough", auth.RoleCustomer)

	rec := post(f.handler.Register, `{"tenant_id":"`+testTenant+`","email":"JO@example.com","password":"longenough"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.outbox.events) != 0 {
		t.Fatal("no event expected for a failed registration")
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture()
	rec := post(f.handler.Register, `{"email":"not-an-email","password":"short"}`,
		map[string]string{httpx.HeaderTenantID: testTenant})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var env httpx.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Details["email"] == "" || env.Error.Details["password"] == "" {
		t.Fatalf("expected field details, got %+v", env.Error.Details)
	}

	rec = post(f.handler.Register, `{"email":"a@b.co","password":"longenough"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant, got %d", rec.Code)
	}
}

func TestLoginAndRefreshRotation(t *testing.T) {
	f := newFixture()
	f.seedUser(t, "sam@example.com", "correct-horse", auth.RoleStaff)

	rec := post(f.handler.Login, `{"email":"sam@example.com","password":"correct-horse"}`,
		map[string]string{httpx.HeaderTenantID: testTenant})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	first := decodeTokens(t, rec)
	if first.ExpiresIn != 900 {
		t.Fatalf("expected 900s expiry, got %d", first.ExpiresIn)
	}

	rec = post(f.handler.Refresh, `{"refresh_token":"`+first.RefreshToken+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	second := decodeTokens(t, rec)
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token should rotate")
	}

	rec = post(f.handler.Refresh, `{"refresh_token":"`+first.RefreshToken+`"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token: expected 401, got %d", rec.Code)
	}
	rec = post(f.handler.Refresh, `{"refresh_token":"never-issued"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown refresh token: expected 401, got %d", rec.Code)
	}
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	f := newFixture()
	u := f.seedUser(t, "sam@example.com", "correct-horse", auth.RoleStaff)
	if _, err := f.refresh.Create(context.Background(), nil, u.ID, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec := post(f.handler.Refresh, `{"refresh_token":"stale"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture()
	f.seedUser(t, "sam@example.com", "correct-horse", auth.RoleStaff)

	for _, body := range []string{
		`{"email":"sam@example.com","password":"wrong"}`,
		`{"email":"nobody@example.com","password":"correct-horse"}`,
	} {
		rec := post(f.handler.Login, body, map[string]string{httpx.HeaderTenantID: testTenant})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", body, rec.Code)
		}
	}
	if !f.audit.has(audit.LoginFailed) {
		t.Fatal("expected failed login audit entry")
	}
	if len(f.refresh.tokens) != 0 {
		t.Fatal("no refresh token should be issued")
	}
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	f := newFixture()
	body := `{"email":"new@example.com","password":"longenough","name":"New Barber","role":"staff"}`

	rec := post(f.handler.CreateUser, body, map[string]string{
		httpx.HeaderUserID: "u-staff", httpx.HeaderTenantID: testTenant, httpx.HeaderRole: auth.RoleStaff,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = post(f.handler.CreateUser, body, map[string]string{
		httpx.HeaderUserID: "u-admin", httpx.HeaderTenantID: testTenant, httpx.HeaderRole: auth.RoleAdmin,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created, err := f.users.GetByEmail(context.Background(), testTenant, "new@example.com")
	if err != nil || created.Role != auth.RoleStaff {
		t.Fatalf("expected staff user, got %+v (%v)", created, err)
	}
	if strings.Contains(rec.Body.String(), created.PasswordHash) {
		t.Fatal("password hash must not be returned")
	}
	if len(f.refresh.tokens) != 0 {
		t.Fatal("creating a user must not sign anyone in")
	}

	rec = post(f.handler.CreateUser, `{"email":"c@example.com","password":"longenough","name":"C","role":"customer"}`, map[string]string{
		httpx.HeaderUserID: "u-admin", httpx.HeaderTenantID: testTenant, httpx.HeaderRole: auth.RoleAdmin,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for customer role, got %d", rec.Code)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture()
	u := f.seedUser(t, "sam@example.com", "correct-horse", auth.RoleStaff)
	if _, err := f.refresh.Create(context.Background(), nil, u.ID, "live-token", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		rec := post(f.handler.Logout, `{"refresh_token":"live-token"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("logout %d: expected 200, got %d", i, rec.Code)
		}
	}
	if f.refresh.tokens[sessions.HashToken("live-token")].RevokedAt == nil {
		t.Fatal("expected token revoked")
	}
	rec := post(f.handler.Refresh, `{"refresh_token":"live-token"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestMeVerifiesBearerToken(t *testing.T) {
	f := newFixture()
	u := f.seedUser(t, "sam@example.com", "correct-horse", auth.RoleManager)
	token, err := f.signer.Sign(auth.NewClaims(u.ID, u.TenantID, u.Role, u.Email, time.Now(), time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.handler.Me(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"role":"manager"`) {
		t.Fatalf("expected profile, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	f.handler.Me(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWKSUnavailableForSharedSecret(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	f.handler.JWKS(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = post(f.handler.Rotate, `{"active_kid":"k2"}`, map[string]string{
		httpx.HeaderUserID: "u-admin", httpx.HeaderTenantID: testTenant, httpx.HeaderRole: auth.RoleAdmin,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when rotation is unsupported, got %d", rec.Code)
	}
	if !errors.Is(f.signer.SetActiveKid("k2"), ErrRotationUnsupported) {
		t.Fatal("expected ErrRotationUnsupported")
	}
}
