package proxy

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/grpcx"
	"github.com/modernmen/shopfront/libs/httpx"
)

const secret = "test-secret"

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.NewClaims("user-1", "t1", role, "", time.Now(), time.Hour), secret)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// echo reports the identity headers it received.
func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-User", r.Header.Get(httpx.HeaderUserID))
		w.Header().Set("X-Seen-Tenant", r.Header.Get(httpx.HeaderTenantID))
		w.Header().Set("X-Seen-Role", r.Header.Get(httpx.HeaderRole))
		w.Header().Set("X-Seen-Path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	h := RequireAuth(echo(), auth.NewVerifier(secret, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crm/customers", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleStaff))
	req.Header.Set(httpx.HeaderTenantID, "spoofed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Seen-User") != "user-1" || rec.Header().Get("X-Seen-Tenant") != "t1" || rec.Header().Get("X-Seen-Role") != "staff" {
		t.Fatalf("identity not taken from the token: %v", rec.Header())
	}

	for _, header := range []string{"", "Bearer ", "Bearer garbage", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/crm/customers", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestOptionalAuth(t *testing.T) {
	h := OptionalAuth(echo(), auth.NewVerifier(secret, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/services", nil)
	req.Header.Set(httpx.HeaderTenantID, "t9")
	req.Header.Set(httpx.HeaderUserID, "intruder")
	req.Header.Set(httpx.HeaderRole, "admin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Seen-User") != "" || rec.Header().Get("X-Seen-Role") != "" || rec.Header().Get("X-Seen-Tenant") != "t9" {
		t.Fatalf("anonymous identity not scrubbed: %v", rec.Header())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/public/book", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleCustomer))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Seen-User") != "user-1" {
		t.Fatalf("expected the signed-in customer, got %v", rec.Header())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/public/book", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(echo(), auth.RoleAdmin, auth.RoleManager)
	for role, want := range map[string]int{"admin": 200, "manager": 200, "staff": 403, "": 403} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(httpx.HeaderRole, role)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("role %q: expected %d, got %d", role, want, rec.Code)
		}
	}
}

func TestRegisterRoutesToUpstreams(t *testing.T) {
	booking := httptest.NewServer(echo())
	defer booking.Close()
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer other.Close()

	mux := http.NewServeMux()
	err := Register(mux, Upstreams{
		Auth: other.URL, Business: other.URL, Booking: booking.URL,
		Staff: other.URL, CRM: other.URL, Analytics: other.URL,
	}, auth.NewVerifier(secret, nil))
	if err != nil {
		t.Fatal(err)
	}
	gw := httptest.NewServer(mux)
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/api/v1/public/availability?tenant_id=t1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Seen-Path") != "/api/v1/public/availability" {
		t.Fatalf("public availability not routed to booking: %d %v", resp.StatusCode, resp.Header)
	}

	req, _ := http.NewRequest(http.MethodGet, gw.URL+"/api/v1/appointments/a-1", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleCustomer))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Seen-User") != "user-1" {
		t.Fatalf("appointments not routed with identity: %d %v", resp.StatusCode, resp.Header)
	}

	resp, err = http.Get(gw.URL + "/api/v1/appointments")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, gw.URL+"/api/v1/analytics/summary", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleStaff))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("staff must not read analytics, got %d", resp.StatusCode)
	}
}

func TestRegisterRejectsBadUpstream(t *testing.T) {
	if err := Register(http.NewServeMux(), Upstreams{Auth: "::bad"}, auth.NewVerifier(secret, nil)); err == nil {
		t.Fatal("expected an error for an invalid upstream")
	}
}

func TestParseTargets(t *testing.T) {
	got := ParseTargets([]string{"booking-service=booking:9083", "crm:9085", " "})
	if len(got) != 2 || got[0].Service != "booking-service" || got[0].Addr != "booking:9083" || got[1].Service != "" {
		t.Fatalf("unexpected targets %+v", got)
	}
}

func TestDownstreamCheck(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	health := grpcx.NewHealthServer(slog.New(slog.NewTextHandler(io.Discard, nil)), "booking-service")
	go func() { _ = health.ServeListener(ctx, lis) }()

	addr := lis.Addr().String()
	ok, err := NewDownstream([]Target{{Service: "booking-service", Addr: addr}, {Addr: addr}})
	if err != nil {
		t.Fatal(err)
	}
	defer ok.Close()
	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()
	if err := ok.Check(checkCtx); err != nil {
		t.Fatalf("expected healthy downstream, got %v", err)
	}

	missing, err := NewDownstream([]Target{{Service: "payroll-service", Addr: addr}})
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Close()
	if err := missing.Check(checkCtx); err == nil {
		t.Fatal("expected an error for an unknown service")
	}
}
