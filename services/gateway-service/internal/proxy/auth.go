package proxy

import (
	"net/http"
	"strings"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/modernmen/shopfront/libs/auth"
	"github.com/modernmen/shopfront/libs/httpx"
)

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token. On success the
// identity headers are replaced with the token's claims.
func RequireAuth(next http.Handler, verifier TokenVerifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httpx.WriteError(w, r, apperr.Unauthorized("missing or invalid Authorization header"))
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			httpx.WriteError(w, r, apperr.Unauthorized("invalid token"))
			return
		}
		setIdentity(r, claims)
		next.ServeHTTP(w, r)
	})
}

// OptionalAuth serves public routes. A bearer token, when present, must be
// valid and sets the identity. Without one the caller-supplied user and role
// headers are dropped, while X-Tenant-Id is kept for tenant resolution.
func OptionalAuth(next http.Handler, verifier TokenVerifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			r.Header.Del(httpx.HeaderUserID)
			r.Header.Del(httpx.HeaderRole)
			next.ServeHTTP(w, r)
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			httpx.WriteError(w, r, apperr.Unauthorized("invalid token"))
			return
		}
		setIdentity(r, claims)
		next.ServeHTTP(w, r)
	})
}

func RequireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(httpx.HeaderRole)]; !ok {
			httpx.WriteError(w, r, apperr.Forbidden("insufficient permissions"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func setIdentity(r *http.Request, claims *auth.Claims) {
	r.Header.Set(httpx.HeaderUserID, claims.UserID())
	r.Header.Set(httpx.HeaderTenantID, claims.TenantID)
	r.Header.Set(httpx.HeaderRole, claims.Role)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
