package httpx

import (
	"net/http"
	"strings"

	"github.com/modernmen/shopfront/libs/apperr"
)

// Headers set by the gateway after JWT verification. Services trust them only
// behind the gateway.
const (
	HeaderUserID   = "X-User-Id"
	HeaderTenantID = "X-Tenant-Id"
	HeaderRole     = "X-Role"
)

type Identity struct {
	UserID   string
	TenantID string
	Role     string
}

func IdentityFromRequest(r *http.Request) Identity {
	return Identity{
		UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		Role:     strings.TrimSpace(r.Header.Get(HeaderRole)),
	}
}

func (i Identity) HasRole(roles ...string) bool {
	for _, role := range roles {
		if i.Role == role {
			return true
		}
	}
	return false
}

// RequireIdentity returns the caller identity, or an unauthorized error when
// the gateway did not attach one.
func RequireIdentity(r *http.Request) (Identity, error) {
	id := IdentityFromRequest(r)
	if id.UserID == "" || id.TenantID == "" {
		return Identity{}, apperr.Unauthorized("authentication required")
	}
	return id, nil
}

// RequireRole is RequireIdentity plus a role allow-list.
func RequireRole(r *http.Request, roles ...string) (Identity, error) {
	id, err := RequireIdentity(r)
	if err != nil {
		return Identity{}, err
	}
	if !id.HasRole(roles...) {
		return Identity{}, apperr.Forbidden("insufficient permissions")
	}
	return id, nil
}

// TenantFromRequest resolves the tenant for public routes: header first, then
// the tenant_id query parameter.
func TenantFromRequest(r *http.Request) (string, error) {
	if v := strings.TrimSpace(r.Header.Get(HeaderTenantID)); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(r.URL.Query().Get("tenant_id")); v != "" {
		return v, nil
	}
	return "", apperr.Validation("tenant_id is required")
}
