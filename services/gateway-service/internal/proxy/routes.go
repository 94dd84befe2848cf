// Package proxy routes gateway traffic to the backend services.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/modernmen/shopfront/libs/auth"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Upstreams are the base URLs of the backend services.
type Upstreams struct {
	Auth      string
	Business  string
	Booking   string
	Staff     string
	CRM       string
	Analytics string
}

type access int

const (
	public access = iota
	protected
)

type route struct {
	prefix   string
	upstream string
	access   access
	roles    []string
}

func (u Upstreams) routes() []route {
	return []route{
		{prefix: "/.well-known/jwks.json", upstream: u.Auth, access: public},
		{prefix: "/api/v1/auth", upstream: u.Auth, access: public},
		{prefix: "/api/v1/public/availability", upstream: u.Booking, access: public},
		{prefix: "/api/v1/public/book", upstream: u.Booking, access: public},
		{prefix: "/api/v1/public/settings", upstream: u.Business, access: public},
		{prefix: "/api/v1/public/services", upstream: u.Business, access: public},
		{prefix: "/api/v1/public/stylists", upstream: u.Staff, access: public},
		{prefix: "/api/v1/public/coupons", upstream: u.CRM, access: public},
		{prefix: "/api/v1/public/chatbot", upstream: u.CRM, access: public},
		{prefix: "/api/v1/business", upstream: u.Business, access: protected},
		{prefix: "/api/v1/appointments", upstream: u.Booking, access: protected},
		{prefix: "/api/v1/calendar", upstream: u.Booking, access: protected},
		{prefix: "/api/v1/staff", upstream: u.Staff, access: protected},
		{prefix: "/api/v1/crm", upstream: u.CRM, access: protected},
		{prefix: "/api/v1/analytics", upstream: u.Analytics, access: protected, roles: []string{auth.RoleAdmin, auth.RoleManager}},
	}
}

// Register mounts one reverse proxy per route prefix. Upstream proxies share
// a traced transport.
func Register(mux *http.ServeMux, upstreams Upstreams, verifier TokenVerifier) error {
	transport := otelhttp.NewTransport(http.DefaultTransport)
	proxies := map[string]*httputil.ReverseProxy{}

	for _, rt := range upstreams.routes() {
		p, ok := proxies[rt.upstream]
		if !ok {
			target, err := url.Parse(rt.upstream)
			if err != nil || target.Host == "" {
				return fmt.Errorf("invalid upstream %q for %s", rt.upstream, rt.prefix)
			}
			p = httputil.NewSingleHostReverseProxy(target)
			p.Transport = transport
			proxies[rt.upstream] = p
		}

		var h http.Handler = p
		if len(rt.roles) > 0 {
			h = RequireRole(h, rt.roles...)
		}
		if rt.access == protected {
			h = RequireAuth(h, verifier)
		} else {
			h = OptionalAuth(h, verifier)
		}
		registerPrefix(mux, rt.prefix, h)
	}
	return nil
}

func registerPrefix(mux *http.ServeMux, prefix string, handler http.Handler) {
	mux.Handle(prefix, handler)
	if !strings.HasSuffix(prefix, "/") && !strings.Contains(prefix, ".") {
		mux.Handle(prefix+"/", handler)
	}
}
