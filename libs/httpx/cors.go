package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	defaultCORSMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Authorization", "Content-Type", RequestIDHeader, "Idempotency-Key", HeaderTenantID}
)

// CORSPolicy lists the origins allowed to call the API from a browser. An
// origin entry may be "*" or carry a leading subdomain wildcard such as
// "https://*.modernmen.example", which is how shop booking widgets embedded
// on tenant sites are admitted.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type originRule struct {
	exact  string
	scheme string
	suffix string
	any    bool
}

func (o originRule) match(origin string) bool {
	switch {
	case o.any:
		return true
	case o.exact != "":
		return strings.EqualFold(o.exact, origin)
	}
	origin = strings.ToLower(origin)
	host, ok := strings.CutPrefix(origin, o.scheme)
	return ok && strings.HasSuffix(host, o.suffix) && len(host) > len(o.suffix)
}

func parseOrigins(values []string) []originRule {
	var rules []originRule
	for _, v := range values {
		v = strings.TrimSpace(v)
		switch {
		case v == "":
		case v == "*":
			rules = append(rules, originRule{any: true})
		case strings.Contains(v, "://*."):
			scheme, host, _ := strings.Cut(strings.ToLower(v), "*")
			rules = append(rules, originRule{scheme: scheme, suffix: host})
		default:
			rules = append(rules, originRule{exact: v})
		}
	}
	return rules
}

// WithCORS answers preflight requests and decorates responses for allowed
// origins. With no AllowedOrigins it is a pass-through.
func WithCORS(cfg CORSPolicy) Middleware {
	rules := parseOrigins(cfg.AllowedOrigins)
	if len(rules) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(headers, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := ""
			for _, rule := range rules {
				if origin != "" && rule.match(origin) {
					allowed = origin
					if rule.any && !cfg.AllowCredentials {
						allowed = "*"
					}
					break
				}
			}
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
