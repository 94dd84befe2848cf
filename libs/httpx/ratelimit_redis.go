package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window limiter shared by every gateway replica.
// Buckets are per tenant and client address, so one busy shop front cannot
// exhaust the quota of a client booking at another shop.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
	logger *slog.Logger
}

// Returns {count, ttl_ms} for the current window.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func NewRedisRateLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	rl := &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
	if rl.limit <= 0 {
		rl.limit = 60
	}
	if rl.window < time.Millisecond {
		rl.window = time.Minute
	}
	if rl.prefix == "" {
		rl.prefix = "rl"
	}
	return rl
}

// Middleware rejects requests over the limit with 429. When Redis is
// unreachable it lets traffic through if failOpen is set and answers 500
// otherwise.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	rl.logger = logger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, ttl, err := rl.hit(r.Context(), rl.key(r, time.Now()))
			if err != nil {
				if rl.logger != nil {
					rl.logger.Warn("rate limiter unavailable", "err", err, "fail_open", failOpen)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, r, apperr.New(apperr.ErrInternal, "rate limiter unavailable"))
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(rl.limit)-count, 0), 10))
			if count > int64(rl.limit) {
				h.Set("Retry-After", strconv.Itoa(int((ttl+time.Second-1)/time.Second)))
				WriteError(w, r, apperr.New(apperr.ErrRateLimited, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) key(r *http.Request, now time.Time) string {
	tenant := r.Header.Get(HeaderTenantID)
	if tenant == "" {
		tenant = r.URL.Query().Get("tenant_id")
	}
	if tenant == "" {
		tenant = "-"
	}
	bucket := now.UnixMilli() / rl.window.Milliseconds()
	return fmt.Sprintf("%s:%s:%s:%d", rl.prefix, tenant, clientKey(r), bucket)
}

func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	vals, err := fixedWindow.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned %d values", len(vals))
	}
	ttl := time.Duration(vals[1]) * time.Millisecond
	if ttl < 0 {
		ttl = rl.window
	}
	return vals[0], ttl, nil
}
