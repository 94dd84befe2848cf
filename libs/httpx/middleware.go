package httpx

import (
	"net/http"
	"time"

	"github.com/modernmen/shopfront/libs/apperr"
)

type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, m ...Middleware) http.Handler {
	// Apply in reverse so Chain(h, a, b) becomes a(b(h)).
	for i := len(m) - 1; i >= 0; i-- {
		if m[i] == nil {
			continue
		}
		h = m[i](h)
	}
	return h
}

func WithBodyLimit(limitBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limitBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

const timeoutBody = `{"success":false,"error":{"message":"request timed out","code":"TIMEOUT","statusCode":503}}`

// WithTimeout bounds handler execution. The handler's context is cancelled at the deadline.
func WithTimeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		h := http.TimeoutHandler(next, d, timeoutBody)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			h.ServeHTTP(w, r)
		})
	}
}

var errPanic = apperr.New(apperr.ErrInternal, "internal server error")

// WithRecover converts panics into a 500 envelope.
func WithRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				WriteError(w, r, errPanic)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
