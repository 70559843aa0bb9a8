package ratelimit

import (
	"net/http"
	"strconv"
)

// KeyFunc names the bucket for a request. An empty key is not limited.
type KeyFunc func(r *http.Request) string

// Middleware rejects requests over their key's budget with 429, a
// Retry-After header and a JSON error body. Allowed responses carry
// X-RateLimit-Remaining.
func Middleware(l *Limiter, key KeyFunc, isAdmin func(r *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			d := l.Take(k, isAdmin(r))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests","code":"rate_limited"}`))
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}
