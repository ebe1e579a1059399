package middleware

import (
	"context"
	"net/http"
	"time"
)

// Deadline bounds the request context on paths under any of the prefixes.
// Handlers observe the expiry through their context and still write their own
// error envelope, so the server write timeout must exceed timeout.
func Deadline(timeout time.Duration, paths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasProtectedPrefix(r.URL.Path, paths) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
