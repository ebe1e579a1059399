package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth requires the bearer token on paths under any of the protected
// prefixes. An empty token disables the check.
func AdminAuth(requiredToken string, protected ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredToken == "" || !hasProtectedPrefix(r.URL.Path, protected) {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				writeUnauthorized(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(requiredToken)) != 1 {
				writeUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasProtectedPrefix(path string, protected []string) bool {
	for _, prefix := range protected {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	writeMiddlewareError(w, r, http.StatusUnauthorized, "unauthorized", "admin token required")
}
