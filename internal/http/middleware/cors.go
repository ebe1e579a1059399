package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const corsMaxAge = 10 * 60

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	corsHeaders = strings.Join([]string{"Accept", "Authorization", "Content-Type", RequestIDHeader}, ", ")
)

// CORSConfig separates the landing-page surface from the operator surface.
// PublicPaths answer any origin; every other path answers only the listed
// AllowedOrigins ("*" opens them too).
type CORSConfig struct {
	AllowedOrigins []string
	PublicPaths    []string
	MaxAgeSeconds  int
}

type corsPolicy struct {
	origins     map[string]struct{}
	anyOrigin   bool
	publicPaths map[string]struct{}
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	policy := corsPolicy{
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		publicPaths: make(map[string]struct{}, len(cfg.PublicPaths)),
		maxAge:      strconv.Itoa(corsMaxAge),
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.ToLower(strings.TrimSpace(origin))
		switch origin {
		case "":
		case "*":
			policy.anyOrigin = true
		default:
			policy.origins[origin] = struct{}{}
		}
	}
	for _, path := range cfg.PublicPaths {
		if path = strings.TrimSpace(path); path != "" {
			policy.publicPaths[path] = struct{}{}
		}
	}
	if cfg.MaxAgeSeconds > 0 {
		policy.maxAge = strconv.Itoa(cfg.MaxAgeSeconds)
	}
	return policy
}

// allowOrigin returns the Access-Control-Allow-Origin value for the request,
// or false when the origin gets no CORS headers.
func (p corsPolicy) allowOrigin(path, origin string) (string, bool) {
	if _, public := p.publicPaths[path]; public || p.anyOrigin {
		return "*", true
	}
	if _, ok := p.origins[strings.ToLower(origin)]; ok {
		return origin, true
	}
	return "", false
}

func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed, ok := policy.allowOrigin(r.URL.Path, origin)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			header.Set("Access-Control-Allow-Origin", allowed)
			header.Set("Access-Control-Expose-Headers", RequestIDHeader)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				header.Set("Access-Control-Allow-Methods", corsMethods)
				header.Set("Access-Control-Allow-Headers", corsHeaders)
				header.Set("Access-Control-Max-Age", policy.maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
