package middleware

import (
	"net/http"
	"strings"
)

// exposedHeaders are readable by browser clients: the replay marker, the retry
// hint on 429s and the request id for support tickets.
const exposedHeaders = "Idempotent-Replayed, Retry-After, X-Request-ID"

// CORS answers preflights and decorates responses for the listed origins.
// Credentials are never allowed.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allow[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, ok := allow[origin]
			if origin != "" {
				w.Header().Add("Vary", "Origin")
				if ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Expose-Headers", exposedHeaders)
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if !ok {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
				}
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
