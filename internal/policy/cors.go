// Package policy applies the response header policy every API response
// carries: the cross-origin allow-list and the security headers.
package policy

import (
	"net/http"
	"strings"

	"github.com/authgate/apiserver/internal/httpx"
)

var (
	allowedMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}, ", ")
	allowedHeaders = strings.Join([]string{"Content-Type", "Authorization", "X-CSRF-Token", "X-XSRF-Token"}, ", ")
)

const preflightMaxAge = "600"

// CORS admits cross-origin requests only from the exact origins given.
// Requests without an Origin header are same-origin or non-browser and pass
// untouched. Preflights from allowed origins end here with 204.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")

			if _, ok := allowed[origin]; !ok {
				httpx.Respond(w, httpx.Forbidden("origin not allowed"))
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Set("Access-Control-Max-Age", preflightMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
