package policy

import "net/http"

const (
	contentSecurityPolicy = "default-src 'self'; script-src 'self'; style-src 'self'; " +
		"img-src 'self' data:; font-src 'self'; connect-src 'self'; object-src 'none'; " +
		"frame-ancestors 'self'; base-uri 'self'; form-action 'self'; upgrade-insecure-requests"
	strictTransportSecurity = "max-age=63072000; includeSubDomains; preload"
)

// SecureHeaders sets the security and cache-suppression headers on every
// response. HSTS is only sent in production, where TLS is terminated in
// front of the server.
func SecureHeaders(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", contentSecurityPolicy)
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")

			h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")

			if production {
				h.Set("Strict-Transport-Security", strictTransportSecurity)
			}

			h.Del("Server")
			h.Del("X-Powered-By")

			next.ServeHTTP(w, r)
		})
	}
}
