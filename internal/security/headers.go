package security

import (
	"net/http"
	"strconv"
)

// Headers sets hardening headers on every terminal API response.
type Headers struct {
	HSTSMaxAge int
	NoStore    bool
}

// Middleware attaches the headers to each response.
func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if h.NoStore {
			headers.Set("Cache-Control", "no-store")
		}
		if r.TLS != nil && h.HSTSMaxAge > 0 {
			headers.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(h.HSTSMaxAge))
		}
		next.ServeHTTP(w, r)
	})
}
