package middleware

import (
	"net/http"
	"strings"
)

// directive is one Content-Security-Policy entry
type directive struct {
	name    string
	sources []string
}

func buildCSP(directives ...directive) string {
	parts := make([]string, 0, len(directives))
	for _, d := range directives {
		parts = append(parts, d.name+" "+strings.Join(d.sources, " "))
	}
	return strings.Join(parts, "; ")
}

// SecurityHeaders sets a fixed header set on every response
type SecurityHeaders struct {
	headers http.Header
}

func newSecurityHeaders(isDevelopment bool, csp string) *SecurityHeaders {
	h := http.Header{}
	h.Set("Content-Security-Policy", csp)
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Permitted-Cross-Domain-Policies", "none")
	// The return page URL carries the order number
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=(), usb=()")
	h.Set("Cache-Control", "no-store")
	if !isDevelopment {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
	return &SecurityHeaders{headers: h}
}

// NewSecurityHeaders is the JSON API variant: nothing may load or be framed
func NewSecurityHeaders(isDevelopment bool) *SecurityHeaders {
	self := "'none'"
	if isDevelopment {
		self = "'self'"
	}
	return newSecurityHeaders(isDevelopment, buildCSP(
		directive{"default-src", []string{self}},
		directive{"frame-ancestors", []string{"'none'"}},
		directive{"base-uri", []string{self}},
		directive{"form-action", []string{self}},
	))
}

// NewPageSecurityHeaders is the variant for rendered pages. Processor
// documents carry inline scripts and auto-submitting forms, so the hosted
// window lists the processor origins it may frame and post to. Without
// origins, forms post back to this origin only.
func NewPageSecurityHeaders(isDevelopment bool, processorOrigins ...string) *SecurityHeaders {
	targets := append([]string{"'self'"}, processorOrigins...)
	return newSecurityHeaders(isDevelopment, buildCSP(
		directive{"default-src", []string{"'self'"}},
		directive{"script-src", []string{"'self'", "'unsafe-inline'"}},
		directive{"style-src", []string{"'self'", "'unsafe-inline'"}},
		directive{"img-src", []string{"'self'", "data:", "https:"}},
		directive{"frame-src", targets},
		directive{"frame-ancestors", []string{"'none'"}},
		directive{"base-uri", []string{"'none'"}},
		directive{"form-action", targets},
	))
}

// Middleware wraps next with the header set
func (sh *SecurityHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dst := w.Header()
		for k, v := range sh.headers {
			dst[k] = append([]string(nil), v...)
		}
		next.ServeHTTP(w, r)
	})
}
