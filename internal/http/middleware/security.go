// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// SecurityHeaders hardens every response of the gateway. The JSON endpoints
// get the API baseline; the CSP and frame policy protect the pages that embed
// the callback form and are forwarded through this service.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultHSTSMaxAge   = 180 * 24 * time.Hour
	defaultFrameOptions = "DENY"
	exposeHeaders       = "Access-Control-Expose-Headers"
)

// SecurityOptions configures SecurityHeaders.
//
// HSTS is sent only when EnableHSTS is set and the request arrived over HTTPS
// (directly or per X-Forwarded-Proto). An empty CSP omits the header.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration // default 180 days
	NoStore      bool          // Cache-Control: no-store plus legacy Pragma/Expires
	EnablePolicy bool          // Permissions-Policy and X-Permitted-Cross-Domain-Policies
	CSP          string
	FrameOptions string // default DENY
}

// SecurityHeaders returns the hardening middleware. It also makes
// X-Request-ID (when set upstream) and Retry-After readable by browser
// clients so the form can show the correlation id and the back-off time.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge/time.Second)) + "; includeSubDomains; preload"
	frame := opt.FrameOptions
	if frame == "" {
		frame = defaultFrameOptions
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", frame)
		h.Set("Referrer-Policy", "no-referrer")
		if opt.CSP != "" {
			h.Set("Content-Security-Policy", opt.CSP)
		}
		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if h.Get(HeaderRequestID) != "" {
			exposeHeader(h, HeaderRequestID)
		}
		exposeHeader(h, "Retry-After")

		c.Next()
	}
}

// exposeHeader adds name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	cur := h.Get(exposeHeaders)
	if cur == "" {
		h.Set(exposeHeaders, name)
		return
	}
	for _, v := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return
		}
	}
	h.Set(exposeHeaders, cur+", "+name)
}

// isHTTPS reports whether r arrived over TLS, directly or behind a proxy
// that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
