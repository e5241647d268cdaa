package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Header values sent on every API and socket response.
const (
	apiCSP            = "default-src 'none'; frame-ancestors 'none'"
	permissionsPolicy = "geolocation=(), microphone=(), camera=(), payment=()"
	privateCache      = "private, no-cache"
	defaultHSTSMaxAge = 180 * 24 * time.Hour
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests only.
	EnableHSTS bool
	// HSTSMaxAge defaults to 180 days when zero or negative.
	HSTSMaxAge time.Duration
	// PrivatePrefix marks responses under this path as private: shared caches
	// must not store them and clients revalidate with If-None-Match. Chats,
	// messages and OCR text all live there. Empty disables the header.
	PrivatePrefix string
}

// SecurityHeaders hardens JSON responses. The API never serves HTML, so the
// content security policy denies everything.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", apiCSP)
		h.Set("Permissions-Policy", permissionsPolicy)

		if opt.PrivatePrefix != "" && hasPathPrefix(c.Request.URL.Path, opt.PrivatePrefix) {
			h.Set("Cache-Control", privateCache)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

// hasPathPrefix matches whole path segments, so "/api/v1" covers
// "/api/v1/chats" but not "/api/v10".
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// isHTTPS reports whether the request arrived over TLS, directly or through a
// proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
