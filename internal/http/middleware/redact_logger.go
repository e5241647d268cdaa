package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Redaction patterns. UUIDs go before phone numbers so the phone pattern never
// eats the digit groups of an id, and JIDs go before emails because
// "<digits>@s.whatsapp.net" also looks like an address.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	jidRE   = regexp.MustCompile(`(?i)\b[0-9-]+@(?:s\.whatsapp\.net|c\.us|g\.us)\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Redact scrubs WhatsApp chat ids, UUIDs, email addresses and phone numbers.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = jidRE.ReplaceAllString(s, "[REDACTED:jid]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are replaced with "[REDACTED]" on top of Authorization,
	// Cookie, Set-Cookie and X-Webhook-Secret. Case-insensitive.
	MaskHeaders []string
	// QuietPaths are logged at debug level when they succeed, e.g. health checks.
	QuietPaths []string
}

// RedactingLogger writes one access log line per request and attaches a
// request-scoped logger for handlers. Bodies are never logged. Query strings,
// header values and the raw path go through Redact, because chat ids and
// phone numbers travel in URLs.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization":    {},
		"cookie":           {},
		"set-cookie":       {},
		"x-webhook-secret": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}
	quiet := make(map[string]struct{}, len(opts.QuietPaths))
	for _, p := range opts.QuietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		l := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("route", route).
			Logger()
		SetLogger(c, &l)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = Redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = l.Warn()
		default:
			if _, ok := quiet[c.Request.URL.Path]; ok {
				ev = l.Debug()
			} else {
				ev = l.Info()
			}
		}
		ev.
			Str("path", Redact(c.Request.URL.Path)).
			Str("query", Redact(c.Request.URL.RawQuery)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
