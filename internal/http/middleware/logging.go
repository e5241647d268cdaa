// Package middleware contains the Gin middleware shared by the HTTP layer:
// request ids, access logging with PII redaction, panic recovery, metrics,
// rate limiting, idempotency key validation and security headers.
//
// Recommended order: RequestID, RedactingLogger, Recovery. The access logger
// attaches a request-scoped zerolog.Logger that handlers read back with
// LoggerFrom, so every line a handler writes carries the request id.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	loggerKey       = "logger"
	requestIDHeader = "X-Request-ID"

	// maxRequestIDLen bounds caller-supplied ids so they stay log friendly.
	maxRequestIDLen = 128
)

// RequestID reuses the caller's X-Request-ID when it is short and made of
// safe characters, and mints a UUID otherwise. The id is echoed on the
// response and stored in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.', ch == ':':
		default:
			return false
		}
	}
	return true
}

// RequestIDFrom returns the id assigned by RequestID, falling back to the
// response header.
func RequestIDFrom(c *gin.Context) string {
	if v := c.GetString(requestIDKey); v != "" {
		return v
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// SetLogger stores l as the request-scoped logger.
func SetLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
}

// LoggerFrom returns the request-scoped logger, or a copy of the global
// logger tagged with the request id when none was attached.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Str("request_id", RequestIDFrom(c)).Logger()
	return &l
}

// Recovery turns a panic into a JSON 500 with the standard error envelope and
// logs the stack. When the handler already wrote a response only the status
// is forced.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}
