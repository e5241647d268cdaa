package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's key for a retriable send.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemMaxLen        = 200
	defaultIdemLookupTimeout = 2 * time.Second
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether the key was already used for a completed send in
// the same chat.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	MaxLen        int            // default 200
	Pattern       *regexp.Regexp // default ^[A-Za-z0-9._~:-]+$
	ScopeParam    string         // route param scoping keys, default "chatId"
	LookupTimeout time.Duration  // default 2s
}

// IdempotencyLookup reports whether a live send exists for (chatRef, key).
// chatRef is the raw route value: a provider chat id or an internal id.
type IdempotencyLookup func(ctx context.Context, chatRef, key string, now time.Time) (bool, error)

// IdempotencyValidator checks the Idempotency-Key header on unsafe methods.
// A malformed key is rejected with 400. A valid key is stored for the handler
// and, when lookup finds a live send for the chat, the request is marked as a
// replay so the rate limiter lets it through. Lookup failures are logged and
// the request continues as a fresh send; the handler's own check decides.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultIdemMaxLen
	}
	if opts.Pattern == nil {
		opts.Pattern = defaultIdemPattern
	}
	if opts.ScopeParam == "" {
		opts.ScopeParam = "chatId"
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaultIdemLookupTimeout
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > opts.MaxLen || !opts.Pattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		chatRef := c.Param(opts.ScopeParam)
		if lookup != nil && chatRef != "" {
			ctx, cancel := context.WithTimeout(c.Request.Context(), opts.LookupTimeout)
			found, err := lookup(ctx, chatRef, key, time.Now().UTC())
			cancel()
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case found:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
