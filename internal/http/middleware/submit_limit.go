package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-callback-backend/internal/ratelimit"
)

const (
	// CodeRateLimited is the error code of a rate-limited response.
	CodeRateLimited = "RATE_LIMIT_EXCEEDED"
	// MsgRateLimited is the message of a rate-limited response.
	MsgRateLimited = "Слишком много запросов. Попробуйте позже."
)

// WindowLimiter is satisfied by *ratelimit.Limiter.
type WindowLimiter interface {
	Enabled() bool
	Allow(ctx context.Context, key string, now time.Time) (ratelimit.Decision, error)
}

// SubmitLimit caps POST requests to path per client identity. Other methods
// and paths pass untouched. A store failure lets the request through.
func SubmitLimit(lim WindowLimiter, path string, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		if lim == nil || !lim.Enabled() ||
			c.Request.Method != http.MethodPost || c.Request.URL.Path != path {
			c.Next()
			return
		}

		d, err := lim.Allow(c.Request.Context(), ClientIdentity(c.Request), now())
		if err != nil {
			LoggerFrom(c).Error().Err(err).Msg("rate limit store failed")
			c.Next()
			return
		}
		if d.Allowed {
			c.Next()
			return
		}

		observeRateLimitRejection("submit")
		if secs := ratelimit.RetryAfterSeconds(d.RetryAfter); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
		abortJSON(c, http.StatusTooManyRequests, CodeRateLimited, MsgRateLimited)
	}
}
