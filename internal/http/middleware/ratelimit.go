// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RateLimiter is a process-local token bucket per client identity
// (golang.org/x/time/rate). It shields the routes around the form (CSRF
// issuing, health, docs) from bursts; the submission path itself is left to
// SubmitLimit and its shared window stores.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-callback-backend/internal/ratelimit"
	"github.com/tbourn/go-callback-backend/internal/sysutil"
)

const (
	// bucketIdleTTL is how long an unused bucket is kept.
	bucketIdleTTL = 10 * time.Minute
	// sweepEvery is the number of lookups between idle sweeps.
	sweepEvery = 5000
)

// keyFunc maps a request to its bucket identity.
type keyFunc func(*gin.Context) string

// ClientIdentity returns the first X-Forwarded-For entry, or the host part of
// the connection's remote address.
func ClientIdentity(r *http.Request) string {
	return sysutil.ClientAddr(r.Header.Get("X-Forwarded-For"), r.RemoteAddr)
}

// KeyByIP keys buckets by ClientIdentity, prefixed "ip:".
func KeyByIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + ClientIdentity(c.Request)
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per identity. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	skip  func(*gin.Context) bool
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	lookups int
	idleTTL time.Duration
}

// NewRateLimiter refills rps tokens per second up to burst (at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		idleTTL: bucketIdleTTL,
	}
}

// Skip exempts requests for which fn returns true.
func (rl *RateLimiter) Skip(fn func(*gin.Context) bool) *RateLimiter {
	rl.skip = fn
	return rl
}

// bucketFor returns the limiter of key, creating it on first use. Every
// sweepEvery lookups idle buckets are dropped first, the requested one
// included.
func (rl *RateLimiter) bucketFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.lookups++; rl.lookups >= sweepEvery {
		rl.lookups = 0
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Handler rejects a request with 429 when its bucket is empty. Retry-After
// is the time until the next token, rounded up to whole seconds.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.skip != nil && rl.skip(c) {
			c.Next()
			return
		}

		now := rl.now()
		res := rl.bucketFor(rl.keyFn(c), now).ReserveN(now, 1)
		if res.OK() && res.DelayFrom(now) == 0 {
			c.Next()
			return
		}

		wait := time.Second
		if res.OK() {
			wait = res.DelayFrom(now)
			res.CancelAt(now)
		}
		observeRateLimitRejection("global")
		c.Header("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(wait)))
		abortJSON(c, http.StatusTooManyRequests, CodeRateLimited, MsgRateLimited)
	}
}
