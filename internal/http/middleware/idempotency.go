// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file extracts the idempotency key of a submission. The key is read
// from the Idempotency-Key header or, for form posts, from the
// idempotency_key field, and stashed in the request context for
// GetIdempotencyKey. Any non-blank key is accepted: keys that are too long or
// use characters outside the token alphabet are replaced by a digest, so the
// gate never answers a status of its own for them and the stored key stays
// bounded. Looking up and serving a stored outcome stays with the submission
// service, because the CSRF check must run before any replay is answered.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey is the request header carrying the idempotency key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// FormIdempotencyKey is the form field read when the header is absent.
	FormIdempotencyKey = "idempotency_key"

	// digestKeyPrefix marks keys replaced by their SHA-256 digest.
	digestKeyPrefix = "sha256:"

	defaultIdemMaxLen = 128
	ctxKeyIdemKey     = "idem.key"
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key stashed by IdempotencyKeys.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	key := c.GetString(ctxKeyIdemKey)
	return key, key != ""
}

// IdempotencyOptions bounds the keys stored verbatim. Zero values select a
// 128 byte cap and the token alphabet [A-Za-z0-9._~-:].
type IdempotencyOptions struct {
	MaxLen  int
	Pattern *regexp.Regexp
}

// normalize returns key unchanged when it fits the options, otherwise its
// digest.
func (o IdempotencyOptions) normalize(key string) string {
	maxLen, pat := o.MaxLen, o.Pattern
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	if pat == nil {
		pat = defaultIdemPattern
	}
	if len(key) <= maxLen && !strings.HasPrefix(key, digestKeyPrefix) && pat.MatchString(key) {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return digestKeyPrefix + hex.EncodeToString(sum[:])
}

// IdempotencyKeys stashes the normalized idempotency key of the request.
// Requests without a key pass through untouched.
func IdempotencyKeys(opts IdempotencyOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := readIdempotencyKey(c); key != "" {
			c.Set(ctxKeyIdemKey, opts.normalize(key))
		}
		c.Next()
	}
}

func readIdempotencyKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
		return key
	}
	return strings.TrimSpace(c.PostForm(FormIdempotencyKey))
}
