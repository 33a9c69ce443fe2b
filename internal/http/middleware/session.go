// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file binds each request to a visitor session through a cookie. The
// session carries the CSRF secret checked on submission and scopes the
// idempotency records, so it must run before any handler that needs either.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-callback-backend/internal/domain"
)

// DefaultSessionCookie is the cookie carrying the session ID.
const DefaultSessionCookie = "sid"

const ctxKeySession = "session"

// SessionResolver loads or creates the session named by id.
type SessionResolver interface {
	Resolve(ctx context.Context, id string) (*domain.Session, bool, error)
}

// SessionOptions configures Sessions.
type SessionOptions struct {
	// CookieName defaults to DefaultSessionCookie.
	CookieName string
	// TTL is the cookie lifetime; zero makes it a browser-session cookie.
	TTL time.Duration
	// Secure forces the Secure attribute; otherwise it is set for HTTPS
	// requests only.
	Secure bool
}

// Sessions resolves the visitor session and stores it in the context. A new
// session cookie is issued when the old one is missing or expired. The cookie
// is HttpOnly and SameSite=Lax.
func Sessions(resolver SessionResolver, opts SessionOptions) gin.HandlerFunc {
	name := opts.CookieName
	if name == "" {
		name = DefaultSessionCookie
	}
	maxAge := int(opts.TTL / time.Second)

	return func(c *gin.Context) {
		id, _ := c.Cookie(name)
		sess, created, err := resolver.Resolve(c.Request.Context(), id)
		if err != nil {
			LoggerFrom(c).Error().Err(err).Msg("session resolve failed")
			abortJSON(c, http.StatusInternalServerError, CodeInternal, "internal server error")
			return
		}
		if created {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(name, sess.ID, maxAge, "/", "", opts.Secure || isHTTPS(c.Request), true)
		}
		c.Set(ctxKeySession, sess)
		c.Next()
	}
}

// SessionFrom returns the session attached by Sessions, or nil.
func SessionFrom(c *gin.Context) *domain.Session {
	v, ok := c.Get(ctxKeySession)
	if !ok {
		return nil
	}
	s, _ := v.(*domain.Session)
	return s
}
