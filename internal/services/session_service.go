// Package services – SessionService
//
// SessionService owns visitor sessions: it resolves the session named by the
// cookie, replaces missing or expired ones, and issues the per-session CSRF
// secret.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-callback-backend/internal/domain"
	"github.com/tbourn/go-callback-backend/internal/repo"
)

// DefaultSessionTTL is used when SessionService.TTL is unset.
const DefaultSessionTTL = 24 * time.Hour

// csrfTokenBytes is the entropy of a CSRF secret before hex encoding.
const csrfTokenBytes = 32

// randRead is a seam for tests.
var randRead = rand.Read

// SessionService resolves and creates sessions.
type SessionService struct {
	DB  *gorm.DB
	TTL time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Resolve returns the live session named id, creating a fresh one when id is
// empty, unknown, or expired. created reports whether a new session was made.
func (s *SessionService) Resolve(ctx context.Context, id string) (sess *domain.Session, created bool, err error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Resolve")
	defer span.End()

	now := s.now()
	if id != "" {
		sess, err = repo.GetSession(ctx, s.DB, id, now)
		if err == nil {
			span.SetAttributes(attribute.Bool("session.created", false))
			return sess, false, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, err
		}
	}

	token, err := NewCSRFToken()
	if err != nil {
		return nil, false, err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	sess = &domain.Session{
		ID:        uuid.NewString(),
		CSRFToken: token,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := repo.CreateSession(ctx, s.DB, sess); err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("session.created", true))
	span.AddEvent("session.issued", trace.WithAttributes(attribute.String("session.id", sess.ID)))
	return sess, true, nil
}

// Cleanup removes expired sessions.
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	return repo.DeleteExpiredSessions(ctx, s.DB, s.now())
}

// NewCSRFToken returns 32 random bytes, hex-encoded.
func NewCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return hex.EncodeToString(b), nil
}
