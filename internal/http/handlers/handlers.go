// Package handlers exposes the callback gateway endpoints:
//   - POST /api/send   (submission gate)
//   - GET  /api/csrf   (CSRF token for the current session)
//   - GET  /health     (liveness)
//
// Handlers are transport-thin: they read the form, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"

	"github.com/tbourn/go-callback-backend/internal/services"
)

// SubmissionService runs the server-side gate for one submission.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SubmissionService interface {
	Submit(ctx context.Context, in services.Submission) (*services.Outcome, error)
}

// Handlers groups the HTTP endpoints of the gateway.
type Handlers struct {
	subSvc SubmissionService
}

// New constructs and returns a Handlers instance bound to the given service.
func New(sub SubmissionService) *Handlers {
	return &Handlers{subSvc: sub}
}
