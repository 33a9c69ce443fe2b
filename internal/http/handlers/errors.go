// Package handlers defines HTTP-layer error codes used by the infrastructure
// endpoints.
//
// The submission gate answers with its own upper-case codes (CSRF_INVALID,
// VALIDATION_ERROR, RATE_LIMIT_EXCEEDED); the codes below cover everything
// around it: unknown routes, a missing session, and unexpected failures.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//   {
//     "success": false,
//     "code": "internal_error",
//     "message": "internal server error",
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6"
//   }

package handlers

import "github.com/tbourn/go-callback-backend/internal/http/middleware"

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = middleware.CodeInternal

	// Domain-specific:
	ErrCodeNoSession    = "session_required"
	ErrCodeSubmitFailed = "submit_failed"
)
