// Package services defines the business logic of the callback gateway:
// visitor sessions and the submission gate. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrSessionRequired is returned when a submission arrives without a
	// resolved session.
	ErrSessionRequired = errors.New("session required")

	// ErrTokenGeneration indicates the secure random source failed.
	ErrTokenGeneration = errors.New("token generation failed")
)
