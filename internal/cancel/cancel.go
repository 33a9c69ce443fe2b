// Package cancel composes independent cancellation sources into a single
// context. The first source to fire wins and its cause is preserved, so
// callers can tell a timeout apart from an explicit abort.
package cancel

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is the cancellation cause recorded when a WithTimeout deadline
// fires before the work completes.
var ErrTimeout = errors.New("cancel: timeout elapsed")

// Any returns a context derived from parent that is also cancelled as soon as
// any of the others is done. The returned CancelFunc releases every watcher
// and must be called on all exit paths.
//
// The cause of the first source to fire is carried over, so
// context.Cause(ctx) reports why the work was stopped.
func Any(parent context.Context, others ...context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	stops := make([]func() bool, 0, len(others))
	for _, o := range others {
		if o == nil {
			continue
		}
		stops = append(stops, context.AfterFunc(o, func() {
			cancel(context.Cause(o))
		}))
	}

	return ctx, func() {
		for _, stop := range stops {
			stop()
		}
		cancel(context.Canceled)
	}
}

// WithTimeout bounds parent by d. When the timer fires the context is
// cancelled with ErrTimeout as its cause. The CancelFunc stops the timer and
// must always be called. A non-positive d disables the timeout.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeoutCause(parent, d, ErrTimeout)
}

// IsTimeout reports whether ctx was stopped by a WithTimeout deadline rather
// than by the caller.
func IsTimeout(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrTimeout)
}
