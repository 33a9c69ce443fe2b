// Package ratelimit implements the fixed-start sliding window used to cap
// form submissions per client identity.
//
// A window opens on the first hit and counts every hit that arrives before
// it is window long; the first hit after that opens a new window. The hit
// that crosses the limit is rejected and still counted.
//
// Stores perform the read-modify-write of a window atomically, so the limit
// holds under concurrent requests for the same identity.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Window is the counter state for one identity.
type Window struct {
	Count int
	Start time.Time
}

// Store records a hit for key and returns the window after the hit.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Count   int
	// RetryAfter is the time left in the current window; zero when allowed.
	RetryAfter time.Duration
}

// ErrNoStore is returned by New when store is nil.
var ErrNoStore = errors.New("ratelimit: nil store")

// Limiter applies max hits per window using a Store.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
}

// New returns a Limiter. A max below 1 or a window shorter than a second
// yields a disabled limiter that allows everything.
func New(store Store, max int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	return &Limiter{store: store, max: max, window: window}, nil
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.max >= 1 && l.window >= time.Second
}

// Max returns the configured limit.
func (l *Limiter) Max() int { return l.max }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow records a hit for key at now.
func (l *Limiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	w, err := l.store.Hit(ctx, key, now, l.window)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: w.Count <= l.max, Count: w.Count}
	if !d.Allowed {
		if left := l.window - now.Sub(w.Start); left > 0 {
			d.RetryAfter = left
		}
	}
	return d, nil
}

// RetryAfterSeconds rounds d up to whole seconds.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// advance applies one hit to w.
func advance(w Window, exists bool, now time.Time, window time.Duration) Window {
	if exists && now.Sub(w.Start) < window {
		w.Count++
		return w
	}
	return Window{Count: 1, Start: now}
}
