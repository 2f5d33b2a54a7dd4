// Package counter provides the ephemeral, TTL-bounded integer counters used for
// login admission control and account lockout.
//
// Every implementation must make IncrementWindow a single atomic step across
// all callers sharing the backend: the increment and the TTL assignment
// either both happen or neither does. The TTL is only set when the key has
// none, which gives fixed-window semantics: the window starts at the first
// increment and later hits never extend it.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the counter backend could not be reached or
// answered with an unexpected error.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the shared counter backend.
type Store interface {
	// IncrementWindow atomically adds one to key and, when the key carries
	// no TTL, sets window as its TTL. It returns the new value and the
	// remaining TTL. Missing keys start at zero.
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// Get returns the current value. Missing keys return (0, false, nil).
	Get(ctx context.Context, key string) (int64, bool, error)
	// TTL returns the remaining lifetime of key, or zero when the key is
	// missing or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
