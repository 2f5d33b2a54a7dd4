package goLogin

import (
	"errors"
	"time"
)

var (
	// ErrValidation marks malformed input or configuration.
	ErrValidation = errors.New("invalid request")
	// ErrAuthenticationDenied is the only error a failed login returns. Its
	// message never says why.
	ErrAuthenticationDenied = errors.New("authentication denied")
	ErrTokenExpired         = errors.New("token expired")
	// ErrTokenRevoked is returned when a revoked refresh token is presented.
	// Every other live refresh token of the owner has been revoked as well.
	ErrTokenRevoked     = errors.New("token revoked")
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenInvalid     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrAccountExists    = errors.New("account already exists")
	ErrChallengeInvalid = errors.New("challenge invalid or expired")
	// ErrUserNotFound is only returned by administrative operations.
	ErrUserNotFound   = errors.New("user not found")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// deniedError is a rate-limited denial. It reads and matches exactly like
// ErrAuthenticationDenied and additionally carries a retry hint.
type deniedError struct {
	retryAfter time.Duration
}

func (e *deniedError) Error() string { return ErrAuthenticationDenied.Error() }

func (e *deniedError) Is(target error) bool { return target == ErrAuthenticationDenied }

// RetryAfter returns the wait hint attached to a rate-limited denial.
func RetryAfter(err error) (time.Duration, bool) {
	var d *deniedError
	if errors.As(err, &d) && d.retryAfter > 0 {
		return d.retryAfter, true
	}
	return 0, false
}

func denied(retryAfter time.Duration) error {
	if retryAfter <= 0 {
		return ErrAuthenticationDenied
	}
	return &deniedError{retryAfter: retryAfter}
}
