package credential

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user, role or token does not exist.
	ErrNotFound = errors.New("credential: not found")
	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("credential: duplicate")
	// ErrTokenRevoked is returned when a refresh token was already revoked,
	// including when a concurrent rotation revoked it first.
	ErrTokenRevoked = errors.New("credential: refresh token revoked")
	// ErrTokenExpired is returned when a refresh token is past its expiry.
	ErrTokenExpired = errors.New("credential: refresh token expired")
	// ErrUnavailable wraps any other backend failure.
	ErrUnavailable = errors.New("credential: store unavailable")
)

// Store is the durable credential backend. Implementations must run
// RotateRefreshToken in a single transaction.
type Store interface {
	CreateUser(ctx context.Context, user *User, roles []string) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	MarkEmailVerified(ctx context.Context, userID string) error
	SetActive(ctx context.Context, userID string, active bool) error
	SoftDelete(ctx context.Context, userID string) error

	EnsureRoles(ctx context.Context, names ...string) error
	AssignRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
	ListRoles(ctx context.Context, userID string) ([]string, error)

	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// RotateRefreshToken revokes the token identified by tokenHash and
	// inserts next, atomically. It returns the consumed row. When the token
	// is revoked or expired the row is returned alongside the error so the
	// caller can act on its owner.
	RotateRefreshToken(ctx context.Context, tokenHash string, next *RefreshToken, now time.Time) (*RefreshToken, error)
	// RevokeRefreshToken marks one token revoked. It reports whether this
	// call performed the transition.
	RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, bool, error)
	RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
	CountActiveRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
}
