// Package tokens issues access/refresh token pairs and enforces single-use
// refresh rotation with reuse detection.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goLogin/credential"
	"github.com/MrEthical07/goLogin/internal"
	"github.com/MrEthical07/goLogin/jwt"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("refresh token not found")
	ErrExpired       = errors.New("refresh token expired")
	ErrRevoked       = errors.New("refresh token revoked")
	ErrUserInactive  = errors.New("token owner cannot authenticate")
	ErrAccessExpired = errors.New("access token expired")
	ErrAccessInvalid = errors.New("access token invalid")
	ErrStore         = errors.New("credential store failure")
)

// Pair is the token material handed to a client.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RefreshID        string
}

// Rotation describes a Rotate call. UserID and TokenID are filled whenever
// the presented token could be matched, even on failure.
type Rotation struct {
	Pair          *Pair
	UserID        string
	TokenID       string
	ReuseDetected bool
	RevokedCount  int64
}

// Manager owns the token lifecycle.
type Manager struct {
	store      credential.Store
	jwt        *jwt.Manager
	refreshTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewManager wires a Manager. now may be nil.
func NewManager(store credential.Store, jm *jwt.Manager, refreshTTL time.Duration, now func() time.Time, logger *zap.Logger) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, jwt: jm, refreshTTL: refreshTTL, now: now, logger: logger}
}

func (m *Manager) newRefresh(userID, ip, ua string, now time.Time) (string, *credential.RefreshToken, error) {
	secret, err := internal.NewOpaqueToken()
	if err != nil {
		return "", nil, err
	}
	hash, err := internal.HashOpaqueToken(secret)
	if err != nil {
		return "", nil, err
	}
	return secret, &credential.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: now.Add(m.refreshTTL),
		CreatedAt: now,
		IP:        truncate(ip, 64),
		UserAgent: truncate(ua, 512),
	}, nil
}

func (m *Manager) pair(access string, accessExp time.Time, secret string, row *credential.RefreshToken) *Pair {
	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     secret,
		RefreshExpiresAt: row.ExpiresAt,
		RefreshID:        row.ID,
	}
}

// Issue creates a fresh pair. The refresh row is committed before Issue
// returns; no token is handed out otherwise.
func (m *Manager) Issue(ctx context.Context, userID string, roles []string, ip, ua string) (*Pair, error) {
	now := m.now()

	access, accessExp, err := m.jwt.CreateAccess(userID, roles)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	secret, row, err := m.newRefresh(userID, ip, ua, now)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := m.store.CreateRefreshToken(ctx, row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return m.pair(access, accessExp, secret, row), nil
}

// Rotate exchanges a presented refresh token for a new pair. Presenting a
// revoked token revokes every live token of its owner.
func (m *Manager) Rotate(ctx context.Context, presented, ip, ua string) (*Rotation, error) {
	result := &Rotation{}

	hash, err := internal.HashOpaqueToken(presented)
	if err != nil {
		return result, ErrNotFound
	}

	current, err := m.store.FindRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return result, ErrNotFound
		}
		return result, fmt.Errorf("%w: %v", ErrStore, err)
	}
	result.UserID, result.TokenID = current.UserID, current.ID

	if current.Revoked {
		return m.reuse(ctx, result)
	}

	user, err := m.store.GetUserByID(ctx, current.UserID)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if !user.CanAuthenticate() {
		n, err := m.store.RevokeAllRefreshTokens(ctx, user.ID, m.now())
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrStore, err)
		}
		result.RevokedCount = n
		return result, ErrUserInactive
	}
	roles, err := m.store.ListRoles(ctx, user.ID)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrStore, err)
	}

	now := m.now()
	secret, next, err := m.newRefresh(user.ID, ip, ua, now)
	if err != nil {
		return result, fmt.Errorf("generate refresh token: %w", err)
	}
	access, accessExp, err := m.jwt.CreateAccess(user.ID, roles)
	if err != nil {
		return result, fmt.Errorf("sign access token: %w", err)
	}

	// The store transaction re-checks state; the reads above only decide
	// whether an attempt is worth making.
	if _, err := m.store.RotateRefreshToken(ctx, hash, next, now); err != nil {
		switch {
		case errors.Is(err, credential.ErrTokenRevoked):
			return m.reuse(ctx, result)
		case errors.Is(err, credential.ErrTokenExpired):
			return result, ErrExpired
		case errors.Is(err, credential.ErrNotFound):
			return result, ErrNotFound
		default:
			return result, fmt.Errorf("%w: %v", ErrStore, err)
		}
	}

	result.Pair = m.pair(access, accessExp, secret, next)
	return result, nil
}

func (m *Manager) reuse(ctx context.Context, result *Rotation) (*Rotation, error) {
	result.ReuseDetected = true
	n, err := m.store.RevokeAllRefreshTokens(ctx, result.UserID, m.now())
	if err != nil {
		m.logger.Error("tokens: revoke-all after reuse failed",
			zap.String("user_id", result.UserID),
			zap.Error(err),
		)
		return result, fmt.Errorf("%w: %v", ErrStore, err)
	}
	result.RevokedCount = n
	m.logger.Warn("tokens: refresh token reuse detected",
		zap.String("user_id", result.UserID),
		zap.String("token_id", result.TokenID),
		zap.Int64("revoked", n),
	)
	return result, ErrRevoked
}

// Revoke marks the presented token revoked. changed reports whether this
// call flipped the row; unknown tokens return (nil, false, nil) so logout
// stays idempotent.
func (m *Manager) Revoke(ctx context.Context, presented string) (row *credential.RefreshToken, changed bool, err error) {
	hash, err := internal.HashOpaqueToken(presented)
	if err != nil {
		return nil, false, nil
	}
	row, changed, err = m.store.RevokeRefreshToken(ctx, hash, m.now())
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return row, changed, nil
}

// RevokeAll revokes every live refresh token of userID.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := m.store.RevokeAllRefreshTokens(ctx, userID, m.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return n, nil
}

// ActiveCount returns the number of live refresh tokens for userID.
func (m *Manager) ActiveCount(ctx context.Context, userID string) (int64, error) {
	n, err := m.store.CountActiveRefreshTokens(ctx, userID, m.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return n, nil
}

// Validate checks an access token without touching any store.
func (m *Manager) Validate(access string) (*jwt.AccessClaims, error) {
	claims, err := m.jwt.ParseAccess(access)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrAccessExpired
		}
		return nil, ErrAccessInvalid
	}
	return claims, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
