package goLogin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/events"
	"github.com/MrEthical07/goLogin/internal/tokens"
)

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed; exactly one of any number of concurrent callers succeeds.
//
// Presenting a token that was already used returns ErrTokenRevoked and
// revokes every other live refresh token of its owner.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrValidation)
	}

	ip := clientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)

	sctx, cancel := e.storeCtx(ctx)
	rotation, err := e.tokens.Rotate(sctx, refreshToken, ip, ua)
	cancel()

	if rotation != nil && rotation.UserID != "" {
		ev := events.RefreshTokenUsed{
			UserID:        rotation.UserID,
			TokenID:       rotation.TokenID,
			IP:            ip,
			UserAgent:     ua,
			Success:       err == nil,
			ReuseDetected: rotation.ReuseDetected,
			RevokedCount:  rotation.RevokedCount,
		}
		if err != nil {
			ev.Reason = refreshReason(err)
		}
		e.emit(ctx, ev)
	}

	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, e.refreshError(err, rotation)
	}

	e.metricInc(MetricRefreshSuccess)
	return &TokenPair{
		AccessToken:      rotation.Pair.AccessToken,
		AccessExpiresAt:  rotation.Pair.AccessExpiresAt,
		RefreshToken:     rotation.Pair.RefreshToken,
		RefreshExpiresAt: rotation.Pair.RefreshExpiresAt,
	}, nil
}

func (e *Engine) refreshError(err error, rotation *tokens.Rotation) error {
	switch {
	case errors.Is(err, tokens.ErrNotFound):
		return ErrTokenNotFound
	case errors.Is(err, tokens.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, tokens.ErrRevoked):
		e.metricInc(MetricRefreshReuseDetected)
		return ErrTokenRevoked
	case errors.Is(err, tokens.ErrUserInactive):
		return ErrAuthenticationDenied
	default:
		fields := []zap.Field{zap.Error(err)}
		if rotation != nil {
			fields = append(fields, zap.String("user_id", rotation.UserID))
		}
		e.logger.Error("refresh: rotation failed", fields...)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func refreshReason(err error) string {
	switch {
	case errors.Is(err, tokens.ErrNotFound):
		return "not_found"
	case errors.Is(err, tokens.ErrExpired):
		return "expired"
	case errors.Is(err, tokens.ErrRevoked):
		return "revoked"
	case errors.Is(err, tokens.ErrUserInactive):
		return "inactive"
	default:
		return "store_unavailable"
	}
}

// ValidateAccess verifies an access token's signature, issuer, audience and
// expiry. It never touches a store.
func (e *Engine) ValidateAccess(token string) (*AccessClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	claims, err := e.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, tokens.ErrAccessExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	out := &AccessClaims{
		UserID:  claims.UID,
		Roles:   claims.Roles,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
