package goLogin

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/events"
)

// Logout revokes one refresh token. Unknown and already revoked tokens are
// not errors.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if refreshToken == "" {
		return fmt.Errorf("%w: refresh token is required", ErrValidation)
	}

	sctx, cancel := e.storeCtx(ctx)
	row, changed, err := e.tokens.Revoke(sctx, refreshToken)
	cancel()
	if err != nil {
		e.logger.Error("logout: revoke failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if row == nil || !changed {
		return nil
	}

	e.metricInc(MetricLogout)
	e.emit(ctx, events.LoggedOut{
		UserID:       row.UserID,
		TokenID:      row.ID,
		IP:           clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
		RevokedCount: 1,
	})
	return nil
}

// LogoutAll revokes every live refresh token of userID and returns how many
// were revoked. Access tokens already issued stay valid until they expire.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	n, err := e.revokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emit(ctx, events.LoggedOut{
		UserID:       userID,
		IP:           clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
		All:          true,
		RevokedCount: n,
	})
	return n, nil
}

// ActiveSessionCount returns the number of live refresh tokens of userID.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int64, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.tokens.ActiveCount(sctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (e *Engine) revokeAll(ctx context.Context, userID string) (int64, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	n, err := e.tokens.RevokeAll(sctx, userID)
	if err != nil {
		e.logger.Error("revoke-all failed", zap.String("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
