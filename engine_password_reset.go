package goLogin

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/credential"
	"github.com/MrEthical07/goLogin/events"
	"github.com/MrEthical07/goLogin/internal/challenge"
)

// ForgotPassword issues a single-use reset secret for the account owning
// email. Delivery is the caller's job.
//
// An unknown or disabled email returns ("", nil) so the response does not
// reveal whether an account exists. Callers deliver only non-empty secrets.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (string, error) {
	if !e.ready() || e.challenges == nil {
		return "", ErrEngineNotReady
	}
	email = normalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrValidation)
	}

	e.metricInc(MetricPasswordResetRequest)

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.store.GetUserByEmail(sctx, email)
	cancel()
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.emit(ctx, events.PasswordResetRequested{Email: email, IP: clientIPFromContext(ctx)})
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !user.CanAuthenticate() {
		return "", nil
	}

	secret, err := e.challenges.Issue(ctx, challenge.KindPasswordReset, user.ID, e.config.Challenge.ResetTTL)
	if err != nil {
		e.logger.Error("password reset: issuing challenge failed", zap.String("user_id", user.ID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emit(ctx, events.PasswordResetRequested{
		UserID: user.ID,
		Email:  email,
		IP:     clientIPFromContext(ctx),
	})
	return secret, nil
}

// ResetPassword consumes a reset secret and sets a new password. All refresh
// tokens of the account are revoked and its lockout state is cleared.
func (e *Engine) ResetPassword(ctx context.Context, secret, newPassword string) error {
	if !e.ready() || e.challenges == nil {
		return ErrEngineNotReady
	}
	if secret == "" {
		return ErrChallengeInvalid
	}
	// Checked before consuming so a weak password does not burn the secret.
	if err := e.validatePasswordPolicy(newPassword); err != nil {
		return err
	}

	userID, err := e.challenges.Consume(ctx, challenge.KindPasswordReset, secret)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		if errors.Is(err, challenge.ErrInvalid) {
			return ErrChallengeInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return fmt.Errorf("hash password: %w", err)
	}

	sctx, cancel := e.storeCtx(ctx)
	err = e.store.UpdatePasswordHash(sctx, userID, hash)
	cancel()
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		if errors.Is(err, credential.ErrNotFound) {
			return ErrChallengeInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := e.revokeAll(ctx, userID); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return err
	}
	if err := e.guard.Unlock(ctx, userID); err != nil {
		e.logger.Warn("password reset: clearing lockout state", zap.String("user_id", userID), zap.Error(err))
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.logger.Info("password reset completed", zap.String("user_id", userID))
	return nil
}
