package goLogin

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/credential"
	"github.com/MrEthical07/goLogin/internal/challenge"
)

// RequestEmailVerification issues a single-use verification secret for
// userID. Issuing again invalidates the previous secret.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) (string, error) {
	if !e.ready() || e.challenges == nil {
		return "", ErrEngineNotReady
	}
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrValidation)
	}

	sctx, cancel := e.storeCtx(ctx)
	user, err := e.store.GetUserByID(sctx, userID)
	cancel()
	if err != nil {
		return "", storeError(err)
	}
	if user.IsDeleted {
		return "", ErrUserNotFound
	}

	secret, err := e.challenges.Issue(ctx, challenge.KindEmailVerification, user.ID, e.config.Challenge.VerificationTTL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricEmailVerificationRequest)
	return secret, nil
}

// VerifyEmail consumes a verification secret and marks the owner's email
// verified. It returns the user id.
func (e *Engine) VerifyEmail(ctx context.Context, secret string) (string, error) {
	if !e.ready() || e.challenges == nil {
		return "", ErrEngineNotReady
	}
	if secret == "" {
		return "", ErrChallengeInvalid
	}

	userID, err := e.challenges.Consume(ctx, challenge.KindEmailVerification, secret)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		if errors.Is(err, challenge.ErrInvalid) {
			return "", ErrChallengeInvalid
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sctx, cancel := e.storeCtx(ctx)
	err = e.store.MarkEmailVerified(sctx, userID)
	cancel()
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		if errors.Is(err, credential.ErrNotFound) {
			return "", ErrChallengeInvalid
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.logger.Info("email verified", zap.String("user_id", userID))
	return userID, nil
}
