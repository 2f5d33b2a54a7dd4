package goLogin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/credential"
	"github.com/MrEthical07/goLogin/events"
	"github.com/MrEthical07/goLogin/internal/guard"
)

// Failure reasons carried by LOGIN_FAILED events. Callers only ever see
// ErrAuthenticationDenied.
const (
	reasonUserNotFound         = "user_not_found"
	reasonInvalidPassword      = "invalid_password"
	reasonAccountLocked        = "account_locked"
	reasonRateLimited          = guard.ReasonRateLimited
	reasonInactive             = "inactive"
	reasonAdmissionUnavailable = guard.ReasonUnavailable
)

// upgradeChecker is implemented by hashers that can tell when a stored hash
// was produced with weaker parameters than the current ones.
type upgradeChecker interface {
	NeedsUpgrade(storedHash string) bool
}

// Login authenticates email and password and issues a token pair.
//
// Every failure returns an error matching ErrAuthenticationDenied whose
// message is identical across causes. Rate-limited denials also carry a
// RetryAfter hint. Client IP and User-Agent are read from ctx (see
// WithClientIP and WithUserAgent).
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricLoginLatency, time.Since(start))
		}
	}()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	if len(password) > e.config.Password.MaxLength {
		return nil, fmt.Errorf("%w: password too long", ErrValidation)
	}

	ip := clientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)

	// -------- ADMISSION --------
	decision := e.guard.CheckAdmission(ctx, ip, email)
	if !decision.Allowed {
		e.loginFailed(ctx, "", email, ip, ua, decision.Reason)
		return nil, denied(decision.RetryAfter)
	}

	// -------- LOOKUP --------
	sctx, cancel := e.storeCtx(ctx)
	user, err := e.store.GetUserByEmail(sctx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			e.logger.Error("login: user lookup failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.burnVerification(password)
		e.loginFailed(ctx, "", email, ip, ua, reasonUserNotFound)
		return nil, ErrAuthenticationDenied
	}

	if !user.CanAuthenticate() {
		_ = e.hasher.Verify(password, user.PasswordHash)
		e.loginFailed(ctx, user.ID, email, ip, ua, reasonInactive)
		return nil, ErrAuthenticationDenied
	}

	// The slot is taken before the hash is checked, so concurrent guesses
	// cannot outrun the lockout threshold.
	attempt, ok := e.guard.BeginAttempt(ctx, user.ID)
	if !ok {
		e.burnVerification(password)
		e.metricInc(MetricLoginLocked)
		e.loginFailed(ctx, user.ID, email, ip, ua, reasonAccountLocked)
		return nil, ErrAuthenticationDenied
	}

	// -------- PASSWORD --------
	if !e.hasher.Verify(password, user.PasswordHash) {
		locked, err := e.guard.RecordFailure(ctx, attempt)
		if err != nil {
			e.logger.Warn("login: recording failure", zap.String("user_id", user.ID), zap.Error(err))
		}
		if locked {
			e.logger.Info("login: account locked", zap.String("user_id", user.ID))
		}
		e.loginFailed(ctx, user.ID, email, ip, ua, reasonInvalidPassword)
		return nil, ErrAuthenticationDenied
	}

	// -------- SUCCESS --------
	if err := e.guard.RecordSuccess(ctx, user.ID, email); err != nil {
		e.logger.Warn("login: clearing lockout state", zap.String("user_id", user.ID), zap.Error(err))
	}

	sctx, cancel = e.storeCtx(ctx)
	roles, err := e.store.ListRoles(sctx, user.ID)
	cancel()
	if err != nil {
		e.logger.Error("login: listing roles failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sctx, cancel = e.storeCtx(ctx)
	pair, err := e.tokens.Issue(sctx, user.ID, roles, ip, ua)
	cancel()
	if err != nil {
		e.logger.Error("login: issuing tokens failed", zap.String("user_id", user.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.afterLogin(ctx, user, password)

	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, events.LoginSucceeded{
		UserID:    user.ID,
		Email:     email,
		IP:        ip,
		UserAgent: ua,
	})

	return &LoginResult{
		UserID: user.ID,
		Roles:  roles,
		TokenPair: TokenPair{
			AccessToken:      pair.AccessToken,
			AccessExpiresAt:  pair.AccessExpiresAt,
			RefreshToken:     pair.RefreshToken,
			RefreshExpiresAt: pair.RefreshExpiresAt,
		},
	}, nil
}

// afterLogin performs best-effort bookkeeping. Failures are logged and never
// fail the login.
func (e *Engine) afterLogin(ctx context.Context, user *credential.User, password string) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if err := e.store.TouchLastLogin(sctx, user.ID, e.now()); err != nil {
		e.logger.Warn("login: updating last_login_at", zap.String("user_id", user.ID), zap.Error(err))
	}

	if !e.config.Password.UpgradeOnLogin {
		return
	}
	checker, ok := e.hasher.(upgradeChecker)
	if !ok || !checker.NeedsUpgrade(user.PasswordHash) {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		e.logger.Warn("login: rehashing password", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := e.store.UpdatePasswordHash(sctx, user.ID, hash); err != nil {
		e.logger.Warn("login: storing rehashed password", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	e.metricInc(MetricPasswordRehashed)
}

func (e *Engine) loginFailed(ctx context.Context, userID, email, ip, ua, reason string) {
	e.metricInc(MetricLoginFailure)
	e.logger.Info("login: denied",
		zap.String("reason", reason),
		zap.String("user_id", userID),
		zap.String("ip", ip),
	)
	e.emit(ctx, events.LoginFailed{
		UserID:    userID,
		Email:     email,
		IP:        ip,
		UserAgent: ua,
		Reason:    reason,
	})
}
