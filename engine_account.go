package goLogin

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/credential"
	"github.com/MrEthical07/goLogin/events"
)

// Register creates an active account. The password is hashed with the
// configured algorithm; the account receives req.Roles, or the default role
// when none are given.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: malformed email", ErrValidation)
	}
	if err := e.validatePasswordPolicy(req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &credential.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if v := strings.TrimSpace(req.Username); v != "" {
		user.Username = &v
	}
	if v := strings.TrimSpace(req.Phone); v != "" {
		user.Phone = &v
	}

	roles := req.Roles
	if len(roles) == 0 && e.config.Account.DefaultRole != "" {
		roles = []string{e.config.Account.DefaultRole}
	}

	sctx, cancel := e.storeCtx(ctx)
	err = e.store.CreateUser(sctx, user, roles)
	cancel()
	if err != nil {
		if errors.Is(err, credential.ErrDuplicate) {
			e.metricInc(MetricAccountCreationDuplicate)
			return nil, ErrAccountExists
		}
		e.logger.Error("register: create user failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricAccountCreationSuccess)
	e.emit(ctx, events.UserRegistered{
		UserID: user.ID,
		Email:  email,
		IP:     clientIPFromContext(ctx),
	})

	return &RegisterResult{UserID: user.ID}, nil
}

// AssignRole grants role to userID, creating the role if needed. New roles
// appear in access tokens issued afterwards.
func (e *Engine) AssignRole(ctx context.Context, userID, role string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	role = strings.TrimSpace(role)
	if userID == "" || role == "" {
		return fmt.Errorf("%w: user id and role are required", ErrValidation)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if err := e.store.EnsureRoles(sctx, role); err != nil {
		return storeError(err)
	}
	return storeError(e.store.AssignRole(sctx, userID, role))
}

// RevokeRole removes role from userID. Removing a role the user does not
// hold is a no-op.
func (e *Engine) RevokeRole(ctx context.Context, userID, role string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" || role == "" {
		return fmt.Errorf("%w: user id and role are required", ErrValidation)
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	err := e.store.RevokeRole(sctx, userID, role)
	if errors.Is(err, credential.ErrNotFound) {
		return nil
	}
	return storeError(err)
}

// DeactivateUser disables login and refresh for userID and revokes all of
// its refresh tokens.
func (e *Engine) DeactivateUser(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	sctx, cancel := e.storeCtx(ctx)
	err := e.store.SetActive(sctx, userID, false)
	cancel()
	if err != nil {
		return storeError(err)
	}
	if _, err := e.revokeAll(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricAccountDisabled)
	e.logger.Info("account deactivated", zap.String("user_id", userID))
	return nil
}

// ReactivateUser re-enables a deactivated account. Deleted accounts stay
// unable to authenticate.
func (e *Engine) ReactivateUser(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	user, err := e.store.GetUserByID(sctx, userID)
	if err != nil {
		return storeError(err)
	}
	if user.IsDeleted {
		return ErrUserNotFound
	}
	return storeError(e.store.SetActive(sctx, userID, true))
}

// DeleteUser soft-deletes userID and revokes all of its refresh tokens.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	sctx, cancel := e.storeCtx(ctx)
	err := e.store.SoftDelete(sctx, userID)
	cancel()
	if err != nil {
		return storeError(err)
	}
	if _, err := e.revokeAll(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricAccountDeleted)
	e.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}

// UnlockUser clears the lockout state of userID.
func (e *Engine) UnlockUser(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if err := e.guard.Unlock(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricAccountUnlocked)
	return nil
}
