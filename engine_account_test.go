package goLogin

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Metrics.Enabled = true
	})
	ctx := context.Background()
	h.register(t, "dup@example.com", "correct-password-123")

	_, err := h.engine.Register(ctx, RegisterRequest{Email: "DUP@example.com", Password: "another-password-1"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if h.engine.MetricsSnapshot().Counters[MetricAccountCreationDuplicate] != 1 {
		t.Fatalf("expected duplicate metric")
	}

	if _, err := h.engine.Register(ctx, RegisterRequest{Email: "u@example.com", Password: "a", Username: "alice"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for short password, got %v", err)
	}
	if _, err := h.engine.Register(ctx, RegisterRequest{Email: "not-an-email", Password: "correct-password-123"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for malformed email, got %v", err)
	}

	if _, err := h.engine.Register(ctx, RegisterRequest{Email: "one@example.com", Password: "correct-password-123", Username: "taken"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := h.engine.Register(ctx, RegisterRequest{Email: "two@example.com", Password: "correct-password-123", Username: "taken"}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists for username, got %v", err)
	}
}

func TestAssignRoleAppearsInNewTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	uid := h.register(t, "roles@example.com", "correct-password-123")

	if err := h.engine.AssignRole(ctx, uid, "admin"); err != nil {
		t.Fatalf("assign role failed: %v", err)
	}
	if err := h.engine.AssignRole(ctx, uid, "admin"); err != nil {
		t.Fatalf("assigning twice must be a no-op, got %v", err)
	}
	if err := h.engine.AssignRole(ctx, "missing-user", "admin"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	res, err := h.engine.Login(ctx, "roles@example.com", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, err := h.engine.ValidateAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !hasRole(claims.Roles, "admin") || !hasRole(claims.Roles, "user") {
		t.Fatalf("expected admin and user roles, got %v", claims.Roles)
	}

	if err := h.engine.RevokeRole(ctx, uid, "admin"); err != nil {
		t.Fatalf("revoke role failed: %v", err)
	}
	if err := h.engine.RevokeRole(ctx, uid, "never-existed"); err != nil {
		t.Fatalf("revoking unknown role must be a no-op, got %v", err)
	}
	res, err = h.engine.Login(ctx, "roles@example.com", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if hasRole(res.Roles, "admin") {
		t.Fatalf("expected admin role gone, got %v", res.Roles)
	}
}

func TestDeactivateAndReactivate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res := h.registerAndLogin(t, "toggle@example.com", "correct-password-123")

	if err := h.engine.DeactivateUser(ctx, res.UserID); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected sessions revoked, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "toggle@example.com", "correct-password-123"); !errors.Is(err, ErrAuthenticationDenied) {
		t.Fatalf("expected inactive login denied, got %v", err)
	}

	if err := h.engine.ReactivateUser(ctx, res.UserID); err != nil {
		t.Fatalf("reactivate failed: %v", err)
	}
	if _, err := h.engine.Login(ctx, "toggle@example.com", "correct-password-123"); err != nil {
		t.Fatalf("expected login after reactivation, got %v", err)
	}

	if err := h.engine.DeactivateUser(ctx, "missing-user"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDeleteUserIsPermanent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res := h.registerAndLogin(t, "gone@example.com", "correct-password-123")

	if err := h.engine.DeleteUser(ctx, res.UserID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n, _ := h.engine.ActiveSessionCount(ctx, res.UserID); n != 0 {
		t.Fatalf("expected no live sessions, got %d", n)
	}
	if _, err := h.engine.Login(ctx, "gone@example.com", "correct-password-123"); !errors.Is(err, ErrAuthenticationDenied) {
		t.Fatalf("expected deleted login denied, got %v", err)
	}
	if err := h.engine.ReactivateUser(ctx, res.UserID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for deleted user, got %v", err)
	}
	if _, err := h.engine.Register(ctx, RegisterRequest{Email: "gone@example.com", Password: "correct-password-123"}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected deleted email to stay taken, got %v", err)
	}
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
