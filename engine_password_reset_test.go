package goLogin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/goLogin/events"
	"github.com/MrEthical07/goLogin/internal"
)

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res := h.registerAndLogin(t, "reset@example.com", "correct-password-123")

	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, "reset@example.com", "wrong-password")
	}

	secret, err := h.engine.ForgotPassword(ctx, "Reset@Example.com")
	if err != nil || secret == "" {
		t.Fatalf("forgot password failed: %q %v", secret, err)
	}
	ev := h.nextEvent(t, events.TypePasswordResetRequested).Payload.(events.PasswordResetRequested)
	if ev.UserID != res.UserID {
		t.Fatalf("unexpected reset event: %+v", ev)
	}

	if err := h.engine.ResetPassword(ctx, secret, "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := h.engine.ResetPassword(ctx, secret, "brand-new-password-456"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected old session revoked, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "reset@example.com", "correct-password-123"); !errors.Is(err, ErrAuthenticationDenied) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "reset@example.com", "brand-new-password-456"); err != nil {
		t.Fatalf("expected login with new password, got %v", err)
	}

	if err := h.engine.ResetPassword(ctx, secret, "another-password-789"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected used secret rejected, got %v", err)
	}
}

func TestForgotPasswordDoesNotEnumerate(t *testing.T) {
	h := newHarness(t, nil)

	secret, err := h.engine.ForgotPassword(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("expected nil error for unknown email, got %v", err)
	}
	if secret != "" {
		t.Fatalf("expected no secret for unknown email")
	}
}

func TestForgotPasswordReplacesEarlierSecret(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "twice@example.com", "correct-password-123")

	first, err := h.engine.ForgotPassword(ctx, "twice@example.com")
	if err != nil {
		t.Fatalf("forgot password failed: %v", err)
	}
	second, err := h.engine.ForgotPassword(ctx, "twice@example.com")
	if err != nil {
		t.Fatalf("forgot password failed: %v", err)
	}

	if err := h.engine.ResetPassword(ctx, first, "brand-new-password-456"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected first secret invalidated, got %v", err)
	}
	if err := h.engine.ResetPassword(ctx, second, "brand-new-password-456"); err != nil {
		t.Fatalf("reset with latest secret failed: %v", err)
	}
}

func TestPasswordResetReplayRaceSingleSuccess(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "race-reset@example.com", "correct-password-123")

	secret, err := h.engine.ForgotPassword(ctx, "race-reset@example.com")
	if err != nil {
		t.Fatalf("forgot password failed: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			results <- h.engine.ResetPassword(context.Background(), secret, "brand-new-password-456")
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrChallengeInvalid) {
			t.Fatalf("unexpected reset error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one reset success, got %d", success)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	uid := h.register(t, "verify@example.com", "correct-password-123")

	secret, err := h.engine.RequestEmailVerification(ctx, uid)
	if err != nil {
		t.Fatalf("request verification failed: %v", err)
	}

	got, err := h.engine.VerifyEmail(ctx, secret)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got != uid {
		t.Fatalf("expected user %s, got %s", uid, got)
	}

	user, err := h.engine.store.GetUserByID(ctx, uid)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if !user.EmailVerified {
		t.Fatalf("expected email marked verified")
	}

	if _, err := h.engine.VerifyEmail(ctx, secret); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected used secret rejected, got %v", err)
	}
	if _, err := h.engine.RequestEmailVerification(ctx, "missing-user"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestChallengesFailWhenRedisUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "down@example.com", "correct-password-123")

	wellFormed, err := internal.NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken failed: %v", err)
	}

	h.mr.Close()

	if _, err := h.engine.ForgotPassword(ctx, "down@example.com"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := h.engine.ResetPassword(ctx, wellFormed, "brand-new-password-456"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
