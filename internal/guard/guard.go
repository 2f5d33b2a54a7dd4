// Package guard implements login admission control and account lockout on
// top of a shared counter.Store.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goLogin/counter"
	"go.uber.org/zap"
)

// FailurePolicy decides what happens when the counter store cannot answer.
type FailurePolicy int

const (
	// PolicyUnset is rejected by New. Operators must pick one explicitly.
	PolicyUnset FailurePolicy = iota
	// FailOpen admits requests while counters are unavailable.
	FailOpen
	// FailClosed denies requests while counters are unavailable.
	FailClosed
)

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail_open"
	case FailClosed:
		return "fail_closed"
	default:
		return "unset"
	}
}

// Denial reasons reported in [Decision.Reason].
const (
	ReasonRateLimited = "rate_limited"
	ReasonUnavailable = "admission_unavailable"
)

var (
	// ErrInvalidConfig is returned by New for unusable configuration.
	ErrInvalidConfig = errors.New("guard: invalid config")
)

// Config holds thresholds and windows.
type Config struct {
	KeyPrefix string

	IPMaxAttempts    int
	IPWindow         time.Duration
	EmailMaxAttempts int
	EmailWindow      time.Duration

	LockoutThreshold int
	LockoutWindow    time.Duration
	LockoutDuration  time.Duration

	// CounterTimeout bounds every individual counter call.
	CounterTimeout time.Duration
	FailurePolicy  FailurePolicy
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Observer receives guard side effects. The engine feeds these into its
// metrics.
type Observer interface {
	RateLimited()
	AccountLocked()
	CounterDegraded()
}

type nopObserver struct{}

func (nopObserver) RateLimited()     {}
func (nopObserver) AccountLocked()   {}
func (nopObserver) CounterDegraded() {}

// Guard enforces IP and email admission windows plus per-user lockout.
type Guard struct {
	store    counter.Store
	cfg      Config
	logger   *zap.Logger
	observer Observer
}

// New validates cfg and returns a Guard.
func New(store counter.Store, cfg Config, logger *zap.Logger, observer Observer) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil counter store", ErrInvalidConfig)
	}
	if cfg.FailurePolicy != FailOpen && cfg.FailurePolicy != FailClosed {
		return nil, fmt.Errorf("%w: failure policy must be fail_open or fail_closed", ErrInvalidConfig)
	}
	if cfg.IPMaxAttempts <= 0 || cfg.EmailMaxAttempts <= 0 || cfg.LockoutThreshold <= 0 {
		return nil, fmt.Errorf("%w: thresholds must be > 0", ErrInvalidConfig)
	}
	if cfg.IPWindow <= 0 || cfg.EmailWindow <= 0 || cfg.LockoutWindow <= 0 || cfg.LockoutDuration <= 0 {
		return nil, fmt.Errorf("%w: windows must be > 0", ErrInvalidConfig)
	}
	if cfg.CounterTimeout <= 0 {
		return nil, fmt.Errorf("%w: counter timeout must be > 0", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Guard{store: store, cfg: cfg, logger: logger, observer: observer}, nil
}

func (g *Guard) ipKey(ip string) string       { return g.cfg.KeyPrefix + ":adm:ip:" + ip }
func (g *Guard) emailKey(email string) string { return g.cfg.KeyPrefix + ":adm:em:" + email }
func (g *Guard) failKey(userID string) string { return g.cfg.KeyPrefix + ":lck:f:" + userID }
func (g *Guard) lockKey(userID string) string { return g.cfg.KeyPrefix + ":lck:m:" + userID }

// CheckAdmission reserves one attempt against the IP window, then the email
// window, and denies once either reservation exceeds its limit. Counting and
// comparing happen in a single store call so concurrent callers cannot all
// observe the same count.
func (g *Guard) CheckAdmission(ctx context.Context, ip, email string) Decision {
	type scope struct {
		key    string
		limit  int
		window time.Duration
	}
	scopes := make([]scope, 0, 2)
	if ip != "" {
		scopes = append(scopes, scope{g.ipKey(ip), g.cfg.IPMaxAttempts, g.cfg.IPWindow})
	}
	if email != "" {
		scopes = append(scopes, scope{g.emailKey(email), g.cfg.EmailMaxAttempts, g.cfg.EmailWindow})
	}

	for _, s := range scopes {
		count, retry, err := g.incrementWindow(ctx, s.key, s.window)
		if err != nil {
			if g.degraded("check_admission", err) {
				continue
			}
			return Decision{Allowed: false, Reason: ReasonUnavailable}
		}
		if count > int64(s.limit) {
			g.observer.RateLimited()
			return Decision{Allowed: false, Reason: ReasonRateLimited, RetryAfter: retry}
		}
	}

	return Decision{Allowed: true}
}

// Attempt is a reserved password check for one user. Count is the position
// of this attempt in the current lockout window, or zero when the counter
// store could not answer and the policy admitted anyway.
type Attempt struct {
	UserID string
	Count  int64
}

// BeginAttempt reserves a password check for userID before the hash is
// verified. It returns false while the user is locked, or once the lockout
// window already holds LockoutThreshold reservations.
func (g *Guard) BeginAttempt(ctx context.Context, userID string) (Attempt, bool) {
	a := Attempt{UserID: userID}
	if userID == "" {
		return a, true
	}
	if g.IsLocked(ctx, userID) {
		return a, false
	}

	count, _, err := g.incrementWindow(ctx, g.failKey(userID), g.cfg.LockoutWindow)
	if err != nil {
		return a, g.degraded("begin_attempt", err)
	}
	a.Count = count
	return a, count <= int64(g.cfg.LockoutThreshold)
}

// RecordFailure marks a reserved attempt as a failed password check. It
// returns true when that attempt reached the lockout threshold and the lock
// marker is set.
func (g *Guard) RecordFailure(ctx context.Context, a Attempt) (bool, error) {
	if a.UserID == "" || a.Count < int64(g.cfg.LockoutThreshold) {
		return false, nil
	}

	if _, _, err := g.incrementWindow(ctx, g.lockKey(a.UserID), g.cfg.LockoutDuration); err != nil {
		if g.degraded("set_lock", err) {
			return false, nil
		}
		return false, err
	}
	if a.Count == int64(g.cfg.LockoutThreshold) {
		g.observer.AccountLocked()
	}
	return true, nil
}

// IsLocked reports whether the user currently carries a lock marker. Under
// FailClosed an unavailable store reports the user as locked.
func (g *Guard) IsLocked(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	_, ok, err := g.get(ctx, g.lockKey(userID))
	if err != nil {
		return !g.degraded("is_locked", err)
	}
	return ok
}

// RecordSuccess clears the failure counter and the lock marker for userID,
// plus the email admission window the login was counted against.
func (g *Guard) RecordSuccess(ctx context.Context, userID, email string) error {
	keys := make([]string, 0, 3)
	if userID != "" {
		keys = append(keys, g.failKey(userID), g.lockKey(userID))
	}
	if email != "" {
		keys = append(keys, g.emailKey(email))
	}
	return g.clear(ctx, userID, keys)
}

// Unlock clears lockout state for userID without touching admission windows.
func (g *Guard) Unlock(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return g.clear(ctx, userID, []string{g.failKey(userID), g.lockKey(userID)})
}

func (g *Guard) clear(ctx context.Context, userID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CounterTimeout)
	defer cancel()

	if err := g.store.Delete(ctx, keys...); err != nil {
		g.logger.Warn("guard: clearing lockout state failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// FailureCount returns the current failure count for userID.
func (g *Guard) FailureCount(ctx context.Context, userID string) (int64, error) {
	count, _, err := g.get(ctx, g.failKey(userID))
	return count, err
}

// Policy returns the configured failure policy.
func (g *Guard) Policy() FailurePolicy {
	return g.cfg.FailurePolicy
}

func (g *Guard) incrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CounterTimeout)
	defer cancel()
	return g.store.IncrementWindow(ctx, key, window)
}

func (g *Guard) get(ctx context.Context, key string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.CounterTimeout)
	defer cancel()
	return g.store.Get(ctx, key)
}

// degraded logs a counter failure and reports whether the caller should carry
// on as if the counter had answered (FailOpen).
func (g *Guard) degraded(op string, err error) bool {
	g.observer.CounterDegraded()
	open := g.cfg.FailurePolicy == FailOpen
	g.logger.Warn("guard: counter store unavailable",
		zap.String("op", op),
		zap.String("policy", g.cfg.FailurePolicy.String()),
		zap.Bool("admitting", open),
		zap.Error(err),
	)
	return open
}
