package goLogin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/credential"
	"github.com/MrEthical07/goLogin/events"
	"github.com/MrEthical07/goLogin/internal/challenge"
	"github.com/MrEthical07/goLogin/internal/guard"
	"github.com/MrEthical07/goLogin/internal/tokens"
	"github.com/MrEthical07/goLogin/password"
)

// Engine runs the credential lifecycle: admission and lockout, password
// verification, token issuance and rotation, and event emission.
//
// An Engine is safe for concurrent use. Build one with New().Build().
type Engine struct {
	config     Config
	guard      *guard.Guard
	store      credential.Store
	hasher     password.Hasher
	dummyHash  string
	tokens     *tokens.Manager
	challenges *challenge.Store
	publisher  *events.Publisher
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// Close drains the event publisher. It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.publisher != nil {
		e.publisher.Close()
	}
}

// EventsDropped reports events discarded because the publish buffer was
// full.
func (e *Engine) EventsDropped() uint64 {
	if e == nil || e.publisher == nil {
		return 0
	}
	return e.publisher.Dropped()
}

// EventsFailed reports events abandoned after exhausting publish retries or
// the shutdown drain deadline.
func (e *Engine) EventsFailed() uint64 {
	if e == nil || e.publisher == nil {
		return 0
	}
	return e.publisher.Failed()
}

// MetricsSnapshot returns the engine's current metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.guard != nil && e.store != nil && e.hasher != nil && e.tokens != nil
}

// storeCtx bounds one credential store call.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Security.StoreTimeout)
}

// emit hands an event to the publisher. It never blocks the caller.
func (e *Engine) emit(ctx context.Context, payload events.Payload) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(ctx, events.New(payload, e.now()))
}

// burnVerification spends one password verification against the dummy hash
// so that denial paths without a usable hash cost the same as a real check.
func (e *Engine) burnVerification(plain string) {
	_ = e.hasher.Verify(plain, e.dummyHash)
}

func (e *Engine) validatePasswordPolicy(plain string) error {
	if len(plain) < e.config.Password.MinLength {
		return fmt.Errorf("%w: password shorter than %d", ErrValidation, e.config.Password.MinLength)
	}
	if len(plain) > e.config.Password.MaxLength {
		return fmt.Errorf("%w: password longer than %d", ErrValidation, e.config.Password.MaxLength)
	}
	return nil
}

// storeError maps credential store failures for administrative operations.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credential.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, credential.ErrDuplicate):
		return ErrAccountExists
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
