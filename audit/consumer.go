package audit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/events"
)

// Action tells the transport what to do with a delivery.
type Action int

const (
	ActionAck Action = iota
	ActionNack
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionNack:
		return "nack"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Delivery is one message handed over by a transport. Attempt starts at 1.
type Delivery struct {
	EventID   string
	EventType string
	Data      []byte
	Attempt   int
}

// Result is the consumer's verdict. Delay only applies to ActionNack.
type Result struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// DeadLetter receives deliveries that will never be retried again.
type DeadLetter interface {
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}

// ConsumerConfig bounds retries of transient store failures.
type ConsumerConfig struct {
	MaxAttempts     int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	StoreTimeout    time.Duration
}

// DefaultConsumerConfig returns the consumer defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MaxAttempts:     5,
		RetryBackoff:    time.Second,
		MaxRetryBackoff: time.Minute,
		StoreTimeout:    3 * time.Second,
	}
}

// Stats is a point-in-time view of consumer counters.
type Stats struct {
	Inserted     uint64
	Duplicates   uint64
	Retried      uint64
	DeadLettered uint64
}

// Consumer turns deliveries into idempotent audit rows.
type Consumer struct {
	log    Log
	cfg    ConsumerConfig
	logger *zap.Logger

	inserted     atomic.Uint64
	duplicates   atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
}

// NewConsumer returns a Consumer writing to log. Zero config fields take
// their defaults.
func NewConsumer(log Log, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = def.MaxRetryBackoff
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{log: log, cfg: cfg, logger: logger}
}

// Handle processes one delivery. Replays of an already stored event are
// acknowledged without writing a second row.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Result {
	ev, err := events.Decode(d.Data)
	if err != nil {
		return c.deadLetter(d, err.Error())
	}
	if d.EventID != "" && d.EventID != ev.ID {
		return c.deadLetter(d, fmt.Sprintf("event id mismatch: header %q body %q", d.EventID, ev.ID))
	}
	row, err := FromEvent(ev)
	if err != nil {
		return c.deadLetter(d, err.Error())
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	inserted, err := c.log.Append(storeCtx, row)
	cancel()
	if err != nil {
		if d.Attempt >= c.cfg.MaxAttempts {
			return c.deadLetter(d, "store unavailable after max attempts: "+err.Error())
		}
		c.retried.Add(1)
		delay := c.backoff(d.Attempt)
		c.logger.Warn("audit: append failed, retrying",
			zap.String("event_id", ev.ID),
			zap.Int("attempt", d.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		return Result{Action: ActionNack, Delay: delay, Reason: err.Error()}
	}

	if inserted {
		c.inserted.Add(1)
	} else {
		c.duplicates.Add(1)
		c.logger.Debug("audit: duplicate event", zap.String("event_id", ev.ID))
	}
	return Result{Action: ActionAck}
}

func (c *Consumer) deadLetter(d Delivery, reason string) Result {
	c.deadLettered.Add(1)
	c.logger.Error("audit: dead-lettering delivery",
		zap.String("event_id", d.EventID),
		zap.String("event_type", d.EventType),
		zap.Int("attempt", d.Attempt),
		zap.String("reason", reason),
	)
	return Result{Action: ActionDeadLetter, Reason: reason}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxRetryBackoff {
			return c.cfg.MaxRetryBackoff
		}
	}
	return delay
}

// Stats returns a snapshot of the delivery counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Inserted:     c.inserted.Load(),
		Duplicates:   c.duplicates.Load(),
		Retried:      c.retried.Load(),
		DeadLettered: c.deadLettered.Load(),
	}
}

// Run consumes an in-process stream until ctx is done or msgs is closed.
// Nacked deliveries are retried in place after their delay.
func (c *Consumer) Run(ctx context.Context, msgs <-chan events.Message, dlq DeadLetter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.runOne(ctx, msg, dlq); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) runOne(ctx context.Context, msg events.Message, dlq DeadLetter) error {
	d := Delivery{EventID: msg.EventID, Data: msg.Data, Attempt: 1}
	if ev, err := events.Decode(msg.Data); err == nil {
		d.EventType = string(ev.Type)
	}

	for {
		res := c.Handle(ctx, d)
		switch res.Action {
		case ActionAck:
			return nil
		case ActionDeadLetter:
			if dlq == nil {
				return nil
			}
			if err := dlq.DeadLetter(ctx, d, res.Reason); err != nil {
				c.logger.Error("audit: dead-letter write failed", zap.String("event_id", d.EventID), zap.Error(err))
			}
			return nil
		}

		timer := time.NewTimer(res.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d.Attempt++
	}
}
