package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and retry of outgoing events.
type Config struct {
	BufferSize int
	// DropIfFull makes Publish drop instead of waiting when the buffer is
	// full. Request paths should keep this on.
	DropIfFull      bool
	PublishTimeout  time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	// DrainTimeout bounds how long Close keeps delivering buffered events.
	// Whatever is still pending afterwards is counted as failed.
	DrainTimeout time.Duration
}

// DefaultConfig returns the publisher defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:      1024,
		DropIfFull:      true,
		PublishTimeout:  5 * time.Second,
		MaxAttempts:     5,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		DrainTimeout:    5 * time.Second,
	}
}

// Publisher ships events to a Stream from a background goroutine. Publish
// never reports delivery failures to the caller; they are retried, then
// logged and counted.
type Publisher struct {
	cfg    Config
	stream Stream
	logger *zap.Logger

	ch        chan Event
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher starts the background worker.
func NewPublisher(cfg Config, stream Stream, logger *zap.Logger) *Publisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = cfg.PublishTimeout
	}
	if stream == nil {
		stream = NopStream{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		cfg:    cfg,
		stream: stream,
		logger: logger,
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(1)
	go p.run()

	return p
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case ev := <-p.ch:
			p.deliver(ev)
		case <-p.done:
			for {
				select {
				case ev := <-p.ch:
					p.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(ev Event) {
	data, err := Encode(ev)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("events: encode failed",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}
	msg := Message{Subject: ev.Type.Subject(), Key: ev.Key(), EventID: ev.ID, Data: data}

	backoff := p.cfg.RetryBackoff
	attempt := 0
	for p.ctx.Err() == nil {
		attempt++
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.PublishTimeout)
		err = p.stream.Publish(ctx, msg)
		cancel()
		if err == nil {
			p.published.Add(1)
			return
		}
		if attempt >= p.cfg.MaxAttempts {
			break
		}
		p.logger.Warn("events: publish failed, retrying",
			zap.String("event_id", ev.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if !p.wait(backoff) {
			break
		}
		backoff *= 2
		if p.cfg.MaxRetryBackoff > 0 && backoff > p.cfg.MaxRetryBackoff {
			backoff = p.cfg.MaxRetryBackoff
		}
	}
	if err == nil {
		err = p.ctx.Err()
	}

	p.failed.Add(1)
	p.logger.Error("events: publish gave up",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
}

// wait sleeps for d unless the drain deadline passes first.
func (p *Publisher) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Publish enqueues ev. It returns immediately when DropIfFull is set.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.closed.Load() {
		return
	}

	if p.cfg.DropIfFull {
		select {
		case p.ch <- ev:
		case <-p.done:
		default:
			p.dropped.Add(1)
			p.logger.Warn("events: buffer full, dropping event",
				zap.String("event_id", ev.ID),
				zap.String("event_type", string(ev.Type)),
			)
		}
		return
	}

	select {
	case p.ch <- ev:
	case <-ctx.Done():
		p.dropped.Add(1)
	case <-p.done:
	}
}

// Close stops accepting events and waits up to DrainTimeout for the buffer
// to drain. In-flight retries are abandoned at the deadline.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		deadline := time.AfterFunc(p.cfg.DrainTimeout, p.cancel)
		p.wg.Wait()
		deadline.Stop()
		p.cancel()
	})
}

// Published returns the number of events the stream accepted.
func (p *Publisher) Published() uint64 {
	if p == nil {
		return 0
	}
	return p.published.Load()
}

// Failed returns the number of events given up on after retries, encode
// errors, or the drain deadline.
func (p *Publisher) Failed() uint64 {
	if p == nil {
		return 0
	}
	return p.failed.Load()
}

// Dropped returns the number of events refused because the buffer was full.
func (p *Publisher) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}
