// Package jetstream carries events over NATS JetStream. The publishing side
// sets Nats-Msg-Id to the event id so the broker drops duplicates inside its
// dedup window; the consuming side feeds an audit.Consumer and routes its
// verdicts to ack, delayed nak, or the dead-letter subject.
package jetstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/MrEthical07/goLogin/audit"
	"github.com/MrEthical07/goLogin/events"
)

const (
	HeaderPartitionKey = "Golog-Partition-Key"
	HeaderEventType    = "Golog-Event-Type"
	HeaderDeadReason   = "Golog-Dead-Reason"
	HeaderAttempt      = "Golog-Attempt"
)

// Config describes the stream, its durable consumer, and the connection.
type Config struct {
	URL               string
	StreamName        string
	SubjectPrefix     string
	DeadLetterSubject string
	DuplicateWindow   time.Duration
	MaxAge            time.Duration
	Replicas          int

	ConsumerName string
	AckWait      time.Duration
	// MaxDeliver must exceed the audit consumer's MaxAttempts so the consumer
	// dead-letters before the broker stops redelivering.
	MaxDeliver int
	Workers    int
}

// DefaultConfig returns the stream defaults.
func DefaultConfig() Config {
	return Config{
		URL:               nats.DefaultURL,
		StreamName:        "GOLOGIN_EVENTS",
		SubjectPrefix:     "gologin.events",
		DeadLetterSubject: "gologin.dlq",
		DuplicateWindow:   2 * time.Minute,
		MaxAge:            7 * 24 * time.Hour,
		Replicas:          1,
		ConsumerName:      "golog-auditd",
		AckWait:           30 * time.Second,
		MaxDeliver:        10,
		Workers:           4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.StreamName == "" {
		c.StreamName = def.StreamName
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = def.SubjectPrefix
	}
	if c.DeadLetterSubject == "" {
		c.DeadLetterSubject = def.DeadLetterSubject
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = def.DuplicateWindow
	}
	if c.MaxAge <= 0 {
		c.MaxAge = def.MaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = def.Replicas
	}
	if c.ConsumerName == "" {
		c.ConsumerName = def.ConsumerName
	}
	if c.AckWait <= 0 {
		c.AckWait = def.AckWait
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = def.MaxDeliver
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	return c
}

// Subject returns the full subject for an event subject token.
func (c Config) Subject(token string) string {
	return c.SubjectPrefix + "." + token
}

// Stream implements events.Stream and audit.DeadLetter on JetStream.
type Stream struct {
	cfg    Config
	nc     *nats.Conn
	js     natsjs.JetStream
	stream natsjs.Stream
	logger *zap.Logger
}

var (
	_ events.Stream    = (*Stream)(nil)
	_ audit.DeadLetter = (*Stream)(nil)
)

// Connect dials NATS and ensures the stream exists.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Stream, error) {
	cfg = cfg.withDefaults()
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ConsumerName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s, err := New(ctx, nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// New builds a Stream on an existing connection.
func New(ctx context.Context, nc *nats.Conn, cfg Config, logger *zap.Logger) (*Stream, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	js, err := natsjs.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, natsjs.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Credential lifecycle events",
		Subjects:    []string{cfg.Subject(">"), cfg.DeadLetterSubject},
		Retention:   natsjs.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Duplicates:  cfg.DuplicateWindow,
		Storage:     natsjs.FileStorage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("jetstream: stream ready",
		zap.String("stream", cfg.StreamName),
		zap.String("subjects", cfg.Subject(">")),
	)

	return &Stream{cfg: cfg, nc: nc, js: js, stream: stream, logger: logger}, nil
}

// BuildMsg renders an events.Message as a NATS message.
func (c Config) BuildMsg(msg events.Message) *nats.Msg {
	m := nats.NewMsg(c.Subject(msg.Subject))
	m.Data = msg.Data
	m.Header.Set(nats.MsgIdHdr, msg.EventID)
	m.Header.Set(HeaderEventType, strings.ToUpper(msg.Subject))
	if msg.Key != "" {
		m.Header.Set(HeaderPartitionKey, msg.Key)
	}
	return m
}

// Publish sends msg with its event id as the deduplication key.
func (s *Stream) Publish(ctx context.Context, msg events.Message) error {
	ack, err := s.js.PublishMsg(ctx, s.cfg.BuildMsg(msg), natsjs.WithMsgID(msg.EventID))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if ack.Duplicate {
		s.logger.Debug("jetstream: broker dropped duplicate", zap.String("event_id", msg.EventID))
	}
	return nil
}

// DeadLetter parks d on the dead-letter subject with its reason.
func (s *Stream) DeadLetter(ctx context.Context, d audit.Delivery, reason string) error {
	m := nats.NewMsg(s.cfg.DeadLetterSubject)
	m.Data = d.Data
	m.Header.Set(HeaderEventType, d.EventType)
	m.Header.Set(HeaderDeadReason, reason)
	m.Header.Set(HeaderAttempt, strconv.Itoa(d.Attempt))

	var opts []natsjs.PublishOpt
	if d.EventID != "" {
		opts = append(opts, natsjs.WithMsgID(d.EventID+".dlq"))
	}
	if _, err := s.js.PublishMsg(ctx, m, opts...); err != nil {
		return fmt.Errorf("failed to publish dead letter: %w", err)
	}
	return nil
}

// Config returns the effective configuration.
func (s *Stream) Config() Config {
	return s.cfg
}

// Close closes the underlying NATS connection.
func (s *Stream) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
