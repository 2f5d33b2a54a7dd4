package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/goLogin/audit"
)

// message is the part of natsjs.Msg the subscriber needs.
type message interface {
	Data() []byte
	Headers() nats.Header
	Metadata() (*natsjs.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// Subscriber drains the durable consumer into an audit.Consumer.
type Subscriber struct {
	stream   *Stream
	consumer *audit.Consumer
	dlq      audit.DeadLetter
	logger   *zap.Logger

	acked        atomic.Uint64
	nacked       atomic.Uint64
	deadLettered atomic.Uint64
}

// NewSubscriber wires consumer to stream. Dead letters go to the stream's
// dead-letter subject unless dlq is non-nil.
func NewSubscriber(stream *Stream, consumer *audit.Consumer, dlq audit.DeadLetter, logger *zap.Logger) *Subscriber {
	if dlq == nil {
		dlq = stream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{stream: stream, consumer: consumer, dlq: dlq, logger: logger}
}

// Run blocks until ctx is canceled or a worker fails.
func (s *Subscriber) Run(ctx context.Context) error {
	cfg := s.stream.cfg
	cons, err := s.stream.stream.CreateOrUpdateConsumer(ctx, natsjs.ConsumerConfig{
		Name:          cfg.ConsumerName,
		Durable:       cfg.ConsumerName,
		AckPolicy:     natsjs.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		FilterSubject: cfg.Subject(">"),
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	iter, err := cons.Messages(natsjs.PullMaxMessages(cfg.Workers * 2))
	if err != nil {
		return fmt.Errorf("failed to open message iterator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	msgs := make(chan natsjs.Msg)

	g.Go(func() error {
		<-gctx.Done()
		iter.Stop()
		return nil
	})

	g.Go(func() error {
		defer close(msgs)
		for {
			msg, err := iter.Next()
			if err != nil {
				if errors.Is(err, natsjs.ErrMsgIteratorClosed) || gctx.Err() != nil {
					return nil
				}
				s.logger.Warn("jetstream: fetch failed", zap.Error(err))
				continue
			}
			select {
			case msgs <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})

	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error {
			for msg := range msgs {
				s.handle(gctx, msg)
			}
			return nil
		})
	}

	s.logger.Info("jetstream: subscriber started",
		zap.String("consumer", cfg.ConsumerName),
		zap.Int("workers", cfg.Workers),
	)

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Subscriber) handle(ctx context.Context, msg message) {
	attempt := 1
	if md, err := msg.Metadata(); err == nil && md != nil && md.NumDelivered > 0 {
		attempt = int(md.NumDelivered)
	}
	headers := msg.Headers()
	d := audit.Delivery{
		EventID:   headers.Get(nats.MsgIdHdr),
		EventType: headers.Get(HeaderEventType),
		Data:      msg.Data(),
		Attempt:   attempt,
	}

	res := s.consumer.Handle(ctx, d)
	var err error
	switch res.Action {
	case audit.ActionAck:
		s.acked.Add(1)
		err = msg.Ack()
	case audit.ActionNack:
		s.nacked.Add(1)
		err = msg.NakWithDelay(res.Delay)
	case audit.ActionDeadLetter:
		if dlqErr := s.dlq.DeadLetter(ctx, d, res.Reason); dlqErr != nil {
			s.logger.Error("jetstream: dead-letter publish failed, redelivering",
				zap.String("event_id", d.EventID),
				zap.Error(dlqErr),
			)
			err = msg.NakWithDelay(s.stream.cfg.AckWait)
			break
		}
		s.deadLettered.Add(1)
		err = msg.Term()
	}
	if err != nil {
		s.logger.Warn("jetstream: ack failed",
			zap.String("event_id", d.EventID),
			zap.String("action", res.Action.String()),
			zap.Error(err),
		)
	}
}

// Acked returns the number of acknowledged deliveries.
func (s *Subscriber) Acked() uint64        { return s.acked.Load() }
func (s *Subscriber) Nacked() uint64       { return s.nacked.Load() }
func (s *Subscriber) DeadLettered() uint64 { return s.deadLettered.Load() }
