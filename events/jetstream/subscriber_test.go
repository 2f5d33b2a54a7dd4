package jetstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/MrEthical07/goLogin/audit"
	"github.com/MrEthical07/goLogin/events"
)

type fakeMsg struct {
	data      []byte
	headers   nats.Header
	delivered uint64

	acked   bool
	nakWith time.Duration
	naked   bool
	termed  bool
}

func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Headers() nats.Header { return m.headers }
func (m *fakeMsg) Metadata() (*natsjs.MsgMetadata, error) {
	return &natsjs.MsgMetadata{NumDelivered: m.delivered}, nil
}

func (m *fakeMsg) Ack() error {
	m.acked = true
	return nil
}

func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.naked = true
	m.nakWith = d
	return nil
}

func (m *fakeMsg) Term() error {
	m.termed = true
	return nil
}

type memLog struct {
	seen map[string]bool
	fail bool
}

func (l *memLog) Append(_ context.Context, row *audit.LoginAuditLog) (bool, error) {
	if l.fail {
		return false, audit.ErrUnavailable
	}
	if l.seen[row.EventID] {
		return false, nil
	}
	l.seen[row.EventID] = true
	return true, nil
}

type memDLQ struct {
	got  []audit.Delivery
	fail bool
}

func (q *memDLQ) DeadLetter(_ context.Context, d audit.Delivery, _ string) error {
	if q.fail {
		return errors.New("dlq down")
	}
	q.got = append(q.got, d)
	return nil
}

func newTestSubscriber(log audit.Log, dlq audit.DeadLetter) *Subscriber {
	consumer := audit.NewConsumer(log, audit.ConsumerConfig{
		MaxAttempts:  3,
		RetryBackoff: 10 * time.Millisecond,
	}, nil)
	stream := &Stream{cfg: DefaultConfig()}
	return NewSubscriber(stream, consumer, dlq, nil)
}

func eventMsg(t *testing.T, delivered uint64) (*fakeMsg, events.Event) {
	t.Helper()
	ev := events.New(events.LoginSucceeded{UserID: "u1", Email: "u1@example.com"}, time.Now())
	data, err := events.Encode(ev)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	msg := DefaultConfig().BuildMsg(events.Message{
		Subject: ev.Type.Subject(),
		Key:     ev.Key(),
		EventID: ev.ID,
		Data:    data,
	})
	return &fakeMsg{data: msg.Data, headers: msg.Header, delivered: delivered}, ev
}

func TestBuildMsgHeaders(t *testing.T) {
	msg := DefaultConfig().BuildMsg(events.Message{Subject: "login_failed", Key: "a@x", EventID: "e1"})
	if msg.Subject != "gologin.events.login_failed" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != "e1" {
		t.Fatalf("missing dedup header")
	}
	if msg.Header.Get(HeaderEventType) != "LOGIN_FAILED" || msg.Header.Get(HeaderPartitionKey) != "a@x" {
		t.Fatalf("unexpected headers %v", msg.Header)
	}
}

func TestHandleAcksAndDedupes(t *testing.T) {
	log := &memLog{seen: map[string]bool{}}
	sub := newTestSubscriber(log, &memDLQ{})

	first, ev := eventMsg(t, 1)
	sub.handle(context.Background(), first)
	replay := &fakeMsg{data: first.data, headers: first.headers, delivered: 2}
	sub.handle(context.Background(), replay)

	if !first.acked || !replay.acked {
		t.Fatal("expected both deliveries to be acked")
	}
	if len(log.seen) != 1 || !log.seen[ev.ID] {
		t.Fatalf("expected a single stored event, got %v", log.seen)
	}
	if sub.Acked() != 2 {
		t.Fatalf("expected 2 acks, got %d", sub.Acked())
	}
}

func TestHandleNaksTransientFailure(t *testing.T) {
	sub := newTestSubscriber(&memLog{fail: true}, &memDLQ{})

	msg, _ := eventMsg(t, 1)
	sub.handle(context.Background(), msg)

	if !msg.naked || msg.nakWith != 10*time.Millisecond {
		t.Fatalf("expected delayed nak, got naked=%v delay=%v", msg.naked, msg.nakWith)
	}
}

func TestHandleDeadLettersAtMaxAttempts(t *testing.T) {
	dlq := &memDLQ{}
	sub := newTestSubscriber(&memLog{fail: true}, dlq)

	msg, ev := eventMsg(t, 3)
	sub.handle(context.Background(), msg)

	if !msg.termed || msg.acked {
		t.Fatalf("expected term, got %+v", msg)
	}
	if len(dlq.got) != 1 || dlq.got[0].EventID != ev.ID || dlq.got[0].Attempt != 3 {
		t.Fatalf("unexpected dead letters %+v", dlq.got)
	}
}

func TestHandleDeadLettersMalformed(t *testing.T) {
	dlq := &memDLQ{}
	sub := newTestSubscriber(&memLog{seen: map[string]bool{}}, dlq)

	msg := &fakeMsg{data: []byte("{"), headers: nats.Header{}, delivered: 1}
	sub.handle(context.Background(), msg)

	if !msg.termed || len(dlq.got) != 1 || sub.DeadLettered() != 1 {
		t.Fatalf("expected malformed message to be dead-lettered")
	}
}

func TestHandleRedeliversWhenDeadLetterFails(t *testing.T) {
	sub := newTestSubscriber(&memLog{seen: map[string]bool{}}, &memDLQ{fail: true})

	msg := &fakeMsg{data: []byte("{"), headers: nats.Header{}, delivered: 1}
	sub.handle(context.Background(), msg)

	if msg.termed || !msg.naked {
		t.Fatalf("expected nak when dead-letter publish fails, got %+v", msg)
	}
}
