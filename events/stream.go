package events

import "context"

// Message is what a Stream carries. EventID doubles as the broker-side
// deduplication id.
type Message struct {
	Subject string
	Key     string
	EventID string
	Data    []byte
}

// Stream is the durable, at-least-once transport.
type Stream interface {
	Publish(ctx context.Context, msg Message) error
}

// NopStream discards messages.
type NopStream struct{}

func (NopStream) Publish(context.Context, Message) error { return nil }

// ChannelStream delivers messages into a buffered channel. It suits tests
// and single-process setups where the audit consumer runs in-process.
type ChannelStream struct {
	messages chan Message
}

// NewChannelStream returns a stream buffering up to buffer messages.
func NewChannelStream(buffer int) *ChannelStream {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelStream{messages: make(chan Message, buffer)}
}

// Publish sends msg unless ctx ends first.
func (s *ChannelStream) Publish(ctx context.Context, msg Message) error {
	select {
	case s.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages exposes the receive side.
func (s *ChannelStream) Messages() <-chan Message {
	return s.messages
}
