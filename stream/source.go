package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/broadcast/consumer"
)

var _ consumer.Source = (*Source)(nil)

// Source adapts a JetStream pull consumer to consumer.Source.
type Source struct {
	cons jetstream.Consumer
}

// NewSource wraps a pull consumer.
func NewSource(c jetstream.Consumer) *Source {
	return &Source{cons: c}
}

// Fetch pulls up to max messages, waiting at most expires. It returns
// early with ctx's error when ctx is cancelled; undelivered messages of
// the pull are redelivered after the ack wait.
func (s *Source) Fetch(ctx context.Context, max int, expires time.Duration) ([]consumer.Message, error) {
	batch, err := s.cons.Fetch(max, jetstream.FetchMaxWait(expires))
	if err != nil {
		return nil, fmt.Errorf("broadcast/stream: fetch: %w", err)
	}

	var out []consumer.Message
	msgs := batch.Messages()
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
					return out, fmt.Errorf("broadcast/stream: fetch: %w", err)
				}
				return out, nil
			}
			out = append(out, WrapMessage(m))
		}
	}
}

// Close is a no-op: the durable consumer outlives the process and a pull
// consumer holds no client-side subscription between fetches.
func (s *Source) Close() error { return nil }

// Message adapts jetstream.Msg to consumer.Message.
type Message struct {
	msg jetstream.Msg
}

// WrapMessage adapts m.
func WrapMessage(m jetstream.Msg) Message { return Message{msg: m} }

// Subject returns the subject the message was published on.
func (m Message) Subject() string { return m.msg.Subject() }

// Data returns the payload.
func (m Message) Data() []byte { return m.msg.Data() }

// Deliveries returns the server's delivery count, or 1 if metadata is
// unavailable.
func (m Message) Deliveries() uint64 {
	md, err := m.msg.Metadata()
	if err != nil || md.NumDelivered == 0 {
		return 1
	}
	return md.NumDelivered
}

// Ack acknowledges the message.
func (m Message) Ack() error { return m.msg.Ack() }

// Nak asks for redelivery after delay.
func (m Message) Nak(delay time.Duration) error {
	if delay <= 0 {
		return m.msg.Nak()
	}
	return m.msg.NakWithDelay(delay)
}
