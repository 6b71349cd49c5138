package consumer

import (
	"context"
	"time"

	"github.com/xraph/broadcast/task"
)

// Message is one delivery from the durable stream.
type Message interface {
	Subject() string
	Data() []byte
	// Deliveries is how many times this message has been delivered,
	// starting at 1.
	Deliveries() uint64
	Ack() error
	Nak(delay time.Duration) error
}

// Source pulls batches of messages from a durable, shared consumer.
type Source interface {
	// Fetch waits up to expires for at most max messages. An empty batch
	// with a nil error means the wait expired.
	Fetch(ctx context.Context, max int, expires time.Duration) ([]Message, error)
	// Close releases the consumer handle. The durable consumer itself
	// stays on the server.
	Close() error
}

// Writer applies a batch of task updates.
type Writer interface {
	BulkUpdate(ctx context.Context, updates []task.Update) (task.BulkResult, error)
}

// DeadLetters records messages acknowledged without being processed.
type DeadLetters interface {
	PushMessage(ctx context.Context, subject string, data []byte, deliveryCount int, err error) error
}
