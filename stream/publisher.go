package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/broadcast/dlq"
)

var _ dlq.Republisher = (*Publisher)(nil)

// ControlAction is the action carried by an agent control message.
type ControlAction string

// ActionStartBroadcast tells an agent to begin sending a campaign.
const ActionStartBroadcast ControlAction = "START_BROADCAST"

// ControlMessage is published to an agent's control subject.
type ControlMessage struct {
	Action    ControlAction `json:"action"`
	BatchID   string        `json:"batchId"`
	CompanyID string        `json:"companyId"`
}

// Publisher publishes JSON payloads to JetStream subjects.
type Publisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(js jetstream.JetStream, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{js: js, logger: logger}
}

// Publish encodes v as JSON and publishes it to subject, waiting for the
// stream acknowledgement.
func (p *Publisher) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broadcast/stream: encode %s: %w", subject, err)
	}
	return p.publish(ctx, subject, data)
}

// Republish publishes raw data back to subject. It replays dead letters.
func (p *Publisher) Republish(ctx context.Context, subject string, data []byte) error {
	return p.publish(ctx, subject, data)
}

// SendControl publishes msg to the agent's control subject.
func (p *Publisher) SendControl(ctx context.Context, agentID string, msg ControlMessage) error {
	return p.Publish(ctx, ControlSubject(agentID), msg)
}

func (p *Publisher) publish(ctx context.Context, subject string, data []byte) error {
	ack, err := p.js.Publish(ctx, subject, data)
	if err != nil {
		p.logger.Error("publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("broadcast/stream: publish %s: %w", subject, err)
	}
	p.logger.Debug("published",
		slog.String("subject", subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}
