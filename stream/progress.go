package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/broadcast/consumer"
	"github.com/xraph/broadcast/state"
)

// ProgressDurable is the durable consumer name of the progress listener.
const ProgressDurable = "broadcast-progress-consumer"

// ProgressEvent is one recipient outcome reported by an agent.
type ProgressEvent struct {
	AgentID     string        `json:"agentId"`
	BatchID     string        `json:"batchId"`
	Status      state.Outcome `json:"status"`
	PhoneNumber string        `json:"phoneNumber,omitempty"`
}

// ProgressListener applies progress events to campaign counters.
type ProgressListener struct {
	store  state.Store
	logger *slog.Logger
}

// NewProgressListener creates a listener writing to store.
func NewProgressListener(store state.Store, logger *slog.Logger) *ProgressListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressListener{store: store, logger: logger}
}

// Handle applies one progress payload. Malformed payloads are dropped,
// exhausted compare-and-swap retries are retried by redelivery.
func (l *ProgressListener) Handle(ctx context.Context, data []byte) consumer.Result {
	var ev ProgressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return consumer.Drop(fmt.Errorf("decode progress event: %w", err))
	}
	if ev.AgentID == "" || ev.BatchID == "" {
		return consumer.Drop(errors.New("progress event missing agentId or batchId"))
	}
	if ev.Status != state.OutcomeCompleted && ev.Status != state.OutcomeError {
		return consumer.Drop(fmt.Errorf("progress event has unknown status %q", ev.Status))
	}

	// ErrConcurrencyExhausted and store errors both leave the outcome
	// unapplied; redelivery is the retry.
	if err := state.ApplyOutcome(ctx, l.store, ev.AgentID, ev.BatchID, ev.Status); err != nil {
		return consumer.Retry(err)
	}
	return consumer.Ok()
}

// EnsureProgressConsumer creates or updates the durable progress consumer.
func EnsureProgressConsumer(ctx context.Context, js jetstream.JetStream, stream string) (jetstream.Consumer, error) {
	c, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       ProgressDurable,
		Description:   "Campaign counter accumulator",
		FilterSubject: wildcard(ProgressPrefix),
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    5,
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast/stream: ensure consumer %s: %w", ProgressDurable, err)
	}
	return c, nil
}

// Run consumes progress events from cons until ctx is cancelled.
func (l *ProgressListener) Run(ctx context.Context, cons jetstream.Consumer) error {
	cc, err := cons.Consume(func(m jetstream.Msg) {
		l.settle(m, l.Handle(ctx, m.Data()))
	})
	if err != nil {
		return fmt.Errorf("broadcast/stream: consume progress: %w", err)
	}
	l.logger.Info("progress listener started")

	<-ctx.Done()
	cc.Stop()
	l.logger.Info("progress listener stopped")
	return nil
}

func (l *ProgressListener) settle(m jetstream.Msg, r consumer.Result) {
	var err error
	switch r.Action {
	case consumer.ActionAck:
		err = m.Ack()
	case consumer.ActionRetry:
		l.logger.Warn("progress event requeued",
			slog.String("subject", m.Subject()),
			slog.String("error", r.Err.Error()),
		)
		err = m.Nak()
	case consumer.ActionDrop:
		l.logger.Error("progress event discarded",
			slog.String("subject", m.Subject()),
			slog.String("error", r.Err.Error()),
		)
		err = m.TermWithReason(r.Err.Error())
	}
	if err != nil {
		l.logger.Warn("progress settle failed", slog.String("error", err.Error()))
	}
}
