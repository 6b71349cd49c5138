package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/broadcast"
)

// AgentStream carries outbound broadcast and mailcast messages to agents.
const AgentStream = "agent_durable_stream"

// StreamConfigs returns the stream definitions the service depends on.
func StreamConfigs(cfg broadcast.NATSConfig) []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        AgentStream,
			Description: "Durable stream for agent broadcast and mailcast messages",
			Subjects:    []string{wildcard(BroadcastsPrefix), wildcard(MailcastsPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      72 * time.Hour,
			MaxBytes:    1 << 30,
			MaxMsgs:     1_000_000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  time.Minute,
		},
		{
			Name:        cfg.TaskStream,
			Description: "Inbound task status updates from all sources",
			Subjects:    []string{wildcard(TaskUpdatesPrefix), wildcard(MailcastPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxBytes:    512 << 20,
			MaxMsgs:     500_000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
		},
		{
			Name:        cfg.ProgressStream,
			Description: "Per-recipient broadcast progress signals",
			Subjects:    []string{wildcard(ProgressPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxBytes:    256 << 20,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
		},
	}
}

// EnsureStreams creates or updates every stream in StreamConfigs.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, cfg broadcast.NATSConfig, logger *slog.Logger) error {
	for _, sc := range StreamConfigs(cfg) {
		s, err := js.CreateOrUpdateStream(ctx, sc)
		if err != nil {
			return fmt.Errorf("broadcast/stream: ensure stream %s: %w", sc.Name, err)
		}
		info := s.CachedInfo()
		logger.Info("stream ready",
			slog.String("stream", sc.Name),
			slog.Uint64("messages", info.State.Msgs),
			slog.Int("consumers", info.State.Consumers),
		)
	}
	return nil
}

// ConsumerConfig returns the durable outcome consumer definition. All
// service instances bind the same durable name and share its deliveries.
func ConsumerConfig(cc broadcast.ConsumerConfig) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       cc.Durable,
		Description:   "Batched task outcome writer",
		FilterSubject: cc.FilterSubject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cc.AckWait,
		MaxDeliver:    cc.MaxDeliver,
		MaxAckPending: cc.MaxAckPending,
		Metadata:      map[string]string{"deliver_group": cc.DeliverGroup},
	}
}

// EnsureConsumer creates or updates the durable outcome consumer on the
// task stream.
func EnsureConsumer(ctx context.Context, js jetstream.JetStream, stream string, cc broadcast.ConsumerConfig) (jetstream.Consumer, error) {
	c, err := js.CreateOrUpdateConsumer(ctx, stream, ConsumerConfig(cc))
	if err != nil {
		return nil, fmt.Errorf("broadcast/stream: ensure consumer %s: %w", cc.Durable, err)
	}
	return c, nil
}

// EnsureStateBucket creates or updates the KV bucket holding campaign
// state.
func EnsureStateBucket(ctx context.Context, js jetstream.JetStream, cfg broadcast.NATSConfig) (jetstream.KeyValue, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.StateBucket,
		Description: "Broadcast state tracking for agent APIs",
		History:     5,
		TTL:         cfg.StateTTL,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast/stream: ensure bucket %s: %w", cfg.StateBucket, err)
	}
	return kv, nil
}
