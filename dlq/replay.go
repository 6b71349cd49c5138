package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
)

// ErrReplayUnsupported is returned when an entry's source has no replay
// target configured.
var ErrReplayUnsupported = errors.New("broadcast/dlq: replay not supported for entry")

// Replay re-submits a dead letter and marks the entry replayed. Job
// entries become a new pending job with a fresh ID and zero retry count.
// Message entries are re-published to their subject.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) error {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return err
	}

	switch entry.Source {
	case SourceJob:
		if s.jobStore == nil {
			return ErrReplayUnsupported
		}
		now := time.Now().UTC()
		j := &job.Job{
			ID:         id.NewJobID(),
			Name:       entry.JobName,
			Queue:      entry.Queue,
			Key:        entry.Key,
			Payload:    entry.Payload,
			State:      job.StatePending,
			MaxRetries: entry.MaxRetries,
			RunAt:      now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
			return fmt.Errorf("broadcast/dlq: replay enqueue: %w", err)
		}
	case SourceMessage:
		if s.republisher == nil {
			return ErrReplayUnsupported
		}
		if err := s.republisher.Republish(ctx, entry.Subject, entry.Payload); err != nil {
			return fmt.Errorf("broadcast/dlq: replay publish: %w", err)
		}
	default:
		return ErrReplayUnsupported
	}

	return s.store.ReplayDLQ(ctx, entryID)
}
