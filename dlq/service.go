package dlq

import (
	"context"
	"time"

	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
)

// Republisher re-publishes a dead message to its original subject.
type Republisher interface {
	Republish(ctx context.Context, subject string, data []byte) error
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store       Store
	jobStore    job.Store
	republisher Republisher
}

// Option configures a Service.
type Option func(*Service)

// WithRepublisher enables replay of message entries.
func WithRepublisher(r Republisher) Option {
	return func(s *Service) { s.republisher = r }
}

// NewService creates a DLQ service. jobStore may be nil when only message
// entries are recorded.
func NewService(store Store, jobStore job.Store, opts ...Option) *Service {
	s := &Service{store: store, jobStore: jobStore}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push records a job that exhausted its retries.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	return s.store.PushDLQ(ctx, &Entry{
		ID:         id.NewDLQID(),
		Source:     SourceJob,
		JobID:      j.ID,
		JobName:    j.Name,
		Queue:      j.Queue,
		Key:        j.Key,
		Payload:    j.Payload,
		Error:      jobErr.Error(),
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		FailedAt:   now,
		CreatedAt:  now,
	})
}

// PushMessage records a broker message that was acknowledged without
// being processed.
func (s *Service) PushMessage(ctx context.Context, subject string, data []byte, deliveryCount int, msgErr error) error {
	now := time.Now().UTC()
	return s.store.PushDLQ(ctx, &Entry{
		ID:            id.NewDLQID(),
		Source:        SourceMessage,
		Subject:       subject,
		DeliveryCount: deliveryCount,
		Payload:       append([]byte(nil), data...),
		Error:         msgErr.Error(),
		FailedAt:      now,
		CreatedAt:     now,
	})
}

// DLQStore returns the underlying store for List, Get, Purge and Count.
func (s *Service) DLQStore() Store {
	return s.store
}
