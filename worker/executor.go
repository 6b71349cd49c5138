// Package worker runs scheduled jobs: an Executor invokes registered
// handlers through middleware, a Pool polls the job store with a fixed
// number of goroutines, and Engine ties both into a job.Scheduler.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/broadcast/backoff"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/middleware"
)

// Executor runs a single job through middleware and its handler, then
// records the result: completed, retrying with backoff, or failed and
// moved to the DLQ.
type Executor struct {
	registry   *job.Registry
	store      job.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor. dlqService may be nil.
func NewExecutor(
	registry *job.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs j. A job whose name has no handler fails without retry.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		err := fmt.Errorf("no handler registered for job %q", j.Name)
		j.RetryCount = j.MaxRetries
		return e.handleFailure(ctx, j, err, time.Now().UTC())
	}

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(ctx, j, terminal)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	return e.handleSuccess(ctx, j, now)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.RetryCount++
	j.LastError = handlerErr.Error()

	if j.RetryCount <= j.MaxRetries {
		return e.scheduleRetry(ctx, j, handlerErr, now)
	}
	return e.sendToDLQ(ctx, j, handlerErr)
}

func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	delay := e.backoff.Delay(j.RetryCount)
	j.RunAt = now.Add(delay)
	j.State = job.StateRetrying
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
	return fmt.Errorf("job %s retry %d/%d: %w", j.Name, j.RetryCount, j.MaxRetries, handlerErr)
}

func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if e.dlqService != nil {
		if err := e.dlqService.Push(ctx, j, handlerErr); err != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.Warn("job moved to DLQ after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("key", j.Key),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", handlerErr.Error()),
	)
	return handlerErr
}
