package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/broadcast/job"
)

// Logging logs each attempt at Debug and its outcome. Failures that will
// be retried log at Warn; the final failure logs at Error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		l := logger.With(
			slog.String("job", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("batch_id", j.Key),
			slog.String("agent_id", j.Tenant),
			slog.Int("attempt", j.RetryCount+1),
		)
		l.Debug("job started")

		start := time.Now()
		err := next(ctx)
		elapsed := slog.Duration("elapsed", time.Since(start))

		switch {
		case err == nil:
			l.Info("job completed", elapsed)
		case j.RetryCount < j.MaxRetries:
			l.Warn("job attempt failed", elapsed, slog.String("error", err.Error()))
		default:
			l.Error("job failed", elapsed, slog.String("error", err.Error()))
		}
		return err
	}
}
