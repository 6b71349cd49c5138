package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/broadcast/job"
)

// MeterName is the instrumentation scope for scheduler metrics.
const MeterName = "github.com/xraph/broadcast/worker"

// Metrics records job metrics with the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(MeterName))
}

// MetricsWithMeter records job metrics with meter:
//
//   - broadcast.job.duration (histogram, seconds)
//   - broadcast.job.executions (counter)
//
// both labelled job_name, queue and status ("ok" or "error").
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The metric API returns usable noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"broadcast.job.duration",
		metric.WithDescription("Duration of scheduled job execution"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"broadcast.job.executions",
		metric.WithDescription("Scheduled job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
