package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/broadcast/job"
)

// TracerName is the instrumentation scope for scheduler spans.
const TracerName = "github.com/xraph/broadcast/worker"

// Tracing wraps job execution in a span from the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(TracerName))
}

// TracingWithTracer wraps job execution in a "broadcast.job.execute" span.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "broadcast.job.execute",
			trace.WithAttributes(
				attribute.String("broadcast.job.id", j.ID.String()),
				attribute.String("broadcast.job.name", j.Name),
				attribute.String("broadcast.job.key", j.Key),
				attribute.String("broadcast.queue", j.Queue),
				attribute.Int("broadcast.retry_count", j.RetryCount),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
