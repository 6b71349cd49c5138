package consumer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for consumer metrics.
const MeterName = "github.com/xraph/broadcast/consumer"

type instruments struct {
	messages  metric.Int64Counter
	updates   metric.Int64Counter
	batchSize metric.Int64Histogram
	flushTime metric.Float64Histogram
}

func newInstruments(meter metric.Meter) instruments {
	// The metric API returns usable noop instruments alongside any error.
	messages, _ := meter.Int64Counter("broadcast.consumer.messages",
		metric.WithDescription("Task outcome messages handled, by action"),
		metric.WithUnit("{message}"))
	updates, _ := meter.Int64Counter("broadcast.consumer.updates",
		metric.WithDescription("Task updates written, by result"),
		metric.WithUnit("{update}"))
	batchSize, _ := meter.Int64Histogram("broadcast.consumer.batch.size",
		metric.WithDescription("Distinct tasks per flushed batch"),
		metric.WithUnit("{update}"))
	flushTime, _ := meter.Float64Histogram("broadcast.consumer.flush.duration",
		metric.WithDescription("Duration of batch bulk writes"),
		metric.WithUnit("s"))
	return instruments{messages: messages, updates: updates, batchSize: batchSize, flushTime: flushTime}
}

func (in instruments) message(ctx context.Context, a Action) {
	in.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("action", a.String())))
}

func (in instruments) batch(ctx context.Context, size, successful, failed int, seconds float64) {
	in.batchSize.Record(ctx, int64(size))
	in.flushTime.Record(ctx, seconds)
	in.updates.Add(ctx, int64(successful), metric.WithAttributes(attribute.String("result", "successful")))
	in.updates.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("result", "failed")))
}
