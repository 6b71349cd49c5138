package consumer

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/broadcast/backoff"
)

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) { c.logger = l }
}

// WithBatchSize sets how many distinct tasks trigger a flush.
func WithBatchSize(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithBatchTimeout sets the maximum age of the oldest buffered event.
func WithBatchTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.batchTimeout = d
		}
	}
}

// WithFetch sets the pull batch size and server-side wait.
func WithFetch(maxMessages int, expires time.Duration) Option {
	return func(c *Consumer) {
		if maxMessages > 0 {
			c.fetchMax = maxMessages
		}
		if expires > 0 {
			c.fetchExpires = expires
		}
	}
}

// WithMaxDeliver sets the delivery budget configured on the durable
// consumer. A message still failing on its maxDeliver-th delivery is
// acknowledged and dropped.
func WithMaxDeliver(n int) Option {
	return func(c *Consumer) { c.maxDeliver = n }
}

// WithRetryDelay sets the pause after a failed fetch.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Consumer) { c.retryDelay = d }
}

// WithNakBackoff sets the redelivery delay requested on nak.
func WithNakBackoff(b backoff.Strategy) Option {
	return func(c *Consumer) { c.nakBackoff = b }
}

// WithDeadLetters records dropped messages.
func WithDeadLetters(d DeadLetters) Option {
	return func(c *Consumer) { c.deadLetters = d }
}

// WithMeterProvider sets the provider for consumer metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Consumer) { c.meterProvider = mp }
}
