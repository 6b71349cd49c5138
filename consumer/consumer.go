package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/backoff"
	"github.com/xraph/broadcast/task"
)

// Defaults mirror the durable consumer's server-side configuration.
const (
	DefaultBatchSize    = 100
	DefaultBatchTimeout = time.Second
	DefaultFetchMax     = 100
	DefaultFetchExpires = 30 * time.Second
	DefaultMaxDeliver   = 3
	DefaultRetryDelay   = 5 * time.Second
	shutdownFlushBudget = 10 * time.Second
)

// Consumer is the durable outcome consumer. Create it with New and drive
// it with Run.
type Consumer struct {
	source      Source
	writer      Writer
	deadLetters DeadLetters
	logger      *slog.Logger

	batchSize    int
	batchTimeout time.Duration
	fetchMax     int
	fetchExpires time.Duration
	maxDeliver   int
	retryDelay   time.Duration
	nakBackoff   backoff.Strategy

	meterProvider metric.MeterProvider
	metrics       instruments

	// mu guards buffer, timer and stats.
	mu     sync.Mutex
	buffer map[string]task.Event
	timer  *time.Timer
	stats  Stats

	// flushMu serializes bulk writes so batches land in order.
	flushMu sync.Mutex

	stateMu  sync.Mutex
	running  bool
	closed   bool
	paused   bool
	resumeCh chan struct{}
}

// New creates a Consumer reading from source and writing to writer.
func New(source Source, writer Writer, opts ...Option) *Consumer {
	c := &Consumer{
		source:       source,
		writer:       writer,
		logger:       slog.Default(),
		batchSize:    DefaultBatchSize,
		batchTimeout: DefaultBatchTimeout,
		fetchMax:     DefaultFetchMax,
		fetchExpires: DefaultFetchExpires,
		maxDeliver:   DefaultMaxDeliver,
		retryDelay:   DefaultRetryDelay,
		nakBackoff:   backoff.Constant(0),
		buffer:       make(map[string]task.Event),
		resumeCh:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	mp := c.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	c.metrics = newInstruments(mp.Meter(MeterName))
	return c
}

// Run fetches and handles messages until ctx is cancelled, then flushes
// the buffer and releases the source. Fetch errors are logged and retried
// after the retry delay; they never end Run. Run can be called once.
func (c *Consumer) Run(ctx context.Context) error {
	c.stateMu.Lock()
	if c.closed || c.running {
		c.stateMu.Unlock()
		return broadcast.ErrConsumerClosed
	}
	c.running = true
	c.stateMu.Unlock()

	c.logger.Info("task consumer started",
		slog.Int("batch_size", c.batchSize),
		slog.Duration("batch_timeout", c.batchTimeout),
		slog.Int("fetch_max", c.fetchMax),
	)

	defer c.shutdown(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if c.IsPaused() {
			select {
			case <-ctx.Done():
				return nil
			case <-c.resumeCh:
			}
			continue
		}

		msgs, err := c.source.Fetch(ctx, c.fetchMax, c.fetchExpires)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("fetch failed", slog.String("error", err.Error()))
			if !sleep(ctx, c.retryDelay) {
				return nil
			}
			continue
		}

		for _, m := range msgs {
			c.settle(ctx, m, c.handle(ctx, m))
		}
	}
}

// handle decodes m and buffers it.
func (c *Consumer) handle(ctx context.Context, m Message) Result {
	ev, err := task.DecodeEvent(m.Data())
	if err != nil {
		return Retry(err)
	}
	c.add(ctx, ev)
	return Ok()
}

func (c *Consumer) settle(ctx context.Context, m Message, r Result) {
	deliveries := m.Deliveries()
	r = settle(r, deliveries, c.maxDeliver)
	c.metrics.message(ctx, r.Action)

	switch r.Action {
	case ActionAck:
		if err := m.Ack(); err != nil {
			c.logger.Warn("ack failed", slog.String("subject", m.Subject()), slog.String("error", err.Error()))
		}

	case ActionRetry:
		c.logger.Error("failed to process message",
			slog.String("subject", m.Subject()),
			slog.Uint64("deliveries", deliveries),
			slog.String("error", r.Err.Error()),
		)
		if err := m.Nak(c.nakBackoff.Delay(int(deliveries))); err != nil {
			c.logger.Warn("nak failed", slog.String("subject", m.Subject()), slog.String("error", err.Error()))
		}

	case ActionDrop:
		c.logger.Error("task update failed after max retries",
			slog.String("subject", m.Subject()),
			slog.String("task_id", peekTaskID(m.Data())),
			slog.Uint64("deliveries", deliveries),
			slog.String("error", r.Err.Error()),
		)
		if c.deadLetters != nil {
			if err := c.deadLetters.PushMessage(ctx, m.Subject(), m.Data(), int(deliveries), r.Err); err != nil {
				c.logger.Error("failed to record dead letter", slog.String("error", err.Error()))
			}
		}
		if err := m.Ack(); err != nil {
			c.logger.Warn("ack failed", slog.String("subject", m.Subject()), slog.String("error", err.Error()))
		}
	}
}

// add buffers ev, replacing any earlier event for the same task, and
// flushes or arms the batch timer.
func (c *Consumer) add(ctx context.Context, ev task.Event) {
	c.mu.Lock()
	c.buffer[ev.TaskID] = ev
	full := len(c.buffer) >= c.batchSize
	if !full && c.timer == nil {
		c.timer = time.AfterFunc(c.batchTimeout, func() {
			c.Flush(context.WithoutCancel(ctx))
		})
	}
	c.mu.Unlock()

	if full {
		c.Flush(ctx)
	}
}

// Flush writes every buffered update as one bulk write. It is safe to call
// concurrently; an empty buffer is a no-op. Write errors are counted into
// Stats and logged, never returned.
func (c *Consumer) Flush(ctx context.Context) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	events := c.buffer
	c.buffer = make(map[string]task.Event, c.batchSize)
	c.mu.Unlock()

	now := time.Now().UTC()
	updates := make([]task.Update, 0, len(events))
	for _, ev := range events {
		updates = append(updates, task.UpdateFromEvent(ev, now))
	}

	start := time.Now()
	res, err := c.writer.BulkUpdate(ctx, updates)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Error("batch processing error",
			slog.Int("batch_size", len(updates)),
			slog.String("error", err.Error()),
		)
		res = task.BulkResult{Failed: len(updates)}
	}

	c.mu.Lock()
	c.stats.record(res.Successful, res.Failed, time.Now().UTC())
	c.mu.Unlock()
	c.metrics.batch(ctx, len(updates), res.Successful, res.Failed, elapsed.Seconds())

	if err != nil {
		return
	}
	c.logger.Info("batch processed",
		slog.Int("successful", res.Successful),
		slog.Int("failed", res.Failed),
		slog.Int("total", len(updates)),
		slog.Duration("duration", elapsed),
	)
	if res.Failed > 0 {
		c.logger.Error("some task updates failed in batch",
			slog.Int("failed", res.Failed),
			slog.Int("attempted", len(updates)),
		)
	}
}

// Pause stops fetching after the current batch of messages. Buffered
// updates are kept and still flushed by the timer.
func (c *Consumer) Pause() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.logger.Info("task consumer paused")
}

// Resume restarts fetching.
func (c *Consumer) Resume() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
	c.logger.Info("task consumer resumed")
}

// IsPaused reports whether fetching is paused.
func (c *Consumer) IsPaused() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.paused
}

// IsRunning reports whether Run is active and not paused.
func (c *Consumer) IsRunning() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.running && !c.paused
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	s := c.stats
	s.Buffered = len(c.buffer)
	if s.LastProcessedAt != nil {
		at := *s.LastProcessedAt
		s.LastProcessedAt = &at
	}
	c.mu.Unlock()

	c.stateMu.Lock()
	s.Running = c.running
	s.Paused = c.paused
	c.stateMu.Unlock()
	return s
}

func (c *Consumer) shutdown(ctx context.Context) {
	c.logger.Info("task consumer shutting down")

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushBudget)
	defer cancel()
	c.Flush(flushCtx)

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if err := c.source.Close(); err != nil {
		c.logger.Warn("failed to release consumer", slog.String("error", err.Error()))
	}

	c.stateMu.Lock()
	c.running = false
	c.closed = true
	c.stateMu.Unlock()

	c.logger.Info("task consumer stopped", slog.Any("stats", c.Stats()))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// peekTaskID extracts the task id from a payload for logging, if it is
// there at all.
func peekTaskID(data []byte) string {
	var probe struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.TaskID
}
