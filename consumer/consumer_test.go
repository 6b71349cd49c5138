package consumer_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/consumer"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/store/memory"
	"github.com/xraph/broadcast/task"
)

// ──────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────

type fakeMessage struct {
	subject    string
	data       []byte
	deliveries uint64

	acked  atomic.Bool
	naked  atomic.Bool
	once   sync.Once
	closed chan struct{}
}

func newMessage(deliveries uint64, data string) *fakeMessage {
	return &fakeMessage{
		subject:    "v1.tasks.updates.agent-1",
		data:       []byte(data),
		deliveries: deliveries,
		closed:     make(chan struct{}),
	}
}

func event(taskID string, status task.Status) string {
	return fmt.Sprintf(`{"taskId":%q,"status":%q,"agentId":"agent-1","companyId":"co-1"}`, taskID, status)
}

func (m *fakeMessage) Subject() string    { return m.subject }
func (m *fakeMessage) Data() []byte       { return m.data }
func (m *fakeMessage) Deliveries() uint64 { return m.deliveries }

func (m *fakeMessage) Ack() error {
	m.acked.Store(true)
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *fakeMessage) Nak(time.Duration) error {
	m.naked.Store(true)
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *fakeMessage) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("message was never settled")
	}
}

type fakeSource struct {
	batches chan []consumer.Message
	fetches atomic.Int32
	closed  atomic.Bool
	failN   atomic.Int32
}

func newSource() *fakeSource {
	return &fakeSource{batches: make(chan []consumer.Message, 16)}
}

func (s *fakeSource) push(msgs ...*fakeMessage) {
	batch := make([]consumer.Message, len(msgs))
	for i, m := range msgs {
		batch[i] = m
	}
	s.batches <- batch
}

func (s *fakeSource) Fetch(ctx context.Context, _ int, _ time.Duration) ([]consumer.Message, error) {
	s.fetches.Add(1)
	if s.failN.Load() > 0 {
		s.failN.Add(-1)
		return nil, errors.New("connection reset")
	}
	select {
	case b := <-s.batches:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]task.Update
	err     error
}

func (w *fakeWriter) BulkUpdate(_ context.Context, updates []task.Update) (task.BulkResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, updates)
	if w.err != nil {
		return task.BulkResult{}, w.err
	}
	return task.BulkResult{Successful: len(updates)}, nil
}

func (w *fakeWriter) snapshot() [][]task.Update {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]task.Update(nil), w.batches...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func start(t *testing.T, c *consumer.Consumer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestConsumer_CoalescesByTask(t *testing.T) {
	t.Parallel()
	src, w := newSource(), &fakeWriter{}
	c := consumer.New(src, w,
		consumer.WithLogger(testLogger()),
		consumer.WithBatchTimeout(50*time.Millisecond),
	)
	start(t, c)

	msgs := []*fakeMessage{
		newMessage(1, event("t1", task.StatusProcessing)),
		newMessage(1, event("t1", task.StatusCompleted)),
		newMessage(1, event("t2", task.StatusError)),
	}
	src.push(msgs...)

	waitFor(t, "timer flush", func() bool { return len(w.snapshot()) == 1 })
	batch := w.snapshot()[0]
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	got := map[string]task.Status{}
	for _, u := range batch {
		got[u.TaskID] = u.Status
	}
	if got["t1"] != task.StatusCompleted {
		t.Errorf("t1 status = %s, want last write COMPLETED", got["t1"])
	}
	if got["t2"] != task.StatusError {
		t.Errorf("t2 status = %s, want ERROR", got["t2"])
	}
	for i, m := range msgs {
		if !m.acked.Load() {
			t.Errorf("message %d not acked", i)
		}
	}
}

func TestConsumer_FlushOnBatchSize(t *testing.T) {
	t.Parallel()
	src, w := newSource(), &fakeWriter{}
	c := consumer.New(src, w,
		consumer.WithLogger(testLogger()),
		consumer.WithBatchSize(3),
		consumer.WithBatchTimeout(time.Hour),
	)
	start(t, c)

	src.push(
		newMessage(1, event("a", task.StatusCompleted)),
		newMessage(1, event("b", task.StatusCompleted)),
		newMessage(1, event("c", task.StatusCompleted)),
		newMessage(1, event("d", task.StatusCompleted)),
	)

	waitFor(t, "size flush", func() bool { return len(w.snapshot()) == 1 })
	if n := len(w.snapshot()[0]); n != 3 {
		t.Fatalf("flushed %d updates, want 3", n)
	}
	waitFor(t, "buffered remainder", func() bool { return c.Stats().Buffered == 1 })
}

func TestConsumer_FlushOnBatchTimeout(t *testing.T) {
	t.Parallel()
	const timeout = 200 * time.Millisecond
	src, w := newSource(), &fakeWriter{}
	c := consumer.New(src, w,
		consumer.WithLogger(testLogger()),
		consumer.WithBatchSize(5),
		consumer.WithBatchTimeout(timeout),
	)
	start(t, c)

	pushed := time.Now()
	src.push(
		newMessage(1, event("a", task.StatusCompleted)),
		newMessage(1, event("b", task.StatusCompleted)),
		newMessage(1, event("c", task.StatusCompleted)),
		newMessage(1, event("d", task.StatusCompleted)),
	)

	waitFor(t, "events buffered", func() bool { return c.Stats().Buffered == 4 })
	if n := len(w.snapshot()); n != 0 && time.Since(pushed) < timeout {
		t.Fatalf("flushed %d batches before the batch timeout", n)
	}

	waitFor(t, "timer flush", func() bool { return len(w.snapshot()) == 1 })
	if elapsed := time.Since(pushed); elapsed < timeout {
		t.Errorf("flushed after %s, want at least %s", elapsed, timeout)
	}
	time.Sleep(timeout / 2)
	batches := w.snapshot()
	if len(batches) != 1 || len(batches[0]) != 4 {
		t.Fatalf("batches = %d, want exactly one batch of 4", len(batches))
	}
}

func TestConsumer_PoisonMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		deliveries uint64
		wantNak    bool
		wantDLQ    int64
	}{
		{"first delivery is retried", 1, true, 0},
		{"second delivery is retried", 2, true, 0},
		{"final delivery is dropped", 3, false, 1},
		{"later deliveries are dropped", 4, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mem := memory.New()
			src, w := newSource(), &fakeWriter{}
			c := consumer.New(src, w,
				consumer.WithLogger(testLogger()),
				consumer.WithMaxDeliver(3),
				consumer.WithDeadLetters(dlq.NewService(mem, nil)),
			)
			start(t, c)

			m := newMessage(tt.deliveries, `{"taskId":`)
			src.push(m)
			m.wait(t)

			if m.naked.Load() != tt.wantNak {
				t.Errorf("naked = %v, want %v", m.naked.Load(), tt.wantNak)
			}
			if m.acked.Load() == tt.wantNak {
				t.Errorf("acked = %v, want %v", m.acked.Load(), !tt.wantNak)
			}
			n, err := mem.CountDLQ(context.Background())
			if err != nil {
				t.Fatalf("CountDLQ: %v", err)
			}
			if n != tt.wantDLQ {
				t.Errorf("dlq entries = %d, want %d", n, tt.wantDLQ)
			}
		})
	}
}

func TestConsumer_ShutdownFlushes(t *testing.T) {
	t.Parallel()
	src, w := newSource(), &fakeWriter{}
	c := consumer.New(src, w,
		consumer.WithLogger(testLogger()),
		consumer.WithBatchTimeout(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	m := newMessage(1, event("t1", task.StatusCompleted))
	src.push(m)
	m.wait(t)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if got := len(w.snapshot()); got != 1 {
		t.Fatalf("batches after shutdown = %d, want 1", got)
	}
	if !src.closed.Load() {
		t.Error("source not closed")
	}
	if err := c.Run(context.Background()); !errors.Is(err, broadcast.ErrConsumerClosed) {
		t.Errorf("second Run err = %v, want ErrConsumerClosed", err)
	}
}

func TestConsumer_BulkErrorCountsWholeBatch(t *testing.T) {
	t.Parallel()
	src := newSource()
	w := &fakeWriter{err: errors.New("connection lost")}
	c := consumer.New(src, w,
		consumer.WithLogger(testLogger()),
		consumer.WithBatchSize(2),
	)
	start(t, c)

	src.push(
		newMessage(1, event("a", task.StatusCompleted)),
		newMessage(1, event("b", task.StatusError)),
	)

	waitFor(t, "failed batch", func() bool { return c.Stats().BatchesProcessed == 1 })
	s := c.Stats()
	if s.Failed != 2 || s.Processed != 0 {
		t.Errorf("stats = %+v, want failed 2 processed 0", s)
	}
}

func TestConsumer_StatsAverage(t *testing.T) {
	t.Parallel()
	mem := memory.New()
	ctx := context.Background()
	tasks := make([]*task.Task, 5)
	for i := range tasks {
		tasks[i] = &task.Task{TaskType: task.TypeBroadcast, Status: task.StatusPending, BatchID: "b1"}
	}
	if err := mem.CreateMany(ctx, tasks); err != nil {
		t.Fatalf("CreateMany: %v", err)
	}

	src := newSource()
	c := consumer.New(src, mem,
		consumer.WithLogger(testLogger()),
		consumer.WithBatchSize(3),
		consumer.WithBatchTimeout(time.Hour),
	)
	start(t, c)

	src.push(
		newMessage(1, event(tasks[0].ID, task.StatusCompleted)),
		newMessage(1, event(tasks[1].ID, task.StatusCompleted)),
		newMessage(1, event(tasks[2].ID, task.StatusCompleted)),
	)
	waitFor(t, "first batch", func() bool { return c.Stats().BatchesProcessed == 1 })

	src.push(
		newMessage(1, event(tasks[3].ID, task.StatusError)),
		newMessage(1, event(tasks[4].ID, task.StatusCompleted)),
		newMessage(1, event("not-an-object-id", task.StatusCompleted)),
	)
	waitFor(t, "second batch", func() bool { return c.Stats().BatchesProcessed == 2 })

	s := c.Stats()
	if s.Processed != 5 || s.Failed != 1 {
		t.Errorf("processed=%d failed=%d, want 5 and 1", s.Processed, s.Failed)
	}
	if s.AvgBatchSize != 3 {
		t.Errorf("avg batch size = %d, want round(5/2) = 3", s.AvgBatchSize)
	}
	if s.LastProcessedAt == nil {
		t.Error("last processed time not set")
	}
	got, ok := mem.Task(tasks[3].ID)
	if !ok || got.Status != task.StatusError || got.FinishedAt == nil {
		t.Errorf("task 3 = %+v, want ERROR with finish time", got)
	}
}

func TestConsumer_PauseResume(t *testing.T) {
	t.Parallel()
	src, w := newSource(), &fakeWriter{}
	c := consumer.New(src, w, consumer.WithLogger(testLogger()))
	c.Pause()
	start(t, c)

	waitFor(t, "running", func() bool { return c.Stats().Running })
	time.Sleep(30 * time.Millisecond)
	if n := src.fetches.Load(); n != 0 {
		t.Fatalf("fetched %d times while paused", n)
	}
	if !c.Stats().Paused || c.IsRunning() {
		t.Fatalf("stats = %+v, want paused", c.Stats())
	}

	c.Resume()
	waitFor(t, "fetch after resume", func() bool { return src.fetches.Load() > 0 })
	if c.IsPaused() {
		t.Error("still paused after Resume")
	}
}

func TestConsumer_FetchErrorRetries(t *testing.T) {
	t.Parallel()
	src, w := newSource(), &fakeWriter{}
	src.failN.Store(2)
	c := consumer.New(src, w,
		consumer.WithLogger(testLogger()),
		consumer.WithRetryDelay(5*time.Millisecond),
		consumer.WithBatchTimeout(10*time.Millisecond),
	)
	start(t, c)

	m := newMessage(1, event("t1", task.StatusCompleted))
	src.push(m)
	m.wait(t)
	waitFor(t, "flush after fetch errors", func() bool { return len(w.snapshot()) == 1 })
	if n := src.fetches.Load(); n < 3 {
		t.Errorf("fetches = %d, want at least 3", n)
	}
}

func TestConsumer_Metrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src, w := newSource(), &fakeWriter{}
	c := consumer.New(src, w,
		consumer.WithLogger(testLogger()),
		consumer.WithMeterProvider(mp),
		consumer.WithBatchSize(1),
	)
	start(t, c)

	ok := newMessage(1, event("t1", task.StatusCompleted))
	bad := newMessage(1, `not json`)
	src.push(ok, bad)
	ok.wait(t)
	bad.wait(t)
	waitFor(t, "flush", func() bool { return len(w.snapshot()) == 1 })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != consumer.MeterName {
			continue
		}
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, name := range []string{
		"broadcast.consumer.messages",
		"broadcast.consumer.updates",
		"broadcast.consumer.batch.size",
		"broadcast.consumer.flush.duration",
	} {
		if !found[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}
