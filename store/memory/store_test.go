package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/task"
)

// ──────────────────────────────────────────────────
// State Store tests
// ──────────────────────────────────────────────────

func TestState_GetMissing(t *testing.T) {
	t.Parallel()
	s := New()
	_, err := s.Get(context.Background(), "agent.batch")
	if !errors.Is(err, broadcast.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestState_CompareAndSwap(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	st := state.New(state.NewParams{BatchID: "b1", AgentID: "a1", Total: 10})
	rev, err := s.Put(ctx, "a1.b1", st)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	st.Processed = 1
	next, err := s.CompareAndSwap(ctx, "a1.b1", st, rev)
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if next <= rev {
		t.Errorf("revision did not increase: %d -> %d", rev, next)
	}

	// Stale revision loses.
	if _, err := s.CompareAndSwap(ctx, "a1.b1", st, rev); !errors.Is(err, broadcast.ErrConcurrencyConflict) {
		t.Fatalf("stale CAS err = %v, want ErrConcurrencyConflict", err)
	}

	// Absent key is a conflict, not a create.
	if _, err := s.CompareAndSwap(ctx, "a1.nope", st, 0); !errors.Is(err, broadcast.ErrConcurrencyConflict) {
		t.Fatalf("absent CAS err = %v, want ErrConcurrencyConflict", err)
	}
}

func TestState_ValuesAreIsolated(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	st := state.New(state.NewParams{BatchID: "b1", AgentID: "a1", Total: 1, Metadata: []byte(`{"k":1}`)})
	if _, err := s.Put(ctx, "a1.b1", st); err != nil {
		t.Fatal(err)
	}
	st.Metadata[2] = 'X'

	got, _ := s.Get(ctx, "a1.b1")
	if string(got.Value.Metadata) != `{"k":1}` {
		t.Errorf("stored metadata mutated: %s", got.Value.Metadata)
	}
}

func TestState_ListByAgent(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, k := range []struct{ agent, batch string }{{"a1", "b1"}, {"a1", "b2"}, {"a10", "b3"}} {
		st := state.New(state.NewParams{AgentID: k.agent, BatchID: k.batch, Total: 1})
		if _, err := s.Put(ctx, state.Key(k.agent, k.batch), st); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, "a1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List(a1) returned %d entries, want 2", len(got))
	}
	if got[0].Value.BatchID != "b1" || got[1].Value.BatchID != "b2" {
		t.Errorf("unexpected batches: %s, %s", got[0].Value.BatchID, got[1].Value.BatchID)
	}
}

// ──────────────────────────────────────────────────
// Task Store tests
// ──────────────────────────────────────────────────

func seedTasks(t *testing.T, s *Store, batchID string, n int) []*task.Task {
	t.Helper()
	tasks := make([]*task.Task, n)
	for i := range tasks {
		tasks[i] = &task.Task{
			BatchID:  batchID,
			AgentID:  "a1",
			TaskType: task.TypeBroadcast,
			Status:   task.StatusPending,
			Message:  task.TextMessage("hi"),
		}
	}
	if err := s.CreateMany(context.Background(), tasks); err != nil {
		t.Fatalf("CreateMany: %v", err)
	}
	return tasks
}

func TestTask_BulkUpdateCountsInvalidIDs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	tasks := seedTasks(t, s, "b1", 2)

	now := time.Now().UTC()
	res, err := s.BulkUpdate(ctx, []task.Update{
		{TaskID: tasks[0].ID, Status: task.StatusCompleted, UpdatedAt: now, FinishedAt: &now},
		{TaskID: "not-an-object-id", Status: task.StatusCompleted, UpdatedAt: now},
		{TaskID: task.NewID(), Status: task.StatusCompleted, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("BulkUpdate: %v", err)
	}
	if res.Successful != 1 || res.Failed != 2 {
		t.Errorf("result = %+v, want 1 successful, 2 failed", res)
	}

	got, _ := s.Task(tasks[0].ID)
	if got.Status != task.StatusCompleted || got.FinishedAt == nil {
		t.Errorf("task not updated: %+v", got)
	}
}

func TestTask_BulkUpdateCatastrophicFailure(t *testing.T) {
	t.Parallel()
	s := New()
	tasks := seedTasks(t, s, "b1", 3)
	s.FailBulkUpdates(errors.New("connection reset"))

	updates := make([]task.Update, len(tasks))
	for i, tk := range tasks {
		updates[i] = task.Update{TaskID: tk.ID, Status: task.StatusCompleted}
	}
	res, err := s.BulkUpdate(context.Background(), updates)
	if err != nil {
		t.Fatalf("BulkUpdate: %v", err)
	}
	if res.Failed != 3 || res.Successful != 0 {
		t.Errorf("result = %+v, want all failed", res)
	}
}

func TestTask_UpdateStatusByBatchAndCounts(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	seedTasks(t, s, "b1", 3)
	seedTasks(t, s, "b2", 1)

	n, err := s.UpdateStatusByBatch(ctx, "b1", []task.Status{task.StatusPending}, task.StatusProcessing, "")
	if err != nil || n != 3 {
		t.Fatalf("UpdateStatusByBatch = %d, %v; want 3", n, err)
	}

	c, _ := s.CountByBatch(ctx, "b1")
	if c.Processing != 3 || c.Total != 3 {
		t.Errorf("counts = %+v", c)
	}

	batches, _ := s.ListBatches(ctx, task.BatchFilter{Statuses: []task.Status{task.StatusProcessing}})
	if len(batches) != 1 || batches[0] != "b1" {
		t.Errorf("ListBatches = %v, want [b1]", batches)
	}

	batches, _ = s.ListBatches(ctx, task.BatchFilter{UpdatedSince: time.Now().Add(time.Hour)})
	if len(batches) != 0 {
		t.Errorf("ListBatches(future) = %v, want none", batches)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(name, key string, runAt time.Time, priority int) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      "default",
		Key:        key,
		State:      job.StatePending,
		Priority:   priority,
		MaxRetries: 3,
		RunAt:      runAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestJob_DequeueRespectsRunAtAndPriority(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Second)

	low := newJob("low", "", past, 0)
	high := newJob("high", "", past, 5)
	future := newJob("future", "", time.Now().UTC().Add(time.Hour), 10)
	for _, j := range []*job.Job{low, high, future} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("dequeued %d jobs, want 2", len(got))
	}
	if got[0].Name != "high" || got[1].Name != "low" {
		t.Errorf("order = %s, %s", got[0].Name, got[1].Name)
	}
	if got[0].State != job.StateRunning {
		t.Errorf("state = %s, want running", got[0].State)
	}
}

func TestJob_EnqueueDuplicate(t *testing.T) {
	t.Parallel()
	s := New()
	j := newJob("a", "", time.Now(), 0)
	_ = s.EnqueueJob(context.Background(), j)
	if err := s.EnqueueJob(context.Background(), j); !errors.Is(err, broadcast.ErrJobAlreadyExists) {
		t.Fatalf("err = %v, want ErrJobAlreadyExists", err)
	}
}

func TestJob_CancelByKey(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)

	a := newJob("signal-broadcast-start", "b1", future, 0)
	b := newJob("signal-broadcast-start", "b2", future, 0)
	_ = s.EnqueueJob(ctx, a)
	_ = s.EnqueueJob(ctx, b)

	n, err := s.CancelJobs(ctx, job.CancelFilter{Key: "b1"})
	if err != nil || n != 1 {
		t.Fatalf("CancelJobs = %d, %v; want 1", n, err)
	}
	got, _ := s.GetJob(ctx, a.ID)
	if got.State != job.StateCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}
	got, _ = s.GetJob(ctx, b.ID)
	if got.State != job.StatePending {
		t.Errorf("other job state = %s, want pending", got.State)
	}
}

func TestJob_GetMissing(t *testing.T) {
	t.Parallel()
	s := New()
	if _, err := s.GetJob(context.Background(), id.NewJobID()); !errors.Is(err, broadcast.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// DLQ Store tests
// ──────────────────────────────────────────────────

func TestDLQ_PushListPurge(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	old := &dlq.Entry{ID: id.NewDLQID(), Source: dlq.SourceMessage, FailedAt: time.Now().Add(-2 * time.Hour)}
	recent := &dlq.Entry{ID: id.NewDLQID(), Source: dlq.SourceJob, FailedAt: time.Now()}
	_ = s.PushDLQ(ctx, old)
	_ = s.PushDLQ(ctx, recent)

	msgs, _ := s.ListDLQ(ctx, dlq.ListOpts{Source: dlq.SourceMessage})
	if len(msgs) != 1 || msgs[0].ID != old.ID {
		t.Fatalf("ListDLQ(message) = %v", msgs)
	}

	all, _ := s.ListDLQ(ctx, dlq.ListOpts{})
	if len(all) != 2 || all[0].ID != recent.ID {
		t.Fatalf("ListDLQ not newest first")
	}

	n, _ := s.PurgeDLQ(ctx, time.Now().Add(-time.Hour))
	if n != 1 {
		t.Errorf("PurgeDLQ removed %d, want 1", n)
	}
	if c, _ := s.CountDLQ(ctx); c != 1 {
		t.Errorf("CountDLQ = %d, want 1", c)
	}

	if err := s.ReplayDLQ(ctx, old.ID); !errors.Is(err, broadcast.ErrDLQNotFound) {
		t.Errorf("ReplayDLQ purged entry err = %v", err)
	}
}
