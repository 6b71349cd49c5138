package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/store/memory"
)

type captureRepublisher struct {
	subject string
	data    []byte
}

func (c *captureRepublisher) Republish(_ context.Context, subject string, data []byte) error {
	c.subject, c.data = subject, data
	return nil
}

func onlyEntry(t *testing.T, s dlq.Store) *dlq.Entry {
	t.Helper()
	entries, err := s.ListDLQ(context.Background(), dlq.ListOpts{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListDLQ = %d entries, %v; want 1", len(entries), err)
	}
	return entries[0]
}

func TestReplay_Job(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	svc := dlq.NewService(store, store)

	failed := &job.Job{
		ID:         id.NewJobID(),
		Name:       "signal-broadcast-start",
		Queue:      "default",
		Key:        "bcast_1",
		Payload:    []byte(`{"batchId":"bcast_1"}`),
		State:      job.StateFailed,
		RetryCount: 3,
		MaxRetries: 3,
	}
	if err := svc.Push(ctx, failed, errors.New("nats down")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entry := onlyEntry(t, store)
	if entry.Source != dlq.SourceJob || entry.JobName != failed.Name || entry.Error != "nats down" {
		t.Fatalf("entry = %+v", entry)
	}

	if err := svc.Replay(ctx, entry.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	pending, _ := store.ListJobsByState(ctx, job.StatePending, job.ListOpts{})
	if len(pending) != 1 {
		t.Fatalf("pending jobs = %d, want 1", len(pending))
	}
	j := pending[0]
	if j.ID.String() == failed.ID.String() || j.RetryCount != 0 || j.Key != failed.Key || string(j.Payload) != string(failed.Payload) {
		t.Errorf("replayed job = %+v", j)
	}
	if got := onlyEntry(t, store); got.ReplayedAt == nil {
		t.Error("entry not marked replayed")
	}
}

func TestReplay_Message(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	repub := &captureRepublisher{}
	svc := dlq.NewService(store, nil, dlq.WithRepublisher(repub))

	data := []byte(`{"taskId":"x"}`)
	if err := svc.PushMessage(ctx, "v1.tasks.updates.a1", data, 3, errors.New("decode")); err != nil {
		t.Fatalf("PushMessage: %v", err)
	}
	data[0] = 'X'

	entry := onlyEntry(t, store)
	if entry.Source != dlq.SourceMessage || entry.DeliveryCount != 3 || entry.Payload[0] != '{' {
		t.Fatalf("entry = %+v", entry)
	}

	if err := svc.Replay(ctx, entry.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if repub.subject != "v1.tasks.updates.a1" || string(repub.data) != `{"taskId":"x"}` {
		t.Errorf("republished %s %s", repub.subject, repub.data)
	}
}

func TestReplay_Unsupported(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	svc := dlq.NewService(store, nil)

	if err := svc.PushMessage(ctx, "s", []byte("{}"), 2, errors.New("x")); err != nil {
		t.Fatal(err)
	}
	if err := svc.Push(ctx, &job.Job{ID: id.NewJobID(), Name: "n"}, errors.New("y")); err != nil {
		t.Fatal(err)
	}

	entries, _ := store.ListDLQ(ctx, dlq.ListOpts{})
	for _, e := range entries {
		if err := svc.Replay(ctx, e.ID); !errors.Is(err, dlq.ErrReplayUnsupported) {
			t.Errorf("Replay(%s) = %v, want ErrReplayUnsupported", e.Source, err)
		}
	}

	if err := svc.Replay(ctx, id.NewDLQID()); !errors.Is(err, broadcast.ErrDLQNotFound) {
		t.Errorf("Replay(missing) = %v, want ErrDLQNotFound", err)
	}
}

func TestPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	svc := dlq.NewService(store, nil)

	if err := svc.PushMessage(ctx, "s", nil, 3, errors.New("x")); err != nil {
		t.Fatal(err)
	}
	n, err := svc.DLQStore().PurgeDLQ(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("PurgeDLQ(past) = %d, %v", n, err)
	}
	n, err = svc.DLQStore().PurgeDLQ(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeDLQ(future) = %d, %v", n, err)
	}
}
