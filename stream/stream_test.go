package stream_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/consumer"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/store/memory"
	"github.com/xraph/broadcast/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubjects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		got, want string
	}{
		{stream.TaskUpdateSubject("a1"), "v1.tasks.updates.a1"},
		{stream.ProgressSubject("a1"), "v1.broadcasts.progress.a1"},
		{stream.ControlSubject("a1"), "v1.broadcast.control.a1"},
		{stream.AgentFromSubject("v1.tasks.updates.a1"), "a1"},
		{stream.AgentFromSubject("bare"), ""},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestConsumerConfig(t *testing.T) {
	t.Parallel()
	cc := stream.ConsumerConfig(broadcast.DefaultConfig().Consumer)

	if cc.Durable != "task-update-consumer" {
		t.Errorf("durable = %q", cc.Durable)
	}
	if cc.FilterSubject != "v1.tasks.updates.*" {
		t.Errorf("filter = %q", cc.FilterSubject)
	}
	if cc.AckPolicy != jetstream.AckExplicitPolicy {
		t.Errorf("ack policy = %v, want explicit", cc.AckPolicy)
	}
	if cc.MaxDeliver != 3 || cc.AckWait != 30*time.Second || cc.MaxAckPending != 1000 {
		t.Errorf("limits = %d/%s/%d", cc.MaxDeliver, cc.AckWait, cc.MaxAckPending)
	}
	if cc.Metadata["deliver_group"] != "broadcast-service-consumers" {
		t.Errorf("deliver group = %q", cc.Metadata["deliver_group"])
	}
}

func TestStreamConfigs_SubjectsDoNotOverlap(t *testing.T) {
	t.Parallel()
	seen := map[string]string{}
	for _, sc := range stream.StreamConfigs(broadcast.DefaultConfig().NATS) {
		for _, subj := range sc.Subjects {
			if other, ok := seen[subj]; ok {
				t.Errorf("subject %s in both %s and %s", subj, other, sc.Name)
			}
			seen[subj] = sc.Name
		}
	}
	if seen["v1.tasks.updates.*"] != "task_updates_stream" {
		t.Errorf("task updates bound to %q", seen["v1.tasks.updates.*"])
	}
	if seen["v1.broadcasts.progress.*"] != "broadcast_progress_stream" {
		t.Errorf("progress bound to %q", seen["v1.broadcasts.progress.*"])
	}
}

// ──────────────────────────────────────────────────
// Message adapter
// ──────────────────────────────────────────────────

type fakeMsg struct {
	jetstream.Msg
	md        *jetstream.MsgMetadata
	mdErr     error
	nakDelay  time.Duration
	naked     bool
	nakDelays bool
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) { return m.md, m.mdErr }
func (m *fakeMsg) Nak() error                                { m.naked = true; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.nakDelays = true
	m.nakDelay = d
	return nil
}

func TestMessage_Deliveries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  *fakeMsg
		want uint64
	}{
		{"from metadata", &fakeMsg{md: &jetstream.MsgMetadata{NumDelivered: 2}}, 2},
		{"metadata error", &fakeMsg{mdErr: errors.New("not a jetstream message")}, 1},
		{"zero count", &fakeMsg{md: &jetstream.MsgMetadata{}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := stream.WrapMessage(tt.msg).Deliveries(); got != tt.want {
				t.Errorf("Deliveries() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMessage_Nak(t *testing.T) {
	t.Parallel()
	plain := &fakeMsg{}
	if err := stream.WrapMessage(plain).Nak(0); err != nil {
		t.Fatal(err)
	}
	if !plain.naked || plain.nakDelays {
		t.Errorf("zero delay should use plain Nak")
	}

	delayed := &fakeMsg{}
	if err := stream.WrapMessage(delayed).Nak(time.Second); err != nil {
		t.Fatal(err)
	}
	if !delayed.nakDelays || delayed.nakDelay != time.Second {
		t.Errorf("delay not forwarded: %v", delayed.nakDelay)
	}
}

// ──────────────────────────────────────────────────
// Progress listener
// ──────────────────────────────────────────────────

func TestProgressListener_Handle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	st := state.New(state.NewParams{BatchID: "b1", AgentID: "a1", Total: 2})
	st.Status = state.StatusProcessing
	if _, err := mem.Put(ctx, state.Key("a1", "b1"), st); err != nil {
		t.Fatalf("Put: %v", err)
	}
	l := stream.NewProgressListener(mem, testLogger())

	tests := []struct {
		name string
		data string
		want consumer.Action
	}{
		{"completed", `{"agentId":"a1","batchId":"b1","status":"COMPLETED","phoneNumber":"628"}`, consumer.ActionAck},
		{"unknown campaign", `{"agentId":"a1","batchId":"nope","status":"ERROR"}`, consumer.ActionAck},
		{"malformed", `{"agentId":`, consumer.ActionDrop},
		{"missing batch", `{"agentId":"a1","status":"COMPLETED"}`, consumer.ActionDrop},
		{"unknown status", `{"agentId":"a1","batchId":"b1","status":"SENT"}`, consumer.ActionDrop},
	}
	for _, tt := range tests {
		if got := l.Handle(ctx, []byte(tt.data)); got.Action != tt.want {
			t.Errorf("%s: action = %s, want %s (err %v)", tt.name, got.Action, tt.want, got.Err)
		}
	}

	cur, err := mem.Get(ctx, state.Key("a1", "b1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.Value.Completed != 1 || cur.Value.Processed != 1 {
		t.Errorf("counters = %+v, want one completed", cur.Value)
	}
}

type exhaustedStore struct {
	state.Store
}

func (exhaustedStore) CompareAndSwap(context.Context, string, state.BroadcastState, uint64) (uint64, error) {
	return 0, broadcast.ErrConcurrencyConflict
}

func TestProgressListener_ExhaustedIsRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	st := state.New(state.NewParams{BatchID: "b1", AgentID: "a1", Total: 2})
	st.Status = state.StatusProcessing
	if _, err := mem.Put(ctx, state.Key("a1", "b1"), st); err != nil {
		t.Fatalf("Put: %v", err)
	}

	l := stream.NewProgressListener(exhaustedStore{mem}, testLogger())
	r := l.Handle(ctx, []byte(`{"agentId":"a1","batchId":"b1","status":"COMPLETED"}`))
	if r.Action != consumer.ActionRetry {
		t.Fatalf("action = %s, want retry", r.Action)
	}
	if !errors.Is(r.Err, broadcast.ErrConcurrencyExhausted) {
		t.Errorf("err = %v, want ErrConcurrencyExhausted", r.Err)
	}
}
