package natskv_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/store/natskv"
)

// fakeKV mimics bucket revision semantics: one sequence shared by all
// keys, Update succeeds only against the key's last revision.
type fakeKV struct {
	jetstream.KeyValue

	mu   sync.Mutex
	seq  uint64
	data map[string]*fakeEntry
}

type fakeEntry struct {
	jetstream.KeyValueEntry
	key   string
	value []byte
	rev   uint64
}

func (e *fakeEntry) Key() string      { return e.key }
func (e *fakeEntry) Value() []byte    { return e.value }
func (e *fakeEntry) Revision() uint64 { return e.rev }

type fakeWatcher struct {
	jetstream.KeyWatcher
	ch chan jetstream.KeyValueEntry
}

func (w *fakeWatcher) Updates() <-chan jetstream.KeyValueEntry { return w.ch }
func (w *fakeWatcher) Stop() error                             { return nil }

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]*fakeEntry{}} }

func (f *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return e, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.data[key] = &fakeEntry{key: key, value: value, rev: f.seq}
	return f.seq, nil
}

func (f *fakeKV) Update(_ context.Context, key string, value []byte, last uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok || e.rev != last {
		return 0, &jetstream.APIError{Code: 400, ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence}
	}
	f.seq++
	f.data[key] = &fakeEntry{key: key, value: value, rev: f.seq}
	return f.seq, nil
}

func (f *fakeKV) Watch(_ context.Context, keys string, _ ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(keys, "*")
	ch := make(chan jetstream.KeyValueEntry, len(f.data)+1)
	for k, e := range f.data {
		if strings.HasPrefix(k, prefix) {
			ch <- e
		}
	}
	ch <- nil
	return &fakeWatcher{ch: ch}, nil
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	s := natskv.New(newFakeKV())
	if _, err := s.Get(context.Background(), "a1.b1"); !errors.Is(err, broadcast.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := natskv.New(newFakeKV())

	st := state.New(state.NewParams{BatchID: "b1", AgentID: "a1", Total: 4})
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
		t.Errorf("revision %d did not advance past %d", next, rev)
	}

	if _, err := s.CompareAndSwap(ctx, "a1.b1", st, rev); !errors.Is(err, broadcast.ErrConcurrencyConflict) {
		t.Fatalf("stale swap err = %v, want ErrConcurrencyConflict", err)
	}

	got, err := s.Get(ctx, "a1.b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Revision != next || got.Value.Processed != 1 {
		t.Errorf("got %+v at %d, want processed 1 at %d", got.Value, got.Revision, next)
	}
}

func TestStore_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := natskv.New(newFakeKV())

	for _, k := range []struct{ agent, batch string }{{"a1", "b2"}, {"a1", "b1"}, {"a2", "b3"}} {
		st := state.New(state.NewParams{BatchID: k.batch, AgentID: k.agent, Total: 1})
		if _, err := s.Put(ctx, state.Key(k.agent, k.batch), st); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := s.List(ctx, "a1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Value.BatchID != "b1" || got[1].Value.BatchID != "b2" {
		t.Fatalf("List = %+v, want b1 and b2", got)
	}
}

func TestStore_AccumulatesUnderStateMachine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := natskv.New(newFakeKV())

	st := state.New(state.NewParams{BatchID: "b1", AgentID: "a1", Total: 2})
	if _, err := s.Put(ctx, state.Key("a1", "b1"), st); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := state.Transition(ctx, s, "a1", "b1", state.StatusProcessing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	for _, o := range []state.Outcome{state.OutcomeCompleted, state.OutcomeCompleted} {
		if err := state.ApplyOutcome(ctx, s, "a1", "b1", o); err != nil {
			t.Fatalf("ApplyOutcome: %v", err)
		}
	}
	got, err := s.Get(ctx, state.Key("a1", "b1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value.Status != state.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Value.Status)
	}
}
