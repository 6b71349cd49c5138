// Package natskv implements state.Store on a JetStream KeyValue bucket.
// Bucket revisions are the stream sequence of the last write to a key, so
// CompareAndSwap maps directly onto KeyValue.Update.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
)

var _ state.Store = (*Store)(nil)

// Store is a state.Store backed by a KeyValue bucket.
type Store struct {
	kv jetstream.KeyValue
}

// New wraps kv. Provision the bucket with stream.EnsureStateBucket.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get returns the state stored under key.
func (s *Store) Get(ctx context.Context, key string) (state.Versioned[state.BroadcastState], error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return state.Versioned[state.BroadcastState]{}, fmt.Errorf("%w: state %s", broadcast.ErrNotFound, key)
	}
	if err != nil {
		return state.Versioned[state.BroadcastState]{}, fmt.Errorf("broadcast/natskv: get %s: %w", key, err)
	}
	return decode(entry)
}

// Put writes value unconditionally.
func (s *Store) Put(ctx context.Context, key string, value state.BroadcastState) (uint64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("broadcast/natskv: encode %s: %w", key, err)
	}
	rev, err := s.kv.Put(ctx, key, data)
	if err != nil {
		return 0, fmt.Errorf("broadcast/natskv: put %s: %w", key, err)
	}
	return rev, nil
}

// CompareAndSwap writes value if the key's last revision is expected.
func (s *Store) CompareAndSwap(ctx context.Context, key string, value state.BroadcastState, expected uint64) (uint64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("broadcast/natskv: encode %s: %w", key, err)
	}
	rev, err := s.kv.Update(ctx, key, data, expected)
	if isWrongRevision(err) {
		return 0, fmt.Errorf("%w: %s", broadcast.ErrConcurrencyConflict, key)
	}
	if err != nil {
		return 0, fmt.Errorf("broadcast/natskv: update %s: %w", key, err)
	}
	return rev, nil
}

// List returns the current state of every campaign of agentID, ordered by
// key.
func (s *Store) List(ctx context.Context, agentID string) ([]state.Versioned[state.BroadcastState], error) {
	w, err := s.kv.Watch(ctx, agentID+".*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("broadcast/natskv: watch %s: %w", agentID, err)
	}
	defer w.Stop() //nolint:errcheck // best-effort unsubscribe

	var out []state.Versioned[state.BroadcastState]
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			// A nil entry marks the end of the initial values.
			if !ok || entry == nil {
				sort.Slice(out, func(i, k int) bool {
					return out[i].Value.BatchID < out[k].Value.BatchID
				})
				return out, nil
			}
			v, err := decode(entry)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
}

func decode(entry jetstream.KeyValueEntry) (state.Versioned[state.BroadcastState], error) {
	var out state.Versioned[state.BroadcastState]
	if err := json.Unmarshal(entry.Value(), &out.Value); err != nil {
		return out, fmt.Errorf("broadcast/natskv: decode %s: %w", entry.Key(), err)
	}
	out.Revision = entry.Revision()
	return out, nil
}

func isWrongRevision(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
