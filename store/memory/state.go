package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
)

// ──────────────────────────────────────────────────
// State Store
// ──────────────────────────────────────────────────

// Get returns the campaign state stored under key.
func (m *Store) Get(_ context.Context, key string) (state.Versioned[state.BroadcastState], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.states[key]
	if !ok {
		return state.Versioned[state.BroadcastState]{}, broadcast.ErrNotFound
	}
	return state.Versioned[state.BroadcastState]{Value: e.value.Clone(), Revision: e.revision}, nil
}

// Put writes value unconditionally.
func (m *Store) Put(_ context.Context, key string, value state.BroadcastState) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revision++
	m.states[key] = stateEntry{value: value.Clone(), revision: m.revision}
	return m.revision, nil
}

// CompareAndSwap writes value if the stored revision equals expected.
func (m *Store) CompareAndSwap(_ context.Context, key string, value state.BroadcastState, expected uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.states[key]
	if !ok || e.revision != expected {
		return 0, broadcast.ErrConcurrencyConflict
	}
	m.revision++
	m.states[key] = stateEntry{value: value.Clone(), revision: m.revision}
	return m.revision, nil
}

// List returns every campaign of agentID ordered by key.
func (m *Store) List(_ context.Context, agentID string) ([]state.Versioned[state.BroadcastState], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := agentID + "."
	keys := make([]string, 0)
	for k := range m.states {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]state.Versioned[state.BroadcastState], 0, len(keys))
	for _, k := range keys {
		e := m.states[k]
		out = append(out, state.Versioned[state.BroadcastState]{Value: e.value.Clone(), Revision: e.revision})
	}
	return out, nil
}
