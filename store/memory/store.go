// Package memory provides an in-memory implementation of every store
// contract: state.Store, task.Store, job.Store and dlq.Store. It is safe
// for concurrent access and intended for unit tests and development.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/store"
	"github.com/xraph/broadcast/task"
)

var (
	_ store.Store = (*Store)(nil)
	_ state.Store = (*Store)(nil)
	_ task.Store  = (*Store)(nil)
	_ job.Store   = (*Store)(nil)
	_ dlq.Store   = (*Store)(nil)
)

type stateEntry struct {
	value    state.BroadcastState
	revision uint64
}

// Store is a fully in-memory store.
type Store struct {
	mu sync.RWMutex

	states   map[string]stateEntry
	revision uint64

	tasks map[string]*task.Task
	jobs  map[string]*job.Job
	dlqs  map[string]*dlq.Entry

	// failBulk, when set, makes BulkUpdate fail as a whole.
	failBulk error
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		states: make(map[string]stateEntry),
		tasks:  make(map[string]*task.Task),
		jobs:   make(map[string]*job.Job),
		dlqs:   make(map[string]*dlq.Entry),
	}
}

// Migrate is a no-op.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// FailBulkUpdates makes subsequent BulkUpdate calls fail as a whole with
// err, simulating a lost database connection. A nil err restores normal
// behavior.
func (m *Store) FailBulkUpdates(err error) {
	m.mu.Lock()
	m.failBulk = err
	m.mu.Unlock()
}
