package state

import "context"

// Store is the versioned key-value contract holding BroadcastState.
// Every entry carries a monotonically increasing revision.
//
// Implementations return broadcast.ErrNotFound from Get for absent keys
// and broadcast.ErrConcurrencyConflict from CompareAndSwap when the stored
// revision no longer matches.
type Store interface {
	// Get returns the current value and its revision.
	Get(ctx context.Context, key string) (Versioned[BroadcastState], error)

	// Put writes value unconditionally and returns the new revision.
	// It is used only when a campaign is created.
	Put(ctx context.Context, key string, value BroadcastState) (uint64, error)

	// CompareAndSwap writes value only if the stored revision equals
	// expected, and returns the new revision.
	CompareAndSwap(ctx context.Context, key string, value BroadcastState, expected uint64) (uint64, error)

	// List returns every campaign state held for an agent.
	List(ctx context.Context, agentID string) ([]Versioned[BroadcastState], error)
}
