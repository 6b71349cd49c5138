// Package store defines the composite persistence contract for the
// durable record backends. A backend that implements Store can serve the
// campaign tasks, the delayed-job scheduler and the dead letter queue
// from one connection.
//
// Versioned campaign state lives behind the separate state.Store
// contract, served by store/natskv, store/redis, store/dynamo or
// store/memory. Contacts are read from store/postgres.
package store

import (
	"context"

	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/task"
)

// Store is the aggregate record store. store/mongo is the production
// backend; store/memory backs tests and local runs.
type Store interface {
	task.Store
	job.Store
	dlq.Store

	// Migrate creates collections and indexes. Safe to call on every
	// start.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}
