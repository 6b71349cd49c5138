package task

import (
	"context"
	"time"
)

// BatchFilter selects broadcast batches by the tasks they contain.
type BatchFilter struct {
	// Statuses matches batches with a task in any of these statuses.
	// Empty matches every status.
	Statuses []Status
	// UpdatedSince matches batches with a task updated at or after it.
	// The zero time matches every task.
	UpdatedSince time.Time
	// Limit bounds the result. Zero means no limit.
	Limit int
}

// Store persists tasks.
type Store interface {
	// BulkUpdate applies updates as one unordered batch. Updates with an
	// invalid id, or whose task does not exist, are counted as failed.
	// A failure of the whole write counts every update as failed and is
	// reported in the result only; BulkUpdate never returns an error for
	// per-item problems.
	BulkUpdate(ctx context.Context, updates []Update) (BulkResult, error)

	// CreateMany inserts tasks, assigning IDs to those without one.
	CreateMany(ctx context.Context, tasks []*Task) error

	// FindByBatch returns every task of a batch.
	FindByBatch(ctx context.Context, batchID string) ([]*Task, error)

	// UpdateStatusByBatch moves every task of a batch currently in one of
	// from to status to, setting errorReason when non-empty. It returns
	// the number of tasks changed.
	UpdateStatusByBatch(ctx context.Context, batchID string, from []Status, to Status, errorReason string) (int64, error)

	// CountByBatch returns the status counts of a batch.
	CountByBatch(ctx context.Context, batchID string) (Counts, error)

	// ListBatches returns the distinct, sorted batch ids of broadcast
	// tasks matching filter.
	ListBatches(ctx context.Context, filter BatchFilter) ([]string, error)
}
