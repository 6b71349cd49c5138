package dlq

import (
	"context"
	"time"

	"github.com/xraph/broadcast/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Source filters by origin. Empty means all.
	Source Source
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds an entry to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks an entry as replayed. The actual re-enqueue is
	// handled by Service.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries with FailedAt before the given time and
	// returns the number removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
