package job

import (
	"context"
	"time"

	"github.com/xraph/broadcast/id"
)

// Scheduler runs named jobs at a future time. Handlers are registered
// separately; the scheduler only owns timing and cancellation.
type Scheduler interface {
	// Schedule arranges for the job named name to run at at with payload
	// encoded as JSON. A zero or past at runs as soon as possible.
	Schedule(ctx context.Context, at time.Time, name string, payload any, opts ...Option) (id.JobID, error)

	// Cancel cancels every not-yet-run job matching filter and reports
	// how many were cancelled.
	Cancel(ctx context.Context, filter CancelFilter) (int64, error)
}
