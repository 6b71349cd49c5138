package job

import (
	"context"
	"time"

	"github.com/xraph/broadcast/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// CancelFilter selects not-yet-run jobs to cancel. Empty fields match
// everything, but at least one field must be set.
type CancelFilter struct {
	Name string
	Key  string
}

// Empty reports whether the filter would match every job.
func (f CancelFilter) Empty() bool { return f.Name == "" && f.Key == "" }

// Matches reports whether j is selected by f.
func (f CancelFilter) Matches(j *Job) bool {
	if f.Name != "" && j.Name != f.Name {
		return false
	}
	if f.Key != "" && j.Key != f.Key {
		return false
	}
	return true
}

// Store defines the persistence contract for jobs.
type Store interface {
	// EnqueueJob persists a new job in pending state.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit due jobs (pending or
	// retrying with RunAt <= now) from the given queues, sets them to
	// running, and returns them. Jobs are ordered by priority (descending)
	// then RunAt (ascending).
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// CancelJobs marks every pending or retrying job matching filter as
	// cancelled and returns how many were changed.
	CancelJobs(ctx context.Context, filter CancelFilter) (int64, error)

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob updates the heartbeat timestamp for a running job.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older than
	// threshold.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
