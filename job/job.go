// Package job defines delayed jobs, their persistence contract and the
// Scheduler used by campaigns to fire work at a future time.
package job

import (
	"time"

	"github.com/xraph/broadcast/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting for its RunAt time.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateCancelled means the job was cancelled before it ran.
	StateCancelled State = "cancelled"
)

// Job is a unit of deferred work.
type Job struct {
	ID         id.JobID `json:"id"`
	Name       string   `json:"name"`
	Queue      string   `json:"queue"`
	Payload    []byte   `json:"payload"`
	State      State    `json:"state"`
	Priority   int      `json:"priority"`
	MaxRetries int      `json:"max_retries"`
	RetryCount int      `json:"retry_count"`
	LastError  string   `json:"last_error,omitempty"`

	// Key groups jobs belonging to the same business object (for
	// campaigns, the batch id) so they can be cancelled together.
	Key string `json:"key,omitempty"`
	// Tenant is the rate-limiting identity, typically the agent id.
	Tenant string `json:"tenant,omitempty"`

	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Active reports whether j may still run.
func (j *Job) Active() bool {
	return j.State == StatePending || j.State == StateRetrying || j.State == StateRunning
}
