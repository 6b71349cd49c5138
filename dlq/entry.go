package dlq

import (
	"time"

	"github.com/xraph/broadcast/id"
)

// Source identifies what produced a dead letter.
type Source string

const (
	// SourceJob is a scheduler job that exhausted its retries.
	SourceJob Source = "job"
	// SourceMessage is a broker message that exhausted its deliveries.
	SourceMessage Source = "message"
)

// Entry is a dead letter kept for inspection or replay.
type Entry struct {
	ID     id.DLQID `json:"id"`
	Source Source   `json:"source"`

	// Job fields, set when Source is SourceJob.
	JobID      id.JobID `json:"job_id,omitempty"`
	JobName    string   `json:"job_name,omitempty"`
	Queue      string   `json:"queue,omitempty"`
	Key        string   `json:"key,omitempty"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`

	// Message fields, set when Source is SourceMessage.
	Subject       string `json:"subject,omitempty"`
	DeliveryCount int    `json:"delivery_count,omitempty"`

	Payload    []byte     `json:"payload"`
	Error      string     `json:"error"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
