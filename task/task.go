// Package task models per-recipient send tasks and the batch writer
// contract that applies outcome updates to them.
package task

import (
	"encoding/json"
	"time"

	"github.com/xraph/broadcast/state"
)

// Status is the delivery status of one task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// Valid reports whether s is a known task status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a final delivery status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Type is the message flow a task belongs to.
type Type string

const (
	TypeChat      Type = "chat"
	TypeBroadcast Type = "broadcast"
	TypeMailcast  Type = "mailcast"
)

// Task is one message to one recipient. ID is a 24-character hex object id.
type Task struct {
	ID          string            `json:"id"`
	CompanyID   string            `json:"companyId"`
	AgentID     string            `json:"agentId"`
	MessageID   string            `json:"messageId,omitempty"`
	PhoneNumber string            `json:"phoneNumber"`
	Message     Message           `json:"message"`
	Variables   map[string]string `json:"variables,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	Label       string            `json:"label,omitempty"`
	TaskType    Type              `json:"taskType"`
	TaskAgent   state.TaskAgent   `json:"taskAgent"`
	Metadata    json.RawMessage   `json:"metadata,omitempty"`
	Status      Status            `json:"status"`
	ErrorReason string            `json:"errorReason,omitempty"`
	JobName     string            `json:"jobName,omitempty"`
	BatchID     string            `json:"batchId,omitempty"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Counts summarises the task statuses of one batch.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add counts one task status into c.
func (c *Counts) Add(s Status) { c.AddN(s, 1) }

// AddN counts n tasks of status s into c.
func (c *Counts) AddN(s Status, n int) {
	c.Total += n
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusProcessing:
		c.Processing += n
	case StatusCompleted:
		c.Completed += n
	case StatusError:
		c.Failed += n
	}
}

// Done reports whether no task of the batch is still pending or in flight.
func (c Counts) Done() bool {
	return c.Total > 0 && c.Pending == 0 && c.Processing == 0
}
