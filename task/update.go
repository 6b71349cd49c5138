package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a per-task outcome reported by an agent on the task stream.
type Event struct {
	TaskID      string          `json:"taskId"`
	Status      Status          `json:"status"`
	ErrorReason string          `json:"errorReason,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	AgentID     string          `json:"agentId"`
	CompanyID   string          `json:"companyId"`
}

// DecodeEvent parses and validates a task stream payload.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode task event: %w", err)
	}
	if ev.TaskID == "" {
		return Event{}, fmt.Errorf("decode task event: missing taskId")
	}
	if !ev.Status.Valid() {
		return Event{}, fmt.Errorf("decode task event %s: unknown status %q", ev.TaskID, ev.Status)
	}
	return ev, nil
}

// Update is one write applied by Store.BulkUpdate.
type Update struct {
	TaskID      string
	Status      Status
	ErrorReason string
	Metadata    json.RawMessage
	UpdatedAt   time.Time
	// FinishedAt is set when Status is terminal.
	FinishedAt *time.Time
}

// UpdateFromEvent converts an event into the write it produces at now.
func UpdateFromEvent(ev Event, now time.Time) Update {
	u := Update{
		TaskID:      ev.TaskID,
		Status:      ev.Status,
		ErrorReason: ev.ErrorReason,
		Metadata:    ev.Metadata,
		UpdatedAt:   now,
	}
	if ev.Status.Terminal() {
		u.FinishedAt = &now
	}
	return u
}

// Apply writes u onto t.
func (u Update) Apply(t *Task) {
	t.Status = u.Status
	t.UpdatedAt = u.UpdatedAt
	if u.FinishedAt != nil {
		at := *u.FinishedAt
		t.FinishedAt = &at
	}
	if u.ErrorReason != "" {
		t.ErrorReason = u.ErrorReason
	}
	if len(u.Metadata) > 0 {
		t.Metadata = append(json.RawMessage(nil), u.Metadata...)
	}
}

// BulkResult reports how many updates of a batch were applied.
type BulkResult struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
