package state

import (
	"encoding/json"
	"time"
)

// BroadcastState is the aggregate record of one campaign batch, keyed by
// (AgentID, BatchID). Counters satisfy Processed == Completed + Failed and
// Processed <= Total, and never decrease.
type BroadcastState struct {
	Status    Status    `json:"status"`
	BatchID   string    `json:"batchId"`
	AgentID   string    `json:"agentId"`
	CompanyID string    `json:"companyId"`
	TaskAgent TaskAgent `json:"taskAgent"`

	Total     int `json:"total"`
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	CreatedAt   time.Time  `json:"createdAt"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	PausedAt    *time.Time `json:"pausedAt,omitempty"`
	ResumedAt   *time.Time `json:"resumedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	LastUpdated time.Time  `json:"lastUpdated"`

	PauseReason PauseReason `json:"pauseReason,omitempty"`
	LastError   string      `json:"lastError,omitempty"`

	// Metadata is opaque campaign context (creator, tags, template info).
	// The state machine never inspects it.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Versioned pairs a value with the store revision it was read at.
// Every mutation is a compare-and-swap against Revision.
type Versioned[T any] struct {
	Value    T
	Revision uint64
}

// Key returns the store key for a campaign: "{agentId}.{batchId}".
func Key(agentID, batchID string) string {
	return agentID + "." + batchID
}

// NewParams holds the identity and size of a campaign being created.
type NewParams struct {
	BatchID     string
	AgentID     string
	CompanyID   string
	TaskAgent   TaskAgent
	Total       int
	ScheduledAt time.Time
	Metadata    json.RawMessage
}

// New returns the initial state of a freshly accepted campaign. It is
// always SCHEDULED.
func New(p NewParams) BroadcastState {
	now := time.Now().UTC()
	s := BroadcastState{
		Status:      StatusScheduled,
		BatchID:     p.BatchID,
		AgentID:     p.AgentID,
		CompanyID:   p.CompanyID,
		TaskAgent:   p.TaskAgent,
		Total:       p.Total,
		CreatedAt:   now,
		LastUpdated: now,
		Metadata:    p.Metadata,
	}
	if !p.ScheduledAt.IsZero() {
		at := p.ScheduledAt.UTC()
		s.ScheduledAt = &at
	}
	return s
}

// clone returns a copy that shares no mutable memory with s.
func (s BroadcastState) clone() BroadcastState {
	cp := s
	cp.ScheduledAt = cloneTime(s.ScheduledAt)
	cp.StartedAt = cloneTime(s.StartedAt)
	cp.PausedAt = cloneTime(s.PausedAt)
	cp.ResumedAt = cloneTime(s.ResumedAt)
	cp.CompletedAt = cloneTime(s.CompletedAt)
	cp.CancelledAt = cloneTime(s.CancelledAt)
	if s.Metadata != nil {
		cp.Metadata = append(json.RawMessage(nil), s.Metadata...)
	}
	return cp
}

// Clone returns a deep copy of s. Store implementations use it to keep
// stored values isolated from callers.
func (s BroadcastState) Clone() BroadcastState { return s.clone() }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func timePtr(t time.Time) *time.Time { return &t }
