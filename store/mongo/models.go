package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/task"
)

// ── Task model ────────────────────────────────────────────────────

type taskModel struct {
	ID          bson.ObjectID     `bson:"_id"`
	CompanyID   string            `bson:"companyId"`
	AgentID     string            `bson:"agentId"`
	MessageID   string            `bson:"messageId,omitempty"`
	PhoneNumber string            `bson:"phoneNumber"`
	Message     bson.Raw          `bson:"message,omitempty"`
	Variables   map[string]string `bson:"variables,omitempty"`
	UserID      string            `bson:"userId,omitempty"`
	Label       string            `bson:"label,omitempty"`
	TaskType    string            `bson:"taskType"`
	TaskAgent   string            `bson:"taskAgent"`
	Metadata    bson.Raw          `bson:"metadata,omitempty"`
	Status      string            `bson:"status"`
	ErrorReason string            `bson:"errorReason,omitempty"`
	JobName     string            `bson:"jobName,omitempty"`
	BatchID     string            `bson:"batchId,omitempty"`
	ScheduledAt *time.Time        `bson:"scheduledAt,omitempty"`
	FinishedAt  *time.Time        `bson:"finishedAt,omitempty"`
	CreatedAt   time.Time         `bson:"createdAt"`
	UpdatedAt   time.Time         `bson:"updatedAt"`
}

func toTaskModel(t *task.Task) (*taskModel, error) {
	oid, err := bson.ObjectIDFromHex(t.ID)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: task id %q: %w", t.ID, err)
	}
	msgJSON, err := json.Marshal(t.Message)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: encode task %s message: %w", t.ID, err)
	}
	msg, err := jsonToRaw(msgJSON)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: task %s message: %w", t.ID, err)
	}
	meta, err := jsonToRaw(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: task %s metadata: %w", t.ID, err)
	}
	return &taskModel{
		ID:          oid,
		CompanyID:   t.CompanyID,
		AgentID:     t.AgentID,
		MessageID:   t.MessageID,
		PhoneNumber: t.PhoneNumber,
		Message:     msg,
		Variables:   t.Variables,
		UserID:      t.UserID,
		Label:       t.Label,
		TaskType:    string(t.TaskType),
		TaskAgent:   string(t.TaskAgent),
		Metadata:    meta,
		Status:      string(t.Status),
		ErrorReason: t.ErrorReason,
		JobName:     t.JobName,
		BatchID:     t.BatchID,
		ScheduledAt: t.ScheduledAt,
		FinishedAt:  t.FinishedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

func fromTaskModel(m *taskModel) (*task.Task, error) {
	t := &task.Task{
		ID:          m.ID.Hex(),
		CompanyID:   m.CompanyID,
		AgentID:     m.AgentID,
		MessageID:   m.MessageID,
		PhoneNumber: m.PhoneNumber,
		Variables:   m.Variables,
		UserID:      m.UserID,
		Label:       m.Label,
		TaskType:    task.Type(m.TaskType),
		TaskAgent:   state.TaskAgent(m.TaskAgent),
		Status:      task.Status(m.Status),
		ErrorReason: m.ErrorReason,
		JobName:     m.JobName,
		BatchID:     m.BatchID,
		ScheduledAt: m.ScheduledAt,
		FinishedAt:  m.FinishedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if len(m.Message) > 0 {
		data, err := rawToJSON(m.Message)
		if err != nil {
			return nil, fmt.Errorf("broadcast/mongo: task %s message: %w", t.ID, err)
		}
		if err := json.Unmarshal(data, &t.Message); err != nil {
			return nil, fmt.Errorf("broadcast/mongo: decode task %s message: %w", t.ID, err)
		}
	}
	meta, err := rawToJSON(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: task %s metadata: %w", t.ID, err)
	}
	t.Metadata = meta
	return t, nil
}

// jsonToRaw converts a JSON object into a BSON document so nested fields
// stay queryable. Empty input and null yield nil.
func jsonToRaw(data []byte) (bson.Raw, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON(data, false, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// rawToJSON is the inverse of jsonToRaw, using relaxed extended JSON.
func rawToJSON(raw bson.Raw) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return bson.MarshalExtJSON(raw, false, false)
}

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Queue       string     `bson:"queue"`
	Payload     []byte     `bson:"payload"`
	State       string     `bson:"state"`
	Priority    int        `bson:"priority"`
	MaxRetries  int        `bson:"maxRetries"`
	RetryCount  int        `bson:"retryCount"`
	LastError   string     `bson:"lastError"`
	Key         string     `bson:"key"`
	Tenant      string     `bson:"tenant"`
	WorkerID    string     `bson:"workerId"`
	RunAt       time.Time  `bson:"runAt"`
	StartedAt   *time.Time `bson:"startedAt,omitempty"`
	CompletedAt *time.Time `bson:"completedAt,omitempty"`
	HeartbeatAt *time.Time `bson:"heartbeatAt,omitempty"`
	Timeout     int64      `bson:"timeout"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:          j.ID.String(),
		Name:        j.Name,
		Queue:       j.Queue,
		Payload:     j.Payload,
		State:       string(j.State),
		Priority:    j.Priority,
		MaxRetries:  j.MaxRetries,
		RetryCount:  j.RetryCount,
		LastError:   j.LastError,
		Key:         j.Key,
		Tenant:      j.Tenant,
		RunAt:       j.RunAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		HeartbeatAt: j.HeartbeatAt,
		Timeout:     j.Timeout.Nanoseconds(),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if !j.WorkerID.IsNil() {
		m.WorkerID = j.WorkerID.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		ID:          parsedID,
		Name:        m.Name,
		Queue:       m.Queue,
		Payload:     m.Payload,
		State:       job.State(m.State),
		Priority:    m.Priority,
		MaxRetries:  m.MaxRetries,
		RetryCount:  m.RetryCount,
		LastError:   m.LastError,
		Key:         m.Key,
		Tenant:      m.Tenant,
		RunAt:       m.RunAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		HeartbeatAt: m.HeartbeatAt,
		Timeout:     time.Duration(m.Timeout),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}

	if m.WorkerID != "" {
		if parsedWorker, wErr := id.ParseWorkerID(m.WorkerID); wErr == nil {
			j.WorkerID = parsedWorker
		}
	}
	return j, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqEntryModel struct {
	ID            string     `bson:"_id"`
	Source        string     `bson:"source"`
	JobID         string     `bson:"jobId,omitempty"`
	JobName       string     `bson:"jobName,omitempty"`
	Queue         string     `bson:"queue,omitempty"`
	Key           string     `bson:"key,omitempty"`
	RetryCount    int        `bson:"retryCount"`
	MaxRetries    int        `bson:"maxRetries"`
	Subject       string     `bson:"subject,omitempty"`
	DeliveryCount int        `bson:"deliveryCount,omitempty"`
	Payload       []byte     `bson:"payload"`
	Error         string     `bson:"error"`
	FailedAt      time.Time  `bson:"failedAt"`
	ReplayedAt    *time.Time `bson:"replayedAt,omitempty"`
	CreatedAt     time.Time  `bson:"createdAt"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	m := &dlqEntryModel{
		ID:            e.ID.String(),
		Source:        string(e.Source),
		JobName:       e.JobName,
		Queue:         e.Queue,
		Key:           e.Key,
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		Subject:       e.Subject,
		DeliveryCount: e.DeliveryCount,
		Payload:       e.Payload,
		Error:         e.Error,
		FailedAt:      e.FailedAt,
		ReplayedAt:    e.ReplayedAt,
		CreatedAt:     e.CreatedAt,
	}
	if !e.JobID.IsNil() {
		m.JobID = e.JobID.String()
	}
	return m
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: parse dlq id %q: %w", m.ID, err)
	}
	e := &dlq.Entry{
		ID:            entryID,
		Source:        dlq.Source(m.Source),
		JobName:       m.JobName,
		Queue:         m.Queue,
		Key:           m.Key,
		RetryCount:    m.RetryCount,
		MaxRetries:    m.MaxRetries,
		Subject:       m.Subject,
		DeliveryCount: m.DeliveryCount,
		Payload:       m.Payload,
		Error:         m.Error,
		FailedAt:      m.FailedAt,
		ReplayedAt:    m.ReplayedAt,
		CreatedAt:     m.CreatedAt,
	}
	if m.JobID != "" {
		jobID, err := id.ParseJobID(m.JobID)
		if err != nil {
			return nil, fmt.Errorf("broadcast/mongo: parse job id %q: %w", m.JobID, err)
		}
		e.JobID = jobID
	}
	return e, nil
}
