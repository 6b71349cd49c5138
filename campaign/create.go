package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/task"
)

// Channel is recorded in the metadata of campaigns created by tag.
const Channel = "broadcast-by-tags"

// CreateRequest describes a campaign to schedule.
type CreateRequest struct {
	CompanyID   string            `json:"companyId"`
	AgentID     string            `json:"agentId"`
	Tags        []string          `json:"tags"`
	Message     task.Message      `json:"message"`
	Variables   map[string]string `json:"variables,omitempty"`
	Label       string            `json:"label,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	ScheduledAt time.Time         `json:"scheduleAt"`
}

func (r CreateRequest) validate() error {
	var errs []error
	if r.CompanyID == "" {
		errs = append(errs, errors.New("companyId is required"))
	}
	if r.AgentID == "" {
		errs = append(errs, errors.New("agentId is required"))
	}
	if len(r.Tags) == 0 {
		errs = append(errs, errors.New("tags are required"))
	}
	if r.ScheduledAt.IsZero() {
		errs = append(errs, errors.New("scheduleAt is required"))
	}
	if err := r.Message.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", broadcast.ErrInvalidRequest, err)
	}
	return nil
}

// Created is the result of a successful Create.
type Created struct {
	BatchID     string          `json:"batchId"`
	Status      state.Status    `json:"broadcastStatus"`
	Total       int             `json:"total"`
	ScheduledAt time.Time       `json:"scheduleAt"`
	JobID       string          `json:"jobId"`
	TaskAgent   state.TaskAgent `json:"taskAgent"`
}

// Metadata is the campaign context stored with the state and every task.
type Metadata struct {
	CreatedBy string    `json:"createdBy,omitempty"`
	Tags      []string  `json:"tags"`
	Channel   string    `json:"channel"`
	Label     string    `json:"label,omitempty"`
	Template  *Template `json:"template,omitempty"`
}

// Template lists the variables a templated message uses.
type Template struct {
	Variables []string `json:"variables"`
}

func newMetadata(req CreateRequest, tags []string) Metadata {
	md := Metadata{
		CreatedBy: req.UserID,
		Tags:      tags,
		Channel:   Channel,
		Label:     req.Label,
	}
	if vars := req.Message.Variables(); len(vars) > 0 {
		md.Template = &Template{Variables: vars}
	}
	return md
}

// StartPayload is the payload of the start job.
type StartPayload struct {
	BatchID   string          `json:"batchId"`
	CompanyID string          `json:"companyId"`
	AgentID   string          `json:"agentId"`
	TaskAgent state.TaskAgent `json:"taskAgent"`
	Total     int             `json:"total"`
}

// Create validates the agent's schedule, resolves recipients, stores the
// initial SCHEDULED state, creates one PENDING task per recipient and
// schedules the start job at req.ScheduledAt.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	tags := splitTags(req.Tags)
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: tags are required", broadcast.ErrInvalidRequest)
	}
	at := req.ScheduledAt.UTC()

	if err := s.checkPolicy(ctx, req.AgentID, at); err != nil {
		return nil, err
	}

	phones, err := s.contacts.PhonesByTags(ctx, req.CompanyID, req.AgentID, tags)
	if err != nil {
		return nil, fmt.Errorf("broadcast/campaign: resolve contacts: %w", err)
	}
	if len(phones) == 0 {
		return nil, broadcast.ErrNoContacts
	}

	batchID := id.NewBatchID().String()
	taskAgent := state.TaskAgentDaisi

	s.logger.Info("creating broadcast",
		slog.String("batch_id", batchID),
		slog.String("agent_id", req.AgentID),
		slog.Int("contacts", len(phones)),
		slog.Any("tags", tags),
	)

	md, err := json.Marshal(newMetadata(req, tags))
	if err != nil {
		return nil, fmt.Errorf("broadcast/campaign: encode metadata: %w", err)
	}

	initial := state.New(state.NewParams{
		BatchID:     batchID,
		AgentID:     req.AgentID,
		CompanyID:   req.CompanyID,
		TaskAgent:   taskAgent,
		Total:       len(phones),
		ScheduledAt: at,
		Metadata:    md,
	})
	if _, err := s.states.Put(ctx, state.Key(req.AgentID, batchID), initial); err != nil {
		return nil, fmt.Errorf("broadcast/campaign: store state: %w", err)
	}

	if err := s.tasks.CreateMany(ctx, s.buildTasks(req, batchID, taskAgent, at, phones, md)); err != nil {
		s.abandon(ctx, req.AgentID, batchID, err)
		return nil, fmt.Errorf("broadcast/campaign: create tasks: %w", err)
	}

	jobID, err := s.scheduler.Schedule(ctx, at, StartJobName, StartPayload{
		BatchID:   batchID,
		CompanyID: req.CompanyID,
		AgentID:   req.AgentID,
		TaskAgent: taskAgent,
		Total:     len(phones),
	}, job.WithKey(batchID), job.WithTenant(req.AgentID))
	if err != nil {
		s.abandon(ctx, req.AgentID, batchID, err)
		return nil, fmt.Errorf("broadcast/campaign: schedule start: %w", err)
	}

	s.logger.Info("broadcast scheduled",
		slog.String("batch_id", batchID),
		slog.Time("scheduled_at", at),
		slog.Int("total", len(phones)),
		slog.String("job_id", jobID.String()),
	)

	return &Created{
		BatchID:     batchID,
		Status:      state.StatusScheduled,
		Total:       len(phones),
		ScheduledAt: at,
		JobID:       jobID.String(),
		TaskAgent:   taskAgent,
	}, nil
}

func (s *Service) buildTasks(req CreateRequest, batchID string, agent state.TaskAgent, at time.Time, phones []string, md json.RawMessage) []*task.Task {
	now := s.now().UTC()
	tasks := make([]*task.Task, 0, len(phones))
	for _, phone := range phones {
		scheduled := at
		tasks = append(tasks, &task.Task{
			CompanyID:   req.CompanyID,
			AgentID:     req.AgentID,
			PhoneNumber: phone,
			Message:     req.Message,
			Variables:   req.Variables,
			UserID:      req.UserID,
			Label:       req.Label,
			TaskType:    task.TypeBroadcast,
			TaskAgent:   agent,
			Metadata:    md,
			Status:      task.StatusPending,
			JobName:     "broadcast-task",
			BatchID:     batchID,
			ScheduledAt: &scheduled,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return tasks
}

// abandon cancels a campaign whose creation failed half way so it never
// counts against the agent's schedule.
func (s *Service) abandon(ctx context.Context, agentID, batchID string, cause error) {
	_, err := state.Transition(ctx, s.states, agentID, batchID, state.StatusCancelled,
		state.WithLastError(cause.Error()))
	if err != nil {
		s.logger.Error("abandon broadcast",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
	}
}

// checkPolicy rejects at when another SCHEDULED campaign of the agent
// starts within MinScheduleGap of it, or when the agent already runs
// MaxActiveBroadcasts campaigns. The check is not atomic with the write
// that follows; concurrent creates for one agent can both pass.
func (s *Service) checkPolicy(ctx context.Context, agentID string, at time.Time) error {
	entries, err := s.states.List(ctx, agentID)
	if err != nil {
		return fmt.Errorf("broadcast/campaign: list campaigns: %w", err)
	}

	active := 0
	for _, e := range entries {
		st := e.Value
		switch st.Status {
		case state.StatusProcessing:
			active++
		case state.StatusScheduled:
			if st.ScheduledAt != nil && absDuration(st.ScheduledAt.Sub(at)) <= MinScheduleGap {
				return fmt.Errorf("%w: %s at %s", broadcast.ErrScheduleConflict,
					st.BatchID, st.ScheduledAt.Format(time.RFC3339))
			}
		}
	}
	if active >= MaxActiveBroadcasts {
		return broadcast.ErrMaxActiveBroadcasts
	}
	return nil
}

// PreviewRequest asks what a campaign would reach. Exactly one of Tags
// or Phones is used; Tags wins when both are set.
type PreviewRequest struct {
	CompanyID string   `json:"companyId"`
	AgentID   string   `json:"agentId"`
	Tags      []string `json:"tags,omitempty"`
	Phones    []string `json:"phones,omitempty"`
}

// Preview describes the reach of a campaign and whether the agent may
// schedule another.
type Preview struct {
	ContactCount        int      `json:"contactCount"`
	SampleContacts      []Sample `json:"sampleContacts"`
	ActiveBroadcasts    int      `json:"activeBroadcasts"`
	ScheduledBroadcasts int      `json:"scheduledBroadcasts"`
	CanSchedule         bool     `json:"canSchedule"`
	Limits              Limits   `json:"limits"`
}

// Sample is one previewed recipient.
type Sample struct {
	Phone string `json:"phone"`
}

// Limits reports the creation policy.
type Limits struct {
	MaxActiveBroadcasts int    `json:"maxActiveBroadcasts"`
	MinScheduleGap      string `json:"minScheduleGap"`
}

const previewSamples = 5

// Preview resolves recipients without creating anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	if req.CompanyID == "" || req.AgentID == "" {
		return nil, fmt.Errorf("%w: companyId and agentId are required", broadcast.ErrInvalidRequest)
	}

	var phones []string
	switch {
	case len(req.Tags) > 0:
		var err error
		phones, err = s.contacts.PhonesByTags(ctx, req.CompanyID, req.AgentID, splitTags(req.Tags))
		if err != nil {
			return nil, fmt.Errorf("broadcast/campaign: resolve contacts: %w", err)
		}
	case len(req.Phones) > 0:
		phones = splitTags(req.Phones)
	}

	entries, err := s.states.List(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("broadcast/campaign: list campaigns: %w", err)
	}
	horizon := s.now().Add(MinScheduleGap)
	active, scheduled := 0, 0
	for _, e := range entries {
		switch e.Value.Status {
		case state.StatusProcessing:
			active++
		case state.StatusScheduled:
			if at := e.Value.ScheduledAt; at != nil && at.Before(horizon) {
				scheduled++
			}
		}
	}

	samples := make([]Sample, 0, previewSamples)
	for _, p := range phones[:min(previewSamples, len(phones))] {
		samples = append(samples, Sample{Phone: p})
	}

	return &Preview{
		ContactCount:        len(phones),
		SampleContacts:      samples,
		ActiveBroadcasts:    active,
		ScheduledBroadcasts: scheduled,
		CanSchedule:         active < MaxActiveBroadcasts,
		Limits: Limits{
			MaxActiveBroadcasts: MaxActiveBroadcasts,
			MinScheduleGap:      "1 week",
		},
	}, nil
}

// splitTags trims entries, splits comma-joined ones and drops blanks and
// duplicates.
func splitTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
