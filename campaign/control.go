package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/task"
)

// CancelReason is the error reason written to tasks of a cancelled
// campaign.
const CancelReason = "Broadcast cancelled by user"

// owner returns the tasks of batchID after checking they belong to
// companyID. A batch of another company is reported as not found.
func (s *Service) owner(ctx context.Context, companyID, batchID string) ([]*task.Task, error) {
	tasks, err := s.tasks.FindByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("broadcast/campaign: find batch %s: %w", batchID, err)
	}
	if len(tasks) == 0 || tasks[0].CompanyID != companyID {
		return nil, fmt.Errorf("broadcast/campaign: batch %s: %w", batchID, broadcast.ErrNotFound)
	}
	return tasks, nil
}

// View is the status of one campaign as reported to users.
type View struct {
	BatchID     string          `json:"batchId"`
	AgentID     string          `json:"agentId"`
	Label       string          `json:"label,omitempty"`
	TaskAgent   state.TaskAgent `json:"taskAgent"`
	ScheduledAt *time.Time      `json:"scheduledAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`

	// State is nil when the state record has expired.
	State   *state.BroadcastState `json:"state,omitempty"`
	Stats   task.Counts           `json:"stats"`
	Summary state.Summary         `json:"summary"`
}

// Status reports a campaign with counters synchronised from its tasks.
// The stored state is not modified.
func (s *Service) Status(ctx context.Context, companyID, batchID string) (*View, error) {
	tasks, err := s.owner(ctx, companyID, batchID)
	if err != nil {
		return nil, err
	}
	first := tasks[0]

	var counts task.Counts
	for _, t := range tasks {
		counts.Add(t.Status)
	}

	v := &View{
		BatchID:     batchID,
		AgentID:     first.AgentID,
		Label:       first.Label,
		TaskAgent:   first.TaskAgent,
		ScheduledAt: first.ScheduledAt,
		CreatedAt:   first.CreatedAt,
		Stats:       counts,
		Summary:     state.Summary{Status: "UNKNOWN"},
	}

	cur, err := s.states.Get(ctx, state.Key(first.AgentID, batchID))
	switch {
	case errors.Is(err, broadcast.ErrNotFound):
		return v, nil
	case err != nil:
		return nil, fmt.Errorf("broadcast/campaign: get state %s: %w", batchID, err)
	}

	synced := syncCounts(cur.Value, counts)
	v.State = &synced
	v.Summary = state.Summarize(synced)
	return v, nil
}

// syncCounts copies task outcome counts into s without letting any
// counter decrease.
func syncCounts(s state.BroadcastState, c task.Counts) state.BroadcastState {
	out := s.Clone()
	out.Completed = max(out.Completed, c.Completed)
	out.Failed = max(out.Failed, c.Failed)
	out.Processed = min(out.Completed+out.Failed, max(out.Total, out.Processed))
	return out
}

// Pause pauses a PROCESSING campaign at the user's request.
func (s *Service) Pause(ctx context.Context, companyID, batchID string) (state.BroadcastState, error) {
	return s.control(ctx, companyID, batchID, state.StatusPaused, state.WithPauseReason(state.PauseUserRequested))
}

// Resume moves a PAUSED campaign back to PROCESSING.
func (s *Service) Resume(ctx context.Context, companyID, batchID string) (state.BroadcastState, error) {
	return s.control(ctx, companyID, batchID, state.StatusProcessing)
}

func (s *Service) control(ctx context.Context, companyID, batchID string, to state.Status, patches ...state.Patch) (state.BroadcastState, error) {
	tasks, err := s.owner(ctx, companyID, batchID)
	if err != nil {
		return state.BroadcastState{}, err
	}
	agentID := tasks[0].AgentID

	next, err := state.Transition(ctx, s.states, agentID, batchID, to, patches...)
	if err != nil {
		return state.BroadcastState{}, fmt.Errorf("broadcast/campaign: %s %s: %w", to, batchID, err)
	}
	s.logger.Info("broadcast status changed",
		slog.String("batch_id", batchID),
		slog.String("agent_id", agentID),
		slog.String("status", string(to)),
	)
	return next.Value, nil
}

// CancelResult reports what Cancel changed.
type CancelResult struct {
	BatchID       string          `json:"batchId"`
	JobsCancelled int64           `json:"jobsCancelled"`
	TasksUpdated  int64           `json:"tasksUpdated"`
	TaskAgent     state.TaskAgent `json:"taskAgent"`
	Status        state.Status    `json:"broadcastStatus"`
}

// Cancel permanently stops a campaign: its state becomes CANCELLED, its
// start job is cancelled and every unfinished task is failed.
func (s *Service) Cancel(ctx context.Context, companyID, batchID string) (*CancelResult, error) {
	tasks, err := s.owner(ctx, companyID, batchID)
	if err != nil {
		return nil, err
	}
	agentID := tasks[0].AgentID

	if _, err := state.Transition(ctx, s.states, agentID, batchID, state.StatusCancelled); err != nil {
		return nil, fmt.Errorf("broadcast/campaign: cancel %s: %w", batchID, err)
	}

	jobs, err := s.scheduler.Cancel(ctx, job.CancelFilter{Key: batchID})
	if err != nil {
		return nil, fmt.Errorf("broadcast/campaign: cancel jobs of %s: %w", batchID, err)
	}

	updated, err := s.tasks.UpdateStatusByBatch(ctx, batchID,
		[]task.Status{task.StatusPending, task.StatusProcessing}, task.StatusError, CancelReason)
	if err != nil {
		return nil, fmt.Errorf("broadcast/campaign: cancel tasks of %s: %w", batchID, err)
	}

	s.logger.Info("broadcast cancelled",
		slog.String("batch_id", batchID),
		slog.Int64("jobs_cancelled", jobs),
		slog.Int64("tasks_updated", updated),
	)

	return &CancelResult{
		BatchID:       batchID,
		JobsCancelled: jobs,
		TasksUpdated:  updated,
		TaskAgent:     tasks[0].TaskAgent,
		Status:        state.StatusCancelled,
	}, nil
}

// PauseAgent pauses every running campaign of an agent, for example when
// the agent disconnects.
func (s *Service) PauseAgent(ctx context.Context, agentID string, reason state.PauseReason) (int, error) {
	n, err := state.AutoPause(ctx, s.states, agentID, reason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("agent broadcasts paused",
			slog.String("agent_id", agentID),
			slog.Int("paused", n),
		)
	}
	return n, nil
}
