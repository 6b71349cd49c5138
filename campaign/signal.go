package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/stream"
	"github.com/xraph/broadcast/task"
)

// Start is the handler of the start job. It moves the campaign to
// PROCESSING, tells the agent to begin sending and marks the batch's
// pending tasks as in flight.
//
// A campaign that was paused or cancelled before its start time is left
// alone. A campaign already PROCESSING is signalled again so a retried
// job completes the work of an earlier partial run.
func (s *Service) Start(ctx context.Context, p StartPayload) error {
	if p.BatchID == "" || p.AgentID == "" {
		return fmt.Errorf("%w: start job without batchId or agentId", broadcast.ErrInvalidRequest)
	}
	log := s.logger.With(
		slog.String("batch_id", p.BatchID),
		slog.String("agent_id", p.AgentID),
	)

	_, err := state.Transition(ctx, s.states, p.AgentID, p.BatchID, state.StatusProcessing)
	var terr *state.TransitionError
	switch {
	case err == nil:
	case errors.Is(err, broadcast.ErrNotFound):
		log.Warn("starting broadcast without state")
	case errors.As(err, &terr) && terr.From == state.StatusProcessing:
		log.Info("broadcast already processing, re-sending start")
	case errors.As(err, &terr):
		log.Info("broadcast not started", slog.String("status", string(terr.From)))
		return nil
	default:
		return fmt.Errorf("broadcast/campaign: start %s: %w", p.BatchID, err)
	}

	if s.control != nil {
		msg := stream.ControlMessage{
			Action:    stream.ActionStartBroadcast,
			BatchID:   p.BatchID,
			CompanyID: p.CompanyID,
		}
		if err := s.control.SendControl(ctx, p.AgentID, msg); err != nil {
			return fmt.Errorf("broadcast/campaign: signal %s: %w", p.BatchID, err)
		}
	}

	n, err := s.tasks.UpdateStatusByBatch(ctx, p.BatchID,
		[]task.Status{task.StatusPending}, task.StatusProcessing, "")
	if err != nil {
		return fmt.Errorf("broadcast/campaign: mark tasks of %s: %w", p.BatchID, err)
	}

	log.Info("broadcast started", slog.Int64("tasks_updated", n))
	return nil
}
