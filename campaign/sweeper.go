package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/task"
)

// DefaultSweepSchedule runs the completion sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// DefaultSweepWindow is how far back a sweep looks for finished tasks.
const DefaultSweepWindow = time.Hour

// sweepBatchLimit bounds how many batches one sweep inspects.
const sweepBatchLimit = 1000

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Sweeper periodically finishes campaigns whose tasks are all done but
// whose state never saw the final outcome, for example because progress
// signals were lost.
type Sweeper struct {
	states   state.Store
	tasks    task.Store
	logger   *slog.Logger
	schedule cronlib.Schedule
	window   time.Duration

	mu   sync.Mutex
	cron *cronlib.Cron
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the sweeper logger.
func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// WithSweepWindow sets how far back a sweep looks for batches whose
// tasks finished.
func WithSweepWindow(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewSweeper creates a sweeper running on schedule, a five-field cron
// expression or descriptor such as "@every 1m". An empty schedule uses
// DefaultSweepSchedule.
func NewSweeper(states state.Store, tasks task.Store, schedule string, opts ...SweeperOption) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("broadcast/campaign: parse sweep schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		states:   states,
		tasks:    tasks,
		logger:   slog.Default(),
		schedule: sched,
		window:   DefaultSweepWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins sweeping in the background until ctx is done or Stop is
// called. Overlapping sweeps are skipped.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	c := cronlib.New(cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)))
	c.Schedule(s.schedule, cronlib.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("broadcast sweep failed", slog.String("error", err.Error()))
		}
	}))
	c.Start()
	s.cron = c

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Sweep inspects every batch with a task finished within the sweep
// window and returns how many campaigns it finished.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	batches, err := s.tasks.ListBatches(ctx, task.BatchFilter{
		Statuses:     []task.Status{task.StatusCompleted, task.StatusError},
		UpdatedSince: time.Now().Add(-s.window),
		Limit:        sweepBatchLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("broadcast/campaign: list finished batches: %w", err)
	}

	finished := 0
	for _, batchID := range batches {
		if ctx.Err() != nil {
			return finished, ctx.Err()
		}
		ok, err := s.reconcile(ctx, batchID)
		if err != nil {
			s.logger.Warn("broadcast reconcile failed",
				slog.String("batch_id", batchID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			finished++
		}
	}
	return finished, nil
}

// reconcile finishes one batch when none of its tasks is pending or in
// flight. Conflicts are left for the next sweep.
func (s *Sweeper) reconcile(ctx context.Context, batchID string) (bool, error) {
	tasks, err := s.tasks.FindByBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	if len(tasks) == 0 {
		return false, nil
	}

	var counts task.Counts
	for _, t := range tasks {
		counts.Add(t.Status)
	}
	if !counts.Done() {
		return false, nil
	}

	agentID := tasks[0].AgentID
	cur, err := s.states.Get(ctx, state.Key(agentID, batchID))
	if errors.Is(err, broadcast.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.Value.Status != state.StatusProcessing {
		return false, nil
	}

	synced := syncCounts(cur.Value, counts)
	to := state.Derive(synced)
	if !to.IsTerminal() {
		return false, nil
	}

	_, err = state.Transition(ctx, s.states, agentID, batchID, to, func(st *state.BroadcastState) {
		st.Completed = synced.Completed
		st.Failed = synced.Failed
		st.Processed = synced.Processed
	})
	if state.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("broadcast finished by sweep",
		slog.String("batch_id", batchID),
		slog.String("status", string(to)),
		slog.Int("completed", counts.Completed),
		slog.Int("failed", counts.Failed),
		slog.Duration("age", time.Since(cur.Value.CreatedAt)),
	)
	return true, nil
}
