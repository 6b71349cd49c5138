package campaign

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/stream"
	"github.com/xraph/broadcast/task"
)

// Policy limits enforced when a campaign is created.
const (
	// MaxActiveBroadcasts is the number of PROCESSING campaigns an agent
	// may run at once.
	MaxActiveBroadcasts = 3
	// MinScheduleGap is the minimum distance between two scheduled
	// campaigns of one agent. A gap of exactly MinScheduleGap conflicts.
	MinScheduleGap = 7 * 24 * time.Hour
)

// StartJobName is the scheduler job that starts a campaign.
const StartJobName = "signal-broadcast-start"

// ContactSource resolves recipients by tag.
type ContactSource interface {
	PhonesByTags(ctx context.Context, companyID, agentID string, tags []string) ([]string, error)
}

// ControlSender delivers control messages to agents.
type ControlSender interface {
	SendControl(ctx context.Context, agentID string, msg stream.ControlMessage) error
}

// Service runs the campaign lifecycle: creation, user controls and the
// scheduled start.
type Service struct {
	states    state.Store
	tasks     task.Store
	contacts  ContactSource
	scheduler job.Scheduler
	control   ControlSender
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithControlSender sets where start signals are published. Without one
// the start job only updates state and tasks.
func WithControlSender(c ControlSender) Option {
	return func(s *Service) { s.control = c }
}

// WithClock overrides the time source used for schedule checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a campaign service.
func NewService(states state.Store, tasks task.Store, contacts ContactSource, scheduler job.Scheduler, opts ...Option) *Service {
	s := &Service{
		states:    states,
		tasks:     tasks,
		contacts:  contacts,
		scheduler: scheduler,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the campaign jobs to a scheduler registry.
func (s *Service) Register(r *job.Registry) {
	job.Register(r, job.NewDefinition(StartJobName, s.Start))
}
