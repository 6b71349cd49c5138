package state

// Status is the lifecycle status of a broadcast campaign.
type Status string

const (
	// StatusScheduled means the campaign is waiting for its start time.
	StatusScheduled Status = "SCHEDULED"
	// StatusStarting is a legacy intermediate status. It is still accepted
	// when read from the store but new campaigns never enter it.
	//
	// Deprecated: campaigns move from SCHEDULED directly to PROCESSING.
	StatusStarting Status = "STARTING"
	// StatusProcessing means messages are actively being sent.
	StatusProcessing Status = "PROCESSING"
	// StatusPaused means sending was stopped and may be resumed.
	StatusPaused Status = "PAUSED"
	// StatusCompleted means every recipient was processed with an
	// acceptable failure rate.
	StatusCompleted Status = "COMPLETED"
	// StatusCancelled means the campaign was permanently stopped.
	StatusCancelled Status = "CANCELLED"
	// StatusFailed means every recipient was processed but too many
	// failed. A failed campaign may be retried.
	StatusFailed Status = "FAILED"
)

// Statuses lists every known status, legacy included.
var Statuses = []Status{
	StatusScheduled,
	StatusStarting,
	StatusProcessing,
	StatusPaused,
	StatusCompleted,
	StatusCancelled,
	StatusFailed,
}

// transitions is the complete table of allowed status changes. Pairs not
// listed are rejected.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusProcessing, StatusCancelled},
	StatusStarting:   {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:     {StatusProcessing, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusFailed:     {StatusProcessing},
}

// CanTransition reports whether a campaign may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s ends a campaign for display purposes.
// FAILED counts as terminal here even though it can be retried.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// userControlled reports whether s was set by a user and must never be
// overridden by derivation.
func (s Status) userControlled() bool {
	return s == StatusPaused || s == StatusCancelled
}

// PauseReason records why a campaign entered PAUSED.
type PauseReason string

const (
	PauseUserRequested     PauseReason = "USER_REQUESTED"
	PauseAutoDisconnection PauseReason = "AUTO_PAUSE_DISCONNECTION"
	PauseError             PauseReason = "ERROR"
)

// TaskAgent identifies the channel implementation that delivers a
// campaign's messages.
type TaskAgent string

const (
	TaskAgentDaisi TaskAgent = "DAISI"
	TaskAgentMeta  TaskAgent = "META"
)
