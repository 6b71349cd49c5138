package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/broadcast"
)

// FailureRateThreshold is the share of failed recipients above which a
// fully processed campaign is FAILED rather than COMPLETED.
const FailureRateThreshold = 0.10

// TransitionError reports a rejected status change. It matches
// broadcast.ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return broadcast.ErrInvalidTransition }

// Derive computes the status a campaign should have from its counters,
// independent of the stored status. PAUSED and CANCELLED are sticky.
// Derive never mutates s.
func Derive(s BroadcastState) Status {
	if s.Status.userControlled() {
		return s.Status
	}

	if s.Processed == 0 {
		if s.StartedAt != nil {
			return StatusProcessing
		}
		return StatusScheduled
	}

	if s.Processed < s.Total {
		return StatusProcessing
	}

	if s.Processed == s.Total {
		if FailureRate(s) > FailureRateThreshold {
			return StatusFailed
		}
		return StatusCompleted
	}

	return s.Status
}

// FailureRate returns Failed/Total, or 0 for an empty campaign.
func FailureRate(s BroadcastState) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}

// Patch merges caller-supplied fields into a state during a transition.
type Patch func(*BroadcastState)

// WithPauseReason records why the campaign is being paused.
func WithPauseReason(r PauseReason) Patch {
	return func(s *BroadcastState) { s.PauseReason = r }
}

// WithLastError records the most recent campaign-level error.
func WithLastError(msg string) Patch {
	return func(s *BroadcastState) { s.LastError = msg }
}

// WithMetadata replaces the opaque campaign metadata.
func WithMetadata(raw json.RawMessage) Patch {
	return func(s *BroadcastState) { s.Metadata = raw }
}

// Transition moves the campaign stored under (agentID, batchID) to status
// to. It fails with broadcast.ErrNotFound when no state exists, with a
// *TransitionError when the table forbids the change (nothing is written),
// and with broadcast.ErrConcurrencyConflict when another writer won the
// compare-and-swap. Other store errors are returned as is.
func Transition(ctx context.Context, store Store, agentID, batchID string, to Status, patches ...Patch) (Versioned[BroadcastState], error) {
	key := Key(agentID, batchID)

	cur, err := store.Get(ctx, key)
	if err != nil {
		return Versioned[BroadcastState]{}, err
	}

	from := cur.Value.Status
	if !CanTransition(from, to) {
		return Versioned[BroadcastState]{}, &TransitionError{From: from, To: to}
	}

	next := cur.Value.clone()
	for _, p := range patches {
		p(&next)
	}

	now := time.Now().UTC()
	next.Status = to
	next.LastUpdated = now
	stampTransition(&next, from, to, now)

	rev, err := store.CompareAndSwap(ctx, key, next, cur.Revision)
	if err != nil {
		return Versioned[BroadcastState]{}, err
	}
	return Versioned[BroadcastState]{Value: next, Revision: rev}, nil
}

// stampTransition applies the status-specific timestamps and side effects
// of entering status to from status from.
func stampTransition(s *BroadcastState, from, to Status, now time.Time) {
	switch to {
	case StatusProcessing:
		switch from {
		case StatusScheduled:
			s.StartedAt = timePtr(now)
		case StatusPaused:
			s.ResumedAt = timePtr(now)
			s.PauseReason = ""
		}
	case StatusPaused:
		s.PausedAt = timePtr(now)
		if s.PauseReason == "" {
			s.PauseReason = PauseUserRequested
		}
	case StatusCompleted, StatusFailed:
		s.CompletedAt = timePtr(now)
	case StatusCancelled:
		s.CancelledAt = timePtr(now)
	}
}

// IsConflict reports whether err is a lost compare-and-swap.
func IsConflict(err error) bool {
	return errors.Is(err, broadcast.ErrConcurrencyConflict)
}
