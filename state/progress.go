package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/broadcast"
)

// Outcome is the final result of one recipient's send.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeError     Outcome = "ERROR"
)

// MaxApplyAttempts bounds ApplyOutcome's compare-and-swap retries.
const MaxApplyAttempts = 3

// ApplyOutcome counts one recipient outcome into the campaign's counters
// and re-derives its status, retrying immediately on a lost
// compare-and-swap. A campaign with no stored state is ignored. After
// MaxApplyAttempts conflicts it returns broadcast.ErrConcurrencyExhausted;
// the outcome is then not applied.
//
// Outcomes arriving for a campaign that is COMPLETED or CANCELLED, or whose
// counters already reached Total, are dropped so counters never exceed
// Total.
func ApplyOutcome(ctx context.Context, store Store, agentID, batchID string, outcome Outcome) error {
	if outcome != OutcomeCompleted && outcome != OutcomeError {
		return fmt.Errorf("broadcast/state: unknown outcome %q", outcome)
	}

	key := Key(agentID, batchID)
	for attempt := 1; attempt <= MaxApplyAttempts; attempt++ {
		cur, err := store.Get(ctx, key)
		if errors.Is(err, broadcast.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		next, changed := accumulate(cur.Value, outcome, time.Now().UTC())
		if !changed {
			return nil
		}

		_, err = store.CompareAndSwap(ctx, key, next, cur.Revision)
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", broadcast.ErrConcurrencyExhausted, key, MaxApplyAttempts)
}

// accumulate returns s with outcome applied. changed is false when the
// outcome must be dropped.
func accumulate(s BroadcastState, outcome Outcome, now time.Time) (BroadcastState, bool) {
	if s.Status == StatusCompleted || s.Status == StatusCancelled {
		return s, false
	}
	if s.Completed+s.Failed >= s.Total {
		return s, false
	}

	next := s.clone()
	switch outcome {
	case OutcomeCompleted:
		next.Completed++
	case OutcomeError:
		next.Failed++
	}
	next.Processed = next.Completed + next.Failed

	if !next.Status.userControlled() {
		derived := Derive(next)
		if derived != next.Status && CanTransition(next.Status, derived) {
			next.Status = derived
			if derived == StatusCompleted || derived == StatusFailed {
				next.CompletedAt = timePtr(now)
			}
		}
	}

	next.LastUpdated = now
	return next, true
}
