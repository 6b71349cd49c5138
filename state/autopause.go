package state

import (
	"context"
	"fmt"
)

// AutoPause pauses every PROCESSING campaign of an agent, typically when
// the agent disconnects. It returns how many campaigns were paused.
// Campaigns that change concurrently are skipped rather than retried.
func AutoPause(ctx context.Context, store Store, agentID string, reason PauseReason) (int, error) {
	if reason == "" {
		reason = PauseAutoDisconnection
	}

	entries, err := store.List(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("broadcast/state: auto-pause list %s: %w", agentID, err)
	}

	paused := 0
	for _, e := range entries {
		if e.Value.Status != StatusProcessing {
			continue
		}
		if _, err := Transition(ctx, store, agentID, e.Value.BatchID, StatusPaused, WithPauseReason(reason)); err != nil {
			continue
		}
		paused++
	}
	return paused, nil
}
