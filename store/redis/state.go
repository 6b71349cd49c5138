package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
)

// Get returns the campaign state stored under key.
func (s *Store) Get(ctx context.Context, key string) (state.Versioned[state.BroadcastState], error) {
	vals, err := s.client.HMGet(ctx, stateKey(key), fieldValue, fieldRevision).Result()
	if err != nil {
		return state.Versioned[state.BroadcastState]{}, fmt.Errorf("broadcast/redis: get %s: %w", key, err)
	}
	return decodeEntry(key, vals)
}

// Put writes value and bumps the revision.
func (s *Store) Put(ctx context.Context, key string, value state.BroadcastState) (uint64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("broadcast/redis: encode %s: %w", key, err)
	}

	hk := stateKey(key)
	var rev *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hk, fieldValue, data)
		rev = pipe.HIncrBy(ctx, hk, fieldRevision, 1)
		pipe.SAdd(ctx, agentIndexKey(value.AgentID), key)
		if s.ttl > 0 {
			pipe.Expire(ctx, hk, s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("broadcast/redis: put %s: %w", key, err)
	}
	return uint64(rev.Val()), nil
}

// CompareAndSwap writes value only if the stored revision equals expected.
func (s *Store) CompareAndSwap(ctx context.Context, key string, value state.BroadcastState, expected uint64) (uint64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("broadcast/redis: encode %s: %w", key, err)
	}

	hk := stateKey(key)
	var next uint64
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, hk, fieldRevision).Uint64()
		if errors.Is(err, redis.Nil) {
			return broadcast.ErrConcurrencyConflict
		}
		if err != nil {
			return err
		}
		if cur != expected {
			return broadcast.ErrConcurrencyConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hk, fieldValue, data, fieldRevision, cur+1)
			if s.ttl > 0 {
				pipe.Expire(ctx, hk, s.ttl)
			}
			return nil
		})
		next = cur + 1
		return err
	}, hk)

	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, broadcast.ErrConcurrencyConflict):
		return 0, fmt.Errorf("%w: %s", broadcast.ErrConcurrencyConflict, key)
	default:
		return 0, fmt.Errorf("broadcast/redis: swap %s: %w", key, err)
	}
}

// List returns every campaign state held for agentID, ordered by key.
// Index members whose entry has expired are pruned.
func (s *Store) List(ctx context.Context, agentID string) ([]state.Versioned[state.BroadcastState], error) {
	idx := agentIndexKey(agentID)
	keys, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("broadcast/redis: list %s: %w", agentID, err)
	}
	sort.Strings(keys)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HMGet(ctx, stateKey(k), fieldValue, fieldRevision)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("broadcast/redis: list %s: %w", agentID, err)
	}

	out := make([]state.Versioned[state.BroadcastState], 0, len(keys))
	var stale []any
	for i, cmd := range cmds {
		v, err := decodeEntry(keys[i], cmd.Val())
		if errors.Is(err, broadcast.ErrNotFound) {
			stale = append(stale, keys[i])
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, idx, stale...).Err(); err != nil {
			s.logger.Warn("failed to prune state index",
				slog.String("agent_id", agentID),
				slog.String("error", err.Error()),
			)
		}
	}
	return out, nil
}

func decodeEntry(key string, vals []any) (state.Versioned[state.BroadcastState], error) {
	var out state.Versioned[state.BroadcastState]
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return out, fmt.Errorf("%w: state %s", broadcast.ErrNotFound, key)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return out, fmt.Errorf("broadcast/redis: state %s: unexpected value type %T", key, vals[0])
	}
	revStr, ok := vals[1].(string)
	if !ok {
		return out, fmt.Errorf("broadcast/redis: state %s: unexpected revision type %T", key, vals[1])
	}
	rev, err := strconv.ParseUint(strings.TrimSpace(revStr), 10, 64)
	if err != nil {
		return out, fmt.Errorf("broadcast/redis: state %s: parse revision: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), &out.Value); err != nil {
		return out, fmt.Errorf("broadcast/redis: state %s: decode: %w", key, err)
	}
	out.Revision = rev
	return out, nil
}
