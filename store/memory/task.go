package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/xraph/broadcast/task"
)

// ──────────────────────────────────────────────────
// Task Store
// ──────────────────────────────────────────────────

// BulkUpdate applies updates, counting unknown or malformed ids as failed.
func (m *Store) BulkUpdate(_ context.Context, updates []task.Update) (task.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(updates) == 0 {
		return task.BulkResult{}, nil
	}
	if m.failBulk != nil {
		return task.BulkResult{Failed: len(updates)}, nil
	}

	var res task.BulkResult
	for _, u := range updates {
		if !task.ValidID(u.TaskID) {
			res.Failed++
			continue
		}
		t, ok := m.tasks[u.TaskID]
		if !ok {
			res.Failed++
			continue
		}
		u.Apply(t)
		res.Successful++
	}
	return res, nil
}

// CreateMany inserts tasks, assigning ids where missing.
func (m *Store) CreateMany(_ context.Context, tasks []*task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = task.NewID()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		m.tasks[t.ID] = copyTask(t)
	}
	return nil
}

// FindByBatch returns every task of batchID ordered by creation.
func (m *Store) FindByBatch(_ context.Context, batchID string) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*task.Task
	for _, t := range m.tasks {
		if t.BatchID == batchID {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// UpdateStatusByBatch moves matching tasks of batchID to status to.
func (m *Store) UpdateStatusByBatch(_ context.Context, batchID string, from []task.Status, to task.Status, errorReason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var n int64
	for _, t := range m.tasks {
		if t.BatchID != batchID || !containsStatus(from, t.Status) {
			continue
		}
		t.Status = to
		t.UpdatedAt = now
		if errorReason != "" {
			t.ErrorReason = errorReason
		}
		if to.Terminal() {
			at := now
			t.FinishedAt = &at
		}
		n++
	}
	return n, nil
}

// CountByBatch returns status counts for batchID.
func (m *Store) CountByBatch(_ context.Context, batchID string) (task.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c task.Counts
	for _, t := range m.tasks {
		if t.BatchID == batchID {
			c.Add(t.Status)
		}
	}
	return c, nil
}

// ListBatches returns distinct broadcast batch ids with a task matching
// filter.
func (m *Store) ListBatches(_ context.Context, filter task.BatchFilter) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, t := range m.tasks {
		if t.TaskType != task.TypeBroadcast || t.BatchID == "" {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
			continue
		}
		if t.UpdatedAt.Before(filter.UpdatedSince) {
			continue
		}
		seen[t.BatchID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Task returns a copy of the task with id, for test assertions.
func (m *Store) Task(id string) (*task.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return copyTask(t), true
}

func containsStatus(set []task.Status, s task.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func copyTask(t *task.Task) *task.Task {
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = append(json.RawMessage(nil), t.Metadata...)
	}
	if t.FinishedAt != nil {
		at := *t.FinishedAt
		cp.FinishedAt = &at
	}
	if t.Variables != nil {
		cp.Variables = make(map[string]string, len(t.Variables))
		for k, v := range t.Variables {
			cp.Variables[k] = v
		}
	}
	return &cp
}
