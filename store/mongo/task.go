package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/broadcast/task"
)

// BulkUpdate applies updates as one unordered bulk write. Malformed ids
// and ids matching no task count as failed. If the write fails as a whole
// every update counts as failed and the error is logged, not returned.
func (s *Store) BulkUpdate(ctx context.Context, updates []task.Update) (task.BulkResult, error) {
	if len(updates) == 0 {
		return task.BulkResult{}, nil
	}

	var res task.BulkResult
	models := make([]mongod.WriteModel, 0, len(updates))
	for _, u := range updates {
		oid, err := bson.ObjectIDFromHex(u.TaskID)
		if err != nil {
			res.Failed++
			continue
		}
		models = append(models, mongod.NewUpdateOneModel().
			SetFilter(bson.M{"_id": oid}).
			SetUpdate(bson.M{"$set": updateFields(u)}))
	}
	if len(models) == 0 {
		return res, nil
	}

	out, err := s.db.Collection(colTasks).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	var bwe mongod.BulkWriteException
	switch {
	case err == nil:
	case errors.As(err, &bwe) && out != nil:
		// Unordered: the writes without an entry in WriteErrors went through.
		s.logger.Warn("task bulk write partially failed",
			slog.Int("write_errors", len(bwe.WriteErrors)),
			slog.String("error", err.Error()),
		)
	default:
		s.logger.Error("task bulk write failed",
			slog.Int("batch_size", len(updates)),
			slog.String("error", err.Error()),
		)
		return task.BulkResult{Failed: len(updates)}, nil
	}

	return tally(res, len(models), out), nil
}

// tally counts the documents the bulk write actually modified as
// successful and every other submitted update as failed. A matched
// document whose fields already held the new values counts as failed.
func tally(res task.BulkResult, submitted int, out *mongod.BulkWriteResult) task.BulkResult {
	modified := int(out.ModifiedCount)
	res.Successful = modified
	res.Failed += submitted - modified
	return res
}

func updateFields(u task.Update) bson.M {
	set := bson.M{
		"status":    string(u.Status),
		"updatedAt": u.UpdatedAt,
	}
	if u.FinishedAt != nil {
		set["finishedAt"] = *u.FinishedAt
	}
	if u.ErrorReason != "" {
		set["errorReason"] = u.ErrorReason
	}
	if meta, err := jsonToRaw(u.Metadata); err == nil && meta != nil {
		set["metadata"] = meta
	}
	return set
}

// CreateMany inserts tasks, assigning ids where missing.
func (s *Store) CreateMany(ctx context.Context, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	t := now()
	docs := make([]any, 0, len(tasks))
	for _, tk := range tasks {
		if tk.ID == "" {
			tk.ID = task.NewID()
		}
		if tk.CreatedAt.IsZero() {
			tk.CreatedAt = t
		}
		tk.UpdatedAt = t
		m, err := toTaskModel(tk)
		if err != nil {
			return err
		}
		docs = append(docs, m)
	}
	if _, err := s.db.Collection(colTasks).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("broadcast/mongo: create tasks: %w", err)
	}
	return nil
}

// FindByBatch returns every task of batchID ordered by creation.
func (s *Store) FindByBatch(ctx context.Context, batchID string) ([]*task.Task, error) {
	cursor, err := s.db.Collection(colTasks).Find(ctx,
		bson.M{"batchId": batchID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: find batch %s: %w", batchID, err)
	}
	defer cursor.Close(ctx)

	var models []taskModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("broadcast/mongo: find batch decode: %w", err)
	}
	out := make([]*task.Task, 0, len(models))
	for i := range models {
		t, err := fromTaskModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateStatusByBatch moves matching tasks of batchID to status to.
func (s *Store) UpdateStatusByBatch(ctx context.Context, batchID string, from []task.Status, to task.Status, errorReason string) (int64, error) {
	t := now()
	set := bson.M{"status": string(to), "updatedAt": t}
	if errorReason != "" {
		set["errorReason"] = errorReason
	}
	if to.Terminal() {
		set["finishedAt"] = t
	}

	res, err := s.db.Collection(colTasks).UpdateMany(ctx,
		bson.M{"batchId": batchID, "status": bson.M{"$in": statusStrings(from)}},
		bson.M{"$set": set},
	)
	if err != nil {
		return 0, fmt.Errorf("broadcast/mongo: update batch %s: %w", batchID, err)
	}
	return res.ModifiedCount, nil
}

// CountByBatch returns status counts for batchID with one aggregation.
func (s *Store) CountByBatch(ctx context.Context, batchID string) (task.Counts, error) {
	cursor, err := s.db.Collection(colTasks).Aggregate(ctx, mongod.Pipeline{
		{{Key: "$match", Value: bson.M{"batchId": batchID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return task.Counts{}, fmt.Errorf("broadcast/mongo: count batch %s: %w", batchID, err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		N      int    `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return task.Counts{}, fmt.Errorf("broadcast/mongo: count batch decode: %w", err)
	}
	var c task.Counts
	for _, r := range rows {
		c.AddN(task.Status(r.Status), r.N)
	}
	return c, nil
}

// ListBatches returns distinct broadcast batch ids with a task matching
// filter.
func (s *Store) ListBatches(ctx context.Context, filter task.BatchFilter) ([]string, error) {
	match := bson.M{
		"taskType": string(task.TypeBroadcast),
		"batchId":  bson.M{"$nin": bson.A{nil, ""}},
	}
	if len(filter.Statuses) > 0 {
		match["status"] = bson.M{"$in": statusStrings(filter.Statuses)}
	}
	if !filter.UpdatedSince.IsZero() {
		match["updatedAt"] = bson.M{"$gte": filter.UpdatedSince}
	}
	pipeline := mongod.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$batchId"}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	if filter.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: filter.Limit}})
	}

	cursor, err := s.db.Collection(colTasks).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: list batches: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		BatchID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("broadcast/mongo: list batches decode: %w", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.BatchID
	}
	return out, nil
}

func statusStrings(in []task.Status) []string {
	out := make([]string, len(in))
	for i, st := range in {
		out[i] = string(st)
	}
	return out
}
