package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
)

// waiting matches jobs that have not been claimed yet.
var waiting = bson.M{"$in": bson.A{string(job.StatePending), string(job.StateRetrying)}}

func (s *Store) jobs() *mongod.Collection { return s.db.Collection(colJobs) }

// findJobs runs a query against the jobs collection and converts the
// result. op names the caller in wrapped errors.
func (s *Store) findJobs(ctx context.Context, op string, filter bson.M, opts ...options.Lister[options.FindOptions]) ([]*job.Job, error) {
	cursor, err := s.jobs().Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: %s: %w", op, err)
	}
	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("broadcast/mongo: %s: %w", op, err)
	}

	out := make([]*job.Job, len(models))
	for i := range models {
		if out[i], err = fromJobModel(&models[i]); err != nil {
			return nil, fmt.Errorf("broadcast/mongo: %s: %w", op, err)
		}
	}
	return out, nil
}

// EnqueueJob inserts j. A duplicate ID is broadcast.ErrJobAlreadyExists.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.jobs().InsertOne(ctx, toJobModel(j))
	switch {
	case mongod.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s", broadcast.ErrJobAlreadyExists, j.ID)
	case err != nil:
		return fmt.Errorf("broadcast/mongo: enqueue job %s: %w", j.Name, err)
	}
	return nil
}

// DequeueJobs claims up to limit due jobs from queues, highest priority
// first. Each claim is a single FindOneAndUpdate so two workers never
// receive the same job.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	t := now()
	filter := bson.M{
		"state": waiting,
		"queue": bson.M{"$in": queues},
		"runAt": bson.M{"$lte": t},
	}
	claim := bson.M{"$set": bson.M{
		"state":     string(job.StateRunning),
		"startedAt": t,
		"updatedAt": t,
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "runAt", Value: 1}})

	claimed := make([]*job.Job, 0, limit)
	for len(claimed) < limit {
		var m jobModel
		err := s.jobs().FindOneAndUpdate(ctx, filter, claim, opts).Decode(&m)
		if isNoDocuments(err) {
			break
		}
		if err != nil {
			return claimed, fmt.Errorf("broadcast/mongo: dequeue jobs: %w", err)
		}
		j, err := fromJobModel(&m)
		if err != nil {
			return claimed, fmt.Errorf("broadcast/mongo: dequeue jobs: %w", err)
		}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// GetJob returns one job or broadcast.ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	switch {
	case isNoDocuments(err):
		return nil, fmt.Errorf("%w: %s", broadcast.ErrJobNotFound, jobID)
	case err != nil:
		return nil, fmt.Errorf("broadcast/mongo: get job %s: %w", jobID, err)
	}
	return fromJobModel(&m)
}

// UpdateJob replaces the stored document for j.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()
	res, err := s.jobs().ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("broadcast/mongo: update job %s: %w", m.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", broadcast.ErrJobNotFound, m.ID)
	}
	return nil
}

// CancelJobs marks waiting jobs matching filter cancelled. Running jobs
// are left to finish.
func (s *Store) CancelJobs(ctx context.Context, filter job.CancelFilter) (int64, error) {
	q := bson.M{"state": waiting}
	if filter.Name != "" {
		q["name"] = filter.Name
	}
	if filter.Key != "" {
		q["key"] = filter.Key
	}

	t := now()
	res, err := s.jobs().UpdateMany(ctx, q, bson.M{"$set": bson.M{
		"state":       string(job.StateCancelled),
		"completedAt": t,
		"updatedAt":   t,
	}})
	if err != nil {
		return 0, fmt.Errorf("broadcast/mongo: cancel jobs: %w", err)
	}
	return res.ModifiedCount, nil
}

// ListJobsByState returns jobs in state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"state": string(state)}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}

	find := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetSkip(int64(max(opts.Offset, 0)))
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}
	return s.findJobs(ctx, "list jobs", filter, find)
}

// HeartbeatJob records that workerID still holds the job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := now()
	res, err := s.jobs().UpdateByID(ctx, jobID.String(), bson.M{"$set": bson.M{
		"heartbeatAt": t,
		"workerId":    workerID.String(),
		"updatedAt":   t,
	}})
	if err != nil {
		return fmt.Errorf("broadcast/mongo: heartbeat job %s: %w", jobID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", broadcast.ErrJobNotFound, jobID)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	return s.findJobs(ctx, "reap stale jobs", bson.M{
		"state":       string(job.StateRunning),
		"heartbeatAt": bson.M{"$ne": nil, "$lt": now().Add(-threshold)},
	})
}

// CountJobs counts jobs, optionally narrowed by queue and state.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	n, err := s.jobs().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("broadcast/mongo: count jobs: %w", err)
	}
	return n, nil
}
