package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/id"
)

func (s *Store) dlq() *mongod.Collection { return s.db.Collection(colDLQ) }

// PushDLQ inserts entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.dlq().InsertOne(ctx, toDLQModel(entry)); err != nil {
		return fmt.Errorf("broadcast/mongo: push dlq %s: %w", entry.ID, err)
	}
	return nil
}

// ListDLQ returns entries newest first, optionally narrowed to one source.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	filter := bson.M{}
	if opts.Source != "" {
		filter["source"] = string(opts.Source)
	}

	find := options.Find().
		SetSort(bson.D{{Key: "failedAt", Value: -1}}).
		SetSkip(int64(max(opts.Offset, 0)))
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.dlq().Find(ctx, filter, find)
	if err != nil {
		return nil, fmt.Errorf("broadcast/mongo: list dlq: %w", err)
	}
	var models []dlqEntryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("broadcast/mongo: list dlq: %w", err)
	}

	out := make([]*dlq.Entry, len(models))
	for i := range models {
		if out[i], err = fromDLQModel(&models[i]); err != nil {
			return nil, fmt.Errorf("broadcast/mongo: list dlq: %w", err)
		}
	}
	return out, nil
}

// GetDLQ returns one entry or broadcast.ErrDLQNotFound.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var m dlqEntryModel
	err := s.dlq().FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	switch {
	case isNoDocuments(err):
		return nil, fmt.Errorf("%w: %s", broadcast.ErrDLQNotFound, entryID)
	case err != nil:
		return nil, fmt.Errorf("broadcast/mongo: get dlq %s: %w", entryID, err)
	}
	return fromDLQModel(&m)
}

// ReplayDLQ stamps replayedAt on the entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.dlq().UpdateByID(ctx, entryID.String(), bson.M{"$set": bson.M{"replayedAt": now()}})
	if err != nil {
		return fmt.Errorf("broadcast/mongo: replay dlq %s: %w", entryID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", broadcast.ErrDLQNotFound, entryID)
	}
	return nil
}

// PurgeDLQ deletes entries that failed before the cut-off.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.dlq().DeleteMany(ctx, bson.M{"failedAt": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("broadcast/mongo: purge dlq: %w", err)
	}
	return res.DeletedCount, nil
}

// CountDLQ returns the number of stored entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.dlq().EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("broadcast/mongo: count dlq: %w", err)
	}
	return n, nil
}
