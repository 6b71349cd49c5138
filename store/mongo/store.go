package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/store"
	"github.com/xraph/broadcast/task"
)

// Collection name constants.
const (
	colTasks = "tasks"
	colJobs  = "broadcast_jobs"
	colDLQ   = "broadcast_dlq"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ store.Store = (*Store)(nil)
	_ task.Store  = (*Store)(nil)
	_ job.Store   = (*Store)(nil)
	_ dlq.Store   = (*Store)(nil)
)

// Store implements the task, job and DLQ stores on one database.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a client for dsn and returns a store on database. The
// returned disconnect func closes the client.
func Connect(ctx context.Context, dsn, database string, opts ...Option) (*Store, func(context.Context) error, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(dsn))
	if err != nil {
		return nil, nil, fmt.Errorf("broadcast/mongo: connect: %w", err)
	}
	s := New(client.Database(database), opts...)
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return s, client.Disconnect, nil
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates indexes for every collection the store uses.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("broadcast/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("broadcast/mongo: ping: %w", err)
	}
	return nil
}

// Close is a no-op because the caller owns the client.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colTasks: {
			{Keys: bson.D{{Key: "batchId", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "taskType", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "companyId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		colJobs: {
			// Dequeue index: queue + state + priority + run_at.
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "state", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "runAt", Value: 1},
			}},
			// Cancel index.
			{Keys: bson.D{{Key: "key", Value: 1}, {Key: "state", Value: 1}}},
			// Heartbeat index for reaping stale jobs.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "heartbeatAt", Value: 1},
			}},
		},
		colDLQ: {
			{Keys: bson.D{
				{Key: "source", Value: 1},
				{Key: "failedAt", Value: -1},
			}},
		},
	}
}
