// Package dynamo implements state.Store on a DynamoDB table.
//
// The table is keyed by agent_id (partition) and batch_id (sort). Each item
// carries the campaign state as JSON plus a numeric revision; CompareAndSwap
// is a conditional UpdateItem on that revision.
package dynamo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/xraph/broadcast/state"
)

var _ state.Store = (*Store)(nil)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTTL stamps items with an expires_at epoch second ttl after each
// write, for use as the table's TTL attribute.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// Store is a DynamoDB-backed state.Store.
type Store struct {
	db     API
	table  string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a store on table using db.
func New(db API, table string, opts ...Option) *Store {
	s := &Store{db: db, table: table, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect loads the default AWS configuration for region and returns a
// store on table. A non-empty endpoint overrides the service endpoint,
// for DynamoDB Local.
func Connect(ctx context.Context, region, table, endpoint string, opts ...Option) (*Store, error) {
	if table == "" {
		return nil, fmt.Errorf("broadcast/dynamo: table is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("broadcast/dynamo: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, table, opts...), nil
}

// splitKey reverses state.Key.
func splitKey(key string) (agentID, batchID string, err error) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("broadcast/dynamo: malformed state key %q", key)
	}
	return key[:i], key[i+1:], nil
}
