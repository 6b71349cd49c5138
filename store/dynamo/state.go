package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
)

// item is the stored shape of one campaign.
type item struct {
	AgentID   string `dynamodbav:"agent_id"`
	BatchID   string `dynamodbav:"batch_id"`
	Revision  uint64 `dynamodbav:"revision"`
	State     string `dynamodbav:"state"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
}

func (it item) versioned() (state.Versioned[state.BroadcastState], error) {
	var out state.Versioned[state.BroadcastState]
	if err := json.Unmarshal([]byte(it.State), &out.Value); err != nil {
		return out, fmt.Errorf("broadcast/dynamo: decode %s.%s: %w", it.AgentID, it.BatchID, err)
	}
	out.Revision = it.Revision
	return out, nil
}

func keyAttrs(agentID, batchID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"agent_id": &types.AttributeValueMemberS{Value: agentID},
		"batch_id": &types.AttributeValueMemberS{Value: batchID},
	}
}

// Get returns the state stored under key with a strongly consistent read.
func (s *Store) Get(ctx context.Context, key string) (state.Versioned[state.BroadcastState], error) {
	agentID, batchID, err := splitKey(key)
	if err != nil {
		return state.Versioned[state.BroadcastState]{}, err
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttrs(agentID, batchID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return state.Versioned[state.BroadcastState]{}, fmt.Errorf("broadcast/dynamo: get %s: %w", key, err)
	}
	if out.Item == nil {
		return state.Versioned[state.BroadcastState]{}, fmt.Errorf("%w: state %s", broadcast.ErrNotFound, key)
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return state.Versioned[state.BroadcastState]{}, fmt.Errorf("broadcast/dynamo: unmarshal %s: %w", key, err)
	}
	return it.versioned()
}

// Put writes value and atomically increments the revision.
func (s *Store) Put(ctx context.Context, key string, value state.BroadcastState) (uint64, error) {
	agentID, batchID, err := splitKey(key)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("broadcast/dynamo: encode %s: %w", key, err)
	}

	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      keyAttrs(agentID, batchID),
		UpdateExpression:         aws.String("SET #st = :s, expires_at = :e ADD revision :one"),
		ExpressionAttributeNames: map[string]string{"#st": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":   &types.AttributeValueMemberS{Value: string(data)},
			":e":   s.expiresAt(),
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("broadcast/dynamo: put %s: %w", key, err)
	}
	return revisionOf(key, out.Attributes)
}

// CompareAndSwap writes value only if the stored revision equals expected.
// An absent item fails the condition and is reported as a conflict.
func (s *Store) CompareAndSwap(ctx context.Context, key string, value state.BroadcastState, expected uint64) (uint64, error) {
	agentID, batchID, err := splitKey(key)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("broadcast/dynamo: encode %s: %w", key, err)
	}

	next := expected + 1
	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      keyAttrs(agentID, batchID),
		UpdateExpression:         aws.String("SET #st = :s, expires_at = :e, revision = :next"),
		ConditionExpression:      aws.String("revision = :expected"),
		ExpressionAttributeNames: map[string]string{"#st": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":        &types.AttributeValueMemberS{Value: string(data)},
			":e":        s.expiresAt(),
			":next":     &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatUint(expected, 10)},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return 0, fmt.Errorf("%w: %s", broadcast.ErrConcurrencyConflict, key)
		}
		return 0, fmt.Errorf("broadcast/dynamo: swap %s: %w", key, err)
	}
	return next, nil
}

// List queries every campaign of agentID, ordered by batch id.
func (s *Store) List(ctx context.Context, agentID string) ([]state.Versioned[state.BroadcastState], error) {
	p := dynamodb.NewQueryPaginator(s.db, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("agent_id = :a"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a": &types.AttributeValueMemberS{Value: agentID},
		},
		ConsistentRead: aws.Bool(true),
	})

	var out []state.Versioned[state.BroadcastState]
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("broadcast/dynamo: list %s: %w", agentID, err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("broadcast/dynamo: unmarshal list %s: %w", agentID, err)
		}
		for _, it := range items {
			v, err := it.versioned()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) expiresAt() types.AttributeValue {
	var epoch int64
	if s.ttl > 0 {
		epoch = time.Now().Add(s.ttl).Unix()
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(epoch, 10)}
}

func revisionOf(key string, attrs map[string]types.AttributeValue) (uint64, error) {
	var rev struct {
		Revision uint64 `dynamodbav:"revision"`
	}
	if err := attributevalue.UnmarshalMap(attrs, &rev); err != nil {
		return 0, fmt.Errorf("broadcast/dynamo: revision %s: %w", key, err)
	}
	return rev.Revision, nil
}
