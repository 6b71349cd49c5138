package dynamo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/state"
)

// fakeDB understands exactly the expressions the store issues.
type fakeDB struct {
	mu    sync.Mutex
	items map[string]item
}

func newFakeDB() *fakeDB { return &fakeDB{items: map[string]item{}} }

func attrS(m map[string]types.AttributeValue, k string) string {
	return m[k].(*types.AttributeValueMemberS).Value //nolint:errcheck // test fake
}

func attrN(m map[string]types.AttributeValue, k string) uint64 {
	n, _ := strconv.ParseUint(m[k].(*types.AttributeValueMemberN).Value, 10, 64) //nolint:errcheck // test fake
	return n
}

func (f *fakeDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[attrS(in.Key, "agent_id")+"."+attrS(in.Key, "batch_id")]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: av}, nil
}

func (f *fakeDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, batch := attrS(in.Key, "agent_id"), attrS(in.Key, "batch_id")
	k := agent + "." + batch
	cur, exists := f.items[k]
	vals := in.ExpressionAttributeValues

	if in.ConditionExpression != nil {
		if !exists || cur.Revision != attrN(vals, ":expected") {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
		}
		cur.Revision = attrN(vals, ":next")
	} else {
		cur.Revision++
	}
	cur.AgentID, cur.BatchID = agent, batch
	cur.State = attrS(vals, ":s")
	f.items[k] = cur

	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"revision": &types.AttributeValueMemberN{Value: strconv.FormatUint(cur.Revision, 10)},
	}}, nil
}

func (f *fakeDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent := attrS(in.ExpressionAttributeValues, ":a")
	var out []map[string]types.AttributeValue
	for _, it := range f.items {
		if it.AgentID != agent {
			continue
		}
		av, err := attributevalue.MarshalMap(it)
		if err != nil {
			return nil, err
		}
		out = append(out, av)
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func TestSplitKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		key, agent, batch string
		wantErr           bool
	}{
		{"a1.b1", "a1", "b1", false},
		{"agent.with.dots.b1", "agent.with.dots", "b1", false},
		{"nodot", "", "", true},
		{".b1", "", "", true},
		{"a1.", "", "", true},
	}
	for _, tt := range tests {
		agent, batch, err := splitKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("splitKey(%q) err = %v", tt.key, err)
			continue
		}
		if agent != tt.agent || batch != tt.batch {
			t.Errorf("splitKey(%q) = %q, %q", tt.key, agent, batch)
		}
	}
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(newFakeDB(), "broadcast_state")

	if _, err := s.Get(ctx, "a1.b1"); !errors.Is(err, broadcast.ErrNotFound) {
		t.Fatalf("Get missing err = %v, want ErrNotFound", err)
	}

	st := state.New(state.NewParams{BatchID: "b1", AgentID: "a1", Total: 3})
	rev, err := s.Put(ctx, "a1.b1", st)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if rev != 1 {
		t.Errorf("first revision = %d, want 1", rev)
	}

	st.Status = state.StatusProcessing
	next, err := s.CompareAndSwap(ctx, "a1.b1", st, rev)
	if err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if _, err := s.CompareAndSwap(ctx, "a1.b1", st, rev); !errors.Is(err, broadcast.ErrConcurrencyConflict) {
		t.Fatalf("stale swap err = %v, want ErrConcurrencyConflict", err)
	}
	if _, err := s.CompareAndSwap(ctx, "a1.none", st, 0); !errors.Is(err, broadcast.ErrConcurrencyConflict) {
		t.Fatalf("absent swap err = %v, want ErrConcurrencyConflict", err)
	}

	got, err := s.Get(ctx, "a1.b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Revision != next || got.Value.Status != state.StatusProcessing {
		t.Errorf("got %s at %d, want PROCESSING at %d", got.Value.Status, got.Revision, next)
	}

	list, err := s.List(ctx, "a1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Value.BatchID != "b1" {
		t.Errorf("List = %+v", list)
	}
}
