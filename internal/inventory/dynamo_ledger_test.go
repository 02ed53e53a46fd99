package inventory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo understands exactly the expressions DynamoLedger sends.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	updates  []*dynamodb.UpdateItemInput
	pageSize int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["product_id"].(*types.AttributeValueMemberN).Value
}

func numberOf(av types.AttributeValue) string {
	return av.(*types.AttributeValueMemberN).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyOf(in.Item)
	if _, ok := f.items[k]; ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)

	item, ok := f.items[keyOf(in.Key)]
	if !ok || numberOf(item["version"]) != numberOf(in.ExpressionAttributeValues[":expected"]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("version mismatch")}
	}
	updated := map[string]types.AttributeValue{}
	for k, v := range item {
		updated[k] = v
	}
	updated["quantity"] = in.ExpressionAttributeValues[":qty"]
	updated["reserved_quantity"] = in.ExpressionAttributeValues[":resv"]
	updated["version"] = in.ExpressionAttributeValues[":next"]
	updated["updated_at"] = in.ExpressionAttributeValues[":now"]
	f.items[keyOf(in.Key)] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseInt(keys[i], 10, 64)
		b, _ := strconv.ParseInt(keys[j], 10, 64)
		return a < b
	})
	start := 0
	if in.ExclusiveStartKey != nil {
		last := keyOf(in.ExclusiveStartKey)
		for i, k := range keys {
			if k == last {
				start = i + 1
			}
		}
	}
	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.items[k])
	}
	if end < len(keys) {
		out.LastEvaluatedKey = productKeyFromString(keys[end-1])
	}
	return out, nil
}

func productKeyFromString(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberN{Value: k}}
}

func newTestDynamoLedger() (*DynamoLedger, *fakeDynamo) {
	fake := newFakeDynamo()
	ledger := NewDynamoLedger(fake, "inventory")
	ledger.now = func() time.Time { return testNow }
	return ledger, fake
}

func TestDynamoLedger_CreateAndGet(t *testing.T) {
	ledger, _ := newTestDynamoLedger()
	ctx := context.Background()

	require.NoError(t, ledger.Create(ctx, &Inventory{ProductID: 1, Quantity: 100}))

	inv, err := ledger.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 100, inv.Quantity)
	assert.Equal(t, int64(0), inv.Version)
	assert.True(t, testNow.Equal(inv.UpdatedAt))

	assert.ErrorIs(t, ledger.Create(ctx, &Inventory{ProductID: 1, Quantity: 5}), ErrProductExists)
}

func TestDynamoLedger_GetMissing(t *testing.T) {
	ledger, _ := newTestDynamoLedger()

	_, err := ledger.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestDynamoLedger_SaveIsConditionedOnVersion(t *testing.T) {
	ledger, fake := newTestDynamoLedger()
	ctx := context.Background()
	require.NoError(t, ledger.Create(ctx, &Inventory{ProductID: 1, Quantity: 100}))

	inv, err := ledger.Get(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, inv.Reserve(10))
	require.NoError(t, ledger.Save(ctx, inv, 0))
	assert.Equal(t, int64(1), inv.Version)

	stale := &Inventory{ProductID: 1, Quantity: 100, ReservedQuantity: 20}
	assert.ErrorIs(t, ledger.Save(ctx, stale, 0), ErrVersionConflict)

	stored, err := ledger.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.ReservedQuantity)
	assert.Equal(t, int64(1), stored.Version)

	require.Len(t, fake.updates, 2)
	assert.Equal(t, "#ver = :expected", aws.ToString(fake.updates[0].ConditionExpression))
}

func TestDynamoLedger_ListPaginatesAndSorts(t *testing.T) {
	ledger, _ := newTestDynamoLedger()
	ctx := context.Background()
	for _, id := range []int64{12, 3, 7, 1, 5} {
		require.NoError(t, ledger.Create(ctx, &Inventory{ProductID: id, Quantity: int(id)}))
	}

	items, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 5)
	for i, want := range []int64{1, 3, 5, 7, 12} {
		assert.Equal(t, want, items[i].ProductID)
	}

	low, err := ledger.ListBelowAvailable(ctx, 6)
	require.NoError(t, err)
	require.Len(t, low, 3)
}
