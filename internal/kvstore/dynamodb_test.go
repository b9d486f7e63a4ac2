package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/stretchr/testify/require"
)

// fakeDynamo stores items in memory and leaves the last item of each
// BatchWriteItem call unprocessed while throttle is positive.
type fakeDynamo struct {
	DynamoDBAPI

	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	batches  []int
	throttle int
	err      error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(item map[string]types.AttributeValue) string {
	return item["key"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		f.batches = append(f.batches, len(reqs))
		if f.throttle > 0 {
			f.throttle--
			out.UnprocessedItems[table] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		for _, r := range reqs {
			f.items[keyOf(r.PutRequest.Item)] = r.PutRequest.Item
		}
	}
	return out, nil
}

func TestDynamoDBStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newDynamoDBKVStore(newFakeDynamo(), "cache", 3)

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "a", []byte("blob"), 0))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), v)

	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Delete(ctx, "a"))
	ok, err = s.Exists(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoDBExpiredItemsAreMissing(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := newDynamoDBKVStore(fake, "cache", 1)

	require.NoError(t, s.Set(ctx, "a", []byte("blob"), time.Hour))
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)

	fake.items["a"]["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10)}
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestDynamoDBBatchSetChunksAndResubmits(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	fake.throttle = 2
	s := newDynamoDBKVStore(fake, "cache", 3)

	items := make(map[string][]byte)
	for i := 0; i < 30; i++ {
		items[fmt.Sprintf("k%d", i)] = []byte(strconv.Itoa(i))
	}
	require.NoError(t, s.BatchSet(ctx, items, 0))
	require.Len(t, fake.items, 30)
	// First chunk of 25 is throttled twice, then the 5 remaining go in one call.
	require.Equal(t, []int{25, 1, 1, 5}, fake.batches)
}

func TestDynamoDBBatchSetGivesUp(t *testing.T) {
	fake := newFakeDynamo()
	fake.throttle = 10
	s := newDynamoDBKVStore(fake, "cache", 2)

	err := s.BatchSet(context.Background(), map[string][]byte{"a": nil, "b": nil}, 0)
	require.ErrorContains(t, err, "1 items unprocessed after 2 attempts")
}

func TestDynamoDBAuthErrorsAreTyped(t *testing.T) {
	fake := newFakeDynamo()
	fake.err = &smithy.GenericAPIError{Code: "ExpiredTokenException", Message: "expired"}
	s := newDynamoDBKVStore(fake, "cache", 1)

	_, err := s.Get(context.Background(), "a")
	require.ErrorIs(t, err, core.ErrUnauthenticated)

	fake.err = errors.New("boom")
	_, err = s.Get(context.Background(), "a")
	require.False(t, errors.Is(err, core.ErrUnauthenticated))

	require.Error(t, s.Reauthenticate(context.Background()))
}
