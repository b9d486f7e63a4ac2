package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/registry"
	log "github.com/sirupsen/logrus"
)

// dynamoBatchLimit is the most items one BatchWriteItem request accepts.
const dynamoBatchLimit = 25

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDBKVStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBKVStore implements core.KVStore on a DynamoDB table with a string
// partition key "key". Values live in the binary attribute "value"; a
// positive TTL is stored as epoch seconds in "ttl".
type DynamoDBKVStore struct {
	tableName   string
	maxAttempts int
	newClient   func(context.Context) (DynamoDBAPI, error)

	mu     sync.RWMutex
	client DynamoDBAPI
	closed bool
}

// NewDynamoDBKVStore loads AWS configuration, creates a client and checks
// that the table exists.
func NewDynamoDBKVStore(ctx context.Context, cfg registry.KVStoreConfig) (*DynamoDBKVStore, error) {
	dc := cfg.DynamoDB
	if dc.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if dc.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	newClient := func(ctx context.Context) (DynamoDBAPI, error) {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(dc.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		if dc.AccessKeyID != "" && dc.SecretAccessKey != "" {
			awsCfg.Credentials = credentials.NewStaticCredentialsProvider(dc.AccessKeyID, dc.SecretAccessKey, "")
		}

		var opts []func(*dynamodb.Options)
		if dc.Endpoint != "" {
			opts = append(opts, func(o *dynamodb.Options) {
				o.BaseEndpoint = aws.String(dc.Endpoint)
			})
		}
		return dynamodb.NewFromConfig(awsCfg, opts...), nil
	}

	client, err := newClient(ctx)
	if err != nil {
		return nil, err
	}
	store := newDynamoDBKVStore(client, dc.TableName, cfg.MaxRetries+1)
	store.newClient = newClient

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if _, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(dc.TableName),
	}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", dc.TableName, dynamoError(err))
	}
	return store, nil
}

func newDynamoDBKVStore(client DynamoDBAPI, tableName string, maxAttempts int) *DynamoDBKVStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DynamoDBKVStore{client: client, tableName: tableName, maxAttempts: maxAttempts}
}

func (d *DynamoDBKVStore) current() (DynamoDBAPI, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, core.ErrClosed
	}
	return d.client, nil
}

func (d *DynamoDBKVStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: key},
	}
}

func (d *DynamoDBKVStore) item(key string, value []byte, ttl time.Duration) map[string]types.AttributeValue {
	item := d.itemKey(key)
	item["value"] = &types.AttributeValueMemberB{Value: value}
	if ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)}
	}
	return item
}

// expired reports whether item carries a ttl in the past. DynamoDB deletes
// expired items lazily, so reads must check.
func expired(item map[string]types.AttributeValue) bool {
	attr, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(attr.Value, 10, 64)
	return err == nil && time.Now().Unix() > ttl
}

// Get retrieves a value by key from the store.
func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := d.current()
	if err != nil {
		return nil, err
	}

	result, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, dynamoError(err))
	}
	if result.Item == nil || expired(result.Item) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}

	value, ok := result.Item["value"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("key %s has no binary value attribute", key)
	}
	return value.Value, nil
}

// Set stores a key-value pair with an optional TTL.
func (d *DynamoDBKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	client, err := d.current()
	if err != nil {
		return err
	}
	if _, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      d.item(key, value, ttl),
	}); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, dynamoError(err))
	}
	return nil
}

// Delete removes a key from the store.
func (d *DynamoDBKVStore) Delete(ctx context.Context, key string) error {
	client, err := d.current()
	if err != nil {
		return err
	}
	if _, err = client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.itemKey(key),
	}); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, dynamoError(err))
	}
	return nil
}

// Exists checks if a key exists in the store.
func (d *DynamoDBKVStore) Exists(ctx context.Context, key string) (bool, error) {
	client, err := d.current()
	if err != nil {
		return false, err
	}

	result, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.tableName),
		Key:                      d.itemKey(key),
		ProjectionExpression:     aws.String("#k, #t"),
		ExpressionAttributeNames: map[string]string{"#k": "key", "#t": "ttl"},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, dynamoError(err))
	}
	return result.Item != nil && !expired(result.Item), nil
}

// BatchSet writes items with BatchWriteItem in chunks of 25. Items the
// service reports as unprocessed are resubmitted with exponential backoff
// until maxAttempts is reached. DynamoDB does not make the batch atomic.
func (d *DynamoDBKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	client, err := d.current()
	if err != nil {
		return err
	}

	requests := make([]types.WriteRequest, 0, len(items))
	for key, value := range items {
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: d.item(key, value, ttl)},
		})
	}

	for len(requests) > 0 {
		n := min(len(requests), dynamoBatchLimit)
		if err := d.writeChunk(ctx, client, requests[:n]); err != nil {
			return err
		}
		requests = requests[n:]
	}
	return nil
}

func (d *DynamoDBKVStore) writeChunk(ctx context.Context, client DynamoDBAPI, chunk []types.WriteRequest) error {
	pending := chunk
	for attempt := 1; ; attempt++ {
		out, err := client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{d.tableName: pending},
		})
		if err != nil {
			return fmt.Errorf("failed to batch set keys: %w", dynamoError(err))
		}

		pending = out.UnprocessedItems[d.tableName]
		if len(pending) == 0 {
			return nil
		}
		if attempt >= d.maxAttempts {
			return fmt.Errorf("failed to batch set keys: %d items unprocessed after %d attempts", len(pending), attempt)
		}

		log.WithFields(log.Fields{
			"component":   "kvstore",
			"table":       d.tableName,
			"unprocessed": len(pending),
			"attempt":     attempt,
		}).Warn("resubmitting unprocessed dynamodb items")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<min(attempt-1, 6)) * 50 * time.Millisecond):
		}
	}
}

// Reauthenticate reloads AWS configuration, picking up rotated
// credentials, and replaces the client.
func (d *DynamoDBKVStore) Reauthenticate(ctx context.Context) error {
	if d.newClient == nil {
		return fmt.Errorf("store cannot reload its credentials")
	}
	client, err := d.newClient(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return core.ErrClosed
	}
	d.client = client
	return nil
}

// Close marks the store closed. The AWS client holds nothing to release.
func (d *DynamoDBKVStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// dynamoError marks credential failures with core.ErrUnauthenticated.
func dynamoError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "InvalidSignatureException",
			"ExpiredTokenException", "MissingAuthenticationToken", "AccessDeniedException":
			return fmt.Errorf("%w: %w", core.ErrUnauthenticated, err)
		}
	}
	return err
}

// DynamoDBKVStoreFactory creates DynamoDB KV stores.
type DynamoDBKVStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *DynamoDBKVStoreFactory) Type() string {
	return "dynamodb"
}

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoDBKVStoreFactory) Validate(config registry.KVStoreConfig) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.DynamoDB.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.DynamoDB.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	if (config.DynamoDB.AccessKeyID == "") != (config.DynamoDB.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// Create creates a new DynamoDB KV store.
func (f *DynamoDBKVStoreFactory) Create(ctx context.Context, config registry.KVStoreConfig) (core.KVStore, error) {
	store, err := NewDynamoDBKVStore(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&DynamoDBKVStoreFactory{})
}
