package dynamock

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nisimpson/dynamodel"
)

type DynamoDBAPICall[T, U any] = func(context.Context, *T, ...func(*dynamodb.Options)) (*U, error)

// DynamoDBAPI defines the DynamoDB operations required by dynamodel.
type DynamoDBAPI = dynamodel.DynamoDBClient

// MockClient is a simple expectation-based mock for DynamoDB operations.
// Users can set expectations for specific operations without needing integration.
// Operations without an expectation fail the test.
type MockClient struct {
	PutFunc                DynamoDBAPICall[dynamodb.PutItemInput, dynamodb.PutItemOutput]
	GetFunc                DynamoDBAPICall[dynamodb.GetItemInput, dynamodb.GetItemOutput]
	QueryFunc              DynamoDBAPICall[dynamodb.QueryInput, dynamodb.QueryOutput]
	ScanFunc               DynamoDBAPICall[dynamodb.ScanInput, dynamodb.ScanOutput]
	BatchWriteItemFunc     DynamoDBAPICall[dynamodb.BatchWriteItemInput, dynamodb.BatchWriteItemOutput]
	BatchGetItemFunc       DynamoDBAPICall[dynamodb.BatchGetItemInput, dynamodb.BatchGetItemOutput]
	TransactWriteItemsFunc DynamoDBAPICall[dynamodb.TransactWriteItemsInput, dynamodb.TransactWriteItemsOutput]
	TransactGetItemsFunc   DynamoDBAPICall[dynamodb.TransactGetItemsInput, dynamodb.TransactGetItemsOutput]
	DeleteFunc             DynamoDBAPICall[dynamodb.DeleteItemInput, dynamodb.DeleteItemOutput]
	UpdateFunc             DynamoDBAPICall[dynamodb.UpdateItemInput, dynamodb.UpdateItemOutput]

	mu    sync.Mutex
	calls map[string]int
}

// Ensure MockClient implements DynamoDBAPI
var _ DynamoDBAPI = (*MockClient)(nil)

// NewMockClient creates a new mock DynamoDB client with default configuration.
func NewMockClient(t testing.TB) *MockClient {
	return &MockClient{
		PutFunc:                defaultFunc[dynamodb.PutItemInput, dynamodb.PutItemOutput](t, "PutItem"),
		GetFunc:                defaultFunc[dynamodb.GetItemInput, dynamodb.GetItemOutput](t, "GetItem"),
		QueryFunc:              defaultFunc[dynamodb.QueryInput, dynamodb.QueryOutput](t, "Query"),
		ScanFunc:               defaultFunc[dynamodb.ScanInput, dynamodb.ScanOutput](t, "Scan"),
		BatchWriteItemFunc:     defaultFunc[dynamodb.BatchWriteItemInput, dynamodb.BatchWriteItemOutput](t, "BatchWriteItem"),
		BatchGetItemFunc:       defaultFunc[dynamodb.BatchGetItemInput, dynamodb.BatchGetItemOutput](t, "BatchGetItem"),
		TransactWriteItemsFunc: defaultFunc[dynamodb.TransactWriteItemsInput, dynamodb.TransactWriteItemsOutput](t, "TransactWriteItems"),
		TransactGetItemsFunc:   defaultFunc[dynamodb.TransactGetItemsInput, dynamodb.TransactGetItemsOutput](t, "TransactGetItems"),
		DeleteFunc:             defaultFunc[dynamodb.DeleteItemInput, dynamodb.DeleteItemOutput](t, "DeleteItem"),
		UpdateFunc:             defaultFunc[dynamodb.UpdateItemInput, dynamodb.UpdateItemOutput](t, "UpdateItem"),
	}
}

// defaultFunc reports an unexpected call. It does not stop the test, since
// batch operations call the client from worker goroutines.
func defaultFunc[T, U any](t testing.TB, op string) DynamoDBAPICall[T, U] {
	return func(ctx context.Context, params *T, optFns ...func(*dynamodb.Options)) (*U, error) {
		t.Errorf("unexpected call to %s", op)
		return nil, fmt.Errorf("unexpected call to %s", op)
	}
}

// Calls returns how many times the named operation was invoked.
func (m *MockClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockClient) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

// PutItem stores an item in the mock table.
func (m *MockClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.record("PutItem")
	return m.PutFunc(ctx, params, optFns...)
}

// GetItem retrieves an item from the mock table.
func (m *MockClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.record("GetItem")
	return m.GetFunc(ctx, params, optFns...)
}

// UpdateItem updates an item in the mock table.
func (m *MockClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.record("UpdateItem")
	return m.UpdateFunc(ctx, params, optFns...)
}

// DeleteItem removes an item from the mock table.
func (m *MockClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.record("DeleteItem")
	return m.DeleteFunc(ctx, params, optFns...)
}

// BatchWriteItem processes batch write operations.
func (m *MockClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.record("BatchWriteItem")
	return m.BatchWriteItemFunc(ctx, params, optFns...)
}

// BatchGetItem processes batch read operations.
func (m *MockClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	m.record("BatchGetItem")
	return m.BatchGetItemFunc(ctx, params, optFns...)
}

// Query performs a query operation.
func (m *MockClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.record("Query")
	return m.QueryFunc(ctx, params, optFns...)
}

// Scan performs a scan operation.
func (m *MockClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.record("Scan")
	return m.ScanFunc(ctx, params, optFns...)
}

// TransactWriteItems performs a write transaction.
func (m *MockClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.record("TransactWriteItems")
	return m.TransactWriteItemsFunc(ctx, params, optFns...)
}

// TransactGetItems performs a read transaction.
func (m *MockClient) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	m.record("TransactGetItems")
	return m.TransactGetItemsFunc(ctx, params, optFns...)
}
