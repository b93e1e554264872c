package dynamodel

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// Clock is a function type that returns the current time for dependency injection.
type Clock func() time.Time

// DefaultClock returns the current UTC time.
func DefaultClock() time.Time {
	return time.Now().UTC()
}

const (
	// MaxBatchWriteSize is the maximum number of writes in one BatchWriteItem call.
	MaxBatchWriteSize = 25
	// MaxBatchGetSize is the maximum number of keys in one BatchGetItem call.
	MaxBatchGetSize = 100
	// DefaultMaxTransactItems is the default cap on operations per transaction.
	DefaultMaxTransactItems = 25
)

// Table contains the configuration shared by every model stored in one
// DynamoDB table.
type Table struct {
	TableName        string        // Main table name
	BatchWriteSize   int           // Writes per BatchWriteItem call. Default is 25.
	BatchGetSize     int           // Keys per BatchGetItem call. Default is 100.
	MaxTransactItems int           // Operations per transaction. Default is 25.
	BatchConcurrency int           // Batch chunks in flight at once. Default is 1.
	PaginationTTL    time.Duration // TTL for pagination cursors stored in table
	Retry            RetryOptions  // Backoff for throttled calls and unprocessed items
	Clock            Clock         // Time source for cursor expiry
	Logger           *zap.Logger   // Defaults to a no-op logger

	registry *Registry
}

// NewTable creates a new Table with default configuration.
func NewTable(tableName string) *Table {
	return &Table{
		TableName:        tableName,
		BatchWriteSize:   MaxBatchWriteSize,
		BatchGetSize:     MaxBatchGetSize,
		MaxTransactItems: DefaultMaxTransactItems,
		BatchConcurrency: 1,
		PaginationTTL:    24 * time.Hour,
		Retry:            DefaultRetryOptions(),
		Clock:            DefaultClock,
		Logger:           zap.NewNop(),
		registry:         NewRegistry(),
	}
}

// Register adds schemas to the table's discriminator registry. It must be
// called during setup, before the table is used concurrently.
func (t *Table) Register(schemas ...*Schema) error {
	for _, s := range schemas {
		if err := t.checkSchema(s); err != nil {
			return err
		}
		if err := t.Registry().Register(s); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the table's discriminator registry.
func (t *Table) Registry() *Registry {
	if t.registry == nil {
		t.registry = NewRegistry()
	}
	return t.registry
}

func (t *Table) checkSchema(s *Schema) error {
	if s == nil {
		return validationErrorf("", "schema is required")
	}
	if s.TableName() != t.TableName {
		return validationErrorf("", "schema %s belongs to table %q, not %q", s.Name(), s.TableName(), t.TableName)
	}
	return nil
}

func (t *Table) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func (t *Table) now() time.Time {
	if t.Clock == nil {
		return DefaultClock()
	}
	return t.Clock()
}

func (t *Table) batchWriteSize() int {
	if t.BatchWriteSize <= 0 || t.BatchWriteSize > MaxBatchWriteSize {
		return MaxBatchWriteSize
	}
	return t.BatchWriteSize
}

func (t *Table) batchGetSize() int {
	if t.BatchGetSize <= 0 || t.BatchGetSize > MaxBatchGetSize {
		return MaxBatchGetSize
	}
	return t.BatchGetSize
}

func (t *Table) maxTransactItems() int {
	if t.MaxTransactItems <= 0 {
		return DefaultMaxTransactItems
	}
	return t.MaxTransactItems
}

// OperationOptions holds per-call options for single item reads and writes.
type OperationOptions struct {
	Condition      Condition // Condition the write must satisfy
	ConsistentRead bool      // Strongly consistent read
	Attributes     []string  // Projection for reads
}

// WithCondition makes a write conditional.
func WithCondition(c Condition) func(*OperationOptions) {
	return func(o *OperationOptions) { o.Condition = c }
}

// WithConsistentRead requests a strongly consistent read.
func WithConsistentRead() func(*OperationOptions) {
	return func(o *OperationOptions) { o.ConsistentRead = true }
}

// WithAttributes limits a read to the named attributes. Key and discriminator
// attributes are always included.
func WithAttributes(names ...string) func(*OperationOptions) {
	return func(o *OperationOptions) { o.Attributes = append(o.Attributes, names...) }
}

func newOperationOptions(opts []func(*OperationOptions)) OperationOptions {
	var o OperationOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DynamoDBClient interface for easier testing and connection management.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error)
}

// DB executes operations for a table against a backend client. It is safe
// for concurrent use.
type DB struct {
	table  *Table
	client DynamoDBClient
}

// Connect binds the table to a client.
func (t *Table) Connect(client DynamoDBClient) *DB {
	return &DB{table: t, client: client}
}

// Table returns the table configuration.
func (db *DB) Table() *Table { return db.table }
