package dynamock

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nisimpson/dynamodel"
)

// StartupTimeout bounds how long WithLocalDynamoDB waits for a starting
// DynamoDB Local container.
var StartupTimeout = 2 * time.Second

// TableManager manages DynamoDB tables for testing, providing automatic cleanup.
type TableManager struct {
	local  *LocalDynamoDB
	tables []string // track created tables for cleanup
}

// NewTableManager creates a new table manager for a local instance.
func NewTableManager(local *LocalDynamoDB) *TableManager {
	return &TableManager{local: local}
}

// CreateTestTable creates the table described by s and tracks it for cleanup.
func (tm *TableManager) CreateTestTable(ctx context.Context, s *dynamodel.Schema) error {
	if err := tm.local.CreateTable(ctx, s); err != nil {
		return err
	}
	tm.tables = append(tm.tables, s.TableName())
	return nil
}

// Cleanup deletes all tables created by this manager.
func (tm *TableManager) Cleanup(ctx context.Context) error {
	for _, tableName := range tm.tables {
		if err := tm.local.DeleteTable(ctx, tableName); err != nil {
			return fmt.Errorf("failed to delete table %s: %w", tableName, err)
		}
	}
	tm.tables = tm.tables[:0]
	return nil
}

// TableNames returns the names of all tables managed by this manager.
func (tm *TableManager) TableNames() []string {
	return append([]string(nil), tm.tables...)
}

// WithLocalDynamoDB runs a test function with a local DynamoDB instance.
// It skips the test in short mode or when DynamoDB Local is not reachable
// within StartupTimeout.
func WithLocalDynamoDB(t *testing.T, port int, fn func(local *LocalDynamoDB)) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	local := NewLocalDynamoDB(port)
	if err := local.WaitForAvailable(context.Background(), StartupTimeout); err != nil {
		t.Skipf("Skipping integration test: %v", err)
	}
	fn(local)
}

// WithDefaultLocalDynamoDB runs a test function with the default local DynamoDB instance (port 8000).
func WithDefaultLocalDynamoDB(t *testing.T, fn func(local *LocalDynamoDB)) {
	t.Helper()
	WithLocalDynamoDB(t, DefaultLocalPort, fn)
}

// NewTestTable generates a unique table name for testing.
func NewTestTable(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// WithIsolatedTable creates a uniquely named table for the schemas built by
// newSchemas, registers them on a fresh dynamodel.Table and runs fn with a
// connected DB. The table is deleted afterwards.
func WithIsolatedTable(t *testing.T, local *LocalDynamoDB, newSchemas func(tableName string) []*dynamodel.Schema, fn func(db *dynamodel.DB)) {
	t.Helper()
	ctx := context.Background()
	tableName := NewTestTable("test-" + strings.ReplaceAll(t.Name(), "/", "-"))

	schemas := newSchemas(tableName)
	if len(schemas) == 0 {
		t.Fatal("at least one schema is required")
	}

	tm := NewTableManager(local)
	defer func() {
		if err := tm.Cleanup(ctx); err != nil {
			t.Errorf("Failed to cleanup table %s: %v", tableName, err)
		}
	}()

	if err := tm.CreateTestTable(ctx, schemas[0]); err != nil {
		t.Fatalf("Failed to create test table %s: %v", tableName, err)
	}

	table := dynamodel.NewTable(tableName)
	for _, s := range schemas {
		if _, ok := s.DiscriminatorValue(); !ok {
			continue
		}
		if err := table.Register(s); err != nil {
			t.Fatalf("Failed to register schema %s: %v", s.Name(), err)
		}
	}
	fn(table.Connect(local.Client))
}

// Seeder writes fixture models into a table.
type Seeder struct {
	db *dynamodel.DB
}

// NewSeeder creates a new test data seeder.
func NewSeeder(db *dynamodel.DB) *Seeder {
	return &Seeder{db: db}
}

// Seed writes a single model.
func (s *Seeder) Seed(ctx context.Context, m dynamodel.Model) error {
	if err := s.db.Save(ctx, m); err != nil {
		return fmt.Errorf("failed to seed %s: %w", m.Schema().Name(), err)
	}
	return nil
}

// SeedAll writes models through batch writes.
func (s *Seeder) SeedAll(ctx context.Context, models ...dynamodel.Model) error {
	batch := s.db.BatchWrite().WithAutoCommit(ctx)
	for _, m := range models {
		if err := batch.Save(m); err != nil {
			return fmt.Errorf("failed to seed %s: %w", m.Schema().Name(), err)
		}
	}
	return batch.Commit(ctx)
}

// AssertTableExists verifies that a table exists.
func AssertTableExists(t *testing.T, client *dynamodb.Client, tableName string) {
	t.Helper()
	_, err := client.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		t.Errorf("Table %s does not exist: %v", tableName, err)
	}
}

// AssertTableNotExists verifies that a table does not exist.
func AssertTableNotExists(t *testing.T, client *dynamodb.Client, tableName string) {
	t.Helper()
	_, err := client.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err == nil {
		t.Errorf("Table %s should not exist but it does", tableName)
	}
}
