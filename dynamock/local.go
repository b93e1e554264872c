package dynamock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nisimpson/dynamodel"
)

// DefaultLocalPort is the default port for DynamoDB Local.
const DefaultLocalPort = 8000

// LocalDynamoDB represents a connection to a local DynamoDB instance.
type LocalDynamoDB struct {
	Client   *dynamodb.Client
	Endpoint string
	Port     int
}

// NewLocalClient creates a DynamoDB client configured to connect to a local DynamoDB instance.
// This is useful for integration testing with DynamoDB Local.
//
// Example usage:
//
//	client := dynamock.NewLocalClient(8000)
//	db := table.Connect(client)
func NewLocalClient(port int) *dynamodb.Client {
	cfg := aws.Config{
		Region:      "us-east-1", // DynamoDB Local doesn't care about region
		Credentials: aws.AnonymousCredentials{},
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("http://localhost:%d", port))
	})
}

// NewLocalDynamoDB creates a LocalDynamoDB instance with the specified port.
func NewLocalDynamoDB(port int) *LocalDynamoDB {
	return &LocalDynamoDB{
		Client:   NewLocalClient(port),
		Endpoint: fmt.Sprintf("http://localhost:%d", port),
		Port:     port,
	}
}

// NewDefaultLocalDynamoDB creates a LocalDynamoDB instance using the default port (8000).
func NewDefaultLocalDynamoDB() *LocalDynamoDB {
	return NewLocalDynamoDB(DefaultLocalPort)
}

// IsAvailable checks if DynamoDB Local is running on the configured port.
func (l *LocalDynamoDB) IsAvailable(ctx context.Context) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", l.Port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()

	// Try to list tables to verify it's actually DynamoDB
	_, err = l.Client.ListTables(ctx, &dynamodb.ListTablesInput{})
	return err == nil
}

// MarshalCreateTable builds the create table request for a schema: its
// primary key plus every declared secondary index. Only the attributes that
// take part in a key are defined.
func MarshalCreateTable(s *dynamodel.Schema) (*dynamodb.CreateTableInput, error) {
	var (
		definitions []types.AttributeDefinition
		defined     = make(map[string]bool)
	)
	define := func(attr dynamodel.Attribute) error {
		if defined[attr.Name] {
			return nil
		}
		scalar, ok := attr.Type.ScalarType()
		if !ok {
			return fmt.Errorf("attribute %q of type %s cannot be a key", attr.Name, attr.Type)
		}
		defined[attr.Name] = true
		definitions = append(definitions, types.AttributeDefinition{
			AttributeName: aws.String(attr.Name),
			AttributeType: scalar,
		})
		return nil
	}
	keySchema := func(hash dynamodel.Attribute, rng *dynamodel.Attribute) ([]types.KeySchemaElement, error) {
		if err := define(hash); err != nil {
			return nil, err
		}
		elems := []types.KeySchemaElement{{AttributeName: aws.String(hash.Name), KeyType: types.KeyTypeHash}}
		if rng != nil {
			if err := define(*rng); err != nil {
				return nil, err
			}
			elems = append(elems, types.KeySchemaElement{AttributeName: aws.String(rng.Name), KeyType: types.KeyTypeRange})
		}
		return elems, nil
	}
	lookup := func(idx dynamodel.Index, name string) (dynamodel.Attribute, error) {
		if attr, ok := s.Attribute(name); ok {
			return attr, nil
		}
		for _, attr := range idx.Attributes {
			if attr.Name == name {
				return attr, nil
			}
		}
		return dynamodel.Attribute{}, fmt.Errorf("index %q references undeclared attribute %q", idx.Name, name)
	}

	var rng *dynamodel.Attribute
	if attr, ok := s.RangeKey(); ok {
		rng = &attr
	}
	tableKeys, err := keySchema(s.HashKey(), rng)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(s.TableName()),
		KeySchema:   tableKeys,
		BillingMode: types.BillingModePayPerRequest,
	}

	for _, idx := range s.Indexes() {
		hash, err := lookup(idx, idx.HashKey)
		if err != nil {
			return nil, err
		}
		var irng *dynamodel.Attribute
		if idx.RangeKey != "" {
			attr, err := lookup(idx, idx.RangeKey)
			if err != nil {
				return nil, err
			}
			irng = &attr
		}
		keys, err := keySchema(hash, irng)
		if err != nil {
			return nil, err
		}
		projection := &types.Projection{ProjectionType: idx.Projection.SDKType()}
		if idx.Projection == dynamodel.ProjectInclude {
			projection.NonKeyAttributes = idx.NonKeyAttributes
		}

		if idx.Local {
			input.LocalSecondaryIndexes = append(input.LocalSecondaryIndexes, types.LocalSecondaryIndex{
				IndexName:  aws.String(idx.Name),
				KeySchema:  keys,
				Projection: projection,
			})
			continue
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  keys,
			Projection: projection,
		})
	}

	input.AttributeDefinitions = definitions
	return input, nil
}

// CreateTable creates the table described by a schema and waits for it to
// become active. This is a convenience function for integration tests.
func (l *LocalDynamoDB) CreateTable(ctx context.Context, s *dynamodel.Schema) error {
	input, err := MarshalCreateTable(s)
	if err != nil {
		return err
	}

	if _, err := l.Client.CreateTable(ctx, input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.TableName(), err)
	}
	return l.WaitForTableActive(ctx, s.TableName(), 30*time.Second)
}

// WaitForTableActive waits for a table to become active.
func (l *LocalDynamoDB) WaitForTableActive(ctx context.Context, tableName string, timeout time.Duration) error {
	return poll(ctx, timeout, time.Second, func() (bool, error) {
		output, err := l.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			return false, fmt.Errorf("failed to describe table %s: %w", tableName, err)
		}
		return output.Table.TableStatus == types.TableStatusActive, nil
	})
}

// DeleteTable deletes a table and waits for it to be fully deleted.
func (l *LocalDynamoDB) DeleteTable(ctx context.Context, tableName string) error {
	_, err := l.Client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to delete table %s: %w", tableName, err)
	}

	return poll(ctx, 30*time.Second, time.Second, func() (bool, error) {
		_, err := l.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("error checking table deletion status: %w", err)
		}
		return false, nil
	})
}

// WaitForAvailable waits for DynamoDB Local to start accepting requests.
func (l *LocalDynamoDB) WaitForAvailable(ctx context.Context, timeout time.Duration) error {
	err := poll(ctx, timeout, 500*time.Millisecond, func() (bool, error) {
		return l.IsAvailable(ctx), nil
	})
	if err != nil {
		return fmt.Errorf("DynamoDB Local not available at %s: %w", l.Endpoint, err)
	}
	return nil
}

// poll calls done every interval until it reports true, fails, or timeout
// elapses.
func poll(ctx context.Context, timeout, interval time.Duration, done func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("condition not met within %v", timeout)
}
