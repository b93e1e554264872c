package dynamodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Save writes the model, replacing any stored item with the same key.
func (db *DB) Save(ctx context.Context, m Model, opts ...func(*OperationOptions)) error {
	input, err := db.table.MarshalPut(m, opts...)
	if err != nil {
		return err
	}

	_, err = withRetry(ctx, db.table, "PutItem", func() (*dynamodb.PutItemOutput, error) {
		return db.client.PutItem(ctx, input)
	})
	if err != nil {
		return writeError("PutItem", err)
	}
	return nil
}

// Get reads one item by primary key and dispatches it to its model. It
// returns ErrDoesNotExist when no item is stored under the key.
func (db *DB) Get(ctx context.Context, s *Schema, hash, rng any, opts ...func(*OperationOptions)) (Model, error) {
	input, err := db.table.MarshalGet(s, hash, rng, opts...)
	if err != nil {
		return nil, err
	}

	out, err := withRetry(ctx, db.table, "GetItem", func() (*dynamodb.GetItemOutput, error) {
		return db.client.GetItem(ctx, input)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrDoesNotExist
	}

	return db.table.Registry().dispatch(out.Item, s, input.ProjectionExpression != nil)
}

// Delete removes the item stored under the model's key.
func (db *DB) Delete(ctx context.Context, m Model, opts ...func(*OperationOptions)) error {
	input, err := db.table.MarshalDelete(m, opts...)
	if err != nil {
		return err
	}

	_, err = withRetry(ctx, db.table, "DeleteItem", func() (*dynamodb.DeleteItemOutput, error) {
		return db.client.DeleteItem(ctx, input)
	})
	if err != nil {
		return writeError("DeleteItem", err)
	}
	return nil
}

// Update applies actions to the item stored under the model's key and returns
// the updated item, dispatched to its model.
func (db *DB) Update(ctx context.Context, m Model, actions []UpdateAction, opts ...func(*OperationOptions)) (Model, error) {
	input, err := db.table.MarshalUpdate(m, actions, opts...)
	if err != nil {
		return nil, err
	}

	out, err := withRetry(ctx, db.table, "UpdateItem", func() (*dynamodb.UpdateItemOutput, error) {
		return db.client.UpdateItem(ctx, input)
	})
	if err != nil {
		return nil, writeError("UpdateItem", err)
	}

	return db.table.Registry().dispatch(out.Attributes, m.Schema(), false)
}

// Refresh reloads m in place with a strongly consistent read.
func (db *DB) Refresh(ctx context.Context, m Model) error {
	s, key, err := db.table.modelKey(m)
	if err != nil {
		return err
	}

	input := &dynamodb.GetItemInput{
		TableName:      aws.String(db.table.TableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	}
	out, err := withRetry(ctx, db.table, "GetItem", func() (*dynamodb.GetItemOutput, error) {
		return db.client.GetItem(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("failed to refresh item: %w", err)
	}
	if len(out.Item) == 0 {
		return ErrDoesNotExist
	}

	values, err := s.Decode(out.Item)
	if err != nil {
		return &DeserializationError{Model: s.Name(), Err: err}
	}
	s.applyDefaults(values)
	return m.UnmarshalValues(values)
}

// As asserts the concrete type of a model returned by a read.
func As[T Model](m Model, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	out, ok := m.(T)
	if !ok {
		return zero, &DeserializationError{Model: fmt.Sprintf("%T", zero), Err: fmt.Errorf("item dispatched to %T", m)}
	}
	return out, nil
}

func writeError(op string, err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return &ConditionalCheckFailedError{Operation: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
