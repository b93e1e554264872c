package dynamodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransactWrite collects write operations that are applied atomically by a
// single TransactWriteItems call. It is not safe for concurrent use.
type TransactWrite struct {
	db     *DB
	items  []types.TransactWriteItem
	keys   map[string]struct{}
	closed bool
}

// TransactWrite starts a new write transaction.
func (db *DB) TransactWrite() *TransactWrite {
	return &TransactWrite{db: db, keys: make(map[string]struct{})}
}

// Len returns the number of operations in the transaction.
func (tx *TransactWrite) Len() int { return len(tx.items) }

// append adds an operation on key. A transaction may touch each item once.
func (tx *TransactWrite) append(key Item, item types.TransactWriteItem) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	if limit := tx.db.table.maxTransactItems(); len(tx.items) >= limit {
		return validationErrorf("", "transaction cannot hold more than %d operations", limit)
	}
	id := keyID(key)
	if _, dup := tx.keys[id]; dup {
		return validationErrorf("", "transaction already operates on key %s", id)
	}
	tx.keys[id] = struct{}{}
	tx.items = append(tx.items, item)
	return nil
}

// Save adds a put of m, optionally conditional.
func (tx *TransactWrite) Save(m Model, opts ...func(*OperationOptions)) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	input, err := tx.db.table.MarshalPut(m, opts...)
	if err != nil {
		return err
	}
	return tx.append(m.Schema().KeyOf(input.Item), types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 input.TableName,
			Item:                      input.Item,
			ConditionExpression:       input.ConditionExpression,
			ExpressionAttributeNames:  input.ExpressionAttributeNames,
			ExpressionAttributeValues: input.ExpressionAttributeValues,
		},
	})
}

// Delete adds a delete of the item stored under m's key.
func (tx *TransactWrite) Delete(m Model, opts ...func(*OperationOptions)) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	input, err := tx.db.table.MarshalDelete(m, opts...)
	if err != nil {
		return err
	}
	return tx.append(input.Key, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:                 input.TableName,
			Key:                       input.Key,
			ConditionExpression:       input.ConditionExpression,
			ExpressionAttributeNames:  input.ExpressionAttributeNames,
			ExpressionAttributeValues: input.ExpressionAttributeValues,
		},
	})
}

// Update adds update actions against m's key.
func (tx *TransactWrite) Update(m Model, actions []UpdateAction, opts ...func(*OperationOptions)) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	input, err := tx.db.table.MarshalUpdate(m, actions, opts...)
	if err != nil {
		return err
	}
	return tx.append(input.Key, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 input.TableName,
			Key:                       input.Key,
			UpdateExpression:          input.UpdateExpression,
			ConditionExpression:       input.ConditionExpression,
			ExpressionAttributeNames:  input.ExpressionAttributeNames,
			ExpressionAttributeValues: input.ExpressionAttributeValues,
		},
	})
}

// ConditionCheck adds a condition on an item the transaction does not write.
func (tx *TransactWrite) ConditionCheck(s *Schema, hash, rng any, cond Condition) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	if err := tx.db.table.checkSchema(s); err != nil {
		return err
	}
	if !cond.IsSet() {
		return validationErrorf("", "condition check requires a condition")
	}
	key, err := s.EncodeKey(hash, rng)
	if err != nil {
		return err
	}
	expr, err := CompileCondition(s, cond)
	if err != nil {
		return err
	}
	return tx.append(key, types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(tx.db.table.TableName),
			Key:                       key,
			ConditionExpression:       aws.String(expr.Expression),
			ExpressionAttributeNames:  expr.Names,
			ExpressionAttributeValues: expr.Values,
		},
	})
}

// MarshalTransactWrite returns the request Commit would send, without a
// client request token.
func (tx *TransactWrite) MarshalTransactWrite() *dynamodb.TransactWriteItemsInput {
	return &dynamodb.TransactWriteItemsInput{TransactItems: tx.items}
}

// Commit applies every operation atomically. Throttled attempts are retried
// with the same client request token, so the backend applies the
// transaction at most once. A committed transaction cannot be reused.
func (tx *TransactWrite) Commit(ctx context.Context) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	tx.closed = true
	if len(tx.items) == 0 {
		return nil
	}
	if limit := tx.db.table.maxTransactItems(); len(tx.items) > limit {
		return validationErrorf("", "transaction cannot hold more than %d operations", limit)
	}

	input := tx.MarshalTransactWrite()
	input.ClientRequestToken = aws.String(uuid.NewString())

	t := tx.db.table
	t.logger().Debug("committing transaction",
		zap.String("token", *input.ClientRequestToken),
		zap.Int("operations", len(input.TransactItems)))

	_, err := withRetry(ctx, t, "TransactWriteItems", func() (*dynamodb.TransactWriteItemsOutput, error) {
		return tx.db.client.TransactWriteItems(ctx, input)
	})
	if err != nil {
		return transactionError("TransactWriteItems", err)
	}
	return nil
}

// Abort discards the transaction without sending it.
func (tx *TransactWrite) Abort() error {
	if tx.closed {
		return ErrTransactionClosed
	}
	tx.closed = true
	tx.items = nil
	tx.keys = nil
	return nil
}

// InTransaction runs fn with a new transaction. The transaction is committed
// when fn returns nil and aborted otherwise. A panic in fn aborts the
// transaction and is re-raised.
func (db *DB) InTransaction(ctx context.Context, fn func(tx *TransactWrite) error) error {
	tx := db.TransactWrite()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Abort()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Abort()
		return err
	}
	return tx.Commit(ctx)
}

// TransactGetKey identifies one item of a transactional read.
type TransactGetKey struct {
	Schema     *Schema
	Hash       any
	Range      any
	Attributes []string // optional projection
}

// TransactGet reads the items stored under keys as one consistent snapshot.
// Models are returned in key order; a key with no stored item yields nil.
func (db *DB) TransactGet(ctx context.Context, keys ...TransactGetKey) ([]Model, error) {
	t := db.table
	if limit := t.maxTransactItems(); len(keys) > limit {
		return nil, validationErrorf("", "transaction cannot hold more than %d operations", limit)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	items := make([]types.TransactGetItem, 0, len(keys))
	for _, k := range keys {
		input, err := t.MarshalGet(k.Schema, k.Hash, k.Range, WithAttributes(k.Attributes...))
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactGetItem{
			Get: &types.Get{
				TableName:                input.TableName,
				Key:                      input.Key,
				ProjectionExpression:     input.ProjectionExpression,
				ExpressionAttributeNames: input.ExpressionAttributeNames,
			},
		})
	}

	input := &dynamodb.TransactGetItemsInput{TransactItems: items}
	out, err := withRetry(ctx, t, "TransactGetItems", func() (*dynamodb.TransactGetItemsOutput, error) {
		return db.client.TransactGetItems(ctx, input)
	})
	if err != nil {
		return nil, transactionError("TransactGetItems", err)
	}
	if len(out.Responses) != len(keys) {
		return nil, fmt.Errorf("failed to TransactGetItems: expected %d responses, got %d", len(keys), len(out.Responses))
	}

	models := make([]Model, len(keys))
	for i, resp := range out.Responses {
		if len(resp.Item) == 0 {
			continue
		}
		m, err := t.Registry().dispatch(resp.Item, keys[i].Schema, len(keys[i].Attributes) > 0)
		if err != nil {
			return nil, err
		}
		models[i] = m
	}
	return models, nil
}

// transactionError converts a backend cancellation into a
// TransactionCanceledError with one reason per operation. A request the
// backend rejects as malformed becomes a ValidationError.
func transactionError(op string, err error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" {
			return validationErrorf("", "%s rejected: %s", op, apiErr.ErrorMessage())
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	reasons := make([]CancellationReason, 0, len(tce.CancellationReasons))
	for i, r := range tce.CancellationReasons {
		reasons = append(reasons, CancellationReason{
			Index:   i,
			Code:    aws.ToString(r.Code),
			Message: aws.ToString(r.Message),
			Item:    r.Item,
		})
	}
	return &TransactionCanceledError{Reasons: reasons, Err: err}
}
