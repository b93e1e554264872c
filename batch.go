package dynamodel

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Key is a primary key given as attribute values. Range is ignored for
// schemas without a range key.
type Key struct {
	Hash  any
	Range any
}

// BatchWrite collects puts and deletes and sends them in BatchWriteItem
// calls. It is not safe for concurrent use.
type BatchWrite struct {
	db       *DB
	requests []types.WriteRequest
	keys     map[string]struct{}

	autoCommit context.Context
}

// BatchWrite starts a new batch of writes.
func (db *DB) BatchWrite() *BatchWrite {
	return &BatchWrite{db: db, keys: make(map[string]struct{})}
}

// WithAutoCommit makes the batch send a full chunk as soon as one is pending.
// Automatic flushes use ctx.
func (b *BatchWrite) WithAutoCommit(ctx context.Context) *BatchWrite {
	b.autoCommit = ctx
	return b
}

// Len returns the number of pending writes.
func (b *BatchWrite) Len() int { return len(b.requests) }

// Save adds a put of m. The model is encoded immediately.
func (b *BatchWrite) Save(m Model) error {
	s, item, err := b.db.table.encode(m)
	if err != nil {
		return err
	}
	return b.add(s.KeyOf(item), types.WriteRequest{
		PutRequest: &types.PutRequest{Item: item},
	})
}

// Delete adds a delete of the item stored under m's key.
func (b *BatchWrite) Delete(m Model) error {
	_, key, err := b.db.table.modelKey(m)
	if err != nil {
		return err
	}
	return b.add(key, types.WriteRequest{
		DeleteRequest: &types.DeleteRequest{Key: key},
	})
}

func (b *BatchWrite) add(key Item, req types.WriteRequest) error {
	id := keyID(key)
	if _, dup := b.keys[id]; dup {
		return validationErrorf("", "batch already writes key %s", id)
	}
	b.keys[id] = struct{}{}
	b.requests = append(b.requests, req)

	if b.autoCommit != nil && len(b.requests) >= b.db.table.batchWriteSize() {
		return b.Commit(b.autoCommit)
	}
	return nil
}

// Commit sends every pending write. On failure the returned
// BatchIncompleteError holds the writes that were not confirmed.
func (b *BatchWrite) Commit(ctx context.Context) error {
	requests := b.requests
	b.requests = nil
	b.keys = make(map[string]struct{})
	if len(requests) == 0 {
		return nil
	}
	return b.db.batchWrite(ctx, requests)
}

func (db *DB) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	batches := db.table.MarshalBatchWrite(requests)
	left := make([][]types.WriteRequest, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(db.table.BatchConcurrency, 1))
	for i, input := range batches {
		g.Go(func() error {
			var err error
			left[i], err = db.writeChunk(gctx, input.RequestItems[db.table.TableName])
			return err
		})
	}
	err := g.Wait()

	var unprocessed []types.WriteRequest
	for _, l := range left {
		unprocessed = append(unprocessed, l...)
	}
	if len(unprocessed) > 0 || err != nil {
		return &BatchIncompleteError{Writes: unprocessed, Err: err}
	}
	return nil
}

// writeChunk sends one chunk and resubmits its unprocessed items until they
// are confirmed or the attempt budget is spent. It returns what is left.
func (db *DB) writeChunk(ctx context.Context, pending []types.WriteRequest) ([]types.WriteRequest, error) {
	t := db.table
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return pending, err
		}

		t.logger().Debug("dispatching batch write", zap.Int("items", len(pending)), zap.Int("attempt", attempt))
		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{t.TableName: pending},
		}
		out, err := withRetry(ctx, t, "BatchWriteItem", func() (*dynamodb.BatchWriteItemOutput, error) {
			return db.client.BatchWriteItem(ctx, input)
		})
		if err != nil {
			return pending, err
		}

		pending = out.UnprocessedItems[t.TableName]
		if len(pending) == 0 {
			return nil, nil
		}
		if attempt >= t.Retry.attempts() {
			t.logger().Warn("unprocessed batch writes remain", zap.Int("items", len(pending)))
			return pending, nil
		}
		if err := sleep(ctx, t.Retry.delay(attempt, nil)); err != nil {
			return pending, err
		}
	}
}

// BatchGetResult holds the models returned by a batch read, indexed by
// primary key.
type BatchGetResult struct {
	schema *Schema
	byKey  map[string]Model
	models []Model
}

// Get returns the model stored under the given key, if it was found.
func (r *BatchGetResult) Get(hash, rng any) (Model, bool) {
	key, err := r.schema.EncodeKey(hash, rng)
	if err != nil {
		return nil, false
	}
	m, ok := r.byKey[keyID(key)]
	return m, ok
}

// Models returns the found models in the order the backend returned them.
func (r *BatchGetResult) Models() []Model { return r.models }

// Len returns the number of found models.
func (r *BatchGetResult) Len() int { return len(r.models) }

// BatchGet reads the items stored under keys. Duplicate keys are read once
// and keys with no stored item are absent from the result. When some keys
// remain unprocessed the partial result is returned with a
// BatchIncompleteError.
func (db *DB) BatchGet(ctx context.Context, s *Schema, keys []Key, opts ...func(*OperationOptions)) (*BatchGetResult, error) {
	if err := db.table.checkSchema(s); err != nil {
		return nil, err
	}

	encoded := make([]Item, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		key, err := s.EncodeKey(k.Hash, k.Range)
		if err != nil {
			return nil, err
		}
		id := keyID(key)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		encoded = append(encoded, key)
	}

	result := &BatchGetResult{schema: s, byKey: make(map[string]Model)}
	if len(encoded) == 0 {
		return result, nil
	}

	batches, err := db.table.MarshalBatchGet(s, encoded, opts...)
	if err != nil {
		return nil, err
	}
	partial := len(newOperationOptions(opts).Attributes) > 0

	found := make([][]Item, len(batches))
	left := make([][]Item, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(db.table.BatchConcurrency, 1))
	for i, input := range batches {
		g.Go(func() error {
			var err error
			found[i], left[i], err = db.getChunk(gctx, input.RequestItems[db.table.TableName])
			return err
		})
	}
	werr := g.Wait()

	for _, items := range found {
		for _, item := range items {
			m, err := db.table.Registry().dispatch(item, s, partial)
			if err != nil {
				return nil, err
			}
			result.byKey[keyID(s.KeyOf(item))] = m
			result.models = append(result.models, m)
		}
	}

	var unprocessed []Item
	for _, l := range left {
		unprocessed = append(unprocessed, l...)
	}
	if len(unprocessed) > 0 || werr != nil {
		return result, &BatchIncompleteError{Keys: unprocessed, Err: werr}
	}
	return result, nil
}

func (db *DB) getChunk(ctx context.Context, request types.KeysAndAttributes) (found, pending []Item, err error) {
	t := db.table
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return found, request.Keys, err
		}

		t.logger().Debug("dispatching batch get", zap.Int("keys", len(request.Keys)), zap.Int("attempt", attempt))
		input := &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{t.TableName: request},
		}
		out, err := withRetry(ctx, t, "BatchGetItem", func() (*dynamodb.BatchGetItemOutput, error) {
			return db.client.BatchGetItem(ctx, input)
		})
		if err != nil {
			return found, request.Keys, err
		}

		found = append(found, out.Responses[t.TableName]...)
		next, ok := out.UnprocessedKeys[t.TableName]
		if !ok || len(next.Keys) == 0 {
			return found, nil, nil
		}
		request.Keys = next.Keys
		if attempt >= t.Retry.attempts() {
			t.logger().Warn("unprocessed batch keys remain", zap.Int("keys", len(request.Keys)))
			return found, request.Keys, nil
		}
		if err := sleep(ctx, t.Retry.delay(attempt, nil)); err != nil {
			return found, request.Keys, err
		}
	}
}

// keyID renders a primary key as a string that is equal for equal keys.
// Attribute names are sorted so the result does not depend on map order, and
// every name and value is length-prefixed so that no separator can be forged
// by the key contents.
func keyID(key Item) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		var tag, value string
		switch v := key[name].(type) {
		case *types.AttributeValueMemberS:
			tag, value = "S", v.Value
		case *types.AttributeValueMemberN:
			tag, value = "N", canonicalNumber(v.Value)
		case *types.AttributeValueMemberB:
			tag, value = "B", base64.StdEncoding.EncodeToString(v.Value)
		}
		fmt.Fprintf(&b, "%d:%s=%s%d:%s;", len(name), name, tag, len(value), value)
	}
	return b.String()
}
