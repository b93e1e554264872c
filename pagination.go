package dynamodel

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func init() {
	// Register DynamoDB types with gob
	gob.Register(map[string]types.AttributeValue{})
	gob.Register(&types.AttributeValueMemberS{})
	gob.Register(&types.AttributeValueMemberN{})
	gob.Register(&types.AttributeValueMemberB{})
	gob.Register(&types.AttributeValueMemberSS{})
	gob.Register(&types.AttributeValueMemberNS{})
	gob.Register(&types.AttributeValueMemberBS{})
	gob.Register(&types.AttributeValueMemberM{})
	gob.Register(&types.AttributeValueMemberL{})
	gob.Register(&types.AttributeValueMemberNULL{})
	gob.Register(&types.AttributeValueMemberBOOL{})
}

// Results is a lazy sequence of models spanning every page of a query or
// scan. Pages are requested one at a time, each with the previous page's last
// evaluated key. A Results value may be iterated again; every iteration
// restarts from the original start key.
type Results struct {
	fetch func(ctx context.Context, start Item) (*Page, []string, error)
	start Item
	limit int

	lastKey Item
	pages   int
	count   int
}

// All yields every model in order. Iteration stops at the first error, which
// is yielded with a nil model.
func (r *Results) All(ctx context.Context) iter.Seq2[Model, error] {
	return func(yield func(Model, error) bool) {
		r.lastKey, r.pages, r.count = nil, 0, 0
		start := r.start

		for {
			page, keyNames, err := r.fetch(ctx, start)
			if err != nil {
				yield(nil, err)
				return
			}
			r.pages++
			r.lastKey = page.LastEvaluatedKey

			for i, m := range page.Models {
				if r.limit > 0 && r.count >= r.limit {
					return
				}
				r.count++
				// resuming from here must not skip the rest of the page
				if i < len(page.Models)-1 {
					r.lastKey = keyOf(page.Items[i], keyNames)
				} else {
					r.lastKey = page.LastEvaluatedKey
				}
				if !yield(m, nil) {
					return
				}
			}

			if len(page.LastEvaluatedKey) == 0 || (r.limit > 0 && r.count >= r.limit) {
				return
			}
			start = page.LastEvaluatedKey
		}
	}
}

// Collect reads every model into a slice.
func (r *Results) Collect(ctx context.Context) ([]Model, error) {
	var models []Model
	for m, err := range r.All(ctx) {
		if err != nil {
			return models, err
		}
		models = append(models, m)
	}
	return models, nil
}

// LastEvaluatedKey returns the key to resume from after the last iteration,
// or nil when the sequence was exhausted.
func (r *Results) LastEvaluatedKey() Item { return r.lastKey }

// Pages returns the number of backend calls made by the last iteration.
func (r *Results) Pages() int { return r.pages }

// Count returns the number of models yielded by the last iteration.
func (r *Results) Count() int { return r.count }

func keyOf(item Item, names []string) Item {
	key := make(Item, len(names))
	for _, n := range names {
		if av, ok := item[n]; ok {
			key[n] = av
		}
	}
	return key
}

// Paginator handles pagination by converting last evaluated keys into string
// cursors for clients, and in turn converting client cursors into start keys
// to continue paging of query results.
type Paginator interface {
	// PageCursor generates a string token from the provided start key. Implementors
	// should return an empty token if the start key is nil or empty.
	PageCursor(ctx context.Context, lastkey Item) (string, error)
	// StartKey generates a dynamodb start key from the provided cursor. Implementors
	// should return a nil item if the cursor is an empty string.
	StartKey(ctx context.Context, cursor string) (Item, error)
}

// EncodeToken converts a last evaluated key into an opaque URL-safe token.
func EncodeToken(lastkey Item) (string, error) {
	if len(lastkey) == 0 {
		return "", nil
	}
	data, err := encodeKey(lastkey)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) (Item, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, validationErrorf("", "malformed page token")
	}
	return decodeKey(data)
}

// TokenPaginator implements Paginator without storage by encoding the key
// into the cursor itself.
type TokenPaginator struct{}

func (TokenPaginator) PageCursor(_ context.Context, lastkey Item) (string, error) {
	return EncodeToken(lastkey)
}

func (TokenPaginator) StartKey(_ context.Context, cursor string) (Item, error) {
	return DecodeToken(cursor)
}

// AttributeNameCursorKey holds the encoded start key of a stored cursor.
const AttributeNameCursorKey = "cursor_key"

// TablePaginator implements Paginator by storing start keys in the table
// itself under short random cursors. Cursor items expire through the
// schema's TTL attribute when it has one.
type TablePaginator struct {
	db     *DB
	schema *Schema
}

// Paginator returns a TablePaginator that stores cursors using the key layout
// of s. The table keys of s must be Unicode attributes.
func (db *DB) Paginator(s *Schema) *TablePaginator {
	return &TablePaginator{db: db, schema: s}
}

func (p *TablePaginator) cursorKey(cursor string) (Item, error) {
	id := &types.AttributeValueMemberS{Value: "page#" + cursor}
	hash := p.schema.HashKey()
	if hash.Type != UnicodeType {
		return nil, validationErrorf(hash.Name, "cursor storage requires a Unicode hash key")
	}
	key := Item{hash.Name: id}
	if rng, ok := p.schema.RangeKey(); ok {
		if rng.Type != UnicodeType {
			return nil, validationErrorf(rng.Name, "cursor storage requires a Unicode range key")
		}
		key[rng.Name] = id
	}
	return key, nil
}

func (p *TablePaginator) ttlAttribute() string {
	for _, attr := range p.schema.attributes {
		if attr.Type == TTLType {
			return attr.Name
		}
	}
	return "expires"
}

// PageCursor stores the last evaluated key and returns the cursor that
// references it. If lastkey is empty, an empty string is returned.
func (p *TablePaginator) PageCursor(ctx context.Context, lastkey Item) (string, error) {
	if len(lastkey) == 0 {
		return "", nil
	}

	cursor, err := generateCursor()
	if err != nil {
		return "", fmt.Errorf("failed to generate cursor: %w", err)
	}

	data, err := encodeKey(lastkey)
	if err != nil {
		return "", err
	}

	item, err := p.cursorKey(cursor)
	if err != nil {
		return "", err
	}
	item[AttributeNameCursorKey] = &types.AttributeValueMemberB{Value: data}
	expires := p.db.table.now().Add(p.db.table.PaginationTTL)
	item[p.ttlAttribute()] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Unix(), 10)}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(p.db.table.TableName),
		Item:      item,
	}
	_, err = withRetry(ctx, p.db.table, "PutItem", func() (*dynamodb.PutItemOutput, error) {
		return p.db.client.PutItem(ctx, input)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store page cursor: %w", err)
	}

	return cursor, nil
}

// StartKey loads the key stored under cursor. Unknown or expired cursors
// yield a nil key.
func (p *TablePaginator) StartKey(ctx context.Context, cursor string) (Item, error) {
	if cursor == "" {
		return nil, nil
	}

	key, err := p.cursorKey(cursor)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.GetItemInput{
		TableName:      aws.String(p.db.table.TableName),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	}
	out, err := withRetry(ctx, p.db.table, "GetItem", func() (*dynamodb.GetItemOutput, error) {
		return p.db.client.GetItem(ctx, input)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get page cursor: %w", err)
	}

	data, ok := out.Item[AttributeNameCursorKey].(*types.AttributeValueMemberB)
	if !ok || len(data.Value) == 0 {
		return nil, nil
	}

	// the TTL sweep is lazy, so expired cursors may still be returned
	if ttl, ok := out.Item[p.ttlAttribute()].(*types.AttributeValueMemberN); ok {
		if secs, err := strconv.ParseInt(ttl.Value, 10, 64); err == nil && p.db.table.now().After(time.Unix(secs, 0)) {
			return nil, nil
		}
	}

	return decodeKey(data.Value)
}

func encodeKey(key Item) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(key); err != nil {
		return nil, fmt.Errorf("failed to encode last key: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeKey(data []byte) (Item, error) {
	var key map[string]types.AttributeValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&key); err != nil {
		return nil, fmt.Errorf("failed to decode last key: %w", err)
	}
	return key, nil
}

// generateCursor creates a unique cursor string using current time and random bytes
func generateCursor() (string, error) {
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	combined := fmt.Sprintf("%d_%s", time.Now().UnixNano(), base64.RawURLEncoding.EncodeToString(randomBytes))
	return base64.RawURLEncoding.EncodeToString([]byte(combined)), nil
}
