package dynamodel

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Query describes a key-condition read against the table or one of its
// secondary indexes.
type Query struct {
	HashKey           string    // Hash key attribute name; defaults to the table hash key
	HashValue         any       // Hash key value
	RangeKeyCondition Condition // Optional condition on the range key
	Filter            Condition // Optional filter applied after the key condition
	IndexName         string    // Explicit index; inferred from HashKey when empty
	ConsistentRead    bool      // Strongly consistent read; not allowed on global indexes
	Descending        bool      // Scan direction (default: ascending)
	Limit             int       // Maximum number of items across all pages
	PageSize          int       // Maximum number of items evaluated per backend call
	StartKey          Item      // Exclusive start key for pagination
	Attributes        []string  // Projection; key and discriminator attributes are always included
}

// Scan describes a full read of the table or an index.
type Scan struct {
	Filter         Condition // Optional filter
	IndexName      string    // Optional index to scan
	ConsistentRead bool      // Strongly consistent read; not allowed on global indexes
	Limit          int       // Maximum number of items across all pages
	PageSize       int       // Maximum number of items evaluated per backend call
	StartKey       Item      // Exclusive start key for pagination
	Attributes     []string  // Projection
	Segment        int       // Segment of a parallel scan
	TotalSegments  int       // Number of parallel scan segments; 0 disables segmentation
}

// Page is the result of one backend query or scan call.
type Page struct {
	Models           []Model
	Items            []Item
	LastEvaluatedKey Item
	Count            int
	ScannedCount     int
}

// route is the resolved target of a read: the base table or an index.
type route struct {
	index   *Index
	hash    Attribute
	rng     Attribute
	partial bool // items may lack attributes that are not projected
}

func (r route) global() bool {
	return r.index != nil && !r.index.Local
}

// keyNames lists the attributes that make up a start key for this route.
func (r route) keyNames(s *Schema) []string {
	names := []string{s.hashKey}
	for _, n := range []string{s.rangeKey, r.hash.Name, r.rng.Name} {
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

func (t *Table) indexRoute(s *Schema, idx Index) route {
	r := route{index: &idx, partial: idx.Projection != ProjectAll}
	r.hash, _ = s.indexAttribute(idx, idx.HashKey)
	if idx.RangeKey != "" {
		r.rng, _ = s.indexAttribute(idx, idx.RangeKey)
	}
	return r
}

func (t *Table) tableRoute(s *Schema) route {
	r := route{hash: s.HashKey()}
	r.rng, _ = s.RangeKey()
	return r
}

// routeQuery picks the table or index that can serve q. The base table wins
// when the hash key matches it; otherwise the first index with a matching hash
// key is used, preferring one whose range key matches the range condition.
func (t *Table) routeQuery(s *Schema, q Query) (route, error) {
	rangeAttr := q.RangeKeyCondition.attr

	var r route
	switch {
	case q.IndexName != "":
		idx, ok := s.Index(q.IndexName)
		if !ok {
			return route{}, validationErrorf("", "schema %s has no index %q", s.Name(), q.IndexName)
		}
		if q.HashKey != "" && q.HashKey != idx.HashKey {
			return route{}, validationErrorf(q.HashKey, "index %q is keyed on %q", idx.Name, idx.HashKey)
		}
		r = t.indexRoute(s, idx)

	case q.HashKey == "" || q.HashKey == s.hashKey:
		r = t.tableRoute(s)
		if rangeAttr != "" && rangeAttr != s.rangeKey {
			for _, idx := range s.indexes {
				if idx.Local && idx.RangeKey == rangeAttr {
					r = t.indexRoute(s, idx)
					break
				}
			}
		}

	default:
		var candidates []Index
		for _, idx := range s.indexes {
			if idx.HashKey == q.HashKey {
				candidates = append(candidates, idx)
			}
		}
		if len(candidates) == 0 {
			return route{}, validationErrorf(q.HashKey, "neither the table nor any index of %s is keyed on this attribute", s.Name())
		}
		chosen := candidates[0]
		for _, idx := range candidates {
			if rangeAttr != "" && idx.RangeKey == rangeAttr {
				chosen = idx
				break
			}
		}
		r = t.indexRoute(s, chosen)
	}

	if q.ConsistentRead && r.global() {
		return route{}, validationErrorf("", "consistent reads are not supported on global index %q", r.index.Name)
	}
	if len(q.Attributes) > 0 {
		r.partial = true
	}
	return r, nil
}

func (t *Table) routeScan(s *Schema, sc Scan) (route, error) {
	r := t.tableRoute(s)
	if sc.IndexName != "" {
		idx, ok := s.Index(sc.IndexName)
		if !ok {
			return route{}, validationErrorf("", "schema %s has no index %q", s.Name(), sc.IndexName)
		}
		r = t.indexRoute(s, idx)
	}
	if sc.ConsistentRead && r.global() {
		return route{}, validationErrorf("", "consistent reads are not supported on global index %q", r.index.Name)
	}
	if sc.TotalSegments < 0 || (sc.TotalSegments > 0 && (sc.Segment < 0 || sc.Segment >= sc.TotalSegments)) {
		return route{}, validationErrorf("", "segment %d is out of range for %d segments", sc.Segment, sc.TotalSegments)
	}
	if len(sc.Attributes) > 0 {
		r.partial = true
	}
	return r, nil
}

// MarshalQuery marshals q into a query request.
func (t *Table) MarshalQuery(s *Schema, q Query) (*dynamodb.QueryInput, error) {
	_, input, err := t.marshalQuery(s, q)
	return input, err
}

func (t *Table) marshalQuery(s *Schema, q Query) (route, *dynamodb.QueryInput, error) {
	if err := t.checkSchema(s); err != nil {
		return route{}, nil, err
	}
	r, err := t.routeQuery(s, q)
	if err != nil {
		return route{}, nil, err
	}

	c := newCompiler(s)
	keyCondition, err := c.keyCondition(r.hash, q.HashValue, r.rng, q.RangeKeyCondition)
	if err != nil {
		return route{}, nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(t.TableName),
		KeyConditionExpression: aws.String(keyCondition),
		ScanIndexForward:       aws.Bool(!q.Descending),
		ConsistentRead:         aws.Bool(q.ConsistentRead),
		ExclusiveStartKey:      q.StartKey,
	}
	if r.index != nil {
		input.IndexName = aws.String(r.index.Name)
	}

	if q.Filter.IsSet() {
		if attr := keyAttributeIn(q.Filter, r); attr != "" {
			return route{}, nil, expressionErrorf(attr, "query filters cannot reference key attributes")
		}
		filter, err := c.condition(q.Filter)
		if err != nil {
			return route{}, nil, err
		}
		input.FilterExpression = aws.String(filter)
	}

	if len(q.Attributes) > 0 {
		projection, err := c.projection(projectionNames(s, q.Attributes))
		if err != nil {
			return route{}, nil, err
		}
		input.ProjectionExpression = aws.String(projection)
	}

	if q.PageSize > 0 {
		input.Limit = aws.Int32(int32(q.PageSize))
	}

	input.ExpressionAttributeNames = c.names()
	input.ExpressionAttributeValues = c.values()
	return r, input, nil
}

// keyAttributeIn returns the first key attribute of r referenced by cond.
func keyAttributeIn(cond Condition, r route) string {
	if cond.compound() || cond.kind == condNot {
		for _, child := range cond.children {
			if attr := keyAttributeIn(child, r); attr != "" {
				return attr
			}
		}
		return ""
	}
	if cond.attr == r.hash.Name || (r.rng.Name != "" && cond.attr == r.rng.Name) {
		return cond.attr
	}
	return ""
}

// MarshalScan marshals sc into a scan request.
func (t *Table) MarshalScan(s *Schema, sc Scan) (*dynamodb.ScanInput, error) {
	_, input, err := t.marshalScan(s, sc)
	return input, err
}

func (t *Table) marshalScan(s *Schema, sc Scan) (route, *dynamodb.ScanInput, error) {
	if err := t.checkSchema(s); err != nil {
		return route{}, nil, err
	}
	r, err := t.routeScan(s, sc)
	if err != nil {
		return route{}, nil, err
	}

	c := newCompiler(s)
	input := &dynamodb.ScanInput{
		TableName:         aws.String(t.TableName),
		ConsistentRead:    aws.Bool(sc.ConsistentRead),
		ExclusiveStartKey: sc.StartKey,
	}
	if r.index != nil {
		input.IndexName = aws.String(r.index.Name)
	}

	if sc.Filter.IsSet() {
		filter, err := c.condition(sc.Filter)
		if err != nil {
			return route{}, nil, err
		}
		input.FilterExpression = aws.String(filter)
	}

	if len(sc.Attributes) > 0 {
		projection, err := c.projection(projectionNames(s, sc.Attributes))
		if err != nil {
			return route{}, nil, err
		}
		input.ProjectionExpression = aws.String(projection)
	}

	if sc.PageSize > 0 {
		input.Limit = aws.Int32(int32(sc.PageSize))
	}
	if sc.TotalSegments > 0 {
		input.Segment = aws.Int32(int32(sc.Segment))
		input.TotalSegments = aws.Int32(int32(sc.TotalSegments))
	}

	input.ExpressionAttributeNames = c.names()
	input.ExpressionAttributeValues = c.values()
	return r, input, nil
}

// QueryPage issues exactly one query call starting at q.StartKey.
func (db *DB) QueryPage(ctx context.Context, s *Schema, q Query) (*Page, error) {
	r, input, err := db.table.marshalQuery(s, q)
	if err != nil {
		return nil, err
	}
	return db.queryPage(ctx, s, r, input)
}

func (db *DB) queryPage(ctx context.Context, s *Schema, r route, input *dynamodb.QueryInput) (*Page, error) {
	out, err := withRetry(ctx, db.table, "Query", func() (*dynamodb.QueryOutput, error) {
		return db.client.Query(ctx, input)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return db.newPage(s, r, out.Items, out.LastEvaluatedKey, int(out.Count), int(out.ScannedCount))
}

// ScanPage issues exactly one scan call starting at sc.StartKey.
func (db *DB) ScanPage(ctx context.Context, s *Schema, sc Scan) (*Page, error) {
	r, input, err := db.table.marshalScan(s, sc)
	if err != nil {
		return nil, err
	}
	return db.scanPage(ctx, s, r, input)
}

func (db *DB) scanPage(ctx context.Context, s *Schema, r route, input *dynamodb.ScanInput) (*Page, error) {
	out, err := withRetry(ctx, db.table, "Scan", func() (*dynamodb.ScanOutput, error) {
		return db.client.Scan(ctx, input)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return db.newPage(s, r, out.Items, out.LastEvaluatedKey, int(out.Count), int(out.ScannedCount))
}

func (db *DB) newPage(s *Schema, r route, items []Item, lastKey Item, count, scanned int) (*Page, error) {
	page := &Page{
		Models:           make([]Model, 0, len(items)),
		Items:            items,
		LastEvaluatedKey: lastKey,
		Count:            count,
		ScannedCount:     scanned,
	}
	for _, item := range items {
		m, err := db.table.Registry().dispatch(item, s, r.partial)
		if err != nil {
			return nil, err
		}
		page.Models = append(page.Models, m)
	}
	return page, nil
}

// Query returns a lazy result sequence over every page of q.
func (db *DB) Query(s *Schema, q Query) *Results {
	return &Results{
		start: q.StartKey,
		limit: q.Limit,
		fetch: func(ctx context.Context, start Item) (*Page, []string, error) {
			q := q
			q.StartKey = start
			r, input, err := db.table.marshalQuery(s, q)
			if err != nil {
				return nil, nil, err
			}
			page, err := db.queryPage(ctx, s, r, input)
			return page, r.keyNames(s), err
		},
	}
}

// Scan returns a lazy result sequence over every page of sc.
func (db *DB) Scan(s *Schema, sc Scan) *Results {
	return &Results{
		start: sc.StartKey,
		limit: sc.Limit,
		fetch: func(ctx context.Context, start Item) (*Page, []string, error) {
			sc := sc
			sc.StartKey = start
			r, input, err := db.table.marshalScan(s, sc)
			if err != nil {
				return nil, nil, err
			}
			page, err := db.scanPage(ctx, s, r, input)
			return page, r.keyNames(s), err
		},
	}
}

// Count returns the number of items matching q without reading them.
func (db *DB) Count(ctx context.Context, s *Schema, q Query) (int, error) {
	q.Attributes = nil
	total := 0
	start := q.StartKey
	for {
		q.StartKey = start
		_, input, err := db.table.marshalQuery(s, q)
		if err != nil {
			return 0, err
		}
		input.Select = types.SelectCount

		out, err := withRetry(ctx, db.table, "Query", func() (*dynamodb.QueryOutput, error) {
			return db.client.Query(ctx, input)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to count: %w", err)
		}

		total += int(out.Count)
		if q.Limit > 0 && total >= q.Limit {
			return q.Limit, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		start = out.LastEvaluatedKey
	}
}
