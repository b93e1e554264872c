package dynamodel

import (
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MarshalPut marshals the model into a put item request. A condition supplied
// through WithCondition becomes the request's condition expression.
func (t *Table) MarshalPut(m Model, opts ...func(*OperationOptions)) (*dynamodb.PutItemInput, error) {
	s, item, err := t.encode(m)
	if err != nil {
		return nil, err
	}

	o := newOperationOptions(opts)
	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.TableName),
		Item:      item,
	}

	if o.Condition.IsSet() {
		expr, err := CompileCondition(s, o.Condition)
		if err != nil {
			return nil, err
		}
		input.ConditionExpression = aws.String(expr.Expression)
		input.ExpressionAttributeNames = expr.Names
		input.ExpressionAttributeValues = expr.Values
	}

	return input, nil
}

// MarshalGet marshals a primary key into a get item request.
func (t *Table) MarshalGet(s *Schema, hash, rng any, opts ...func(*OperationOptions)) (*dynamodb.GetItemInput, error) {
	if err := t.checkSchema(s); err != nil {
		return nil, err
	}
	key, err := s.EncodeKey(hash, rng)
	if err != nil {
		return nil, err
	}

	o := newOperationOptions(opts)
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(t.TableName),
		Key:            key,
		ConsistentRead: aws.Bool(o.ConsistentRead),
	}

	if len(o.Attributes) > 0 {
		c := newCompiler(s)
		projection, err := c.projection(projectionNames(s, o.Attributes))
		if err != nil {
			return nil, err
		}
		input.ProjectionExpression = aws.String(projection)
		input.ExpressionAttributeNames = c.names()
	}

	return input, nil
}

// MarshalDelete marshals the model's primary key into a delete item request.
func (t *Table) MarshalDelete(m Model, opts ...func(*OperationOptions)) (*dynamodb.DeleteItemInput, error) {
	s, key, err := t.modelKey(m)
	if err != nil {
		return nil, err
	}

	o := newOperationOptions(opts)
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(t.TableName),
		Key:       key,
	}

	if o.Condition.IsSet() {
		expr, err := CompileCondition(s, o.Condition)
		if err != nil {
			return nil, err
		}
		input.ConditionExpression = aws.String(expr.Expression)
		input.ExpressionAttributeNames = expr.Names
		input.ExpressionAttributeValues = expr.Values
	}

	return input, nil
}

// MarshalUpdate marshals update actions against the model's primary key. The
// request asks for the full updated item in return.
func (t *Table) MarshalUpdate(m Model, actions []UpdateAction, opts ...func(*OperationOptions)) (*dynamodb.UpdateItemInput, error) {
	s, key, err := t.modelKey(m)
	if err != nil {
		return nil, err
	}

	o := newOperationOptions(opts)
	expr, err := CompileUpdate(s, resolveExpiry(s, actions, t.now()), o.Condition)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.TableName),
		Key:                       key,
		UpdateExpression:          aws.String(expr.Expression),
		ExpressionAttributeNames:  expr.Names,
		ExpressionAttributeValues: expr.Values,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if expr.Condition != "" {
		input.ConditionExpression = aws.String(expr.Condition)
	}

	return input, nil
}

// MarshalBatchWrite chunks write requests into batch write inputs. Since there
// is a limit on how many requests can be contained in a single input, the
// requests are chunked in sizes of BatchWriteSize or less.
func (t *Table) MarshalBatchWrite(requests []types.WriteRequest) []*dynamodb.BatchWriteItemInput {
	var batches []*dynamodb.BatchWriteItemInput
	for chunk := range slices.Chunk(requests, t.batchWriteSize()) {
		batches = append(batches, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				t.TableName: chunk,
			},
		})
	}
	return batches
}

// MarshalBatchGet chunks keys into batch get inputs of BatchGetSize or less.
func (t *Table) MarshalBatchGet(s *Schema, keys []Item, opts ...func(*OperationOptions)) ([]*dynamodb.BatchGetItemInput, error) {
	o := newOperationOptions(opts)

	var (
		projection *string
		names      map[string]string
	)
	if len(o.Attributes) > 0 {
		c := newCompiler(s)
		p, err := c.projection(projectionNames(s, o.Attributes))
		if err != nil {
			return nil, err
		}
		projection = aws.String(p)
		names = c.names()
	}

	var batches []*dynamodb.BatchGetItemInput
	for chunk := range slices.Chunk(keys, t.batchGetSize()) {
		batches = append(batches, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				t.TableName: {
					Keys:                     chunk,
					ConsistentRead:           aws.Bool(o.ConsistentRead),
					ProjectionExpression:     projection,
					ExpressionAttributeNames: names,
				},
			},
		})
	}
	return batches, nil
}

func (t *Table) encode(m Model) (*Schema, Item, error) {
	s, item, err := encodeModel(m, t.now())
	if err != nil {
		return nil, nil, err
	}
	if err := t.checkSchema(s); err != nil {
		return nil, nil, err
	}
	return s, item, nil
}

// modelKey encodes only the primary key of m, so models loaded through a
// projection can still be deleted or updated.
func (t *Table) modelKey(m Model) (*Schema, Item, error) {
	s := m.Schema()
	if err := t.checkSchema(s); err != nil {
		return nil, nil, err
	}
	values := make(Values)
	if err := m.MarshalValues(values); err != nil {
		return nil, nil, err
	}
	var rng any
	if attr, ok := s.RangeKey(); ok {
		rng = values[attr.Name]
	}
	key, err := s.EncodeKey(values[s.HashKey().Name], rng)
	if err != nil {
		return nil, nil, err
	}
	return s, key, nil
}

// projectionNames adds the key and discriminator attributes to a projection
// so that projected items can still be dispatched.
func projectionNames(s *Schema, attrs []string) []string {
	names := []string{s.HashKey().Name}
	if attr, ok := s.RangeKey(); ok {
		names = append(names, attr.Name)
	}
	if d := s.Discriminator(); d != "" {
		names = append(names, d)
	}
	return append(names, attrs...)
}
