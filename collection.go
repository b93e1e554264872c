package dynamodel

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
)

// KeyID is the map key ToMap uses for the identifier extracted from a key.
const KeyID = "ID"

// ToMap converts a model into a plain map suitable for JSON responses. Unset
// attributes take their defaults, timestamps become RFC 3339 strings and
// numbers become json.Number. The KeyID entry holds the last sep-separated
// segment of the string attribute idAttr, so "team#42" yields "42".
func ToMap(m Model, idAttr, sep string) (map[string]any, error) {
	s := m.Schema()
	if s == nil {
		return nil, validationErrorf("", "model %T has no schema", m)
	}
	values := make(Values)
	if err := m.MarshalValues(values); err != nil {
		return nil, err
	}
	s.applyDefaults(values)

	id, ok := values[idAttr].(string)
	if !ok {
		return nil, validationErrorf(idAttr, "identifier attribute must hold a string, got %T", values[idAttr])
	}

	out := make(map[string]any, len(values)+1)
	for name, v := range values {
		if isNil(v) {
			continue
		}
		out[name] = plainValue(v)
	}
	if i := strings.LastIndex(id, sep); sep != "" && i >= 0 {
		id = id[i+len(sep):]
	}
	out[KeyID] = id
	return out, nil
}

// ToMap is ToMap for a document.
func (d *Document) ToMap(idAttr, sep string) (map[string]any, error) {
	return ToMap(d, idAttr, sep)
}

func plainValue(v any) any {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case attributevalue.Number:
		return json.Number(tv)
	case []attributevalue.Number:
		out := make([]json.Number, len(tv))
		for i, n := range tv {
			out[i] = json.Number(n)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = plainValue(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = plainValue(e)
		}
		return out
	}
	return v
}

// Collection groups every model of the results by item type, the range key
// prefix before the first sep. A type seen once maps to a single ToMap
// result, a type seen again to a []map[string]any. Entries preset in output
// as []map[string]any stay lists even for a single item.
//
// The item whose type matches the hash key prefix is the primary item of the
// partition and takes its ID from the hash key; every other item takes its ID
// from the range key.
func (r *Results) Collection(ctx context.Context, sep string, output map[string]any) (map[string]any, error) {
	if output == nil {
		output = make(map[string]any)
	}

	for m, err := range r.All(ctx) {
		if err != nil {
			return output, err
		}

		s := m.Schema()
		values := make(Values)
		if err := m.MarshalValues(values); err != nil {
			return output, err
		}
		hashName := s.HashKey().Name
		rangeName := hashName
		if attr, ok := s.RangeKey(); ok {
			rangeName = attr.Name
		}

		pk, _ := values[hashName].(string)
		sk, _ := values[rangeName].(string)
		itemType, _, _ := strings.Cut(sk, sep)
		idAttr := rangeName
		if pkType, _, _ := strings.Cut(pk, sep); pkType == itemType {
			idAttr = hashName
		}

		item, err := ToMap(m, idAttr, sep)
		if err != nil {
			return output, err
		}

		switch existing := output[itemType].(type) {
		case map[string]any:
			output[itemType] = []map[string]any{existing, item}
		case []map[string]any:
			output[itemType] = append(existing, item)
		default:
			output[itemType] = item
		}
	}
	return output, nil
}
