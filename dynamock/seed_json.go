package dynamock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/nisimpson/dynamodel"
)

// JSONFixture is one item of a fixture file: attribute names mapped to their
// JSON values.
type JSONFixture map[string]any

// SeedFromJSON reads a JSON array of fixtures and persists them. Each
// fixture is bound to the schema registered for its discriminator value, or
// to fallback when it has none. Values are coerced to their attribute types:
// timestamps are RFC 3339 strings, binary values are base64 strings and TTL
// values may also be epoch seconds.
// Returns the number of items saved and any errors generated.
func (s *Seeder) SeedFromJSON(ctx context.Context, r io.Reader, fallback *dynamodel.Schema) (int, error) {
	models, err := DecodeFixtures(s.db.Table().Registry(), r, fallback)
	if err != nil {
		return 0, err
	}
	if err := s.SeedAll(ctx, models...); err != nil {
		return 0, err
	}
	return len(models), nil
}

// DecodeFixtures converts a JSON array of fixtures into documents without
// writing them.
func DecodeFixtures(registry *dynamodel.Registry, r io.Reader, fallback *dynamodel.Schema) ([]dynamodel.Model, error) {
	var fixtures []JSONFixture
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	if err := decoder.Decode(&fixtures); err != nil {
		return nil, fmt.Errorf("failed to parse JSON document: %w", err)
	}

	models := make([]dynamodel.Model, 0, len(fixtures))
	for i, fixture := range fixtures {
		schema := fixtureSchema(registry, fixture, fallback)
		if schema == nil {
			return nil, fmt.Errorf("fixture at index %d has no schema", i)
		}
		values, err := coerceFixture(schema, fixture)
		if err != nil {
			return nil, fmt.Errorf("failed to convert fixture at index %d: %w", i, err)
		}
		models = append(models, dynamodel.NewDocument(schema, values))
	}
	return models, nil
}

func fixtureSchema(registry *dynamodel.Registry, fixture JSONFixture, fallback *dynamodel.Schema) *dynamodel.Schema {
	if fallback == nil || fallback.Discriminator() == "" || registry == nil {
		return fallback
	}
	if v, ok := fixture[fallback.Discriminator()].(string); ok {
		if s, ok := registry.Lookup(v); ok {
			return s
		}
	}
	return fallback
}

func coerceFixture(s *dynamodel.Schema, fixture JSONFixture) (dynamodel.Values, error) {
	values := make(dynamodel.Values, len(fixture))
	for name, raw := range fixture {
		attr, ok := s.Attribute(name)
		if !ok {
			return nil, fmt.Errorf("attribute %q is not declared by %s", name, s.Name())
		}
		if raw == nil {
			continue
		}
		v, err := coerce(attr, raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}

func coerce(attr dynamodel.Attribute, raw any) (any, error) {
	switch attr.Type {
	case dynamodel.BinaryType:
		return decodeBase64(raw)

	case dynamodel.UTCDateTimeType:
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected an RFC 3339 string, got %T", raw)
		}
		return time.Parse(time.RFC3339Nano, str)

	case dynamodel.TTLType:
		if n, ok := raw.(json.Number); ok {
			secs, err := n.Int64()
			if err != nil {
				return nil, err
			}
			return time.Unix(secs, 0).UTC(), nil
		}
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected epoch seconds or an RFC 3339 string, got %T", raw)
		}
		return time.Parse(time.RFC3339Nano, str)

	case dynamodel.UnicodeSetType:
		list, err := asList(raw)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(list))
		for _, v := range list {
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("expected string set members, got %T", v)
			}
			out = append(out, str)
		}
		return out, nil

	case dynamodel.NumberSetType:
		list, err := asList(raw)
		if err != nil {
			return nil, err
		}
		out := make([]json.Number, 0, len(list))
		for _, v := range list {
			n, ok := v.(json.Number)
			if !ok {
				return nil, fmt.Errorf("expected number set members, got %T", v)
			}
			out = append(out, n)
		}
		return out, nil

	case dynamodel.BinarySetType:
		list, err := asList(raw)
		if err != nil {
			return nil, err
		}
		out := make([][]byte, 0, len(list))
		for _, v := range list {
			b, err := decodeBase64(v)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, nil

	case dynamodel.MapType, dynamodel.ListType:
		return numbers(raw), nil
	}
	return raw, nil
}

// numbers rewrites nested JSON numbers so that they are stored as numbers
// rather than strings.
func numbers(v any) any {
	switch tv := v.(type) {
	case json.Number:
		return attributevalue.Number(tv)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			out[k] = numbers(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = numbers(e)
		}
		return out
	}
	return v
}

func asList(raw any) ([]any, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array, got %T", raw)
	}
	return list, nil
}

func decodeBase64(raw any) ([]byte, error) {
	str, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a base64 string, got %T", raw)
	}
	return base64.StdEncoding.DecodeString(str)
}
