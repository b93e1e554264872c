// Package assert provides fluent assertion utilities for testing DynamoDB operations
// and dynamodel models. It makes tests more readable and maintainable by providing
// expressive assertion methods.
//
// # Usage
//
//	import "github.com/nisimpson/dynamodel/dynamock/assert"
//
//	// Assert on DynamoDB items
//	assert.Items(t, result.Items).
//		HasCount(3).
//		ContainsKey("pk", "team#1").
//		HasAttribute("kind", "team")
//
//	// Assert on models returned by reads
//	assert.Models(t, models).
//		HasCount(2).
//		AllOfType(&Team{})
//
//	// Assert on a single request item
//	assert.DynamoDBItem(t, input.Item).
//		HasKey("pk", "team#1").
//		HasNumber("members", "3")
package assert

import (
	"fmt"
	"reflect"
	"slices"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nisimpson/dynamodel"
)

// ItemsAssertion provides fluent assertions for DynamoDB items.
type ItemsAssertion struct {
	t     testing.TB
	items []map[string]types.AttributeValue
}

// Items creates a new ItemsAssertion for the given DynamoDB items.
func Items(t testing.TB, items []map[string]types.AttributeValue) *ItemsAssertion {
	return &ItemsAssertion{t: t, items: items}
}

// HasCount asserts that the items collection has the expected count.
func (a *ItemsAssertion) HasCount(expected int) *ItemsAssertion {
	a.t.Helper()
	if len(a.items) != expected {
		a.t.Errorf("expected %d items, got %d", expected, len(a.items))
	}
	return a
}

// IsEmpty asserts that the items collection is empty.
func (a *ItemsAssertion) IsEmpty() *ItemsAssertion {
	a.t.Helper()
	return a.HasCount(0)
}

// IsNotEmpty asserts that the items collection is not empty.
func (a *ItemsAssertion) IsNotEmpty() *ItemsAssertion {
	a.t.Helper()
	if len(a.items) == 0 {
		a.t.Error("expected items to not be empty")
	}
	return a
}

// ContainsKey asserts that some item has a string attribute with the given value.
func (a *ItemsAssertion) ContainsKey(name, value string) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if stringAttr(item, name) == value {
			return a
		}
	}
	a.t.Errorf("expected to find item with %s = %q", name, value)
	return a
}

// HasAttribute asserts that at least one item has the specified attribute with the expected value.
func (a *ItemsAssertion) HasAttribute(name, expected string) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if attrString(item[name]) == expected {
			return a
		}
	}
	a.t.Errorf("expected to find attribute %s with value %s in items", name, expected)
	return a
}

// AllHaveAttribute asserts that every item carries the named attribute.
func (a *ItemsAssertion) AllHaveAttribute(name string) *ItemsAssertion {
	a.t.Helper()
	for i, item := range a.items {
		if _, ok := item[name]; !ok {
			a.t.Errorf("item %d is missing attribute %s", i, name)
		}
	}
	return a
}

// ModelsAssertion provides fluent assertions for dispatched models.
type ModelsAssertion struct {
	t      testing.TB
	models []dynamodel.Model
}

// Models creates a new ModelsAssertion.
func Models(t testing.TB, models []dynamodel.Model) *ModelsAssertion {
	return &ModelsAssertion{t: t, models: models}
}

// HasCount asserts the number of models.
func (a *ModelsAssertion) HasCount(expected int) *ModelsAssertion {
	a.t.Helper()
	if len(a.models) != expected {
		a.t.Errorf("expected %d models, got %d", expected, len(a.models))
	}
	return a
}

// AllOfType asserts that every model has the dynamic type of sample.
func (a *ModelsAssertion) AllOfType(sample dynamodel.Model) *ModelsAssertion {
	a.t.Helper()
	want := reflect.TypeOf(sample)
	for i, m := range a.models {
		if got := reflect.TypeOf(m); got != want {
			a.t.Errorf("model %d: expected %v, got %v", i, want, got)
		}
	}
	return a
}

// CountOfType asserts how many models have the dynamic type of sample.
func (a *ModelsAssertion) CountOfType(sample dynamodel.Model, expected int) *ModelsAssertion {
	a.t.Helper()
	want := reflect.TypeOf(sample)
	n := 0
	for _, m := range a.models {
		if reflect.TypeOf(m) == want {
			n++
		}
	}
	if n != expected {
		a.t.Errorf("expected %d models of type %v, got %d", expected, want, n)
	}
	return a
}

// HaveSchema asserts that every model is bound to s.
func (a *ModelsAssertion) HaveSchema(s *dynamodel.Schema) *ModelsAssertion {
	a.t.Helper()
	for i, m := range a.models {
		if m.Schema() != s {
			a.t.Errorf("model %d: expected schema %s, got %s", i, s.Name(), m.Schema().Name())
		}
	}
	return a
}

// DynamoDBItemAssertion provides fluent assertions for a single item.
type DynamoDBItemAssertion struct {
	t    testing.TB
	item map[string]types.AttributeValue
}

// DynamoDBItem creates a new DynamoDBItemAssertion.
func DynamoDBItem(t testing.TB, item map[string]types.AttributeValue) *DynamoDBItemAssertion {
	return &DynamoDBItemAssertion{t: t, item: item}
}

// HasKey asserts that the item has a string key attribute with the expected value.
func (a *DynamoDBItemAssertion) HasKey(name, expected string) *DynamoDBItemAssertion {
	a.t.Helper()
	if got := stringAttr(a.item, name); got != expected {
		a.t.Errorf("expected key %s to be %q, got %q", name, expected, got)
	}
	return a
}

// HasAttribute asserts the string form of an attribute.
func (a *DynamoDBItemAssertion) HasAttribute(name, expected string) *DynamoDBItemAssertion {
	a.t.Helper()
	if got := attrString(a.item[name]); got != expected {
		a.t.Errorf("expected attribute %s to be %q, got %q", name, expected, got)
	}
	return a
}

// HasNumber asserts that an attribute is a number with the given wire form.
func (a *DynamoDBItemAssertion) HasNumber(name, expected string) *DynamoDBItemAssertion {
	a.t.Helper()
	n, ok := a.item[name].(*types.AttributeValueMemberN)
	if !ok {
		a.t.Errorf("expected attribute %s to be a number, got %T", name, a.item[name])
		return a
	}
	if n.Value != expected {
		a.t.Errorf("expected attribute %s to be %s, got %s", name, expected, n.Value)
	}
	return a
}

// HasStringSet asserts that an attribute is a string set with exactly the given members.
func (a *DynamoDBItemAssertion) HasStringSet(name string, expected ...string) *DynamoDBItemAssertion {
	a.t.Helper()
	ss, ok := a.item[name].(*types.AttributeValueMemberSS)
	if !ok {
		a.t.Errorf("expected attribute %s to be a string set, got %T", name, a.item[name])
		return a
	}
	got := slices.Sorted(slices.Values(ss.Value))
	want := slices.Sorted(slices.Values(expected))
	if !slices.Equal(got, want) {
		a.t.Errorf("expected attribute %s to be %v, got %v", name, want, got)
	}
	return a
}

// Lacks asserts that the item does not carry an attribute.
func (a *DynamoDBItemAssertion) Lacks(name string) *DynamoDBItemAssertion {
	a.t.Helper()
	if _, ok := a.item[name]; ok {
		a.t.Errorf("expected attribute %s to be absent", name)
	}
	return a
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// attrString renders scalar attribute values for comparison.
func attrString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprint(v.Value)
	case *types.AttributeValueMemberNULL:
		return "null"
	}
	return ""
}
