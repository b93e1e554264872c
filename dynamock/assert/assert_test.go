package assert

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nisimpson/dynamodel"
)

// fakeTB counts failures instead of failing the enclosing test.
type fakeTB struct {
	testing.TB
	failures int
}

func (f *fakeTB) Errorf(format string, args ...any) { f.failures++ }
func (f *fakeTB) Error(args ...any)                 { f.failures++ }

var teamSchema = dynamodel.MustSchema("app", []dynamodel.Attribute{
	dynamodel.Unicode("pk", dynamodel.HashKey()),
	dynamodel.Unicode("sk", dynamodel.RangeKey()),
	dynamodel.Unicode("kind", dynamodel.Default("team")),
	dynamodel.Unicode("name"),
}, dynamodel.WithDiscriminator("kind"))

type team struct{}

func (*team) Schema() *dynamodel.Schema              { return teamSchema }
func (*team) MarshalValues(dynamodel.Values) error   { return nil }
func (*team) UnmarshalValues(dynamodel.Values) error { return nil }

func sampleItems() []map[string]types.AttributeValue {
	return []map[string]types.AttributeValue{
		{
			"pk":      &types.AttributeValueMemberS{Value: "team#1"},
			"kind":    &types.AttributeValueMemberS{Value: "team"},
			"members": &types.AttributeValueMemberN{Value: "3"},
		},
		{
			"pk":     &types.AttributeValueMemberS{Value: "team#2"},
			"kind":   &types.AttributeValueMemberS{Value: "team"},
			"active": &types.AttributeValueMemberBOOL{Value: true},
		},
	}
}

func TestItems(t *testing.T) {
	t.Run("passes", func(t *testing.T) {
		Items(t, sampleItems()).
			HasCount(2).
			IsNotEmpty().
			ContainsKey("pk", "team#2").
			HasAttribute("members", "3").
			HasAttribute("active", "true").
			AllHaveAttribute("kind")
		Items(t, nil).IsEmpty()
	})

	t.Run("fails", func(t *testing.T) {
		ft := &fakeTB{TB: t}
		Items(ft, sampleItems()).
			HasCount(3).
			IsEmpty().
			ContainsKey("pk", "team#3").
			HasAttribute("members", "4").
			AllHaveAttribute("members")
		Items(ft, nil).IsNotEmpty()
		if ft.failures != 6 {
			t.Errorf("expected 6 failures, got %d", ft.failures)
		}
	})
}

func TestModels(t *testing.T) {
	other := dynamodel.MustSchema("app", []dynamodel.Attribute{
		dynamodel.Unicode("pk", dynamodel.HashKey()),
	})
	models := []dynamodel.Model{
		dynamodel.NewDocument(teamSchema, dynamodel.Values{"pk": "team#1"}),
		dynamodel.NewDocument(teamSchema, dynamodel.Values{"pk": "team#2"}),
		&team{},
	}

	t.Run("passes", func(t *testing.T) {
		Models(t, models).
			HasCount(3).
			CountOfType(&dynamodel.Document{}, 2).
			CountOfType(&team{}, 1).
			HaveSchema(teamSchema)
		Models(t, models[:2]).AllOfType(&dynamodel.Document{})
	})

	t.Run("fails", func(t *testing.T) {
		ft := &fakeTB{TB: t}
		Models(ft, models).
			HasCount(1).
			AllOfType(&team{}).
			CountOfType(&team{}, 2).
			HaveSchema(other)
		// two documents of the wrong type plus three schema mismatches
		if ft.failures != 1+2+1+3 {
			t.Errorf("expected 7 failures, got %d", ft.failures)
		}
	})
}

func TestDynamoDBItem(t *testing.T) {
	item := map[string]types.AttributeValue{
		"pk":    &types.AttributeValueMemberS{Value: "team#1"},
		"count": &types.AttributeValueMemberN{Value: "3"},
		"tags":  &types.AttributeValueMemberSS{Value: []string{"b", "a"}},
		"gone":  &types.AttributeValueMemberNULL{Value: true},
	}

	t.Run("passes", func(t *testing.T) {
		DynamoDBItem(t, item).
			HasKey("pk", "team#1").
			HasAttribute("count", "3").
			HasAttribute("gone", "null").
			HasNumber("count", "3").
			HasStringSet("tags", "a", "b").
			Lacks("name")
	})

	t.Run("fails", func(t *testing.T) {
		ft := &fakeTB{TB: t}
		DynamoDBItem(ft, item).
			HasKey("pk", "team#2").
			HasAttribute("count", "4").
			HasNumber("pk", "1").
			HasNumber("count", "4").
			HasStringSet("pk", "a").
			HasStringSet("tags", "a").
			Lacks("pk")
		if ft.failures != 7 {
			t.Errorf("expected 7 failures, got %d", ft.failures)
		}
	})
}
