package dynamodel

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func teamItem(id, name string) Item {
	return Item{
		"pk":      &types.AttributeValueMemberS{Value: "team#" + id},
		"sk":      &types.AttributeValueMemberS{Value: "meta"},
		"kind":    &types.AttributeValueMemberS{Value: "team"},
		"name":    &types.AttributeValueMemberS{Value: name},
		"members": &types.AttributeValueMemberN{Value: "3"},
	}
}

func userItem(team, id, email string) Item {
	return Item{
		"pk":    &types.AttributeValueMemberS{Value: "team#" + team},
		"sk":    &types.AttributeValueMemberS{Value: "user#" + id},
		"kind":  &types.AttributeValueMemberS{Value: "user"},
		"email": &types.AttributeValueMemberS{Value: email},
	}
}

func TestRegistryRegister(t *testing.T) {
	t.Run("rejects schemas without a discriminator value", func(t *testing.T) {
		r := NewRegistry()
		s := MustSchema("app", []Attribute{Unicode("pk", HashKey())})
		if err := r.Register(s); !errors.Is(err, ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("rejects a second discriminator attribute", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(TeamSchema); err != nil {
			t.Fatalf("Failed to register: %v", err)
		}
		other := MustSchema("app", []Attribute{
			Unicode("pk", HashKey()),
			Unicode("type", Default("order")),
		}, WithDiscriminator("type"))
		if err := r.Register(other); !errors.Is(err, ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("rejects a claimed discriminator value", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(TeamSchema); err != nil {
			t.Fatalf("Failed to register: %v", err)
		}
		impostor := MustSchema("app", []Attribute{
			Unicode("pk", HashKey()),
			Unicode("kind", Default("team")),
		}, WithDiscriminator("kind"))
		if err := r.Register(impostor); !errors.Is(err, ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("registering the same schema twice is harmless", func(t *testing.T) {
		r := NewRegistry()
		for range 2 {
			if err := r.Register(UserSchema); err != nil {
				t.Fatalf("Failed to register: %v", err)
			}
		}
		if r.Len() != 1 {
			t.Errorf("Expected 1 schema, got %d", r.Len())
		}
	})
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(TeamSchema); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(UserSchema); err != nil {
		t.Fatal(err)
	}

	t.Run("dispatches on the discriminator value", func(t *testing.T) {
		m, err := r.Dispatch(userItem("1", "u1", "ada@example.com"), TeamSchema)
		if err != nil {
			t.Fatalf("Failed to dispatch: %v", err)
		}
		user, ok := m.(*User)
		if !ok {
			t.Fatalf("Expected *User, got %T", m)
		}
		if user.Email != "ada@example.com" || user.Team != "1" || user.ID != "u1" {
			t.Errorf("Unexpected user %+v", user)
		}
	})

	t.Run("falls back on unknown values", func(t *testing.T) {
		item := teamItem("1", "Platform")
		item["kind"] = &types.AttributeValueMemberS{Value: "retired"}
		m, err := r.Dispatch(item, TeamSchema)
		if err != nil {
			t.Fatalf("Failed to dispatch: %v", err)
		}
		if _, ok := m.(*Team); !ok {
			t.Errorf("Expected fallback *Team, got %T", m)
		}
	})

	t.Run("applies defaults before loading", func(t *testing.T) {
		item := teamItem("1", "Platform")
		delete(item, "kind")
		m, err := r.Dispatch(item, TeamSchema)
		if err != nil {
			t.Fatalf("Failed to dispatch: %v", err)
		}
		team := m.(*Team)
		if team.Name != "Platform" || team.Members != 3 {
			t.Errorf("Unexpected team %+v", team)
		}
	})

	t.Run("missing required attributes", func(t *testing.T) {
		item := teamItem("1", "Platform")
		delete(item, "name")
		_, err := r.Dispatch(item, TeamSchema)
		if !errors.Is(err, ErrDeserialization) {
			t.Fatalf("Expected deserialization error, got %v", err)
		}
		var derr *DeserializationError
		if !errors.As(err, &derr) || len(derr.Missing) != 1 || derr.Missing[0] != "name" {
			t.Errorf("Expected name to be reported missing, got %v", err)
		}
	})

	t.Run("partial items skip the required check", func(t *testing.T) {
		item := teamItem("1", "Platform")
		delete(item, "name")
		if _, err := r.dispatch(item, TeamSchema, true); err != nil {
			t.Errorf("Expected partial dispatch to succeed, got %v", err)
		}
	})

	t.Run("stored value of the wrong type", func(t *testing.T) {
		item := teamItem("1", "Platform")
		item["members"] = &types.AttributeValueMemberS{Value: "three"}
		if _, err := r.Dispatch(item, TeamSchema); !errors.Is(err, ErrDeserialization) {
			t.Errorf("Expected deserialization error, got %v", err)
		}
	})

	t.Run("no schema at all", func(t *testing.T) {
		if _, err := NewRegistry().Dispatch(teamItem("1", "x"), nil); !errors.Is(err, ErrDeserialization) {
			t.Errorf("Expected deserialization error, got %v", err)
		}
	})
}
