package dynamodel

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestCompileCondition(t *testing.T) {
	tests := []struct {
		name   string
		schema *Schema
		cond   Condition
		want   string
		names  map[string]string
	}{
		{
			name:   "attribute not exists",
			schema: TeamSchema,
			cond:   AttributeNotExists("pk"),
			want:   "attribute_not_exists(#name0)",
			names:  map[string]string{"#name0": "pk"},
		},
		{
			name:   "nested compound is parenthesized",
			schema: TeamSchema,
			cond:   And(Equal("name", "x"), Or(GreaterThan("members", 1), AttributeExists("tags"))),
			want:   "#name0 = :val0 AND (#name1 > :val1 OR attribute_exists(#name2))",
			names:  map[string]string{"#name0": "name", "#name1": "members", "#name2": "tags"},
		},
		{
			name:   "names are reused",
			schema: TeamSchema,
			cond:   GreaterThan("members", 1).And(LessThan("members", 10)),
			want:   "#name0 > :val0 AND #name0 < :val1",
			names:  map[string]string{"#name0": "members"},
		},
		{
			name:   "not",
			schema: TeamSchema,
			cond:   Equal("name", "x").Not(),
			want:   "NOT (#name0 = :val0)",
			names:  map[string]string{"#name0": "name"},
		},
		{
			name:   "between",
			schema: TeamSchema,
			cond:   Between("members", 1, 5),
			want:   "#name0 BETWEEN :val0 AND :val1",
			names:  map[string]string{"#name0": "members"},
		},
		{
			name:   "in",
			schema: TeamSchema,
			cond:   In("name", "a", "b"),
			want:   "#name0 IN (:val0, :val1)",
			names:  map[string]string{"#name0": "name"},
		},
		{
			name:   "begins with",
			schema: TeamSchema,
			cond:   BeginsWith("name", "Pl"),
			want:   "begins_with(#name0, :val0)",
			names:  map[string]string{"#name0": "name"},
		},
		{
			name:   "size",
			schema: TeamSchema,
			cond:   Size("tags", OpGreaterThan, 2),
			want:   "size(#name0) > :val0",
			names:  map[string]string{"#name0": "tags"},
		},
		{
			name:   "map path",
			schema: UserSchema,
			cond:   Equal("profile.city", "Oslo"),
			want:   "#name0.#name1 = :val0",
			names:  map[string]string{"#name0": "profile", "#name1": "city"},
		},
		{
			name:   "list element",
			schema: UserSchema,
			cond:   Equal("history[0]", "signup"),
			want:   "#name0[0] = :val0",
			names:  map[string]string{"#name0": "history"},
		},
		{
			name:   "unset operands are skipped",
			schema: TeamSchema,
			cond:   Or(Condition{}, NotEqual("name", "x"), Condition{}),
			want:   "#name0 <> :val0",
			names:  map[string]string{"#name0": "name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := CompileCondition(tt.schema, tt.cond)
			if err != nil {
				t.Fatalf("Failed to compile: %v", err)
			}
			if expr.Expression != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, expr.Expression)
			}
			if !reflect.DeepEqual(expr.Names, tt.names) {
				t.Errorf("Expected names %v, got %v", tt.names, expr.Names)
			}
		})
	}
}

func TestCompileConditionValues(t *testing.T) {
	t.Run("contains on a set uses the member codec", func(t *testing.T) {
		expr, err := CompileCondition(TeamSchema, Contains("tags", "go"))
		if err != nil {
			t.Fatalf("Failed to compile: %v", err)
		}
		if expr.Expression != "contains(#name0, :val0)" {
			t.Errorf("Unexpected expression %q", expr.Expression)
		}
		want := &types.AttributeValueMemberS{Value: "go"}
		if !reflect.DeepEqual(expr.Values[":val0"], want) {
			t.Errorf("Expected %v, got %v", want, expr.Values[":val0"])
		}
	})

	t.Run("operands are encoded with the attribute codec", func(t *testing.T) {
		expr, err := CompileCondition(TeamSchema, Equal("members", 7))
		if err != nil {
			t.Fatalf("Failed to compile: %v", err)
		}
		want := &types.AttributeValueMemberN{Value: "7"}
		if !reflect.DeepEqual(expr.Values[":val0"], want) {
			t.Errorf("Expected %v, got %v", want, expr.Values[":val0"])
		}
	})

	t.Run("size operand is a number", func(t *testing.T) {
		expr, err := CompileCondition(TeamSchema, Size("name", OpLessThanEqual, 10))
		if err != nil {
			t.Fatalf("Failed to compile: %v", err)
		}
		if n, ok := expr.Values[":val0"].(*types.AttributeValueMemberN); !ok || n.Value != "10" {
			t.Errorf("Expected N 10, got %v", expr.Values[":val0"])
		}
	})
}

func TestCompileConditionErrors(t *testing.T) {
	tooMany := make([]any, maxInOperands+1)
	for i := range tooMany {
		tooMany[i] = "v"
	}

	tests := []struct {
		name   string
		schema *Schema
		cond   Condition
	}{
		{"unset", TeamSchema, Condition{}},
		{"unknown attribute", TeamSchema, Equal("color", "red")},
		{"ordered compare on boolean", UserSchema, GreaterThan("admin", true)},
		{"between on set", TeamSchema, Between("tags", []string{"a"}, []string{"b"})},
		{"unknown operator", TeamSchema, Compare("name", Operator("!="), "x")},
		{"empty in", TeamSchema, In("name")},
		{"too many in operands", TeamSchema, In("name", tooMany...)},
		{"size of number", TeamSchema, Size("members", OpEqual, 1)},
		{"begins with on number", TeamSchema, BeginsWith("members", "1")},
		{"contains on number", TeamSchema, Contains("members", 1)},
		{"nil operand", TeamSchema, Equal("name", nil)},
		{"path into scalar", TeamSchema, Equal("name.first", "x")},
		{"malformed path", UserSchema, Equal("history[x]", "x")},
		{"empty path segment", UserSchema, Equal("profile..city", "x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileCondition(tt.schema, tt.cond)
			if !errors.Is(err, ErrExpression) {
				t.Errorf("Expected expression error, got %v", err)
			}
		})
	}

	t.Run("operand of the wrong type", func(t *testing.T) {
		_, err := CompileCondition(TeamSchema, Equal("members", "many"))
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestCompileUpdate(t *testing.T) {
	tests := []struct {
		name    string
		schema  *Schema
		actions []UpdateAction
		want    string
	}{
		{
			name:    "set and increment",
			schema:  TeamSchema,
			actions: []UpdateAction{Set("name", "New"), Increment("members", 1)},
			want:    "SET #name0 = :val0, #name1 = #name1 + :val1",
		},
		{
			name:    "clauses are grouped in order",
			schema:  TeamSchema,
			actions: []UpdateAction{Delete("tags", []string{"old"}), Add("members", 2), Remove("created"), Set("name", "x")},
			want:    "SET #name3 = :val2 REMOVE #name2 ADD #name1 :val1 DELETE #name0 :val0",
		},
		{
			name:    "nil on a nullable attribute removes it",
			schema:  TeamSchema,
			actions: []UpdateAction{Set("members", nil)},
			want:    "REMOVE #name0",
		},
		{
			name:    "decrement",
			schema:  TeamSchema,
			actions: []UpdateAction{Decrement("members", 1)},
			want:    "SET #name0 = #name0 - :val0",
		},
		{
			name:    "if not exists",
			schema:  TeamSchema,
			actions: []UpdateAction{SetIfNotExists("members", 0)},
			want:    "SET #name0 = if_not_exists(#name0, :val0)",
		},
		{
			name:    "append",
			schema:  UserSchema,
			actions: []UpdateAction{Append("history", []string{"login"})},
			want:    "SET #name0 = list_append(#name0, :val0)",
		},
		{
			name:    "prepend",
			schema:  UserSchema,
			actions: []UpdateAction{Prepend("history", []string{"login"})},
			want:    "SET #name0 = list_append(:val0, #name0)",
		},
		{
			name:    "remove list elements",
			schema:  UserSchema,
			actions: []UpdateAction{RemoveListElements("history", 1, 3)},
			want:    "REMOVE #name0[1], #name0[3]",
		},
		{
			name:    "nested map value",
			schema:  UserSchema,
			actions: []UpdateAction{Set("profile.city", "Oslo")},
			want:    "SET #name0.#name1 = :val0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := CompileUpdate(tt.schema, tt.actions, Condition{})
			if err != nil {
				t.Fatalf("Failed to compile: %v", err)
			}
			if expr.Expression != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, expr.Expression)
			}
			if expr.Condition != "" {
				t.Errorf("Expected no condition, got %q", expr.Condition)
			}
		})
	}

	t.Run("condition shares the placeholder space", func(t *testing.T) {
		expr, err := CompileUpdate(TeamSchema, []UpdateAction{Set("name", "x")}, AttributeExists("pk"))
		if err != nil {
			t.Fatalf("Failed to compile: %v", err)
		}
		if expr.Expression != "SET #name0 = :val0" {
			t.Errorf("Unexpected update %q", expr.Expression)
		}
		if expr.Condition != "attribute_exists(#name1)" {
			t.Errorf("Unexpected condition %q", expr.Condition)
		}
		if len(expr.Names) != 2 || len(expr.Values) != 1 {
			t.Errorf("Unexpected placeholders %v %v", expr.Names, expr.Values)
		}
	})
}

func TestCompileUpdateErrors(t *testing.T) {
	tests := []struct {
		name    string
		schema  *Schema
		actions []UpdateAction
	}{
		{"no actions", TeamSchema, nil},
		{"hash key", TeamSchema, []UpdateAction{Set("pk", "x")}},
		{"range key", TeamSchema, []UpdateAction{Remove("sk")}},
		{"duplicate target", TeamSchema, []UpdateAction{Set("name", "a"), Set("name", "b")}},
		{"nil on required attribute", TeamSchema, []UpdateAction{Set("name", nil)}},
		{"add to string", TeamSchema, []UpdateAction{Add("name", "x")}},
		{"delete from number", TeamSchema, []UpdateAction{Delete("members", 1)}},
		{"increment string", TeamSchema, []UpdateAction{Increment("name", 1)}},
		{"append to set", TeamSchema, []UpdateAction{Append("tags", []string{"a"})}},
		{"append a scalar", UserSchema, []UpdateAction{Append("history", "a")}},
		{"remove elements of scalar", TeamSchema, []UpdateAction{RemoveListElements("name", 0)}},
		{"negative list index", UserSchema, []UpdateAction{RemoveListElements("history", -1)}},
		{"unknown attribute", TeamSchema, []UpdateAction{Set("color", "red")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileUpdate(tt.schema, tt.actions, Condition{})
			if !errors.Is(err, ErrExpression) {
				t.Errorf("Expected expression error, got %v", err)
			}
		})
	}
}

func TestCompileProjection(t *testing.T) {
	expr, err := CompileProjection(TeamSchema, "name", "members", "name")
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	if expr.Expression != "#name0, #name1" {
		t.Errorf("Unexpected projection %q", expr.Expression)
	}
	if expr.Values != nil {
		t.Errorf("Expected no values, got %v", expr.Values)
	}

	if _, err := CompileProjection(TeamSchema, "color"); !errors.Is(err, ErrExpression) {
		t.Errorf("Expected expression error, got %v", err)
	}
}

func TestConditionBuilders(t *testing.T) {
	if (Condition{}).IsSet() {
		t.Error("Zero condition must be unset")
	}
	if And().IsSet() || Not(Condition{}).IsSet() {
		t.Error("Joining nothing must stay unset")
	}
	single := And(Condition{}, Equal("name", "x"))
	if single.compound() || single.Attribute() != "name" {
		t.Error("A single operand must not be wrapped")
	}
	if Set("name", "x").Attribute() != "name" {
		t.Error("Expected update target name")
	}
}
