package dynamodel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var accountSchema = MustSchema("app", []Attribute{
	Unicode("pk", HashKey()),
	Unicode("sk", RangeKey()),
	Unicode("name"),
	UTCDateTime("joined", Nullable()),
	Number("score", Nullable()),
	Map("settings", Nullable()),
})

func accountItem(sk, name string) Item {
	return Item{
		"pk":   &types.AttributeValueMemberS{Value: "account#7"},
		"sk":   &types.AttributeValueMemberS{Value: sk},
		"name": &types.AttributeValueMemberS{Value: name},
	}
}

func TestToMap(t *testing.T) {
	t.Run("model with defaults", func(t *testing.T) {
		out, err := ToMap(&Team{ID: "1", Name: "Platform", Members: 3}, "pk", "#")
		if err != nil {
			t.Fatalf("Failed to convert: %v", err)
		}
		if out[KeyID] != "1" {
			t.Errorf("Expected ID 1, got %v", out[KeyID])
		}
		if out["kind"] != "team" {
			t.Errorf("Expected the default kind, got %v", out["kind"])
		}
		if out["members"] != 3 {
			t.Errorf("Expected 3 members, got %v", out["members"])
		}
		if _, ok := out["created"]; ok {
			t.Error("Expected unset attributes to be left out")
		}
	})

	t.Run("plain values", func(t *testing.T) {
		item := accountItem("account#7", "Acme")
		item["joined"] = &types.AttributeValueMemberS{Value: "2024-03-01T12:00:00.000000+0000"}
		item["score"] = &types.AttributeValueMemberN{Value: "4.5"}
		item["settings"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"limit": &types.AttributeValueMemberN{Value: "10"},
		}}
		values, err := accountSchema.Decode(item)
		if err != nil {
			t.Fatal(err)
		}

		out, err := NewDocument(accountSchema, values).ToMap("pk", "#")
		if err != nil {
			t.Fatalf("Failed to convert: %v", err)
		}
		if out["joined"] != "2024-03-01T12:00:00Z" {
			t.Errorf("Expected an RFC 3339 timestamp, got %v", out["joined"])
		}
		if out["score"] != json.Number("4.5") {
			t.Errorf("Expected a JSON number, got %#v", out["score"])
		}
		data, err := json.Marshal(out["settings"])
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != `{"limit":10}` {
			t.Errorf("Expected nested numbers to stay numeric, got %s", data)
		}
	})

	t.Run("separators", func(t *testing.T) {
		tests := []struct {
			name string
			pk   string
			sep  string
			want string
		}{
			{"last segment", "org#7#account#9", "#", "9"},
			{"long separator", "org::7::9", "::", "9"},
			{"separator absent", "plain", "#", "plain"},
			{"no separator", "a#b", "", "a#b"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				doc := NewDocument(accountSchema, Values{"pk": tt.pk, "sk": "x", "name": "n"})
				out, err := doc.ToMap("pk", tt.sep)
				if err != nil {
					t.Fatal(err)
				}
				if out[KeyID] != tt.want {
					t.Errorf("Expected ID %q, got %v", tt.want, out[KeyID])
				}
			})
		}
	})

	t.Run("identifier must be a string", func(t *testing.T) {
		_, err := ToMap(&Team{ID: "1", Name: "Platform"}, "members", "#")
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestResultsCollection(t *testing.T) {
	ctx := context.Background()
	items := []Item{
		accountItem("account#7", "Acme"),
		accountItem("invoice#9", "March"),
		accountItem("member#a1", "Ada"),
		accountItem("member#b2", "Bob"),
	}

	t.Run("groups by item type", func(t *testing.T) {
		db, client := newTestDB(t)
		client.query = pagedQuery(items, 3)

		out, err := db.Query(accountSchema, Query{HashValue: "account#7"}).
			Collection(ctx, "#", map[string]any{"invoice": []map[string]any{}})
		if err != nil {
			t.Fatalf("Failed to collect: %v", err)
		}

		account, ok := out["account"].(map[string]any)
		if !ok || account[KeyID] != "7" || account["name"] != "Acme" {
			t.Errorf("Expected the primary item with ID 7, got %v", out["account"])
		}
		members, ok := out["member"].([]map[string]any)
		if !ok || len(members) != 2 || members[0][KeyID] != "a1" || members[1][KeyID] != "b2" {
			t.Errorf("Expected two members, got %v", out["member"])
		}
		invoices, ok := out["invoice"].([]map[string]any)
		if !ok || len(invoices) != 1 || invoices[0][KeyID] != "9" {
			t.Errorf("Expected a one-item invoice list, got %v", out["invoice"])
		}
		if client.count("Query") != 2 {
			t.Errorf("Expected 2 pages, got %d", client.count("Query"))
		}
	})

	t.Run("query failure", func(t *testing.T) {
		db, client := newTestDB(t)
		boom := errors.New("boom")
		client.query = func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) { return nil, boom }
		if _, err := db.Query(accountSchema, Query{HashValue: "account#7"}).Collection(ctx, "#", nil); !errors.Is(err, boom) {
			t.Errorf("Expected boom, got %v", err)
		}
	})
}
