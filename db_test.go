package dynamodel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

func TestDBSaveAndGet(t *testing.T) {
	ctx := context.Background()
	db, client := newTestDB(t)

	team := &Team{ID: "1", Name: "Platform", Members: 4, Tags: []string{"infra", "go"}}
	if err := db.Save(ctx, team); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	m, err := db.Get(ctx, TeamSchema, "team#1", "meta")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	got, ok := m.(*Team)
	if !ok {
		t.Fatalf("Expected *Team, got %T", m)
	}
	if got.Name != "Platform" || got.Members != 4 || len(got.Tags) != 2 || got.Tags[0] != "go" {
		t.Errorf("Unexpected team %+v", got)
	}
	if client.count("PutItem") != 1 || client.count("GetItem") != 1 {
		t.Errorf("Unexpected calls %v", client.calls)
	}
}

func TestDBGet(t *testing.T) {
	ctx := context.Background()

	t.Run("missing item", func(t *testing.T) {
		db, _ := newTestDB(t)
		_, err := db.Get(ctx, TeamSchema, "team#404", "meta")
		if !errors.Is(err, ErrDoesNotExist) {
			t.Errorf("Expected ErrDoesNotExist, got %v", err)
		}
	})

	t.Run("dispatches through the discriminator", func(t *testing.T) {
		db, client := newTestDB(t)
		client.items[storeKey(userItem("1", "u1", "ada@example.com"))] = userItem("1", "u1", "ada@example.com")

		m, err := db.Get(ctx, TeamSchema, "team#1", "user#u1")
		if err != nil {
			t.Fatalf("Failed to get: %v", err)
		}
		if _, ok := m.(*User); !ok {
			t.Errorf("Expected *User, got %T", m)
		}
	})

	t.Run("projected read tolerates missing attributes", func(t *testing.T) {
		db, client := newTestDB(t)
		client.getItem = func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			if in.ProjectionExpression == nil {
				t.Error("Expected projection expression")
			}
			item := teamItem("1", "Platform")
			delete(item, "name")
			return &dynamodb.GetItemOutput{Item: item}, nil
		}
		if _, err := db.Get(ctx, TeamSchema, "team#1", "meta", WithAttributes("members")); err != nil {
			t.Errorf("Expected partial read to succeed, got %v", err)
		}
	})

	t.Run("stored item missing required attribute", func(t *testing.T) {
		db, client := newTestDB(t)
		item := teamItem("1", "Platform")
		delete(item, "name")
		client.items[storeKey(item)] = item
		if _, err := db.Get(ctx, TeamSchema, "team#1", "meta"); !errors.Is(err, ErrDeserialization) {
			t.Errorf("Expected deserialization error, got %v", err)
		}
	})

	t.Run("As asserts the model type", func(t *testing.T) {
		db, client := newTestDB(t)
		client.items[storeKey(teamItem("1", "Platform"))] = teamItem("1", "Platform")

		team, err := As[*Team](db.Get(ctx, TeamSchema, "team#1", "meta"))
		if err != nil || team.Name != "Platform" {
			t.Errorf("Expected team, got %v, %v", team, err)
		}
		if _, err := As[*User](db.Get(ctx, TeamSchema, "team#1", "meta")); !errors.Is(err, ErrDeserialization) {
			t.Errorf("Expected deserialization error, got %v", err)
		}
		if _, err := As[*Team](db.Get(ctx, TeamSchema, "team#2", "meta")); !errors.Is(err, ErrDoesNotExist) {
			t.Errorf("Expected ErrDoesNotExist, got %v", err)
		}
	})
}

func TestDBConditionalWrites(t *testing.T) {
	ctx := context.Background()
	db, client := newTestDB(t)
	ccf := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	client.putItem = func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) { return nil, ccf }
	client.deleteItem = func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) { return nil, ccf }
	client.updateItem = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) { return nil, ccf }

	team := &Team{ID: "1", Name: "Platform"}
	errs := map[string]error{
		"PutItem":    db.Save(ctx, team, WithCondition(AttributeNotExists("pk"))),
		"DeleteItem": db.Delete(ctx, team, WithCondition(AttributeExists("pk"))),
	}
	_, errs["UpdateItem"] = db.Update(ctx, team, []UpdateAction{Set("name", "x")})

	for op, err := range errs {
		if !errors.Is(err, ErrConditionalCheckFailed) {
			t.Errorf("%s: expected conditional check failure, got %v", op, err)
			continue
		}
		var cerr *ConditionalCheckFailedError
		if errors.As(err, &cerr) && cerr.Operation != op {
			t.Errorf("Expected operation %s, got %s", op, cerr.Operation)
		}
		if !errors.As(err, &ccf) {
			t.Errorf("%s: expected the backend exception to be wrapped", op)
		}
	}
}

func TestDBDelete(t *testing.T) {
	ctx := context.Background()
	db, client := newTestDB(t)

	team := &Team{ID: "1", Name: "Platform"}
	if err := db.Save(ctx, team); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(ctx, team); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	key, _ := TeamSchema.EncodeKey("team#1", "meta")
	if _, ok := client.stored(key); ok {
		t.Error("Expected item to be deleted")
	}
}

func TestDBUpdate(t *testing.T) {
	ctx := context.Background()
	db, client := newTestDB(t)

	client.updateItem = func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		if got := aws.ToString(in.UpdateExpression); got != "SET #name0 = #name0 + :val0" {
			t.Errorf("Unexpected update %q", got)
		}
		item := teamItem("1", "Platform")
		item["members"] = &types.AttributeValueMemberN{Value: "4"}
		return &dynamodb.UpdateItemOutput{Attributes: item}, nil
	}

	m, err := db.Update(ctx, &Team{ID: "1"}, []UpdateAction{Increment("members", 1)})
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if team := m.(*Team); team.Members != 4 {
		t.Errorf("Expected 4 members, got %d", team.Members)
	}
}

func TestDBRefresh(t *testing.T) {
	ctx := context.Background()
	db, client := newTestDB(t)
	client.items[storeKey(teamItem("1", "Platform"))] = teamItem("1", "Platform")

	team := &Team{ID: "1"}
	if err := db.Refresh(ctx, team); err != nil {
		t.Fatalf("Failed to refresh: %v", err)
	}
	if team.Name != "Platform" || team.Members != 3 {
		t.Errorf("Expected refreshed values, got %+v", team)
	}

	var consistent bool
	client.getItem = func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		consistent = aws.ToBool(in.ConsistentRead)
		return &dynamodb.GetItemOutput{}, nil
	}
	if err := db.Refresh(ctx, &Team{ID: "2"}); !errors.Is(err, ErrDoesNotExist) {
		t.Errorf("Expected ErrDoesNotExist, got %v", err)
	}
	if !consistent {
		t.Error("Expected a consistent read")
	}
}

func TestDBRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("throttled calls are retried", func(t *testing.T) {
		db, client := newTestDB(t)
		attempts := 0
		client.putItem = func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			attempts++
			if attempts < 3 {
				return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
			}
			return &dynamodb.PutItemOutput{}, nil
		}
		if err := db.Save(ctx, &Team{ID: "1", Name: "x"}); err != nil {
			t.Fatalf("Expected retries to succeed, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("exhausted retries", func(t *testing.T) {
		db, client := newTestDB(t)
		db.Table().Retry.MaxAttempts = 4
		client.getItem = func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "ThrottlingException", Message: "rate exceeded"}
		}
		_, err := db.Get(ctx, TeamSchema, "team#1", "meta")
		if !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("Expected backend unavailable, got %v", err)
		}
		var berr *BackendUnavailableError
		if !errors.As(err, &berr) || berr.Attempts != 4 || berr.Operation != "GetItem" {
			t.Errorf("Unexpected error %+v", berr)
		}
		if client.count("GetItem") != 4 {
			t.Errorf("Expected 4 calls, got %d", client.count("GetItem"))
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		db, client := newTestDB(t)
		client.deleteItem = func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			return nil, &types.ResourceNotFoundException{Message: aws.String("no table")}
		}
		err := db.Delete(ctx, &Team{ID: "1"})
		if err == nil || errors.Is(err, ErrBackendUnavailable) {
			t.Errorf("Expected a plain failure, got %v", err)
		}
		if client.count("DeleteItem") != 1 {
			t.Errorf("Expected 1 call, got %d", client.count("DeleteItem"))
		}
	})

	t.Run("transport errors exhaust into backend unavailable", func(t *testing.T) {
		db, client := newTestDB(t)
		db.Table().Retry.MaxAttempts = 3
		client.getItem = func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		}
		_, err := db.Get(ctx, TeamSchema, "team#1", "meta")
		if !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("Expected backend unavailable, got %v", err)
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) {
			t.Errorf("Expected the dial error to be wrapped, got %v", err)
		}
		if client.count("GetItem") != 3 {
			t.Errorf("Expected 3 calls, got %d", client.count("GetItem"))
		}
	})

	t.Run("transport errors are classified", func(t *testing.T) {
		dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		tests := []struct {
			name string
			err  error
			want bool
		}{
			{"dial error", dial, true},
			{"operation error wrapping dial", &smithy.OperationError{ServiceID: "DynamoDB", OperationName: "GetItem", Err: dial}, true},
			{"service unavailable status", &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}},
				Err:      errors.New("unavailable"),
			}, true},
			{"bad request status", &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusBadRequest}},
				Err:      errors.New("bad request"),
			}, false},
			{"canceled context", context.Canceled, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := isRetryable(tt.err); got != tt.want {
					t.Errorf("Expected isRetryable to be %v, got %v", tt.want, got)
				}
			})
		}
	})

	t.Run("server errors are retried", func(t *testing.T) {
		if !isRetryable(&types.InternalServerError{Message: aws.String("oops")}) {
			t.Error("Expected internal server errors to be retryable")
		}
		if isRetryable(errors.New("plain")) {
			t.Error("Expected plain errors not to be retryable")
		}
	})

	t.Run("cancellation stops the backoff", func(t *testing.T) {
		db, client := newTestDB(t)
		db.Table().Retry.Backoff = retry.BackoffDelayerFunc(func(int, error) (time.Duration, error) {
			return time.Hour, nil
		})
		cctx, cancel := context.WithCancel(ctx)
		client.putItem = func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			cancel()
			return nil, &types.RequestLimitExceeded{Message: aws.String("limit")}
		}
		err := db.Save(cctx, &Team{ID: "1", Name: "x"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context cancellation, got %v", err)
		}
	})
}
