package dynamodel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Sentinel errors. Every typed error in this package matches exactly one of
// these through errors.Is.
var (
	// ErrValidation is returned when a value cannot be encoded for its attribute
	// or a request is malformed before it reaches the backend.
	ErrValidation = errors.New("validation failed")

	// ErrExpression is returned when a condition or update action does not fit
	// the schema it is compiled against.
	ErrExpression = errors.New("invalid expression")

	// ErrDoesNotExist is returned when a single-item read finds nothing.
	ErrDoesNotExist = errors.New("item does not exist")

	// ErrConditionalCheckFailed is returned when a write's condition evaluates to false.
	ErrConditionalCheckFailed = errors.New("conditional check failed")

	// ErrTransactionCanceled is returned when the backend cancels a transaction.
	ErrTransactionCanceled = errors.New("transaction canceled")

	// ErrTransactionClosed is returned when a committed or aborted transaction is reused.
	ErrTransactionClosed = errors.New("transaction already closed")

	// ErrBatchIncomplete is returned when a batch operation leaves unprocessed work.
	ErrBatchIncomplete = errors.New("batch incomplete")

	// ErrBackendUnavailable is returned when retries against the backend are exhausted.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrDeserialization is returned when a stored item cannot become a model.
	ErrDeserialization = errors.New("deserialization failed")
)

// ValidationError reports a value or request that was rejected before any
// backend call.
type ValidationError struct {
	Attribute string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("validation failed for attribute %q: %s", e.Attribute, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationErrorf(attr, format string, args ...any) error {
	return &ValidationError{Attribute: attr, Message: fmt.Sprintf(format, args...)}
}

// ExpressionError reports a condition or update action that references an
// unknown attribute or applies an operation the attribute type cannot support.
type ExpressionError struct {
	Attribute string
	Message   string
}

func (e *ExpressionError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("invalid expression on attribute %q: %s", e.Attribute, e.Message)
	}
	return fmt.Sprintf("invalid expression: %s", e.Message)
}

func (e *ExpressionError) Is(target error) bool {
	return target == ErrExpression
}

func expressionErrorf(attr, format string, args ...any) error {
	return &ExpressionError{Attribute: attr, Message: fmt.Sprintf(format, args...)}
}

// ConditionalCheckFailedError wraps the backend rejection of a conditional
// single-item write.
type ConditionalCheckFailedError struct {
	Operation string
	Err       error
}

func (e *ConditionalCheckFailedError) Error() string {
	return fmt.Sprintf("conditional check failed for %s", e.Operation)
}

func (e *ConditionalCheckFailedError) Is(target error) bool {
	return target == ErrConditionalCheckFailed
}

func (e *ConditionalCheckFailedError) Unwrap() error {
	return e.Err
}

// CancellationReason is the backend's verdict on one operation of a canceled
// transaction. Index is the position of the operation in the request.
type CancellationReason struct {
	Index   int
	Code    string
	Message string
	Item    Item
}

// TransactionCanceledError lists a reason for every operation of a canceled
// transaction, in request order.
type TransactionCanceledError struct {
	Reasons []CancellationReason
	Err     error
}

func (e *TransactionCanceledError) Error() string {
	failed := e.Failed()
	if len(failed) == 0 {
		return "transaction canceled"
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("[%d] %s", r.Index, r.Code))
	}
	return "transaction canceled: " + strings.Join(parts, ", ")
}

func (e *TransactionCanceledError) Is(target error) bool {
	return target == ErrTransactionCanceled
}

func (e *TransactionCanceledError) Unwrap() error {
	return e.Err
}

// Failed returns the reasons whose code is not "None".
func (e *TransactionCanceledError) Failed() []CancellationReason {
	var failed []CancellationReason
	for _, r := range e.Reasons {
		if r.Code != "" && r.Code != "None" {
			failed = append(failed, r)
		}
	}
	return failed
}

// BatchIncompleteError carries the subset of a batch that was not confirmed by
// the backend. Callers may resubmit exactly that subset.
type BatchIncompleteError struct {
	Writes []types.WriteRequest // unprocessed write requests
	Keys   []Item               // unprocessed read keys
	Err    error                // cause, when the batch stopped early
}

func (e *BatchIncompleteError) Error() string {
	msg := fmt.Sprintf("batch incomplete: %d writes and %d keys unprocessed", len(e.Writes), len(e.Keys))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BatchIncompleteError) Is(target error) bool {
	return target == ErrBatchIncomplete
}

func (e *BatchIncompleteError) Unwrap() error {
	return e.Err
}

// BackendUnavailableError is returned after retryable backend errors exhaust
// the retry budget.
type BackendUnavailableError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// DeserializationError is returned when a stored item lacks required
// attributes or cannot be loaded into its model.
type DeserializationError struct {
	Model   string
	Missing []string
	Err     error
}

func (e *DeserializationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("cannot deserialize %s: missing required attributes %s", e.Model, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("cannot deserialize %s: %v", e.Model, e.Err)
}

func (e *DeserializationError) Is(target error) bool {
	return target == ErrDeserialization
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}
