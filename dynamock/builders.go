package dynamock

import (
	"time"

	"github.com/nisimpson/dynamodel"
)

// DocumentOption is a functional option for configuring documents during building.
type DocumentOption func(*DocumentBuilder)

// DocumentBuilder builds dynamodel documents through functional options only.
type DocumentBuilder struct {
	schema *dynamodel.Schema
	values dynamodel.Values
}

// NewDocument creates a new document builder for s with the given options applied.
func NewDocument(s *dynamodel.Schema, opts ...DocumentOption) *DocumentBuilder {
	builder := &DocumentBuilder{
		schema: s,
		values: make(dynamodel.Values),
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder
}

// Build creates a Document from the builder configuration. Every call returns
// an independent document.
func (b *DocumentBuilder) Build() *dynamodel.Document {
	values := make(dynamodel.Values, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return dynamodel.NewDocument(b.schema, values)
}

// Functional Options

// WithKey sets the hash key and, for schemas that have one, the range key.
func WithKey(hash, rng any) DocumentOption {
	return func(b *DocumentBuilder) {
		b.values[b.schema.HashKey().Name] = hash
		if attr, ok := b.schema.RangeKey(); ok {
			b.values[attr.Name] = rng
		}
	}
}

// WithValue sets a single attribute.
func WithValue(name string, v any) DocumentOption {
	return func(b *DocumentBuilder) {
		b.values[name] = v
	}
}

// WithValues sets several attributes at once.
func WithValues(values dynamodel.Values) DocumentOption {
	return func(b *DocumentBuilder) {
		for k, v := range values {
			b.values[k] = v
		}
	}
}

// WithTimestamp sets a UTCDateTime attribute.
func WithTimestamp(name string, ts time.Time) DocumentOption {
	return func(b *DocumentBuilder) {
		b.values[name] = ts.UTC()
	}
}

// WithTimeToLive sets the named TTL attribute to now plus ttl.
func WithTimeToLive(name string, now time.Time, ttl time.Duration) DocumentOption {
	return func(b *DocumentBuilder) {
		b.values[name] = now.Add(ttl)
	}
}

// Documents builds n documents, numbering each one through fn.
func Documents(s *dynamodel.Schema, n int, fn func(i int) []DocumentOption) []dynamodel.Model {
	models := make([]dynamodel.Model, 0, n)
	for i := range n {
		models = append(models, NewDocument(s, fn(i)...).Build())
	}
	return models
}
