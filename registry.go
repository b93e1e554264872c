package dynamodel

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Registry maps discriminator values to schemas so that items read from a
// shared table come back as their concrete model. It is populated during
// setup and read-only afterwards.
type Registry struct {
	discriminator string
	schemas       map[string]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds s under its discriminator value. All schemas in a registry
// must use the same discriminator attribute, and each value may be claimed
// only once.
func (r *Registry) Register(s *Schema) error {
	value, ok := s.DiscriminatorValue()
	if !ok {
		return validationErrorf(s.Discriminator(), "schema %s has no discriminator value", s.Name())
	}
	if r.discriminator != "" && r.discriminator != s.Discriminator() {
		return validationErrorf(s.Discriminator(), "registry discriminates on %q", r.discriminator)
	}
	if existing, dup := r.schemas[value]; dup && existing != s {
		return validationErrorf(s.Discriminator(), "discriminator value %q is already registered to %s", value, existing.Name())
	}
	r.discriminator = s.Discriminator()
	r.schemas[value] = s
	return nil
}

// Lookup returns the schema registered for a discriminator value.
func (r *Registry) Lookup(value string) (*Schema, bool) {
	s, ok := r.schemas[value]
	return s, ok
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int { return len(r.schemas) }

// Dispatch decodes item into the model registered for its discriminator
// value, falling back to the caller's schema when the value is absent or
// unknown.
func (r *Registry) Dispatch(item Item, fallback *Schema) (Model, error) {
	return r.dispatch(item, fallback, false)
}

// dispatch skips the required attribute check when partial is set, as is the
// case for projected reads.
func (r *Registry) dispatch(item Item, fallback *Schema, partial bool) (Model, error) {
	target := r.resolve(item, fallback)
	if target == nil {
		return nil, &DeserializationError{Model: "unknown", Err: validationErrorf(r.discriminator, "no schema registered for item")}
	}

	values, err := target.Decode(item)
	if err != nil {
		return nil, &DeserializationError{Model: target.Name(), Err: err}
	}
	target.applyDefaults(values)

	if !partial {
		if missing := target.missingRequired(values); len(missing) > 0 {
			return nil, &DeserializationError{Model: target.Name(), Missing: missing}
		}
	}

	m := target.New()
	if err := m.UnmarshalValues(values); err != nil {
		return nil, &DeserializationError{Model: target.Name(), Err: err}
	}
	return m, nil
}

func (r *Registry) resolve(item Item, fallback *Schema) *Schema {
	attr := r.discriminator
	if fallback != nil && fallback.Discriminator() != "" {
		attr = fallback.Discriminator()
	}
	if attr != "" {
		if sv, ok := item[attr].(*types.AttributeValueMemberS); ok {
			if s, ok := r.schemas[sv.Value]; ok {
				return s
			}
		}
	}
	return fallback
}
