package dynamodel

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is an alias for the dynamodb attribute value map.
type Item = map[string]types.AttributeValue

// Values holds in-memory attribute values keyed by attribute name.
type Values map[string]any

// Model is a typed record persisted through a Schema. MarshalValues copies the
// model's fields into the provided map; UnmarshalValues loads them back.
type Model interface {
	Schema() *Schema
	MarshalValues(Values) error
	UnmarshalValues(Values) error
}

// ProjectionType selects which attributes a secondary index carries.
type ProjectionType int

const (
	ProjectAll ProjectionType = iota
	ProjectKeysOnly
	ProjectInclude
)

// SDKType returns the dynamodb projection type.
func (p ProjectionType) SDKType() types.ProjectionType {
	switch p {
	case ProjectKeysOnly:
		return types.ProjectionTypeKeysOnly
	case ProjectInclude:
		return types.ProjectionTypeInclude
	}
	return types.ProjectionTypeAll
}

// Index declares a secondary index. Attributes holds index-local attribute
// declarations for key attributes the owning schema does not declare.
type Index struct {
	Name             string
	HashKey          string
	RangeKey         string
	Projection       ProjectionType
	NonKeyAttributes []string // required for ProjectInclude
	Local            bool     // local indexes share the table hash key
	Attributes       []Attribute
}

// Schema is the immutable description of a model: its table, attributes,
// keys, indexes and discriminator.
type Schema struct {
	name          string
	tableName     string
	attributes    []Attribute
	byName        map[string]int
	hashKey       string
	rangeKey      string
	indexes       []Index
	discriminator string
	newModel      func() Model
}

// SchemaOption configures a Schema at construction.
type SchemaOption func(*Schema)

// WithIndex adds a secondary index.
func WithIndex(idx Index) SchemaOption {
	return func(s *Schema) { s.indexes = append(s.indexes, idx) }
}

// WithDiscriminator names the Unicode attribute whose value identifies the
// concrete model of a stored item. The attribute's literal default is this
// schema's discriminator value.
func WithDiscriminator(attr string) SchemaOption {
	return func(s *Schema) { s.discriminator = attr }
}

// WithConstructor sets the function used to instantiate models during
// deserialization. Schemas without one produce *Document values.
func WithConstructor(fn func() Model) SchemaOption {
	return func(s *Schema) { s.newModel = fn }
}

// WithModelName overrides the name reported in errors and logs.
func WithModelName(name string) SchemaOption {
	return func(s *Schema) { s.name = name }
}

// NewSchema validates and builds a schema.
func NewSchema(tableName string, attrs []Attribute, opts ...SchemaOption) (*Schema, error) {
	s := &Schema{
		tableName:  tableName,
		attributes: slices.Clone(attrs),
		byName:     make(map[string]int, len(attrs)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if tableName == "" {
		return nil, validationErrorf("", "table name is required")
	}

	var ttl string
	for i, attr := range s.attributes {
		if attr.Name == "" {
			return nil, validationErrorf("", "attribute %d has no name", i)
		}
		if _, ok := attributeTypeNames[attr.Type]; !ok {
			return nil, validationErrorf(attr.Name, "unknown attribute type %d", int(attr.Type))
		}
		if _, dup := s.byName[attr.Name]; dup {
			return nil, validationErrorf(attr.Name, "duplicate attribute name")
		}
		s.byName[attr.Name] = i

		if attr.HashKey && attr.RangeKey {
			return nil, validationErrorf(attr.Name, "attribute cannot be both hash and range key")
		}
		if attr.IsKey() {
			if attr.Nullable {
				return nil, validationErrorf(attr.Name, "key attributes cannot be nullable")
			}
			if _, ok := attr.Type.ScalarType(); !ok {
				return nil, validationErrorf(attr.Name, "%s cannot be used as a key", attr.Type)
			}
		}
		if attr.HashKey {
			if s.hashKey != "" {
				return nil, validationErrorf(attr.Name, "schema already has hash key %q", s.hashKey)
			}
			s.hashKey = attr.Name
		}
		if attr.RangeKey {
			if s.rangeKey != "" {
				return nil, validationErrorf(attr.Name, "schema already has range key %q", s.rangeKey)
			}
			s.rangeKey = attr.Name
		}
		if attr.Type == TTLType {
			if ttl != "" {
				return nil, validationErrorf(attr.Name, "schema already has TTL attribute %q", ttl)
			}
			ttl = attr.Name
		}
	}

	if s.hashKey == "" {
		return nil, validationErrorf("", "schema for table %q has no hash key", tableName)
	}

	if s.discriminator != "" {
		attr, ok := s.Attribute(s.discriminator)
		if !ok {
			return nil, validationErrorf(s.discriminator, "discriminator is not a schema attribute")
		}
		if attr.Type != UnicodeType {
			return nil, validationErrorf(s.discriminator, "discriminator must be Unicode, not %s", attr.Type)
		}
	}

	if err := s.validateIndexes(); err != nil {
		return nil, err
	}

	if s.name == "" {
		if value, ok := s.DiscriminatorValue(); ok {
			s.name = value
		} else {
			s.name = tableName
		}
	}

	return s, nil
}

// MustSchema is like NewSchema but panics on error. It is meant for
// package-level schema declarations.
func MustSchema(tableName string, attrs []Attribute, opts ...SchemaOption) *Schema {
	s, err := NewSchema(tableName, attrs, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) validateIndexes() error {
	names := make(map[string]bool, len(s.indexes))
	for _, idx := range s.indexes {
		if idx.Name == "" {
			return validationErrorf("", "index has no name")
		}
		if names[idx.Name] {
			return validationErrorf("", "duplicate index %q", idx.Name)
		}
		names[idx.Name] = true

		if idx.HashKey == "" {
			return validationErrorf("", "index %q has no hash key", idx.Name)
		}
		for _, key := range []string{idx.HashKey, idx.RangeKey} {
			if key == "" {
				continue
			}
			attr, ok := s.indexAttribute(idx, key)
			if !ok {
				return validationErrorf(key, "index %q key is not declared", idx.Name)
			}
			if _, ok := attr.Type.ScalarType(); !ok {
				return validationErrorf(key, "%s cannot be used as an index key", attr.Type)
			}
		}
		if idx.Local {
			if idx.HashKey != s.hashKey {
				return validationErrorf(idx.HashKey, "local index %q must use table hash key %q", idx.Name, s.hashKey)
			}
			if idx.RangeKey == "" {
				return validationErrorf("", "local index %q requires a range key", idx.Name)
			}
		}
		if idx.Projection == ProjectInclude && len(idx.NonKeyAttributes) == 0 {
			return validationErrorf("", "index %q projects included attributes but lists none", idx.Name)
		}
	}
	return nil
}

// Name returns the model name.
func (s *Schema) Name() string { return s.name }

// TableName returns the name of the backing table.
func (s *Schema) TableName() string { return s.tableName }

// Attributes returns the attributes in declaration order.
func (s *Schema) Attributes() []Attribute { return slices.Clone(s.attributes) }

// Attribute looks up an attribute by name.
func (s *Schema) Attribute(name string) (Attribute, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Attribute{}, false
	}
	return s.attributes[i], true
}

// HashKey returns the hash key attribute.
func (s *Schema) HashKey() Attribute {
	attr, _ := s.Attribute(s.hashKey)
	return attr
}

// RangeKey returns the range key attribute, if the schema has one.
func (s *Schema) RangeKey() (Attribute, bool) {
	if s.rangeKey == "" {
		return Attribute{}, false
	}
	return s.Attribute(s.rangeKey)
}

// Indexes returns the secondary indexes.
func (s *Schema) Indexes() []Index { return slices.Clone(s.indexes) }

// Index looks up a secondary index by name.
func (s *Schema) Index(name string) (Index, bool) {
	for _, idx := range s.indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// Discriminator returns the discriminator attribute name, or "".
func (s *Schema) Discriminator() string { return s.discriminator }

// DiscriminatorValue returns the value that identifies this schema's items.
func (s *Schema) DiscriminatorValue() (string, bool) {
	if s.discriminator == "" {
		return "", false
	}
	attr, _ := s.Attribute(s.discriminator)
	value, ok := attr.Default.(string)
	return value, ok && value != ""
}

// New instantiates an empty model for this schema.
func (s *Schema) New() Model {
	if s.newModel != nil {
		return s.newModel()
	}
	return NewDocument(s, nil)
}

// indexAttribute resolves an index key attribute from the schema first and the
// index-local declarations second.
func (s *Schema) indexAttribute(idx Index, name string) (Attribute, bool) {
	if attr, ok := s.Attribute(name); ok {
		return attr, true
	}
	for _, attr := range idx.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}

// Encode converts values into an item. Names the schema does not declare are
// rejected.
func (s *Schema) Encode(values Values) (Item, error) {
	for name := range values {
		if _, ok := s.byName[name]; !ok {
			return nil, validationErrorf(name, "attribute is not declared by %s", s.name)
		}
	}

	item := make(Item, len(s.attributes))
	for _, attr := range s.attributes {
		av, err := attr.Encode(values[attr.Name])
		if err != nil {
			return nil, err
		}
		if av != nil {
			item[attr.Name] = av
		}
	}
	return item, nil
}

// Decode converts an item into values. Attributes the schema does not declare
// are ignored; declared attributes absent from the item are left unset.
func (s *Schema) Decode(item Item) (Values, error) {
	values := make(Values, len(item))
	for _, attr := range s.attributes {
		av, ok := item[attr.Name]
		if !ok {
			continue
		}
		v, err := attr.Decode(av)
		if err != nil {
			return nil, err
		}
		if v != nil {
			values[attr.Name] = v
		}
	}
	return values, nil
}

// EncodeKey builds the primary key item for the given key values. rng is
// ignored for schemas without a range key.
func (s *Schema) EncodeKey(hash, rng any) (Item, error) {
	hk, err := s.HashKey().Encode(hash)
	if err != nil {
		return nil, err
	}
	key := Item{s.hashKey: hk}

	if attr, ok := s.RangeKey(); ok {
		rk, err := attr.Encode(rng)
		if err != nil {
			return nil, err
		}
		key[s.rangeKey] = rk
	}
	return key, nil
}

// KeyOf extracts the primary key attributes from an encoded item.
func (s *Schema) KeyOf(item Item) Item {
	key := Item{s.hashKey: item[s.hashKey]}
	if s.rangeKey != "" {
		key[s.rangeKey] = item[s.rangeKey]
	}
	return key
}

// applyDefaults fills unset attributes from their defaults.
func (s *Schema) applyDefaults(values Values) {
	for _, attr := range s.attributes {
		if !isNil(values[attr.Name]) || attr.Default == nil {
			continue
		}
		if v := attr.DefaultValue(); !isNil(v) {
			values[attr.Name] = v
		}
	}
}

// missingRequired lists non-nullable attributes that have no value.
func (s *Schema) missingRequired(values Values) []string {
	var missing []string
	for _, attr := range s.attributes {
		if attr.Nullable && !attr.IsKey() {
			continue
		}
		if isNil(values[attr.Name]) {
			missing = append(missing, attr.Name)
		}
	}
	return missing
}

// encodeModel marshals m through its schema. TTL durations are resolved
// against now.
func encodeModel(m Model, now time.Time) (*Schema, Item, error) {
	s := m.Schema()
	if s == nil {
		return nil, nil, validationErrorf("", "model %T has no schema", m)
	}
	values := make(Values)
	if err := m.MarshalValues(values); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s: %w", s.name, err)
	}
	s.resolveExpiry(values, now)
	item, err := s.Encode(values)
	if err != nil {
		return nil, nil, err
	}
	return s, item, nil
}

// resolveExpiry replaces durations held by TTL attributes with now plus the
// duration.
func (s *Schema) resolveExpiry(values Values, now time.Time) {
	for name, v := range values {
		d, ok := v.(time.Duration)
		if !ok {
			continue
		}
		if attr, ok := s.Attribute(name); ok && attr.Type == TTLType {
			values[name] = now.Add(d)
		}
	}
}

// Document is a map-backed Model.
type Document struct {
	schema *Schema
	Values Values
}

// NewDocument creates a document bound to s.
func NewDocument(s *Schema, values Values) *Document {
	if values == nil {
		values = make(Values)
	}
	return &Document{schema: s, Values: values}
}

func (d *Document) Schema() *Schema { return d.schema }

func (d *Document) MarshalValues(v Values) error {
	maps.Copy(v, d.Values)
	return nil
}

func (d *Document) UnmarshalValues(v Values) error {
	d.Values = maps.Clone(v)
	return nil
}

// Get returns the value of the named attribute.
func (d *Document) Get(name string) any { return d.Values[name] }

// Set assigns the value of the named attribute.
func (d *Document) Set(name string, v any) { d.Values[name] = v }
