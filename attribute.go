package dynamodel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttributeType identifies the semantic type of an attribute and therefore the
// codec used to move values between Go and the wire.
type AttributeType int

const (
	UnicodeType     AttributeType = iota + 1 // string, stored as S
	NumberType                               // arbitrary precision decimal, stored as N
	BinaryType                               // []byte, stored as B
	BooleanType                              // bool, stored as BOOL
	JSONType                                 // any JSON value, serialized into S
	UnicodeSetType                           // []string, stored as SS
	NumberSetType                            // []attributevalue.Number, stored as NS
	BinarySetType                            // [][]byte, stored as BS
	UTCDateTimeType                          // time.Time, stored as a UTC timestamp string
	TTLType                                  // time.Time, stored as N epoch seconds
	MapType                                  // map[string]any, stored as M
	ListType                                 // []any, stored as L
)

var attributeTypeNames = map[AttributeType]string{
	UnicodeType:     "Unicode",
	NumberType:      "Number",
	BinaryType:      "Binary",
	BooleanType:     "Boolean",
	JSONType:        "JSON",
	UnicodeSetType:  "UnicodeSet",
	NumberSetType:   "NumberSet",
	BinarySetType:   "BinarySet",
	UTCDateTimeType: "UTCDateTime",
	TTLType:         "TTL",
	MapType:         "Map",
	ListType:        "List",
}

func (t AttributeType) String() string {
	if name, ok := attributeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("AttributeType(%d)", int(t))
}

// IsSet reports whether t is one of the set types.
func (t AttributeType) IsSet() bool {
	return t == UnicodeSetType || t == NumberSetType || t == BinarySetType
}

// ScalarType returns the key schema type for t. Only types stored as S, N or B
// may be used as keys.
func (t AttributeType) ScalarType() (types.ScalarAttributeType, bool) {
	switch t {
	case UnicodeType, UTCDateTimeType:
		return types.ScalarAttributeTypeS, true
	case NumberType, TTLType:
		return types.ScalarAttributeTypeN, true
	case BinaryType:
		return types.ScalarAttributeTypeB, true
	}
	return "", false
}

// DateTimeFormat is the layout used to store UTCDateTime attributes.
const DateTimeFormat = "2006-01-02T15:04:05.000000-0700"

// maxNumberDigits is the number of significant digits the backend preserves.
const maxNumberDigits = 38

var numberPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Attribute describes one named, typed field of a model.
type Attribute struct {
	Name     string
	Type     AttributeType
	Nullable bool // when true a nil value is omitted from the stored item
	Default  any  // literal value or a func() any producer
	HashKey  bool
	RangeKey bool
}

// AttributeOption configures an Attribute.
type AttributeOption func(*Attribute)

// HashKey marks the attribute as the partition key.
func HashKey() AttributeOption {
	return func(a *Attribute) { a.HashKey = true }
}

// RangeKey marks the attribute as the sort key.
func RangeKey() AttributeOption {
	return func(a *Attribute) { a.RangeKey = true }
}

// Nullable allows the attribute to be absent.
func Nullable() AttributeOption {
	return func(a *Attribute) { a.Nullable = true }
}

// Default sets the value used when the attribute is nil. A func() any is
// invoked on every encode.
func Default(v any) AttributeOption {
	return func(a *Attribute) { a.Default = v }
}

func newAttribute(name string, typ AttributeType, opts []AttributeOption) Attribute {
	a := Attribute{Name: name, Type: typ}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// Unicode declares a string attribute.
func Unicode(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, UnicodeType, opts)
}

// Number declares a numeric attribute.
func Number(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, NumberType, opts)
}

// Binary declares a []byte attribute.
func Binary(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, BinaryType, opts)
}

// Boolean declares a bool attribute.
func Boolean(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, BooleanType, opts)
}

// JSON declares an attribute stored as a JSON encoded string.
func JSON(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, JSONType, opts)
}

// UnicodeSet declares a string set attribute.
func UnicodeSet(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, UnicodeSetType, opts)
}

// NumberSet declares a number set attribute.
func NumberSet(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, NumberSetType, opts)
}

// BinarySet declares a binary set attribute.
func BinarySet(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, BinarySetType, opts)
}

// UTCDateTime declares a time.Time attribute stored as a UTC string.
func UTCDateTime(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, UTCDateTimeType, opts)
}

// TTL declares an expiry attribute. Values are time.Time or a time.Duration
// from now, stored as epoch seconds. Writes through a Table take now from its
// Clock.
func TTL(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, TTLType, opts)
}

// Map declares a map[string]any attribute.
func Map(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, MapType, opts)
}

// List declares a []any attribute.
func List(name string, opts ...AttributeOption) Attribute {
	return newAttribute(name, ListType, opts)
}

// IsKey reports whether the attribute is a table key.
func (a Attribute) IsKey() bool {
	return a.HashKey || a.RangeKey
}

// DefaultValue resolves the attribute default, invoking it when it is a producer.
func (a Attribute) DefaultValue() any {
	if fn, ok := a.Default.(func() any); ok {
		return fn()
	}
	return a.Default
}

// Encode converts v into its wire form. A nil result with a nil error means
// the attribute must be omitted from the item.
func (a Attribute) Encode(v any) (types.AttributeValue, error) {
	if isNil(v) {
		v = a.DefaultValue()
	}
	if isNil(v) {
		if a.Nullable && !a.IsKey() {
			return nil, nil
		}
		return nil, validationErrorf(a.Name, "value is required")
	}

	av, err := a.encode(v)
	if err != nil {
		return nil, err
	}

	if a.IsKey() {
		switch kv := av.(type) {
		case *types.AttributeValueMemberS:
			if kv.Value == "" {
				return nil, validationErrorf(a.Name, "key attribute cannot be empty")
			}
		case *types.AttributeValueMemberB:
			if len(kv.Value) == 0 {
				return nil, validationErrorf(a.Name, "key attribute cannot be empty")
			}
		}
	}
	return av, nil
}

func (a Attribute) encode(v any) (types.AttributeValue, error) {
	switch a.Type {
	case UnicodeType:
		s, ok := stringValue(v)
		if !ok {
			return nil, a.typeMismatch(v)
		}
		return &types.AttributeValueMemberS{Value: s}, nil

	case NumberType:
		n, err := formatNumber(a.Name, v)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberN{Value: n}, nil

	case BinaryType:
		b, ok := v.([]byte)
		if !ok {
			return nil, a.typeMismatch(v)
		}
		return &types.AttributeValueMemberB{Value: bytes.Clone(b)}, nil

	case BooleanType:
		b, ok := v.(bool)
		if !ok {
			return nil, a.typeMismatch(v)
		}
		return &types.AttributeValueMemberBOOL{Value: b}, nil

	case JSONType:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, validationErrorf(a.Name, "cannot serialize JSON: %v", err)
		}
		return &types.AttributeValueMemberS{Value: string(data)}, nil

	case UnicodeSetType:
		values, ok := v.([]string)
		if !ok {
			return nil, a.typeMismatch(v)
		}
		if len(values) == 0 {
			return nil, validationErrorf(a.Name, "set cannot be empty")
		}
		out := slices.Clone(values)
		slices.Sort(out)
		return &types.AttributeValueMemberSS{Value: slices.Compact(out)}, nil

	case NumberSetType:
		values, err := numberSlice(a.Name, v)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, validationErrorf(a.Name, "set cannot be empty")
		}
		return &types.AttributeValueMemberNS{Value: uniqueNumbers(values)}, nil

	case BinarySetType:
		values, ok := v.([][]byte)
		if !ok {
			return nil, a.typeMismatch(v)
		}
		if len(values) == 0 {
			return nil, validationErrorf(a.Name, "set cannot be empty")
		}
		return &types.AttributeValueMemberBS{Value: uniqueBinary(values)}, nil

	case UTCDateTimeType:
		t, ok := timeValue(v)
		if !ok {
			return nil, a.typeMismatch(v)
		}
		return &types.AttributeValueMemberS{Value: t.UTC().Format(DateTimeFormat)}, nil

	case TTLType:
		switch tv := v.(type) {
		case time.Duration:
			return &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(tv).Unix(), 10)}, nil
		default:
			t, ok := timeValue(v)
			if !ok {
				return nil, a.typeMismatch(v)
			}
			return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}, nil
		}

	case MapType:
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, validationErrorf(a.Name, "cannot marshal map: %v", err)
		}
		if _, ok := av.(*types.AttributeValueMemberM); !ok {
			return nil, a.typeMismatch(v)
		}
		return av, nil

	case ListType:
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, validationErrorf(a.Name, "cannot marshal list: %v", err)
		}
		if _, ok := av.(*types.AttributeValueMemberL); !ok {
			return nil, a.typeMismatch(v)
		}
		return av, nil
	}

	return nil, validationErrorf(a.Name, "unknown attribute type %s", a.Type)
}

// Decode converts a wire value into the canonical Go value for the attribute.
// NULL and missing values decode to nil.
func (a Attribute) Decode(av types.AttributeValue) (any, error) {
	if av == nil {
		return nil, nil
	}
	if _, ok := av.(*types.AttributeValueMemberNULL); ok {
		return nil, nil
	}

	switch a.Type {
	case UnicodeType:
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			return s.Value, nil
		}

	case NumberType:
		if n, ok := av.(*types.AttributeValueMemberN); ok {
			return attributevalue.Number(n.Value), nil
		}

	case BinaryType:
		if b, ok := av.(*types.AttributeValueMemberB); ok {
			return bytes.Clone(b.Value), nil
		}

	case BooleanType:
		if b, ok := av.(*types.AttributeValueMemberBOOL); ok {
			return b.Value, nil
		}

	case JSONType:
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			var out any
			if err := json.Unmarshal([]byte(s.Value), &out); err != nil {
				return nil, validationErrorf(a.Name, "malformed JSON: %v", err)
			}
			return out, nil
		}

	case UnicodeSetType:
		if ss, ok := av.(*types.AttributeValueMemberSS); ok {
			out := slices.Clone(ss.Value)
			slices.Sort(out)
			return out, nil
		}

	case NumberSetType:
		if ns, ok := av.(*types.AttributeValueMemberNS); ok {
			sorted := uniqueNumbers(ns.Value)
			out := make([]attributevalue.Number, len(sorted))
			for i, n := range sorted {
				out[i] = attributevalue.Number(n)
			}
			return out, nil
		}

	case BinarySetType:
		if bs, ok := av.(*types.AttributeValueMemberBS); ok {
			return uniqueBinary(bs.Value), nil
		}

	case UTCDateTimeType:
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			return parseDateTime(a.Name, s.Value)
		}

	case TTLType:
		if n, ok := av.(*types.AttributeValueMemberN); ok {
			secs, err := strconv.ParseInt(n.Value, 10, 64)
			if err != nil {
				return nil, validationErrorf(a.Name, "malformed epoch seconds %q", n.Value)
			}
			return time.Unix(secs, 0).UTC(), nil
		}

	case MapType:
		if m, ok := av.(*types.AttributeValueMemberM); ok {
			var out map[string]any
			if err := attributevalue.UnmarshalMap(m.Value, &out); err != nil {
				return nil, validationErrorf(a.Name, "cannot unmarshal map: %v", err)
			}
			return out, nil
		}

	case ListType:
		if l, ok := av.(*types.AttributeValueMemberL); ok {
			var out []any
			if err := attributevalue.UnmarshalList(l.Value, &out); err != nil {
				return nil, validationErrorf(a.Name, "cannot unmarshal list: %v", err)
			}
			return out, nil
		}
	}

	return nil, validationErrorf(a.Name, "stored value %T does not match type %s", av, a.Type)
}

func (a Attribute) typeMismatch(v any) error {
	return validationErrorf(a.Name, "cannot encode %T as %s", v, a.Type)
}

// elementAttribute returns an attribute describing one member of a set type.
func (a Attribute) elementAttribute() (Attribute, bool) {
	switch a.Type {
	case UnicodeSetType:
		return Attribute{Name: a.Name, Type: UnicodeType}, true
	case NumberSetType:
		return Attribute{Name: a.Name, Type: NumberType}, true
	case BinarySetType:
		return Attribute{Name: a.Name, Type: BinaryType}, true
	}
	return Attribute{}, false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}

func stringValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case *string:
		return *s, true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		return *t, true
	}
	return time.Time{}, false
}

func parseDateTime(name, s string) (time.Time, error) {
	t, err := time.Parse(DateTimeFormat, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, validationErrorf(name, "malformed timestamp %q", s)
	}
	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, validationErrorf(name, "timestamp %q is not UTC", s)
	}
	return t.UTC(), nil
}

// formatNumber renders a numeric Go value as a decimal string without passing
// it through a binary float.
func formatNumber(name string, v any) (string, error) {
	var s string
	switch n := v.(type) {
	case attributevalue.Number:
		s = string(n)
	case json.Number:
		s = string(n)
	case string:
		s = n
	case int:
		s = strconv.Itoa(n)
	case int8:
		s = strconv.FormatInt(int64(n), 10)
	case int16:
		s = strconv.FormatInt(int64(n), 10)
	case int32:
		s = strconv.FormatInt(int64(n), 10)
	case int64:
		s = strconv.FormatInt(n, 10)
	case uint:
		s = strconv.FormatUint(uint64(n), 10)
	case uint8:
		s = strconv.FormatUint(uint64(n), 10)
	case uint16:
		s = strconv.FormatUint(uint64(n), 10)
	case uint32:
		s = strconv.FormatUint(uint64(n), 10)
	case uint64:
		s = strconv.FormatUint(n, 10)
	case float32:
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return "", validationErrorf(name, "number must be finite")
		}
		s = strconv.FormatFloat(float64(n), 'f', -1, 32)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "", validationErrorf(name, "number must be finite")
		}
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case *big.Int:
		s = n.String()
	default:
		return "", validationErrorf(name, "cannot encode %T as Number", v)
	}

	if !numberPattern.MatchString(s) {
		return "", validationErrorf(name, "%q is not a number", s)
	}
	if significantDigits(s) > maxNumberDigits {
		return "", validationErrorf(name, "%q exceeds %d significant digits", s, maxNumberDigits)
	}
	return s, nil
}

func significantDigits(s string) int {
	s = strings.TrimLeft(s, "+-")
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		s = s[:i]
	}
	s = strings.Replace(s, ".", "", 1)
	s = strings.TrimLeft(s, "0")
	s = strings.TrimRight(s, "0")
	return len(s)
}

func numberSlice(name string, v any) ([]string, error) {
	var raw []any
	switch ns := v.(type) {
	case []attributevalue.Number:
		for _, n := range ns {
			raw = append(raw, n)
		}
	case []string:
		for _, n := range ns {
			raw = append(raw, n)
		}
	case []int:
		for _, n := range ns {
			raw = append(raw, n)
		}
	case []int64:
		for _, n := range ns {
			raw = append(raw, n)
		}
	case []float64:
		for _, n := range ns {
			raw = append(raw, n)
		}
	case []json.Number:
		for _, n := range ns {
			raw = append(raw, n)
		}
	default:
		return nil, validationErrorf(name, "cannot encode %T as NumberSet", v)
	}

	out := make([]string, 0, len(raw))
	for _, n := range raw {
		s, err := formatNumber(name, n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// uniqueNumbers drops numerically equal duplicates and orders by value.
func uniqueNumbers(values []string) []string {
	type entry struct {
		text string
		rat  *big.Rat
	}
	seen := make(map[string]bool, len(values))
	entries := make([]entry, 0, len(values))
	for _, v := range values {
		r, ok := new(big.Rat).SetString(v)
		if !ok {
			entries = append(entries, entry{text: v})
			continue
		}
		if canonical := r.RatString(); !seen[canonical] {
			seen[canonical] = true
			entries = append(entries, entry{text: v, rat: r})
		}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		if a.rat == nil || b.rat == nil {
			return strings.Compare(a.text, b.text)
		}
		return a.rat.Cmp(b.rat)
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.text
	}
	return out
}

func uniqueBinary(values [][]byte) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, bytes.Clone(v))
	}
	slices.SortFunc(out, bytes.Compare)
	return slices.CompactFunc(out, bytes.Equal)
}

// canonicalNumber returns a representation shared by numerically equal strings.
func canonicalNumber(s string) string {
	if r, ok := new(big.Rat).SetString(s); ok {
		return r.RatString()
	}
	return s
}
