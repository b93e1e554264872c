package dynamodel

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxInOperands is the backend limit on the right-hand side of IN.
const maxInOperands = 100

// Expression is a compiled expression string with the placeholder maps it
// references.
type Expression struct {
	Expression string
	Condition  string // set by CompileUpdate when a condition shares the placeholders
	Names      map[string]string
	Values     map[string]types.AttributeValue
}

// CompileCondition validates cond against s and renders it.
func CompileCondition(s *Schema, cond Condition) (Expression, error) {
	c := newCompiler(s)
	expr, err := c.condition(cond)
	if err != nil {
		return Expression{}, err
	}
	return Expression{Expression: expr, Names: c.names(), Values: c.values()}, nil
}

// CompileUpdate validates actions against s and renders the update expression.
// An optional condition is rendered into the same placeholder space.
func CompileUpdate(s *Schema, actions []UpdateAction, cond Condition) (Expression, error) {
	c := newCompiler(s)
	update, err := c.update(actions)
	if err != nil {
		return Expression{}, err
	}
	var condition string
	if cond.IsSet() {
		if condition, err = c.condition(cond); err != nil {
			return Expression{}, err
		}
	}
	return Expression{Expression: update, Condition: condition, Names: c.names(), Values: c.values()}, nil
}

// CompileProjection renders a projection expression over the named attributes.
// Nested paths are allowed when their first segment is declared.
func CompileProjection(s *Schema, names ...string) (Expression, error) {
	c := newCompiler(s)
	expr, err := c.projection(names)
	if err != nil {
		return Expression{}, err
	}
	return Expression{Expression: expr, Names: c.names()}, nil
}

// placeholders allocates expression attribute names and values. A name is
// reused for repeated references to the same attribute; every value gets its
// own placeholder.
type placeholders struct {
	names  map[string]string
	byName map[string]string
	vals   map[string]types.AttributeValue
}

func newPlaceholders() *placeholders {
	return &placeholders{
		names:  make(map[string]string),
		byName: make(map[string]string),
		vals:   make(map[string]types.AttributeValue),
	}
}

func (p *placeholders) name(attr string) string {
	if ph, ok := p.byName[attr]; ok {
		return ph
	}
	ph := fmt.Sprintf("#name%d", len(p.names))
	p.names[ph] = attr
	p.byName[attr] = ph
	return ph
}

func (p *placeholders) value(av types.AttributeValue) string {
	ph := fmt.Sprintf(":val%d", len(p.vals))
	p.vals[ph] = av
	return ph
}

type compiler struct {
	schema *Schema
	ph     *placeholders
}

func newCompiler(s *Schema) *compiler {
	return &compiler{schema: s, ph: newPlaceholders()}
}

func (c *compiler) names() map[string]string {
	if len(c.ph.names) == 0 {
		return nil
	}
	return c.ph.names
}

func (c *compiler) values() map[string]types.AttributeValue {
	if len(c.ph.vals) == 0 {
		return nil
	}
	return c.ph.vals
}

// resolve finds an attribute in the schema or among index-local declarations.
func (c *compiler) resolve(name string) (Attribute, bool) {
	if attr, ok := c.schema.Attribute(name); ok {
		return attr, true
	}
	for _, idx := range c.schema.indexes {
		for _, attr := range idx.Attributes {
			if attr.Name == name {
				return attr, true
			}
		}
	}
	return Attribute{}, false
}

var indexSuffix = regexp.MustCompile(`^(\[\d+\])*$`)

// operand resolves a document path. nested is true when the path descends
// into a Map or List attribute.
func (c *compiler) operand(path string) (attr Attribute, nested bool, rendered string, err error) {
	if path == "" {
		return Attribute{}, false, "", expressionErrorf("", "empty attribute path")
	}

	parts := strings.Split(path, ".")
	segments := make([]string, len(parts))
	for i, part := range parts {
		name, suffix := part, ""
		if j := strings.IndexByte(part, '['); j >= 0 {
			name, suffix = part[:j], part[j:]
		}
		if name == "" || !indexSuffix.MatchString(suffix) {
			return Attribute{}, false, "", expressionErrorf(path, "malformed attribute path")
		}
		if i == 0 {
			var ok bool
			if attr, ok = c.resolve(name); !ok {
				return Attribute{}, false, "", expressionErrorf(name, "attribute is not declared by %s", c.schema.name)
			}
			nested = suffix != "" || len(parts) > 1
		}
		segments[i] = c.ph.name(name) + suffix
	}

	if nested && attr.Type != MapType && attr.Type != ListType {
		return Attribute{}, false, "", expressionErrorf(attr.Name, "document paths require a Map or List attribute, not %s", attr.Type)
	}
	return attr, nested, strings.Join(segments, "."), nil
}

// value encodes an operand with the attribute's codec, or with the generic
// marshaler for document paths. Defaults are never applied to operands.
func (c *compiler) value(attr Attribute, nested bool, v any) (string, error) {
	if isNil(v) {
		return "", expressionErrorf(attr.Name, "operand value is required")
	}
	var av types.AttributeValue
	var err error
	if nested {
		if av, err = attributevalue.Marshal(v); err != nil {
			return "", expressionErrorf(attr.Name, "cannot marshal operand: %v", err)
		}
	} else if av, err = attr.encode(v); err != nil {
		return "", err
	}
	return c.ph.value(av), nil
}

func (c *compiler) number(attr Attribute, v any) (string, error) {
	n, err := formatNumber(attr.Name, v)
	if err != nil {
		return "", err
	}
	return c.ph.value(&types.AttributeValueMemberN{Value: n}), nil
}

func orderable(t AttributeType) bool {
	switch t {
	case UnicodeType, NumberType, BinaryType, UTCDateTimeType, TTLType:
		return true
	}
	return false
}

func (c *compiler) condition(cond Condition) (string, error) {
	switch cond.kind {
	case condAnd, condOr:
		sep := " AND "
		if cond.kind == condOr {
			sep = " OR "
		}
		parts := make([]string, 0, len(cond.children))
		for _, child := range cond.children {
			expr, err := c.condition(child)
			if err != nil {
				return "", err
			}
			if child.compound() {
				expr = "(" + expr + ")"
			}
			parts = append(parts, expr)
		}
		return strings.Join(parts, sep), nil

	case condNot:
		expr, err := c.condition(cond.children[0])
		if err != nil {
			return "", err
		}
		return "NOT (" + expr + ")", nil

	case 0:
		return "", expressionErrorf("", "condition is not set")
	}

	attr, nested, name, err := c.operand(cond.attr)
	if err != nil {
		return "", err
	}

	switch cond.kind {
	case condCompare:
		if !cond.op.valid() {
			return "", expressionErrorf(attr.Name, "unknown operator %q", cond.op)
		}
		if cond.op.ordered() && !nested && !orderable(attr.Type) {
			return "", expressionErrorf(attr.Name, "%s does not support %s", attr.Type, cond.op)
		}
		v, err := c.value(attr, nested, cond.values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", name, cond.op, v), nil

	case condBetween:
		if !nested && !orderable(attr.Type) {
			return "", expressionErrorf(attr.Name, "%s does not support BETWEEN", attr.Type)
		}
		lo, err := c.value(attr, nested, cond.values[0])
		if err != nil {
			return "", err
		}
		hi, err := c.value(attr, nested, cond.values[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", name, lo, hi), nil

	case condIn:
		if len(cond.values) == 0 || len(cond.values) > maxInOperands {
			return "", expressionErrorf(attr.Name, "IN requires between 1 and %d values, got %d", maxInOperands, len(cond.values))
		}
		vals := make([]string, len(cond.values))
		for i, v := range cond.values {
			if vals[i], err = c.value(attr, nested, v); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%s IN (%s)", name, strings.Join(vals, ", ")), nil

	case condExists:
		return fmt.Sprintf("attribute_exists(%s)", name), nil

	case condNotExists:
		return fmt.Sprintf("attribute_not_exists(%s)", name), nil

	case condBeginsWith:
		v, err := c.prefixOperand(attr, nested, cond.values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("begins_with(%s, %s)", name, v), nil

	case condContains:
		v, err := c.containsOperand(attr, nested, cond.values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("contains(%s, %s)", name, v), nil

	case condSize:
		if !cond.op.valid() {
			return "", expressionErrorf(attr.Name, "unknown operator %q", cond.op)
		}
		if !nested {
			switch attr.Type {
			case NumberType, BooleanType, TTLType:
				return "", expressionErrorf(attr.Name, "size is not defined for %s", attr.Type)
			}
		}
		v, err := c.number(attr, cond.values[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("size(%s) %s %s", name, cond.op, v), nil
	}

	return "", expressionErrorf(attr.Name, "unknown condition kind %d", cond.kind)
}

func (c *compiler) prefixOperand(attr Attribute, nested bool, v any) (string, error) {
	if nested {
		return c.value(attr, true, v)
	}
	switch attr.Type {
	case UnicodeType, UTCDateTimeType:
		s, ok := stringValue(v)
		if !ok {
			return "", expressionErrorf(attr.Name, "begins_with prefix must be a string, got %T", v)
		}
		return c.ph.value(&types.AttributeValueMemberS{Value: s}), nil
	case BinaryType:
		b, ok := v.([]byte)
		if !ok {
			return "", expressionErrorf(attr.Name, "begins_with prefix must be []byte, got %T", v)
		}
		return c.ph.value(&types.AttributeValueMemberB{Value: b}), nil
	}
	return "", expressionErrorf(attr.Name, "begins_with is not defined for %s", attr.Type)
}

func (c *compiler) containsOperand(attr Attribute, nested bool, v any) (string, error) {
	if nested || attr.Type == ListType {
		return c.value(attr, true, v)
	}
	if attr.Type == UnicodeType {
		s, ok := stringValue(v)
		if !ok {
			return "", expressionErrorf(attr.Name, "contains operand must be a string, got %T", v)
		}
		return c.ph.value(&types.AttributeValueMemberS{Value: s}), nil
	}
	if elem, ok := attr.elementAttribute(); ok {
		return c.value(elem, false, v)
	}
	return "", expressionErrorf(attr.Name, "contains is not defined for %s", attr.Type)
}

func (c *compiler) update(actions []UpdateAction) (string, error) {
	if len(actions) == 0 {
		return "", expressionErrorf("", "no update actions")
	}

	var sets, removes, adds, deletes []string
	seen := make(map[string]bool, len(actions))

	for _, action := range actions {
		attr, nested, name, err := c.operand(action.attr)
		if err != nil {
			return "", err
		}
		if !nested && attr.IsKey() {
			return "", expressionErrorf(attr.Name, "key attributes cannot be updated")
		}
		if seen[action.attr] {
			return "", expressionErrorf(action.attr, "attribute is targeted by more than one action")
		}
		seen[action.attr] = true

		switch action.kind {
		case updateSet:
			clause, remove, err := c.setClause(attr, nested, name, action)
			if err != nil {
				return "", err
			}
			if remove {
				removes = append(removes, name)
			} else {
				sets = append(sets, clause)
			}

		case updateRemove:
			if len(action.indexes) == 0 {
				removes = append(removes, name)
				continue
			}
			if !nested && attr.Type != ListType {
				return "", expressionErrorf(attr.Name, "list elements cannot be removed from %s", attr.Type)
			}
			for _, i := range action.indexes {
				if i < 0 {
					return "", expressionErrorf(attr.Name, "negative list index %d", i)
				}
				removes = append(removes, fmt.Sprintf("%s[%d]", name, i))
			}

		case updateAdd:
			var v string
			switch {
			case nested:
				v, err = c.value(attr, true, action.value)
			case attr.Type == NumberType:
				v, err = c.number(attr, action.value)
			case attr.Type.IsSet():
				v, err = c.value(attr, false, action.value)
			default:
				err = expressionErrorf(attr.Name, "ADD is not defined for %s", attr.Type)
			}
			if err != nil {
				return "", err
			}
			adds = append(adds, name+" "+v)

		case updateDelete:
			if !nested && !attr.Type.IsSet() {
				return "", expressionErrorf(attr.Name, "DELETE is not defined for %s", attr.Type)
			}
			v, err := c.value(attr, nested, action.value)
			if err != nil {
				return "", err
			}
			deletes = append(deletes, name+" "+v)

		default:
			return "", expressionErrorf(attr.Name, "unknown update action")
		}
	}

	var clauses []string
	for _, clause := range []struct {
		keyword string
		parts   []string
	}{
		{"SET", sets},
		{"REMOVE", removes},
		{"ADD", adds},
		{"DELETE", deletes},
	} {
		if len(clause.parts) > 0 {
			clauses = append(clauses, clause.keyword+" "+strings.Join(clause.parts, ", "))
		}
	}
	return strings.Join(clauses, " "), nil
}

// setClause renders a SET action. remove is true when a nil value on a
// nullable attribute turns the action into a REMOVE.
func (c *compiler) setClause(attr Attribute, nested bool, name string, action UpdateAction) (clause string, remove bool, err error) {
	switch action.mode {
	case setValue:
		if isNil(action.value) && !nested {
			if attr.Nullable {
				return "", true, nil
			}
			return "", false, expressionErrorf(attr.Name, "attribute is not nullable")
		}
		v, err := c.value(attr, nested, action.value)
		if err != nil {
			return "", false, err
		}
		return name + " = " + v, false, nil

	case setIfNotExists:
		v, err := c.value(attr, nested, action.value)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%s = if_not_exists(%s, %s)", name, name, v), false, nil

	case setIncrement, setDecrement:
		if !nested && attr.Type != NumberType {
			return "", false, expressionErrorf(attr.Name, "arithmetic is not defined for %s", attr.Type)
		}
		v, err := c.number(attr, action.value)
		if err != nil {
			return "", false, err
		}
		op := "+"
		if action.mode == setDecrement {
			op = "-"
		}
		return fmt.Sprintf("%s = %s %s %s", name, name, op, v), false, nil

	case setAppend, setPrepend:
		if !nested && attr.Type != ListType {
			return "", false, expressionErrorf(attr.Name, "list_append is not defined for %s", attr.Type)
		}
		av, err := attributevalue.Marshal(action.value)
		if err != nil {
			return "", false, expressionErrorf(attr.Name, "cannot marshal list: %v", err)
		}
		if _, ok := av.(*types.AttributeValueMemberL); !ok {
			return "", false, expressionErrorf(attr.Name, "list_append operand must be a list, got %T", action.value)
		}
		v := c.ph.value(av)
		if action.mode == setPrepend {
			return fmt.Sprintf("%s = list_append(%s, %s)", name, v, name), false, nil
		}
		return fmt.Sprintf("%s = list_append(%s, %s)", name, name, v), false, nil
	}
	return "", false, expressionErrorf(attr.Name, "unknown set mode")
}

// keyCondition renders the hash key equality and the optional range key
// condition. Only =, <, <=, >, >=, BETWEEN and begins_with are valid on keys.
func (c *compiler) keyCondition(hash Attribute, hashValue any, rng Attribute, rangeCond Condition) (string, error) {
	hv, err := hash.Encode(hashValue)
	if err != nil {
		return "", err
	}
	if hv == nil {
		return "", validationErrorf(hash.Name, "hash key value is required")
	}
	expr := c.ph.name(hash.Name) + " = " + c.ph.value(hv)
	if !rangeCond.IsSet() {
		return expr, nil
	}

	if rng.Name == "" {
		return "", expressionErrorf(rangeCond.attr, "range key condition on a key schema without range key")
	}
	if rangeCond.attr != rng.Name {
		return "", expressionErrorf(rangeCond.attr, "range key condition must reference %q", rng.Name)
	}
	switch rangeCond.kind {
	case condCompare:
		if rangeCond.op == OpNotEqual {
			return "", expressionErrorf(rng.Name, "<> is not valid in a key condition")
		}
	case condBetween, condBeginsWith:
	default:
		return "", expressionErrorf(rng.Name, "only comparisons, BETWEEN and begins_with are valid in a key condition")
	}

	rexpr, err := c.condition(rangeCond)
	if err != nil {
		return "", err
	}
	return expr + " AND " + rexpr, nil
}

// projection renders a projection expression over names.
func (c *compiler) projection(names []string) (string, error) {
	parts := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		_, _, rendered, err := c.operand(n)
		if err != nil {
			return "", err
		}
		parts = append(parts, rendered)
	}
	return strings.Join(parts, ", "), nil
}
