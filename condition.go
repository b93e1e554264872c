package dynamodel

// Operator is a comparison operator.
type Operator string

const (
	OpEqual            Operator = "="
	OpNotEqual         Operator = "<>"
	OpLessThan         Operator = "<"
	OpLessThanEqual    Operator = "<="
	OpGreaterThan      Operator = ">"
	OpGreaterThanEqual Operator = ">="
)

func (op Operator) valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanEqual, OpGreaterThan, OpGreaterThanEqual:
		return true
	}
	return false
}

func (op Operator) ordered() bool {
	return op != OpEqual && op != OpNotEqual
}

type conditionKind int

const (
	condCompare conditionKind = iota + 1
	condBetween
	condIn
	condExists
	condNotExists
	condBeginsWith
	condContains
	condSize
	condAnd
	condOr
	condNot
)

// Condition is an immutable predicate tree evaluated by the backend. The zero
// value is an unset condition.
//
// Operands are attribute names, optionally followed by a document path into a
// Map or List attribute ("Address.City", "Tags[0]").
type Condition struct {
	kind     conditionKind
	attr     string
	op       Operator
	values   []any
	children []Condition
}

// IsSet reports whether c holds a predicate.
func (c Condition) IsSet() bool { return c.kind != 0 }

// Attribute returns the operand of a leaf condition.
func (c Condition) Attribute() string { return c.attr }

func compare(attr string, op Operator, v any) Condition {
	return Condition{kind: condCompare, attr: attr, op: op, values: []any{v}}
}

// Equal matches attr = v.
func Equal(attr string, v any) Condition { return compare(attr, OpEqual, v) }

// NotEqual matches attr <> v.
func NotEqual(attr string, v any) Condition { return compare(attr, OpNotEqual, v) }

// LessThan matches attr < v.
func LessThan(attr string, v any) Condition { return compare(attr, OpLessThan, v) }

// LessThanEqual matches attr <= v.
func LessThanEqual(attr string, v any) Condition { return compare(attr, OpLessThanEqual, v) }

// GreaterThan matches attr > v.
func GreaterThan(attr string, v any) Condition { return compare(attr, OpGreaterThan, v) }

// GreaterThanEqual matches attr >= v.
func GreaterThanEqual(attr string, v any) Condition { return compare(attr, OpGreaterThanEqual, v) }

// Compare builds a comparison with an explicit operator.
func Compare(attr string, op Operator, v any) Condition { return compare(attr, op, v) }

// Between matches lo <= attr <= hi.
func Between(attr string, lo, hi any) Condition {
	return Condition{kind: condBetween, attr: attr, values: []any{lo, hi}}
}

// In matches when attr equals any of values.
func In(attr string, values ...any) Condition {
	return Condition{kind: condIn, attr: attr, values: values}
}

// AttributeExists matches items that carry attr.
func AttributeExists(attr string) Condition {
	return Condition{kind: condExists, attr: attr}
}

// AttributeNotExists matches items without attr.
func AttributeNotExists(attr string) Condition {
	return Condition{kind: condNotExists, attr: attr}
}

// BeginsWith matches string attributes starting with prefix.
func BeginsWith(attr string, prefix any) Condition {
	return Condition{kind: condBeginsWith, attr: attr, values: []any{prefix}}
}

// Contains matches a substring of a string, a member of a set or an element of
// a list.
func Contains(attr string, v any) Condition {
	return Condition{kind: condContains, attr: attr, values: []any{v}}
}

// Size compares the size of attr against n.
func Size(attr string, op Operator, n int) Condition {
	return Condition{kind: condSize, attr: attr, op: op, values: []any{n}}
}

// And joins conditions; unset conditions are skipped.
func And(conds ...Condition) Condition {
	return join(condAnd, conds)
}

// Or joins conditions; unset conditions are skipped.
func Or(conds ...Condition) Condition {
	return join(condOr, conds)
}

// Not negates c.
func Not(c Condition) Condition {
	if !c.IsSet() {
		return c
	}
	return Condition{kind: condNot, children: []Condition{c}}
}

func join(kind conditionKind, conds []Condition) Condition {
	var children []Condition
	for _, c := range conds {
		if c.IsSet() {
			children = append(children, c)
		}
	}
	switch len(children) {
	case 0:
		return Condition{}
	case 1:
		return children[0]
	}
	return Condition{kind: kind, children: children}
}

// And joins c with other.
func (c Condition) And(other ...Condition) Condition {
	return And(append([]Condition{c}, other...)...)
}

// Or matches c or any of other.
func (c Condition) Or(other ...Condition) Condition {
	return Or(append([]Condition{c}, other...)...)
}

// Not negates c.
func (c Condition) Not() Condition { return Not(c) }

func (c Condition) compound() bool {
	return c.kind == condAnd || c.kind == condOr
}
