package dynamodel

import (
	"slices"
	"time"
)

type updateKind int

const (
	updateSet updateKind = iota + 1
	updateRemove
	updateAdd
	updateDelete
)

type setMode int

const (
	setValue setMode = iota
	setIncrement
	setDecrement
	setAppend
	setPrepend
	setIfNotExists
)

// resolveExpiry returns actions with durations assigned to TTL attributes
// replaced by now plus the duration. actions is not modified.
func resolveExpiry(s *Schema, actions []UpdateAction, now time.Time) []UpdateAction {
	var out []UpdateAction
	for i, a := range actions {
		d, ok := a.value.(time.Duration)
		if !ok || a.kind != updateSet {
			continue
		}
		if attr, ok := s.Attribute(a.attr); !ok || attr.Type != TTLType {
			continue
		}
		if out == nil {
			out = slices.Clone(actions)
		}
		out[i].value = now.Add(d)
	}
	if out == nil {
		return actions
	}
	return out
}

// UpdateAction is one clause of an update expression.
type UpdateAction struct {
	kind    updateKind
	mode    setMode
	attr    string
	value   any
	indexes []int
}

// Attribute returns the attribute path the action targets.
func (a UpdateAction) Attribute() string { return a.attr }

// Set assigns v to attr. Setting nil on a nullable attribute removes it.
func Set(attr string, v any) UpdateAction {
	return UpdateAction{kind: updateSet, mode: setValue, attr: attr, value: v}
}

// SetIfNotExists assigns v only when attr is absent.
func SetIfNotExists(attr string, v any) UpdateAction {
	return UpdateAction{kind: updateSet, mode: setIfNotExists, attr: attr, value: v}
}

// Increment adds n to a Number attribute.
func Increment(attr string, n any) UpdateAction {
	return UpdateAction{kind: updateSet, mode: setIncrement, attr: attr, value: n}
}

// Decrement subtracts n from a Number attribute.
func Decrement(attr string, n any) UpdateAction {
	return UpdateAction{kind: updateSet, mode: setDecrement, attr: attr, value: n}
}

// Append adds the elements of list to the end of a List attribute.
func Append(attr string, list any) UpdateAction {
	return UpdateAction{kind: updateSet, mode: setAppend, attr: attr, value: list}
}

// Prepend adds the elements of list to the front of a List attribute.
func Prepend(attr string, list any) UpdateAction {
	return UpdateAction{kind: updateSet, mode: setPrepend, attr: attr, value: list}
}

// Remove deletes attr from the item.
func Remove(attr string) UpdateAction {
	return UpdateAction{kind: updateRemove, attr: attr}
}

// RemoveListElements deletes the elements at the given positions of a List attribute.
func RemoveListElements(attr string, indexes ...int) UpdateAction {
	return UpdateAction{kind: updateRemove, attr: attr, indexes: indexes}
}

// Add increments a Number attribute or adds members to a set attribute.
func Add(attr string, v any) UpdateAction {
	return UpdateAction{kind: updateAdd, attr: attr, value: v}
}

// Delete removes members from a set attribute.
func Delete(attr string, v any) UpdateAction {
	return UpdateAction{kind: updateDelete, attr: attr, value: v}
}
