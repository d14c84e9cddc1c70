// Package eav defines the core value, attribute and entity types shared by
// every other circledb package: the tagged Value union, the Attribute
// record with its provenance timestamps, and the Entity type.
package eav

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the concrete representation held by a Value.
type Kind int

const (
	// KindText holds a string. Entity identifiers and attribute names are
	// represented as KindText values wherever they need to flow through the
	// same machinery as ordinary attribute values (index keys, query terms).
	KindText Kind = iota
	KindInt
	KindReal
	KindBool
	// KindRef holds an entity identifier that participates in reference
	// (graph) traversal. Distinct from KindText so the index engine and the
	// graph walker can recognize reference-typed attributes.
	KindRef
	// KindSet holds an unordered collection of Values, used for
	// multi-cardinality attributes.
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindBool:
		return "bool"
	case KindRef:
		return "ref"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the scalar types circledb stores, plus a
// reference type and a set-of-value type for multi-cardinality attributes.
type Value struct {
	Kind Kind
	Text string
	Int  int64
	Real float64
	Bool bool
	// Ref holds the referenced entity identifier when Kind == KindRef.
	Ref string
	// Set holds the member values when Kind == KindSet. Sets are always
	// flat: a Value inside a Set is never itself KindSet.
	Set []Value
}

// Text constructs a text value.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Int constructs an integer value.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Real constructs a floating point value.
func Real(f float64) Value { return Value{Kind: KindReal, Real: f} }

// Bool constructs a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Ref constructs a reference value pointing at the given entity identifier.
func Ref(id string) Value { return Value{Kind: KindRef, Ref: id} }

// SetOf constructs a multi-cardinality set value. Duplicate members
// (by Equal) are collapsed.
func SetOf(vs ...Value) Value {
	out := make([]Value, 0, len(vs))
	for _, v := range vs {
		found := false
		for _, existing := range out {
			if existing.Equal(v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return Value{Kind: KindSet, Set: out}
}

// Equal reports whether two values are identical, set membership being
// order-independent.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == o.Text
	case KindInt:
		return v.Int == o.Int
	case KindReal:
		return v.Real == o.Real
	case KindBool:
		return v.Bool == o.Bool
	case KindRef:
		return v.Ref == o.Ref
	case KindSet:
		if len(v.Set) != len(o.Set) {
			return false
		}
		for _, a := range v.Set {
			hit := false
			for _, b := range o.Set {
				if a.Equal(b) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// sortKey renders a Value into a total order over all Kinds, used as the
// comparison backing every btree.Item in the index and storage engines.
// Kind is compared first so values of different kinds never interleave.
func (v Value) sortKey() string {
	switch v.Kind {
	case KindText:
		return fmt.Sprintf("%d:%s", v.Kind, v.Text)
	case KindInt:
		return fmt.Sprintf("%d:%020d", v.Kind, v.Int)
	case KindReal:
		return fmt.Sprintf("%d:%s", v.Kind, strconv.FormatFloat(v.Real, 'g', -1, 64))
	case KindBool:
		return fmt.Sprintf("%d:%t", v.Kind, v.Bool)
	case KindRef:
		return fmt.Sprintf("%d:%s", v.Kind, v.Ref)
	case KindSet:
		parts := make([]string, len(v.Set))
		for i, m := range v.Set {
			parts[i] = m.sortKey()
		}
		sort.Strings(parts)
		return fmt.Sprintf("%d:%s", v.Kind, strings.Join(parts, "\x00"))
	default:
		return ""
	}
}

// Less defines a total order over Values, used to order btree.Item keys.
func (v Value) Less(o Value) bool {
	return v.sortKey() < o.sortKey()
}

// Key returns a string uniquely identifying the value's content, suitable
// as a Go map key wherever Values need to be grouped or deduplicated (the
// query executor's join-by-frequency stage).
func (v Value) Key() string {
	return v.sortKey()
}

// String renders a human-readable form, used by debug helpers and test
// failure messages.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return strconv.Quote(v.Text)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindReal:
		return strconv.FormatFloat(v.Real, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindRef:
		return "#" + v.Ref
	case KindSet:
		parts := make([]string, len(v.Set))
		for i, m := range v.Set {
			parts[i] = m.String()
		}
		return "#{" + strings.Join(parts, " ") + "}"
	default:
		return "<invalid value>"
	}
}

// Members returns the set's elements, or a single-element slice for any
// non-set value. Used wherever multi- and single-cardinality values need
// uniform expansion (index maintenance, query leaf iteration).
func (v Value) Members() []Value {
	if v.Kind == KindSet {
		return v.Set
	}
	return []Value{v}
}
