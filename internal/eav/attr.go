package eav

// ValueType is the declared type of an attribute, independent of the
// concrete Value.Kind of any particular version's payload (a KindSet value
// on a multi-cardinality `string` attribute still declares ValueTypeString).
type ValueType int

const (
	ValueTypeString ValueType = iota
	ValueTypeNumber
	ValueTypeBoolean
	ValueTypeRef
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeString:
		return "string"
	case ValueTypeNumber:
		return "number"
	case ValueTypeBoolean:
		return "boolean"
	case ValueTypeRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Cardinality controls whether an attribute holds one value or a set.
type Cardinality int

const (
	CardinalitySingle Cardinality = iota
	CardinalityMultiple
)

// NoTimestamp marks the absence of a predecessor version.
const NoTimestamp = -1

// Attribute is a single version of a named, typed, optionally indexed
// property of an entity.
type Attribute struct {
	Name        string
	Value       Value
	Type        ValueType
	Cardinality Cardinality
	Indexed     bool
	// PrevTS is the snapshot index at which the previous version of this
	// attribute existed, or NoTimestamp if this is the first version.
	PrevTS int
	// CurrTS is the snapshot index at which this version took effect.
	CurrTS int
}

// AttrOption configures an Attribute built by MakeAttr.
type AttrOption func(*Attribute)

// Indexed marks the attribute as participating in the EAVT/AVET/VEAT
// indices. Defaults to false.
func Indexed(indexed bool) AttrOption {
	return func(a *Attribute) { a.Indexed = indexed }
}

// WithCardinality sets the attribute's cardinality. Defaults to single.
func WithCardinality(c Cardinality) AttrOption {
	return func(a *Attribute) { a.Cardinality = c }
}

// MakeAttr constructs an Attribute with PrevTS/CurrTS left unset; the
// transactor stamps them in when the attribute is committed to a snapshot.
func MakeAttr(name string, value Value, typ ValueType, opts ...AttrOption) Attribute {
	a := Attribute{
		Name:        name,
		Value:       value,
		Type:        typ,
		Cardinality: CardinalitySingle,
		PrevTS:      NoTimestamp,
		CurrTS:      NoTimestamp,
	}
	for _, o := range opts {
		o(&a)
	}
	if a.Cardinality == CardinalityMultiple && a.Value.Kind != KindSet {
		a.Value = SetOf(a.Value)
	}
	return a
}

// Clone returns a deep copy of the attribute. Values are themselves
// immutable (no method mutates one in place), but Clone exists for callers
// that want an independent copy to mutate through a fresh MakeAttr-style
// builder.
func (a Attribute) Clone() Attribute {
	clone := a
	if a.Value.Kind == KindSet {
		clone.Value.Set = append([]Value(nil), a.Value.Set...)
	}
	return clone
}
